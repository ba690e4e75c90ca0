// Package qlearn implements the tabular Q-learning agent that picks a query
// formulation strategy for each research state.
package qlearn

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/policy"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/types"
)

// ErrNonFiniteReward is returned by Update for NaN or infinite rewards.
var ErrNonFiniteReward = errors.New("qlearn: reward is not finite")

// Config holds the learning hyperparameters
type Config struct {
	Alpha      float64 `json:"alpha"`
	Gamma      float64 `json:"gamma"`
	Epsilon    float64 `json:"epsilon"`
	BonusScale float64 `json:"bonusScale"`
}

// DefaultConfig returns the standard hyperparameters
func DefaultConfig() Config {
	return Config{
		Alpha:      0.1,
		Gamma:      0.95,
		Epsilon:    0.2,
		BonusScale: 0.5,
	}
}

// row is the lazily created per-state slice of the Q-table and visit counts,
// indexed by strategy.
type row struct {
	q      [types.NumStrategies]float64
	visits [types.NumStrategies]int
}

// Selection is the result of SelectAction
type Selection struct {
	Strategy types.Strategy
	// Value is Q(state, strategy) without the curiosity bonus.
	Value    float64
	Score    float64
	Explored bool
}

// Agent owns the Q-table. All access goes through its methods.
type Agent struct {
	cfg    Config
	rows   map[types.State]*row
	rng    *rand.Rand
	logger *slog.Logger
	mu     sync.Mutex
}

// New creates an agent. rng is the exploration stream and is consumed once per
// SelectAction call.
func New(cfg Config, rng *rand.Rand, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	if rng == nil {
		rng = policy.NewRand(0, policy.StreamExplore)
	}
	return &Agent{
		cfg:    cfg,
		rows:   make(map[types.State]*row),
		rng:    rng,
		logger: logger.With("component", "qlearn"),
	}
}

// Config returns the agent's hyperparameters
func (a *Agent) Config() Config { return a.cfg }

// SelectAction picks a strategy for state by ε-greedy over Q plus the
// curiosity bonus. Visit counts are read before any increment for the
// current episode.
func (a *Agent) SelectAction(state types.State) Selection {
	a.mu.Lock()
	defer a.mu.Unlock()

	r := a.rows[state]
	scores := make([]float64, types.NumStrategies)
	for i := range scores {
		var q float64
		var n int
		if r != nil {
			q, n = r.q[i], r.visits[i]
		}
		scores[i] = q + policy.CuriosityBonus(a.cfg.BonusScale, n)
	}

	idx, explored := policy.EpsilonGreedy(a.rng, a.cfg.Epsilon, scores)
	sel := Selection{
		Strategy: types.Strategy(idx),
		Score:    scores[idx],
		Explored: explored,
	}
	if r != nil {
		sel.Value = r.q[idx]
	}

	a.logger.Debug("strategy selected",
		"state", state.String(),
		"strategy", sel.Strategy.String(),
		"score", sel.Score,
		"explored", explored,
	)
	return sel
}

// Update applies one temporal-difference step:
//
//	Q(s,a) <- Q(s,a) + alpha*(r + gamma*max_a' Q(s',a') - Q(s,a))
//
// and counts one visit of (s,a).
func (a *Agent) Update(state types.State, strategy types.Strategy, reward float64, next types.State) error {
	if !policy.Finite(reward) {
		return fmt.Errorf("update %s/%s: %w", state, strategy, ErrNonFiniteReward)
	}
	if !strategy.Valid() {
		return fmt.Errorf("update %s: invalid strategy %d", state, uint8(strategy))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var maxNext float64
	if nr := a.rows[next]; nr != nil {
		maxNext = nr.q[policy.Argmax(nr.q[:])]
	}

	r := a.row(state)
	old := r.q[strategy]
	r.q[strategy] = old + a.cfg.Alpha*(reward+a.cfg.Gamma*maxNext-old)
	r.visits[strategy]++

	a.logger.Debug("q updated",
		"state", state.String(),
		"strategy", strategy.String(),
		"reward", reward,
		"old", old,
		"new", r.q[strategy],
	)
	return nil
}

// Value returns Q(state, strategy), 0 when unvisited
func (a *Agent) Value(state types.State, strategy types.Strategy) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r := a.rows[state]; r != nil && strategy.Valid() {
		return r.q[strategy]
	}
	return 0
}

// Visits returns how often strategy was updated in state
func (a *Agent) Visits(state types.State, strategy types.Strategy) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r := a.rows[state]; r != nil && strategy.Valid() {
		return r.visits[strategy]
	}
	return 0
}

// Observations returns the total number of updates recorded for state.
func (a *Agent) Observations(state types.State) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.rows[state]
	if r == nil {
		return 0
	}
	total := 0
	for _, n := range r.visits {
		total += n
	}
	return total
}

// Seed sets Q(state, strategy) directly, leaving visit counts alone. Used for
// warm starts.
func (a *Agent) Seed(state types.State, strategy types.Strategy, value float64) error {
	if !strategy.Valid() {
		return fmt.Errorf("seed %s: invalid strategy %d", state, uint8(strategy))
	}
	if !policy.Finite(value) {
		return fmt.Errorf("seed %s/%s: %w", state, strategy, ErrNonFiniteReward)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.row(state).q[strategy] = value
	return nil
}

func (a *Agent) row(state types.State) *row {
	r, ok := a.rows[state]
	if !ok {
		r = &row{}
		a.rows[state] = r
	}
	return r
}

// Entry is one (state, strategy) cell of a snapshot
type Entry struct {
	State    types.State    `json:"state"`
	Strategy types.Strategy `json:"strategy"`
	Value    float64        `json:"value"`
	Visits   int            `json:"visits"`
}

// Snapshot is a deep copy of the Q-table and visit counts
type Snapshot struct {
	Entries []Entry `json:"entries"`
}

// Snapshot copies every materialized cell, sorted by topic, difficulty and
// strategy.
func (a *Agent) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries := make([]Entry, 0, len(a.rows)*types.NumStrategies)
	for s, r := range a.rows {
		for i := 0; i < types.NumStrategies; i++ {
			entries = append(entries, Entry{
				State:    s,
				Strategy: types.Strategy(i),
				Value:    r.q[i],
				Visits:   r.visits[i],
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		x, y := entries[i], entries[j]
		if x.State.Topic != y.State.Topic {
			return x.State.Topic < y.State.Topic
		}
		if x.State.Difficulty != y.State.Difficulty {
			return x.State.Difficulty < y.State.Difficulty
		}
		return x.Strategy < y.Strategy
	})
	return Snapshot{Entries: entries}
}

// Restore replaces the tables with the snapshot contents. The agent is left
// unchanged if any entry is invalid.
func (a *Agent) Restore(snap Snapshot) error {
	rows := make(map[types.State]*row)
	for _, e := range snap.Entries {
		if !e.State.Topic.Valid() || !e.State.Difficulty.Valid() || !e.Strategy.Valid() {
			return fmt.Errorf("restore: invalid entry %+v", e)
		}
		if !policy.Finite(e.Value) || e.Visits < 0 {
			return fmt.Errorf("restore %s/%s: bad value %v or visits %d", e.State, e.Strategy, e.Value, e.Visits)
		}
		r, ok := rows[e.State]
		if !ok {
			r = &row{}
			rows[e.State] = r
		}
		r.q[e.Strategy] = e.Value
		r.visits[e.Strategy] = e.Visits
	}

	a.mu.Lock()
	a.rows = rows
	a.mu.Unlock()
	return nil
}
