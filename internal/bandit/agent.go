// Package bandit implements the contextual UCB1 agent that picks a paper
// source for each research topic.
package bandit

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/policy"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/types"
)

// ErrNonFiniteReward is returned by Update for NaN or infinite rewards.
var ErrNonFiniteReward = errors.New("bandit: reward is not finite")

// Config holds the exploration constant
type Config struct {
	C float64 `json:"c"`
}

// DefaultConfig returns c = 2.0
func DefaultConfig() Config {
	return Config{C: 2.0}
}

// Arm is the running estimate for one (context, source) pair
type Arm struct {
	Pulls int     `json:"pulls"`
	Mean  float64 `json:"mean"`
}

// Selection is the result of SelectArm. Scores holds the UCB score of every
// source, indexed by source.
type Selection struct {
	Source    types.Source
	Mean      float64
	Pulls     int
	ColdStart bool
	Scores    [types.NumSources]float64
}

// Agent keeps one independent set of arms per topic.
type Agent struct {
	cfg      Config
	contexts map[types.Topic]*[types.NumSources]Arm
	logger   *slog.Logger
	mu       sync.Mutex
}

// New creates a bandit agent
func New(cfg Config, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		cfg:      cfg,
		contexts: make(map[types.Topic]*[types.NumSources]Arm),
		logger:   logger.With("component", "bandit"),
	}
}

// Config returns the agent's configuration
func (a *Agent) Config() Config { return a.cfg }

// SelectArm returns the source with the highest UCB score for topic. Untried
// arms score +Inf, so the first untried source in enumeration order wins until
// every arm has been pulled once.
func (a *Agent) SelectArm(topic types.Topic) Selection {
	a.mu.Lock()
	defer a.mu.Unlock()

	arms := a.arms(topic)
	scores := a.scores(arms)
	idx := policy.Argmax(scores[:])

	sel := Selection{
		Source:    types.Source(idx),
		Mean:      arms[idx].Mean,
		Pulls:     arms[idx].Pulls,
		ColdStart: arms[idx].Pulls == 0,
		Scores:    scores,
	}

	a.logger.Debug("source selected",
		"topic", topic.String(),
		"source", sel.Source.String(),
		"cold_start", sel.ColdStart,
		"scores", fmt.Sprint(scores),
	)
	return sel
}

// Update folds reward into the running mean of (topic, source).
func (a *Agent) Update(topic types.Topic, source types.Source, reward float64) error {
	if !policy.Finite(reward) {
		return fmt.Errorf("update %s/%s: %w", topic, source, ErrNonFiniteReward)
	}
	if !source.Valid() {
		return fmt.Errorf("update %s: invalid source %d", topic, uint8(source))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	arms := a.arms(topic)
	arm := &arms[source]
	arm.Mean += (reward - arm.Mean) / float64(arm.Pulls+1)
	arm.Pulls++

	a.logger.Debug("arm updated",
		"topic", topic.String(),
		"source", source.String(),
		"reward", reward,
		"mean", arm.Mean,
		"pulls", arm.Pulls,
	)
	return nil
}

// Mean returns the empirical mean reward of (topic, source)
func (a *Agent) Mean(topic types.Topic, source types.Source) float64 {
	return a.arm(topic, source).Mean
}

// Pulls returns how many times (topic, source) was updated
func (a *Agent) Pulls(topic types.Topic, source types.Source) int {
	return a.arm(topic, source).Pulls
}

// Observations returns the total pulls N within topic
func (a *Agent) Observations(topic types.Topic) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	arms, ok := a.contexts[topic]
	if !ok {
		return 0
	}
	return totalPulls(arms)
}

// Scores returns the current UCB score of every source for topic
func (a *Agent) Scores(topic types.Topic) [types.NumSources]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	arms, ok := a.contexts[topic]
	if !ok {
		arms = &[types.NumSources]Arm{}
	}
	return a.scores(arms)
}

// Seed overwrites one arm. Used for warm starts.
func (a *Agent) Seed(topic types.Topic, source types.Source, pulls int, mean float64) error {
	if !source.Valid() || !topic.Valid() {
		return fmt.Errorf("seed: invalid arm %s/%s", topic, source)
	}
	if pulls < 0 || !policy.Finite(mean) {
		return fmt.Errorf("seed %s/%s: bad pulls %d or mean %v", topic, source, pulls, mean)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.arms(topic)[source] = Arm{Pulls: pulls, Mean: mean}
	return nil
}

func (a *Agent) arm(topic types.Topic, source types.Source) Arm {
	a.mu.Lock()
	defer a.mu.Unlock()
	arms, ok := a.contexts[topic]
	if !ok || !source.Valid() {
		return Arm{}
	}
	return arms[source]
}

func (a *Agent) arms(topic types.Topic) *[types.NumSources]Arm {
	arms, ok := a.contexts[topic]
	if !ok {
		arms = &[types.NumSources]Arm{}
		a.contexts[topic] = arms
	}
	return arms
}

func (a *Agent) scores(arms *[types.NumSources]Arm) [types.NumSources]float64 {
	total := totalPulls(arms)
	var out [types.NumSources]float64
	for i, arm := range arms {
		out[i] = policy.UCB(arm.Mean, arm.Pulls, total, a.cfg.C)
	}
	return out
}

func totalPulls(arms *[types.NumSources]Arm) int {
	n := 0
	for _, arm := range arms {
		n += arm.Pulls
	}
	return n
}

// ArmEntry is one arm of a snapshot
type ArmEntry struct {
	Topic  types.Topic  `json:"topic"`
	Source types.Source `json:"source"`
	Arm
}

// Snapshot is a deep copy of every context's arms
type Snapshot struct {
	Arms []ArmEntry `json:"arms"`
}

// Snapshot copies all materialized arms, sorted by topic then source.
func (a *Agent) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]ArmEntry, 0, len(a.contexts)*types.NumSources)
	for topic, arms := range a.contexts {
		for i, arm := range arms {
			out = append(out, ArmEntry{Topic: topic, Source: types.Source(i), Arm: arm})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Topic != out[j].Topic {
			return out[i].Topic < out[j].Topic
		}
		return out[i].Source < out[j].Source
	})
	return Snapshot{Arms: out}
}

// Restore replaces all arms with the snapshot contents. The agent is left
// unchanged if any entry is invalid.
func (a *Agent) Restore(snap Snapshot) error {
	contexts := make(map[types.Topic]*[types.NumSources]Arm)
	for _, e := range snap.Arms {
		if !e.Topic.Valid() || !e.Source.Valid() {
			return fmt.Errorf("restore: invalid arm %d/%d", uint8(e.Topic), uint8(e.Source))
		}
		if e.Pulls < 0 || !policy.Finite(e.Mean) {
			return fmt.Errorf("restore %s/%s: bad pulls %d or mean %v", e.Topic, e.Source, e.Pulls, e.Mean)
		}
		arms, ok := contexts[e.Topic]
		if !ok {
			arms = &[types.NumSources]Arm{}
			contexts[e.Topic] = arms
		}
		arms[e.Source] = e.Arm
	}

	a.mu.Lock()
	a.contexts = contexts
	a.mu.Unlock()
	return nil
}
