// Package coordinator runs training episodes: it allocates each task to the
// Q-learning agent, the bandit or both, resolves their proposals into one
// action, executes it through the fallback chain, feeds the reward back and
// logs an episode record.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/bandit"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/config"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/env"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/fallback"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/policy"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/qlearn"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/types"
)

// Sink receives every episode record after it is logged.
type Sink interface {
	Write(ctx context.Context, rec types.EpisodeRecord) error
}

// Observer is notified of every logged episode. Used for metrics.
type Observer interface {
	ObserveEpisode(rec types.EpisodeRecord)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSink adds an episode sink. Sink errors are logged and never fail an
// episode.
func WithSink(s Sink) Option {
	return func(c *Coordinator) { c.sinks = append(c.sinks, s) }
}

// WithObserver adds an episode observer
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observers = append(c.observers, o) }
}

// Coordinator owns both agents and the episode log. Episodes are serialized by
// a single mutex, so concurrent callers cannot interleave table updates.
type Coordinator struct {
	cfg       config.Config
	env       env.Environment
	q         *qlearn.Agent
	bandit    *bandit.Agent
	alloc     *Allocator
	fallback  fallback.Policy
	fillRng   *rand.Rand
	streams   []*rand.PCG
	sinks     []Sink
	observers []Observer
	logger    *slog.Logger

	mu          sync.Mutex
	episodes    []types.EpisodeRecord
	allocations map[types.ChosenBy]int
}

// New validates cfg and builds a coordinator around environment.
func New(cfg *config.Config, environment env.Environment, opts ...Option) (*Coordinator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", config.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if environment == nil {
		return nil, errors.New("coordinator: nil environment")
	}

	c := &Coordinator{
		cfg:         cloneConfig(cfg),
		env:         environment,
		logger:      slog.Default(),
		allocations: make(map[types.ChosenBy]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	base := c.logger
	c.logger = base.With("component", "coordinator")

	seed := cfg.Run.Seed
	explore := policy.NewPCG(seed, policy.StreamExplore)
	allocate := policy.NewPCG(seed, policy.StreamAllocate)
	fill := policy.NewPCG(seed, policy.StreamFill)
	c.streams = []*rand.PCG{explore, allocate, fill}

	c.q = qlearn.New(cfg.QLearning, rand.New(explore), base)
	c.bandit = bandit.New(cfg.Bandit, base)
	c.alloc = NewAllocator(c.cfg.Allocation, rand.New(allocate))
	c.fillRng = rand.New(fill)
	c.fallback = fallback.Policy{
		Retries:          cfg.Fallback.Retries,
		FallbackAttempts: cfg.Fallback.FallbackAttempts,
		Timeout:          cfg.Fallback.Timeout(),
		Safe:             cfg.Fallback.SafeAction(),
		Logger:           c.logger,
	}
	return c, nil
}

func cloneConfig(cfg *config.Config) config.Config {
	out := *cfg
	out.Allocation.Table = make(map[types.Difficulty]config.Weights, len(cfg.Allocation.Table))
	for d, w := range cfg.Allocation.Table {
		out.Allocation.Table[d] = w
	}
	if cfg.Sinks.MQTT != nil {
		m := *cfg.Sinks.MQTT
		out.Sinks.MQTT = &m
	}
	return out
}

// RunEpisode executes one task end to end and returns its record. Collaborator
// failures never surface here; the only errors are an invalid task and
// cancellation, and in both cases nothing is applied or logged. A cancelled
// episode also rewinds the exploration, allocation and fill streams.
func (c *Coordinator) RunEpisode(ctx context.Context, task types.Task) (types.EpisodeRecord, error) {
	if !task.Topic.Valid() || !task.Difficulty.Valid() {
		return types.EpisodeRecord{}, fmt.Errorf("invalid task %+v", task)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return types.EpisodeRecord{}, fmt.Errorf("%w: %v", fallback.ErrCancelled, err)
	}

	marks, err := policy.Mark(c.streams...)
	if err != nil {
		return types.EpisodeRecord{}, fmt.Errorf("mark random streams: %w", err)
	}

	ep := len(c.episodes)
	state := task.State()
	chosen := c.alloc.Allocate(ep, task.Difficulty)
	fill := c.fill()

	action, resolution := c.propose(state, chosen, fill)

	environment := c.env
	res, err := c.fallback.Execute(ctx, action, func(ctx context.Context, attempt int, a types.Action) (env.Outcome, error) {
		return environment.Evaluate(ctx, env.Request{Episode: ep, Attempt: attempt, Task: task, Action: a})
	})
	if err != nil {
		if rerr := policy.Rewind(marks, c.streams...); rerr != nil {
			c.logger.Error("rewind random streams", "episode", ep, "error", rerr)
		}
		c.logger.Info("episode discarded", "episode", ep, "error", err)
		return types.EpisodeRecord{}, err
	}

	if res.Tier != types.TierFailSafe {
		if err := c.learn(state, chosen, res.Action, res.Outcome.Reward); err != nil {
			return types.EpisodeRecord{}, err
		}
	}

	rec := types.EpisodeRecord{
		Episode:    ep,
		State:      state,
		Action:     res.Action,
		Proposed:   action,
		ChosenBy:   chosen,
		Resolution: resolution,
		Relevance:  res.Outcome.Relevance,
		Reward:     res.Outcome.Reward,
		Status:     res.Outcome.Status,
		Tier:       res.Tier,
		Attempts:   res.Attempts,
	}
	c.episodes = append(c.episodes, rec)
	c.allocations[chosen]++

	c.logger.Debug("episode complete",
		"episode", ep,
		"state", state.String(),
		"chosen_by", string(chosen),
		"action", rec.Action.String(),
		"tier", string(rec.Tier),
		"reward", rec.Reward,
	)

	for _, o := range c.observers {
		o.ObserveEpisode(rec)
	}
	for _, s := range c.sinks {
		if err := s.Write(ctx, rec); err != nil {
			c.logger.Warn("sink write failed", "episode", ep, "error", err)
		}
	}
	return rec, nil
}

// propose asks the authoritative agents for their components and resolves
// them into one action.
func (c *Coordinator) propose(state types.State, chosen types.ChosenBy, fill types.Action) (types.Action, types.Resolution) {
	switch chosen {
	case types.ChosenByQAgent:
		sel := c.q.SelectAction(state)
		return types.Action{Strategy: sel.Strategy, Source: fill.Source}, types.ResolutionSingle
	case types.ChosenByBandit:
		sel := c.bandit.SelectArm(state.Topic)
		return types.Action{Strategy: fill.Strategy, Source: sel.Source}, types.ResolutionSingle
	}

	qs := c.q.SelectAction(state)
	bs := c.bandit.SelectArm(state.Topic)
	vote := Resolve(Proposal{
		Strategy:  qs.Strategy,
		QValue:    qs.Value,
		QObs:      c.q.Observations(state),
		Source:    bs.Source,
		Mean:      bs.Mean,
		Pulls:     bs.Pulls,
		BanditObs: c.bandit.Observations(state.Topic),
	}, c.cfg.Voting, fill)

	c.logger.Debug("vote resolved",
		"state", state.String(),
		"q_proposal", qs.Strategy.String(),
		"bandit_proposal", bs.Source.String(),
		"resolution", string(vote.Resolution),
		"weight_q", vote.WeightQ,
		"action", vote.Action.String(),
	)
	return vote.Action, vote.Resolution
}

// learn feeds the shared reward to the agents. With shared reward on, both
// agents learn from every successful episode using their own dimension of the
// executed action; otherwise only the authoritative agents learn.
func (c *Coordinator) learn(state types.State, chosen types.ChosenBy, executed types.Action, reward float64) error {
	shared := c.cfg.Run.SharedReward
	if shared || usesQ(chosen) {
		if err := c.q.Update(state, executed.Strategy, reward, state); err != nil {
			return fmt.Errorf("q update: %w", err)
		}
	}
	if shared || usesBandit(chosen) {
		if err := c.bandit.Update(state.Topic, executed.Source, reward); err != nil {
			return fmt.Errorf("bandit update: %w", err)
		}
	}
	return nil
}

// fill returns the components used for the dimension a single agent does not
// own. The random mode draws exactly two values per episode.
func (c *Coordinator) fill() types.Action {
	if c.cfg.Fill.Mode != config.FillRandom {
		return types.Action{Strategy: c.cfg.Fill.Strategy, Source: c.cfg.Fill.Source}
	}
	return types.Action{
		Strategy: types.Strategy(c.fillRng.IntN(types.NumStrategies)),
		Source:   types.Source(c.fillRng.IntN(types.NumSources)),
	}
}

// Report summarizes a Run.
type Report struct {
	Episodes      int                    `json:"episodes"`
	Failed        int                    `json:"failed"`
	MeanReward    float64                `json:"meanReward"`
	MeanRelevance float64                `json:"meanRelevance"`
	Allocations   map[types.ChosenBy]int `json:"allocations"`
	Tiers         map[types.Tier]int     `json:"tiers"`
	Duration      time.Duration          `json:"duration"`
}

// Run executes tasks in order. Cancellation is checked before every episode;
// the report covers the episodes that completed.
func (c *Coordinator) Run(ctx context.Context, tasks []types.Task) (Report, error) {
	start := time.Now()
	c.logger.Info("run started", "episodes", len(tasks), "seed", c.cfg.Run.Seed)

	var recs []types.EpisodeRecord
	var runErr error
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("%w: %v", fallback.ErrCancelled, err)
			break
		}
		rec, err := c.RunEpisode(ctx, task)
		if err != nil {
			runErr = err
			break
		}
		recs = append(recs, rec)
	}

	report := Summarize(recs)
	report.Duration = time.Since(start)
	if runErr != nil {
		c.logger.Warn("run stopped early", "completed", report.Episodes, "error", runErr)
		return report, runErr
	}
	c.logger.Info("run finished",
		"episodes", report.Episodes,
		"failed", report.Failed,
		"mean_reward", report.MeanReward,
		"duration", report.Duration,
	)
	return report, nil
}

// Summarize aggregates episode records.
func Summarize(recs []types.EpisodeRecord) Report {
	r := Report{
		Allocations: make(map[types.ChosenBy]int),
		Tiers:       make(map[types.Tier]int),
	}
	var reward, relevance float64
	for _, rec := range recs {
		r.Episodes++
		if rec.Failed() {
			r.Failed++
		}
		r.Allocations[rec.ChosenBy]++
		r.Tiers[rec.Tier]++
		reward += rec.Reward
		relevance += rec.Relevance
	}
	if r.Episodes > 0 {
		r.MeanReward = reward / float64(r.Episodes)
		r.MeanRelevance = relevance / float64(r.Episodes)
	}
	return r
}

// Episodes returns a copy of the episode log
func (c *Coordinator) Episodes() []types.EpisodeRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.EpisodeRecord(nil), c.episodes...)
}

// QTable returns a snapshot of the Q-learning tables
func (c *Coordinator) QTable() qlearn.Snapshot {
	return c.q.Snapshot()
}

// BanditStats returns a snapshot of the bandit arms
func (c *Coordinator) BanditStats() bandit.Snapshot {
	return c.bandit.Snapshot()
}

// Allocations returns how many episodes went to each allocation
func (c *Coordinator) Allocations() map[types.ChosenBy]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[types.ChosenBy]int, len(c.allocations))
	for k, v := range c.allocations {
		out[k] = v
	}
	return out
}

// SeedQ sets one Q-value before training. Used for warm starts.
func (c *Coordinator) SeedQ(state types.State, s types.Strategy, value float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.q.Seed(state, s, value)
}

// SeedArm sets one bandit arm before training. Used for warm starts.
func (c *Coordinator) SeedArm(topic types.Topic, src types.Source, pulls int, mean float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bandit.Seed(topic, src, pulls, mean)
}
