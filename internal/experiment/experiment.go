// Package experiment runs independent training trials in parallel and
// summarizes them across seeds.
package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/config"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/coordinator"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/env"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/tasks"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/types"
)

// EnvFactory builds the environment for one trial.
type EnvFactory func(seed uint64) (env.Environment, error)

// Option configures a trial run.
type Option func(*runner)

type runner struct {
	parallel  int
	window    int
	tasks     []types.Task
	logger    *slog.Logger
	observers []coordinator.Observer
}

// WithParallel caps the number of trials running at once
func WithParallel(n int) Option {
	return func(r *runner) {
		if n > 0 {
			r.parallel = n
		}
	}
}

// WithTasks runs every trial on the same task list instead of a per-seed
// generated one.
func WithTasks(t []types.Task) Option {
	return func(r *runner) { r.tasks = t }
}

// WithWindow sets the learning-curve block size
func WithWindow(n int) Option {
	return func(r *runner) {
		if n > 0 {
			r.window = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver attaches o to every trial's coordinator. o must be safe for
// concurrent use.
func WithObserver(o coordinator.Observer) Option {
	return func(r *runner) { r.observers = append(r.observers, o) }
}

// Stat summarizes one quantity across trials.
type Stat struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

func summarize(x []float64) Stat {
	if len(x) == 0 {
		return Stat{}
	}
	s := Stat{Min: floats.Min(x), Max: floats.Max(x)}
	if len(x) == 1 {
		s.Mean = x[0]
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(x, nil)
	return s
}

// Trial is the outcome of one seed.
type Trial struct {
	Index  int                `json:"index"`
	Seed   uint64             `json:"seed"`
	Report coordinator.Report `json:"report"`
	Curve  []float64          `json:"curve"`
}

// Summary aggregates every trial.
type Summary struct {
	Trials      []Trial                 `json:"trials"`
	Reward      Stat                    `json:"reward"`
	Relevance   Stat                    `json:"relevance"`
	FailureRate Stat                    `json:"failureRate"`
	Allocation  map[types.ChosenBy]Stat `json:"allocation"`
	Curve       []float64               `json:"curve"`
	Window      int                     `json:"window"`
}

// Run trains cfg.Run.Trials independent coordinators, trial i seeded with
// cfg.Run.Seed+i. Trials share nothing but the observers. The first trial
// error cancels the rest.
func Run(ctx context.Context, cfg *config.Config, newEnv EnvFactory, opts ...Option) (Summary, error) {
	r := &runner{
		parallel: runtime.GOMAXPROCS(0),
		window:   20,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	logger := r.logger.With("component", "experiment")

	n := cfg.Run.Trials
	if n <= 0 {
		n = 1
	}
	results := make([]Trial, n)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			t, err := r.trial(gCtx, cfg, newEnv, i)
			if err != nil {
				return fmt.Errorf("trial %d: %w", i, err)
			}
			results[i] = t
			logger.Info("trial finished",
				"trial", i,
				"seed", t.Seed,
				"mean_reward", t.Report.MeanReward,
				"failed", t.Report.Failed,
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	s := aggregate(results, r.window)
	logger.Info("trials complete", "trials", n, "mean_reward", s.Reward.Mean, "stddev", s.Reward.StdDev)
	return s, nil
}

func (r *runner) trial(ctx context.Context, base *config.Config, newEnv EnvFactory, i int) (Trial, error) {
	cfg := *base
	cfg.Run.Seed = base.Run.Seed + uint64(i)

	e, err := newEnv(cfg.Run.Seed)
	if err != nil {
		return Trial{}, fmt.Errorf("build environment: %w", err)
	}

	opts := []coordinator.Option{
		coordinator.WithLogger(r.logger.With("trial", i)),
	}
	for _, o := range r.observers {
		opts = append(opts, coordinator.WithObserver(o))
	}
	c, err := coordinator.New(&cfg, e, opts...)
	if err != nil {
		return Trial{}, err
	}

	list := r.tasks
	if len(list) == 0 {
		list = tasks.Generate(cfg.Run.Episodes, cfg.Run.Seed)
	}
	report, err := c.Run(ctx, list)
	if err != nil {
		return Trial{}, err
	}
	return Trial{
		Index:  i,
		Seed:   cfg.Run.Seed,
		Report: report,
		Curve:  Curve(c.Episodes(), r.window),
	}, nil
}

// Curve returns the mean reward of each consecutive block of window episodes.
// A trailing partial block is averaged over its own length.
func Curve(recs []types.EpisodeRecord, window int) []float64 {
	if window <= 0 || len(recs) == 0 {
		return nil
	}
	out := make([]float64, 0, (len(recs)+window-1)/window)
	for start := 0; start < len(recs); start += window {
		end := min(start+window, len(recs))
		block := make([]float64, 0, end-start)
		for _, rec := range recs[start:end] {
			block = append(block, rec.Reward)
		}
		out = append(out, stat.Mean(block, nil))
	}
	return out
}

func aggregate(trials []Trial, window int) Summary {
	s := Summary{Trials: trials, Window: window, Allocation: make(map[types.ChosenBy]Stat)}

	var reward, relevance, failure []float64
	shares := map[types.ChosenBy][]float64{}
	for _, t := range trials {
		rep := t.Report
		reward = append(reward, rep.MeanReward)
		relevance = append(relevance, rep.MeanRelevance)
		if rep.Episodes > 0 {
			failure = append(failure, float64(rep.Failed)/float64(rep.Episodes))
			for _, c := range []types.ChosenBy{types.ChosenByQAgent, types.ChosenByBandit, types.ChosenByBoth} {
				shares[c] = append(shares[c], float64(rep.Allocations[c])/float64(rep.Episodes))
			}
		}
	}
	s.Reward = summarize(reward)
	s.Relevance = summarize(relevance)
	s.FailureRate = summarize(failure)
	for c, x := range shares {
		s.Allocation[c] = summarize(x)
	}

	// Average over the shortest curve.
	points := -1
	for _, t := range trials {
		if points < 0 || len(t.Curve) < points {
			points = len(t.Curve)
		}
	}
	for p := 0; p < points; p++ {
		col := make([]float64, 0, len(trials))
		for _, t := range trials {
			col = append(col, t.Curve[p])
		}
		s.Curve = append(s.Curve, stat.Mean(col, nil))
	}
	return s
}
