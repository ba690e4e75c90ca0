package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/config"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/coordinator"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/env"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/sink"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/tasks"
)

// SnapshotFile is the name of the learned-state file inside the data dir.
const SnapshotFile = "snapshot.json"

// EnvFactory builds the environment for one run. Environments that
// implement io.Closer are closed when the run ends.
type EnvFactory func(cfg *config.Config, seed uint64) (env.Environment, error)

// SessionOption configures a Session
type SessionOption func(*Session)

// WithWarmStart restores the snapshot in the data dir before every run.
func WithWarmStart(on bool) SessionOption {
	return func(s *Session) { s.warm = on }
}

// WithCoordinatorOptions passes extra options to every run's coordinator
func WithCoordinatorOptions(opts ...coordinator.Option) SessionOption {
	return func(s *Session) { s.coordOpts = append(s.coordOpts, opts...) }
}

// WithRunHook is called after every run with its coordinator and outcome
func WithRunHook(fn func(c *coordinator.Coordinator, report coordinator.Report, err error)) SessionOption {
	return func(s *Session) { s.hook = fn }
}

// Session is a Trainer that builds a fresh coordinator per run from the live
// config, optionally warm-started from the previous run's snapshot, and
// writes the snapshot back afterwards.
type Session struct {
	mu        sync.Mutex
	cfg       *config.Config
	newEnv    EnvFactory
	warm      bool
	coordOpts []coordinator.Option
	hook      func(*coordinator.Coordinator, coordinator.Report, error)
	logger    *slog.Logger
	runMu     sync.Mutex
}

// NewSession creates a session around a copy of cfg
func NewSession(cfg *config.Config, newEnv EnvFactory, logger *slog.Logger, opts ...SessionOption) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	c := *cfg
	s := &Session{
		cfg:    &c,
		newEnv: newEnv,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ApplyConfig hot-reloads next into the live config. Sections that own
// resources keep their old values until restart.
func (s *Session) ApplyConfig(next *config.Config) *config.ReloadResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.cfg.Apply(next)
	res.LogResult(s.logger)
	return res
}

// Config returns a copy of the live config
func (s *Session) Config() config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.cfg
}

// SnapshotPath is where learned state is kept between runs
func (s *Session) SnapshotPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filepath.Join(s.cfg.Run.DataDir, SnapshotFile)
}

// Train executes one run seeded with Run.Seed+run. Runs never overlap.
func (s *Session) Train(ctx context.Context, run int) (coordinator.Report, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	cfg := s.Config()
	cfg.Run.Seed += uint64(run)
	snapPath := filepath.Join(cfg.Run.DataDir, SnapshotFile)
	logger := s.logger.With("run", run, "seed", cfg.Run.Seed)

	list, err := tasks.Build(cfg.Run.TaskSuite, cfg.Run.Episodes, cfg.Run.Seed)
	if err != nil {
		return coordinator.Report{}, fmt.Errorf("build tasks: %w", err)
	}

	e, err := s.newEnv(&cfg, cfg.Run.Seed)
	if err != nil {
		return coordinator.Report{}, fmt.Errorf("build environment: %w", err)
	}
	if c, ok := e.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				logger.Warn("closing environment failed", "error", err)
			}
		}()
	}

	runID := sink.NewRunID()
	sinks, err := sink.Open(ctx, cfg.Sinks, sink.RunMeta{ID: runID, Seed: cfg.Run.Seed, Config: &cfg}, logger)
	if err != nil {
		return coordinator.Report{}, fmt.Errorf("open sinks: %w", err)
	}
	defer func() {
		if err := sink.CloseAll(sinks); err != nil {
			logger.Warn("closing sinks failed", "error", err)
		}
	}()

	opts := append([]coordinator.Option{coordinator.WithLogger(logger.With("run_id", runID))}, s.coordOpts...)
	for _, sk := range sinks {
		opts = append(opts, coordinator.WithSink(sk))
	}
	c, err := coordinator.New(&cfg, e, opts...)
	if err != nil {
		return coordinator.Report{}, err
	}

	if s.warm {
		snap, err := coordinator.LoadSnapshot(snapPath)
		switch {
		case err == nil:
			if err := c.Restore(snap); err != nil {
				return coordinator.Report{}, fmt.Errorf("warm start: %w", err)
			}
		case errors.Is(err, fs.ErrNotExist):
			logger.Info("no snapshot yet, starting cold", "path", snapPath)
		default:
			return coordinator.Report{}, fmt.Errorf("warm start: %w", err)
		}
	}

	report, runErr := c.Run(ctx, list)
	if err := coordinator.SaveSnapshot(snapPath, c.Export()); err != nil {
		logger.Warn("saving snapshot failed", "path", snapPath, "error", err)
	}
	if s.hook != nil {
		s.hook(c, report, runErr)
	}
	return report, runErr
}
