// Package cli implements the researchmind command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/config"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/env"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/telemetry"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "researchmind.json"

// options are shared by every subcommand
type options struct {
	configPath string
	logLevel   string
}

// NewRootCmd builds the researchmind command tree.
func NewRootCmd(version string) *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "researchmind",
		Short: "Multi-agent reinforcement learning for research query planning",
		Long: `ResearchMind trains a Q-learning strategy agent and a contextual bandit
source agent that cooperate to plan literature searches.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&o.configPath, "config", "c", DefaultConfigPath, "Path to config file (.json, .toml, .yaml)")
	root.PersistentFlags().StringVar(&o.logLevel, "log-level", "", "Override run.logLevel (debug, info, warn, error)")

	root.AddCommand(
		newTrainCmd(o),
		newTrialsCmd(o),
		newScheduleCmd(o),
		newInspectCmd(o),
		newInitCmd(o),
	)
	return root
}

// Execute runs the command tree against os.Args and returns the exit code.
func Execute(version string) int {
	root := NewRootCmd(version)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// load reads the config, falling back to defaults when the file does not
// exist, and builds the logger from its log level.
func (o *options) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config"):
		cfg = config.DefaultConfig()
	default:
		return nil, nil, err
	}

	level := cfg.Run.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	lvl, err := config.ParseLogLevel(level)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: lvl,
	}))
	return cfg, logger, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// newEnvironment builds the environment selected by cfg for one seed.
func newEnvironment(cfg *config.Config, seed uint64, logger *slog.Logger) (env.Environment, error) {
	e := cfg.Environment
	switch e.Kind {
	case config.EnvSimulated:
		return env.NewSimulated(env.SimulatedConfig{
			Seed:        seed,
			FailureRate: e.FailureRate,
			Noise:       e.Noise,
		}), nil
	case config.EnvSearch:
		sc := env.DefaultSearchConfig()
		sc.OpenAlexURL = e.OpenAlexURL
		sc.ArxivURL = e.ArxivURL
		sc.Mailto = e.Mailto
		if e.Limit > 0 {
			sc.Limit = e.Limit
		}
		sc.Timeout = time.Duration(e.RequestTimeoutSec * float64(time.Second))
		if e.OpenAlexPerMinute > 0 {
			sc.OpenAlexPerMinute = e.OpenAlexPerMinute
		}
		if e.ArxivPerMinute > 0 {
			sc.ArxivPerMinute = e.ArxivPerMinute
		}
		if e.Cache {
			sc.CacheDir = filepath.Join(cfg.Run.DataDir, "cache")
		}
		sc.HealthPath = filepath.Join(cfg.Run.DataDir, "source_health.json")
		return env.NewSearch(sc, logger)
	default:
		return nil, fmt.Errorf("unknown environment kind %q", e.Kind)
	}
}

// startMetrics serves /metrics until ctx is done. It returns nil when
// metrics are disabled.
func startMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) *telemetry.Metrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	m := telemetry.New()
	srv := telemetry.NewServer(cfg.Metrics.Listen, m, logger)
	go func() {
		if err := srv.Start(ctx); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return m
}
