package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/config"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/coordinator"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/env"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/scheduler"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/telemetry"
)

// runFlags override the run section for a single invocation
type runFlags struct {
	episodes int
	seed     uint64
	suite    string
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.episodes, "episodes", "n", 0, "Episodes per run (overrides run.episodes)")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "Base seed (overrides run.seed)")
	cmd.Flags().StringVar(&f.suite, "suite", "", "YAML task suite (overrides run.taskSuite)")
}

func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("episodes") {
		cfg.Run.Episodes = f.episodes
	}
	if cmd.Flags().Changed("seed") {
		cfg.Run.Seed = f.seed
	}
	if cmd.Flags().Changed("suite") {
		cfg.Run.TaskSuite = f.suite
	}
	return cfg.Validate()
}

func sessionEnv(logger *slog.Logger) scheduler.EnvFactory {
	return func(cfg *config.Config, seed uint64) (env.Environment, error) {
		return newEnvironment(cfg, seed, logger)
	}
}

// sessionOptions attaches the metrics observer when metrics are enabled.
func sessionOptions(m *telemetry.Metrics, hook func(*coordinator.Coordinator, coordinator.Report, error)) []scheduler.SessionOption {
	var opts []scheduler.SessionOption
	if m != nil {
		opts = append(opts, scheduler.WithCoordinatorOptions(coordinator.WithObserver(m)))
	}
	return append(opts, scheduler.WithRunHook(func(c *coordinator.Coordinator, r coordinator.Report, err error) {
		if m != nil {
			m.ObserveRun(r.Duration, err)
		}
		if hook != nil {
			hook(c, r, err)
		}
	}))
}

func newTrainCmd(o *options) *cobra.Command {
	var (
		rf      runFlags
		warm    bool
		asJSON  bool
		details bool
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run one training session",
		Long: `Train runs one session of run.episodes episodes. With --warm the learned
state in <dataDir>/snapshot.json is restored first and written back afterwards,
so successive invocations keep learning.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := o.load(cmd)
			if err != nil {
				return err
			}
			if err := rf.apply(cmd, cfg); err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			metrics := startMetrics(ctx, cfg, logger)

			var final *coordinator.Coordinator
			hook := func(c *coordinator.Coordinator, _ coordinator.Report, _ error) { final = c }
			opts := append(sessionOptions(metrics, hook), scheduler.WithWarmStart(warm))
			session := scheduler.NewSession(cfg, sessionEnv(logger), logger, opts...)

			report, runErr := session.Train(ctx, 0)
			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(out, report); err != nil {
					return err
				}
			} else {
				renderReport(out, report)
				if details && final != nil {
					renderQTable(out, final.QTable())
					renderArms(out, final.BanditStats())
				}
			}
			if runErr != nil {
				return fmt.Errorf("train: %w", runErr)
			}
			return nil
		},
	}

	rf.register(cmd)
	cmd.Flags().BoolVar(&warm, "warm", false, "Restore and update the snapshot in the data dir")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run report as JSON")
	cmd.Flags().BoolVar(&details, "details", false, "Also print the learned Q-table and bandit arms")
	return cmd
}
