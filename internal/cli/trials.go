package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/env"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/experiment"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/tasks"
)

func newTrialsCmd(o *options) *cobra.Command {
	var (
		rf       runFlags
		trials   int
		parallel int
		window   int
		asJSON   bool
		save     bool
	)

	cmd := &cobra.Command{
		Use:   "trials",
		Short: "Train independent seeds concurrently and compare them",
		Long: `Trials trains run.trials fresh coordinators, trial i seeded with run.seed+i,
all on the same task list, and summarizes reward, relevance, failure rate and
allocation mix across them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := o.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("trials") {
				cfg.Run.Trials = trials
			}
			if err := rf.apply(cmd, cfg); err != nil {
				return err
			}

			list, err := tasks.Build(cfg.Run.TaskSuite, cfg.Run.Episodes, cfg.Run.Seed)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			opts := []experiment.Option{
				experiment.WithTasks(list),
				experiment.WithWindow(window),
				experiment.WithLogger(logger),
			}
			if parallel > 0 {
				opts = append(opts, experiment.WithParallel(parallel))
			}
			if m := startMetrics(ctx, cfg, logger); m != nil {
				opts = append(opts, experiment.WithObserver(m))
			}

			newEnv := func(seed uint64) (env.Environment, error) {
				return newEnvironment(cfg, seed, logger)
			}
			summary, err := experiment.Run(ctx, cfg, newEnv, opts...)
			if err != nil {
				return fmt.Errorf("trials: %w", err)
			}

			if save {
				path := filepath.Join(cfg.Run.DataDir, fmt.Sprintf("trials-%s.json", time.Now().Format("20060102-150405")))
				if err := saveJSON(path, summary); err != nil {
					return err
				}
				logger.Info("summary saved", "path", path)
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), summary)
			}
			renderSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}

	rf.register(cmd)
	cmd.Flags().IntVarP(&trials, "trials", "t", 0, "Number of trials (overrides run.trials)")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "Trials run at once (default GOMAXPROCS)")
	cmd.Flags().IntVar(&window, "window", 20, "Moving-average window of the learning curve")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	cmd.Flags().BoolVar(&save, "save", false, "Write the summary to the data dir")
	return cmd
}
