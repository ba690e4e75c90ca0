package cli

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/config"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/scheduler"
)

func newScheduleCmd(o *options) *cobra.Command {
	var (
		rf        runFlags
		every     time.Duration
		cronExpr  string
		runs      int
		watch     bool
		now       bool
		watchPoll time.Duration
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Keep training on an interval or cron schedule",
		Long: `Schedule fires a warm-started training run on the schedule section of the
config until schedule.maxRuns runs have completed or the process is
interrupted. Learning sections of the config file are reloaded between runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := o.load(cmd)
			if err != nil {
				return err
			}
			if err := rf.apply(cmd, cfg); err != nil {
				return err
			}

			job := scheduler.JobFromConfig("train", cfg.Schedule)
			switch {
			case every > 0:
				job.Kind, job.Interval = "interval", every
			case cronExpr != "":
				job.Kind, job.Expr = "cron", cronExpr
			}
			if cmd.Flags().Changed("runs") {
				job.MaxRuns = runs
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			metrics := startMetrics(ctx, cfg, logger)

			opts := append(sessionOptions(metrics, nil), scheduler.WithWarmStart(true))
			session := scheduler.NewSession(cfg, sessionEnv(logger), logger, opts...)

			sched := scheduler.NewScheduler(session, logger)
			if err := sched.AddJob(job); err != nil {
				return err
			}

			if _, err := os.Stat(o.configPath); watch && err == nil {
				w := config.NewWatcher(o.configPath, watchPoll, logger, func(next *config.Config) {
					session.ApplyConfig(next)
				})
				w.Start()
				defer w.Stop()
			}

			if now {
				if err := sched.RunNow(ctx, job.ID); err != nil {
					return err
				}
			}
			if err := sched.Start(ctx); err != nil {
				return err
			}
			waitErr := sched.Wait(ctx)
			sched.Stop()
			if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
				return waitErr
			}

			renderJobs(cmd, sched.ListJobs(), sched.Stats())
			return nil
		},
	}

	rf.register(cmd)
	cmd.Flags().DurationVar(&every, "every", 0, "Run on a fixed interval (overrides schedule.intervalSec)")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Run on a five-field cron expression (overrides schedule.cron)")
	cmd.Flags().IntVar(&runs, "runs", 0, "Stop after this many runs, 0 for no limit (overrides schedule.maxRuns)")
	cmd.Flags().BoolVar(&now, "now", false, "Run once immediately before the first scheduled run")
	cmd.Flags().BoolVar(&watch, "watch", true, "Reload the config file between runs")
	cmd.Flags().DurationVar(&watchPoll, "watch-interval", 5*time.Second, "How often to check the config file")
	return cmd
}

func renderJobs(cmd *cobra.Command, jobs []*scheduler.Job, st scheduler.Stats) {
	t := newTable("job", "kind", "runs", "errors", "last reward", "last duration", "last error")
	for _, j := range jobs {
		t.Row(
			j.ID,
			j.Kind,
			strconv.FormatInt(j.State.RunCount, 10),
			strconv.FormatInt(j.State.ErrorCount, 10),
			f3(j.State.LastMeanReward),
			j.State.LastDuration.Round(time.Millisecond).String(),
			j.State.LastError,
		)
	}
	section(cmd.OutOrStdout(), "Schedule", t)

	totals := newTable("jobs", "enabled", "runs", "errors", "mean last reward").
		Row(strconv.Itoa(st.Jobs), strconv.Itoa(st.Enabled), strconv.FormatInt(st.Runs, 10), strconv.FormatInt(st.Errors, 10), f3(st.MeanReward))
	section(cmd.OutOrStdout(), "Totals", totals)
}
