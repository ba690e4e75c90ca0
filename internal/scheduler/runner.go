package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/coordinator"
)

// Trainer runs one training session. run counts firings from zero.
type Trainer interface {
	Train(ctx context.Context, run int) (coordinator.Report, error)
}

// TrainerFunc adapts a function to Trainer
type TrainerFunc func(ctx context.Context, run int) (coordinator.Report, error)

func (f TrainerFunc) Train(ctx context.Context, run int) (coordinator.Report, error) {
	return f(ctx, run)
}

// JobRunner executes a single job on schedule
type JobRunner struct {
	job     *Job
	trainer Trainer
	logger  *slog.Logger
	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
}

// NewJobRunner creates a new job runner
func NewJobRunner(job *Job, trainer Trainer, log *slog.Logger) *JobRunner {
	if log == nil {
		log = slog.Default()
	}
	return &JobRunner{
		job:     job,
		trainer: trainer,
		logger:  log.With("job", job.ID),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start runs the job on schedule until ctx is cancelled, Stop is called or
// the run budget is exhausted.
func (r *JobRunner) Start(ctx context.Context) {
	defer close(r.doneCh)

	if !r.job.Enabled {
		r.logger.Debug("job disabled, not starting")
		return
	}
	if r.exhausted() {
		r.logger.Info("job run budget already spent", "runs", r.job.MaxRuns)
		return
	}

	nextRun, err := r.job.NextRun(time.Now())
	if err != nil {
		r.logger.Error("failed to calculate next run", "error", err)
		return
	}
	r.setNext(nextRun)
	r.logger.Info("job runner started", "next_run", nextRun.Format(time.RFC3339))

	timer := time.NewTimer(time.Until(nextRun))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopped (context cancelled)")
			return
		case <-r.stopCh:
			r.logger.Info("job runner stopped")
			return
		case <-timer.C:
			r.executeJob(ctx)
			if r.exhausted() {
				r.logger.Info("job run budget exhausted", "runs", r.job.MaxRuns)
				return
			}

			nextRun, err := r.job.NextRun(time.Now())
			if err != nil {
				r.logger.Error("failed to calculate next run", "error", err)
				return
			}
			r.setNext(nextRun)
			r.logger.Debug("next run scheduled", "next_run", nextRun.Format(time.RFC3339))
			timer.Reset(time.Until(nextRun))
		}
	}
}

// Stop stops the job runner and waits for it to exit
func (r *JobRunner) Stop() {
	r.once.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

// Done is closed once the runner has exited
func (r *JobRunner) Done() <-chan struct{} { return r.doneCh }

// State returns a copy of the job state
func (r *JobRunner) State() JobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.State
}

func (r *JobRunner) setNext(t time.Time) {
	r.mu.Lock()
	r.job.State.NextRunAt = t
	r.mu.Unlock()
}

func (r *JobRunner) exhausted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.Exhausted()
}

// executeJob runs the job once
func (r *JobRunner) executeJob(ctx context.Context) {
	r.mu.Lock()
	run := int(r.job.State.RunCount)
	r.mu.Unlock()

	start := time.Now()
	r.logger.Info("executing training run", "run", run)

	var report coordinator.Report
	var err error
	if r.trainer == nil {
		err = fmt.Errorf("trainer not set")
	} else {
		report, err = r.trainer.Train(ctx, run)
	}
	duration := time.Since(start)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.job.State.LastRunAt = time.Now()
	r.job.State.LastDuration = duration
	r.job.State.RunCount++

	if err != nil {
		r.job.State.ErrorCount++
		r.job.State.LastError = err.Error()
		r.logger.Error("training run failed",
			"error", err,
			"duration", duration,
			"run_count", r.job.State.RunCount,
			"error_count", r.job.State.ErrorCount)
		return
	}
	r.job.State.LastError = ""
	r.job.State.LastMeanReward = report.MeanReward
	r.logger.Info("training run completed",
		"duration", duration,
		"episodes", report.Episodes,
		"mean_reward", report.MeanReward,
		"run_count", r.job.State.RunCount)
}
