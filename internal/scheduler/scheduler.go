// Package scheduler repeats training runs on an interval or cron schedule,
// carrying learned state from one run to the next.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Scheduler manages all scheduled jobs
type Scheduler struct {
	jobs    map[string]*Job
	runners map[string]*JobRunner
	trainer Trainer
	logger  *slog.Logger
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a new scheduler
func NewScheduler(trainer Trainer, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:    make(map[string]*Job),
		runners: make(map[string]*JobRunner),
		trainer: trainer,
		logger:  logger.With("component", "scheduler"),
	}
}

// Start starts a runner for every enabled job
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Info("starting scheduler", "jobs", len(s.jobs))

	for id, job := range s.jobs {
		if !job.Enabled {
			s.logger.Debug("skipping disabled job", "job", id)
			continue
		}
		s.startLocked(job)
	}

	s.logger.Info("scheduler started", "active_jobs", len(s.runners))
	return nil
}

func (s *Scheduler) startLocked(job *Job) {
	runner := NewJobRunner(job, s.trainer, s.logger)
	s.runners[job.ID] = runner
	go runner.Start(s.ctx)
}

// Stop stops all job runners
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("stopping scheduler")
	if s.cancel != nil {
		s.cancel()
	}
	for id, runner := range s.runners {
		runner.Stop()
		s.logger.Debug("stopped job runner", "job", id)
	}
	s.runners = make(map[string]*JobRunner)
	s.logger.Info("scheduler stopped")
}

// Wait blocks until every started runner has exited or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.RLock()
	runners := make([]*JobRunner, 0, len(s.runners))
	for _, r := range s.runners {
		runners = append(runners, r)
	}
	s.mu.RUnlock()

	for _, r := range runners {
		select {
		case <-r.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// AddJob adds a new job to the scheduler
func (s *Scheduler) AddJob(job *Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job with ID %s already exists", job.ID)
	}
	s.jobs[job.ID] = job

	if s.ctx != nil && job.Enabled {
		s.startLocked(job)
		s.logger.Info("job added and started", "job", job.ID)
	} else {
		s.logger.Info("job added", "job", job.ID, "enabled", job.Enabled)
	}
	return nil
}

// ListJobs returns copies of all jobs sorted by ID
func (s *Scheduler) ListJobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, s.snapshotLocked(job))
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

func (s *Scheduler) snapshotLocked(job *Job) *Job {
	if r, ok := s.runners[job.ID]; ok {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	return job.Clone()
}

// RunNow fires one training run of job id immediately, outside its
// schedule. The run counts toward the job's budget. It must not overlap a
// scheduled firing of the same job, so callers use it before Start.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	s.mu.RLock()
	job, exists := s.jobs[id]
	runner := s.runners[id]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}
	if runner == nil {
		runner = NewJobRunner(job, s.trainer, s.logger)
	}
	runner.executeJob(ctx)
	return nil
}

// Stats totals runs and errors across every job.
type Stats struct {
	Jobs       int     `json:"jobs"`
	Enabled    int     `json:"enabled"`
	Runs       int64   `json:"runs"`
	Errors     int64   `json:"errors"`
	MeanReward float64 `json:"meanReward"`
}

// Stats summarizes the jobs. MeanReward averages the last reward of the jobs
// that have completed a run.
func (s *Scheduler) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Jobs: len(s.jobs)}
	ran := 0
	for _, job := range s.jobs {
		j := s.snapshotLocked(job)
		st.Runs += j.State.RunCount
		st.Errors += j.State.ErrorCount
		if j.Enabled {
			st.Enabled++
		}
		if j.State.RunCount > j.State.ErrorCount {
			st.MeanReward += j.State.LastMeanReward
			ran++
		}
	}
	if ran > 0 {
		st.MeanReward /= float64(ran)
	}
	return st
}
