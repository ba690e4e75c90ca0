package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/config"
)

// Job is a recurring training run
type Job struct {
	ID       string        `json:"id"`
	Kind     string        `json:"kind"` // "interval" or "cron"
	Interval time.Duration `json:"interval,omitempty"`
	Expr     string        `json:"expr,omitempty"` // standard five-field cron expression
	MaxRuns  int           `json:"maxRuns,omitempty"`
	Enabled  bool          `json:"enabled"`
	State    JobState      `json:"state"`
}

// JobState tracks job execution state
type JobState struct {
	LastRunAt      time.Time     `json:"lastRunAt,omitempty"`
	NextRunAt      time.Time     `json:"nextRunAt,omitempty"`
	RunCount       int64         `json:"runCount"`
	ErrorCount     int64         `json:"errorCount"`
	LastError      string        `json:"lastError,omitempty"`
	LastDuration   time.Duration `json:"lastDuration,omitempty"`
	LastMeanReward float64       `json:"lastMeanReward"`
}

// JobFromConfig builds an enabled job from the schedule section
func JobFromConfig(id string, s config.ScheduleConfig) *Job {
	return &Job{
		ID:       id,
		Kind:     s.Kind,
		Interval: time.Duration(s.IntervalSec) * time.Second,
		Expr:     s.Cron,
		MaxRuns:  s.MaxRuns,
		Enabled:  true,
	}
}

// Validate checks if job configuration is valid
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID required")
	}
	switch j.Kind {
	case "interval":
		if j.Interval <= 0 {
			return fmt.Errorf("interval must be positive")
		}
	case "cron":
		if j.Expr == "" {
			return fmt.Errorf("cron expression required")
		}
		if _, err := cron.ParseStandard(j.Expr); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
	default:
		return fmt.Errorf("unknown schedule kind: %s (use interval or cron)", j.Kind)
	}
	if j.MaxRuns < 0 {
		return fmt.Errorf("maxRuns must not be negative")
	}
	return nil
}

// NextRun calculates the next run time based on schedule
func (j *Job) NextRun(from time.Time) (time.Time, error) {
	switch j.Kind {
	case "interval":
		return from.Add(j.Interval), nil
	case "cron":
		schedule, err := cron.ParseStandard(j.Expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron: %w", err)
		}
		return schedule.Next(from), nil
	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind: %s", j.Kind)
	}
}

// Exhausted reports whether the job has used up its run budget.
func (j *Job) Exhausted() bool {
	return j.MaxRuns > 0 && j.State.RunCount >= int64(j.MaxRuns)
}

// Clone returns a copy of the job
func (j *Job) Clone() *Job {
	c := *j
	return &c
}
