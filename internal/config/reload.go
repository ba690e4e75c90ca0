package config

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"
)

// ReloadResult describes what changed during a config reload.
type ReloadResult struct {
	Changed []string // list of changed sections
	Applied []string // copied into the live config
	Skipped []string // require restart
}

// restartRequiredFields lists sections that cannot change under a running
// scheduler because they own open files, listeners or connections.
var restartRequiredFields = map[string]bool{
	"Run.DataDir": true,
	"Sinks":       true,
	"Metrics":     true,
	"Environment": true,
	"Schedule":    true,
}

// Reload re-reads the config from path, validates it, and applies every
// section that can change between scheduled runs. The live config is left
// untouched if the new file is invalid.
func (c *Config) Reload(path string) (*ReloadResult, error) {
	next, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("reload config: %w", err)
	}
	return c.Apply(next), nil
}

// Apply copies the hot-reloadable sections of next into c and reports what
// differed. next must already be validated.
func (c *Config) Apply(next *Config) *ReloadResult {
	result := &ReloadResult{}
	diffAndApply(c, next, result)
	return result
}

// diffAndApply compares old and new configs, applying hot-reloadable changes.
func diffAndApply(old, next *Config, r *ReloadResult) {
	apply := func(name string, changed bool, set func()) {
		if !changed {
			return
		}
		r.Changed = append(r.Changed, name)
		if restartRequiredFields[name] {
			r.Skipped = append(r.Skipped, name+" (requires restart)")
			return
		}
		set()
		r.Applied = append(r.Applied, name)
	}

	apply("Run.Episodes", old.Run.Episodes != next.Run.Episodes, func() { old.Run.Episodes = next.Run.Episodes })
	apply("Run.Seed", old.Run.Seed != next.Run.Seed, func() { old.Run.Seed = next.Run.Seed })
	apply("Run.Trials", old.Run.Trials != next.Run.Trials, func() { old.Run.Trials = next.Run.Trials })
	apply("Run.LogLevel", old.Run.LogLevel != next.Run.LogLevel, func() { old.Run.LogLevel = next.Run.LogLevel })
	apply("Run.TaskSuite", old.Run.TaskSuite != next.Run.TaskSuite, func() { old.Run.TaskSuite = next.Run.TaskSuite })
	apply("Run.SharedReward", old.Run.SharedReward != next.Run.SharedReward, func() { old.Run.SharedReward = next.Run.SharedReward })
	apply("Run.DataDir", old.Run.DataDir != next.Run.DataDir, nil)

	apply("QLearning", old.QLearning != next.QLearning, func() { old.QLearning = next.QLearning })
	apply("Bandit", old.Bandit != next.Bandit, func() { old.Bandit = next.Bandit })
	apply("Allocation", !reflect.DeepEqual(old.Allocation, next.Allocation), func() { old.Allocation = next.Allocation })
	apply("Voting", old.Voting != next.Voting, func() { old.Voting = next.Voting })
	apply("Fallback", old.Fallback != next.Fallback, func() { old.Fallback = next.Fallback })
	apply("Fill", old.Fill != next.Fill, func() { old.Fill = next.Fill })

	apply("Environment", old.Environment != next.Environment, nil)
	apply("Sinks", !reflect.DeepEqual(old.Sinks, next.Sinks), nil)
	apply("Metrics", old.Metrics != next.Metrics, nil)
	apply("Schedule", old.Schedule != next.Schedule, nil)
}

// LogResult logs the reload result at the appropriate levels.
func (r *ReloadResult) LogResult(logger *slog.Logger) {
	if len(r.Changed) == 0 {
		logger.Info("config reload: no changes detected")
		return
	}

	logger.Info("config reload complete",
		"changed", len(r.Changed),
		"applied", strings.Join(r.Applied, ","),
	)
	for _, field := range r.Skipped {
		logger.Warn("config field requires restart", "field", field)
	}
}

// IsRestartRequired returns true if the section requires a restart.
func IsRestartRequired(field string) bool {
	return restartRequiredFields[field]
}

// ParseLogLevel converts a config log level to slog.Level
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}
