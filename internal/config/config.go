package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/bandit"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/policy"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/qlearn"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/types"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// maxDurationSec is the largest number of seconds a time.Duration can hold.
const maxDurationSec = math.MaxInt64 / int64(time.Second)

// validSeconds reports whether v converts to a positive time.Duration
// without overflowing.
func validSeconds(v float64) bool {
	return v > 0 && v < float64(maxDurationSec)
}

// Config is the top-level ResearchMind configuration
type Config struct {
	Run         RunConfig         `json:"run"`
	QLearning   qlearn.Config     `json:"qlearning"`
	Bandit      bandit.Config     `json:"bandit"`
	Allocation  AllocationPolicy  `json:"allocation"`
	Voting      VotingConfig      `json:"voting"`
	Fallback    FallbackConfig    `json:"fallback"`
	Fill        FillConfig        `json:"fill"`
	Environment EnvironmentConfig `json:"environment"`
	Sinks       SinksConfig       `json:"sinks"`
	Metrics     MetricsConfig     `json:"metrics"`
	Schedule    ScheduleConfig    `json:"schedule"`
}

// RunConfig controls a training run
type RunConfig struct {
	Episodes     int    `json:"episodes"`
	Seed         uint64 `json:"seed"`
	Trials       int    `json:"trials"`
	DataDir      string `json:"dataDir"`
	LogLevel     string `json:"logLevel"`
	TaskSuite    string `json:"taskSuite,omitempty"` // YAML task list; generated when empty
	SharedReward bool   `json:"sharedReward"`
}

// Weights is one row of the allocation table. Values are relative and need
// not sum to one.
type Weights struct {
	QOnly      float64 `json:"qOnly"`
	BanditOnly float64 `json:"banditOnly"`
	Both       float64 `json:"both"`
}

// Sum returns the total weight of the row.
func (w Weights) Sum() float64 { return w.QOnly + w.BanditOnly + w.Both }

// AllocationPolicy decides which agent governs each task
type AllocationPolicy struct {
	WarmupEpisodes int                          `json:"warmupEpisodes"`
	Table          map[types.Difficulty]Weights `json:"table"`
}

// VotingConfig tunes the resolution of joint proposals
type VotingConfig struct {
	ConfidenceThreshold float64 `json:"confidenceThreshold"`
	TrustPrior          float64 `json:"trustPrior"`
}

// FallbackConfig configures the recovery chain
type FallbackConfig struct {
	Retries          int            `json:"retries"`
	FallbackAttempts int            `json:"fallbackAttempts"`
	TimeoutSec       float64        `json:"timeoutSec"`
	SafeStrategy     types.Strategy `json:"safeStrategy"`
	SafeSource       types.Source   `json:"safeSource"`
}

// Timeout returns the per-call timeout as a duration.
func (f FallbackConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSec * float64(time.Second))
}

// SafeAction returns the tier-2 action.
func (f FallbackConfig) SafeAction() types.Action {
	return types.Action{Strategy: f.SafeStrategy, Source: f.SafeSource}
}

// Fill modes
const (
	FillDefault = "default"
	FillRandom  = "random"
)

// FillConfig supplies the dimension a single authoritative agent does not own
type FillConfig struct {
	Mode     string         `json:"mode"`
	Strategy types.Strategy `json:"strategy"`
	Source   types.Source   `json:"source"`
}

// Environment kinds
const (
	EnvSimulated = "simulated"
	EnvSearch    = "search"
)

// EnvironmentConfig selects and tunes the environment
type EnvironmentConfig struct {
	Kind        string  `json:"kind"`
	FailureRate float64 `json:"failureRate"`
	Noise       float64 `json:"noise"`

	Mailto            string  `json:"mailto,omitempty"`
	OpenAlexURL       string  `json:"openAlexUrl,omitempty"`
	ArxivURL          string  `json:"arxivUrl,omitempty"`
	Limit             int     `json:"limit"`
	RequestTimeoutSec float64 `json:"requestTimeoutSec"`
	Cache             bool    `json:"cache"`
	OpenAlexPerMinute int     `json:"openAlexPerMinute"`
	ArxivPerMinute    int     `json:"arxivPerMinute"`
}

// SinksConfig lists where episode records are forwarded
type SinksConfig struct {
	JSONL  string          `json:"jsonl,omitempty"`
	SQLite string          `json:"sqlite,omitempty"`
	MQTT   *MQTTSinkConfig `json:"mqtt,omitempty"`
}

// MQTTSinkConfig configures the MQTT episode publisher
type MQTTSinkConfig struct {
	Broker   string `json:"broker"`
	Topic    string `json:"topic"`
	ClientID string `json:"clientId,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	QoS      byte   `json:"qos"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
}

// ScheduleConfig controls recurring training runs
type ScheduleConfig struct {
	Kind        string `json:"kind"` // "interval" or "cron"
	IntervalSec int64  `json:"intervalSec,omitempty"`
	Cron        string `json:"cron,omitempty"`
	MaxRuns     int    `json:"maxRuns,omitempty"`
}

// DefaultConfig returns a config with every default filled in
func DefaultConfig() *Config {
	return &Config{
		Run: RunConfig{
			Episodes:     200,
			Seed:         42,
			Trials:       5,
			DataDir:      "./data",
			LogLevel:     "info",
			SharedReward: true,
		},
		QLearning:  qlearn.DefaultConfig(),
		Bandit:     bandit.DefaultConfig(),
		Allocation: DefaultAllocation(),
		Voting: VotingConfig{
			ConfidenceThreshold: 0.5,
			TrustPrior:          1.0,
		},
		Fallback: FallbackConfig{
			Retries:          1,
			FallbackAttempts: 1,
			TimeoutSec:       30,
			SafeStrategy:     types.Broad,
			SafeSource:       types.OpenAlexSource,
		},
		Fill: FillConfig{
			Mode:     FillDefault,
			Strategy: types.Specific,
			Source:   types.OpenAlexSource,
		},
		Environment: EnvironmentConfig{
			Kind:              EnvSimulated,
			Noise:             0.1,
			Limit:             10,
			RequestTimeoutSec: 10,
			Cache:             true,
			OpenAlexPerMinute: 100,
			ArxivPerMinute:    20,
		},
		Metrics: MetricsConfig{
			Listen: ":9464",
		},
		Schedule: ScheduleConfig{
			Kind:        "interval",
			IntervalSec: 3600,
		},
	}
}

// DefaultAllocation returns a 50-episode warm-up followed by easy tasks to the
// Q-agent, medium tasks to both and hard tasks to the bandit.
func DefaultAllocation() AllocationPolicy {
	return AllocationPolicy{
		WarmupEpisodes: 50,
		Table: map[types.Difficulty]Weights{
			types.Easy:   {QOnly: 1},
			types.Medium: {Both: 1},
			types.Hard:   {BanditOnly: 1},
		},
	}
}

// Load reads a config file, overlaying it on the defaults. The format is
// chosen by extension: .json, .toml, .yaml or .yml.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Run.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return cfg, nil
}

// Save writes the config in the format implied by the path's extension.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := encode(path, c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0640)
}

// TOML and YAML documents are normalized through a generic map into JSON so
// that the json tags are the single source of field names.
func decode(path string, data []byte, cfg *Config) error {
	var generic map[string]any
	switch format(path) {
	case "toml":
		if err := toml.Unmarshal(data, &generic); err != nil {
			return err
		}
	case "yaml":
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return err
		}
	default:
		return json.Unmarshal(data, cfg)
	}

	normalized, err := json.Marshal(generic)
	if err != nil {
		return err
	}
	return json.Unmarshal(normalized, cfg)
}

func encode(path string, c *Config) ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, err
	}
	f := format(path)
	if f == "json" {
		return data, nil
	}

	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	if f == "toml" {
		var sb strings.Builder
		if err := toml.NewEncoder(&sb).Encode(generic); err != nil {
			return nil, err
		}
		return []byte(sb.String()), nil
	}
	return yaml.Marshal(generic)
}

func format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return "toml"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

// Validate checks every field and returns all problems joined, wrapped with
// ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Run.Episodes <= 0 {
		bad("run.episodes must be positive, got %d", c.Run.Episodes)
	}
	if c.Run.Trials < 0 {
		bad("run.trials must not be negative, got %d", c.Run.Trials)
	}
	if _, err := ParseLogLevel(c.Run.LogLevel); err != nil {
		bad("run.logLevel: %v", err)
	}

	q := c.QLearning
	if !(q.Alpha > 0 && q.Alpha <= 1) {
		bad("qlearning.alpha must be in (0,1], got %v", q.Alpha)
	}
	if !(q.Gamma >= 0 && q.Gamma <= 1) {
		bad("qlearning.gamma must be in [0,1], got %v", q.Gamma)
	}
	if !(q.Epsilon >= 0 && q.Epsilon <= 1) {
		bad("qlearning.epsilon must be in [0,1], got %v", q.Epsilon)
	}
	if !(q.BonusScale >= 0) || !policy.Finite(q.BonusScale) {
		bad("qlearning.bonusScale must be finite and not negative, got %v", q.BonusScale)
	}
	if !(c.Bandit.C >= 0) || !policy.Finite(c.Bandit.C) {
		bad("bandit.c must be finite and not negative, got %v", c.Bandit.C)
	}

	if c.Allocation.WarmupEpisodes < 0 {
		bad("allocation.warmupEpisodes must not be negative, got %d", c.Allocation.WarmupEpisodes)
	}
	for _, d := range types.Difficulties() {
		w, ok := c.Allocation.Table[d]
		if !ok {
			bad("allocation.table has no row for %s", d)
			continue
		}
		if !policy.Finite(w.Sum()) {
			bad("allocation.table[%s] has a non-finite weight", d)
		} else if w.QOnly < 0 || w.BanditOnly < 0 || w.Both < 0 {
			bad("allocation.table[%s] has a negative weight", d)
		} else if !(w.Sum() > 0) {
			bad("allocation.table[%s] weights sum to zero", d)
		}
	}

	if math.IsNaN(c.Voting.ConfidenceThreshold) {
		bad("voting.confidenceThreshold is NaN")
	}
	if !(c.Voting.TrustPrior > 0) || !policy.Finite(c.Voting.TrustPrior) {
		bad("voting.trustPrior must be finite and positive, got %v", c.Voting.TrustPrior)
	}

	if c.Fallback.Retries < 0 {
		bad("fallback.retries must not be negative, got %d", c.Fallback.Retries)
	}
	if c.Fallback.FallbackAttempts < 0 {
		bad("fallback.fallbackAttempts must not be negative, got %d", c.Fallback.FallbackAttempts)
	}
	if !validSeconds(c.Fallback.TimeoutSec) {
		bad("fallback.timeoutSec must be positive and below %d, got %v", maxDurationSec, c.Fallback.TimeoutSec)
	}
	if !c.Fallback.SafeStrategy.Valid() || !c.Fallback.SafeSource.Valid() {
		bad("fallback safe action is not a valid action")
	}

	switch c.Fill.Mode {
	case FillDefault, FillRandom:
	default:
		bad("fill.mode must be %q or %q, got %q", FillDefault, FillRandom, c.Fill.Mode)
	}
	if !c.Fill.Strategy.Valid() || !c.Fill.Source.Valid() {
		bad("fill defaults are not a valid action")
	}

	e := c.Environment
	switch e.Kind {
	case EnvSimulated, EnvSearch:
	default:
		bad("environment.kind must be %q or %q, got %q", EnvSimulated, EnvSearch, e.Kind)
	}
	if !(e.FailureRate >= 0 && e.FailureRate <= 1) {
		bad("environment.failureRate must be in [0,1], got %v", e.FailureRate)
	}
	if !(e.Noise >= 0) || !policy.Finite(e.Noise) {
		bad("environment.noise must be finite and not negative, got %v", e.Noise)
	}
	if e.Kind == EnvSearch && !validSeconds(e.RequestTimeoutSec) {
		bad("environment.requestTimeoutSec must be positive and below %d, got %v", maxDurationSec, e.RequestTimeoutSec)
	}

	if m := c.Sinks.MQTT; m != nil {
		if m.Broker == "" || m.Topic == "" {
			bad("sinks.mqtt needs broker and topic")
		}
		if m.QoS > 2 {
			bad("sinks.mqtt.qos must be 0, 1 or 2, got %d", m.QoS)
		}
	}

	if err := c.Schedule.validate(); err != nil {
		bad("schedule: %v", err)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func (s ScheduleConfig) validate() error {
	switch s.Kind {
	case "interval":
		if s.IntervalSec <= 0 || s.IntervalSec > maxDurationSec {
			return fmt.Errorf("intervalSec must be in [1,%d], got %d", maxDurationSec, s.IntervalSec)
		}
	case "cron":
		if strings.TrimSpace(s.Cron) == "" {
			return errors.New("cron expression is empty")
		}
	default:
		return fmt.Errorf("kind must be interval or cron, got %q", s.Kind)
	}
	if s.MaxRuns < 0 {
		return fmt.Errorf("maxRuns must not be negative, got %d", s.MaxRuns)
	}
	return nil
}
