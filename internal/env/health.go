package env

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/types"
)

// Failure kinds used to classify search errors
const (
	FailRateLimited = "rate_limited"
	FailTimeout     = "timeout"
	FailServer      = "server_error"
	FailEmpty       = "no_results"
	FailDecode      = "decode_error"
	FailUnknown     = "unknown"
)

// SourceHealth tracks call statistics for one paper source.
type SourceHealth struct {
	Calls               int64          `json:"calls"`
	Failures            int64          `json:"failures"`
	CacheHits           int64          `json:"cache_hits"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	SuccessRate         float64        `json:"success_rate"`
	FailureKinds        map[string]int `json:"failure_kinds,omitempty"`
	LastFailureKind     string         `json:"last_failure_kind,omitempty"`
}

// HealthRegistry keeps per-source call and failure counts.
type HealthRegistry struct {
	mu          sync.RWMutex
	sources     map[types.Source]*SourceHealth
	warnAfter   int
	persistPath string
	logger      *slog.Logger
}

// NewHealthRegistry creates a registry. A source is reported once it reaches
// warnAfter consecutive failures. persistPath may be empty.
func NewHealthRegistry(warnAfter int, persistPath string, logger *slog.Logger) *HealthRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	if warnAfter <= 0 {
		warnAfter = 3
	}
	hr := &HealthRegistry{
		sources:     make(map[types.Source]*SourceHealth),
		warnAfter:   warnAfter,
		persistPath: persistPath,
		logger:      logger.With("component", "source-health"),
	}
	if persistPath != "" {
		if err := hr.load(); err != nil {
			hr.logger.Debug("no existing source health, starting fresh", "error", err)
		}
	}
	return hr
}

func (hr *HealthRegistry) getOrCreate(src types.Source) *SourceHealth {
	if h, ok := hr.sources[src]; ok {
		return h
	}
	h := &SourceHealth{FailureKinds: make(map[string]int)}
	hr.sources[src] = h
	return h
}

// RecordSuccess records a successful search.
func (hr *HealthRegistry) RecordSuccess(src types.Source, cached bool) {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	h := hr.getOrCreate(src)
	h.Calls++
	if cached {
		h.CacheHits++
	}
	if h.ConsecutiveFailures >= hr.warnAfter {
		hr.logger.Info("source recovered", "source", src.String())
	}
	h.ConsecutiveFailures = 0
	h.SuccessRate = successRate(h)
}

// RecordFailure records a failed search of the given kind.
func (hr *HealthRegistry) RecordFailure(src types.Source, kind string) {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	h := hr.getOrCreate(src)
	h.Calls++
	h.Failures++
	h.ConsecutiveFailures++
	h.LastFailureKind = kind
	if h.FailureKinds == nil {
		h.FailureKinds = make(map[string]int)
	}
	h.FailureKinds[kind]++
	h.SuccessRate = successRate(h)

	if h.ConsecutiveFailures == hr.warnAfter {
		hr.logger.Warn("source failing",
			"source", src.String(),
			"consecutive_failures", h.ConsecutiveFailures,
			"kind", kind,
		)
	}
}

func successRate(h *SourceHealth) float64 {
	if h.Calls == 0 {
		return 1
	}
	return float64(h.Calls-h.Failures) / float64(h.Calls)
}

// Status returns a copy of every source's statistics.
func (hr *HealthRegistry) Status() map[types.Source]SourceHealth {
	hr.mu.RLock()
	defer hr.mu.RUnlock()

	out := make(map[types.Source]SourceHealth, len(hr.sources))
	for src, h := range hr.sources {
		c := *h
		c.FailureKinds = make(map[string]int, len(h.FailureKinds))
		for k, v := range h.FailureKinds {
			c.FailureKinds[k] = v
		}
		out[src] = c
	}
	return out
}

// Persist writes the statistics to the registry's path.
func (hr *HealthRegistry) Persist() error {
	if hr.persistPath == "" {
		return nil
	}
	status := hr.Status()

	if err := os.MkdirAll(filepath.Dir(hr.persistPath), 0750); err != nil {
		return fmt.Errorf("create health dir: %w", err)
	}
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal source health: %w", err)
	}
	if err := os.WriteFile(hr.persistPath, data, 0640); err != nil {
		return fmt.Errorf("write source health: %w", err)
	}
	hr.logger.Debug("source health persisted", "path", hr.persistPath)
	return nil
}

func (hr *HealthRegistry) load() error {
	data, err := os.ReadFile(hr.persistPath)
	if err != nil {
		return err
	}
	var status map[types.Source]*SourceHealth
	if err := json.Unmarshal(data, &status); err != nil {
		return fmt.Errorf("parse source health: %w", err)
	}
	if status != nil {
		hr.sources = status
	}
	return nil
}

// ClassifyFailure maps a search error to a failure kind.
func ClassifyFailure(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailTimeout
	}
	if errors.Is(err, errNoResults) {
		return FailEmpty
	}
	var se *statusError
	if errors.As(err, &se) {
		switch {
		case se.code == 429:
			return FailRateLimited
		case se.code >= 500:
			return FailServer
		}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return FailTimeout
	case strings.Contains(msg, "decode"):
		return FailDecode
	}
	return FailUnknown
}
