package env

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/types"
)

// SearchConfig configures the live paper search environment.
type SearchConfig struct {
	OpenAlexURL       string        `json:"openAlexUrl,omitempty"`
	ArxivURL          string        `json:"arxivUrl,omitempty"`
	Mailto            string        `json:"mailto,omitempty"`
	Limit             int           `json:"limit"`
	Timeout           time.Duration `json:"timeout"`
	CacheDir          string        `json:"cacheDir,omitempty"`
	HealthPath        string        `json:"healthPath,omitempty"`
	OpenAlexPerMinute int           `json:"openAlexPerMinute"`
	ArxivPerMinute    int           `json:"arxivPerMinute"`
}

// DefaultSearchConfig returns polite limits for the public APIs.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		Limit:             10,
		Timeout:           10 * time.Second,
		OpenAlexPerMinute: 100,
		ArxivPerMinute:    20,
	}
}

// SearchOption customizes a Search.
type SearchOption func(*Search)

// WithSearcher replaces the backend for one source.
func WithSearcher(src types.Source, s Searcher) SearchOption {
	return func(e *Search) {
		if src.Valid() {
			e.searchers[src] = s
		}
	}
}

// Search is an Environment that runs real queries against the paper sources
// and scores the hits by keyword overlap with the task.
type Search struct {
	searchers [types.NumSources]Searcher
	limiters  [types.NumSources]*rate.Limiter
	cache     *Cache
	health    *HealthRegistry
	limit     int
	logger    *slog.Logger
}

// NewSearch creates a search environment.
func NewSearch(cfg SearchConfig, logger *slog.Logger, opts ...SearchOption) (*Search, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Search{
		limit:  cfg.Limit,
		health: NewHealthRegistry(3, cfg.HealthPath, logger),
		logger: logger.With("component", "search"),
	}
	s.searchers[types.OpenAlexSource] = NewOpenAlexClient(cfg.OpenAlexURL, cfg.Mailto, cfg.Timeout)
	s.searchers[types.ArxivSource] = NewArxivClient(cfg.ArxivURL, cfg.Timeout)
	s.limiters[types.OpenAlexSource] = perMinute(cfg.OpenAlexPerMinute)
	s.limiters[types.ArxivSource] = perMinute(cfg.ArxivPerMinute)

	if cfg.CacheDir != "" {
		c, err := NewCache(cfg.CacheDir)
		if err != nil {
			return nil, err
		}
		s.cache = c
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func perMinute(n int) *rate.Limiter {
	if n <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(float64(n)/60), 1)
}

// Evaluate implements Environment.
func (s *Search) Evaluate(ctx context.Context, req Request) (Outcome, error) {
	src := req.Action.Source
	if !src.Valid() || !req.Action.Strategy.Valid() {
		return Failed(), nil
	}
	query := FormulateQuery(req.Task, req.Action.Strategy)

	papers, cached, err := s.fetch(ctx, src, query)
	if err == nil && len(papers) == 0 {
		err = errNoResults
	}
	if err != nil {
		s.health.RecordFailure(src, ClassifyFailure(err))
		return Outcome{}, fmt.Errorf("search %s %q: %w", src, query, err)
	}
	s.health.RecordSuccess(src, cached)

	rel := Relevance(req.Task, papers)
	s.logger.Debug("search done",
		"episode", req.Episode,
		"source", src.String(),
		"query", query,
		"papers", len(papers),
		"cached", cached,
		"relevance", rel,
	)
	return Outcome{
		Relevance: rel,
		Reward:    rel - sourceCost[src],
		Status:    types.StatusOK,
	}, nil
}

func (s *Search) fetch(ctx context.Context, src types.Source, query string) ([]Paper, bool, error) {
	if s.cache != nil {
		if papers, ok := s.cache.Get(src, query); ok {
			return papers, true, nil
		}
	}
	if err := s.limiters[src].Wait(ctx); err != nil {
		return nil, false, err
	}
	papers, err := s.searchers[src].Search(ctx, query, s.limit)
	if err != nil {
		return nil, false, err
	}
	if s.cache != nil && len(papers) > 0 {
		if err := s.cache.Put(src, query, papers); err != nil {
			s.logger.Warn("cache write failed", "source", src.String(), "error", err)
		}
	}
	return papers, false, nil
}

// Stats returns per-source call statistics.
func (s *Search) Stats() map[types.Source]SourceHealth {
	return s.health.Status()
}

// Close persists source statistics.
func (s *Search) Close() error {
	return s.health.Persist()
}
