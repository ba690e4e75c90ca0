// Package sink forwards episode records out of the process: to a JSONL file,
// a SQLite database or an MQTT broker.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/config"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/types"
)

// Sink receives episode records in episode order.
type Sink interface {
	Write(ctx context.Context, rec types.EpisodeRecord) error
	Close() error
}

// Line is the JSON shape shared by the JSONL and MQTT sinks.
type Line struct {
	RunID string `json:"run_id"`
	types.EpisodeRecord
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.New().String()
}

// RunMeta describes the run a sink is attached to.
type RunMeta struct {
	ID     string
	Seed   uint64
	Config *config.Config
}

// Open creates every sink enabled in cfg. On error the sinks opened so far
// are closed.
func Open(ctx context.Context, cfg config.SinksConfig, meta RunMeta, logger *slog.Logger) ([]Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var out []Sink
	fail := func(err error) ([]Sink, error) {
		_ = CloseAll(out)
		return nil, err
	}

	if cfg.JSONL != "" {
		s, err := NewJSONL(cfg.JSONL, meta.ID)
		if err != nil {
			return fail(err)
		}
		out = append(out, s)
	}
	if cfg.SQLite != "" {
		s, err := NewSQLite(ctx, cfg.SQLite, meta)
		if err != nil {
			return fail(err)
		}
		out = append(out, s)
	}
	if cfg.MQTT != nil {
		s, err := NewMQTT(*cfg.MQTT, meta.ID, logger)
		if err != nil {
			return fail(err)
		}
		out = append(out, s)
	}
	logger.Info("sinks opened", "run_id", meta.ID, "count", len(out))
	return out, nil
}

// CloseAll closes every sink and joins their errors.
func CloseAll(sinks []Sink) error {
	var errs []error
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close sinks: %w", errors.Join(errs...))
	}
	return nil
}
