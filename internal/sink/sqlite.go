package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/types"
)

// SQLite stores runs and their episodes in a local database.
type SQLite struct {
	db    *sql.DB
	runID string
}

// RunInfo is one row of the runs table
type RunInfo struct {
	ID        string
	Seed      uint64
	StartedAt time.Time
	Episodes  int
}

// OpenSQLite opens the database at path and creates the schema if needed.
func OpenSQLite(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: wal mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id         TEXT PRIMARY KEY,
			seed       INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			config     TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS episodes (
			run_id            TEXT NOT NULL,
			episode           INTEGER NOT NULL,
			topic             TEXT NOT NULL,
			difficulty        TEXT NOT NULL,
			strategy          TEXT NOT NULL,
			source            TEXT NOT NULL,
			proposed_strategy TEXT NOT NULL,
			proposed_source   TEXT NOT NULL,
			chosen_by         TEXT NOT NULL,
			resolution        TEXT NOT NULL,
			relevance         REAL NOT NULL,
			reward            REAL NOT NULL,
			status            TEXT NOT NULL,
			tier              TEXT NOT NULL,
			attempts          INTEGER NOT NULL,
			PRIMARY KEY (run_id, episode)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_run ON episodes(run_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// NewSQLite opens path and registers the run described by meta.
func NewSQLite(ctx context.Context, path string, meta RunMeta) (*SQLite, error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}

	cfgJSON := []byte("{}")
	if meta.Config != nil {
		if cfgJSON, err = json.Marshal(meta.Config); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: marshal config: %w", err)
		}
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO runs (id, seed, started_at, config) VALUES (?, ?, ?, ?)`,
		meta.ID, int64(meta.Seed), time.Now().UTC().Format(time.RFC3339), string(cfgJSON))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: insert run: %w", err)
	}
	return &SQLite{db: db, runID: meta.ID}, nil
}

// Write inserts rec under the current run
func (s *SQLite) Write(ctx context.Context, rec types.EpisodeRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO episodes (run_id, episode, topic, difficulty, strategy, source,
			proposed_strategy, proposed_source, chosen_by, resolution,
			relevance, reward, status, tier, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, rec.Episode,
		rec.State.Topic.String(), rec.State.Difficulty.String(),
		rec.Action.Strategy.String(), rec.Action.Source.String(),
		rec.Proposed.Strategy.String(), rec.Proposed.Source.String(),
		string(rec.ChosenBy), string(rec.Resolution),
		rec.Relevance, rec.Reward,
		string(rec.Status), string(rec.Tier), rec.Attempts,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert episode %d: %w", rec.Episode, err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// Runs lists the recorded runs, most recent first.
func Runs(ctx context.Context, db *sql.DB) ([]RunInfo, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT r.id, r.seed, r.started_at, COUNT(e.episode)
		FROM runs r LEFT JOIN episodes e ON e.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at DESC, r.id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query runs: %w", err)
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var (
			ri      RunInfo
			seed    int64
			started string
		)
		if err := rows.Scan(&ri.ID, &seed, &started, &ri.Episodes); err != nil {
			return nil, err
		}
		ri.Seed = uint64(seed)
		ri.StartedAt, _ = time.Parse(time.RFC3339, started)
		out = append(out, ri)
	}
	return out, rows.Err()
}

// Episodes loads the episodes of one run in episode order.
func Episodes(ctx context.Context, db *sql.DB, runID string) ([]types.EpisodeRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT episode, topic, difficulty, strategy, source,
			proposed_strategy, proposed_source, chosen_by, resolution,
			relevance, reward, status, tier, attempts
		FROM episodes WHERE run_id = ? ORDER BY episode`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query episodes: %w", err)
	}
	defer rows.Close()

	var out []types.EpisodeRecord
	for rows.Next() {
		var rec types.EpisodeRecord
		var topic, diff, strat, src, pStrat, pSrc string
		var chosen, res, status, tier string
		if err := rows.Scan(&rec.Episode, &topic, &diff, &strat, &src,
			&pStrat, &pSrc, &chosen, &res,
			&rec.Relevance, &rec.Reward, &status, &tier, &rec.Attempts); err != nil {
			return nil, err
		}
		if err := parseRow(&rec, topic, diff, strat, src, pStrat, pSrc); err != nil {
			return nil, fmt.Errorf("sqlite: episode %d: %w", rec.Episode, err)
		}
		rec.ChosenBy = types.ChosenBy(chosen)
		rec.Resolution = types.Resolution(res)
		rec.Status = types.Status(status)
		rec.Tier = types.Tier(tier)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func parseRow(rec *types.EpisodeRecord, topic, diff, strat, src, pStrat, pSrc string) error {
	var err error
	if rec.State.Topic, err = types.ParseTopic(topic); err != nil {
		return err
	}
	if rec.State.Difficulty, err = types.ParseDifficulty(diff); err != nil {
		return err
	}
	if rec.Action.Strategy, err = types.ParseStrategy(strat); err != nil {
		return err
	}
	if rec.Action.Source, err = types.ParseSource(src); err != nil {
		return err
	}
	if rec.Proposed.Strategy, err = types.ParseStrategy(pStrat); err != nil {
		return err
	}
	rec.Proposed.Source, err = types.ParseSource(pSrc)
	return err
}
