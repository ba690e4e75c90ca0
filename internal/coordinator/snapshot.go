package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/bandit"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/qlearn"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/types"
)

// ErrNotFresh is returned by Restore once episodes have run.
var ErrNotFresh = errors.New("coordinator: restore requires a fresh coordinator")

// Snapshot is the complete learned state of a coordinator.
type Snapshot struct {
	Seed        uint64                 `json:"seed"`
	Episodes    []types.EpisodeRecord  `json:"episodes"`
	QTable      qlearn.Snapshot        `json:"qTable"`
	Bandit      bandit.Snapshot        `json:"bandit"`
	Allocations map[types.ChosenBy]int `json:"allocations"`
}

// Export captures the current state. Episodes are serialized, so the
// snapshot is consistent with the log.
func (c *Coordinator) Export() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	alloc := make(map[types.ChosenBy]int, len(c.allocations))
	for k, v := range c.allocations {
		alloc[k] = v
	}
	return Snapshot{
		Seed:        c.cfg.Run.Seed,
		Episodes:    append([]types.EpisodeRecord(nil), c.episodes...),
		QTable:      c.q.Snapshot(),
		Bandit:      c.bandit.Snapshot(),
		Allocations: alloc,
	}
}

// Restore loads a snapshot into a coordinator that has not run any episode.
// The episode log is restored too, so episode numbering continues where the
// snapshot left off and the allocation warm-up is not repeated.
func (c *Coordinator) Restore(snap Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.episodes) > 0 {
		return ErrNotFresh
	}
	if err := c.q.Restore(snap.QTable); err != nil {
		return fmt.Errorf("restore q-table: %w", err)
	}
	if err := c.bandit.Restore(snap.Bandit); err != nil {
		return fmt.Errorf("restore bandit: %w", err)
	}
	c.episodes = append([]types.EpisodeRecord(nil), snap.Episodes...)
	c.allocations = make(map[types.ChosenBy]int, len(snap.Allocations))
	for k, v := range snap.Allocations {
		c.allocations[k] = v
	}
	c.logger.Info("state restored",
		"episodes", len(c.episodes),
		"q_entries", len(snap.QTable.Entries),
		"arms", len(snap.Bandit.Arms),
	)
	return nil
}

// SaveSnapshot writes snap as indented JSON, replacing path atomically.
func SaveSnapshot(path string, snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadSnapshot reads a snapshot written by SaveSnapshot.
func LoadSnapshot(path string) (Snapshot, error) {
	var snap Snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, fmt.Errorf("read snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	return snap, nil
}
