package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/types"
)

// JSONL appends one JSON object per episode to a file.
type JSONL struct {
	runID string
	mu    sync.Mutex
	f     *os.File
}

// NewJSONL opens path for appending, creating it and its directory.
func NewJSONL(path, runID string) (*JSONL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open episodes file: %w", err)
	}
	return &JSONL{runID: runID, f: f}, nil
}

// Write appends rec as one line
func (j *JSONL) Write(_ context.Context, rec types.EpisodeRecord) error {
	data, err := json.Marshal(Line{RunID: j.runID, EpisodeRecord: rec})
	if err != nil {
		return fmt.Errorf("marshal episode: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return os.ErrClosed
	}
	if _, err := j.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write episode: %w", err)
	}
	return nil
}

func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

// ReadJSONL loads every line of a JSONL episode file.
func ReadJSONL(path string) ([]Line, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open episodes file: %w", err)
	}
	defer f.Close()

	var out []Line
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var l Line
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, n, err)
		}
		out = append(out, l)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read episodes file: %w", err)
	}
	return out, nil
}
