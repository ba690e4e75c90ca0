package env

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/types"
)

// Cache stores search results on disk, one JSON file per (source, query).
type Cache struct {
	dir string
}

// NewCache creates the cache directory if needed.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Key returns the hex BLAKE2b-256 digest of source and query.
func (c *Cache) Key(src types.Source, query string) string {
	sum := blake2b.Sum256([]byte(src.String() + "\x00" + query))
	return hex.EncodeToString(sum[:])
}

// Get returns cached papers. A missing or unreadable entry is a miss.
func (c *Cache) Get(src types.Source, query string) ([]Paper, bool) {
	data, err := os.ReadFile(c.path(src, query))
	if err != nil {
		return nil, false
	}
	var papers []Paper
	if err := json.Unmarshal(data, &papers); err != nil || len(papers) == 0 {
		return nil, false
	}
	return papers, true
}

// Put writes papers for (source, query).
func (c *Cache) Put(src types.Source, query string, papers []Paper) error {
	data, err := json.Marshal(papers)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	tmp := c.path(src, query) + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return os.Rename(tmp, c.path(src, query))
}

func (c *Cache) path(src types.Source, query string) string {
	return filepath.Join(c.dir, c.Key(src, query)+".json")
}
