// Package tasks builds the stream of research tasks fed to the coordinator,
// either generated from a seed or loaded from a YAML suite.
package tasks

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/policy"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/types"
)

// termPool holds candidate query terms per topic, indexed by topic.
var termPool = [...][]string{
	{"reinforcement learning", "bandits", "meta learning", "federated learning", "optimization", "generalization"},
	{"transformers", "machine translation", "question answering", "summarization", "language models", "tokenization"},
	{"object detection", "segmentation", "diffusion models", "self-supervised", "video understanding", "pose estimation"},
	{"consensus", "scheduling", "storage engines", "stream processing", "fault tolerance", "caching"},
	{"complexity", "approximation algorithms", "graph theory", "lower bounds", "online algorithms", "cryptography"},
}

// Terms returns the candidate query terms for topic.
func Terms(t types.Topic) []string {
	if !t.Valid() {
		return nil
	}
	return append([]string(nil), termPool[t]...)
}

// Generate returns n tasks with uniformly drawn topics and difficulties and
// one to three query terms each. The same seed always yields the same tasks.
func Generate(n int, seed uint64) []types.Task {
	r := policy.NewRand(seed, policy.StreamTasks)
	topics := types.Topics()
	diffs := types.Difficulties()

	out := make([]types.Task, 0, n)
	for i := 0; i < n; i++ {
		topic := topics[r.IntN(len(topics))]
		d := diffs[r.IntN(len(diffs))]

		pool := termPool[topic]
		perm := r.Perm(len(pool))
		k := 1 + r.IntN(3)
		terms := make([]string, 0, k)
		for _, idx := range perm[:k] {
			terms = append(terms, pool[idx])
		}
		out = append(out, types.Task{Topic: topic, Difficulty: d, QueryTerms: terms})
	}
	return out
}

// Suite is a YAML task file.
type Suite struct {
	Name   string       `yaml:"name,omitempty"`
	Repeat int          `yaml:"repeat,omitempty"`
	Tasks  []types.Task `yaml:"tasks"`
}

// LoadSuite reads a YAML task suite and expands its repeat count.
func LoadSuite(path string) ([]types.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task suite: %w", err)
	}

	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse task suite %s: %w", path, err)
	}
	if len(s.Tasks) == 0 {
		return nil, fmt.Errorf("task suite %s has no tasks", path)
	}
	for i, t := range s.Tasks {
		if !t.Topic.Valid() || !t.Difficulty.Valid() {
			return nil, fmt.Errorf("task suite %s: task %d is invalid", path, i)
		}
	}

	repeat := s.Repeat
	if repeat <= 0 {
		repeat = 1
	}
	out := make([]types.Task, 0, len(s.Tasks)*repeat)
	for i := 0; i < repeat; i++ {
		out = append(out, s.Tasks...)
	}
	return out, nil
}

// SaveSuite writes tasks as a YAML suite.
func SaveSuite(path, name string, tasks []types.Task) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create suite dir: %w", err)
	}
	data, err := yaml.Marshal(Suite{Name: name, Tasks: tasks})
	if err != nil {
		return fmt.Errorf("marshal task suite: %w", err)
	}
	return os.WriteFile(path, data, 0640)
}

// Cycle returns exactly n tasks, repeating tasks from the start as needed.
func Cycle(tasks []types.Task, n int) []types.Task {
	if len(tasks) == 0 || n <= 0 {
		return nil
	}
	out := make([]types.Task, n)
	for i := range out {
		out[i] = tasks[i%len(tasks)]
	}
	return out
}

// Build returns exactly episodes tasks: the suite at suitePath cycled to
// length, or a generated list when suitePath is empty.
func Build(suitePath string, episodes int, seed uint64) ([]types.Task, error) {
	if suitePath == "" {
		return Generate(episodes, seed), nil
	}
	suite, err := LoadSuite(suitePath)
	if err != nil {
		return nil, err
	}
	return Cycle(suite, episodes), nil
}
