package tasks

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/types"
)

func TestGenerateDeterministic(t *testing.T) {
	a := Generate(100, 7)
	b := Generate(100, 7)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("same seed produced different tasks")
	}
	if reflect.DeepEqual(a, Generate(100, 8)) {
		t.Error("different seeds produced identical tasks")
	}
}

func TestGenerateCoversEnumerations(t *testing.T) {
	tasks := Generate(600, 1)
	topics := map[types.Topic]int{}
	diffs := map[types.Difficulty]int{}
	for _, task := range tasks {
		topics[task.Topic]++
		diffs[task.Difficulty]++
		if n := len(task.QueryTerms); n < 1 || n > 3 {
			t.Fatalf("task has %d query terms", n)
		}
		seen := map[string]bool{}
		for _, term := range task.QueryTerms {
			if seen[term] {
				t.Fatalf("duplicate term %q in %+v", term, task)
			}
			seen[term] = true
		}
	}
	if len(topics) != 5 || len(diffs) != 3 {
		t.Errorf("coverage topics=%v difficulties=%v", topics, diffs)
	}
	for d, n := range diffs {
		if n < 120 {
			t.Errorf("difficulty %s drawn only %d/600 times", d, n)
		}
	}
}

func TestSuiteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suites", "smoke.yaml")
	in := []types.Task{
		{Topic: types.TopicCV, Difficulty: types.Hard, QueryTerms: []string{"segmentation"}},
		{Topic: types.TopicTheory, Difficulty: types.Easy},
	}
	if err := SaveSuite(path, "smoke", in); err != nil {
		t.Fatal(err)
	}
	out, err := LoadSuite(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0].Topic != types.TopicCV || out[0].Difficulty != types.Hard || out[1].Topic != types.TopicTheory {
		t.Errorf("unexpected tasks %+v", out)
	}
}

func TestLoadSuiteRepeatAndNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suite.yaml")
	body := `
name: mixed
repeat: 3
tasks:
  - topic: nlp
    difficulty: Medium
    query_terms: [transformers]
  - topic: Systems
    difficulty: hard
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	out, err := LoadSuite(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 6 {
		t.Fatalf("tasks = %d, want 6", len(out))
	}
	if out[2].Topic != types.TopicNLP || out[2].Difficulty != types.Medium {
		t.Errorf("third task = %+v", out[2])
	}
}

func TestLoadSuiteErrors(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"empty.yaml":   "name: nothing\n",
		"badenum.yaml": "tasks:\n  - topic: biology\n    difficulty: easy\n",
	}
	for name, body := range cases {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadSuite(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestCycle(t *testing.T) {
	in := Generate(3, 2)
	out := Cycle(in, 7)
	if len(out) != 7 {
		t.Fatalf("len = %d", len(out))
	}
	if !reflect.DeepEqual(out[6], in[0]) || !reflect.DeepEqual(out[4], in[1]) {
		t.Error("cycle order wrong")
	}
	if Cycle(nil, 5) != nil {
		t.Error("empty input should yield nil")
	}
}

func TestBuild(t *testing.T) {
	got, err := Build("", 12, 3)
	if err != nil || !reflect.DeepEqual(got, Generate(12, 3)) {
		t.Fatalf("generated build = %v, %v", got, err)
	}

	path := filepath.Join(t.TempDir(), "suite.yaml")
	if err := SaveSuite(path, "two", Generate(2, 1)); err != nil {
		t.Fatal(err)
	}
	got, err = Build(path, 5, 99)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 || !reflect.DeepEqual(got[4], got[0]) {
		t.Errorf("suite build = %+v", got)
	}
	if _, err := Build(filepath.Join(t.TempDir(), "missing.yaml"), 5, 1); err == nil {
		t.Error("missing suite should fail")
	}
}
