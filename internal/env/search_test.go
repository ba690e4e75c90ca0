package env

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestFormulateQuery(t *testing.T) {
	task := types.Task{Topic: types.TopicNLP, QueryTerms: []string{"transformers", " ", "attention", "pruning"}}
	tests := []struct {
		strategy types.Strategy
		want     string
	}{
		{types.Broad, "natural language processing"},
		{types.Specific, "natural language processing transformers attention"},
		{types.Narrow, `"transformers" "attention" "pruning" natural language processing`},
	}
	for _, tt := range tests {
		if got := FormulateQuery(task, tt.strategy); got != tt.want {
			t.Errorf("FormulateQuery(%s) = %q, want %q", tt.strategy, got, tt.want)
		}
	}

	bare := types.Task{Topic: types.TopicCV}
	if got := FormulateQuery(bare, types.Narrow); got != `"computer vision"` {
		t.Errorf("narrow without terms = %q", got)
	}
}

func TestRelevance(t *testing.T) {
	task := types.Task{Topic: types.TopicML, QueryTerms: []string{"bandits"}}
	// keywords: machine, learning, bandits
	papers := []Paper{
		{Title: "Contextual Bandits for Machine Learning", Abstract: ""},
		{Title: "Cooking", Abstract: "recipes"},
	}
	got := Relevance(task, papers)
	want := (3.0/3 + 0) / 2
	if got != want {
		t.Errorf("Relevance = %v, want %v", got, want)
	}
	if Relevance(task, nil) != 0 {
		t.Error("no papers should score 0")
	}
}

func TestRebuildAbstract(t *testing.T) {
	idx := map[string][]int{"learning": {1, 3}, "deep": {0}, "is": {2}}
	if got := rebuildAbstract(idx); got != "deep learning is learning" {
		t.Errorf("rebuildAbstract = %q", got)
	}
}

func TestOpenAlexClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/works" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("search") != "computer vision" {
			t.Errorf("search = %q", r.URL.Query().Get("search"))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"results":[{"id":"https://openalex.org/W1","title":"Computer vision survey",
			"publication_year":2021,"cited_by_count":40,
			"abstract_inverted_index":{"vision":[1],"computer":[0]}}]}`)
	}))
	defer srv.Close()

	c := NewOpenAlexClient(srv.URL, "", time.Second)
	papers, err := c.Search(context.Background(), "computer vision", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(papers) != 1 {
		t.Fatalf("papers = %d, want 1", len(papers))
	}
	p := papers[0]
	if p.Title != "Computer vision survey" || p.Year != 2021 || p.Citations != 40 || p.Abstract != "computer vision" {
		t.Errorf("unexpected paper %+v", p)
	}
}

func TestArxivClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Query().Get("search_query"), "all:") {
			t.Errorf("search_query = %q", r.URL.Query().Get("search_query"))
		}
		w.Header().Set("Content-Type", "application/atom+xml")
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/2101.00001v1</id>
    <published>2021-01-01T00:00:00Z</published>
    <title>Attention
      Is All You Need</title>
    <summary>  Transformers for natural language processing. </summary>
  </entry>
</feed>`)
	}))
	defer srv.Close()

	c := NewArxivClient(srv.URL, time.Second)
	papers, err := c.Search(context.Background(), "attention", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(papers) != 1 {
		t.Fatalf("papers = %d, want 1", len(papers))
	}
	if papers[0].Title != "Attention Is All You Need" || papers[0].Year != 2021 {
		t.Errorf("unexpected paper %+v", papers[0])
	}
}

func TestClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewOpenAlexClient(srv.URL, "", time.Second).Search(context.Background(), "x", 1)
	if err == nil {
		t.Fatal("expected error")
	}
	if kind := ClassifyFailure(err); kind != FailRateLimited {
		t.Errorf("kind = %s, want %s", kind, FailRateLimited)
	}
}

type fakeSearcher struct {
	calls  atomic.Int32
	papers []Paper
	err    error
}

func (f *fakeSearcher) Search(ctx context.Context, query string, limit int) ([]Paper, error) {
	f.calls.Add(1)
	return f.papers, f.err
}

func TestSearchEvaluateUsesCache(t *testing.T) {
	fake := &fakeSearcher{papers: []Paper{{Title: "Machine learning with bandits"}}}
	cfg := DefaultSearchConfig()
	cfg.CacheDir = t.TempDir()
	cfg.OpenAlexPerMinute = 0

	s, err := NewSearch(cfg, quietLogger(), WithSearcher(types.OpenAlexSource, fake))
	if err != nil {
		t.Fatal(err)
	}
	req := Request{
		Task:   types.Task{Topic: types.TopicML, QueryTerms: []string{"bandits"}},
		Action: types.Action{Strategy: types.Specific, Source: types.OpenAlexSource},
	}

	for i := 0; i < 2; i++ {
		o, err := s.Evaluate(context.Background(), req)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if err := Check(o); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if o.Relevance != 1 {
			t.Errorf("relevance = %v, want 1", o.Relevance)
		}
	}
	if n := fake.calls.Load(); n != 1 {
		t.Errorf("backend calls = %d, want 1 (second served from cache)", n)
	}

	st := s.Stats()[types.OpenAlexSource]
	if st.Calls != 2 || st.CacheHits != 1 || st.Failures != 0 || st.SuccessRate != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestSearchEvaluateRecordsFailures(t *testing.T) {
	fake := &fakeSearcher{err: errors.New("boom")}
	empty := &fakeSearcher{}
	cfg := DefaultSearchConfig()
	cfg.OpenAlexPerMinute, cfg.ArxivPerMinute = 0, 0
	s, err := NewSearch(cfg, quietLogger(),
		WithSearcher(types.OpenAlexSource, fake),
		WithSearcher(types.ArxivSource, empty))
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Evaluate(context.Background(), Request{Action: types.Action{Source: types.OpenAlexSource}})
	if err == nil {
		t.Fatal("expected error from failing backend")
	}
	_, err = s.Evaluate(context.Background(), Request{Action: types.Action{Source: types.ArxivSource}})
	if err == nil || ClassifyFailure(err) != FailEmpty {
		t.Fatalf("empty result err = %v, want %s", err, FailEmpty)
	}

	stats := s.Stats()
	if stats[types.OpenAlexSource].Failures != 1 || stats[types.OpenAlexSource].SuccessRate != 0 {
		t.Errorf("openalex stats %+v", stats[types.OpenAlexSource])
	}
	if stats[types.ArxivSource].FailureKinds[FailEmpty] != 1 {
		t.Errorf("arxiv stats %+v", stats[types.ArxivSource])
	}
}

func TestCacheKeyIsStable(t *testing.T) {
	c, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	a := c.Key(types.ArxivSource, "q")
	if a != c.Key(types.ArxivSource, "q") || len(a) != 64 {
		t.Errorf("unstable or malformed key %q", a)
	}
	if a == c.Key(types.OpenAlexSource, "q") {
		t.Error("key ignores source")
	}
	if _, ok := c.Get(types.ArxivSource, "missing"); ok {
		t.Error("unexpected hit")
	}
}

func TestHealthPersistRoundTrip(t *testing.T) {
	path := t.TempDir() + "/health.json"
	hr := NewHealthRegistry(2, path, quietLogger())
	hr.RecordFailure(types.ArxivSource, FailTimeout)
	hr.RecordSuccess(types.ArxivSource, false)
	if err := hr.Persist(); err != nil {
		t.Fatal(err)
	}

	again := NewHealthRegistry(2, path, quietLogger())
	st := again.Status()[types.ArxivSource]
	if st.Calls != 2 || st.Failures != 1 || st.FailureKinds[FailTimeout] != 1 {
		t.Errorf("reloaded stats %+v", st)
	}
}
