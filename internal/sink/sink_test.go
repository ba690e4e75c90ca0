package sink

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/config"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sampleRecords() []types.EpisodeRecord {
	return []types.EpisodeRecord{
		{
			Episode:    0,
			State:      types.State{Topic: types.TopicML, Difficulty: types.Easy},
			Action:     types.Action{Strategy: types.Specific, Source: types.OpenAlexSource},
			Proposed:   types.Action{Strategy: types.Specific, Source: types.OpenAlexSource},
			ChosenBy:   types.ChosenByQAgent,
			Resolution: types.ResolutionSingle,
			Relevance:  0.75,
			Reward:     0.7,
			Status:     types.StatusOK,
			Tier:       types.TierPrimary,
			Attempts:   1,
		},
		{
			Episode:    1,
			State:      types.State{Topic: types.TopicCV, Difficulty: types.Hard},
			Action:     types.Action{Strategy: types.Narrow, Source: types.ArxivSource},
			Proposed:   types.Action{Strategy: types.Narrow, Source: types.ArxivSource},
			ChosenBy:   types.ChosenByBandit,
			Resolution: types.ResolutionSingle,
			Status:     types.StatusFailed,
			Tier:       types.TierFailSafe,
			Attempts:   3,
		},
	}
}

func TestJSONLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "episodes.jsonl")
	s, err := NewJSONL(path, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	recs := sampleRecords()
	for _, rec := range recs {
		if err := s.Write(context.Background(), rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(context.Background(), recs[0]); !errors.Is(err, os.ErrClosed) {
		t.Errorf("write after close: %v", err)
	}

	lines, err := ReadJSONL(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 {
		t.Fatalf("lines = %d", len(lines))
	}
	for i, l := range lines {
		if l.RunID != "run-1" || !reflect.DeepEqual(l.EpisodeRecord, recs[i]) {
			t.Errorf("line %d = %+v", i, l)
		}
	}
}

func TestJSONLAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "episodes.jsonl")
	for _, run := range []string{"a", "b"} {
		s, err := NewJSONL(path, run)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Write(context.Background(), sampleRecords()[0]); err != nil {
			t.Fatal(err)
		}
		s.Close()
	}
	lines, err := ReadJSONL(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 || lines[0].RunID != "a" || lines[1].RunID != "b" {
		t.Errorf("lines = %+v", lines)
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")
	meta := RunMeta{ID: NewRunID(), Seed: 42, Config: config.DefaultConfig()}

	s, err := NewSQLite(ctx, path, meta)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	recs := sampleRecords()
	for _, rec := range recs {
		if err := s.Write(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Write(ctx, recs[0]); err == nil {
		t.Error("duplicate episode should be rejected")
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	runs, err := Runs(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != meta.ID || runs[0].Seed != 42 || runs[0].Episodes != 2 {
		t.Errorf("runs = %+v", runs)
	}
	if time.Since(runs[0].StartedAt) > time.Hour {
		t.Errorf("started_at = %v", runs[0].StartedAt)
	}

	got, err := Episodes(ctx, db, meta.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, recs) {
		t.Errorf("episodes = %+v\nwant %+v", got, recs)
	}
}

type fakeToken struct {
	err     error
	timeout bool
}

func (f *fakeToken) Wait() bool                     { return true }
func (f *fakeToken) WaitTimeout(time.Duration) bool { return !f.timeout }
func (f *fakeToken) Error() error                   { return f.err }
func (f *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeClient struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	publishErr error
	published  [][]byte
	topics     []string
	qos        []byte
}

func (f *fakeClient) Connect() mqtt.Token {
	if f.connectErr != nil {
		return &fakeToken{err: f.connectErr}
	}
	f.connected = true
	return &fakeToken{}
}

func (f *fakeClient) Disconnect(uint) { f.connected = false }

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return &fakeToken{err: f.publishErr}
	}
	f.topics = append(f.topics, topic)
	f.qos = append(f.qos, qos)
	f.published = append(f.published, payload.([]byte))
	return &fakeToken{}
}

func (f *fakeClient) IsConnected() bool { return f.connected }

func TestMQTTPublishesEpisodes(t *testing.T) {
	fc := &fakeClient{}
	cfg := config.MQTTSinkConfig{Broker: "tcp://localhost:1883", Topic: "researchmind/episodes", QoS: 1}
	m, err := NewMQTTWithClient(cfg, "run-9", quietLogger(), func(*mqtt.ClientOptions) MQTTClient { return fc })
	if err != nil {
		t.Fatal(err)
	}

	rec := sampleRecords()[1]
	if err := m.Write(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if len(fc.published) != 1 || fc.topics[0] != cfg.Topic || fc.qos[0] != 1 {
		t.Fatalf("published %d messages to %v", len(fc.published), fc.topics)
	}
	var l Line
	if err := json.Unmarshal(fc.published[0], &l); err != nil {
		t.Fatal(err)
	}
	if l.RunID != "run-9" || !reflect.DeepEqual(l.EpisodeRecord, rec) {
		t.Errorf("payload = %+v", l)
	}

	m.Close()
	if fc.connected {
		t.Error("client still connected after Close")
	}
	if err := m.Write(context.Background(), rec); err == nil {
		t.Error("write after close should fail")
	}
}

func TestMQTTErrors(t *testing.T) {
	cfg := config.MQTTSinkConfig{Broker: "tcp://localhost:1883", Topic: "t"}

	_, err := NewMQTTWithClient(cfg, "r", quietLogger(), func(*mqtt.ClientOptions) MQTTClient {
		return &fakeClient{connectErr: errors.New("refused")}
	})
	if err == nil {
		t.Error("connect failure should surface")
	}

	fc := &fakeClient{publishErr: errors.New("broker gone")}
	m, err := NewMQTTWithClient(cfg, "r", quietLogger(), func(*mqtt.ClientOptions) MQTTClient { return fc })
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Write(context.Background(), sampleRecords()[0]); err == nil {
		t.Error("publish failure should surface")
	}
}

func TestOpenNothingEnabled(t *testing.T) {
	sinks, err := Open(context.Background(), config.SinksConfig{}, RunMeta{ID: "x"}, quietLogger())
	if err != nil || len(sinks) != 0 {
		t.Fatalf("sinks = %v err = %v", sinks, err)
	}
}

func TestOpenFileSinks(t *testing.T) {
	dir := t.TempDir()
	cfg := config.SinksConfig{
		JSONL:  filepath.Join(dir, "episodes.jsonl"),
		SQLite: filepath.Join(dir, "runs.db"),
	}
	sinks, err := Open(context.Background(), cfg, RunMeta{ID: NewRunID(), Seed: 1}, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if len(sinks) != 2 {
		t.Fatalf("opened %d sinks", len(sinks))
	}
	for _, s := range sinks {
		if err := s.Write(context.Background(), sampleRecords()[0]); err != nil {
			t.Error(err)
		}
	}
	if err := CloseAll(sinks); err != nil {
		t.Error(err)
	}
}
