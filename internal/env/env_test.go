package env

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/types"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		outcome Outcome
		wantErr bool
	}{
		{"ok", Outcome{Relevance: 0.4, Reward: 0.3, Status: types.StatusOK}, false},
		{"failed status", Outcome{Relevance: 0.4, Status: types.StatusFailed}, true},
		{"empty status", Outcome{Relevance: 0.4}, true},
		{"relevance above one", Outcome{Relevance: 1.2, Status: types.StatusOK}, true},
		{"negative relevance", Outcome{Relevance: -0.1, Status: types.StatusOK}, true},
		{"nan reward", Outcome{Relevance: 0.5, Reward: math.NaN(), Status: types.StatusOK}, true},
		{"negative reward is fine", Outcome{Relevance: 0, Reward: -0.1, Status: types.StatusOK}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.outcome)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Check() err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrBadOutcome) {
				t.Errorf("error %v does not wrap ErrBadOutcome", err)
			}
		})
	}
}

func TestFuncAdapter(t *testing.T) {
	called := false
	var e Environment = Func(func(ctx context.Context, req Request) (Outcome, error) {
		called = true
		return Outcome{Relevance: 1, Reward: 1, Status: types.StatusOK}, nil
	})
	if _, err := e.Evaluate(context.Background(), Request{}); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("wrapped function not called")
	}
}

func simRequest(ep, attempt int, topic types.Topic, d types.Difficulty, a types.Action) Request {
	return Request{
		Episode: ep,
		Attempt: attempt,
		Task:    types.Task{Topic: topic, Difficulty: d},
		Action:  a,
	}
}

func TestSimulatedIsPureFunctionOfRequest(t *testing.T) {
	sim := NewSimulated(SimulatedConfig{Seed: 11, Noise: 0.1, FailureRate: 0.2})
	ctx := context.Background()
	req := simRequest(7, 0, types.TopicNLP, types.Hard, types.Action{Strategy: types.Narrow, Source: types.ArxivSource})

	first, err := sim.Evaluate(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	// Unrelated calls in between must not shift the result.
	for i := 0; i < 10; i++ {
		_, _ = sim.Evaluate(ctx, simRequest(i, 0, types.TopicML, types.Easy, types.Action{}))
	}
	second, err := sim.Evaluate(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("outcomes differ: %+v vs %+v", first, second)
	}
}

func TestSimulatedOutcomesAreValid(t *testing.T) {
	sim := NewSimulated(SimulatedConfig{Seed: 3, Noise: 0.3})
	ctx := context.Background()
	for ep := 0; ep < 200; ep++ {
		topic := types.Topic(ep % 5)
		d := types.Difficulty(ep % 3)
		a := types.Action{Strategy: types.Strategy(ep % 3), Source: types.Source(ep % 2)}
		o, err := sim.Evaluate(ctx, simRequest(ep, 0, topic, d, a))
		if err != nil {
			t.Fatal(err)
		}
		if err := Check(o); err != nil {
			t.Fatalf("episode %d: %v", ep, err)
		}
	}
}

func TestSimulatedAffinities(t *testing.T) {
	sim := NewSimulated(SimulatedConfig{Seed: 1})
	hard := types.Task{Topic: types.TopicML, Difficulty: types.Hard}
	if sim.Expected(hard, types.Action{Strategy: types.Narrow, Source: types.ArxivSource}) <=
		sim.Expected(hard, types.Action{Strategy: types.Broad, Source: types.ArxivSource}) {
		t.Error("narrow should beat broad on hard tasks")
	}
	sys := types.Task{Topic: types.TopicSystems, Difficulty: types.Easy}
	if sim.Expected(sys, types.Action{Source: types.OpenAlexSource}) <=
		sim.Expected(sys, types.Action{Source: types.ArxivSource}) {
		t.Error("openalex should beat arxiv for systems")
	}
}

func TestSimulatedFailureRate(t *testing.T) {
	ctx := context.Background()
	always := NewSimulated(SimulatedConfig{Seed: 5, FailureRate: 1})
	o, err := always.Evaluate(ctx, simRequest(0, 0, types.TopicCV, types.Medium, types.Action{}))
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != types.StatusFailed {
		t.Errorf("status = %s, want failed", o.Status)
	}

	never := NewSimulated(SimulatedConfig{Seed: 5})
	o, _ = never.Evaluate(ctx, simRequest(0, 0, types.TopicCV, types.Medium, types.Action{}))
	if o.Status != types.StatusOK {
		t.Errorf("status = %s, want ok", o.Status)
	}
}

func TestSimulatedHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSimulated(SimulatedConfig{}).Evaluate(ctx, Request{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
