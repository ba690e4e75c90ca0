// Package env defines the research environment the coordinator executes
// actions against, along with a deterministic simulator and a live paper
// search backed by OpenAlex and arXiv.
package env

import (
	"context"
	"errors"
	"fmt"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/policy"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/types"
)

// ErrBadOutcome marks an outcome that cannot be used as a learning signal.
var ErrBadOutcome = errors.New("env: unusable outcome")

// Request is one execution of an action for a task.
type Request struct {
	Episode int          `json:"episode"`
	Attempt int          `json:"attempt"`
	Task    types.Task   `json:"task"`
	Action  types.Action `json:"action"`
}

// Outcome is what the environment reports back for a request.
type Outcome struct {
	Relevance float64      `json:"relevance"`
	Reward    float64      `json:"reward"`
	Status    types.Status `json:"status"`
}

// Environment executes actions. Implementations must be safe to call from the
// coordinator's episode loop and should honor ctx cancellation.
type Environment interface {
	Evaluate(ctx context.Context, req Request) (Outcome, error)
}

// Func adapts an ordinary function to Environment.
type Func func(ctx context.Context, req Request) (Outcome, error)

// Evaluate calls f(ctx, req).
func (f Func) Evaluate(ctx context.Context, req Request) (Outcome, error) {
	return f(ctx, req)
}

// Check reports whether o is a usable success. A non-ok status, a relevance
// outside [0,1] or a non-finite reward all wrap ErrBadOutcome.
func Check(o Outcome) error {
	if o.Status != types.StatusOK {
		return fmt.Errorf("status %q: %w", o.Status, ErrBadOutcome)
	}
	if !policy.Finite(o.Relevance) || o.Relevance < 0 || o.Relevance > 1 {
		return fmt.Errorf("relevance %v out of range: %w", o.Relevance, ErrBadOutcome)
	}
	if !policy.Finite(o.Reward) {
		return fmt.Errorf("reward %v not finite: %w", o.Reward, ErrBadOutcome)
	}
	return nil
}

// Failed is the fail-safe outcome recorded when every tier is exhausted.
func Failed() Outcome {
	return Outcome{Status: types.StatusFailed}
}
