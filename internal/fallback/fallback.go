// Package fallback executes an action through a three-tier recovery chain:
// the proposed action with retries, then a safe default action, then a
// fail-safe outcome that lets the episode complete.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/env"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/types"
)

// ErrCancelled is returned when the caller's context ends mid-chain. No tier
// result is produced in that case.
var ErrCancelled = errors.New("fallback: cancelled")

// Call performs one attempt. attempt counts from 0 across all tiers.
type Call func(ctx context.Context, attempt int, a types.Action) (env.Outcome, error)

// Policy configures the chain.
type Policy struct {
	Retries          int
	FallbackAttempts int
	Timeout          time.Duration
	Safe             types.Action
	Logger           *slog.Logger
}

// DefaultPolicy returns one retry, one safe-default attempt and a 30s timeout
// per call, with broad@openalex as the safe action.
func DefaultPolicy() Policy {
	return Policy{
		Retries:          1,
		FallbackAttempts: 1,
		Timeout:          30 * time.Second,
		Safe:             types.Action{Strategy: types.Broad, Source: types.OpenAlexSource},
	}
}

// Result describes how the chain ended.
type Result struct {
	Outcome  env.Outcome
	Action   types.Action
	Tier     types.Tier
	Attempts int
	// LastErr is the most recent attempt failure, nil when the first call
	// succeeded.
	LastErr error
}

// Execute runs the chain for action. The error is non-nil only when ctx was
// cancelled; collaborator failures are absorbed into the Result.
func (p Policy) Execute(ctx context.Context, action types.Action, call Call) (Result, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	res := Result{}
	attempt := func(tier types.Tier, a types.Action) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		o, err := p.try(ctx, res.Attempts, a, call)
		res.Attempts++
		if ctx.Err() != nil {
			return false, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		if err != nil {
			res.LastErr = err
			logger.Warn("attempt failed",
				"tier", string(tier),
				"action", a.String(),
				"attempt", res.Attempts,
				"error", err,
			)
			return false, nil
		}
		res.Outcome, res.Action, res.Tier = o, a, tier
		return true, nil
	}

	for i := 0; i <= p.Retries; i++ {
		tier := types.TierPrimary
		if i > 0 {
			tier = types.TierRetry
		}
		ok, err := attempt(tier, action)
		if err != nil {
			return Result{}, err
		}
		if ok {
			return res, nil
		}
	}

	if p.FallbackAttempts > 0 {
		logger.Warn("proposed action exhausted, trying safe default",
			"action", action.String(),
			"safe", p.Safe.String(),
		)
	}
	for i := 0; i < p.FallbackAttempts; i++ {
		ok, err := attempt(types.TierSafeDefault, p.Safe)
		if err != nil {
			return Result{}, err
		}
		if ok {
			return res, nil
		}
	}

	logger.Warn("all tiers failed, recording fail-safe outcome",
		"action", action.String(),
		"attempts", res.Attempts,
		"error", res.LastErr,
	)
	res.Outcome = env.Failed()
	res.Action = action
	res.Tier = types.TierFailSafe
	return res, nil
}

// try runs one call under the per-call timeout and validates its outcome.
func (p Policy) try(ctx context.Context, attempt int, a types.Action, call Call) (env.Outcome, error) {
	callCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	// A call that ignores ctx is abandoned once callCtx ends. Its late
	// result lands in the buffered channel and is dropped.
	done := make(chan callResult, 1)
	go func() {
		o, err := call(callCtx, attempt, a)
		done <- callResult{o, err}
	}()

	var r callResult
	select {
	case r = <-done:
	case <-callCtx.Done():
		return env.Outcome{}, callCtx.Err()
	}
	if r.err != nil {
		return env.Outcome{}, r.err
	}
	if err := env.Check(r.outcome); err != nil {
		return env.Outcome{}, err
	}
	return r.outcome, nil
}

type callResult struct {
	outcome env.Outcome
	err     error
}
