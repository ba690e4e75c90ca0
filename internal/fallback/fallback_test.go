package fallback

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/env"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/types"
)

func testPolicy() Policy {
	p := DefaultPolicy()
	p.Timeout = time.Second
	p.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return p
}

var (
	proposed = types.Action{Strategy: types.Narrow, Source: types.ArxivSource}
	good     = env.Outcome{Relevance: 0.7, Reward: 0.6, Status: types.StatusOK}
)

// script returns a Call that answers from outcomes in order and records the
// actions it was asked to run.
func script(seen *[]types.Action, results ...error) Call {
	return func(ctx context.Context, attempt int, a types.Action) (env.Outcome, error) {
		*seen = append(*seen, a)
		if attempt < len(results) && results[attempt] != nil {
			return env.Outcome{}, results[attempt]
		}
		return good, nil
	}
}

func TestExecuteTiers(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name         string
		results      []error
		wantTier     types.Tier
		wantAttempts int
		wantAction   types.Action
		wantStatus   types.Status
	}{
		{"primary succeeds", nil, types.TierPrimary, 1, proposed, types.StatusOK},
		{"retry succeeds", []error{boom}, types.TierRetry, 2, proposed, types.StatusOK},
		{"safe default succeeds", []error{boom, boom}, types.TierSafeDefault, 3, testPolicy().Safe, types.StatusOK},
		{"fail safe", []error{boom, boom, boom}, types.TierFailSafe, 3, proposed, types.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen []types.Action
			res, err := testPolicy().Execute(context.Background(), proposed, script(&seen, tt.results...))
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if res.Tier != tt.wantTier {
				t.Errorf("tier = %s, want %s", res.Tier, tt.wantTier)
			}
			if res.Attempts != tt.wantAttempts || len(seen) != tt.wantAttempts {
				t.Errorf("attempts = %d (calls %d), want %d", res.Attempts, len(seen), tt.wantAttempts)
			}
			if res.Action != tt.wantAction {
				t.Errorf("action = %s, want %s", res.Action, tt.wantAction)
			}
			if res.Outcome.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", res.Outcome.Status, tt.wantStatus)
			}
		})
	}
}

func TestFailSafeOutcomeIsZero(t *testing.T) {
	call := func(ctx context.Context, attempt int, a types.Action) (env.Outcome, error) {
		return env.Outcome{Status: types.StatusFailed, Reward: 3, Relevance: 0.9}, nil
	}
	res, err := testPolicy().Execute(context.Background(), proposed, call)
	if err != nil {
		t.Fatal(err)
	}
	if res.Tier != types.TierFailSafe {
		t.Fatalf("tier = %s", res.Tier)
	}
	if res.Outcome.Reward != 0 || res.Outcome.Relevance != 0 {
		t.Errorf("fail-safe outcome = %+v, want zero reward and relevance", res.Outcome)
	}
	if !errors.Is(res.LastErr, env.ErrBadOutcome) {
		t.Errorf("LastErr = %v, want ErrBadOutcome", res.LastErr)
	}
}

func TestInvalidOutcomeIsTransient(t *testing.T) {
	calls := 0
	call := func(ctx context.Context, attempt int, a types.Action) (env.Outcome, error) {
		calls++
		if attempt == 0 {
			return env.Outcome{Relevance: 1.5, Status: types.StatusOK}, nil
		}
		return good, nil
	}
	res, err := testPolicy().Execute(context.Background(), proposed, call)
	if err != nil {
		t.Fatal(err)
	}
	if res.Tier != types.TierRetry || calls != 2 {
		t.Errorf("tier = %s after %d calls, want retry after 2", res.Tier, calls)
	}
}

func TestRetriesConfigurable(t *testing.T) {
	p := testPolicy()
	p.Retries = 3
	p.FallbackAttempts = 2
	var seen []types.Action
	boom := errors.New("boom")
	res, err := p.Execute(context.Background(), proposed, script(&seen, boom, boom, boom, boom, boom, boom))
	if err != nil {
		t.Fatal(err)
	}
	if res.Attempts != 6 || res.Tier != types.TierFailSafe {
		t.Errorf("attempts = %d tier = %s, want 6 fail_safe", res.Attempts, res.Tier)
	}
	for i, a := range seen {
		want := proposed
		if i >= 4 {
			want = p.Safe
		}
		if a != want {
			t.Errorf("call %d ran %s, want %s", i, a, want)
		}
	}
}

func TestPerCallTimeout(t *testing.T) {
	p := testPolicy()
	p.Timeout = 20 * time.Millisecond
	call := func(ctx context.Context, attempt int, a types.Action) (env.Outcome, error) {
		if attempt == 0 {
			<-ctx.Done()
			return env.Outcome{}, ctx.Err()
		}
		return good, nil
	}
	res, err := p.Execute(context.Background(), proposed, call)
	if err != nil {
		t.Fatalf("a per-call timeout must not cancel the chain: %v", err)
	}
	if res.Tier != types.TierRetry {
		t.Errorf("tier = %s, want retry", res.Tier)
	}
	if !errors.Is(res.LastErr, context.DeadlineExceeded) {
		t.Errorf("LastErr = %v, want deadline exceeded", res.LastErr)
	}
}

func TestTimeoutAbandonsStuckCall(t *testing.T) {
	p := testPolicy()
	p.Timeout = 20 * time.Millisecond
	release := make(chan struct{})
	defer close(release)
	call := func(ctx context.Context, attempt int, a types.Action) (env.Outcome, error) {
		if attempt == 0 {
			<-release
		}
		return good, nil
	}

	start := time.Now()
	res, err := p.Execute(context.Background(), proposed, call)
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Execute took %v, the stuck attempt was not abandoned", elapsed)
	}
	if res.Tier != types.TierRetry || res.Attempts != 2 {
		t.Errorf("tier = %s attempts = %d, want retry after 2", res.Tier, res.Attempts)
	}
	if !errors.Is(res.LastErr, context.DeadlineExceeded) {
		t.Errorf("LastErr = %v, want deadline exceeded", res.LastErr)
	}
}

func TestParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	call := func(c context.Context, attempt int, a types.Action) (env.Outcome, error) {
		cancel()
		return env.Outcome{}, errors.New("interrupted")
	}
	_, err := testPolicy().Execute(ctx, proposed, call)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}

	_, err = testPolicy().Execute(ctx, proposed, func(context.Context, int, types.Action) (env.Outcome, error) {
		t.Error("call made with a cancelled context")
		return good, nil
	})
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("err = %v, want ErrCancelled", err)
	}
}
