package policy

import (
	"math"
	"math/rand/v2"
	"testing"
)

func TestArgmaxTieBreaksToFirst(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   int
	}{
		{"empty", nil, -1},
		{"single", []float64{3}, 0},
		{"all equal", []float64{1, 1, 1}, 0},
		{"tie after first", []float64{0, 2, 2}, 1},
		{"clear max", []float64{0.1, -4, 7.5}, 2},
		{"inf wins", []float64{1, math.Inf(1), math.Inf(1)}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Argmax(tt.values); got != tt.want {
				t.Errorf("Argmax(%v) = %d, want %d", tt.values, got, tt.want)
			}
		})
	}
}

func TestEpsilonGreedyZeroIsGreedy(t *testing.T) {
	r := NewRand(7, StreamExplore)
	values := []float64{0, 5, 1}
	for i := 0; i < 100; i++ {
		idx, explored := EpsilonGreedy(r, 0, values)
		if explored || idx != 1 {
			t.Fatalf("draw %d: got (%d, %v), want (1, false)", i, idx, explored)
		}
	}
}

func TestEpsilonGreedyOneAlwaysExplores(t *testing.T) {
	r := NewRand(7, StreamExplore)
	seen := map[int]bool{}
	for i := 0; i < 200; i++ {
		idx, explored := EpsilonGreedy(r, 1, []float64{0, 5, 1})
		if !explored {
			t.Fatalf("draw %d: expected exploration", i)
		}
		seen[idx] = true
	}
	if len(seen) != 3 {
		t.Errorf("expected all 3 indices explored, saw %v", seen)
	}
}

func TestEpsilonGreedyReproducible(t *testing.T) {
	a := NewRand(42, StreamExplore)
	b := NewRand(42, StreamExplore)
	values := []float64{1, 2, 3}
	for i := 0; i < 50; i++ {
		ia, ea := EpsilonGreedy(a, 0.5, values)
		ib, eb := EpsilonGreedy(b, 0.5, values)
		if ia != ib || ea != eb {
			t.Fatalf("draw %d diverged: (%d,%v) vs (%d,%v)", i, ia, ea, ib, eb)
		}
	}
}

func TestStreamsAreIndependent(t *testing.T) {
	a := NewRand(42, StreamExplore)
	b := NewRand(42, StreamAllocate)
	same := 0
	for i := 0; i < 20; i++ {
		if a.Uint64() == b.Uint64() {
			same++
		}
	}
	if same == 20 {
		t.Error("streams with different ids produced identical sequences")
	}
}

func TestMarkRewind(t *testing.T) {
	explore, fill := NewPCG(7, StreamExplore), NewPCG(7, StreamFill)
	re, rf := rand.New(explore), rand.New(fill)
	re.Uint64()

	marks, err := Mark(explore, fill)
	if err != nil {
		t.Fatal(err)
	}
	want := []uint64{re.Uint64(), re.Uint64(), rf.Uint64()}

	if err := Rewind(marks, explore, fill); err != nil {
		t.Fatal(err)
	}
	got := []uint64{re.Uint64(), re.Uint64(), rf.Uint64()}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("draw %d after rewind = %d, want %d", i, got[i], want[i])
		}
	}

	if err := Rewind(marks[:1], explore, fill); err == nil {
		t.Error("rewind with missing marks accepted")
	}
}

func TestUCB(t *testing.T) {
	if v := UCB(0.9, 0, 10, 2); !math.IsInf(v, 1) {
		t.Errorf("untried arm: got %v, want +Inf", v)
	}

	got := UCB(0.5, 10, 11, 2)
	want := 0.5 + 2*math.Sqrt(math.Log(11)/10)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("UCB = %v, want %v", got, want)
	}

	// A single pull in total: ln(1) = 0, the bound collapses to the mean.
	if v := UCB(0.3, 1, 1, 2); v != 0.3 {
		t.Errorf("UCB with total=1: got %v, want 0.3", v)
	}
}

func TestCuriosityBonus(t *testing.T) {
	tests := []struct {
		visits int
		want   float64
	}{
		{0, 0.5},
		{1, 0.25},
		{3, 0.125},
		{-2, 0.5},
	}
	for _, tt := range tests {
		if got := CuriosityBonus(0.5, tt.visits); got != tt.want {
			t.Errorf("CuriosityBonus(0.5, %d) = %v, want %v", tt.visits, got, tt.want)
		}
	}
}

func TestFinite(t *testing.T) {
	if !Finite(1.5) || Finite(math.NaN()) || Finite(math.Inf(-1)) {
		t.Error("Finite misclassified a value")
	}
}
