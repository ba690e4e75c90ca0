// Package policy holds the pure exploration primitives shared by the learners:
// ε-greedy selection, UCB scoring, the curiosity bonus and seeded random
// streams.
package policy

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Stream identifiers. Each purpose in a run draws from its own stream so that
// adding draws for one purpose never shifts another.
const (
	StreamExplore uint64 = iota + 1
	StreamAllocate
	StreamFill
	StreamEnvironment
	StreamTasks
)

// NewRand returns a PCG-backed generator for the given run seed and stream.
func NewRand(seed, stream uint64) *rand.Rand {
	return rand.New(NewPCG(seed, stream))
}

// NewPCG returns the source behind NewRand. Callers that need to save and
// rewind a stream keep the source and wrap it with rand.New.
func NewPCG(seed, stream uint64) *rand.PCG {
	return rand.NewPCG(seed, stream)
}

// Mark captures the position of every source.
func Mark(srcs ...*rand.PCG) ([][]byte, error) {
	out := make([][]byte, len(srcs))
	for i, s := range srcs {
		b, err := s.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// Rewind moves every source back to the positions captured by Mark.
func Rewind(marks [][]byte, srcs ...*rand.PCG) error {
	if len(marks) != len(srcs) {
		return fmt.Errorf("rewind: %d marks for %d sources", len(marks), len(srcs))
	}
	for i, s := range srcs {
		if err := s.UnmarshalBinary(marks[i]); err != nil {
			return err
		}
	}
	return nil
}

// Argmax returns the index of the first maximal value, so ties resolve to the
// earliest entry in enumeration order. It returns -1 for an empty slice.
func Argmax(values []float64) int {
	best := -1
	for i, v := range values {
		if best == -1 || v > values[best] {
			best = i
		}
	}
	return best
}

// EpsilonGreedy draws exactly one coin flip from r. With probability epsilon
// it returns a uniformly random index (explored=true), otherwise Argmax.
func EpsilonGreedy(r *rand.Rand, epsilon float64, values []float64) (idx int, explored bool) {
	if len(values) == 0 {
		return -1, false
	}
	if r.Float64() < epsilon {
		return r.IntN(len(values)), true
	}
	return Argmax(values), false
}

// UCB computes mean + c*sqrt(ln(total)/n). An arm that was never pulled scores
// +Inf so that every arm is tried once before the bound applies.
func UCB(mean float64, n, total int, c float64) float64 {
	if n <= 0 {
		return math.Inf(1)
	}
	if total < 1 {
		total = 1
	}
	return mean + c*math.Sqrt(math.Log(float64(total))/float64(n))
}

// CuriosityBonus is the additive exploration incentive scale/(1+visits).
func CuriosityBonus(scale float64, visits int) float64 {
	if visits < 0 {
		visits = 0
	}
	return scale / float64(1+visits)
}

// Finite reports whether v is a real number (not NaN or ±Inf).
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
