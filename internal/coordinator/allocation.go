package coordinator

import (
	"math/rand/v2"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/config"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/types"
)

// Allocator decides which agent governs each episode.
type Allocator struct {
	policy config.AllocationPolicy
	rng    *rand.Rand
}

// NewAllocator creates an allocator. rng is only consumed for rows that mix
// more than one allocation.
func NewAllocator(p config.AllocationPolicy, rng *rand.Rand) *Allocator {
	return &Allocator{policy: p, rng: rng}
}

// Allocate returns the allocation for the zero-based episode index and task
// difficulty. Every episode within the warm-up goes to both agents.
func (a *Allocator) Allocate(episode int, d types.Difficulty) types.ChosenBy {
	if episode < a.policy.WarmupEpisodes {
		return types.ChosenByBoth
	}
	w, ok := a.policy.Table[d]
	if !ok || !(w.Sum() > 0) {
		return types.ChosenByBoth
	}

	switch {
	case w.BanditOnly == 0 && w.Both == 0:
		return types.ChosenByQAgent
	case w.QOnly == 0 && w.Both == 0:
		return types.ChosenByBandit
	case w.QOnly == 0 && w.BanditOnly == 0:
		return types.ChosenByBoth
	}

	x := a.rng.Float64() * w.Sum()
	switch {
	case x < w.QOnly:
		return types.ChosenByQAgent
	case x < w.QOnly+w.BanditOnly:
		return types.ChosenByBandit
	default:
		return types.ChosenByBoth
	}
}

func usesQ(c types.ChosenBy) bool      { return c == types.ChosenByQAgent || c == types.ChosenByBoth }
func usesBandit(c types.ChosenBy) bool { return c == types.ChosenByBandit || c == types.ChosenByBoth }
