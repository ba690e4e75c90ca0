package coordinator

import (
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/config"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/types"
)

// Proposal gathers what both agents offered for one episode together with
// the observation counts that set their trust.
type Proposal struct {
	Strategy types.Strategy
	QValue   float64
	QObs     int

	Source    types.Source
	Mean      float64
	Pulls     int
	BanditObs int
}

// Vote is the resolved action with the weights that produced it.
type Vote struct {
	Action     types.Action
	Resolution types.Resolution
	WeightQ    float64
	WeightB    float64
}

// Resolve fuses a joint proposal into one action.
//
// When both estimates clear the confidence threshold the two components are
// combined directly. Otherwise each agent casts a ballot for a whole action,
// its own component plus fill for the other dimension, and the ballot with
// the larger trust weight (QObs+prior)/(QObs+BanditObs+2*prior) wins. On an
// exact tie each agent keeps its own dimension.
func Resolve(p Proposal, v config.VotingConfig, fill types.Action) Vote {
	if p.QValue > v.ConfidenceThreshold && p.Pulls > 0 && p.Mean > v.ConfidenceThreshold {
		return Vote{
			Action:     types.Action{Strategy: p.Strategy, Source: p.Source},
			Resolution: types.ResolutionCombined,
			WeightQ:    0.5,
			WeightB:    0.5,
		}
	}

	prior := v.TrustPrior
	wq := (float64(p.QObs) + prior) / (float64(p.QObs+p.BanditObs) + 2*prior)
	wb := 1 - wq

	vote := Vote{Resolution: types.ResolutionWeighted, WeightQ: wq, WeightB: wb}
	switch {
	case p.QObs > p.BanditObs:
		vote.Action = types.Action{Strategy: p.Strategy, Source: fill.Source}
	case p.BanditObs > p.QObs:
		vote.Action = types.Action{Strategy: fill.Strategy, Source: p.Source}
	default:
		vote.Action = types.Action{Strategy: p.Strategy, Source: p.Source}
	}
	return vote
}
