// Package types provides the value types shared by the agents, the coordinator
// and its collaborators. Every enumeration is closed: the set of legal values
// is fixed at compile time and the declaration order is the tie-break order
// used by the learners.
package types

import (
	"fmt"
	"strings"
)

// Topic is the research area of a task. It is the bandit's context.
type Topic uint8

const (
	TopicML Topic = iota
	TopicNLP
	TopicCV
	TopicSystems
	TopicTheory
	numTopics
)

var topicNames = [...]string{"ML", "NLP", "CV", "Systems", "Theory"}

// Topics returns every topic in enumeration order.
func Topics() []Topic {
	out := make([]Topic, 0, numTopics)
	for t := Topic(0); t < numTopics; t++ {
		out = append(out, t)
	}
	return out
}

// ParseTopic parses a topic name case-insensitively.
func ParseTopic(s string) (Topic, error) {
	for i, name := range topicNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Topic(i), nil
		}
	}
	return 0, fmt.Errorf("unknown topic %q", s)
}

func (t Topic) Valid() bool { return t < numTopics }

func (t Topic) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Topic(%d)", uint8(t))
	}
	return topicNames[t]
}

func (t Topic) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid topic %d", uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *Topic) UnmarshalText(b []byte) error {
	v, err := ParseTopic(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Difficulty is the ordered hardness category of a task.
type Difficulty uint8

const (
	Easy Difficulty = iota
	Medium
	Hard
	numDifficulties
)

var difficultyNames = [...]string{"easy", "medium", "hard"}

// Difficulties returns every difficulty from easiest to hardest.
func Difficulties() []Difficulty {
	return []Difficulty{Easy, Medium, Hard}
}

// ParseDifficulty parses a difficulty name case-insensitively.
func ParseDifficulty(s string) (Difficulty, error) {
	for i, name := range difficultyNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Difficulty(i), nil
		}
	}
	return 0, fmt.Errorf("unknown difficulty %q", s)
}

func (d Difficulty) Valid() bool { return d < numDifficulties }

func (d Difficulty) String() string {
	if !d.Valid() {
		return fmt.Sprintf("Difficulty(%d)", uint8(d))
	}
	return difficultyNames[d]
}

func (d Difficulty) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid difficulty %d", uint8(d))
	}
	return []byte(d.String()), nil
}

func (d *Difficulty) UnmarshalText(b []byte) error {
	v, err := ParseDifficulty(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Strategy is the query-formulation choice made by the Q-learning agent.
type Strategy uint8

const (
	Broad Strategy = iota
	Specific
	Narrow
	numStrategies
)

var strategyNames = [...]string{"broad", "specific", "narrow"}

// Strategies returns every strategy in enumeration order.
func Strategies() []Strategy {
	return []Strategy{Broad, Specific, Narrow}
}

// NumStrategies is the size of the strategy enumeration.
const NumStrategies = int(numStrategies)

// ParseStrategy parses a strategy name case-insensitively.
func ParseStrategy(s string) (Strategy, error) {
	for i, name := range strategyNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Strategy(i), nil
		}
	}
	return 0, fmt.Errorf("unknown strategy %q", s)
}

func (s Strategy) Valid() bool { return s < numStrategies }

func (s Strategy) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Strategy(%d)", uint8(s))
	}
	return strategyNames[s]
}

func (s Strategy) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid strategy %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Strategy) UnmarshalText(b []byte) error {
	v, err := ParseStrategy(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Source is a paper database, the bandit's arm.
type Source uint8

const (
	OpenAlexSource Source = iota
	ArxivSource
	numSources
)

var sourceNames = [...]string{"openalex", "arxiv"}

// Sources returns every source in enumeration order.
func Sources() []Source {
	return []Source{OpenAlexSource, ArxivSource}
}

// NumSources is the size of the source enumeration.
const NumSources = int(numSources)

// ParseSource accepts the short names ("openalex", "arxiv") as well as the
// long forms ("OpenAlexSource", "ArxivSource").
func ParseSource(s string) (Source, error) {
	norm := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "source")
	for i, name := range sourceNames {
		if norm == name {
			return Source(i), nil
		}
	}
	return 0, fmt.Errorf("unknown source %q", s)
}

func (s Source) Valid() bool { return s < numSources }

func (s Source) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Source(%d)", uint8(s))
	}
	return sourceNames[s]
}

func (s Source) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid source %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Source) UnmarshalText(b []byte) error {
	v, err := ParseSource(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// State indexes the Q-table. It is a comparable value used as a map key.
type State struct {
	Topic      Topic      `json:"topic"`
	Difficulty Difficulty `json:"difficulty"`
}

func (s State) String() string {
	return s.Topic.String() + "/" + s.Difficulty.String()
}

// Action is one resolved decision: a strategy from the Q-agent and a source
// from the bandit.
type Action struct {
	Strategy Strategy `json:"strategy"`
	Source   Source   `json:"source"`
}

func (a Action) String() string {
	return a.Strategy.String() + "@" + a.Source.String()
}

// Task is the unit of work handed to the coordinator for one episode.
type Task struct {
	Topic      Topic      `json:"topic" yaml:"topic"`
	Difficulty Difficulty `json:"difficulty" yaml:"difficulty"`
	QueryTerms []string   `json:"query_terms,omitempty" yaml:"query_terms,omitempty"`
}

// State returns the Q-table key for the task.
func (t Task) State() State {
	return State{Topic: t.Topic, Difficulty: t.Difficulty}
}

// ChosenBy records which agent(s) governed an episode.
type ChosenBy string

const (
	ChosenByQAgent ChosenBy = "q_agent"
	ChosenByBandit ChosenBy = "bandit"
	ChosenByBoth   ChosenBy = "both_voted"
)

// Status is the terminal status of an episode or a collaborator call.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Tier identifies which step of the fallback chain produced an outcome.
type Tier string

const (
	TierPrimary     Tier = "primary"
	TierRetry       Tier = "retry"
	TierSafeDefault Tier = "safe_default"
	TierFailSafe    Tier = "fail_safe"
)

// Resolution describes how the executed action was resolved.
type Resolution string

const (
	// ResolutionSingle: one authoritative agent, the other dimension filled.
	ResolutionSingle Resolution = "single"
	// ResolutionCombined: both proposals cleared the confidence threshold.
	ResolutionCombined Resolution = "combined"
	// ResolutionWeighted: observation-weighted vote.
	ResolutionWeighted Resolution = "weighted"
)

// EpisodeRecord is one immutable entry of the experiment trace. It carries no
// wall-clock data so that identical runs produce byte-identical traces.
type EpisodeRecord struct {
	Episode    int        `json:"episode"`
	State      State      `json:"state"`
	Action     Action     `json:"action"`
	Proposed   Action     `json:"proposed"`
	ChosenBy   ChosenBy   `json:"chosen_by"`
	Resolution Resolution `json:"resolution"`
	Relevance  float64    `json:"relevance"`
	Reward     float64    `json:"reward"`
	Status     Status     `json:"status"`
	Tier       Tier       `json:"tier"`
	Attempts   int        `json:"attempts"`
}

// Failed reports whether the episode exhausted every fallback tier.
func (r EpisodeRecord) Failed() bool { return r.Status != StatusOK }
