package env

import (
	"strings"
	"unicode"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/types"
)

// topicPhrase is the broad search phrase for each topic, indexed by topic.
var topicPhrase = [...]string{
	"machine learning",
	"natural language processing",
	"computer vision",
	"distributed systems",
	"theoretical computer science",
}

// TopicPhrase returns the broad search phrase for topic.
func TopicPhrase(t types.Topic) string {
	if !t.Valid() {
		return ""
	}
	return topicPhrase[t]
}

// FormulateQuery turns a task into a search string according to strategy:
//
//	broad    the topic phrase alone
//	specific the topic phrase plus the first two query terms
//	narrow   every query term, each quoted, plus the topic phrase
func FormulateQuery(t types.Task, s types.Strategy) string {
	phrase := TopicPhrase(t.Topic)
	terms := nonEmpty(t.QueryTerms)

	switch s {
	case types.Specific:
		if len(terms) > 2 {
			terms = terms[:2]
		}
		return strings.Join(append([]string{phrase}, terms...), " ")
	case types.Narrow:
		if len(terms) == 0 {
			return `"` + phrase + `"`
		}
		parts := make([]string, 0, len(terms)+1)
		for _, term := range terms {
			parts = append(parts, `"`+term+`"`)
		}
		return strings.Join(append(parts, phrase), " ")
	default:
		return phrase
	}
}

// Relevance scores papers against the task: for each paper, the fraction of
// task keywords found in its title or abstract, averaged over the papers.
func Relevance(t types.Task, papers []Paper) float64 {
	if len(papers) == 0 {
		return 0
	}
	keywords := Keywords(t)
	if len(keywords) == 0 {
		return 0
	}

	var sum float64
	for _, p := range papers {
		words := make(map[string]struct{})
		for _, w := range tokenize(p.Title + " " + p.Abstract) {
			words[w] = struct{}{}
		}
		hit := 0
		for _, k := range keywords {
			if _, ok := words[k]; ok {
				hit++
			}
		}
		sum += float64(hit) / float64(len(keywords))
	}
	return sum / float64(len(papers))
}

// Keywords returns the distinct lowercase tokens of the task's topic phrase
// and query terms, in first-seen order.
func Keywords(t types.Task) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		for _, w := range tokenize(s) {
			if _, ok := seen[w]; ok || len(w) < 3 {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	add(TopicPhrase(t.Topic))
	for _, term := range t.QueryTerms {
		add(term)
	}
	return out
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
