package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/bandit"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/coordinator"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/experiment"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/qlearn"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/types"
)

var (
	primaryColor = lipgloss.Color("#7C3AED") // violet
	mutedColor   = lipgloss.Color("#6B7280") // gray
	successColor = lipgloss.Color("#10B981") // green
	errorColor   = lipgloss.Color("#EF4444") // red

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(primaryColor).MarginTop(1)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	okStyle     = lipgloss.NewStyle().Foreground(successColor)
	failStyle   = lipgloss.NewStyle().Foreground(errorColor)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(mutedColor)).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func section(w io.Writer, title string, t *table.Table) {
	fmt.Fprintln(w, titleStyle.Render(title))
	fmt.Fprintln(w, t.String())
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func saveJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return os.WriteFile(path, data, 0640)
}

func f3(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) }

func statusCell(s types.Status) string {
	if s == types.StatusOK {
		return okStyle.Render(string(s))
	}
	return failStyle.Render(string(s))
}

func renderReport(w io.Writer, r coordinator.Report) {
	t := newTable("episodes", "failed", "mean reward", "mean relevance", "duration").
		Row(strconv.Itoa(r.Episodes), strconv.Itoa(r.Failed), f3(r.MeanReward), f3(r.MeanRelevance), r.Duration.Round(time.Millisecond).String())
	section(w, "Run", t)

	alloc := newTable("chosen by", "episodes")
	for _, cb := range []types.ChosenBy{types.ChosenByQAgent, types.ChosenByBandit, types.ChosenByBoth} {
		alloc.Row(string(cb), strconv.Itoa(r.Allocations[cb]))
	}
	section(w, "Allocation", alloc)

	tiers := newTable("tier", "episodes")
	for _, tier := range []types.Tier{types.TierPrimary, types.TierRetry, types.TierSafeDefault, types.TierFailSafe} {
		tiers.Row(string(tier), strconv.Itoa(r.Tiers[tier]))
	}
	section(w, "Fallback tiers", tiers)
}

func renderQTable(w io.Writer, s qlearn.Snapshot) {
	t := newTable("state", "strategy", "value", "visits")
	for _, e := range s.Entries {
		t.Row(e.State.String(), e.Strategy.String(), f3(e.Value), strconv.Itoa(e.Visits))
	}
	section(w, "Q-table", t)
}

func renderArms(w io.Writer, s bandit.Snapshot) {
	t := newTable("topic", "source", "pulls", "mean")
	for _, a := range s.Arms {
		t.Row(a.Topic.String(), a.Source.String(), strconv.Itoa(a.Pulls), f3(a.Mean))
	}
	section(w, "Bandit arms", t)
}

func renderAllocations(w io.Writer, counts map[types.ChosenBy]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	t := newTable("chosen by", "episodes")
	for _, k := range keys {
		t.Row(k, strconv.Itoa(counts[types.ChosenBy(k)]))
	}
	section(w, "Allocation history", t)
}

func renderEpisodes(w io.Writer, recs []types.EpisodeRecord) {
	t := newTable("#", "state", "action", "chosen by", "resolution", "reward", "status", "tier", "attempts")
	for _, r := range recs {
		t.Row(
			strconv.Itoa(r.Episode),
			r.State.String(),
			r.Action.String(),
			string(r.ChosenBy),
			string(r.Resolution),
			f3(r.Reward),
			statusCell(r.Status),
			string(r.Tier),
			strconv.Itoa(r.Attempts),
		)
	}
	section(w, "Episodes", t)
}

func renderSummary(w io.Writer, s experiment.Summary) {
	trials := newTable("trial", "seed", "episodes", "failed", "mean reward", "mean relevance")
	for _, tr := range s.Trials {
		trials.Row(
			strconv.Itoa(tr.Index),
			strconv.FormatUint(tr.Seed, 10),
			strconv.Itoa(tr.Report.Episodes),
			strconv.Itoa(tr.Report.Failed),
			f3(tr.Report.MeanReward),
			f3(tr.Report.MeanRelevance),
		)
	}
	section(w, "Trials", trials)

	agg := newTable("metric", "mean", "stddev", "min", "max")
	row := func(name string, st experiment.Stat) {
		agg.Row(name, f3(st.Mean), f3(st.StdDev), f3(st.Min), f3(st.Max))
	}
	row("reward", s.Reward)
	row("relevance", s.Relevance)
	row("failure rate", s.FailureRate)
	for _, cb := range []types.ChosenBy{types.ChosenByQAgent, types.ChosenByBandit, types.ChosenByBoth} {
		if st, ok := s.Allocation[cb]; ok {
			row("share "+string(cb), st)
		}
	}
	section(w, "Across trials", agg)

	if len(s.Curve) > 0 {
		curve := newTable("episode", "moving avg reward")
		step := len(s.Curve) / 10
		if step < 1 {
			step = 1
		}
		for i := 0; i < len(s.Curve); i += step {
			curve.Row(strconv.Itoa(i), f3(s.Curve[i]))
		}
		section(w, fmt.Sprintf("Learning curve (window %d)", s.Window), curve)
	}
}
