package cli

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/config"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/coordinator"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/scheduler"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/sink"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/types"
)

func newInspectCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show recorded runs, episodes and learned state",
	}
	cmd.AddCommand(
		newInspectRunsCmd(o),
		newInspectEpisodesCmd(o),
		newInspectSnapshotCmd(o),
	)
	return cmd
}

func sqlitePath(cfg *config.Config, flag string) string {
	if flag != "" {
		return flag
	}
	if cfg.Sinks.SQLite != "" {
		return cfg.Sinks.SQLite
	}
	return filepath.Join(cfg.Run.DataDir, "episodes.db")
}

func newInspectRunsCmd(o *options) *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs recorded in the SQLite store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := o.load(cmd)
			if err != nil {
				return err
			}
			db, err := sink.OpenSQLite(sqlitePath(cfg, dbPath))
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := sink.Runs(cmd.Context(), db)
			if err != nil {
				return err
			}
			t := newTable("run", "seed", "started", "episodes")
			for _, r := range runs {
				t.Row(r.ID, strconv.FormatUint(r.Seed, 10), r.StartedAt.Local().Format(time.DateTime), strconv.Itoa(r.Episodes))
			}
			section(cmd.OutOrStdout(), "Runs", t)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite store (default sinks.sqlite or <dataDir>/episodes.db)")
	return cmd
}

func newInspectEpisodesCmd(o *options) *cobra.Command {
	var (
		dbPath    string
		jsonlPath string
		last      int
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "episodes [run-id]",
		Short: "Show the episodes of one run",
		Long: `Episodes reads a run from the SQLite store, or from a JSONL trace when
--jsonl is given. Without a run id the JSONL trace is shown in full and the
SQLite store shows its most recent run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := o.load(cmd)
			if err != nil {
				return err
			}
			var runID string
			if len(args) == 1 {
				runID = args[0]
			}

			var recs []types.EpisodeRecord
			if jsonlPath != "" {
				lines, err := sink.ReadJSONL(jsonlPath)
				if err != nil {
					return err
				}
				for _, l := range lines {
					if runID == "" || l.RunID == runID {
						recs = append(recs, l.EpisodeRecord)
					}
				}
			} else {
				db, err := sink.OpenSQLite(sqlitePath(cfg, dbPath))
				if err != nil {
					return err
				}
				defer db.Close()
				if runID == "" {
					runs, err := sink.Runs(cmd.Context(), db)
					if err != nil {
						return err
					}
					if len(runs) == 0 {
						return fmt.Errorf("no runs recorded")
					}
					runID = runs[0].ID
				}
				if recs, err = sink.Episodes(cmd.Context(), db, runID); err != nil {
					return err
				}
			}

			if last > 0 && len(recs) > last {
				recs = recs[len(recs)-last:]
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), recs)
			}
			renderEpisodes(cmd.OutOrStdout(), recs)
			renderReport(cmd.OutOrStdout(), coordinator.Summarize(recs))
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite store (default sinks.sqlite or <dataDir>/episodes.db)")
	cmd.Flags().StringVar(&jsonlPath, "jsonl", "", "Read a JSONL trace instead of the SQLite store")
	cmd.Flags().IntVar(&last, "last", 0, "Only show the last N episodes")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the episodes as JSON")
	return cmd
}

func newInspectSnapshotCmd(o *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "snapshot [path]",
		Short: "Show the learned Q-table, bandit arms and allocation history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := o.load(cmd)
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.Run.DataDir, scheduler.SnapshotFile)
			if len(args) == 1 {
				path = args[0]
			}
			snap, err := coordinator.LoadSnapshot(path)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), snap)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d episodes, seed %d\n", path, len(snap.Episodes), snap.Seed)
			renderQTable(out, snap.QTable)
			renderArms(out, snap.Bandit)
			renderAllocations(out, snap.Allocations)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the snapshot as JSON")
	return cmd
}
