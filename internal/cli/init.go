package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/config"
	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/tasks"
)

func newInitCmd(o *options) *cobra.Command {
	var (
		force     bool
		dataDir   string
		envKind   string
		suitePath string
		suiteSize int
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and optional sample task suite",
		Long: `Init writes a config with every default filled in to the --config path.
The format follows the file extension (.json, .toml, .yaml). With --suite a
generated task suite is written alongside and referenced from run.taskSuite.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(o.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", o.configPath)
			}

			cfg := config.DefaultConfig()
			if dataDir != "" {
				cfg.Run.DataDir = dataDir
			}
			if envKind != "" {
				cfg.Environment.Kind = envKind
			}

			if suitePath != "" {
				sample := tasks.Generate(suiteSize, cfg.Run.Seed)
				if err := tasks.SaveSuite(suitePath, "sample", sample); err != nil {
					return fmt.Errorf("write task suite: %w", err)
				}
				cfg.Run.TaskSuite = suitePath
			}

			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(o.configPath); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote %s\n", o.configPath)
			if suitePath != "" {
				fmt.Fprintf(out, "Wrote %s (%d tasks)\n", suitePath, suiteSize)
			}
			fmt.Fprintf(out, "Next: researchmind train --config %s\n", o.configPath)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory for snapshots, traces and caches")
	cmd.Flags().StringVar(&envKind, "env", "", "Environment kind: simulated or search")
	cmd.Flags().StringVar(&suitePath, "suite", "", "Also write a sample YAML task suite here")
	cmd.Flags().IntVar(&suiteSize, "suite-size", 30, "Tasks in the sample suite")
	return cmd
}
