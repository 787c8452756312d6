package cli

import (
	"fmt"
	"os"

	"github.com/gantryci/gantry/internal/hoist/common"
	"github.com/gantryci/gantry/internal/hoist/runs"
	"github.com/gantryci/gantry/internal/hoist/workers"
	"github.com/gantryci/gantry/pkg/config"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hoist",
	Short: "Hoist - command line client for the Gantry pipeline orchestrator",
	Long: `Hoist - Command Line Interface for submitting and steering Gantry pipeline runs

Pipeline runs:
  - Submit a pipeline:   hoist submit -f pipeline.yml
  - Follow a run live:   hoist watch <run-id>
  - Release a manual job: hoist play <run-id> <job>

Connects to the node named by --node in hoist-config.yml, to the address
given with --server, or to a local gantryd when neither is configured.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A direct --server address needs no configuration file
		if common.ServerAddr != "" {
			return
		}

		cfg, err := config.LoadClientConfig(common.ConfigPath)
		if err != nil {
			// Only an explicit request for a file or a named node makes a
			// missing config fatal; otherwise the local default applies.
			if common.ConfigPath == "" && common.NodeName == "default" {
				return
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
			fmt.Fprintf(os.Stderr, "Use 'hoist config-help' for configuration examples.\n")
			os.Exit(1)
		}
		common.NodeConfig = cfg
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&common.ConfigPath, "config", "",
		"Path to client configuration file (searches common locations if not specified)")
	rootCmd.PersistentFlags().StringVar(&common.NodeName, "node", "default",
		"Node name from configuration file")
	rootCmd.PersistentFlags().StringVar(&common.ServerAddr, "server", "",
		"Server address, overriding the configuration file (host:port or full URL)")
	rootCmd.PersistentFlags().BoolVar(&common.JSONOutput, "json", false,
		"Output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(runs.NewSubmitCmd())
	rootCmd.AddCommand(runs.NewStatusCmd())
	rootCmd.AddCommand(runs.NewListCmd())
	rootCmd.AddCommand(runs.NewCancelCmd())
	rootCmd.AddCommand(runs.NewPlayCmd())
	rootCmd.AddCommand(runs.NewRetryCmd())
	rootCmd.AddCommand(runs.NewWatchCmd())
	rootCmd.AddCommand(runs.NewArtifactsCmd())
	rootCmd.AddCommand(workers.NewWorkersCmd())
	rootCmd.AddCommand(NewNodesCmd())
	rootCmd.AddCommand(NewHelpConfigCmd())
	rootCmd.AddCommand(NewVersionCmd())
}
