package cli

import (
	"fmt"
	"sort"

	"github.com/gantryci/gantry/internal/hoist/common"

	"github.com/spf13/cobra"
)

func NewNodesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List available nodes from configuration",
		Long:  "Display all configured nodes and their connection details from hoist-config.yml",
		RunE:  runNodes,
	}

	return cmd
}

func runNodes(cmd *cobra.Command, args []string) error {
	if common.NodeConfig == nil {
		fmt.Printf("No configuration file loaded; hoist talks to %s by default.\n", common.DefaultServer)
		fmt.Printf("Use 'hoist config-help' to set up hoist-config.yml with named nodes.\n")
		return nil
	}

	nodes := common.NodeConfig.ListNodes()
	if len(nodes) == 0 {
		return fmt.Errorf("no nodes configured in hoist-config.yml")
	}

	// Sort nodes for consistent output
	sort.Strings(nodes)

	fmt.Printf("Available nodes from configuration:\n\n")

	for _, name := range nodes {
		node, err := common.NodeConfig.GetNode(name)
		if err != nil {
			fmt.Printf("  %s: error - %v\n", name, err)
			continue
		}

		// Mark default node
		marker := "  "
		if name == "default" {
			marker = "* "
		}

		fmt.Printf("%s%s\n", marker, name)
		fmt.Printf("   Address: %s\n", node.Address)

		ca := "- (plain HTTP)"
		if node.CA != "" {
			ca = "*** (HTTPS)"
		}
		fmt.Printf("   CA:      %s\n", ca)

		fmt.Println()
	}

	fmt.Printf("Usage examples:\n")
	fmt.Printf("  hoist list                    # uses 'default' node\n")
	for _, name := range nodes {
		if name != "default" {
			fmt.Printf("  hoist --node=%s list          # uses '%s' node\n", name, name)
			break
		}
	}

	return nil
}
