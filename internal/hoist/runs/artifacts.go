package runs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gantryci/gantry/internal/hoist/common"

	"github.com/spf13/cobra"
)

func NewArtifactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifacts <run-id> <job>",
		Short: "List the artifacts a job published",
		Long: `List the artifact references a job's current attempt published.
The store key locates the bytes in external storage.

Examples:
  hoist artifacts run-9f8a7b6c compile`,
		Args: cobra.ExactArgs(2),
		RunE: runArtifacts,
	}

	return cmd
}

func runArtifacts(cmd *cobra.Command, args []string) error {
	runID, job := args[0], args[1]

	c, err := common.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	arts, err := c.JobArtifacts(ctx, runID, job)
	if err != nil {
		return fmt.Errorf("failed to list artifacts: %w", err)
	}

	if len(arts) == 0 {
		if common.JSONOutput {
			fmt.Println("[]")
		} else {
			fmt.Printf("No artifacts published by %s\n", job)
		}
		return nil
	}

	if common.JSONOutput {
		return printJSON(arts)
	}

	for _, a := range arts {
		fmt.Printf("Artifact: %s (attempt %d)\n", a.ID, a.Attempt)
		fmt.Printf("  Paths: %s\n", strings.Join(a.Paths, ", "))
		fmt.Printf("  Size: %s\n", formatSize(a.Size))
		if a.StoreKey != "" {
			fmt.Printf("  Store Key: %s\n", a.StoreKey)
		}
		fmt.Printf("  Created: %s\n", formatTimestamp(a.CreatedAt))
		if a.ExpiresAt != nil {
			fmt.Printf("  Expires: %s\n", formatTimestamp(*a.ExpiresAt))
		} else {
			fmt.Printf("  Expires: never\n")
		}
		fmt.Println()
	}

	return nil
}

// formatSize renders a byte count with a binary unit
func formatSize(size int64) string {
	switch {
	case size >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(size)/(1<<30))
	case size >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(size)/(1<<20))
	case size >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(size)/(1<<10))
	default:
		return fmt.Sprintf("%d B", size)
	}
}
