package runs

import (
	"context"
	"fmt"
	"time"

	"github.com/gantryci/gantry/internal/hoist/common"

	"github.com/spf13/cobra"
)

func NewCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a pipeline run",
		Long: `Cancel a pipeline run. Queued jobs are skipped immediately; jobs
already executing get a grace window to stop before the server gives up
on them.`,
		Args: cobra.ExactArgs(1),
		RunE: runCancel,
	}

	return cmd
}

func runCancel(cmd *cobra.Command, args []string) error {
	runID := args[0]

	c, err := common.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run, err := c.CancelRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to cancel run: %w", err)
	}

	if common.JSONOutput {
		return printJSON(run)
	}

	fmt.Printf("Run %s canceled\n", run.ID)
	executing := 0
	for _, jr := range run.Jobs {
		if jr.State == "EXECUTING" || jr.State == "DISPATCHED" {
			executing++
		}
	}
	if executing > 0 {
		fmt.Printf("%d job(s) still winding down; 'hoist status %s' shows progress\n", executing, run.ID)
	}

	return nil
}
