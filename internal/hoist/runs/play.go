package runs

import (
	"context"
	"fmt"
	"time"

	"github.com/gantryci/gantry/internal/hoist/common"

	"github.com/spf13/cobra"
)

func NewPlayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play <run-id> <job>",
		Short: "Release a manual job so it can be scheduled",
		Long: `Release a job gated on manual approval. The job joins the queue as
soon as its dependencies are satisfied.

Examples:
  hoist play run-9f8a7b6c deploy-production`,
		Args: cobra.ExactArgs(2),
		RunE: runPlay,
	}

	return cmd
}

func runPlay(cmd *cobra.Command, args []string) error {
	runID, job := args[0], args[1]

	c, err := common.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	jr, err := c.PlayJob(ctx, runID, job)
	if err != nil {
		return fmt.Errorf("failed to play job: %w", err)
	}

	if common.JSONOutput {
		return printJSON(jr)
	}

	fmt.Printf("Job %s released (state %s)\n", jr.Name, jr.State)
	return nil
}
