package runs

import (
	"context"
	"fmt"
	"time"

	"github.com/gantryci/gantry/internal/hoist/common"

	"github.com/spf13/cobra"
)

func NewRetryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry <run-id> <job>",
		Short: "Retry a failed job",
		Long: `Retry a failed job as a fresh attempt. A finished run resumes when
the retried job brings it back to life.

Examples:
  hoist retry run-9f8a7b6c unit-tests`,
		Args: cobra.ExactArgs(2),
		RunE: runRetry,
	}

	return cmd
}

func runRetry(cmd *cobra.Command, args []string) error {
	runID, job := args[0], args[1]

	c, err := common.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	jr, err := c.RetryJob(ctx, runID, job)
	if err != nil {
		return fmt.Errorf("failed to retry job: %w", err)
	}

	if common.JSONOutput {
		return printJSON(jr)
	}

	fmt.Printf("Job %s queued for attempt %d (state %s)\n", jr.Name, jr.Attempt, jr.State)
	return nil
}
