package runs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gantryci/gantry/api"
	"github.com/gantryci/gantry/internal/hoist/common"
	"github.com/gantryci/gantry/pkg/client"

	"github.com/spf13/cobra"
)

func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the state of a pipeline run and its jobs",
		Long: `Show a pipeline run with the state of every job.

Runs that finished before the server's last restart are looked up in the
archive and shown as a summary.

Examples:
  hoist status run-9f8a7b6c
  hoist status --json run-9f8a7b6c`,
		Args: cobra.ExactArgs(1),
		RunE: runStatus,
	}

	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	runID := args[0]

	c, err := common.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run, err := c.GetRun(ctx, runID)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return showArchivedRun(ctx, c, runID)
		}
		return fmt.Errorf("failed to get run status: %w", err)
	}

	if common.JSONOutput {
		return printJSON(run)
	}

	printRunHeader(run)

	fmt.Printf("\nJobs:\n")
	formatJobTable(run.Jobs)
	printFailureDetails(run.Jobs)
	printRunActions(run)

	return nil
}

func printRunHeader(run *api.Run) {
	fmt.Printf("Run ID: %s\n", run.ID)
	fmt.Printf("Pipeline: %s\n", run.Pipeline)

	stateColor, resetColor := getStateColor(run.State)
	fmt.Printf("State: %s%s%s\n", stateColor, run.State, resetColor)

	if run.Ref != "" {
		fmt.Printf("Ref: %s\n", run.Ref)
	}
	if run.Source != "" {
		fmt.Printf("Source: %s\n", run.Source)
	}

	fmt.Printf("\nTiming:\n")
	fmt.Printf("  Created: %s\n", formatTimestamp(run.CreatedAt))
	if run.StartedAt != nil {
		fmt.Printf("  Started: %s\n", formatTimestamp(*run.StartedAt))
	}
	if run.FinishedAt != nil {
		fmt.Printf("  Finished: %s\n", formatTimestamp(*run.FinishedAt))
		if run.StartedAt != nil {
			fmt.Printf("  Duration: %s\n", formatDuration(run.FinishedAt.Sub(*run.StartedAt)))
		}
	}
}

func printFailureDetails(jobs []api.JobRun) {
	printed := false
	for _, jr := range jobs {
		if jr.State != "FAILED" {
			continue
		}
		if !printed {
			fmt.Printf("\nFailures:\n")
			printed = true
		}

		line := fmt.Sprintf("  %s: %s", jr.Name, jr.FailureKind)
		if jr.FailureReason != "" {
			line += " - " + jr.FailureReason
		}
		if jr.ExitCode != 0 {
			line += fmt.Sprintf(" (exit %d)", jr.ExitCode)
		}
		if jr.AllowFailure {
			line += " [allowed]"
		}
		fmt.Println(line)
	}
}

func printRunActions(run *api.Run) {
	var actions []string
	switch run.State {
	case "CREATED", "RUNNING":
		for _, jr := range run.Jobs {
			if jr.State == "MANUAL" {
				actions = append(actions, fmt.Sprintf("hoist play %s %s   # release the manual gate", run.ID, jr.Name))
			}
		}
		actions = append(actions,
			fmt.Sprintf("hoist watch %s    # follow events live", run.ID),
			fmt.Sprintf("hoist cancel %s   # cancel the run", run.ID))
	case "FAILED":
		for _, jr := range run.Jobs {
			if jr.State == "FAILED" && !jr.AllowFailure {
				actions = append(actions, fmt.Sprintf("hoist retry %s %s   # retry the failed job", run.ID, jr.Name))
			}
		}
	case "SUCCESS":
		for _, jr := range run.Jobs {
			if len(jr.ArtifactIDs) > 0 {
				actions = append(actions, fmt.Sprintf("hoist artifacts %s %s   # list published artifacts", run.ID, jr.Name))
				break
			}
		}
	}

	if len(actions) == 0 {
		return
	}
	fmt.Printf("\nAvailable Actions:\n")
	for _, action := range actions {
		fmt.Printf("  • %s\n", action)
	}
}

// showArchivedRun prints the flattened archive record for runs no longer
// held live by the server.
func showArchivedRun(ctx context.Context, c *client.Client, runID string) error {
	rec, err := c.GetArchivedRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to get run status: %w", err)
	}

	if common.JSONOutput {
		return printJSON(rec)
	}

	fmt.Printf("Run ID: %s (archived)\n", rec.RunID)
	fmt.Printf("Pipeline: %s\n", rec.Pipeline)

	stateColor, resetColor := getStateColor(rec.State)
	fmt.Printf("State: %s%s%s\n", stateColor, rec.State, resetColor)

	if rec.Ref != "" {
		fmt.Printf("Ref: %s\n", rec.Ref)
	}

	fmt.Printf("\nTiming:\n")
	fmt.Printf("  Created: %s\n", formatTimestamp(rec.CreatedAt))
	if rec.StartedAt != nil {
		fmt.Printf("  Started: %s\n", formatTimestamp(*rec.StartedAt))
		fmt.Printf("  Duration: %s\n", formatDuration(rec.FinishedAt.Sub(*rec.StartedAt)))
	}
	fmt.Printf("  Finished: %s\n", formatTimestamp(rec.FinishedAt))

	fmt.Printf("\nJobs: %d total, %d succeeded, %d failed, %d skipped\n",
		rec.JobsTotal, rec.JobsSucceeded, rec.JobsFailed, rec.JobsSkipped)
	if rec.FailureSummary != "" {
		fmt.Printf("Failure Summary: %s\n", rec.FailureSummary)
	}

	return nil
}
