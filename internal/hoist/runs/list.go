package runs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gantryci/gantry/api"
	"github.com/gantryci/gantry/internal/hoist/common"

	"github.com/spf13/cobra"
)

func NewListCmd() *cobra.Command {
	var (
		state    string
		limit    int
		archived bool
		pipeline string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pipeline runs",
		Long: `List pipeline runs, newest first.

Live runs are held by the server; --archived queries the archive of
finished runs instead.

Examples:
  # List live runs
  hoist list

  # Only failed live runs
  hoist list --state FAILED

  # Archive history for one pipeline
  hoist list --archived --pipeline service --limit 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(state, pipeline, limit, archived)
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "Filter by run state (RUNNING, SUCCESS, FAILED, CANCELED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of runs to return (0 = no cap)")
	cmd.Flags().BoolVar(&archived, "archived", false, "List archived runs instead of live ones")
	cmd.Flags().StringVar(&pipeline, "pipeline", "", "Filter archived runs by pipeline name")

	return cmd
}

func runList(state, pipeline string, limit int, archived bool) error {
	c, err := common.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if archived {
		records, err := c.ListArchivedRuns(ctx, state, pipeline, limit)
		if err != nil {
			return fmt.Errorf("failed to list archived runs: %w", err)
		}
		return renderArchivedRuns(records)
	}

	runs, err := c.ListRuns(ctx, state, limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	return renderRuns(runs)
}

func renderRuns(items []api.Run) error {
	if len(items) == 0 {
		if common.JSONOutput {
			fmt.Println("[]")
		} else {
			fmt.Println("No runs found")
		}
		return nil
	}
	if common.JSONOutput {
		return printJSON(items)
	}

	maxIDWidth := len("ID")
	maxPipelineWidth := len("PIPELINE")
	maxStateWidth := len("STATE")
	maxRefWidth := len("REF")

	for _, run := range items {
		if len(run.ID) > maxIDWidth {
			maxIDWidth = len(run.ID)
		}
		if len(run.Pipeline) > maxPipelineWidth {
			maxPipelineWidth = len(run.Pipeline)
		}
		if len(run.State) > maxStateWidth {
			maxStateWidth = len(run.State)
		}
		if len(run.Ref) > maxRefWidth {
			maxRefWidth = len(run.Ref)
		}
	}

	maxIDWidth = min(maxIDWidth+2, 40)
	maxPipelineWidth = min(maxPipelineWidth+2, 25)
	maxStateWidth += 2
	maxRefWidth = min(maxRefWidth+2, 25)

	fmt.Printf("%-*s %-*s %-*s %-*s %-19s %s\n",
		maxIDWidth, "ID",
		maxPipelineWidth, "PIPELINE",
		maxStateWidth, "STATE",
		maxRefWidth, "REF",
		"CREATED",
		"JOBS")
	fmt.Printf("%s %s %s %s %s %s\n",
		strings.Repeat("-", maxIDWidth),
		strings.Repeat("-", maxPipelineWidth),
		strings.Repeat("-", maxStateWidth),
		strings.Repeat("-", maxRefWidth),
		strings.Repeat("-", 19),
		strings.Repeat("-", 4))

	for _, run := range items {
		ref := run.Ref
		if ref == "" {
			ref = "-"
		}
		if len(ref) > maxRefWidth-2 {
			ref = ref[:maxRefWidth-5] + "..."
		}

		succeeded := 0
		for _, jr := range run.Jobs {
			if jr.State == "SUCCESS" {
				succeeded++
			}
		}

		stateColor, resetColor := getStateColor(run.State)
		fmt.Printf("%-*s %-*s %s%-*s%s %-*s %-19s %d/%d ok\n",
			maxIDWidth, run.ID,
			maxPipelineWidth, run.Pipeline,
			stateColor, maxStateWidth, run.State, resetColor,
			maxRefWidth, ref,
			formatTimestamp(run.CreatedAt),
			succeeded, len(run.Jobs))
	}

	return nil
}

func renderArchivedRuns(records []api.ArchivedRun) error {
	if len(records) == 0 {
		if common.JSONOutput {
			fmt.Println("[]")
		} else {
			fmt.Println("No archived runs found")
		}
		return nil
	}
	if common.JSONOutput {
		return printJSON(records)
	}

	maxIDWidth := len("ID")
	maxPipelineWidth := len("PIPELINE")
	maxStateWidth := len("STATE")

	for _, rec := range records {
		if len(rec.RunID) > maxIDWidth {
			maxIDWidth = len(rec.RunID)
		}
		if len(rec.Pipeline) > maxPipelineWidth {
			maxPipelineWidth = len(rec.Pipeline)
		}
		if len(rec.State) > maxStateWidth {
			maxStateWidth = len(rec.State)
		}
	}

	maxIDWidth = min(maxIDWidth+2, 40)
	maxPipelineWidth = min(maxPipelineWidth+2, 25)
	maxStateWidth += 2

	fmt.Printf("%-*s %-*s %-*s %-19s %s\n",
		maxIDWidth, "ID",
		maxPipelineWidth, "PIPELINE",
		maxStateWidth, "STATE",
		"FINISHED",
		"JOBS")
	fmt.Printf("%s %s %s %s %s\n",
		strings.Repeat("-", maxIDWidth),
		strings.Repeat("-", maxPipelineWidth),
		strings.Repeat("-", maxStateWidth),
		strings.Repeat("-", 19),
		strings.Repeat("-", 4))

	for _, rec := range records {
		stateColor, resetColor := getStateColor(rec.State)
		fmt.Printf("%-*s %-*s %s%-*s%s %-19s %d/%d ok\n",
			maxIDWidth, rec.RunID,
			maxPipelineWidth, rec.Pipeline,
			stateColor, maxStateWidth, rec.State, resetColor,
			formatTimestamp(rec.FinishedAt),
			rec.JobsSucceeded, rec.JobsTotal)
	}

	return nil
}
