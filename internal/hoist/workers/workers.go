package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gantryci/gantry/api"
	"github.com/gantryci/gantry/internal/hoist/common"

	"github.com/spf13/cobra"
)

func NewWorkersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "Inspect and manage execution workers",
		Long: `Inspect registered workers and drain them for maintenance.

Examples:
  hoist workers list
  hoist workers drain wrk-1a2b3c4d`,
	}

	cmd.AddCommand(NewWorkersListCmd())
	cmd.AddCommand(NewWorkersDrainCmd())

	return cmd
}

func NewWorkersListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered workers",
		RunE:  runWorkersList,
	}

	return cmd
}

func runWorkersList(cmd *cobra.Command, args []string) error {
	c, err := common.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	items, err := c.ListWorkers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list workers: %w", err)
	}

	if len(items) == 0 {
		if common.JSONOutput {
			fmt.Println("[]")
		} else {
			fmt.Println("No workers registered")
		}
		return nil
	}

	if common.JSONOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(items)
	}

	formatWorkerList(items)
	return nil
}

func formatWorkerList(items []api.Worker) {
	maxIDWidth := len("ID")
	maxNameWidth := len("NAME")
	maxStateWidth := len("STATE")
	maxTagsWidth := len("TAGS")

	for _, w := range items {
		if len(w.ID) > maxIDWidth {
			maxIDWidth = len(w.ID)
		}
		if len(w.Name) > maxNameWidth {
			maxNameWidth = len(w.Name)
		}
		if len(w.State) > maxStateWidth {
			maxStateWidth = len(w.State)
		}
		if tags := strings.Join(w.Tags, ","); len(tags) > maxTagsWidth {
			maxTagsWidth = len(tags)
		}
	}

	maxIDWidth = min(maxIDWidth+2, 40)
	maxNameWidth = min(maxNameWidth+2, 25)
	maxStateWidth += 2
	maxTagsWidth = min(maxTagsWidth+2, 30)

	fmt.Printf("%-*s %-*s %-*s %-6s %-*s %s\n",
		maxIDWidth, "ID",
		maxNameWidth, "NAME",
		maxStateWidth, "STATE",
		"BUSY",
		maxTagsWidth, "TAGS",
		"LAST HEARTBEAT")
	fmt.Printf("%s %s %s %s %s %s\n",
		strings.Repeat("-", maxIDWidth),
		strings.Repeat("-", maxNameWidth),
		strings.Repeat("-", maxStateWidth),
		strings.Repeat("-", 6),
		strings.Repeat("-", maxTagsWidth),
		strings.Repeat("-", 19))

	for _, w := range items {
		tags := strings.Join(w.Tags, ",")
		if tags == "" {
			tags = "-"
		}
		if len(tags) > maxTagsWidth-2 {
			tags = tags[:maxTagsWidth-5] + "..."
		}

		stateColor, resetColor := getWorkerStateColor(w.State)
		fmt.Printf("%-*s %-*s %s%-*s%s %-6s %-*s %s\n",
			maxIDWidth, w.ID,
			maxNameWidth, w.Name,
			stateColor, maxStateWidth, w.State, resetColor,
			fmt.Sprintf("%d/%d", len(w.Running), w.Capacity),
			maxTagsWidth, tags,
			w.LastHeartbeat.Format("2006-01-02 15:04:05"))
	}
}

// getWorkerStateColor returns the ANSI color code for a worker state
func getWorkerStateColor(state string) (string, string) {
	var stateColor string
	switch state {
	case "ONLINE":
		stateColor = "\033[32m" // Green
	case "DRAINING":
		stateColor = "\033[33m" // Yellow
	case "OFFLINE":
		stateColor = "\033[31m" // Red
	default:
		stateColor = ""
	}
	return stateColor, "\033[0m"
}

func NewWorkersDrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drain <worker-id>",
		Short: "Drain a worker and remove it from the pool",
		Long: `Deregister a worker. An idle worker is removed immediately; a busy
worker stops receiving assignments and disappears once its running jobs
finish.`,
		Args: cobra.ExactArgs(1),
		RunE: runWorkersDrain,
	}

	return cmd
}

func runWorkersDrain(cmd *cobra.Command, args []string) error {
	workerID := args[0]

	c, err := common.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.DeregisterWorker(ctx, workerID); err != nil {
		return fmt.Errorf("failed to drain worker: %w", err)
	}

	fmt.Printf("Worker %s deregistered; busy workers finish their running jobs first\n", workerID)
	return nil
}
