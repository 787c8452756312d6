package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/gantryci/gantry/api"
	"github.com/gantryci/gantry/internal/hoist/common"
	"github.com/gantryci/gantry/pkg/client"

	"github.com/spf13/cobra"
)

func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <run-id>",
		Short: "Stream a run's events until it settles",
		Long: `Stream a run's lifecycle events live. The stream ends when the run
reaches a terminal state; press Ctrl-C to stop earlier.

With --json each event is printed as one JSON line.

Examples:
  hoist watch run-9f8a7b6c
  hoist watch --json run-9f8a7b6c | jq .type`,
		Args: cobra.ExactArgs(1),
		RunE: runWatch,
	}

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	c, err := common.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer c.Close()

	return followRun(c, args[0])
}

// followRun streams events to stdout until the run settles or the user
// interrupts.
func followRun(c *client.Client, runID string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stream, err := c.Watch(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to watch run: %w", err)
	}
	defer stream.Close()

	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("event stream interrupted: %w", err)
		}

		if common.JSONOutput {
			line, merr := json.Marshal(ev)
			if merr != nil {
				return merr
			}
			fmt.Println(string(line))
			continue
		}

		fmt.Println(formatEvent(ev))
	}
}

func formatEvent(ev *api.Event) string {
	var parts []string
	if ev.Job != "" {
		parts = append(parts, ev.Job)
	}
	if ev.State != "" {
		stateColor, resetColor := getStateColor(ev.State)
		parts = append(parts, stateColor+ev.State+resetColor)
	}
	if ev.Attempt > 1 {
		parts = append(parts, fmt.Sprintf("attempt %d", ev.Attempt))
	}
	if ev.WorkerID != "" {
		parts = append(parts, "on "+ev.WorkerID)
	}
	if ev.Reason != "" {
		parts = append(parts, "("+ev.Reason+")")
	}

	return fmt.Sprintf("%s  %-16s %s",
		ev.Timestamp.Format("15:04:05"), ev.Type, strings.Join(parts, " "))
}
