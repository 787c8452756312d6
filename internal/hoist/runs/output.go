package runs

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gantryci/gantry/api"
)

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// formatTimestamp formats a timestamp for display
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

// formatDuration formats a duration for human-readable display
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if minutes == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh%dm", hours, minutes)
}

// jobDuration reports how long a job attempt has run, live or finished.
func jobDuration(jr api.JobRun) string {
	if jr.StartedAt == nil {
		return "-"
	}
	if jr.FinishedAt != nil {
		return formatDuration(jr.FinishedAt.Sub(*jr.StartedAt))
	}
	if jr.State == "EXECUTING" {
		return formatDuration(time.Since(*jr.StartedAt))
	}
	return "-"
}

// formatJobTable prints jobs grouped as an aligned table.
func formatJobTable(jobs []api.JobRun) {
	maxNameWidth := len("NAME")
	maxStageWidth := len("STAGE")
	maxStateWidth := len("STATE")

	for _, jr := range jobs {
		if len(jr.Name) > maxNameWidth {
			maxNameWidth = len(jr.Name)
		}
		if len(jr.Stage) > maxStageWidth {
			maxStageWidth = len(jr.Stage)
		}
		if len(jr.State) > maxStateWidth {
			maxStateWidth = len(jr.State)
		}
	}

	// padding, capped so one long name cannot blow the table apart
	maxNameWidth = min(maxNameWidth+2, 40)
	maxStageWidth = min(maxStageWidth+2, 25)
	maxStateWidth += 2

	fmt.Printf("%-*s %-*s %-*s %-8s %-12s %s\n",
		maxNameWidth, "NAME",
		maxStageWidth, "STAGE",
		maxStateWidth, "STATE",
		"ATTEMPT",
		"DURATION",
		"WORKER")
	fmt.Printf("%s %s %s %s %s %s\n",
		strings.Repeat("-", maxNameWidth),
		strings.Repeat("-", maxStageWidth),
		strings.Repeat("-", maxStateWidth),
		strings.Repeat("-", 8),
		strings.Repeat("-", 12),
		strings.Repeat("-", 6))

	for _, jr := range jobs {
		name := jr.Name
		if len(name) > maxNameWidth-2 {
			name = name[:maxNameWidth-5] + "..."
		}

		attempt := "-"
		if jr.Attempt > 0 {
			attempt = fmt.Sprintf("%d", jr.Attempt)
		}

		worker := jr.WorkerID
		if worker == "" {
			worker = "-"
		}

		statusColor, resetColor := getStateColor(jr.State)

		fmt.Printf("%-*s %-*s %s%-*s%s %-8s %-12s %s\n",
			maxNameWidth, name,
			maxStageWidth, jr.Stage,
			statusColor, maxStateWidth, jr.State, resetColor,
			attempt,
			jobDuration(jr),
			worker)
	}
}
