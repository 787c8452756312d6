package runs

// getStateColor returns the ANSI color code for a run or job state
func getStateColor(state string) (string, string) {
	var stateColor string
	switch state {
	case "EXECUTING", "RUNNING", "DISPATCHED":
		stateColor = "\033[33m" // Yellow
	case "SUCCESS":
		stateColor = "\033[32m" // Green
	case "FAILED":
		stateColor = "\033[31m" // Red
	case "ELIGIBLE", "CREATED":
		stateColor = "\033[36m" // Cyan
	case "MANUAL", "DELAYED":
		stateColor = "\033[35m" // Magenta
	case "BLOCKED":
		stateColor = "\033[34m" // Blue
	case "SKIPPED", "CANCELED":
		stateColor = "\033[90m" // Gray
	default:
		stateColor = ""
	}
	resetColor := "\033[0m"
	return stateColor, resetColor
}
