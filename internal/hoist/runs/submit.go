package runs

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gantryci/gantry/api"
	"github.com/gantryci/gantry/internal/hoist/common"

	"github.com/spf13/cobra"
)

func NewSubmitCmd() *cobra.Command {
	var (
		file      string
		ref       string
		source    string
		variables []string
		follow    bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a pipeline definition and start a run",
		Long: `Submit a pipeline definition file and start a new run.

Examples:
  # Submit a pipeline
  hoist submit -f pipeline.yml

  # Submit for a branch with extra variables
  hoist submit -f pipeline.yml --ref feature/login --var DEPLOY_ENV=staging

  # Submit and follow events until the run settles
  hoist submit -f pipeline.yml --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(file, ref, source, variables, follow)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Pipeline definition file (required)")
	cmd.Flags().StringVar(&ref, "ref", "", "Ref the run is triggered for (branch, tag)")
	cmd.Flags().StringVar(&source, "source", "", "Trigger source recorded on the run (defaults to api)")
	cmd.Flags().StringArrayVar(&variables, "var", nil, "Pipeline variable as KEY=VALUE (repeatable)")
	cmd.Flags().BoolVar(&follow, "watch", false, "Stream run events until the run settles")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runSubmit(file, ref, source string, vars []string, follow bool) error {
	definition, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read pipeline file: %w", err)
	}

	variables, err := parseVariables(vars)
	if err != nil {
		return err
	}

	c, err := common.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run, err := c.CreateRun(ctx, &api.CreateRunRequest{
		Definition: string(definition),
		Ref:        ref,
		Source:     source,
		Variables:  variables,
	})
	if err != nil {
		return fmt.Errorf("failed to submit pipeline: %w", err)
	}

	if common.JSONOutput && !follow {
		return printJSON(run)
	}

	fmt.Printf("Run ID: %s\n", run.ID)
	fmt.Printf("Pipeline: %s\n", run.Pipeline)
	fmt.Printf("State: %s\n", run.State)
	fmt.Printf("Jobs: %d\n", len(run.Jobs))

	if follow {
		fmt.Println()
		return followRun(c, run.ID)
	}

	fmt.Printf("\nNext steps:\n")
	fmt.Printf("  • hoist status %s   # inspect jobs\n", run.ID)
	fmt.Printf("  • hoist watch %s    # follow events live\n", run.ID)

	return nil
}

// parseVariables turns repeated KEY=VALUE flags into a variable map.
func parseVariables(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid variable %q: expected KEY=VALUE", pair)
		}
		out[key] = value
	}
	return out, nil
}
