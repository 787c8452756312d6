package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gantryci/gantry/internal/hoist/common"
	"github.com/gantryci/gantry/pkg/version"

	"github.com/spf13/cobra"
)

func NewVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show client and server versions",
		RunE:  runVersion,
	}

	return cmd
}

func runVersion(cmd *cobra.Command, args []string) error {
	serverVersion := getServerVersion()

	if common.JSONOutput {
		info := version.GetBuildInfo()
		data := map[string]any{
			"hoist": map[string]any{
				"version":    version.GetShortVersion(),
				"git_commit": info.GitCommit,
				"build_date": info.BuildDate,
				"go_version": info.GoVersion,
				"platform":   fmt.Sprintf("%s/%s", info.Platform, info.Architecture),
			},
		}
		if serverVersion != "" {
			data["gantryd"] = map[string]any{"version": serverVersion}
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(data)
	}

	fmt.Printf("hoist %s\n", version.GetShortVersion())
	if serverVersion != "" {
		fmt.Printf("gantryd %s\n", serverVersion)
	}
	return nil
}

// getServerVersion asks the configured server for its build version.
// Best effort: an unreachable server just leaves the line out.
func getServerVersion() string {
	c, err := common.NewClient()
	if err != nil {
		return ""
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	health, err := c.Health(ctx)
	if err != nil {
		return ""
	}
	return health.Version
}
