package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewHelpConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config-help",
		Short: "Show configuration file examples",
		Long:  "Display examples of the hoist-config.yml file format",
		RunE:  runConfigHelp,
	}

	return cmd
}

func runConfigHelp(cmd *cobra.Command, args []string) error {
	fmt.Println("Hoist Configuration Help")
	fmt.Println("========================")
	fmt.Println()
	fmt.Println("Without a configuration file hoist talks to 127.0.0.1:7320 over")
	fmt.Println("plain HTTP. A hoist-config.yml names servers and, for HTTPS,")
	fmt.Println("embeds the CA certificate that signed the server's certificate.")
	fmt.Println()
	fmt.Println("Example hoist-config.yml:")
	fmt.Println("-------------------------")
	fmt.Println(`version: "1.0"

nodes:
  default:
    address: "127.0.0.1:7320"

  staging:
    address: "gantry.staging.internal:7320"
    ca: |
      -----BEGIN CERTIFICATE-----
      MIIDQTCCAimgAwIBAgITBmyfz5m/jAo54vB4ikPmljZbyjANBgkqhkiG9w0BAQsF
      ... (full CA certificate content) ...
      -----END CERTIFICATE-----

  production:
    address: "https://gantry.example.com"`)
	fmt.Println()
	fmt.Println("Addresses without a scheme use HTTPS when a CA is embedded and")
	fmt.Println("plain HTTP otherwise; a full URL pins the scheme explicitly.")
	fmt.Println()
	fmt.Println("File locations searched (in order):")
	fmt.Println("1. Path from the HOIST_CONFIG environment variable")
	fmt.Println("2. ./hoist-config.yml")
	fmt.Println("3. ./config/hoist-config.yml")
	fmt.Println("4. ~/.hoist/hoist-config.yml")
	fmt.Println("5. /etc/gantry/hoist-config.yml")
	fmt.Println("6. /opt/gantry/config/hoist-config.yml")
	fmt.Println()
	fmt.Println("Usage examples:")
	fmt.Println("  hoist list                          # uses 'default' node")
	fmt.Println("  hoist --node=staging list           # uses 'staging' node")
	fmt.Println("  hoist --server=ci.local:7320 list   # ignores the config file")
	fmt.Println("  hoist --config=team-config.yml list # uses a custom config file")

	return nil
}
