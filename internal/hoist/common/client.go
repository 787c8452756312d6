package common

import (
	"fmt"

	"github.com/gantryci/gantry/pkg/client"
	"github.com/gantryci/gantry/pkg/config"
)

// DefaultServer is used when no configuration file exists and no
// --server address was given: a local gantryd on its default port.
const DefaultServer = "127.0.0.1:7320"

var (
	NodeConfig *config.ClientConfig
	ConfigPath string
	NodeName   string
	ServerAddr string
	JSONOutput bool
)

// NewClient creates an API client for the selected node.
func NewClient() (*client.Client, error) {
	// A --server address bypasses the configuration file entirely
	if ServerAddr != "" {
		return client.New(&config.Node{Address: ServerAddr})
	}

	// NodeConfig is loaded by PersistentPreRun when a config file exists
	if NodeConfig != nil {
		node, err := NodeConfig.GetNode(NodeName)
		if err != nil {
			return nil, fmt.Errorf("failed to get node configuration for '%s': %w", NodeName, err)
		}
		return client.New(node)
	}

	return client.New(&config.Node{Address: DefaultServer})
}
