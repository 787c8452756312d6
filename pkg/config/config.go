package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gantryci/gantry/pkg/errors"
)

// Config holds the complete application configuration
type Config struct {
	Version     string            `yaml:"version" json:"version"`
	Server      ServerConfig      `yaml:"server" json:"server"`
	Security    SecurityConfig    `yaml:"security" json:"security"`
	Scheduler   SchedulerConfig   `yaml:"scheduler" json:"scheduler"`
	Coordinator CoordinatorConfig `yaml:"coordinator" json:"coordinator"`
	Artifacts   ArtifactsConfig   `yaml:"artifacts" json:"artifacts"`
	Archive     ArchiveConfig     `yaml:"archive" json:"archive"`
	Buffers     BuffersConfig     `yaml:"buffers" json:"buffers"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address         string        `yaml:"address" json:"address"`
	Port            int           `yaml:"port" json:"port"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`
	MinTLSVersion   string        `yaml:"minTlsVersion" json:"minTlsVersion"`
}

// SecurityConfig holds all certificates as embedded PEM content.
// Empty certificates mean the server listens in plain HTTP.
type SecurityConfig struct {
	ServerCert string `yaml:"serverCert" json:"serverCert"`
	ServerKey  string `yaml:"serverKey" json:"serverKey"`
	CACert     string `yaml:"caCert" json:"caCert"`
}

// SchedulerConfig holds job scheduling configuration
type SchedulerConfig struct {
	MaxConcurrentPerRun int           `yaml:"maxConcurrentPerRun" json:"maxConcurrentPerRun"` // 0 = unlimited
	DefaultJobTimeout   time.Duration `yaml:"defaultJobTimeout" json:"defaultJobTimeout"`
	MaxRetryLimit       int           `yaml:"maxRetryLimit" json:"maxRetryLimit"` // upper bound on per-job retry.max
}

// CoordinatorConfig holds worker coordination configuration
type CoordinatorConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval" json:"heartbeatInterval"`
	WorkerTimeout     time.Duration `yaml:"workerTimeout" json:"workerTimeout"`
	MonitorInterval   time.Duration `yaml:"monitorInterval" json:"monitorInterval"`
	CancelGrace       time.Duration `yaml:"cancelGrace" json:"cancelGrace"`
	PollWait          time.Duration `yaml:"pollWait" json:"pollWait"`
	MaxJobsPerPoll    int           `yaml:"maxJobsPerPoll" json:"maxJobsPerPoll"`
}

// ArtifactsConfig holds artifact retention configuration
type ArtifactsConfig struct {
	DefaultExpiry time.Duration `yaml:"defaultExpiry" json:"defaultExpiry"` // 0 = never expire
	SweepInterval time.Duration `yaml:"sweepInterval" json:"sweepInterval"`
}

// ArchiveConfig holds configuration for the terminal-run archive
type ArchiveConfig struct {
	Backend  string         `yaml:"backend" json:"backend"` // "memory" or "dynamodb"
	DynamoDB DynamoDBConfig `yaml:"dynamodb" json:"dynamodb"`
}

// DynamoDBConfig holds DynamoDB-specific configuration
type DynamoDBConfig struct {
	Region       string `yaml:"region" json:"region"`
	TableName    string `yaml:"table_name" json:"table_name"`
	TTLEnabled   bool   `yaml:"ttl_enabled" json:"ttl_enabled"`
	TTLAttribute string `yaml:"ttl_attribute" json:"ttl_attribute"`
	TTLDays      int    `yaml:"ttl_days" json:"ttl_days"`
	BatchSize    int    `yaml:"batch_size" json:"batch_size"`
}

// BuffersConfig holds channel buffer sizing for the event fan-out
type BuffersConfig struct {
	PubsubBufferSize     int `yaml:"pubsub_buffer_size" json:"pubsub_buffer_size"`
	SubscriberBufferSize int `yaml:"subscriber_buffer_size" json:"subscriber_buffer_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// ClientConfig represents the client-side configuration with multiple servers
type ClientConfig struct {
	Version string           `yaml:"version"`
	Nodes   map[string]*Node `yaml:"nodes"`
}

// Node represents a single server configuration.
// CA is an optional embedded PEM certificate used to trust an HTTPS server.
type Node struct {
	Address string `yaml:"address"`
	CA      string `yaml:"ca"`
}

// DefaultConfig provides default configuration values
var DefaultConfig = Config{
	Version: "1.0",
	Server: ServerConfig{
		Address:         "0.0.0.0",
		Port:            7320,
		Timeout:         30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		MinTLSVersion:   "1.3",
	},
	Security: SecurityConfig{
		// Empty means plain HTTP; populate to enable TLS
		ServerCert: "",
		ServerKey:  "",
		CACert:     "",
	},
	Scheduler: SchedulerConfig{
		MaxConcurrentPerRun: 0, // unlimited
		DefaultJobTimeout:   1 * time.Hour,
		MaxRetryLimit:       10,
	},
	Coordinator: CoordinatorConfig{
		HeartbeatInterval: 10 * time.Second,
		WorkerTimeout:     30 * time.Second,
		MonitorInterval:   5 * time.Second,
		CancelGrace:       30 * time.Second,
		PollWait:          25 * time.Second,
		MaxJobsPerPoll:    5,
	},
	Artifacts: ArtifactsConfig{
		DefaultExpiry: 7 * 24 * time.Hour,
		SweepInterval: 1 * time.Minute,
	},
	Archive: ArchiveConfig{
		Backend: "memory",
		DynamoDB: DynamoDBConfig{
			Region:       "",
			TableName:    "gantry-runs",
			TTLEnabled:   true,
			TTLAttribute: "expiresAt",
			TTLDays:      90,
			BatchSize:    25,
		},
	},
	Buffers: BuffersConfig{
		PubsubBufferSize:     10000,
		SubscriberBufferSize: 1000,
	},
	Logging: LoggingConfig{
		Level:  "INFO",
		Format: "text",
		Output: "stdout",
	},
}

// GetServerAddress returns the complete server address in "host:port" format.
// Example: "0.0.0.0:7320" or "localhost:8080"
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// TLSEnabled reports whether a server certificate is configured.
func (c *Config) TLSEnabled() bool {
	return c.Security.ServerCert != "" && c.Security.ServerKey != ""
}

// GetServerTLSConfig creates a server-side TLS configuration from embedded
// certificates. When a CA certificate is configured, client certificates are
// required and verified against it.
// Returns configured tls.Config or error if certificate parsing fails.
func (c *Config) GetServerTLSConfig() (*tls.Config, error) {
	if c.Security.ServerCert == "" || c.Security.ServerKey == "" {
		return nil, fmt.Errorf("server certificates are not configured in security section")
	}

	// Load server certificate and key from embedded PEM
	serverCert, err := tls.X509KeyPair([]byte(c.Security.ServerCert), []byte(c.Security.ServerKey))
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		MinVersion:   minTLSVersion(c.Server.MinTLSVersion),
	}

	if c.Security.CACert != "" {
		caCertPool := x509.NewCertPool()
		if ok := caCertPool.AppendCertsFromPEM([]byte(c.Security.CACert)); !ok {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		tlsConfig.ClientCAs = caCertPool
	}

	return tlsConfig, nil
}

// minTLSVersion maps the configured version string to the tls constant.
// Unknown values fall back to TLS 1.3.
func minTLSVersion(v string) uint16 {
	switch v {
	case "1.2":
		return tls.VersionTLS12
	case "1.3", "":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS13
	}
}

// GetClientTLSConfig creates a client-side TLS configuration for an HTTPS
// server node. The node's CA certificate, when present, is the only trusted
// root; otherwise the system pool applies.
// Returns configured tls.Config or error if certificate parsing fails.
func (n *Node) GetClientTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS13,
	}

	if n.CA != "" {
		caCertPool := x509.NewCertPool()
		if ok := caCertPool.AppendCertsFromPEM([]byte(n.CA)); !ok {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}

// LoadConfig loads the main server configuration from file and environment variables.
//  1. Path specified in GANTRY_CONFIG_PATH environment variable
//  2. /opt/gantry/config/gantry-config.yml
//  3. ./config/gantry-config.yml
//  4. ./gantry-config.yml
//  5. /etc/gantry/gantry-config.yml
//
// Applies environment variable overrides for server address, port, logging,
// and archive backend. Validates the final configuration before returning.
// Returns (config, configPath, error) - configPath indicates source of configuration.
func LoadConfig() (*Config, string, error) {
	config := DefaultConfig

	// Load from config file if it exists
	path, err := loadFromFile(&config)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config file: %w", err)
	}

	if val := os.Getenv("GANTRY_SERVER_ADDRESS"); val != "" {
		config.Server.Address = val
	}
	if val := os.Getenv("GANTRY_SERVER_PORT"); val != "" {
		port, perr := strconv.Atoi(val)
		if perr != nil {
			return nil, "", fmt.Errorf("invalid GANTRY_SERVER_PORT: %s", val)
		}
		config.Server.Port = port
	}

	if val := os.Getenv("GANTRY_LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("GANTRY_LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}

	if val := os.Getenv("GANTRY_ARCHIVE_BACKEND"); val != "" {
		config.Archive.Backend = val
	}
	if val := os.Getenv("GANTRY_DYNAMODB_TABLE"); val != "" {
		config.Archive.DynamoDB.TableName = val
	}
	if val := os.Getenv("GANTRY_DYNAMODB_REGION"); val != "" {
		config.Archive.DynamoDB.Region = val
	}

	// Validate the configuration
	if e := config.Validate(); e != nil {
		return nil, "", fmt.Errorf("configuration validation failed: %w", e)
	}

	return &config, path, nil
}

// loadFromFile loads configuration from the first available YAML file.
// Searches common configuration locations and parses the first found file.
// Updates the provided config struct with values from the file.
// Returns the path of the loaded file or "built-in defaults" if no file found.
// Does not return error if no file is found - uses defaults instead.
func loadFromFile(config *Config) (string, error) {
	configPaths := []string{
		os.Getenv("GANTRY_CONFIG_PATH"),
		"/opt/gantry/config/gantry-config.yml",
		"./config/gantry-config.yml",
		"./gantry-config.yml",
		"/etc/gantry/gantry-config.yml",
	}

	for _, path := range configPaths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return "", fmt.Errorf("failed to parse config file %s: %w", path, err)
		}

		return path, nil
	}

	return "built-in defaults (no config file found)", nil
}

// Validate performs comprehensive validation of the configuration.
// Checks all configuration sections for:
//   - Valid port ranges (1-65535)
//   - Positive intervals and timeouts
//   - Worker timeout longer than the heartbeat interval
//   - A known archive backend
//   - Valid logging levels
//
// Returns error describing the first validation failure found.
// Does not validate certificates as they may be populated later.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.NewConfigError("server", "port", fmt.Errorf("invalid server port: %d", c.Server.Port))
	}

	if c.Scheduler.MaxConcurrentPerRun < 0 {
		return errors.NewConfigError("scheduler", "maxConcurrentPerRun",
			fmt.Errorf("invalid max concurrent jobs per run: %d", c.Scheduler.MaxConcurrentPerRun))
	}

	if c.Scheduler.DefaultJobTimeout <= 0 {
		return errors.NewConfigError("scheduler", "defaultJobTimeout",
			fmt.Errorf("invalid default job timeout: %v", c.Scheduler.DefaultJobTimeout))
	}

	if c.Scheduler.MaxRetryLimit < 0 {
		return errors.NewConfigError("scheduler", "maxRetryLimit",
			fmt.Errorf("invalid max retry limit: %d", c.Scheduler.MaxRetryLimit))
	}

	if c.Coordinator.HeartbeatInterval <= 0 {
		return errors.NewConfigError("coordinator", "heartbeatInterval",
			fmt.Errorf("invalid heartbeat interval: %v", c.Coordinator.HeartbeatInterval))
	}

	if c.Coordinator.WorkerTimeout <= c.Coordinator.HeartbeatInterval {
		return errors.NewConfigError("coordinator", "workerTimeout",
			fmt.Errorf("worker timeout %v must exceed heartbeat interval %v",
				c.Coordinator.WorkerTimeout, c.Coordinator.HeartbeatInterval))
	}

	if c.Coordinator.MonitorInterval <= 0 {
		return errors.NewConfigError("coordinator", "monitorInterval",
			fmt.Errorf("invalid monitor interval: %v", c.Coordinator.MonitorInterval))
	}

	if c.Coordinator.CancelGrace < 0 {
		return errors.NewConfigError("coordinator", "cancelGrace",
			fmt.Errorf("invalid cancel grace period: %v", c.Coordinator.CancelGrace))
	}

	if c.Coordinator.MaxJobsPerPoll < 1 {
		return errors.NewConfigError("coordinator", "maxJobsPerPoll",
			fmt.Errorf("invalid max jobs per poll: %d", c.Coordinator.MaxJobsPerPoll))
	}

	if c.Artifacts.SweepInterval <= 0 {
		return errors.NewConfigError("artifacts", "sweepInterval",
			fmt.Errorf("invalid artifact sweep interval: %v", c.Artifacts.SweepInterval))
	}

	if c.Artifacts.DefaultExpiry < 0 {
		return errors.NewConfigError("artifacts", "defaultExpiry",
			fmt.Errorf("invalid artifact default expiry: %v", c.Artifacts.DefaultExpiry))
	}

	switch c.Archive.Backend {
	case "memory", "":
	case "dynamodb":
		if c.Archive.DynamoDB.TableName == "" {
			return errors.NewConfigError("archive", "tableName",
				fmt.Errorf("dynamodb archive backend requires a table name"))
		}
	default:
		return errors.NewConfigError("archive", "backend",
			fmt.Errorf("invalid archive backend: %s", c.Archive.Backend))
	}

	// Validate logging level
	validLevels := map[string]bool{
		"DEBUG": true, "INFO": true, "WARN": true, "ERROR": true,
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Logging.Level] {
		return errors.NewConfigError("logging", "level",
			fmt.Errorf("invalid log level: %s", c.Logging.Level))
	}

	return nil
}

// LoadClientConfig loads hoist client configuration from the specified file.
//
//  1. Path from HOIST_CONFIG environment variable
//  2. ./hoist-config.yml
//  3. ./config/hoist-config.yml
//  4. ~/.hoist/hoist-config.yml
//  5. /etc/gantry/hoist-config.yml
//  6. /opt/gantry/config/hoist-config.yml
//
// Parses YAML configuration and validates that at least one node is configured.
// Returns ClientConfig with node definitions for connecting to Gantry servers.
func LoadClientConfig(configPath string) (*ClientConfig, error) {
	if configPath == "" {
		// Look for hoist-config.yml in common locations
		configPath = findClientConfig()
		if configPath == "" {
			return nil, fmt.Errorf("client configuration file not found. Please create hoist-config.yml or specify path with --config")
		}
	}

	// Check if file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("client configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read client config file %s: %w", configPath, err)
	}

	var config ClientConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}

	// Validate that we have nodes
	if len(config.Nodes) == 0 {
		return nil, fmt.Errorf("no nodes configured in %s", configPath)
	}

	return &config, nil
}

// GetNode retrieves the configuration for a named Gantry server node.
// If nodeName is empty, defaults to "default" node.
// Returns the Node configuration containing the server address,
// or error if the specified node name is not found in the configuration.
func (c *ClientConfig) GetNode(nodeName string) (*Node, error) {
	if nodeName == "" {
		nodeName = "default"
	}

	node, exists := c.Nodes[nodeName]
	if !exists {
		return nil, fmt.Errorf("node '%s' not found in configuration", nodeName)
	}

	return node, nil
}

// ListNodes returns a slice of all configured node names.
// Returns empty slice if no nodes are configured.
func (c *ClientConfig) ListNodes() []string {
	var nodes []string
	for name := range c.Nodes {
		nodes = append(nodes, name)
	}
	return nodes
}

// findClientConfig searches for hoist client configuration file in standard locations.
// First checks HOIST_CONFIG environment variable, then searches common paths.
// Returns the path of the first found configuration file.
// Returns empty string if no configuration file is found.
func findClientConfig() string {
	// First check HOIST_CONFIG environment variable
	if envPath := os.Getenv("HOIST_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	locations := []string{
		"./hoist-config.yml",
		"./config/hoist-config.yml",
		filepath.Join(os.Getenv("HOME"), ".hoist", "hoist-config.yml"),
		"/etc/gantry/hoist-config.yml",
		"/opt/gantry/config/hoist-config.yml",
	}

	for _, path := range locations {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
