package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gantryci/gantry/pkg/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig

	if cfg.Version != "1.0" {
		t.Errorf("expected version 1.0, got %s", cfg.Version)
	}

	if cfg.Server.Address != "0.0.0.0" {
		t.Errorf("expected default address 0.0.0.0, got %s", cfg.Server.Address)
	}

	if cfg.Server.Port != 7320 {
		t.Errorf("expected default port 7320, got %d", cfg.Server.Port)
	}

	if cfg.Scheduler.MaxConcurrentPerRun != 0 {
		t.Errorf("expected unlimited concurrency by default, got %d", cfg.Scheduler.MaxConcurrentPerRun)
	}

	if cfg.Scheduler.DefaultJobTimeout != 1*time.Hour {
		t.Errorf("expected default job timeout 1h, got %v", cfg.Scheduler.DefaultJobTimeout)
	}

	if cfg.Coordinator.WorkerTimeout <= cfg.Coordinator.HeartbeatInterval {
		t.Errorf("default worker timeout %v must exceed heartbeat interval %v",
			cfg.Coordinator.WorkerTimeout, cfg.Coordinator.HeartbeatInterval)
	}

	if cfg.Archive.Backend != "memory" {
		t.Errorf("expected default archive backend memory, got %s", cfg.Archive.Backend)
	}

	if cfg.Archive.DynamoDB.BatchSize != 25 {
		t.Errorf("expected default batch size 25, got %d", cfg.Archive.DynamoDB.BatchSize)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("expected default log level INFO, got %s", cfg.Logging.Level)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate, got %v", err)
	}
}

func TestGetServerAddress(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected string
	}{
		{
			name: "default address",
			config: Config{
				Server: ServerConfig{Address: "0.0.0.0", Port: 7320},
			},
			expected: "0.0.0.0:7320",
		},
		{
			name: "localhost with custom port",
			config: Config{
				Server: ServerConfig{Address: "localhost", Port: 8080},
			},
			expected: "localhost:8080",
		},
		{
			name: "specific IP",
			config: Config{
				Server: ServerConfig{Address: "192.168.1.100", Port: 9000},
			},
			expected: "192.168.1.100:9000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := tt.config.GetServerAddress()
			if addr != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, addr)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config { return DefaultConfig }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "port zero",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: true,
		},
		{
			name:    "port too large",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "negative concurrency cap",
			mutate:  func(c *Config) { c.Scheduler.MaxConcurrentPerRun = -1 },
			wantErr: true,
		},
		{
			name:    "zero job timeout",
			mutate:  func(c *Config) { c.Scheduler.DefaultJobTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "worker timeout below heartbeat",
			mutate:  func(c *Config) { c.Coordinator.WorkerTimeout = 5 * time.Second },
			wantErr: true,
		},
		{
			name:    "zero max jobs per poll",
			mutate:  func(c *Config) { c.Coordinator.MaxJobsPerPoll = 0 },
			wantErr: true,
		},
		{
			name:    "unknown archive backend",
			mutate:  func(c *Config) { c.Archive.Backend = "postgres" },
			wantErr: true,
		},
		{
			name: "dynamodb backend without table",
			mutate: func(c *Config) {
				c.Archive.Backend = "dynamodb"
				c.Archive.DynamoDB.TableName = ""
			},
			wantErr: true,
		},
		{
			name: "dynamodb backend with table",
			mutate: func(c *Config) {
				c.Archive.Backend = "dynamodb"
				c.Archive.DynamoDB.TableName = "runs"
			},
			wantErr: false,
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
		},
		{
			name:    "lowercase log level accepted",
			mutate:  func(c *Config) { c.Logging.Level = "debug" },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func TestValidateErrorsCarryConfigContext(t *testing.T) {
	cfg := DefaultConfig
	cfg.Server.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if !errors.IsConfigError(err) {
		t.Errorf("expected a config error, got %v", err)
	}
	if !errors.Is(err, errors.ErrInvalidConfig) {
		t.Errorf("expected error to match ErrInvalidConfig, got %v", err)
	}
}

func TestTLSEnabled(t *testing.T) {
	cfg := DefaultConfig
	if cfg.TLSEnabled() {
		t.Error("default config must not enable TLS")
	}

	cfg.Security.ServerCert = "cert"
	if cfg.TLSEnabled() {
		t.Error("cert without key must not enable TLS")
	}

	cfg.Security.ServerKey = "key"
	if !cfg.TLSEnabled() {
		t.Error("cert and key together must enable TLS")
	}
}

func TestGetServerTLSConfigWithoutCerts(t *testing.T) {
	cfg := DefaultConfig
	if _, err := cfg.GetServerTLSConfig(); err == nil {
		t.Error("expected error when certificates are not configured")
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("GANTRY_CONFIG_PATH", "")
	t.Setenv("GANTRY_SERVER_ADDRESS", "127.0.0.1")
	t.Setenv("GANTRY_SERVER_PORT", "9999")
	t.Setenv("GANTRY_LOG_LEVEL", "DEBUG")
	t.Setenv("GANTRY_ARCHIVE_BACKEND", "dynamodb")
	t.Setenv("GANTRY_DYNAMODB_TABLE", "gantry-test")
	t.Setenv("GANTRY_DYNAMODB_REGION", "us-west-2")

	cfg, path, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if path == "" {
		t.Error("expected a config source description")
	}
	if cfg.Server.Address != "127.0.0.1" {
		t.Errorf("expected address override 127.0.0.1, got %s", cfg.Server.Address)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("expected port override 9999, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("expected log level override DEBUG, got %s", cfg.Logging.Level)
	}
	if cfg.Archive.Backend != "dynamodb" {
		t.Errorf("expected archive backend override dynamodb, got %s", cfg.Archive.Backend)
	}
	if cfg.Archive.DynamoDB.TableName != "gantry-test" {
		t.Errorf("expected table override gantry-test, got %s", cfg.Archive.DynamoDB.TableName)
	}
	if cfg.Archive.DynamoDB.Region != "us-west-2" {
		t.Errorf("expected region override us-west-2, got %s", cfg.Archive.DynamoDB.Region)
	}
}

func TestLoadConfigInvalidPortEnv(t *testing.T) {
	t.Setenv("GANTRY_SERVER_PORT", "not-a-port")

	if _, _, err := LoadConfig(); err == nil {
		t.Error("expected error for non-numeric port")
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gantry-config.yml")

	content := `version: "1.0"
server:
  address: "10.0.0.5"
  port: 8443
scheduler:
  maxConcurrentPerRun: 4
archive:
  backend: "memory"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("GANTRY_CONFIG_PATH", path)
	t.Setenv("GANTRY_SERVER_ADDRESS", "")
	t.Setenv("GANTRY_SERVER_PORT", "")

	cfg, loadedPath, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if loadedPath != path {
		t.Errorf("expected config loaded from %s, got %s", path, loadedPath)
	}
	if cfg.Server.Address != "10.0.0.5" {
		t.Errorf("expected address 10.0.0.5, got %s", cfg.Server.Address)
	}
	if cfg.Server.Port != 8443 {
		t.Errorf("expected port 8443, got %d", cfg.Server.Port)
	}
	if cfg.Scheduler.MaxConcurrentPerRun != 4 {
		t.Errorf("expected concurrency cap 4, got %d", cfg.Scheduler.MaxConcurrentPerRun)
	}
	// Values absent from the file keep their defaults
	if cfg.Coordinator.HeartbeatInterval != 10*time.Second {
		t.Errorf("expected default heartbeat interval, got %v", cfg.Coordinator.HeartbeatInterval)
	}
}

func TestLoadClientConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hoist-config.yml")

	content := `version: "1.0"
nodes:
  default:
    address: "localhost:7320"
  prod:
    address: "gantry.internal:7320"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write client config: %v", err)
	}

	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("LoadClientConfig failed: %v", err)
	}

	if len(cfg.Nodes) != 2 {
		t.Errorf("expected 2 nodes, got %d", len(cfg.Nodes))
	}

	node, err := cfg.GetNode("")
	if err != nil {
		t.Fatalf("GetNode default failed: %v", err)
	}
	if node.Address != "localhost:7320" {
		t.Errorf("expected default node address localhost:7320, got %s", node.Address)
	}

	prod, err := cfg.GetNode("prod")
	if err != nil {
		t.Fatalf("GetNode prod failed: %v", err)
	}
	if prod.Address != "gantry.internal:7320" {
		t.Errorf("expected prod node address gantry.internal:7320, got %s", prod.Address)
	}

	if _, err := cfg.GetNode("staging"); err == nil {
		t.Error("expected error for unknown node")
	}

	names := cfg.ListNodes()
	if len(names) != 2 {
		t.Errorf("expected 2 node names, got %d", len(names))
	}
}

func TestLoadClientConfigMissingFile(t *testing.T) {
	if _, err := LoadClientConfig("/nonexistent/hoist-config.yml"); err == nil {
		t.Error("expected error for missing client config file")
	}
}

func TestLoadClientConfigEmptyNodes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hoist-config.yml")

	if err := os.WriteFile(path, []byte("version: \"1.0\"\nnodes: {}\n"), 0644); err != nil {
		t.Fatalf("failed to write client config: %v", err)
	}

	if _, err := LoadClientConfig(path); err == nil {
		t.Error("expected error when no nodes are configured")
	}
}
