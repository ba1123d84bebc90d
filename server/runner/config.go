package runner

import (
	"os"
	"path/filepath"
	"time"

	"github.com/gantryci/gantry/pkg/helper"
	"gopkg.in/yaml.v2"
)

type Configs struct {
	Runner struct {
		// Node is the name this runner reports in events and heartbeats.
		Node string `yaml:"node"`
		// MaxConcurrentCells caps the matrix cells executing at once
		// across all runs this runner holds.
		MaxConcurrentCells int    `yaml:"max_concurrent_cells"`
		WorkspaceRoot      string `yaml:"workspace_root"`
		ToolchainRoot      string `yaml:"toolchain_root"`
		CacheDir           string `yaml:"cache_dir"`
		StatePath          string `yaml:"state_path"`
		LogDir             string `yaml:"log_dir"`
		HeartbeatSeconds   int    `yaml:"heartbeat_seconds"`
		LogLevel           string `yaml:"log_level"`
	} `yaml:"runner"`
	Nats struct {
		URL           string `yaml:"url"`
		Name          string `yaml:"name"`
		ReconnectWait int    `yaml:"reconnect_wait"`
		MaxReconnects int    `yaml:"max_reconnect"`
	} `yaml:"nats"`
}

func SetConfig(f string) (*Configs, error) {
	config := &Configs{}
	file, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(file, config); err != nil {
		return nil, err
	}
	config.Defaults()
	return config, nil
}

// Defaults fills everything the file left empty so a minimal config with
// just the NATS URL works.
func (c *Configs) Defaults() {
	if c.Runner.Node == "" {
		c.Runner.Node = helper.Hostname()
	}
	if c.Runner.MaxConcurrentCells <= 0 {
		c.Runner.MaxConcurrentCells = 4
	}
	base := dataDir()
	if c.Runner.WorkspaceRoot == "" {
		c.Runner.WorkspaceRoot = filepath.Join(base, "workspaces")
	}
	if c.Runner.ToolchainRoot == "" {
		c.Runner.ToolchainRoot = filepath.Join(base, "toolchains")
	}
	if c.Runner.CacheDir == "" {
		c.Runner.CacheDir = filepath.Join(base, "cache")
	}
	if c.Runner.StatePath == "" {
		c.Runner.StatePath = filepath.Join(base, "runner.db")
	}
	if c.Runner.LogDir == "" {
		c.Runner.LogDir = filepath.Join(base, "logs")
	}
	if c.Runner.HeartbeatSeconds <= 0 {
		c.Runner.HeartbeatSeconds = 15
	}
	if c.Runner.LogLevel == "" {
		c.Runner.LogLevel = "info"
	}
	if c.Nats.URL == "" {
		c.Nats.URL = "nats://127.0.0.1:4222"
	}
	if c.Nats.Name == "" {
		c.Nats.Name = "gantry-runner"
	}
	if c.Nats.ReconnectWait <= 0 {
		c.Nats.ReconnectWait = 2
	}
	if c.Nats.MaxReconnects == 0 {
		c.Nats.MaxReconnects = 60
	}
}

func (c *Configs) ReconnectWait() time.Duration {
	return time.Duration(c.Nats.ReconnectWait) * time.Second
}

func dataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".gantry")
	}
	return filepath.Join(os.TempDir(), "gantry")
}
