// Package config provides configuration management for relayhop.
// It handles loading, saving, and validating supervisor settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/relayhop/common"
)

// Config represents the supervisor configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	// DirectoryURL is the relay directory feed endpoint.
	DirectoryURL string `yaml:"directory_url"`
	// Europe keeps candidates located in Europe.
	Europe bool `yaml:"europe"`
	// Countries keeps candidates whose 2-letter code matches any entry.
	Countries []string `yaml:"countries"`
	// ProbeConcurrency is the reachability worker pool size.
	ProbeConcurrency int `yaml:"probe_concurrency"`
	// ProbeTimeoutMS is the per-candidate reachability timeout in milliseconds.
	ProbeTimeoutMS int `yaml:"probe_timeout_ms"`
	// ReadyTimeoutSec is how long to wait for tunnel routes to come up.
	ReadyTimeoutSec int `yaml:"ready_timeout_sec"`
	// MonitorIntervalSec is the monitoring wait between reload checks.
	MonitorIntervalSec int `yaml:"monitor_interval_sec"`
	// HealthFloorKB is the minimum acceptable throughput in KiB/s.
	HealthFloorKB int `yaml:"health_floor_kb"`
	// TestURL is the fixed object streamed by throughput measurements.
	TestURL string `yaml:"test_url"`
	// OpenVPNPath is the tunnel binary (or its name on PATH).
	OpenVPNPath string `yaml:"openvpn_path"`
	// NamespaceHelper is the helper binary that runs the tunnel inside an
	// isolated network namespace. Empty means direct invocation.
	NamespaceHelper string `yaml:"namespace_helper"`
	// Namespace is the named network namespace passed to the helper.
	Namespace string `yaml:"namespace"`
	// TunnelInterface is the wildcard matching the tunnel devices.
	TunnelInterface string `yaml:"tunnel_interface"`
	// Firewall enables leak-prevention packet filter rules while connected.
	Firewall bool `yaml:"firewall"`
	// AuthUser is the username for relays requiring authentication.
	// The password lives in the keyring, never in this file.
	AuthUser string `yaml:"auth_user,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DirectoryURL:       "https://www.vpngate.net/api/iphone/",
		Europe:             false,
		Countries:          nil,
		ProbeConcurrency:   common.ProbeConcurrency,
		ProbeTimeoutMS:     int(common.ProbeTimeout / time.Millisecond),
		ReadyTimeoutSec:    int(common.ReadyTimeout / time.Second),
		MonitorIntervalSec: int(common.MonitorInterval / time.Second),
		HealthFloorKB:      common.HealthFloor / 1024,
		TestURL:            "http://cachefly.cachefly.net/10mb.test",
		OpenVPNPath:        "openvpn",
		TunnelInterface:    "tun+",
		Firewall:           true,
	}
}

// Load loads the configuration from the config file.
// If the file doesn't exist, it creates one with default values.
func Load() (*Config, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.Save(); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("error opening configuration: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // Strict validation: reject unknown fields

	var config Config
	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validate verifies configuration values, falling back to defaults for
// out-of-range numeric settings.
func (c *Config) validate() error {
	if c.DirectoryURL == "" {
		return fmt.Errorf("directory_url is required")
	}
	def := DefaultConfig()
	if c.ProbeConcurrency <= 0 {
		c.ProbeConcurrency = def.ProbeConcurrency
	}
	if c.ProbeTimeoutMS <= 0 {
		c.ProbeTimeoutMS = def.ProbeTimeoutMS
	}
	if c.ReadyTimeoutSec <= 0 {
		c.ReadyTimeoutSec = def.ReadyTimeoutSec
	}
	if c.MonitorIntervalSec <= 0 {
		c.MonitorIntervalSec = def.MonitorIntervalSec
	}
	if c.HealthFloorKB <= 0 {
		c.HealthFloorKB = def.HealthFloorKB
	}
	if c.TestURL == "" {
		c.TestURL = def.TestURL
	}
	if c.OpenVPNPath == "" {
		c.OpenVPNPath = def.OpenVPNPath
	}
	if c.TunnelInterface == "" {
		c.TunnelInterface = def.TunnelInterface
	}
	if c.NamespaceHelper != "" && c.Namespace == "" {
		return fmt.Errorf("namespace is required when namespace_helper is set")
	}
	return nil
}

// ProbeTimeout returns the reachability timeout as a duration.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMS) * time.Millisecond
}

// ReadyTimeout returns the readiness timeout as a duration.
func (c *Config) ReadyTimeout() time.Duration {
	return time.Duration(c.ReadyTimeoutSec) * time.Second
}

// MonitorInterval returns the monitoring wait as a duration.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalSec) * time.Second
}

// HealthFloor returns the health floor in bytes per second.
func (c *Config) HealthFloor() float64 {
	return float64(c.HealthFloorKB) * 1024
}

// Save saves the configuration to the file.
func (c *Config) Save() error {
	configPath, err := getConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("error serializing configuration: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("error saving configuration: %w", err)
	}

	return nil
}

func getConfigPath() (string, error) {
	configDir, err := common.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, common.ConfigFileName), nil
}
