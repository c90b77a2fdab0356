package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v2"
)

// Configuration holds all settings for the mount.
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Remote     RemoteConfig     `yaml:"remote"`
	Mount      MountConfig      `yaml:"mount"`
	Sync       SyncConfig       `yaml:"sync"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig holds settings not tied to one subsystem.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
}

// RemoteConfig describes how to reach the clipper service.
type RemoteConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	PortsToScan int           `yaml:"ports_to_scan"`
	Token       string        `yaml:"token"`
	Timeout     time.Duration `yaml:"timeout"`
}

// MountConfig holds FUSE mount settings.
type MountConfig struct {
	AllowOther bool `yaml:"allow_other"`
	Debug      bool `yaml:"debug"`
}

// SyncConfig holds event sync settings.
type SyncConfig struct {
	Period time.Duration `yaml:"period"`
}

// MonitoringConfig holds the metrics endpoint settings.
type MonitoringConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// NewDefault returns a configuration with sensible defaults. The token
// has no default and must come from a file, the environment, or a flag.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel: "info",
		},
		Remote: RemoteConfig{
			Host:        "http://127.0.0.1",
			Port:        41184,
			PortsToScan: 12,
			Timeout:     5 * time.Second,
		},
		Mount: MountConfig{
			AllowOther: false,
			Debug:      false,
		},
		Sync: SyncConfig{
			Period: 3 * time.Second,
		},
		Monitoring: MonitoringConfig{
			Enabled: false,
			Address: ":9331",
			Path:    "/metrics",
		},
	}
}

// LoadFromFile loads configuration from a YAML file, layered over the
// defaults.
func LoadFromFile(path string) (*Configuration, error) {
	config := NewDefault()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return config, nil
}

// LoadFromEnv overlays JOPLINFS_* environment variables onto the
// configuration. Unset variables leave the existing values alone.
func (c *Configuration) LoadFromEnv() {
	if v := os.Getenv("JOPLINFS_LOG_LEVEL"); v != "" {
		c.Global.LogLevel = v
	}
	if v := os.Getenv("JOPLINFS_HOST"); v != "" {
		c.Remote.Host = v
	}
	if v := os.Getenv("JOPLINFS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Remote.Port = port
		}
	}
	if v := os.Getenv("JOPLINFS_PORTS_TO_SCAN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Remote.PortsToScan = n
		}
	}
	if v := os.Getenv("JOPLINFS_TOKEN"); v != "" {
		c.Remote.Token = v
	}
	if v := os.Getenv("JOPLINFS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Remote.Timeout = d
		}
	}
	if v := os.Getenv("JOPLINFS_ALLOW_OTHER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Mount.AllowOther = b
		}
	}
	if v := os.Getenv("JOPLINFS_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Mount.Debug = b
		}
	}
	if v := os.Getenv("JOPLINFS_SYNC_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Sync.Period = d
		}
	}
	if v := os.Getenv("JOPLINFS_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Monitoring.Enabled = b
		}
	}
	if v := os.Getenv("JOPLINFS_METRICS_ADDRESS"); v != "" {
		c.Monitoring.Address = v
	}
}

// Validate checks the configuration for values the mount cannot start
// with.
func (c *Configuration) Validate() error {
	if err := validation.ValidateStruct(&c.Global,
		validation.Field(&c.Global.LogLevel,
			validation.In("debug", "info", "warn", "error")),
	); err != nil {
		return fmt.Errorf("global: %w", err)
	}

	if err := validation.ValidateStruct(&c.Remote,
		validation.Field(&c.Remote.Host, validation.Required),
		validation.Field(&c.Remote.Port, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.Remote.PortsToScan, validation.Min(1), validation.Max(1024)),
		validation.Field(&c.Remote.Token, validation.Required),
		validation.Field(&c.Remote.Timeout, validation.Min(time.Millisecond)),
	); err != nil {
		return fmt.Errorf("remote: %w", err)
	}

	if err := validation.ValidateStruct(&c.Sync,
		validation.Field(&c.Sync.Period, validation.Min(100*time.Millisecond)),
	); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	if c.Monitoring.Enabled {
		if err := validation.ValidateStruct(&c.Monitoring,
			validation.Field(&c.Monitoring.Address, validation.Required),
			validation.Field(&c.Monitoring.Path, validation.Required),
		); err != nil {
			return fmt.Errorf("monitoring: %w", err)
		}
	}

	return nil
}
