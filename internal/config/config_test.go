package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.Global.LogLevel != "info" {
		t.Errorf("Expected LogLevel to be info, got %s", cfg.Global.LogLevel)
	}
	if cfg.Remote.Host != "http://127.0.0.1" {
		t.Errorf("Expected Host to be http://127.0.0.1, got %s", cfg.Remote.Host)
	}
	if cfg.Remote.Port != 41184 {
		t.Errorf("Expected Port to be 41184, got %d", cfg.Remote.Port)
	}
	if cfg.Remote.PortsToScan != 12 {
		t.Errorf("Expected PortsToScan to be 12, got %d", cfg.Remote.PortsToScan)
	}
	if cfg.Remote.Timeout != 5*time.Second {
		t.Errorf("Expected Timeout to be 5s, got %v", cfg.Remote.Timeout)
	}
	if cfg.Sync.Period != 3*time.Second {
		t.Errorf("Expected sync Period to be 3s, got %v", cfg.Sync.Period)
	}
	if cfg.Mount.AllowOther {
		t.Error("Expected AllowOther to be disabled by default")
	}
	if cfg.Monitoring.Enabled {
		t.Error("Expected Monitoring to be disabled by default")
	}
	if cfg.Monitoring.Address != ":9331" {
		t.Errorf("Expected metrics address :9331, got %s", cfg.Monitoring.Address)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
global:
  log_level: debug
remote:
  host: http://192.168.1.10
  port: 41200
  token: secret
sync:
  period: 10s
monitoring:
  enabled: true
  address: ":9400"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Global.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.Global.LogLevel)
	}
	if cfg.Remote.Host != "http://192.168.1.10" {
		t.Errorf("Host = %s, want http://192.168.1.10", cfg.Remote.Host)
	}
	if cfg.Remote.Port != 41200 {
		t.Errorf("Port = %d, want 41200", cfg.Remote.Port)
	}
	if cfg.Remote.Token != "secret" {
		t.Errorf("Token = %s, want secret", cfg.Remote.Token)
	}
	if cfg.Sync.Period != 10*time.Second {
		t.Errorf("Period = %v, want 10s", cfg.Sync.Period)
	}
	if !cfg.Monitoring.Enabled {
		t.Error("Monitoring should be enabled")
	}
	if cfg.Monitoring.Address != ":9400" {
		t.Errorf("Address = %s, want :9400", cfg.Monitoring.Address)
	}

	// Values absent from the file keep their defaults.
	if cfg.Remote.PortsToScan != 12 {
		t.Errorf("PortsToScan = %d, want default 12", cfg.Remote.PortsToScan)
	}
	if cfg.Monitoring.Path != "/metrics" {
		t.Errorf("Path = %s, want default /metrics", cfg.Monitoring.Path)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("JOPLINFS_LOG_LEVEL", "warn")
	t.Setenv("JOPLINFS_PORT", "41199")
	t.Setenv("JOPLINFS_TOKEN", "env-token")
	t.Setenv("JOPLINFS_SYNC_PERIOD", "7s")
	t.Setenv("JOPLINFS_ALLOW_OTHER", "true")
	t.Setenv("JOPLINFS_METRICS_ENABLED", "true")

	cfg := NewDefault()
	cfg.LoadFromEnv()

	if cfg.Global.LogLevel != "warn" {
		t.Errorf("LogLevel = %s, want warn", cfg.Global.LogLevel)
	}
	if cfg.Remote.Port != 41199 {
		t.Errorf("Port = %d, want 41199", cfg.Remote.Port)
	}
	if cfg.Remote.Token != "env-token" {
		t.Errorf("Token = %s, want env-token", cfg.Remote.Token)
	}
	if cfg.Sync.Period != 7*time.Second {
		t.Errorf("Period = %v, want 7s", cfg.Sync.Period)
	}
	if !cfg.Mount.AllowOther {
		t.Error("AllowOther should be enabled")
	}
	if !cfg.Monitoring.Enabled {
		t.Error("Monitoring should be enabled")
	}
}

func TestLoadFromEnvBadValuesIgnored(t *testing.T) {
	t.Setenv("JOPLINFS_PORT", "not-a-port")
	t.Setenv("JOPLINFS_SYNC_PERIOD", "not-a-duration")

	cfg := NewDefault()
	cfg.LoadFromEnv()

	if cfg.Remote.Port != 41184 {
		t.Errorf("Port = %d, want default 41184", cfg.Remote.Port)
	}
	if cfg.Sync.Period != 3*time.Second {
		t.Errorf("Period = %v, want default 3s", cfg.Sync.Period)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Configuration)
		wantErr bool
	}{
		{
			name:   "valid config",
			mutate: func(cfg *Configuration) {},
		},
		{
			name:    "missing token",
			mutate:  func(cfg *Configuration) { cfg.Remote.Token = "" },
			wantErr: true,
		},
		{
			name:    "bad log level",
			mutate:  func(cfg *Configuration) { cfg.Global.LogLevel = "verbose" },
			wantErr: true,
		},
		{
			name:    "port out of range",
			mutate:  func(cfg *Configuration) { cfg.Remote.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "zero ports to scan",
			mutate:  func(cfg *Configuration) { cfg.Remote.PortsToScan = 0 },
			wantErr: true,
		},
		{
			name:    "sync period too short",
			mutate:  func(cfg *Configuration) { cfg.Sync.Period = time.Millisecond },
			wantErr: true,
		},
		{
			name: "monitoring enabled without address",
			mutate: func(cfg *Configuration) {
				cfg.Monitoring.Enabled = true
				cfg.Monitoring.Address = ""
			},
			wantErr: true,
		},
		{
			name: "monitoring disabled ignores address",
			mutate: func(cfg *Configuration) {
				cfg.Monitoring.Enabled = false
				cfg.Monitoring.Address = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			cfg.Remote.Token = "token"
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
