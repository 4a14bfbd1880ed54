package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oarkflow/smpp-engine/pkg/smpp"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewConfigManager(filepath.Join(t.TempDir(), "absent.yaml")).LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 2775 || cfg.Session.WindowSize != 10 {
		t.Fatalf("defaults not applied: %+v", cfg.Server)
	}
}

func TestLoadYAMLOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	yaml := `
server:
  port: 2776
  system_id: TESTSMSC
session:
  enquire_link_interval: 45s
  window_size: 4
  submit_rate: 50
auth:
  users:
    - system_id: esme1
      password: secret
      system_type: VMA
storage:
  type: file
  data_dir: /var/lib/smpp
  retention: 24h
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewConfigManager(path).LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 2776 || cfg.Server.SystemID != "TESTSMSC" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Session.EnquireLinkInterval != 45*time.Second || cfg.Session.WindowSize != 4 || cfg.Session.SubmitRate != 50 {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.Session.BindTimeout != 30*time.Second {
		t.Errorf("unset bind_timeout = %v, want default", cfg.Session.BindTimeout)
	}
	if len(cfg.Auth.Users) != 1 || cfg.Auth.Users[0].SystemType != "VMA" {
		t.Errorf("auth = %+v", cfg.Auth)
	}
	if cfg.Storage.Type != "file" || cfg.Storage.Retention != "24h" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
}

func TestSaveAndLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server.json")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"enquire_link_interval": "30s"`) {
		t.Fatalf("durations not written as strings:\n%s", data)
	}

	cm := NewConfigManager(path)
	cfg, err := cm.LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Client.ConnectTimeout != 10*time.Second || cfg.Client.BindType != "transceiver" {
		t.Fatalf("client = %+v", cfg.Client)
	}

	cfg.Server.Port = 3000
	if err := cm.SaveConfig(); err != nil {
		t.Fatal(err)
	}
	again, err := NewConfigManager(path).LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if again.Server.Port != 3000 {
		t.Fatalf("saved port = %d", again.Server.Port)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("session:\n  bind_timeout: soon\n"), 0644)
	if _, err := NewConfigManager(path).LoadConfig(); err == nil {
		t.Fatal("bad duration accepted")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*smpp.Config)
	}{
		{"port", func(c *smpp.Config) { c.Server.Port = 70000 }},
		{"system id", func(c *smpp.Config) { c.Server.SystemID = strings.Repeat("x", smpp.MaxSystemIDLength) }},
		{"interface version", func(c *smpp.Config) { c.Server.InterfaceVersion = 0x50 }},
		{"tls without cert", func(c *smpp.Config) { c.Server.TLSEnabled = true }},
		{"window", func(c *smpp.Config) { c.Session.WindowSize = 0 }},
		{"timer", func(c *smpp.Config) { c.Session.EnquireLinkTimeout = 0 }},
		{"pdu size", func(c *smpp.Config) { c.Session.MaxPDUSize = 8 }},
		{"bind type", func(c *smpp.Config) { c.Client.BindType = "both" }},
		{"log level", func(c *smpp.Config) { c.Logging.Level = "verbose" }},
		{"log file", func(c *smpp.Config) { c.Logging.Output = "file" }},
		{"metrics path", func(c *smpp.Config) { c.Metrics.Enabled = true; c.Metrics.Path = "" }},
		{"storage type", func(c *smpp.Config) { c.Storage.Type = "redis" }},
		{"storage dir", func(c *smpp.Config) { c.Storage.Type = "file"; c.Storage.DataDir = "" }},
		{"retention", func(c *smpp.Config) { c.Storage.Retention = "forever" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Fatal("invalid config accepted")
			}
		})
	}
}
