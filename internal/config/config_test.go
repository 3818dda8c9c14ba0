package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-supervisor
broker:
  auto_reconnect: true
  disconnection_delay: 3s
consumers:
  - id: orders
    queue: orders.stream
    host: rabbit.local
    port: 5673
    user: app
    password: secret
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-supervisor" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-supervisor")
	}
	if !cfg.Broker.AutoReconnect {
		t.Error("Broker.AutoReconnect = false, want true")
	}
	if cfg.Broker.DisconnectionDelay != 3*time.Second {
		t.Errorf("Broker.DisconnectionDelay = %v, want %v", cfg.Broker.DisconnectionDelay, 3*time.Second)
	}
	if len(cfg.Consumers) != 1 {
		t.Fatalf("len(Consumers) = %d, want 1", len(cfg.Consumers))
	}
	if cfg.Consumers[0].Port != 5673 {
		t.Errorf("Consumers[0].Port = %d, want %d", cfg.Consumers[0].Port, 5673)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_BROKER_PASSWORD", "secret123")

	yaml := `
instance:
  id: test-supervisor
consumers:
  - id: orders
    queue: orders.stream
    host: localhost
    user: app
    password: ${TEST_BROKER_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Consumers[0].Password != "secret123" {
		t.Errorf("Consumers[0].Password = %q, want %q", cfg.Consumers[0].Password, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-supervisor
consumers:
  - id: orders
    queue: orders.stream
    host: localhost
    user: app
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Broker.ConnectBackoff != DefaultConnectBackoff {
		t.Errorf("Broker.ConnectBackoff = %v, want default %v", cfg.Broker.ConnectBackoff, DefaultConnectBackoff)
	}
	if cfg.Admission.RetryThreshold != DefaultRetryThreshold {
		t.Errorf("Admission.RetryThreshold = %d, want default %d", cfg.Admission.RetryThreshold, DefaultRetryThreshold)
	}
	if cfg.Admission.RetryDelay != DefaultRetryDelay {
		t.Errorf("Admission.RetryDelay = %v, want default %v", cfg.Admission.RetryDelay, DefaultRetryDelay)
	}
	if cfg.Admission.GlobalFailureThreshold != DefaultGlobalFailureThreshold {
		t.Errorf("Admission.GlobalFailureThreshold = %d, want default %d", cfg.Admission.GlobalFailureThreshold, DefaultGlobalFailureThreshold)
	}
	if cfg.Health.CheckInterval != DefaultCheckInterval {
		t.Errorf("Health.CheckInterval = %v, want default %v", cfg.Health.CheckInterval, DefaultCheckInterval)
	}
	if cfg.Consumers[0].Port != DefaultBrokerPort {
		t.Errorf("Consumers[0].Port = %d, want default %d", cfg.Consumers[0].Port, DefaultBrokerPort)
	}
	if cfg.Consumers[0].VHost != DefaultVHost {
		t.Errorf("Consumers[0].VHost = %q, want default %q", cfg.Consumers[0].VHost, DefaultVHost)
	}
	if cfg.Journal.Table != DefaultJournalTable {
		t.Errorf("Journal.Table = %q, want default %q", cfg.Journal.Table, DefaultJournalTable)
	}
	if cfg.Journal.Database.Port != DefaultDBPort {
		t.Errorf("Journal.Database.Port = %d, want default %d", cfg.Journal.Database.Port, DefaultDBPort)
	}
	if cfg.Server.Port != DefaultServerPort {
		t.Errorf("Server.Port = %d, want default %d", cfg.Server.Port, DefaultServerPort)
	}
}

func TestLoadAndValidate_Invalid(t *testing.T) {
	path := writeTempFile(t, "broker:\n  auto_reconnect: true\n")

	_, err := LoadAndValidate(path)
	if err == nil {
		t.Fatal("LoadAndValidate expected error, got nil")
	}
	if !strings.Contains(err.Error(), "instance.id is required") {
		t.Errorf("error = %q, want it to mention instance.id", err.Error())
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Config{
			Instance: InstanceConfig{ID: "test"},
			Consumers: []ConsumerConfig{
				{ID: "orders", Queue: "orders.stream", Host: "localhost", User: "app"},
			},
		}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "zero global threshold",
			mutate:  func(c *Config) { c.Admission.GlobalFailureThreshold = 0 },
			wantErr: "admission.global_failure_threshold must be >= 1",
		},
		{
			name:    "missing consumer queue",
			mutate:  func(c *Config) { c.Consumers[0].Queue = "" },
			wantErr: "consumers[0].queue is required",
		},
		{
			name:    "bad consumer port",
			mutate:  func(c *Config) { c.Consumers[0].Port = 70000 },
			wantErr: "consumers[0].port must be between 1 and 65535, got 70000",
		},
		{
			name: "duplicate consumer id",
			mutate: func(c *Config) {
				c.Consumers = append(c.Consumers, c.Consumers[0])
			},
			wantErr: `consumers[1].id "orders" is duplicated`,
		},
		{
			name: "journal without database host",
			mutate: func(c *Config) {
				c.Journal.Enabled = true
				c.Journal.Database.Name = "ops"
				c.Journal.Database.User = "supervisor"
			},
			wantErr: "journal.database.host is required",
		},
		{
			name: "journal min conns above max",
			mutate: func(c *Config) {
				c.Journal.Enabled = true
				c.Journal.Database = DBConfig{Host: "db", Name: "ops", User: "supervisor", MinConns: 5, MaxConns: 2}
			},
			wantErr: "journal.database: need 0 <= min_conns <= max_conns, got 5 and 2",
		},
		{
			name: "disabled journal is not validated",
			mutate: func(c *Config) {
				c.Journal.Database = DBConfig{}
			},
			wantErr: "",
		},
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoadExampleConfig(t *testing.T) {
	t.Setenv("RABBITMQ_PASSWORD", "guest")

	cfg, err := LoadAndValidate(filepath.Join("..", "..", "configs", "supervisor.example.yaml"))
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}

	if len(cfg.Consumers) != 2 {
		t.Fatalf("len(Consumers) = %d, want 2", len(cfg.Consumers))
	}
	if cfg.Consumers[1].Port != DefaultBrokerPort {
		t.Errorf("Consumers[1].Port = %d, want default %d", cfg.Consumers[1].Port, DefaultBrokerPort)
	}
	if cfg.Consumers[0].Password != "guest" {
		t.Errorf("Consumers[0].Password = %q, want %q", cfg.Consumers[0].Password, "guest")
	}
	if cfg.Journal.Enabled {
		t.Error("Journal.Enabled = true, want false")
	}
}
