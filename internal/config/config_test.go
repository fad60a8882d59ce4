package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTPPort != "8001" {
		t.Errorf("HTTPPort = %q, want 8001", cfg.HTTPPort)
	}
	if cfg.MergeRadiusMeters != 15 {
		t.Errorf("MergeRadiusMeters = %v, want 15", cfg.MergeRadiusMeters)
	}
	if len(cfg.Notifiers) != 2 || cfg.Notifiers[0] != "log" || cfg.Notifiers[1] != "redis" {
		t.Errorf("Notifiers = %v, want [log redis]", cfg.Notifiers)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("VALID_API_KEYS", "k1:abc123, k2:xyz9 ,broken")
	t.Setenv("NOTIFIERS", "log,kafka")
	t.Setenv("KAFKA_BROKERS", "b1:9092,b2:9092")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTPPort != "9090" {
		t.Errorf("HTTPPort = %q", cfg.HTTPPort)
	}
	if cfg.StoreBackend != "memory" {
		t.Errorf("StoreBackend = %q", cfg.StoreBackend)
	}
	if got := cfg.DeviceKeys["k1"]; got != "ABC123" {
		t.Errorf("DeviceKeys[k1] = %q, want ABC123", got)
	}
	if got := cfg.DeviceKeys["k2"]; got != "XYZ9" {
		t.Errorf("DeviceKeys[k2] = %q, want XYZ9", got)
	}
	if len(cfg.DeviceKeys) != 2 {
		t.Errorf("DeviceKeys = %v, want 2 entries", cfg.DeviceKeys)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("Kafka.Brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad store", map[string]string{"STORE_BACKEND": "sqlite"}},
		{"bad firmware backend", map[string]string{"FIRMWARE_BACKEND": "ftp"}},
		{"unknown notifier", map[string]string{"NOTIFIERS": "pigeon"}},
		{"negative radius", map[string]string{"MERGE_RADIUS_METERS": "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telematics.yaml")
	if err := os.WriteFile(path, []byte("http_port: \"7000\"\nnotify_workers: 7\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTPPort != "7000" || cfg.NotifyWorkers != 7 {
		t.Errorf("got port %q workers %d", cfg.HTTPPort, cfg.NotifyWorkers)
	}
}

func TestPostgresURL(t *testing.T) {
	cfg := &Config{DBUser: "u", DBPassword: "p", DBHost: "h", DBPort: "5432", DBName: "d", DBMaxConns: 4}
	want := "postgres://u:p@h:5432/d?pool_max_conns=4"
	if got := cfg.PostgresURL(); got != want {
		t.Errorf("PostgresURL() = %q, want %q", got, want)
	}
}
