package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/durastep/pkg/stores"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "durastep.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Simulation.StepTimeout != time.Minute || cfg.Simulation.CycleTimeout != 2*time.Minute {
		t.Errorf("unexpected default timeouts: %+v", cfg.Simulation)
	}
	if cfg.Storage.StoreKind() != stores.KindSQLite {
		t.Errorf("unexpected default storage %s", cfg.Storage.Kind)
	}
}

func TestLoadDefaultYAML(t *testing.T) {
	cfg, err := Load(writeFile(t, DefaultYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Simulation.RinseDelay != 1500*time.Millisecond {
		t.Errorf("expected rinse delay 1.5s, got %v", cfg.Simulation.RinseDelay)
	}
	if cfg.Server.Address != "localhost:9000" {
		t.Errorf("unexpected address %s", cfg.Server.Address)
	}
	if cfg.Telemetry.ServiceName != "durastep" {
		t.Errorf("telemetry defaults lost: %+v", cfg.Telemetry)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "simulation:\n  failure_rate: 0.25\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Simulation.FailureRate != 0.25 {
		t.Errorf("expected failure rate 0.25, got %v", cfg.Simulation.FailureRate)
	}
	if cfg.Simulation.WashDelay != 2*time.Second {
		t.Errorf("expected default wash delay, got %v", cfg.Simulation.WashDelay)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Address == "" {
		t.Error("expected defaults")
	}
}

func TestLoadRejectsSchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown key", "server:\n  adress: localhost:1\n"},
		{"bad duration", "simulation:\n  wash_delay: soon\n"},
		{"bad storage kind", "storage:\n  kind: postgres\n"},
		{"failure rate too high", "simulation:\n  failure_rate: 2\n"},
		{"unknown section", "cluster:\n  nodes: 3\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeFile(t, tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"zero step timeout", "simulation:\n  step_timeout: \"0\"\n", "StepTimeout"},
		{"sqlite without path", "storage:\n  kind: sqlite\n  path: \"\"\n", "Path"},
		{"bad address", "server:\n  address: nowhere\n", "Address"},
		{"bad log level", "telemetry:\n  logging:\n    level: loud\n", "Level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"DURASTEP_LISTEN_ADDR":  "127.0.0.1:8080",
		"DURASTEP_STORAGE":      "memory",
		"DURASTEP_DB_PATH":      "/tmp/x.db",
		"DURASTEP_LOG_LEVEL":    "debug",
		"DURASTEP_FAILURE_RATE": "0.1",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}
	if cfg.Server.Address != "127.0.0.1:8080" || cfg.Storage.Kind != "memory" || cfg.Storage.Path != "/tmp/x.db" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Telemetry.Logging.Level != "debug" || cfg.Simulation.FailureRate != 0.1 {
		t.Errorf("overrides not applied: %+v / %v", cfg.Telemetry.Logging, cfg.Simulation.FailureRate)
	}

	env["DURASTEP_FAILURE_RATE"] = "often"
	if err := Default().ApplyEnv(lookup); err == nil {
		t.Error("expected error for non-numeric failure rate")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("DURASTEP_STORAGE", "memory")
	cfg, err := Load(writeFile(t, "storage:\n  kind: sqlite\n  path: a.db\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Kind != "memory" {
		t.Errorf("expected env to win, got %s", cfg.Storage.Kind)
	}
}

func TestSimulationSettings(t *testing.T) {
	s := Default().Simulation.Settings()
	if err := s.Validate(); err != nil {
		t.Fatalf("default simulation settings invalid: %v", err)
	}
	if s.FillDelay != time.Second || s.SpinDelay != time.Second {
		t.Errorf("unexpected settings %+v", s)
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "durastep.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}
	if _, err := Load(path); err != nil {
		t.Errorf("written default does not load: %v", err)
	}
	if err := WriteDefault(path); err == nil {
		t.Error("expected error when file exists")
	}
}
