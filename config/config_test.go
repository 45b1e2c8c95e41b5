package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Load(fs, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenSensors != ":8700" {
		t.Fatalf("unexpected default ListenSensors: %q", cfg.ListenSensors)
	}
	if cfg.SessionTimeout != 10*time.Second {
		t.Fatalf("unexpected default SessionTimeout: %v", cfg.SessionTimeout)
	}
}

func TestLoadFlagOverridesDefault(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Load(fs, []string{"-listen-sensors", ":9999"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenSensors != ":9999" {
		t.Fatalf("expected flag override, got %q", cfg.ListenSensors)
	}
}

func TestLoadConfigFileSuppliesDefaultsFlagStillWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")
	if err := os.WriteFile(path, []byte(`{"listen_sensors": ":7000", "metrics_addr": ":7070"}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Load(fs, []string{"-config", path, "-listen-sensors", ":7777"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenSensors != ":7777" {
		t.Fatalf("expected explicit flag to win over file, got %q", cfg.ListenSensors)
	}
	if cfg.MetricsAddr != ":7070" {
		t.Fatalf("expected file value for an un-overridden flag, got %q", cfg.MetricsAddr)
	}
}

func TestSetAndGetRoundTrip(t *testing.T) {
	cfg := defaults()
	cfg.ListenSensors = ":1234"
	Set(&cfg)

	got := Get()
	if got.ListenSensors != ":1234" {
		t.Fatalf("expected Get to reflect Set, got %q", got.ListenSensors)
	}
	if SessionTimeout() != cfg.SessionTimeout {
		t.Fatalf("Rom cache mismatch: got %v, want %v", SessionTimeout(), cfg.SessionTimeout)
	}
}
