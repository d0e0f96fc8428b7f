package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"bibflat/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OutputDir != "out" || cfg.StatePath != "bibflat.db" {
		t.Errorf("paths = %q, %q", cfg.OutputDir, cfg.StatePath)
	}
	if cfg.Workers != 4 || cfg.BatchSize != 500 || cfg.QueueSize != 1024 {
		t.Errorf("tuning = %d/%d/%d", cfg.Workers, cfg.BatchSize, cfg.QueueSize)
	}
	if cfg.Loader.Driver != "" || cfg.Loader.DSN != "" {
		t.Errorf("loader should be unset by default: %+v", cfg.Loader)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BIBFLAT_LOADER_DRIVER", "postgres")
	t.Setenv("BIBFLAT_LOADER_DSN", "postgres://localhost/bib")
	t.Setenv("BIBFLAT_SCHEMADIR", "/etc/bibflat/schemas")
	t.Setenv("BIBFLAT_WORKERS", "8")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Loader.Driver != "postgres" || cfg.Loader.DSN != "postgres://localhost/bib" {
		t.Errorf("loader = %+v", cfg.Loader)
	}
	if cfg.SchemaDir != "/etc/bibflat/schemas" {
		t.Errorf("schemaDir = %q", cfg.SchemaDir)
	}
	if cfg.Workers != 8 {
		t.Errorf("workers = %d, want 8", cfg.Workers)
	}
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bibflat.yaml")
	doc := []byte("workers: 2\nloader:\n  driver: sqlite\n  dsn: state.db\n")
	if err := os.WriteFile(path, doc, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("BIBFLAT_LOADER_DRIVER", "mysql")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Loader.Driver != "mysql" {
		t.Errorf("driver = %q, env should win over the file", cfg.Loader.Driver)
	}
	if cfg.Loader.DSN != "state.db" || cfg.Workers != 2 {
		t.Errorf("file values lost: dsn=%q workers=%d", cfg.Loader.DSN, cfg.Workers)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}
