package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Port == 0 || cfg.DataDir == "" || cfg.Storage.Driver != DriverFile {
		t.Fatalf("default config invalid: %+v", cfg)
	}
	if cfg.Poller.Interval != 3*time.Second || cfg.Retention.MaxTasks != 1000 || cfg.Retention.MaxAge != 24*time.Hour {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("not_exists.yml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if cfg.Port != defaultPort {
		t.Fatalf("expected default port, got %d", cfg.Port)
	}
}

func TestLoadReadsAndNormalizes(t *testing.T) {
	path := writeConfig(t, `
port: 9090
data_dir: testdata
log_level: DEBUG
storage:
  driver: SQLite
  sqlite_path: testdata/tasks.db
poller:
  interval: 500ms
  status_base_url: "http://kb.internal:9380/"
  requests_per_second: 20
retention:
  max_age: 12h
  max_tasks: 50
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9090 || cfg.DataDir != "testdata" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Storage.Driver != DriverSQLite || cfg.Storage.SQLitePath != "testdata/tasks.db" {
		t.Fatalf("unexpected storage: %+v", cfg.Storage)
	}
	if cfg.Poller.Interval != 500*time.Millisecond || cfg.Poller.StatusBaseURL != "http://kb.internal:9380" {
		t.Fatalf("unexpected poller: %+v", cfg.Poller)
	}
	if cfg.Retention.MaxAge != 12*time.Hour || cfg.Retention.MaxTasks != 50 || cfg.Retention.SweepInterval != defaultSweepInterval {
		t.Fatalf("unexpected retention: %+v", cfg.Retention)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"unknown driver":      "storage:\n  driver: mongo\n",
		"redis without addr":  "storage:\n  driver: redis\n",
		"negative interval":   "poller:\n  interval: -1s\n",
		"zero max tasks":      "retention:\n  max_tasks: 0\n",
		"empty status url":    "poller:\n  status_base_url: \"\"\n",
		"negative rate limit": "poller:\n  requests_per_second: -2\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}
}
