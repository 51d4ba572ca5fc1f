package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/costdesk/internal/db"
	"github.com/zulandar/costdesk/internal/models"
	"gopkg.in/yaml.v3"
)

// registryPath reads the sqlite path back out of a config written by
// writeConfig.
func registryPath(t *testing.T, cfgPath string) string {
	t.Helper()
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	var cfg struct {
		Registry struct {
			Path string `yaml:"path"`
		} `yaml:"registry"`
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	return cfg.Registry.Path
}

func TestSessionsList_Empty(t *testing.T) {
	cfg := writeConfig(t, "http://localhost:3001", "")
	out, err := runCmd(t, "", "sessions", "list", "-c", cfg)
	if err != nil {
		t.Fatalf("sessions list: %v", err)
	}
	if !strings.Contains(out, "No live sessions.") {
		t.Errorf("output = %s", out)
	}
}

func TestSessionsList_ShowsRows(t *testing.T) {
	cfg := writeConfig(t, "http://localhost:3001", "")
	path := registryPath(t, cfg)
	if filepath.Base(path) != "registry.db" {
		t.Fatalf("registry path = %q", path)
	}

	gdb, err := db.ConnectSQLite(path)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	rows := []models.ChatSession{
		{Key: "C1:1700000000.000100", Surface: models.SurfaceSlack, ActiveView: "chat", MessageCount: 4, LastActivity: time.Now().Add(-10 * time.Minute)},
		{Key: "tab-1", Surface: models.SurfaceWeb, ActiveView: "cost", Busy: true, LastActivity: time.Now()},
	}
	if err := gdb.Create(&rows).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	db.Close(gdb)

	out, err := runCmd(t, "", "sessions", "list", "-c", cfg)
	if err != nil {
		t.Fatalf("sessions list: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want header and 2 rows:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[1], "tab-1") {
		t.Errorf("most recent session should come first: %q", lines[1])
	}
	if !strings.Contains(lines[1], "yes") || !strings.Contains(lines[2], "10m") {
		t.Errorf("rows = %q", lines[1:])
	}
}
