package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/nugget/frontdesk/internal/config"
)

// clearUmask makes permission assertions deterministic.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

func TestRunInit_FreshDirectory(t *testing.T) {
	clearUmask(t)
	dir := t.TempDir()
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	cfgPath := filepath.Join(dir, "config.yaml")
	info, err := os.Stat(cfgPath)
	if err != nil {
		t.Fatalf("config.yaml not created: %v", err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Errorf("config.yaml permissions = %o, want 0600", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "system_prompt.md")); err != nil {
		t.Errorf("system_prompt.md not created: %v", err)
	}
	if info, err := os.Stat(filepath.Join(dir, "db")); err != nil || !info.IsDir() {
		t.Errorf("db directory not created: %v", err)
	}

	// The bundled example must load and validate on its own.
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Load(example): %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("example config invalid: %v", err)
	}
	if cfg.Listen.Port != 8765 {
		t.Errorf("example port = %d, want 8765", cfg.Listen.Port)
	}
}

func TestRunInit_KeepsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("log_level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	data, _ := os.ReadFile(cfgPath)
	if string(data) != "log_level: debug\n" {
		t.Errorf("existing config overwritten: %q", data)
	}
	if !strings.Contains(buf.String(), "- "+cfgPath) {
		t.Errorf("output should mark the skipped file: %q", buf.String())
	}
}
