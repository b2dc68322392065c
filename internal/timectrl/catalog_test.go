package timectrl

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEmbeddedPresets(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cfg, err := c.Resolve("blitz")
	if err != nil {
		t.Fatalf("Resolve blitz: %v", err)
	}
	if cfg.InitialTimeSeconds != 300 || cfg.IncrementSeconds != 0 {
		t.Fatalf("unexpected blitz config: %+v", cfg)
	}
	cfg, err = c.Resolve("Rapid-Increment")
	if err != nil {
		t.Fatalf("Resolve is case sensitive: %v", err)
	}
	if cfg.InitialTimeSeconds != 600 || cfg.IncrementSeconds != 5 {
		t.Fatalf("unexpected rapid-increment config: %+v", cfg)
	}
	if _, err := c.Resolve("hyperbullet"); err == nil {
		t.Fatalf("expected error for unknown preset")
	}
	names := c.Names()
	if len(names) < 6 {
		t.Fatalf("expected embedded presets, got %v", names)
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	override := "presets:\n  blitz:\n    initial_time_seconds: 240\n    increment_seconds: 1\n  house:\n    initial_time_seconds: 900\n    increment_seconds: 10\n"
	if err := os.WriteFile(filepath.Join(dir, "10-house.yaml"), []byte(override), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}

	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cfg, err := c.Resolve("blitz")
	if err != nil {
		t.Fatalf("Resolve blitz: %v", err)
	}
	if cfg.InitialTimeSeconds != 240 || cfg.IncrementSeconds != 1 {
		t.Fatalf("override did not win: %+v", cfg)
	}
	if _, err := c.Resolve("house"); err != nil {
		t.Fatalf("new preset not added: %v", err)
	}
	// Untouched presets survive the merge.
	if cfg, err := c.Resolve("bullet"); err != nil || cfg.InitialTimeSeconds != 60 {
		t.Fatalf("embedded preset lost: %+v %v", cfg, err)
	}
}

func TestInvalidPresetRejected(t *testing.T) {
	dir := t.TempDir()
	bad := "presets:\n  broken:\n    initial_time_seconds: 0\n"
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(bad), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("expected error for non-positive initial time")
	}
}
