// Package timectrl resolves named time controls from an embedded YAML
// catalog, optionally overridden by files in a directory.
package timectrl

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	yaml "gopkg.in/yaml.v3"

	"github.com/Theodhor-90/chess-sub000/internal/game"
)

//go:embed presets.yaml
var defaultFiles embed.FS

type presetSpec struct {
	InitialTimeSeconds int `yaml:"initial_time_seconds"`
	IncrementSeconds   int `yaml:"increment_seconds"`
}

type catalogFile struct {
	Presets map[string]presetSpec `yaml:"presets"`
}

// Catalog maps lowercase preset names to clock configs.
type Catalog struct {
	mu      sync.RWMutex
	presets map[string]game.ClockConfig
}

// New loads the embedded presets, then applies overrides from dir when
// given. Override files are merged in lexical order; later files win.
func New(overrideDir string) (*Catalog, error) {
	c := &Catalog{presets: make(map[string]game.ClockConfig)}
	raw, err := fs.ReadFile(defaultFiles, "presets.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded presets: %w", err)
	}
	if err := c.applyYAML(raw); err != nil {
		return nil, err
	}
	if strings.TrimSpace(overrideDir) != "" {
		if err := c.applyDir(overrideDir); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) applyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read preset dir: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if strings.HasSuffix(n, ".yaml") || strings.HasSuffix(n, ".yml") {
			files = append(files, n)
		}
	}
	sort.Strings(files)
	for _, n := range files {
		raw, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			return fmt.Errorf("read preset file %s: %w", n, err)
		}
		if err := c.applyYAML(raw); err != nil {
			return fmt.Errorf("preset file %s: %w", n, err)
		}
	}
	return nil
}

func (c *Catalog) applyYAML(raw []byte) error {
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse presets: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, spec := range f.Presets {
		if spec.InitialTimeSeconds <= 0 {
			return fmt.Errorf("preset %q: initial_time_seconds must be positive", name)
		}
		if spec.IncrementSeconds < 0 {
			return fmt.Errorf("preset %q: increment_seconds must not be negative", name)
		}
		c.presets[strings.ToLower(strings.TrimSpace(name))] = game.ClockConfig{
			InitialTimeSeconds: spec.InitialTimeSeconds,
			IncrementSeconds:   spec.IncrementSeconds,
		}
	}
	return nil
}

// Resolve returns the config for a preset name.
func (c *Catalog) Resolve(name string) (game.ClockConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg, ok := c.presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return game.ClockConfig{}, fmt.Errorf("unknown time control %q", name)
	}
	return cfg, nil
}

// Names lists the known presets, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.presets))
	for n := range c.presets {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
