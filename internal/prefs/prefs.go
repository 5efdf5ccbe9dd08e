// Package prefs persists local listener preferences in
// ~/.config/driftfm/prefs.toml.
package prefs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	toml "github.com/pelletier/go-toml/v2"
)

// Prefs are the settings that survive a daemon restart.
type Prefs struct {
	LastChannel int    `toml:"last_channel"`
	UserID      string `toml:"user_id,omitempty"`
}

const defaultPrefsPath = "~/.config/driftfm/prefs.toml"

// Load reads preferences from path. A missing or unreadable file yields the
// zero Prefs.
func Load(path string) (Prefs, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Prefs{}, nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return Prefs{}, nil // graceful degradation
	}
	var p Prefs
	if err := toml.Unmarshal(data, &p); err != nil {
		return Prefs{}, nil
	}
	if p.LastChannel < 0 {
		p.LastChannel = 0
	}
	return p, nil
}

// Save writes preferences to path, creating directories as needed.
func Save(path string, p Prefs) error {
	resolved, err := resolvePath(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}
	data, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal prefs: %w", err)
	}
	if err := os.WriteFile(resolved, data, 0o644); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}
	return nil
}

// File serializes read-modify-write cycles on one prefs file.
type File struct {
	path string
	mu   sync.Mutex
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Load() (Prefs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Load(f.path)
}

// Update applies fn to the stored prefs and saves the result.
func (f *File) Update(fn func(*Prefs)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, _ := Load(f.path)
	fn(&p)
	return Save(f.path, p)
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultPrefsPath)
	}
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
