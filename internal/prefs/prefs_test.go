package prefs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	p, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if p.LastChannel != 0 {
		t.Fatalf("LastChannel = %d, want 0", p.LastChannel)
	}
}

func TestLoad_DefaultLocation(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "driftfm")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "prefs.toml"), []byte("last_channel = 3\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	p, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if p.LastChannel != 3 {
		t.Fatalf("LastChannel = %d, want 3", p.LastChannel)
	}
}

func TestLoad_CorruptFileDegrades(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.toml")
	if err := os.WriteFile(path, []byte("last_channel = [oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if p != (Prefs{}) {
		t.Fatalf("prefs = %+v, want zero", p)
	}
}

func TestFileUpdateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prefs.toml")
	f := NewFile(path)

	if err := f.Update(func(p *Prefs) { p.LastChannel = 2 }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := f.Update(func(p *Prefs) { p.UserID = "listener" }); err != nil {
		t.Fatalf("Update: %v", err)
	}

	p, err := f.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.LastChannel != 2 || p.UserID != "listener" {
		t.Fatalf("prefs = %+v", p)
	}
}
