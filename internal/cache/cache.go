// Package cache stores synthesized channel intros on disk, one file per host voice.
package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const introDir = "radio_intros"

var ErrInvalidHost = errors.New("invalid host id")

// Intros is the persistent intro cache rooted at a directory.
// Entries never expire and are not integrity checked.
type Intros struct {
	dir string
}

func New(root string) *Intros {
	return &Intros{dir: filepath.Join(root, introDir)}
}

// EnsureStorageReady creates the cache directory if it does not exist.
func (c *Intros) EnsureStorageReady() error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create intro cache dir: %w", err)
	}
	return nil
}

// Path is <root>/radio_intros/<hostID>.mp3.
func (c *Intros) Path(hostID string) string {
	return filepath.Join(c.dir, hostID+".mp3")
}

func (c *Intros) Exists(hostID string) (bool, error) {
	if err := checkHost(hostID); err != nil {
		return false, err
	}
	info, err := os.Stat(c.Path(hostID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat intro: %w", err)
	}
	return info.Mode().IsRegular(), nil
}

// Save overwrites any previous intro for hostID.
func (c *Intros) Save(hostID string, data []byte) error {
	if err := checkHost(hostID); err != nil {
		return err
	}
	if err := c.EnsureStorageReady(); err != nil {
		return err
	}
	if err := os.WriteFile(c.Path(hostID), data, 0o644); err != nil {
		return fmt.Errorf("write intro: %w", err)
	}
	return nil
}

// Open returns a reader for the cached intro. The caller closes it.
func (c *Intros) Open(hostID string) (io.ReadCloser, error) {
	if err := checkHost(hostID); err != nil {
		return nil, err
	}
	return os.Open(c.Path(hostID))
}

func checkHost(hostID string) error {
	if strings.TrimSpace(hostID) == "" || strings.ContainsAny(hostID, `/\`) || strings.Contains(hostID, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidHost, hostID)
	}
	return nil
}
