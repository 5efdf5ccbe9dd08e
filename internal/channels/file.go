package channels

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaxGenreSeeds is the music service's limit on seeds per recommendation request.
const MaxGenreSeeds = 5

// File is the on-disk channel list.
type File struct {
	Channels []Channel `yaml:"channels"`
}

func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read channels file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse channels file: %w", err)
	}
	return f, nil
}

// Validate checks a channel list for the fields the orchestrator relies on.
func Validate(defs []Channel) error {
	if len(defs) == 0 {
		return errors.New("at least one channel is required")
	}
	seen := make(map[int]struct{}, len(defs))
	var errs []error
	for i, ch := range defs {
		label := fmt.Sprintf("channels[%d]", i)
		if ch.ID <= 0 {
			errs = append(errs, fmt.Errorf("%s: id must be positive", label))
		} else if _, dup := seen[ch.ID]; dup {
			errs = append(errs, fmt.Errorf("%s: duplicate id %d", label, ch.ID))
		} else {
			seen[ch.ID] = struct{}{}
		}
		if strings.TrimSpace(ch.Name) == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", label))
		}
		if strings.TrimSpace(ch.Host.ID) == "" {
			errs = append(errs, fmt.Errorf("%s: host.id is required", label))
		} else if strings.ContainsAny(ch.Host.ID, `/\`) || strings.Contains(ch.Host.ID, "..") {
			errs = append(errs, fmt.Errorf("%s: host.id %q is not a valid voice id", label, ch.Host.ID))
		}
		if strings.TrimSpace(ch.IntroText) == "" {
			errs = append(errs, fmt.Errorf("%s: intro_text is required", label))
		}
		if len(ch.Genres) == 0 {
			errs = append(errs, fmt.Errorf("%s: at least one genre seed is required", label))
		}
		if len(ch.Genres) > MaxGenreSeeds {
			errs = append(errs, fmt.Errorf("%s: at most %d genre seeds allowed", label, MaxGenreSeeds))
		}
	}
	return errors.Join(errs...)
}
