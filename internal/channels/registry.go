package channels

import (
	"fmt"
	"sort"
)

// Host is the radio persona voicing a channel's intro.
type Host struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// Channel is a predefined radio persona with a voice, genre seeds and intro text.
type Channel struct {
	ID          int      `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Host        Host     `yaml:"host" json:"host"`
	Color       string   `yaml:"color" json:"color"`
	Description string   `yaml:"description" json:"description"`
	IntroText   string   `yaml:"intro_text" json:"intro_text"`
	Genres      []string `yaml:"genres" json:"genres"`
}

// Registry holds the immutable channel list for the process.
type Registry struct {
	ordered []Channel
	byID    map[int]Channel
}

// NewRegistry validates the definitions and freezes them.
func NewRegistry(defs []Channel) (*Registry, error) {
	if err := Validate(defs); err != nil {
		return nil, err
	}
	r := &Registry{
		ordered: make([]Channel, 0, len(defs)),
		byID:    make(map[int]Channel, len(defs)),
	}
	for _, def := range defs {
		ch := clone(def)
		r.ordered = append(r.ordered, ch)
		r.byID[ch.ID] = ch
	}
	sort.Slice(r.ordered, func(i, j int) bool { return r.ordered[i].ID < r.ordered[j].ID })
	return r, nil
}

// Load returns the registry from path, or the built-in channels when path is empty.
func Load(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry(Defaults())
	}
	file, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return NewRegistry(file.Channels)
}

func (r *Registry) Get(id int) (Channel, bool) {
	ch, ok := r.byID[id]
	if !ok {
		return Channel{}, false
	}
	return clone(ch), true
}

func (r *Registry) All() []Channel {
	out := make([]Channel, 0, len(r.ordered))
	for _, ch := range r.ordered {
		out = append(out, clone(ch))
	}
	return out
}

func (r *Registry) Len() int { return len(r.ordered) }

func (c Channel) String() string {
	return fmt.Sprintf("%d:%s", c.ID, c.Name)
}

func clone(ch Channel) Channel {
	ch.Genres = append([]string(nil), ch.Genres...)
	return ch
}

// Defaults are the channels shipped with the app.
func Defaults() []Channel {
	return []Channel{
		{
			ID:          1,
			Name:        "Pulse Underground",
			Host:        Host{ID: "jsCqWAovK2LkecY7zXl4", Name: "Maya"},
			Color:       "#FF4B4B",
			Description: "Alternative & Indie",
			IntroText:   "Pulse Underground, where the underground meets the mainstream. Maya here, keeping you locked in with the freshest indie tracks.",
			Genres:      []string{"alternative", "indie"},
		},
		{
			ID:          2,
			Name:        "Bass Theory",
			Host:        Host{ID: "ThT5KcBeYPX3keUQqHPh", Name: "Riley"},
			Color:       "#4B9EFF",
			Description: "EDM & House",
			IntroText:   "Bass Theory, your source for pure electronic energy. This is Riley, ready to drop the beats that'll shake your world.",
			Genres:      []string{"edm", "house"},
		},
		{
			ID:          3,
			Name:        "Velvet Lounge",
			Host:        Host{ID: "piTKgcLEGmPE4e6mEKli", Name: "Sofia"},
			Color:       "#FFB74B",
			Description: "Jazz & Soul",
			IntroText:   "Welcome to the Velvet Lounge. Sofia here, bringing you the smoothest vibes in the city.",
			Genres:      []string{"jazz", "soul"},
		},
		{
			ID:          4,
			Name:        "Block Radio",
			Host:        Host{ID: "pFZP5JQG7iQjIQuC4Bku", Name: "Jade"},
			Color:       "#4BFF5C",
			Description: "Hip-Hop & Beats",
			IntroText:   "Block Radio, straight from the streets to your speakers. It's your girl Jade, let's keep this party moving.",
			Genres:      []string{"hip-hop"},
		},
	}
}
