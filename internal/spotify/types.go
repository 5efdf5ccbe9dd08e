package spotify

import "strings"

type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Album struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Images []Image `json:"images"`
}

type Track struct {
	ID         string   `json:"id"`
	URI        string   `json:"uri"`
	Name       string   `json:"name"`
	DurationMS int      `json:"duration_ms"`
	Popularity int      `json:"popularity,omitempty"`
	Artists    []Artist `json:"artists"`
	Album      Album    `json:"album"`
}

// ArtistNames joins artist names the way the player displays them.
func (t Track) ArtistNames() string {
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}

// ArtworkURL returns the largest album image, or "" when there is none.
func (t Track) ArtworkURL() string {
	if len(t.Album.Images) == 0 {
		return ""
	}
	return t.Album.Images[0].URL
}

type Device struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	IsActive      bool   `json:"is_active"`
	VolumePercent int    `json:"volume_percent"`
}

// PlaybackState is the /v1/me/player payload.
type PlaybackState struct {
	Device     *Device `json:"device"`
	IsPlaying  bool    `json:"is_playing"`
	ProgressMS int     `json:"progress_ms"`
	Item       *Track  `json:"item"`
}

// CurrentlyPlaying is the /v1/me/player/currently-playing payload.
type CurrentlyPlaying struct {
	IsPlaying  bool   `json:"is_playing"`
	ProgressMS int    `json:"progress_ms"`
	Item       *Track `json:"item"`
}

type Queue struct {
	CurrentlyPlaying *Track  `json:"currently_playing"`
	Queue            []Track `json:"queue"`
}

type Profile struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Email       string  `json:"email"`
	Images      []Image `json:"images"`
}

func (p Profile) AvatarURL() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0].URL
}

// RecommendationQuery seeds a recommendation set.
type RecommendationQuery struct {
	SeedGenres    []string
	Limit         int
	MinEnergy     float64
	MinPopularity int
}

type recommendationsResponse struct {
	Tracks []Track `json:"tracks"`
}

type playRequest struct {
	URIs []string `json:"uris"`
}
