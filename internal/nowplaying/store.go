// Package nowplaying keeps the listener's current track in sync with the
// music service.
package nowplaying

import (
	"slices"
	"sync"
	"time"

	"github.com/driftfm/drift-core/internal/protocol"
	"github.com/driftfm/drift-core/internal/spotify"
)

// Snapshot is the last observed playback.
type Snapshot struct {
	TrackID    string    `json:"track_id,omitempty"`
	Title      string    `json:"title,omitempty"`
	Artists    []string  `json:"artists,omitempty"`
	Album      string    `json:"album,omitempty"`
	ArtworkURL string    `json:"artwork_url,omitempty"`
	IsPlaying  bool      `json:"is_playing"`
	ProgressMS int       `json:"progress_ms"`
	DurationMS int       `json:"duration_ms"`
	Device     string    `json:"device,omitempty"`
	UpNext     []string  `json:"up_next,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func fromPlayback(state *spotify.PlaybackState) Snapshot {
	var snap Snapshot
	if state == nil {
		return snap
	}
	snap.IsPlaying = state.IsPlaying
	snap.ProgressMS = state.ProgressMS
	if state.Device != nil {
		snap.Device = state.Device.Name
	}
	if t := state.Item; t != nil {
		snap.TrackID = t.ID
		snap.Title = t.Name
		snap.Album = t.Album.Name
		snap.ArtworkURL = t.ArtworkURL()
		snap.DurationMS = t.DurationMS
		for _, a := range t.Artists {
			snap.Artists = append(snap.Artists, a.Name)
		}
	}
	return snap
}

// sameTrack ignores progress so that a ticking clock is not a change.
func (s Snapshot) sameTrack(o Snapshot) bool {
	return s.TrackID == o.TrackID &&
		s.IsPlaying == o.IsPlaying &&
		s.Device == o.Device &&
		slices.Equal(s.UpNext, o.UpNext)
}

// Message converts the snapshot to its bus form.
func (s Snapshot) Message() protocol.NowPlaying {
	return protocol.NowPlaying{
		TrackID:    s.TrackID,
		Title:      s.Title,
		Artists:    s.Artists,
		Album:      s.Album,
		ArtworkURL: s.ArtworkURL,
		IsPlaying:  s.IsPlaying,
		ProgressMS: s.ProgressMS,
		DurationMS: s.DurationMS,
		Device:     s.Device,
		UpNext:     s.UpNext,
		Timestamp:  s.UpdatedAt,
	}
}

// Store holds the latest snapshot for readers such as the HTTP API.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot
	set  bool
}

func (s *Store) Get() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snap
	snap.Artists = slices.Clone(snap.Artists)
	snap.UpNext = slices.Clone(snap.UpNext)
	return snap, s.set
}

// Put replaces the snapshot and reports whether the track changed.
func (s *Store) Put(snap Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := !s.set || !s.snap.sameTrack(snap)
	s.snap = snap
	s.set = true
	return changed
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = Snapshot{}
	s.set = false
}
