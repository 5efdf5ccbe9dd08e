package protocol

import "time"

// ChannelSelectRequest asks the orchestrator to tune to a channel.
type ChannelSelectRequest struct {
	ChannelID int    `json:"channel_id"`
	Source    string `json:"source,omitempty"`
}

// ChannelSelectReply is returned to bus requesters.
type ChannelSelectReply struct {
	ChannelID int    `json:"channel_id"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}

// StateChange is broadcast on every orchestrator transition.
type StateChange struct {
	SessionID   string    `json:"session_id"`
	State       string    `json:"state"`
	ChannelID   int       `json:"channel_id,omitempty"`
	IntroActive bool      `json:"intro_active"`
	Streaming   bool      `json:"streaming"`
	Timestamp   time.Time `json:"timestamp"`
}

// Alert carries a user-visible failure.
type Alert struct {
	SessionID string    `json:"session_id"`
	ChannelID int       `json:"channel_id,omitempty"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// IntroPlayback tells devices to fetch and play a host intro.
type IntroPlayback struct {
	Token      uint64 `json:"token"`
	ChannelID  int    `json:"channel_id"`
	HostID     string `json:"host_id"`
	URL        string `json:"url"`
	DurationMS int64  `json:"duration_ms"`
}

// IntroDone is sent by a device when an intro finished playing.
type IntroDone struct {
	Token uint64 `json:"token"`
}

// NowPlaying mirrors the poller's latest snapshot.
type NowPlaying struct {
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
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectChannelSelect = "radio.channel.select"
	SubjectState         = "radio.state"
	SubjectAlert         = "radio.alert"
	SubjectIntroPlay     = "radio.intro.play"
	SubjectIntroDone     = "radio.intro.done"
	SubjectNowPlaying    = "radio.nowplaying"
)
