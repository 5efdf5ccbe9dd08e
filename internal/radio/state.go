package radio

import "errors"

// State is the orchestrator phase exposed to clients.
type State string

const (
	StateIdle      State = "idle"
	StateIntro     State = "generating_or_fetching_intro"
	StatePlaying   State = "playing_intro"
	StateStarting  State = "starting_stream"
	StateStreaming State = "streaming"
)

type streamPhase int

const (
	streamNone streamPhase = iota
	streamPending
	streamLive
	streamFailed
)

// Snapshot is a copy of the orchestrator state at one point in time.
type Snapshot struct {
	State       State  `json:"state"`
	ChannelID   int    `json:"channel_id,omitempty"`
	Token       uint64 `json:"token"`
	IntroActive bool   `json:"intro_active"`
	Streaming   bool   `json:"streaming"`
	LastError   string `json:"last_error,omitempty"`
}

var (
	ErrUnknownChannel    = errors.New("unknown channel")
	ErrBudgetExceeded    = errors.New("speech credit budget exceeded")
	ErrSuperseded        = errors.New("selection superseded by a newer channel switch")
	ErrNoRecommendations = errors.New("music service returned no recommendations")
)

// Failure kinds used for alerts and metrics.
const (
	KindBudget          = "budget_exceeded"
	KindNoDevice        = "no_active_device"
	KindUnauthenticated = "not_authenticated"
	KindSpeech          = "speech_failed"
	KindCache           = "cache_failed"
	KindMusic           = "music_failed"
	KindPlayer          = "intro_playback_failed"
)
