package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/driftfm/drift-core/internal/cache"
	"github.com/driftfm/drift-core/internal/channels"
	"github.com/driftfm/drift-core/internal/credits"
	"github.com/driftfm/drift-core/internal/eventstore"
	"github.com/driftfm/drift-core/internal/nowplaying"
	"github.com/driftfm/drift-core/internal/radio"
	"github.com/driftfm/drift-core/internal/spotify"
)

type selector interface {
	Select(ctx context.Context, channelID int) error
	Snapshot() radio.Snapshot
	Budget() int
	Remaining() int
}

type playerControl interface {
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
}

type introSource interface {
	Open(hostID string) (io.ReadCloser, error)
}

type tokenRefresher interface {
	Refresh(ctx context.Context) (string, error)
}

type timelineReader interface {
	ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]eventstore.Event, error)
	ListenerChannels(ctx context.Context, listenerID string, limit int) ([]eventstore.ChannelCount, error)
}

// api serves the device-facing HTTP surface.
type api struct {
	channels      *channels.Registry
	radio         selector
	credits       *credits.Tracker
	nowPlaying    *nowplaying.Store
	player        playerControl
	intros        introSource
	finisher      radio.IntroFinisher
	tokens        tokenRefresher
	timeline      timelineReader
	sessionID     string
	listenerID    string
	selectTimeout time.Duration
	logger        *slog.Logger
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type eventBody struct {
	Type      string          `json:"type"`
	ChannelID int             `json:"channel_id,omitempty"`
	TraceID   string          `json:"trace_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type creditsBody struct {
	Used      int `json:"used"`
	Budget    int `json:"budget"`
	Remaining int `json:"remaining"`
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/channels", a.handleChannels)
	mux.HandleFunc("POST /api/channels/{id}/select", a.handleSelect)
	mux.HandleFunc("GET /api/state", a.handleState)
	mux.HandleFunc("GET /api/credits", a.handleCredits)
	mux.HandleFunc("POST /api/credits/reset", a.handleCreditsReset)
	mux.HandleFunc("GET /api/now-playing", a.handleNowPlaying)
	mux.HandleFunc("POST /api/player/{action}", a.handlePlayer)
	mux.HandleFunc("GET /api/intros/{hostId}", a.handleIntro)
	mux.HandleFunc("POST /api/intros/{token}/done", a.handleIntroDone)
	mux.HandleFunc("POST /api/auth/refresh", a.handleRefresh)
	mux.HandleFunc("GET /api/session/events", a.handleSessionEvents)
	mux.HandleFunc("GET /api/listener/channels", a.handleListenerChannels)
}

func (a *api) handleChannels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.channels.All())
}

func (a *api) handleSelect(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "channel id must be an integer", Code: "bad_request"})
		return
	}
	// the selection outlives a dropped client connection
	ctx, cancel := context.WithTimeout(radio.WithSource(context.WithoutCancel(r.Context()), "http"), a.selectTimeout)
	defer cancel()

	if err := a.radio.Select(ctx, id); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.radio.Snapshot())
}

func (a *api) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.radio.Snapshot())
}

func (a *api) handleCredits(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.creditsBody())
}

func (a *api) handleCreditsReset(w http.ResponseWriter, _ *http.Request) {
	a.credits.Reset()
	a.logger.Info("speech credits reset")
	writeJSON(w, http.StatusOK, a.creditsBody())
}

func (a *api) creditsBody() creditsBody {
	return creditsBody{Used: a.credits.Used(), Budget: a.radio.Budget(), Remaining: a.radio.Remaining()}
}

func (a *api) handleNowPlaying(w http.ResponseWriter, _ *http.Request) {
	snap, ok := a.nowPlaying.Get()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *api) handlePlayer(w http.ResponseWriter, r *http.Request) {
	var op func(context.Context) error
	switch r.PathValue("action") {
	case "play":
		op = a.player.Play
	case "pause":
		op = a.player.Pause
	case "next":
		op = a.player.Next
	case "previous":
		op = a.player.Previous
	default:
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown player action", Code: "not_found"})
		return
	}
	if err := op(r.Context()); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleIntro(w http.ResponseWriter, r *http.Request) {
	rc, err := a.intros.Open(r.PathValue("hostId"))
	if err != nil {
		if errors.Is(err, cache.ErrInvalidHost) || errors.Is(err, fs.ErrNotExist) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "intro not cached", Code: "not_found"})
			return
		}
		a.logger.Warn("failed to open intro", slogError(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "cache unavailable"})
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		a.logger.Debug("intro download interrupted", slogError(err))
	}
}

func (a *api) handleIntroDone(w http.ResponseWriter, r *http.Request) {
	token, err := strconv.ParseUint(r.PathValue("token"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "token must be an unsigned integer", Code: "bad_request"})
		return
	}
	if !a.finisher.Finish(token) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no intro playing for token", Code: "not_found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if _, err := a.tokens.Refresh(r.Context()); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// queryLimit reads ?limit=, falling back to def.
func queryLimit(r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (a *api) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(r, 100)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer", Code: "bad_request"})
		return
	}
	events, err := a.timeline.ListSessionEvents(r.Context(), a.sessionID, limit)
	if err != nil {
		a.logger.Warn("failed to list session events", slogError(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "event store unavailable"})
		return
	}
	out := make([]eventBody, 0, len(events))
	for _, e := range events {
		body := eventBody{Type: e.Type, ChannelID: e.ChannelID, TraceID: e.TraceID, CreatedAt: e.CreatedAt}
		if json.Valid(e.Payload) {
			body.Payload = e.Payload
		}
		out = append(out, body)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) handleListenerChannels(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(r, 10)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer", Code: "bad_request"})
		return
	}
	counts, err := a.timeline.ListenerChannels(r.Context(), a.listenerID, limit)
	if err != nil {
		a.logger.Warn("failed to count listener channels", slogError(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "event store unavailable"})
		return
	}
	if counts == nil {
		counts = []eventstore.ChannelCount{}
	}
	writeJSON(w, http.StatusOK, counts)
}

func (a *api) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Warn("request failed", slog.Int("status", status), slogError(err))
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: radio.Code(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, radio.ErrUnknownChannel):
		return http.StatusNotFound
	case errors.Is(err, radio.ErrBudgetExceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, spotify.ErrNoActiveDevice), errors.Is(err, radio.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, spotify.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
