package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/driftfm/drift-core/internal/cache"
	"github.com/driftfm/drift-core/internal/channels"
	"github.com/driftfm/drift-core/internal/credits"
	"github.com/driftfm/drift-core/internal/eventstore"
	"github.com/driftfm/drift-core/internal/nowplaying"
	"github.com/driftfm/drift-core/internal/radio"
	"github.com/driftfm/drift-core/internal/spotify"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeSelector struct {
	err      error
	selected []int
	snap     radio.Snapshot
}

func (f *fakeSelector) Select(_ context.Context, id int) error {
	f.selected = append(f.selected, id)
	if f.err != nil {
		return f.err
	}
	f.snap = radio.Snapshot{State: radio.StateStreaming, ChannelID: id, Token: 1}
	return nil
}

func (f *fakeSelector) Snapshot() radio.Snapshot { return f.snap }
func (f *fakeSelector) Budget() int { return 10000 }
func (f *fakeSelector) Remaining() int { return 9000 }

type fakeControls struct {
	calls []string
	err   error
}

func (f *fakeControls) record(name string) error {
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeControls) Play(context.Context) error { return f.record("play") }
func (f *fakeControls) Pause(context.Context) error { return f.record("pause") }
func (f *fakeControls) Next(context.Context) error { return f.record("next") }
func (f *fakeControls) Previous(context.Context) error { return f.record("previous") }

type fakeFinisher map[uint64]bool

func (f fakeFinisher) Finish(token uint64) bool { return f[token] }

type fakeRefresher struct{ err error }

func (f fakeRefresher) Refresh(context.Context) (string, error) { return "t", f.err }

type fakeTimeline struct {
	events []eventstore.Event
	counts map[string][]eventstore.ChannelCount
}

func (f fakeTimeline) ListenerChannels(_ context.Context, listenerID string, limit int) ([]eventstore.ChannelCount, error) {
	counts := f.counts[listenerID]
	if limit < len(counts) {
		counts = counts[:limit]
	}
	return counts, nil
}

func (f fakeTimeline) ListSessionEvents(_ context.Context, sessionID string, limit int) ([]eventstore.Event, error) {
	if sessionID != "session-1" {
		return nil, nil
	}
	if limit < len(f.events) {
		return f.events[:limit], nil
	}
	return f.events, nil
}

type apiFixture struct {
	server   *httptest.Server
	selector *fakeSelector
	controls *fakeControls
	credits  *credits.Tracker
	store    *nowplaying.Store
	intros   *cache.Intros
}

func newAPIFixture(t *testing.T, refreshErr error) *apiFixture {
	t.Helper()
	reg, err := channels.NewRegistry(channels.Defaults())
	if err != nil {
		t.Fatal(err)
	}
	f := &apiFixture{
		selector: &fakeSelector{},
		controls: &fakeControls{},
		credits:  credits.New(),
		store:    &nowplaying.Store{},
		intros:   cache.New(t.TempDir()),
	}
	timeline := fakeTimeline{
		events: []eventstore.Event{
			{Type: eventstore.TypeSelect, ChannelID: 2, Payload: []byte(`{"channel_id":2}`)},
			{Type: eventstore.TypeState, ChannelID: 2, Payload: []byte(`{"state":"streaming"}`)},
		},
		counts: map[string][]eventstore.ChannelCount{
			"listener-1": {{ChannelID: 3, Selections: 5}, {ChannelID: 1, Selections: 2}},
		},
	}
	a := &api{
		channels:      reg,
		radio:         f.selector,
		credits:       f.credits,
		nowPlaying:    f.store,
		player:        f.controls,
		intros:        f.intros,
		finisher:      fakeFinisher{5: true},
		tokens:        fakeRefresher{err: refreshErr},
		timeline:      timeline,
		sessionID:     "session-1",
		listenerID:    "listener-1",
		selectTimeout: time.Second,
		logger:        newLogger(),
	}
	mux := http.NewServeMux()
	a.register(mux)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestListChannels(t *testing.T) {
	f := newAPIFixture(t, nil)
	resp := f.do(t, http.MethodGet, "/api/channels")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got []channels.Channel
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 || got[0].ID != 1 || got[3].Name != "Block Radio" {
		t.Fatalf("channels = %+v", got)
	}
}

func TestSelectChannel(t *testing.T) {
	f := newAPIFixture(t, nil)
	resp := f.do(t, http.MethodPost, "/api/channels/3/select")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var snap radio.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.ChannelID != 3 || snap.State != radio.StateStreaming {
		t.Fatalf("snapshot = %+v", snap)
	}

	if resp := f.do(t, http.MethodPost, "/api/channels/abc/select"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("non-numeric id status = %d", resp.StatusCode)
	}
}

func TestSelectErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: 9", radio.ErrUnknownChannel), http.StatusNotFound, "unknown_channel"},
		{fmt.Errorf("%w: need 40", radio.ErrBudgetExceeded), http.StatusPaymentRequired, radio.KindBudget},
		{fmt.Errorf("find active device: %w", spotify.ErrNoActiveDevice), http.StatusConflict, radio.KindNoDevice},
		{spotify.ErrNotAuthenticated, http.StatusUnauthorized, radio.KindUnauthenticated},
		{radio.ErrSuperseded, http.StatusConflict, "superseded"},
		{&spotify.StatusError{Path: "/v1/recommendations", Code: 500}, http.StatusBadGateway, radio.KindMusic},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			f := newAPIFixture(t, nil)
			f.selector.err = tc.err
			resp := f.do(t, http.MethodPost, "/api/channels/1/select")
			if resp.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.status)
			}
			var body errorBody
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Code != tc.code || body.Error == "" {
				t.Fatalf("body = %+v", body)
			}
		})
	}
}

func TestCreditsAndReset(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.credits.Increment(120)

	resp := f.do(t, http.MethodGet, "/api/credits")
	var body creditsBody
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Used != 120 || body.Budget != 10000 {
		t.Fatalf("credits = %+v", body)
	}

	resp = f.do(t, http.MethodPost, "/api/credits/reset")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if f.credits.Used() != 0 {
		t.Fatalf("used after reset = %d", f.credits.Used())
	}
}

func TestNowPlaying(t *testing.T) {
	f := newAPIFixture(t, nil)
	if resp := f.do(t, http.MethodGet, "/api/now-playing"); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("empty status = %d", resp.StatusCode)
	}
	f.store.Put(nowplaying.Snapshot{TrackID: "t1", Title: "Song", IsPlaying: true})
	resp := f.do(t, http.MethodGet, "/api/now-playing")
	var snap nowplaying.Snapshot
	_ = json.NewDecoder(resp.Body).Decode(&snap)
	if snap.TrackID != "t1" || !snap.IsPlaying {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestPlayerActions(t *testing.T) {
	f := newAPIFixture(t, nil)
	for _, action := range []string{"play", "pause", "next", "previous"} {
		if resp := f.do(t, http.MethodPost, "/api/player/"+action); resp.StatusCode != http.StatusNoContent {
			t.Fatalf("%s status = %d", action, resp.StatusCode)
		}
	}
	if len(f.controls.calls) != 4 {
		t.Fatalf("calls = %v", f.controls.calls)
	}
	if resp := f.do(t, http.MethodPost, "/api/player/shuffle"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown action status = %d", resp.StatusCode)
	}

	f.controls.err = spotify.ErrNoActiveDevice
	if resp := f.do(t, http.MethodPost, "/api/player/play"); resp.StatusCode != http.StatusConflict {
		t.Fatalf("no device status = %d", resp.StatusCode)
	}
}

func TestServeCachedIntro(t *testing.T) {
	f := newAPIFixture(t, nil)
	if err := f.intros.Save("voice1", []byte("ID3-audio")); err != nil {
		t.Fatal(err)
	}
	resp := f.do(t, http.MethodGet, "/api/intros/voice1")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "audio/mpeg" {
		t.Fatalf("status = %d type = %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "ID3-audio" {
		t.Fatalf("body = %q", data)
	}

	if resp := f.do(t, http.MethodGet, "/api/intros/missing"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing status = %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/api/intros/..secret"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("invalid host status = %d", resp.StatusCode)
	}
	if _, err := os.Stat(f.intros.Path("voice1")); err != nil {
		t.Fatalf("intro should stay cached: %v", err)
	}
}

func TestIntroDone(t *testing.T) {
	f := newAPIFixture(t, nil)
	if resp := f.do(t, http.MethodPost, "/api/intros/5/done"); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPost, "/api/intros/6/done"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown token status = %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPost, "/api/intros/x/done"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad token status = %d", resp.StatusCode)
	}
}

func TestAuthRefresh(t *testing.T) {
	f := newAPIFixture(t, nil)
	if resp := f.do(t, http.MethodPost, "/api/auth/refresh"); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	f = newAPIFixture(t, errors.Join(errors.New("rejected"), spotify.ErrNotAuthenticated))
	if resp := f.do(t, http.MethodPost, "/api/auth/refresh"); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSessionEvents(t *testing.T) {
	f := newAPIFixture(t, nil)
	resp := f.do(t, http.MethodGet, "/api/session/events?limit=1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got []eventBody
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Type != eventstore.TypeSelect || got[0].ChannelID != 2 || string(got[0].Payload) != `{"channel_id":2}` {
		t.Fatalf("events = %+v", got)
	}
	if resp := f.do(t, http.MethodGet, "/api/session/events?limit=x"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", resp.StatusCode)
	}
}

func TestListenerChannels(t *testing.T) {
	f := newAPIFixture(t, nil)
	resp := f.do(t, http.MethodGet, "/api/listener/channels?limit=1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got []eventstore.ChannelCount
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ChannelID != 3 || got[0].Selections != 5 {
		t.Fatalf("counts = %+v", got)
	}
	if resp := f.do(t, http.MethodGet, "/api/listener/channels?limit=0"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", resp.StatusCode)
	}
}
