// Package radio coordinates channel selection: resolving a host intro from the
// cache or the speech provider, playing it, and starting a genre-seeded music
// stream on the listener's active device.
package radio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/driftfm/drift-core/internal/channels"
	"github.com/driftfm/drift-core/internal/credits"
	"github.com/driftfm/drift-core/internal/player"
	"github.com/driftfm/drift-core/internal/retry"
	"github.com/driftfm/drift-core/internal/spotify"
	"github.com/driftfm/drift-core/internal/tts"
)

const instrumentationName = "github.com/driftfm/drift-core/radio"

// DefaultBudget is the per-session speech credit allowance.
const DefaultBudget = 10000

type IntroCache interface {
	Exists(hostID string) (bool, error)
	Save(hostID string, data []byte) error
	Path(hostID string) string
}

type MusicService interface {
	ActiveDevice(ctx context.Context) (spotify.Device, error)
	Recommendations(ctx context.Context, q spotify.RecommendationQuery) ([]string, error)
	PlayTracks(ctx context.Context, deviceID string, uris []string) error
}

type IntroPlayer interface {
	Play(ctx context.Context, clip player.Clip, done func()) error
}

// Notifier receives state transitions and one-shot alerts.
type Notifier interface {
	StateChanged(ctx context.Context, snap Snapshot)
	Alert(ctx context.Context, a Alert)
}

// SelectionRecorder remembers the listener's last channel.
type SelectionRecorder interface {
	ChannelSelected(ctx context.Context, ch channels.Channel) error
}

// Alert is a user-visible failure of one selection.
type Alert struct {
	Token     uint64
	ChannelID int
	Kind      string
	Err       error
}

type Options struct {
	Budget              int
	RecommendationLimit int
	MinEnergy           float64
	MinPopularity       int
	Retry               retry.Policy
	// IntroURL maps a host id to the address devices fetch the clip from.
	IntroURL func(hostID string) string
}

// Deps are the collaborators of an Orchestrator. Notifier and Recorder are
// optional.
type Deps struct {
	Channels *channels.Registry
	Cache    IntroCache
	Credits  *credits.Tracker
	Synth    tts.Synthesizer
	Music    MusicService
	Player   IntroPlayer
	Notifier Notifier
	Recorder SelectionRecorder
}

type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer

	mu          sync.Mutex
	token       uint64
	channelID   int
	resolving   bool
	introActive bool
	stream      streamPhase
	lastErr     string

	flightMu sync.Mutex
	inflight map[string]*flight
	reserved int // estimated credits of running syntheses

	ttsChars    metric.Int64Counter
	cacheLookup metric.Int64Counter
	failures    metric.Int64Counter
	selectTime  metric.Float64Histogram
}

type flight struct {
	done chan struct{}
	err  error
}

func New(deps Deps, opts Options, logger *slog.Logger) (*Orchestrator, error) {
	if deps.Channels == nil || deps.Cache == nil || deps.Credits == nil {
		return nil, errors.New("radio: channels, cache and credits are required")
	}
	if deps.Synth == nil || deps.Music == nil || deps.Player == nil {
		return nil, errors.New("radio: synth, music and player are required")
	}
	if opts.Budget <= 0 {
		opts.Budget = DefaultBudget
	}
	if opts.RecommendationLimit <= 0 {
		opts.RecommendationLimit = 50
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = retry.Once()
	}
	if opts.Retry.Permanent == nil {
		opts.Retry.Permanent = isPermanent
	}
	if opts.IntroURL == nil {
		opts.IntroURL = func(hostID string) string { return "/api/intros/" + hostID }
	}

	o := &Orchestrator{
		deps:     deps,
		opts:     opts,
		logger:   logger.With(slog.String("component", "radio")),
		tracer:   otel.Tracer(instrumentationName),
		inflight: make(map[string]*flight),
	}
	if err := o.initMetrics(); err != nil {
		o.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return o, nil
}

func (o *Orchestrator) initMetrics() error {
	meter := otel.Meter(instrumentationName)
	var err error
	if o.ttsChars, err = meter.Int64Counter("drift_tts_characters_total",
		metric.WithDescription("Characters sent to the speech provider")); err != nil {
		return err
	}
	if o.cacheLookup, err = meter.Int64Counter("drift_intro_cache_lookups_total",
		metric.WithDescription("Intro cache lookups by result")); err != nil {
		return err
	}
	if o.failures, err = meter.Int64Counter("drift_selection_failures_total",
		metric.WithDescription("Failed channel selections by kind")); err != nil {
		return err
	}
	o.selectTime, err = meter.Float64Histogram("drift_selection_duration_seconds",
		metric.WithDescription("Time from channel selection to stream start"),
		metric.WithUnit("s"))
	return err
}

// EstimateCost is the predicted credit cost of synthesizing text.
func EstimateCost(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

func (o *Orchestrator) Budget() int { return o.opts.Budget }

// Remaining is the unused part of the session budget.
func (o *Orchestrator) Remaining() int {
	return o.opts.Budget - o.deps.Credits.Used()
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	return Snapshot{
		State:       o.stateLocked(),
		ChannelID:   o.channelID,
		Token:       o.token,
		IntroActive: o.introActive,
		Streaming:   o.stream == streamLive,
		LastError:   o.lastErr,
	}
}

func (o *Orchestrator) stateLocked() State {
	switch {
	case o.resolving:
		return StateIntro
	case o.stream == streamLive:
		return StateStreaming
	case o.introActive:
		return StatePlaying
	case o.stream == streamPending:
		return StateStarting
	default:
		return StateIdle
	}
}

// Select switches to channelID. It returns once the intro has been handed to
// the player and the music stream has started or failed. A newer selection
// turns any still-running older one into ErrSuperseded.
func (o *Orchestrator) Select(ctx context.Context, channelID int) error {
	ch, ok := o.deps.Channels.Get(channelID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownChannel, channelID)
	}

	ctx, span := o.tracer.Start(ctx, "radio.select", trace.WithAttributes(
		attribute.Int("channel.id", ch.ID),
		attribute.String("host.id", ch.Host.ID),
	))
	defer span.End()
	started := time.Now()

	token := o.begin(ctx, ch)
	o.logger.Info("channel selected", slog.Int("channel", ch.ID), slog.String("name", ch.Name), slog.Uint64("token", token))

	if o.deps.Recorder != nil {
		if err := o.deps.Recorder.ChannelSelected(ctx, ch); err != nil {
			o.logger.Warn("failed to record channel selection", slog.Int("channel", ch.ID), slogError(err))
		}
	}

	if err := o.resolveIntro(ctx, ch); err != nil {
		o.fail(ctx, token, ch, kindOf(err, KindSpeech), err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	applied := o.update(ctx, token, func() {
		o.resolving = false
		o.introActive = true
		o.stream = streamPending
	})
	if !applied {
		return ErrSuperseded
	}

	streamDone := make(chan error, 1)
	go func() { streamDone <- o.startStream(ctx, token, ch) }()

	clip := player.Clip{
		Token:     token,
		ChannelID: ch.ID,
		HostID:    ch.Host.ID,
		Path:      o.deps.Cache.Path(ch.Host.ID),
		URL:       o.opts.IntroURL(ch.Host.ID),
	}
	if err := o.deps.Player.Play(ctx, clip, func() { o.introFinished(token) }); err != nil {
		// the stream is independent of the intro
		o.update(ctx, token, func() { o.introActive = false })
		o.alert(ctx, token, ch, KindPlayer, err)
	}

	err := <-streamDone
	if err != nil {
		if errors.Is(err, ErrSuperseded) {
			return err
		}
		o.fail(ctx, token, ch, kindOf(err, KindMusic), err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if !o.update(ctx, token, func() { o.stream = streamLive }) {
		return ErrSuperseded
	}
	if o.selectTime != nil {
		o.selectTime.Record(ctx, time.Since(started).Seconds())
	}
	return nil
}

func (o *Orchestrator) begin(ctx context.Context, ch channels.Channel) uint64 {
	o.mu.Lock()
	o.token++
	o.channelID = ch.ID
	o.resolving = true
	o.introActive = false
	o.stream = streamNone
	o.lastErr = ""
	token := o.token
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.notifyState(ctx, snap)
	return token
}

func (o *Orchestrator) current(token uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.token == token
}

// update applies fn if token is still the active selection.
func (o *Orchestrator) update(ctx context.Context, token uint64, fn func()) bool {
	o.mu.Lock()
	if o.token != token {
		o.mu.Unlock()
		return false
	}
	fn()
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.notifyState(ctx, snap)
	return true
}

func (o *Orchestrator) introFinished(token uint64) {
	o.update(context.Background(), token, func() { o.introActive = false })
}

// resolveIntro makes sure the host's intro is in the cache. Concurrent
// selections of the same host share one synthesis.
func (o *Orchestrator) resolveIntro(ctx context.Context, ch channels.Channel) error {
	host := ch.Host.ID

	o.flightMu.Lock()
	if f, ok := o.inflight[host]; ok {
		o.flightMu.Unlock()
		o.countLookup(ctx, "shared")
		select {
		case <-f.done:
			return f.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	cached, err := o.deps.Cache.Exists(host)
	if err != nil {
		o.flightMu.Unlock()
		return &kindError{kind: KindCache, err: fmt.Errorf("check intro cache: %w", err)}
	}
	if cached {
		o.flightMu.Unlock()
		o.countLookup(ctx, "hit")
		return nil
	}

	cost := EstimateCost(ch.IntroText)
	if remaining := o.Remaining() - o.reserved; remaining < cost {
		o.flightMu.Unlock()
		return fmt.Errorf("%w: intro needs %d credits, %d remaining", ErrBudgetExceeded, cost, remaining)
	}

	f := &flight{done: make(chan struct{})}
	o.inflight[host] = f
	o.reserved += cost
	o.flightMu.Unlock()
	o.countLookup(ctx, "miss")

	// detached so that switching channels does not abort a running synthesis
	f.err = o.synthesize(context.WithoutCancel(ctx), ch)

	o.flightMu.Lock()
	delete(o.inflight, host)
	o.reserved -= cost
	o.flightMu.Unlock()
	close(f.done)
	return f.err
}

func (o *Orchestrator) synthesize(ctx context.Context, ch channels.Channel) error {
	ctx, span := o.tracer.Start(ctx, "radio.synthesize", trace.WithAttributes(attribute.String("host.id", ch.Host.ID)))
	defer span.End()

	req := tts.SynthRequest{Text: ch.IntroText, Voice: ch.Host.ID}
	audio, err := retry.Do(ctx, o.opts.Retry, func(ctx context.Context) ([]byte, error) {
		return tts.Collect(ctx, o.deps.Synth, req)
	})
	if err != nil {
		span.RecordError(err)
		return &kindError{kind: KindSpeech, err: fmt.Errorf("synthesize intro for %s: %w", ch.Host.ID, err)}
	}

	chars := utf8.RuneCountInString(ch.IntroText)
	o.deps.Credits.Increment(chars)
	if o.ttsChars != nil {
		o.ttsChars.Add(ctx, int64(chars), metric.WithAttributes(attribute.String("host.id", ch.Host.ID)))
	}

	if err := o.deps.Cache.Save(ch.Host.ID, audio); err != nil {
		return &kindError{kind: KindCache, err: fmt.Errorf("save intro for %s: %w", ch.Host.ID, err)}
	}
	o.logger.Info("intro synthesized",
		slog.String("host", ch.Host.ID),
		slog.Int("bytes", len(audio)),
		slog.Int("credits_used", o.deps.Credits.Used()))
	return nil
}

func (o *Orchestrator) startStream(ctx context.Context, token uint64, ch channels.Channel) error {
	ctx, span := o.tracer.Start(ctx, "radio.start_stream")
	defer span.End()

	device, err := retry.Do(ctx, o.opts.Retry, o.deps.Music.ActiveDevice)
	if err != nil {
		return fmt.Errorf("find active device: %w", err)
	}
	query := spotify.RecommendationQuery{
		SeedGenres:    ch.Genres,
		Limit:         o.opts.RecommendationLimit,
		MinEnergy:     o.opts.MinEnergy,
		MinPopularity: o.opts.MinPopularity,
	}
	uris, err := retry.Do(ctx, o.opts.Retry, func(ctx context.Context) ([]string, error) {
		return o.deps.Music.Recommendations(ctx, query)
	})
	if err != nil {
		return fmt.Errorf("fetch recommendations: %w", err)
	}
	if len(uris) == 0 {
		return ErrNoRecommendations
	}
	if !o.current(token) {
		return ErrSuperseded
	}
	_, err = retry.Do(ctx, o.opts.Retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.deps.Music.PlayTracks(ctx, device.ID, uris)
	})
	if err != nil {
		return fmt.Errorf("start playback on %s: %w", device.Name, err)
	}
	o.logger.Info("stream started",
		slog.Int("channel", ch.ID),
		slog.String("device", device.Name),
		slog.Int("tracks", len(uris)))
	return nil
}

// fail returns the selection to idle and raises an alert.
func (o *Orchestrator) fail(ctx context.Context, token uint64, ch channels.Channel, kind string, err error) {
	applied := o.update(ctx, token, func() {
		o.resolving = false
		o.stream = streamFailed
		o.lastErr = err.Error()
	})
	if !applied {
		o.logger.Debug("dropping failure of superseded selection", slog.Uint64("token", token), slogError(err))
		return
	}
	o.alert(ctx, token, ch, kind, err)
}

func (o *Orchestrator) alert(ctx context.Context, token uint64, ch channels.Channel, kind string, err error) {
	o.logger.Warn("channel selection failed",
		slog.Int("channel", ch.ID),
		slog.String("kind", kind),
		slogError(err))
	if o.failures != nil {
		o.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
	if o.deps.Notifier != nil {
		o.deps.Notifier.Alert(ctx, Alert{Token: token, ChannelID: ch.ID, Kind: kind, Err: err})
	}
}

func (o *Orchestrator) notifyState(ctx context.Context, snap Snapshot) {
	if o.deps.Notifier != nil {
		o.deps.Notifier.StateChanged(ctx, snap)
	}
}

func (o *Orchestrator) countLookup(ctx context.Context, result string) {
	if o.cacheLookup != nil {
		o.cacheLookup.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}
}

type kindError struct {
	kind string
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// kindOf classifies err for alerts, falling back to def.
func kindOf(err error, def string) string {
	switch {
	case errors.Is(err, ErrBudgetExceeded):
		return KindBudget
	case errors.Is(err, spotify.ErrNoActiveDevice):
		return KindNoDevice
	case errors.Is(err, spotify.ErrNotAuthenticated):
		return KindUnauthenticated
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return def
}

func isPermanent(err error) bool {
	if errors.Is(err, spotify.ErrNoActiveDevice) || errors.Is(err, spotify.ErrNotAuthenticated) {
		return true
	}
	var se *tts.StatusError
	if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 && se.Code != 429 {
		return true
	}
	return errors.Is(err, tts.ErrEmptyAudio)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
