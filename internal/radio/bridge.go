package radio

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/driftfm/drift-core/internal/bus"
	"github.com/driftfm/drift-core/internal/channels"
	"github.com/driftfm/drift-core/internal/eventstore"
	"github.com/driftfm/drift-core/internal/player"
	"github.com/driftfm/drift-core/internal/protocol"
	"github.com/driftfm/drift-core/internal/spotify"
)

// Timeline persists radio events for the current session.
type Timeline interface {
	AppendJSON(ctx context.Context, sessionID, traceID, eventType string, channelID int, v any) error
}

type sourceKey struct{}

// WithSource tags ctx with where a selection came from (bus, http).
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func sourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok {
		return s
	}
	return ""
}

// Bridge fans orchestrator output out to the bus and the event timeline.
// Either sink may be nil.
type Bridge struct {
	bus       *bus.Client
	timeline  Timeline
	sessionID string
	logger    *slog.Logger
}

func NewBridge(busClient *bus.Client, timeline Timeline, sessionID string, logger *slog.Logger) *Bridge {
	return &Bridge{
		bus:       busClient,
		timeline:  timeline,
		sessionID: sessionID,
		logger:    logger.With(slog.String("component", "radio-bridge")),
	}
}

func (b *Bridge) SessionID() string { return b.sessionID }

func (b *Bridge) StateChanged(ctx context.Context, snap Snapshot) {
	msg := protocol.StateChange{
		SessionID:   b.sessionID,
		State:       string(snap.State),
		ChannelID:   snap.ChannelID,
		IntroActive: snap.IntroActive,
		Streaming:   snap.Streaming,
		Timestamp:   time.Now().UTC(),
	}
	b.publish(protocol.SubjectState, msg)
	b.record(ctx, eventstore.TypeState, snap.ChannelID, msg)
}

func (b *Bridge) Alert(ctx context.Context, a Alert) {
	msg := protocol.Alert{
		SessionID: b.sessionID,
		ChannelID: a.ChannelID,
		Code:      a.Kind,
		Message:   AlertMessage(a.Kind, a.Err),
		Timestamp: time.Now().UTC(),
	}
	b.publish(protocol.SubjectAlert, msg)
	b.record(ctx, eventstore.TypeAlert, a.ChannelID, msg)
}

// PublishIntro implements player.Publisher.
func (b *Bridge) PublishIntro(ctx context.Context, ann player.Announcement) error {
	msg := protocol.IntroPlayback{
		Token:      ann.Token,
		ChannelID:  ann.ChannelID,
		HostID:     ann.HostID,
		URL:        ann.URL,
		DurationMS: ann.Duration.Milliseconds(),
	}
	b.record(ctx, eventstore.TypeIntro, ann.ChannelID, msg)
	if b.bus == nil {
		return nil
	}
	return b.bus.PublishJSON(protocol.SubjectIntroPlay, msg)
}

// ChannelSelected implements SelectionRecorder by putting the selection on
// the timeline.
func (b *Bridge) ChannelSelected(ctx context.Context, ch channels.Channel) error {
	b.record(ctx, eventstore.TypeSelect, ch.ID, protocol.ChannelSelectRequest{ChannelID: ch.ID, Source: sourceFrom(ctx)})
	return nil
}

func (b *Bridge) publish(subject string, v any) {
	if b.bus == nil {
		return
	}
	if err := b.bus.PublishJSON(subject, v); err != nil {
		b.logger.Warn("failed to publish", slog.String("subject", subject), slogError(err))
	}
}

func (b *Bridge) record(ctx context.Context, eventType string, channelID int, v any) {
	if b.timeline == nil {
		return
	}
	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	if err := b.timeline.AppendJSON(context.WithoutCancel(ctx), b.sessionID, traceID, eventType, channelID, v); err != nil {
		b.logger.Warn("failed to record event", slog.String("type", eventType), slogError(err))
	}
}

// AlertMessage is the listener-facing text for a failure.
func AlertMessage(kind string, err error) string {
	switch kind {
	case KindBudget:
		return "Not enough speech credits left for this intro."
	case KindNoDevice:
		return "No active device found. Open the music app on a device and start playing something first."
	case KindUnauthenticated:
		return "You are not logged in to the music service."
	}
	if err == nil {
		return "Something went wrong."
	}
	return err.Error()
}

// Code maps err to a stable machine-readable code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownChannel):
		return "unknown_channel"
	case errors.Is(err, ErrSuperseded):
		return "superseded"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, spotify.ErrNoActiveDevice):
		return KindNoDevice
	}
	return kindOf(err, KindMusic)
}
