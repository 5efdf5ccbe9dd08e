package nowplaying

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/driftfm/drift-core/internal/spotify"
)

const queuePreview = 3

type Source interface {
	PlaybackState(ctx context.Context) (*spotify.PlaybackState, error)
	Queue(ctx context.Context) (*spotify.Queue, error)
}

type Session interface {
	Authenticated() bool
}

// Publisher is told about every track change.
type Publisher interface {
	PublishNowPlaying(ctx context.Context, snap Snapshot) error
}

type Options struct {
	Interval   time.Duration
	Timeout    time.Duration
	QueueEvery int
}

// Poller refreshes a Store from one goroutine, so polls never overlap.
type Poller struct {
	src     Source
	session Session
	pub     Publisher
	store   *Store
	opts    Options
	logger  *slog.Logger
	clock   func() time.Time

	polls   int
	upNext  []string
	latency metric.Float64Histogram

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPoller(src Source, session Session, pub Publisher, store *Store, opts Options, logger *slog.Logger) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Timeout <= 0 || opts.Timeout > opts.Interval {
		opts.Timeout = opts.Interval
	}
	p := &Poller{
		src:     src,
		session: session,
		pub:     pub,
		store:   store,
		opts:    opts,
		logger:  logger.With(slog.String("component", "now-playing")),
		clock:   time.Now,
	}
	latency, err := otel.Meter("github.com/driftfm/drift-core/nowplaying").Float64Histogram(
		"drift_now_playing_poll_seconds",
		metric.WithDescription("Latency of now-playing polls"),
		metric.WithUnit("s"))
	if err != nil {
		p.logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	} else {
		p.latency = latency
	}
	return p
}

func (p *Poller) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	p.wg.Add(1)
	go p.run(ctx)
}

func (p *Poller) Close() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()
	for {
		p.Poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll performs one refresh. It is a no-op while the listener is logged out.
func (p *Poller) Poll(ctx context.Context) {
	if p.session != nil && !p.session.Authenticated() {
		p.store.Clear()
		return
	}
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	started := p.clock()
	state, err := p.src.PlaybackState(ctx)
	p.observe(ctx, started, err)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		p.logger.Debug("now-playing poll failed", slog.String("error", err.Error()))
		return
	}

	if p.opts.QueueEvery > 0 && p.polls%p.opts.QueueEvery == 0 {
		p.refreshQueue(ctx)
	}
	p.polls++

	snap := fromPlayback(state)
	snap.UpNext = p.upNext
	snap.UpdatedAt = p.clock().UTC()
	if !p.store.Put(snap) || p.pub == nil {
		return
	}
	if err := p.pub.PublishNowPlaying(ctx, snap); err != nil {
		p.logger.Warn("failed to publish now playing", slog.String("error", err.Error()))
	}
}

func (p *Poller) refreshQueue(ctx context.Context) {
	q, err := p.src.Queue(ctx)
	if err != nil {
		p.logger.Debug("queue refresh failed", slog.String("error", err.Error()))
		return
	}
	if q == nil {
		p.upNext = nil
		return
	}
	next := make([]string, 0, queuePreview)
	for _, t := range q.Queue {
		if len(next) == queuePreview {
			break
		}
		next = append(next, t.Name+" - "+t.ArtistNames())
	}
	p.upNext = next
}

func (p *Poller) observe(ctx context.Context, started time.Time, err error) {
	if p.latency == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.latency.Record(ctx, p.clock().Sub(started).Seconds(), metric.WithAttributes(attribute.String("result", result)))
}
