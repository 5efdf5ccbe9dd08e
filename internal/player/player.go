// Package player hands cached intros to the listening device and tracks
// when their playback ends.
package player

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/faiface/beep/mp3"
)

// Clip is one intro playback.
type Clip struct {
	Token     uint64
	ChannelID int
	HostID    string
	Path      string
	URL       string
}

// Announcement is what devices receive when an intro should start.
type Announcement struct {
	Token     uint64
	ChannelID int
	HostID    string
	URL       string
	Duration  time.Duration
}

// Publisher delivers announcements to devices.
type Publisher interface {
	PublishIntro(ctx context.Context, a Announcement) error
}

// Announcer plays intros by announcing them and fires completion either when
// the device reports the clip finished or when its duration has elapsed.
// Clips of unknown length wait for the device, or for fallback when it is set.
type Announcer struct {
	pub      Publisher
	log      *slog.Logger
	grace    time.Duration
	fallback time.Duration
	probe    func(path string) (time.Duration, error)
	mu       sync.Mutex
	active   map[uint64]*playback
}

type playback struct {
	timer *time.Timer
	once  sync.Once
	done  func()
}

func NewAnnouncer(pub Publisher, fallback time.Duration, logger *slog.Logger) *Announcer {
	return &Announcer{
		pub:      pub,
		log:      logger.With(slog.String("component", "intro-player")),
		grace:    500 * time.Millisecond,
		fallback: fallback,
		probe:    ProbeDuration,
		active:   make(map[uint64]*playback),
	}
}

// Play announces clip and arranges for done to run exactly once.
func (a *Announcer) Play(ctx context.Context, clip Clip, done func()) error {
	duration, err := a.probe(clip.Path)
	wait := duration + a.grace
	if err != nil {
		// undecodable audio still gets announced; the device decides
		a.log.Warn("intro duration probe failed", slog.String("host", clip.HostID), slog.String("error", err.Error()))
		duration, wait = 0, a.fallback
	}

	ann := Announcement{
		Token:     clip.Token,
		ChannelID: clip.ChannelID,
		HostID:    clip.HostID,
		URL:       clip.URL,
		Duration:  duration,
	}
	if err := a.pub.PublishIntro(ctx, ann); err != nil {
		return fmt.Errorf("announce intro: %w", err)
	}

	pb := &playback{done: done}
	a.mu.Lock()
	if prev, ok := a.active[clip.Token]; ok {
		prev.stop()
	}
	a.active[clip.Token] = pb
	if wait > 0 {
		pb.timer = time.AfterFunc(wait, func() { a.Finish(clip.Token) })
	}
	a.mu.Unlock()
	return nil
}

// Finish marks the intro for token as done. Unknown tokens are ignored.
func (a *Announcer) Finish(token uint64) bool {
	a.mu.Lock()
	pb, ok := a.active[token]
	if ok {
		delete(a.active, token)
	}
	a.mu.Unlock()
	if !ok {
		return false
	}
	pb.stop()
	pb.once.Do(func() {
		if pb.done != nil {
			pb.done()
		}
	})
	return true
}

func (pb *playback) stop() {
	if pb.timer != nil {
		pb.timer.Stop()
	}
}

// Active reports how many intros are still playing.
func (a *Announcer) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active)
}

// ProbeDuration decodes the mp3 at path and returns its length.
func ProbeDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	return probe(f)
}

func probe(rc io.ReadCloser) (time.Duration, error) {
	streamer, format, err := mp3.Decode(rc)
	if err != nil {
		_ = rc.Close()
		return 0, fmt.Errorf("decode mp3: %w", err)
	}
	defer streamer.Close()
	return format.SampleRate.D(streamer.Len()), nil
}
