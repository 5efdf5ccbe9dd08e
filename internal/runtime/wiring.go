package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftfm/drift-core/internal/bus"
	"github.com/driftfm/drift-core/internal/channels"
	"github.com/driftfm/drift-core/internal/config"
	"github.com/driftfm/drift-core/internal/nowplaying"
	"github.com/driftfm/drift-core/internal/prefs"
	"github.com/driftfm/drift-core/internal/profile"
	"github.com/driftfm/drift-core/internal/protocol"
	"github.com/driftfm/drift-core/internal/radio"
	"github.com/driftfm/drift-core/internal/spotify"
	"github.com/driftfm/drift-core/internal/tts"
)

func newSynthesizer(cfg config.TTSConfig) (tts.Synthesizer, error) {
	switch cfg.Mode {
	case "elevenlabs":
		return tts.NewElevenLabsSynth(tts.ElevenLabsOptions{
			Endpoint:        cfg.Endpoint,
			APIKey:          cfg.APIKey,
			ModelID:         cfg.ModelID,
			Stability:       cfg.Stability,
			SimilarityBoost: cfg.SimilarityBoost,
			OutputFormat:    cfg.OutputFormat,
			Timeout:         time.Duration(cfg.TimeoutMS) * time.Millisecond,
		})
	case "exec":
		return tts.NewExecSynth(cfg.Command, cfg.OutputFormat)
	case "mock":
		return tts.NewMockSynth(nil), nil
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}

// selectionRecorder puts selections on the session timeline and remembers
// the last channel locally and, when a listener is known, on their profile.
type selectionRecorder struct {
	timeline radio.SelectionRecorder
	prefs    *prefs.File
	profiles *profile.Store
	userID   string
}

func (s *selectionRecorder) ChannelSelected(ctx context.Context, ch channels.Channel) error {
	var errs []error
	if s.timeline != nil {
		if err := s.timeline.ChannelSelected(ctx, ch); err != nil {
			errs = append(errs, err)
		}
	}
	if s.prefs != nil {
		if err := s.prefs.Update(func(p *prefs.Prefs) { p.LastChannel = ch.ID }); err != nil {
			errs = append(errs, err)
		}
	}
	if s.profiles != nil && s.userID != "" {
		if err := s.profiles.SetLastChannel(ctx, s.userID, ch.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type nowPlayingPublisher struct {
	bus *bus.Client
}

func (p nowPlayingPublisher) PublishNowPlaying(_ context.Context, snap nowplaying.Snapshot) error {
	return p.bus.PublishJSON(protocol.SubjectNowPlaying, snap.Message())
}

// lastChannel is the channel to resume: the listener profile's when one is
// known, the local prefs' otherwise. Zero means none.
func lastChannel(ctx context.Context, local *prefs.File, profiles *profile.Store, userID string) int {
	if profiles != nil && userID != "" {
		if u, err := profiles.Get(ctx, userID); err == nil && u.LastChannel > 0 {
			return u.LastChannel
		}
	}
	if local == nil {
		return 0
	}
	p, _ := local.Load()
	return p.LastChannel
}

// syncProfile records the logged-in listener and returns their id. It returns
// "" when the music service is not authenticated.
func syncProfile(ctx context.Context, client *spotify.Client, tokens *spotify.Tokens, profiles *profile.Store, local *prefs.File, logger *slog.Logger) string {
	if !tokens.Authenticated() {
		logger.Info("music service not authenticated; profile sync skipped")
		return ""
	}
	me, err := client.Profile(ctx)
	if err != nil {
		logger.Warn("failed to fetch listener profile", slogError(err))
		return ""
	}
	if err := profiles.Upsert(ctx, profile.User{
		ID:          me.ID,
		DisplayName: me.DisplayName,
		Email:       me.Email,
		AvatarURL:   me.AvatarURL(),
	}); err != nil {
		logger.Warn("failed to store listener profile", slogError(err))
	}
	if err := local.Update(func(p *prefs.Prefs) { p.UserID = me.ID }); err != nil {
		logger.Warn("failed to save prefs", slogError(err))
	}
	return me.ID
}
