package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftfm/drift-core/internal/bus"
	"github.com/driftfm/drift-core/internal/cache"
	"github.com/driftfm/drift-core/internal/channels"
	"github.com/driftfm/drift-core/internal/config"
	"github.com/driftfm/drift-core/internal/credits"
	"github.com/driftfm/drift-core/internal/eventstore"
	"github.com/driftfm/drift-core/internal/natsserver"
	"github.com/driftfm/drift-core/internal/nowplaying"
	"github.com/driftfm/drift-core/internal/player"
	"github.com/driftfm/drift-core/internal/prefs"
	"github.com/driftfm/drift-core/internal/profile"
	"github.com/driftfm/drift-core/internal/radio"
	"github.com/driftfm/drift-core/internal/retry"
	"github.com/driftfm/drift-core/internal/spotify"
)

type Runtime struct {
	cfg            config.Config
	logger         *slog.Logger
	httpServer     *http.Server
	metricsServer  *http.Server
	telemetryClose func(context.Context) error
	ready          atomic.Bool
	wg             sync.WaitGroup

	natsServer *natsserver.EmbeddedServer
	bus        *bus.Client
	events     *eventstore.Store
	profiles   *profile.Store
	radio      *radio.Service
	poller     *nowplaying.Poller
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryClose = shutdownTelemetry
	defer r.closeComponents()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	handlers, err := r.startComponents(ctx)
	if err != nil {
		return err
	}
	handlers.register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{Addr: bind, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
		r.serve(r.metricsServer, "metrics")
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()
	return nil
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error(name+" server failed", slog.String("error", err.Error()))
		}
	}()
}

// startComponents brings up storage, the bus and the radio services and
// returns the HTTP API bound to them.
func (r *Runtime) startComponents(ctx context.Context) (*api, error) {
	cfg := r.cfg

	ns, err := natsserver.Start(cfg.Bus, r.logger)
	if err != nil {
		return nil, err
	}
	r.natsServer = ns

	r.bus, err = bus.Connect(ctx, cfg.Bus, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return nil, err
	}

	r.events, err = eventstore.Open(ctx, cfg.EventStore, r.logger.With(slog.String("component", "event-store")))
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	if err := r.events.Ensure(); err != nil {
		return nil, err
	}
	r.profiles, err = profile.Open(ctx, cfg.Profile.Path, r.logger)
	if err != nil {
		return nil, fmt.Errorf("open profile store: %w", err)
	}
	localPrefs := prefs.NewFile(cfg.Prefs.Path)

	registry, err := channels.Load(cfg.Radio.ChannelsFile)
	if err != nil {
		return nil, fmt.Errorf("load channels: %w", err)
	}
	intros := cache.New(cfg.Cache.Root)
	if err := intros.EnsureStorageReady(); err != nil {
		return nil, err
	}

	synth, err := newSynthesizer(cfg.TTS)
	if err != nil {
		return nil, fmt.Errorf("create synthesizer: %w", err)
	}
	spotifyTimeout := time.Duration(cfg.Spotify.TimeoutMS) * time.Millisecond
	tokens, err := spotify.NewTokens(spotify.TokensOptions{
		AccessToken:  cfg.Spotify.AccessToken,
		RefreshToken: cfg.Spotify.RefreshToken,
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		AccountsBase: cfg.Spotify.AccountsBase,
		Timeout:      spotifyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create token source: %w", err)
	}
	music, err := spotify.NewClient(cfg.Spotify.APIBase, tokens, spotifyTimeout)
	if err != nil {
		return nil, fmt.Errorf("create music client: %w", err)
	}

	userID := syncProfile(ctx, music, tokens, r.profiles, localPrefs, r.logger)
	actor := userID
	if actor == "" {
		actor = "local"
	}
	sessionID, err := r.events.StartSession(ctx, actor)
	if err != nil {
		return nil, err
	}
	r.logger.Info("listening session started", slog.String("session_id", sessionID), slog.Int("channels", registry.Len()))

	bridge := radio.NewBridge(r.bus, r.events, sessionID, r.logger)
	announcer := player.NewAnnouncer(bridge, time.Duration(cfg.Radio.IntroFallbackMS)*time.Millisecond, r.logger)
	tracker := credits.New()
	orch, err := radio.New(radio.Deps{
		Channels: registry,
		Cache:    intros,
		Credits:  tracker,
		Synth:    synth,
		Music:    music,
		Player:   announcer,
		Notifier: bridge,
		Recorder: &selectionRecorder{timeline: bridge, prefs: localPrefs, profiles: r.profiles, userID: userID},
	}, radio.Options{
		Budget:              cfg.Radio.CreditBudget,
		RecommendationLimit: cfg.Radio.RecommendationLimit,
		MinEnergy:           cfg.Radio.MinEnergy,
		MinPopularity:       cfg.Radio.MinPopularity,
		Retry:               retry.FromConfig(cfg.Retry),
		IntroURL:            r.introURL,
	}, r.logger)
	if err != nil {
		return nil, err
	}

	selectTimeout := time.Duration(cfg.Radio.SelectTimeoutMS) * time.Millisecond
	r.radio = radio.NewService(ctx, orch, announcer, r.bus, selectTimeout, r.logger)
	if err := r.radio.Start(); err != nil {
		return nil, fmt.Errorf("start radio service: %w", err)
	}
	if cfg.Radio.ResumeLastChannel {
		r.resume(ctx, orch, registry, lastChannel(ctx, localPrefs, r.profiles, userID), selectTimeout)
	}

	store := &nowplaying.Store{}
	if cfg.Poller.Enabled {
		r.poller = nowplaying.NewPoller(music, tokens, nowPlayingPublisher{bus: r.bus}, store, nowplaying.Options{
			Interval:   time.Duration(cfg.Poller.IntervalMS) * time.Millisecond,
			Timeout:    time.Duration(cfg.Poller.TimeoutMS) * time.Millisecond,
			QueueEvery: cfg.Poller.QueueEvery,
		}, r.logger)
		r.poller.Start(ctx)
	}

	return &api{
		channels:      registry,
		radio:         orch,
		credits:       tracker,
		nowPlaying:    store,
		player:        music,
		intros:        intros,
		finisher:      announcer,
		tokens:        tokens,
		timeline:      r.events,
		sessionID:     sessionID,
		listenerID:    actor,
		selectTimeout: selectTimeout,
		logger:        r.logger.With(slog.String("component", "api")),
	}, nil
}

// resume re-selects the listener's last channel in the background.
func (r *Runtime) resume(ctx context.Context, orch *radio.Orchestrator, registry *channels.Registry, channelID int, timeout time.Duration) {
	if _, ok := registry.Get(channelID); !ok {
		return
	}
	r.logger.Info("resuming last channel", slog.Int("channel", channelID))
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(radio.WithSource(ctx, "resume"), timeout)
		defer cancel()
		if err := orch.Select(ctx, channelID); err != nil {
			r.logger.Warn("failed to resume last channel", slog.Int("channel", channelID), slogError(err))
		}
	}()
}

func (r *Runtime) introURL(hostID string) string {
	return r.cfg.HTTP.PublicURL + "/api/intros/" + hostID
}

func (r *Runtime) closeComponents() {
	if r.poller != nil {
		r.poller.Close()
	}
	if r.radio != nil {
		r.radio.Close()
	}
	if r.profiles != nil {
		_ = r.profiles.Close()
	}
	if r.events != nil {
		_ = r.events.Close()
	}
	r.bus.Close()
	r.natsServer.Shutdown()

	if r.telemetryClose != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.telemetryClose(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if r.bus != nil && !r.bus.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("bus disconnected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.radio != nil && r.radio.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
