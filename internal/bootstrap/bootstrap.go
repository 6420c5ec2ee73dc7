package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"meetscribe-server/internal/app/services"
	"meetscribe-server/internal/domain/asr"
	"meetscribe-server/internal/domain/asr/infrastructure/adapters"
	"meetscribe-server/internal/domain/asr/inter"
	"meetscribe-server/internal/domain/audio"
	"meetscribe-server/internal/domain/auth"
	"meetscribe-server/internal/domain/eventbus"
	eventinfra "meetscribe-server/internal/domain/eventbus/infrastructure"
	"meetscribe-server/internal/domain/eventbus/repository"
	"meetscribe-server/internal/domain/insight"
	"meetscribe-server/internal/domain/transcript"
	platformconfig "meetscribe-server/internal/platform/config"
	platformerrors "meetscribe-server/internal/platform/errors"
	platformlogging "meetscribe-server/internal/platform/logging"
	platformobservability "meetscribe-server/internal/platform/observability"
	platformstorage "meetscribe-server/internal/platform/storage"
	httptransport "meetscribe-server/internal/transport/http"
	"meetscribe-server/internal/transport/ws"
)

const (
	shutdownTimeout = 15 * time.Second
	eventRetention  = 7 * 24 * time.Hour
	pruneInterval   = time.Hour
)

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

// Options controls Run.
type Options struct {
	// ConfigPath overrides the YAML file location.
	ConfigPath string
	// DotEnv loads a .env file before reading the environment.
	DotEnv bool
}

type appState struct {
	opts                  Options
	config                *platformconfig.Config
	configPath            string
	logger                *platformlogging.Logger
	metrics               *platformobservability.Metrics
	observabilityShutdown platformobservability.ShutdownFunc
	db                    *gorm.DB
	store                 transcript.Store
	bus                   *eventbus.AsyncEventBus
	eventRepo             repository.EventRepository
	meetings              *transcript.MeetingManager
	registry              *audio.Registry
	recognizer            inter.Recognizer
	summarizer            *insight.Summarizer
}

// Run starts the service and blocks until ctx is cancelled or a signal
// arrives, then shuts everything down.
func Run(ctx context.Context, opts Options) error {
	state := &appState{opts: opts}
	defer state.close()

	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		if state.logger != nil {
			state.logger.ErrorTag("BOOT", "initialisation failed", "error", err.Error())
		}
		return err
	}
	logBootstrapGraph(steps, state.logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)
	hub := startTransportServer(groupCtx, g, state)
	startHTTPServer(groupCtx, g, state, hub)
	if state.eventRepo != nil {
		g.Go(func() error {
			pruneEvents(groupCtx, state)
			return nil
		})
	}

	state.logger.InfoTag("BOOT", "service started")
	return waitForShutdown(groupCtx, state.logger, g)
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	for _, step := range steps {
		logger.DebugTag("BOOT", step.Title, "step", step.ID, "depends_on", strings.Join(step.DependsOn, ","))
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

// InitGraph lists the initialisation steps in execution order.
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup-hooks",
			Title:     "Setup observability hooks",
			DependsOn: []string{"logging:init-provider"},
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "storage:open-database",
			Title:     "Open database",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   openDatabaseStep,
		},
		{
			ID:        "transcript:init-store",
			Title:     "Initialise transcript store",
			DependsOn: []string{"storage:open-database"},
			Kind:      platformerrors.KindStorage,
			Execute:   initTranscriptStoreStep,
		},
		{
			ID:        "eventbus:init",
			Title:     "Start event bus",
			DependsOn: []string{"storage:open-database", "observability:setup-hooks"},
			Execute:   initEventBusStep,
		},
		{
			ID:        "meetings:init-manager",
			Title:     "Initialise meeting manager",
			DependsOn: []string{"transcript:init-store", "eventbus:init"},
			Execute:   initMeetingsStep,
		},
		{
			ID:        "audio:init-registry",
			Title:     "Initialise stream registry",
			DependsOn: []string{"observability:setup-hooks"},
			Execute:   initAudioStep,
		},
		{
			ID:        "asr:init-recognizer",
			Title:     "Initialise speech recognizer",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindConfig,
			Execute:   initRecognizerStep,
		},
		{
			ID:        "insight:init-summarizer",
			Title:     "Initialise summarizer",
			DependsOn: []string{"meetings:init-manager"},
			Execute:   initInsightStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	result, err := platformconfig.NewLoader().
		WithDotEnv(state.opts.DotEnv).
		WithPath(state.opts.ConfigPath).
		Load()
	if err != nil {
		return err
	}
	state.config = result.Config
	state.configPath = result.Path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
	}
	state.logger = logger
	logger.InfoTag("BOOT", "logging ready", "level", state.config.Log.Level, "config", state.configPath)
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	cfg := platformobservability.Config{
		Enabled:     state.config.Observability.MetricsEnabled,
		MetricsPath: state.config.Observability.MetricsPath,
	}
	shutdown, err := platformobservability.Setup(ctx, cfg, state.logger.Slog())
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "observability:setup-hooks", "failed to setup observability hooks", err)
	}
	state.observabilityShutdown = shutdown
	state.metrics = platformobservability.Default()
	return nil
}

// openDatabaseStep opens SQLite when the transcript store uses it. The
// event log lives in the same database.
func openDatabaseStep(_ context.Context, state *appState) error {
	if state.config.Storage.Driver != transcript.DriverSQLite {
		state.logger.InfoTag("STORE", "sqlite not configured, event log disabled", "driver", state.config.Storage.Driver)
		return nil
	}
	db, err := platformstorage.Open(state.config.Storage.SQLite.DSN)
	if err != nil {
		return err
	}
	state.db = db
	state.logger.InfoTag("STORE", "database ready", "dsn", state.config.Storage.SQLite.DSN)
	return nil
}

func initTranscriptStoreStep(_ context.Context, state *appState) error {
	sc := state.config.Storage
	store, err := transcript.New(transcript.Config{
		Driver: sc.Driver,
		TTL:    sc.Redis.TTL,
		Redis: &transcript.RedisConfig{
			Addr:     sc.Redis.Addr,
			Username: sc.Redis.Username,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
			Prefix:   sc.Redis.Prefix,
		},
	}, transcript.Dependencies{SQLiteDB: state.db})
	if err != nil {
		return err
	}
	state.store = store
	state.logger.InfoTag("STORE", "transcript store ready", "driver", sc.Driver)
	return nil
}

func initEventBusStep(_ context.Context, state *appState) error {
	bus := eventbus.NewAsyncEventBus(4, 1000, state.logger)
	if state.db != nil {
		state.eventRepo = eventinfra.NewEventRepository(state.db)
	}
	if err := eventbus.NewRecorder(state.eventRepo, state.logger).Attach(bus); err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "eventbus:init", "failed to attach event recorder", err)
	}
	bus.Start()
	state.bus = bus
	return nil
}

func initMeetingsStep(_ context.Context, state *appState) error {
	state.meetings = transcript.NewMeetingManager(state.store,
		transcript.WithManagerLogger(state.logger),
		transcript.WithPublisher(state.bus.Publisher()),
	)
	return nil
}

func initAudioStep(_ context.Context, state *appState) error {
	ac := state.config.Audio
	state.registry = audio.NewRegistry(audio.RegistryConfig{
		Quality: audio.QualityConfig{
			NoiseThreshold:  ac.NoiseThreshold,
			SpeechZCR:       ac.SpeechZCR,
			TargetPeak:      ac.TargetPeak,
			SpeechOnFailure: ac.SpeechOnFailure,
		},
		AdmissionRMS: ac.AdmissionRMS,
		MaxDelay:     ac.MaxDelay,
		SampleRate:   ac.SampleRate,
	}, audio.WithRegistryLogger(state.logger), audio.WithRegistryMetrics(state.metrics))
	return nil
}

func initRecognizerStep(_ context.Context, state *appState) error {
	registry := adapters.NewRegistry()
	rec, err := registry.Create(state.config.Recognizer, state.logger)
	if err != nil {
		state.logger.ErrorTag("ASR", "recognizer unavailable", "provider", state.config.Recognizer.Provider,
			"available", strings.Join(registry.Names(), ","))
		return err
	}
	state.recognizer = rec
	state.logger.InfoTag("ASR", "recognizer ready", "provider", rec.Name(), "language", state.config.Recognizer.Language)
	return nil
}

func initInsightStep(_ context.Context, state *appState) error {
	ic := state.config.Insight
	if !ic.Enabled {
		state.logger.InfoTag("INSIGHT", "summaries disabled")
		return nil
	}
	completer := insight.NewOpenAICompleter(insight.OpenAIConfig{
		APIKey:      ic.APIKey,
		BaseURL:     ic.BaseURL,
		Model:       ic.Model,
		MaxTokens:   ic.MaxTokens,
		Temperature: float32(ic.Temperature),
	}, state.logger)
	state.summarizer = insight.NewSummarizer(completer, state.meetings, insight.SummarizerConfig{
		Window:    ic.Window,
		MaxTokens: ic.MaxTokens,
		Timeout:   ic.Timeout,
	}, state.logger)
	state.logger.InfoTag("INSIGHT", "summaries enabled", "model", ic.Model)
	return nil
}

// sessionConfig maps the configuration onto the recognition worker settings.
func sessionConfig(cfg *platformconfig.Config) asr.Config {
	sc := cfg.Session
	rc := cfg.Recognizer
	return asr.Config{
		QueueSize:       sc.QueueSize,
		PollInterval:    sc.PollInterval,
		AudioTimeout:    sc.AudioTimeout,
		EnqueueTimeout:  sc.EnqueueTimeout,
		DeliveryTimeout: sc.DeliveryTimeout,
		DrainTimeout:    sc.DrainTimeout,
		InitialBackoff:  sc.InitialBackoff,
		MaxBackoff:      sc.MaxBackoff,
		MaxRetries:      sc.MaxRetries,
		Stream: inter.StreamConfig{
			Encoding:       "LINEAR16",
			SampleRate:     cfg.Audio.SampleRate,
			Language:       rc.Language,
			Model:          rc.Model,
			Punctuation:    rc.Punctuation,
			Enhanced:       rc.Enhanced,
			InterimResults: rc.InterimResults,
		},
	}
}

func newHandlerBuilder(state *appState) ws.HandlerBuilder {
	wc := state.config.Transport.WebSocket
	sessionCfg := sessionConfig(state.config)
	return func(conn *ws.Connection, req *http.Request, clientID string) (ws.SessionHandler, error) {
		return services.NewConnectionSession(services.ConnectionConfig{
			ClientID:     clientID,
			RemoteAddr:   conn.RemoteAddr(),
			Conn:         conn,
			Registry:     state.registry,
			Recognizer:   state.recognizer,
			Meetings:     state.meetings,
			Publisher:    state.bus.Publisher(),
			Session:      sessionCfg,
			Logger:       state.logger,
			Metrics:      state.metrics,
			PingInterval: wc.PingInterval,
			OutboundSize: wc.OutboundSize,
		}), nil
	}
}

func startTransportServer(ctx context.Context, g *errgroup.Group, state *appState) *ws.Hub {
	wc := state.config.Transport.WebSocket
	hub := ws.NewHub(state.logger)
	if !wc.Enabled {
		state.logger.WarnTag("WebSocket", "websocket transport disabled")
		return hub
	}

	opts := ws.RouterOptions{
		Path:             wc.Path,
		HandshakeTimeout: wc.HandshakeTimeout,
		WriteTimeout:     wc.WriteTimeout,
		MaxFrameSize:     wc.MaxFrameSize,
	}
	if ac := state.config.Server.Auth; ac.Enabled {
		opts.Verifier = auth.NewAuthToken(ac.Secret).WithTTL(ac.Expiry)
		state.logger.InfoTag("WebSocket", "handshake token auth enabled")
	}
	router := ws.NewRouter(hub, state.logger, opts)
	server := ws.NewServer(ws.ServerConfig{
		Addr: net.JoinHostPort(wc.IP, strconv.Itoa(wc.Port)),
		Path: wc.Path,
	}, router, hub, state.logger)
	server.SetHandlerBuilder(newHandlerBuilder(state))

	g.Go(func() error {
		if err := server.Start(ctx); err != nil {
			return platformerrors.Wrap(platformerrors.KindTransport, "ws:start", "websocket server failed", err)
		}
		return nil
	})
	return hub
}

func startHTTPServer(ctx context.Context, g *errgroup.Group, state *appState, hub *ws.Hub) {
	cfg := state.config
	staticRoot := ""
	if cfg.Web.Enabled {
		staticRoot = cfg.Web.StaticDir
	}
	router := httptransport.Build(httptransport.Options{
		Debug:      strings.EqualFold(cfg.Log.Level, "debug"),
		Logger:     state.logger,
		Metrics:    state.metrics,
		StaticRoot: staticRoot,
	})

	apiOpts := httptransport.APIOptions{
		Sessions: hub,
		Meetings: state.meetings,
		Logger:   state.logger,
	}
	if state.summarizer != nil {
		apiOpts.Summarizer = state.summarizer
	}
	if cfg.Observability.MetricsEnabled {
		apiOpts.MetricsPath = cfg.Observability.MetricsPath
	}
	httptransport.NewAPI(apiOpts).Register(router)

	httpServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.IP, strconv.Itoa(cfg.Server.Port)),
		Handler: router.Engine,
	}

	g.Go(func() error {
		state.logger.InfoTag("HTTP", "listening", "addr", httpServer.Addr, "docs", "/docs")

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				state.logger.ErrorTag("HTTP", "shutdown failed", "error", err.Error())
			} else {
				state.logger.InfoTag("HTTP", "server stopped")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return platformerrors.Wrap(platformerrors.KindTransport, "http:start", "http server failed", err)
		}
		return nil
	})
}

// pruneEvents drops recorded events past the retention window until ctx ends.
func pruneEvents(ctx context.Context, state *appState) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruneCtx, cancel := context.WithTimeout(ctx, time.Minute)
			if err := state.eventRepo.DeleteOldEvents(pruneCtx, time.Now().Add(-eventRetention)); err != nil {
				state.logger.WarnTag("STORE", "event pruning failed", "error", err.Error())
			}
			cancel()
		}
	}
}

func waitForShutdown(ctx context.Context, logger *platformlogging.Logger, g *errgroup.Group) error {
	<-ctx.Done()
	logger.InfoTag("BOOT", "shutting down", "cause", context.Cause(ctx).Error())

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("BOOT", "shutdown finished with error", "error", err.Error())
			return err
		}
		logger.InfoTag("BOOT", "all services stopped")
		return nil
	case <-time.After(shutdownTimeout):
		logger.ErrorTag("BOOT", "shutdown timed out")
		return platformerrors.New(platformerrors.KindBootstrap, "bootstrap.shutdown", "shutdown timed out")
	}
}

// close releases whatever the init steps created, in reverse order.
func (s *appState) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	warn := func(what string, err error) {
		if err != nil && s.logger != nil {
			s.logger.WarnTag("BOOT", "cleanup failed", "component", what, "error", err.Error())
		}
	}

	if closer, ok := s.recognizer.(io.Closer); ok {
		warn("recognizer", closer.Close())
	}
	if s.meetings != nil {
		warn("meetings", s.meetings.Close(ctx))
	}
	if s.bus != nil {
		s.bus.Stop()
	}
	if s.store != nil {
		warn("transcript store", s.store.Close(ctx))
	}
	if s.db != nil {
		warn("database", platformstorage.Close(s.db))
	}
	if s.observabilityShutdown != nil {
		warn("observability", s.observabilityShutdown(ctx))
	}
	if s.logger != nil {
		_ = s.logger.Close()
	}
}
