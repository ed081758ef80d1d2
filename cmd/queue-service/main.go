package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ddrc/queue-service/internal/catalog"
	"ddrc/queue-service/internal/config"
	"ddrc/queue-service/internal/httpapi"
	"ddrc/queue-service/internal/hub"
	"ddrc/queue-service/internal/metrics"
	"ddrc/queue-service/internal/models"
	"ddrc/queue-service/internal/outbox"
	"ddrc/queue-service/internal/registration"
	"ddrc/queue-service/internal/seed"
	"ddrc/queue-service/internal/store/memory"
	"ddrc/queue-service/internal/store/postgres"
	"ddrc/queue-service/internal/store/sqlite"
	"ddrc/queue-service/internal/telemetry"
	"ddrc/queue-service/internal/views"

	"github.com/rs/zerolog"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		logger.Fatal().Err(err).Str("port", cfg.Port).Msg("listen")
	}
	if err := run(ctx, cfg, logger, ln); err != nil {
		logger.Fatal().Err(err).Msg("queue-service")
	}
}

// run wires the engine, its event sinks and the HTTP surface, serves on ln
// until ctx is cancelled and then drains the outbox.
func run(ctx context.Context, cfg config.Config, logger zerolog.Logger, ln net.Listener) error {
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	shutdownTracing := telemetry.Setup(ctx, logger, telemetry.ServiceName, cfg.OTLPEndpoint)

	s, err := seed.Load(cfg.SeedPath)
	if err != nil {
		return fmt.Errorf("load seed %s: %w", cfg.SeedPath, err)
	}
	if cfg.TokenSeed > 0 {
		s.State.TokenCounter = cfg.TokenSeed
	}
	cat := catalog.New(s.Catalog)

	// The sinks read the engine back, but the engine needs the dispatcher
	// that feeds them.
	var engine *memory.Store
	queues := func() map[string][]models.Token {
		if engine == nil {
			return nil
		}
		return engine.Queues()
	}

	m := metrics.New(queues)
	h := hub.New(logger)
	m.WatchClients(h.Clients)
	feed := hub.NewFeed(h, func(now time.Time) views.Board {
		return views.PublicBoard(queues(), cat.Departments(), now)
	})
	sinks := []outbox.Sink{outbox.NewLogSink(logger), m, feed}

	var history httpapi.EventHistory
	if cfg.DatabaseURL != "" {
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer pool.Close()
		ob := postgres.NewOutbox(pool)
		if err := ob.Migrate(ctx); err != nil {
			return fmt.Errorf("db migrate: %w", err)
		}
		logger.Info().Int64("epoch", ob.Epoch()).Msg("postgres outbox ready")
		sinks = append(sinks, ob)
		history = ob
	}
	if cfg.JournalPath != "" {
		journal, err := sqlite.Open(ctx, cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("open event journal %s: %w", cfg.JournalPath, err)
		}
		defer journal.Close()
		sinks = append(sinks, journal)
		if history == nil {
			history = journal
		}
	}
	if cfg.NATSURL != "" {
		publisher, err := outbox.NewNATSPublisher(ctx, cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			return fmt.Errorf("nats connect %s: %w", cfg.NATSURL, err)
		}
		defer publisher.Close()
		sinks = append(sinks, publisher)
	}

	dispatcher := outbox.NewDispatcher(logger, cfg.EventBuffer, sinks...)
	engine, err = memory.NewStore(cat, s.State, memory.WithEventSink(dispatcher))
	if err != nil {
		return fmt.Errorf("init queue engine: %w", err)
	}

	handler := httpapi.NewHandler(engine, cat, registration.New(engine, cat), views.NewSessions(engine, cat), httpapi.Options{
		Seed:    s.Catalog,
		History: history,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:     cfg.RateLimitPerMinute,
		IPBurst:         cfg.RateLimitBurst,
		BranchPerMinute: cfg.RateLimitPerMinute,
		BranchBurst:     cfg.RateLimitBurst,
	})

	// The realtime transport needs the raw writer for hijacking and flushing,
	// so it sits outside the request logging chain.
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/realtime/", feed.SockJSHandler("/realtime"))
	mux.Handle("/", httpapi.LoggingMiddleware(logger, m, limiter.Middleware(handler.Routes())))

	server := &http.Server{
		Handler:      telemetry.Handler(mux, "queue-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(dispatchCtx)
	}()
	go feed.RunClock(ctx, cfg.DisplayTick)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", ln.Addr().String()).Int64("token_counter", engine.Counter()).Msg("queue-service listening")
		serveErr <- server.Serve(ln)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
	cancelDispatch()
	<-dispatchDone
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracing shutdown")
	}
	logger.Info().Int64("dropped_events", dispatcher.Dropped()).Int64("failed_deliveries", dispatcher.Failed()).Msg("queue-service stopped")
	return runErr
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout)
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return logger.Level(level).With().Timestamp().Str("service", telemetry.ServiceName).Logger()
}
