package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qms/clinic-console/internal/announce"
	"qms/clinic-console/internal/apiclient"
	"qms/clinic-console/internal/config"
	"qms/clinic-console/internal/dispatcher"
	"qms/clinic-console/internal/httpapi"
	"qms/clinic-console/internal/journal"
	"qms/clinic-console/internal/journal/postgres"
	"qms/clinic-console/internal/settings"
	"qms/clinic-console/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "clinic-console",
		Short:         "Operator console for the clinic queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().Bool("json", false, "Print results as JSON")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(ticketCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(departmentsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", describe(err))
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// app holds everything a command needs. close releases it in reverse order.
type app struct {
	cfg        config.Config
	logger     zerolog.Logger
	client     *apiclient.Client
	journal    journal.Recorder
	dispatcher *dispatcher.Dispatcher
	closers    []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

type journalMode int

const (
	journalFallbackNop journalMode = iota
	journalFallbackMemory
)

func newApp(ctx context.Context, mode journalMode) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: newLogger(cfg)}
	a.client = apiclient.New(apiclient.Options{
		BaseURL: cfg.APIBaseURL,
		Token:   cfg.APIToken,
		Timeout: cfg.APITimeout,
	})

	recorder, err := a.openJournal(ctx, mode)
	if err != nil {
		a.close()
		return nil, err
	}
	a.journal = recorder

	provider, closeProvider, err := announce.NewProvider(cfg.AnnounceProvider, announce.ProviderOptions{
		WebhookURL:   cfg.AnnounceWebhookURL,
		WebhookToken: cfg.AnnounceWebhookToken,
		AMQPURL:      cfg.AMQPURL,
		Queue:        cfg.AnnounceQueue,
		Logger:       a.logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, func() {
		if err := closeProvider(); err != nil {
			a.logger.Warn().Err(err).Msg("announce provider close")
		}
	})

	a.dispatcher = dispatcher.New(a.client, dispatcher.Options{
		Logger:    a.logger,
		Announcer: announce.New(provider, cfg.Notification, cfg.AnnounceLang, a.logger),
		Journal:   recorder,
		Operator:  cfg.Operator,
	})
	return a, nil
}

// openJournal uses postgres when DB_DSN is set. Without it the server keeps
// an in-memory journal and one-shot commands keep none.
func (a *app) openJournal(ctx context.Context, mode journalMode) (journal.Recorder, error) {
	if a.cfg.DatabaseURL == "" {
		if mode == journalFallbackMemory {
			a.logger.Warn().Msg("DB_DSN not set, journal is kept in memory")
			return journal.NewMemory(), nil
		}
		return journal.Nop{}, nil
	}
	pool, err := pgxpool.New(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	store := postgres.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return store, nil
}

func (a *app) settingsProvider(ctx context.Context) *settings.Provider {
	var cache settings.Cache = settings.NewMemoryCache()
	if a.cfg.RedisAddr != "" {
		client, err := settings.NewRedisClient(ctx, a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB)
		if err != nil {
			a.logger.Warn().Err(err).Msg("redis unavailable, settings cache is kept in memory")
		} else {
			a.closers = append(a.closers, func() { _ = client.Close() })
			cache = settings.NewRedisCache(client, "clinic-console:")
		}
	}
	return settings.NewProvider(a.client, cache, a.cfg.SettingsCacheTTL, a.logger)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the console HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx)
		},
	}
}

func runServer(ctx context.Context) error {
	a, err := newApp(ctx, journalFallbackMemory)
	if err != nil {
		return err
	}
	defer a.close()

	shutdownTracing := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: "clinic-console",
		Environment: a.cfg.Env,
		Endpoint:    a.cfg.TracingEndpoint,
		Insecure:    a.cfg.TracingInsecure,
		SampleRatio: a.cfg.TracingSampleRatio,
	}, a.logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			a.logger.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	handler := httpapi.NewHandler(a.dispatcher, a.client, httpapi.Options{
		Journal:       a.journal,
		Settings:      a.settingsProvider(ctx),
		Notifications: a.cfg.Notification,
	})
	e := httpapi.NewServer(handler, httpapi.ServerOptions{
		Logger: a.logger,
		RateLimit: httpapi.RateLimitConfig{
			PerMinute: a.cfg.RateLimitPerMinute,
			Burst:     a.cfg.RateLimitBurst,
		},
	})

	server := &http.Server{
		Addr:         ":" + a.cfg.Port,
		Handler:      httpapi.Traced(e),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: a.cfg.APITimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", server.Addr).Str("backend", a.cfg.APIBaseURL).Msg("clinic-console listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("shutdown error")
	}
	return nil
}
