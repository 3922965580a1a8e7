package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/httprate"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/care-relay/backend/internal/config"
	"github.com/zhouzirui/care-relay/backend/internal/handler"
	"github.com/zhouzirui/care-relay/backend/internal/middleware"
	"github.com/zhouzirui/care-relay/backend/internal/service/assistant"
	"github.com/zhouzirui/care-relay/backend/internal/service/chat"
	"github.com/zhouzirui/care-relay/backend/internal/service/session"
)

func main() {
	var (
		envFile  string
		logLevel string
	)

	rootCmd := &cobra.Command{
		Use:          "care-relay",
		Short:        "HTTP relay between the Care Companion web client and a hosted chat assistant",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, envFile, logLevel)
		},
	}
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func serve(ctx context.Context, envFile, logLevel string) error {
	if err := godotenv.Load(envFile); err != nil {
		log.Warn().Err(err).Str("file", envFile).Msg("failed to load env file, continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}
	if logLevel != "" {
		cfg.Log.Level = strings.ToLower(logLevel)
	}
	logger := setupLogger(cfg.Log)

	// 助手初始化失败不会阻止启动，错误在每个请求上以 500 返回
	client, initErr := assistant.New(ctx, cfg.Assistant)
	var sessions *session.Registry
	switch {
	case errors.Is(initErr, assistant.ErrCredentialMissing):
		logger.Error().Str("provider", cfg.Assistant.Provider).Msg("assistant credential is not set")
	case initErr != nil:
		logger.Error().Err(initErr).Str("provider", cfg.Assistant.Provider).Msg("assistant init failed")
	default:
		sessions = session.NewRegistry(client, session.Options{
			IdleTTL:    cfg.Session.IdleTTL,
			MaxEntries: cfg.Session.MaxEntries,
			Logger:     logger.With().Str("component", "sessions").Logger(),
		})
		logger.Info().Str("provider", cfg.Assistant.Provider).Msg("assistant initialized")
	}

	chatSvc := chat.NewService(sessions, initErr, logger.With().Str("component", "chat").Logger())

	var counter httprate.LimitCounter
	if cfg.RateLimit.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RateLimit.RedisURL)
		if err != nil {
			return errors.Wrap(err, "parse REDIS_URL")
		}
		rdb := redis.NewClient(redisOpts)
		defer rdb.Close()
		counter = middleware.NewRedisCounter(rdb)
		logger.Info().Str("addr", redisOpts.Addr).Msg("rate limit counters shared through redis")
	}

	router := handler.NewRouter(chatSvc, handler.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		RateLimit:      cfg.RateLimit.Max,
		RateWindow:     cfg.RateLimit.Window,
		RateCounter:    counter,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("API listening")
		return runServer(gctx, srv)
	})
	if sessions != nil {
		g.Go(func() error {
			sessions.StartEvictionLoop(gctx, cfg.Session.SweepInterval)
			return nil
		})
	}
	return g.Wait()
}

func setupLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if cfg.Format == "json" {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
	log.Logger = logger
	return logger
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
