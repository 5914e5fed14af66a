package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/rendezvous/config"
	"github.com/mossy-p/rendezvous/internal/collider"
	"github.com/mossy-p/rendezvous/internal/handlers"
	"github.com/mossy-p/rendezvous/internal/middleware"
	"github.com/mossy-p/rendezvous/internal/params"
	"github.com/mossy-p/rendezvous/internal/redis"
	"github.com/mossy-p/rendezvous/internal/rooms"
	"github.com/mossy-p/rendezvous/internal/signaling"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry, closeRegistry, err := newRegistry(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up room registry")
	}
	defer closeRegistry()

	svc := signaling.NewService(signaling.Config{
		Registry: registry,
		Forwarder: collider.NewClient(collider.Config{
			Timeout: cfg.Collider.Timeout,
			Logger:  &logger,
		}),
		Logger: &logger,
	})
	h := handlers.NewSignaling(handlers.Config{
		Service: svc,
		Params: params.NewBuilder(params.Options{
			TURNBaseURL:            cfg.TURN.BaseURL,
			TURNKey:                cfg.TURN.Key,
			ColliderHostPortPairs:  cfg.Collider.HostPortPairs,
			BypassJoinConfirmation: cfg.BypassJoinConfirmation,
		}),
		Logger: &logger,
	})

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(&logger))
	router.Use(middleware.OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	h.Register(router)
	h.RegisterOperator(router.Group("/api", middleware.JWTAuth(cfg.JWTSecret)))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.Port).Str("registry", cfg.Registry).Msg("starting rendezvous server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shut down server")
	}
}

// newRegistry returns the configured room registry and a function releasing
// its resources.
func newRegistry(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (rooms.Registry, func(), error) {
	if cfg.Registry == config.RegistryRedis {
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Msg("Redis connection established")
		registry := redis.NewRegistry(redis.Config{
			Client:  client,
			RoomTTL: cfg.RoomTTL,
			Logger:  logger,
		})
		return registry, func() { _ = client.Close() }, nil
	}

	registry := rooms.NewMemoryRegistry()
	janitorLog := logger.With().Str("component", "janitor").Logger()
	go registry.RunJanitor(ctx, cfg.JanitorInterval, cfg.RoomTTL, func(keys []string) {
		janitorLog.Debug().Strs("roomKeys", keys).Msg("evicted idle rooms")
	})
	return registry, func() {}, nil
}
