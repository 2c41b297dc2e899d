package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/MayoPickle/tofu-chillsync/internal/config"
	"github.com/MayoPickle/tofu-chillsync/internal/handler"
	"github.com/MayoPickle/tofu-chillsync/internal/hub"
	"github.com/MayoPickle/tofu-chillsync/internal/room"
	"github.com/MayoPickle/tofu-chillsync/internal/service"
	pkglog "github.com/MayoPickle/tofu-chillsync/pkg/log"
	"github.com/MayoPickle/tofu-chillsync/pkg/pubsub"
	"github.com/MayoPickle/tofu-chillsync/pkg/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger
	cfg.Log.Pretty = cfg.Log.Pretty || cfg.Log.Level == "debug"
	pkglog.Init(cfg.Log)
	logger := pkglog.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize blob storage
	blobs, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to initialize storage")
	}

	// Initialize event publisher
	pub, err := pubsub.NewPublisher(cfg.Events)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Events.Driver).Msg("failed to initialize event publisher")
	}
	events := service.NewEventSink(pub, cfg.Events.ChannelPrefix, 0)

	// Initialize hub and room registry
	wsHub := hub.NewHub(cfg.WebSocket)
	registry := room.NewRegistry(wsHub, room.Options{
		IDLength:         cfg.Room.IDLength,
		IDMaxAttempts:    cfg.Room.IDMaxAttempts,
		ChatHistoryLimit: cfg.Room.ChatHistoryLimit,
		HostOnlyControl:  cfg.Room.HostOnlyControl,
	})

	// Initialize services
	roomSvc := service.NewRoomService(registry, blobs, events)
	syncSvc := service.NewSyncService(wsHub, registry, events)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))
	r.Use(handler.CORS(cfg.Server.AllowedOrigins))

	handler.RegisterHealth(r)
	if local, ok := blobs.(*storage.LocalStore); ok {
		handler.RegisterUploads(r, local.PublicPrefix(), local.BasePath())
	}
	handler.NewHandler(roomSvc, cfg.Upload).RegisterRoutes(r)
	handler.NewWSHandler(wsHub, syncSvc, cfg.WebSocket, cfg.Server.AllowedOrigins).RegisterRoutes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		wsHub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		events.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info().
			Str("addr", addr).
			Str("storage", cfg.Storage.Driver).
			Str("events", cfg.Events.Driver).
			Bool("host_only_control", cfg.Room.HostOnlyControl).
			Msg("chillsync server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("server forced to shutdown")
		}
		registry.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server error")
	}
	if err := events.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close event publisher")
	}
	logger.Info().Msg("chillsync server stopped")
}
