package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/Yashground/video-processing-app-sub000/internal/auth"
	"github.com/Yashground/video-processing-app-sub000/internal/cache"
	"github.com/Yashground/video-processing-app-sub000/internal/config"
	"github.com/Yashground/video-processing-app-sub000/internal/constants"
	httpapp "github.com/Yashground/video-processing-app-sub000/internal/http"
	"github.com/Yashground/video-processing-app-sub000/internal/httpclient"
	"github.com/Yashground/video-processing-app-sub000/internal/logger"
	"github.com/Yashground/video-processing-app-sub000/internal/media"
	"github.com/Yashground/video-processing-app-sub000/internal/queue"
	"github.com/Yashground/video-processing-app-sub000/internal/store"
	"github.com/Yashground/video-processing-app-sub000/internal/transcribe"
	"github.com/Yashground/video-processing-app-sub000/internal/worker"
	"github.com/Yashground/video-processing-app-sub000/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	appLogger := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	for _, dir := range []string{cfg.CacheDir, cfg.WorkDir} {
		if err := os.MkdirAll(dir, constants.DirPermissions); err != nil {
			appLogger.Error("Failed to create directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	db, err := store.NewSQLiteDB(cfg.DBPath)
	if err != nil {
		appLogger.Error("Failed to init DB", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	resultCache, err := cache.New(cfg.CacheDir, db, cfg.CacheMaxBytes, cfg.CacheMaxAge, appLogger)
	if err != nil {
		appLogger.Error("Failed to init result cache", "error", err)
		os.Exit(1)
	}

	authenticator := auth.New(cfg.AuthToken)
	broadcaster := ws.NewBroadcaster(authenticator, appLogger)

	jobQueue := queue.New(cfg.MaxPending, cfg.MaxRetries, broadcaster, appLogger)

	fetchClient := httpclient.NewClient(&http.Client{Timeout: constants.DefaultHTTPTimeout}, constants.MinRequestInterval)
	fetcher := media.NewFetcher(fetchClient, cfg.WorkDir)
	prober := media.NewProber()
	splitter := media.NewFFmpegSplitter(cfg.WorkDir, constants.SegmentDuration, cfg.SegmentWorkers)
	service := transcribe.NewHTTPService(cfg.ServiceURL, cfg.ServiceToken)
	adapter := transcribe.NewAdapter(service, splitter, cfg.SegmentWorkers, appLogger)

	jobWorker := worker.New(resultCache, fetcher, prober, adapter, broadcaster, jobQueue, cfg.MediaBaseURL, appLogger)

	dispatcher := queue.NewDispatcher(jobQueue, jobWorker, broadcaster, cfg.Workers,
		constants.DefaultPollInterval, constants.DefaultJobRetention, constants.DefaultSweepInterval, appLogger)
	dispatcher.Start()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	h := httpapp.NewHandler(jobQueue, resultCache, authenticator, broadcaster.HandleConnection, appLogger)
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		appLogger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}

	dispatcher.Stop()
	broadcaster.Close()
	resultCache.Close()

	appLogger.Info("Server exiting")
}
