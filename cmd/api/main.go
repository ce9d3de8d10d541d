package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"

	api "video-batch-processor/internal/api"
	"video-batch-processor/internal/config"
	"video-batch-processor/internal/dispatch"
	"video-batch-processor/internal/ratelimit"
	"video-batch-processor/internal/store"
	"video-batch-processor/internal/video"
)

func main() {
	cfg := config.Load()

	opts := &slog.HandlerOptions{}
	if cfg.Env == "dev" {
		opts.Level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, opts))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
		<-ch
		cancel()
	}()

	for _, dir := range []string{cfg.InputDir, cfg.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("create %s: %v", dir, err)
		}
	}

	library, err := config.LoadLibrary(cfg.ProfilesPath)
	if err != nil {
		log.Fatalf("load profiles: %v", err)
	}
	logger.Info("profile library loaded",
		"path", cfg.ProfilesPath,
		"profiles", len(library.Profiles()),
		"workflows", len(library.Workflows()))

	var uploader video.Uploader
	if cfg.S3Bucket != "" {
		uploader, err = video.NewS3Uploader(ctx, video.S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			log.Fatalf("s3 uploader: %v", err)
		}
	}

	processor := video.NewProcessor(video.Options{
		FFmpegPath:         cfg.FFmpegPath,
		FFprobePath:        cfg.FFprobePath,
		OutputDir:          cfg.OutputDir,
		Uploader:           uploader,
		DefaultDestination: cfg.OutputDestination,
		Logger:             logger,
	})

	st := store.New()
	dispatcher := dispatch.New(st, processor, dispatch.Config{
		Workers:     cfg.MaxWorkers,
		CancelGrace: cfg.CancelGrace,
		Logger:      logger,
	})
	dispatcher.Start()

	limiter := ratelimit.NewTokenBucket(cfg.RateLimitRPS, cfg.RateLimitBurst, 0)

	server := api.New(cfg, st, dispatcher, library, limiter, processor, logger)
	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: server.Router(),
	}

	logger.Info("api listening", "addr", cfg.Addr(), "workers", cfg.MaxWorkers)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.Warn("dispatcher stopped with active jobs cancelled", "error", err)
	}
	logger.Info("shutdown complete")
}
