package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/highlighter/highlighter-agent/internal/analysis"
	"github.com/highlighter/highlighter-agent/internal/api"
	"github.com/highlighter/highlighter-agent/internal/blob"
	"github.com/highlighter/highlighter-agent/internal/compress"
	"github.com/highlighter/highlighter-agent/internal/config"
	"github.com/highlighter/highlighter-agent/internal/db"
	"github.com/highlighter/highlighter-agent/internal/extract"
	"github.com/highlighter/highlighter-agent/internal/highlight"
	"github.com/highlighter/highlighter-agent/internal/jobs"
	"github.com/highlighter/highlighter-agent/internal/library"
	"github.com/highlighter/highlighter-agent/internal/logging"
	"github.com/highlighter/highlighter-agent/internal/media"
	"github.com/highlighter/highlighter-agent/internal/playback"
	"github.com/highlighter/highlighter-agent/internal/watcher"
)

var Version = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir(), cfg.TempDir(), cfg.OutputDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting highlighter agent", "version", Version, "data_dir", logging.SanitizePath(cfg.DataDir()))

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := jobs.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                 HIGHLIGHTER AGENT v%-22s ║\n", Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Analysis:   %-45s ║\n", cfg.AnalysisURL())
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := jobs.NewService(repo, cfg.UserID(), logging.WithComponent(logger, "jobs"))

	var (
		runner *jobs.Runner
		doctor *media.CachedDoctor
	)
	ffmpeg, err := media.NewFFmpeg(media.Config{
		FFmpegPath:  cfg.FFmpegPath(),
		FFprobePath: cfg.FFprobePath(),
		Logger:      logging.WithComponent(logger, "media"),
		DebugPaths:  cfg.LogLevel() == "debug",
	})
	if err != nil {
		logger.Warn("ffmpeg unavailable, jobs will stay pending", "error", err)
	} else {
		doctor = media.NewCachedDoctor(ffmpeg, logger)
		if caps, err := doctor.Refresh(ctx); err != nil {
			logger.Warn("initial media probe failed", "error", err)
		} else {
			logger.Info("media capabilities detected",
				"ffmpeg", caps.FFmpegVersion,
				"ffprobe", caps.FFprobeVersion,
				"libx264", caps.HasLibx264,
			)
		}

		pipeline, err := buildPipeline(ctx, cfg, repo, ffmpeg, logger)
		if err != nil {
			return err
		}
		runner = jobs.NewRunner(svc, repo, pipeline, doctor, cfg.PollInterval(), logging.WithComponent(logger, "runner"))
		go runner.Start(ctx)
	}

	var inbox watcher.Watcher
	if dir := cfg.InboxDir(); dir != "" {
		inbox, err = startInbox(ctx, dir, svc, logger)
		if err != nil {
			return fmt.Errorf("failed to watch inbox: %w", err)
		}
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		JobService:     svc,
		PlaybackServer: playback.NewServer(cfg.OutputDir(), logger),
		Repository:     repo,
		Runner:         runner,
		Doctor:         doctor,
		Logger:         logging.WithComponent(logger, "api"),
		StartTime:      startTime,
		Version:        Version,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
	}

	logger.Info("initiating graceful shutdown")
	cancel()

	if inbox != nil {
		if err := inbox.Stop(); err != nil {
			logger.Error("failed to stop inbox watcher", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// buildPipeline wires compression, analysis and extraction around ffmpeg.
func buildPipeline(ctx context.Context, cfg config.Config, repo jobs.Repository, ffmpeg *media.FFmpeg, logger *slog.Logger) (*highlight.Pipeline, error) {
	store, err := blob.NewStore(ctx, cfg.Storage())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize blob storage: %w", err)
	}
	logger.Info("blob storage ready", "provider", store.Provider())

	publisher, err := library.NewDirPublisher(cfg.LibraryDir(), logging.WithComponent(logger, "library"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize library: %w", err)
	}

	analyzer := analysis.NewClient(analysis.Options{
		URL:     cfg.AnalysisURL(),
		Timeout: cfg.AnalysisTimeout(),
		Store:   store,
		Logger:  logging.WithComponent(logger, "analysis"),
	})
	extractor := extract.NewExtractor(ffmpeg, extract.Options{
		OutputDir:   cfg.OutputDir(),
		Concurrency: cfg.ExtractConcurrency(),
		Publisher:   publisher,
		Logger:      logging.WithComponent(logger, "extract"),
	})
	compressor := compress.NewCompressor(ffmpeg, logging.WithComponent(logger, "compress"))

	return highlight.NewPipeline(compressor, analyzer, extractor, highlight.Options{
		TempDir:   cfg.TempDir(),
		Policy:    compress.DefaultPolicy(),
		Publisher: publisher,
		Observer:  jobs.NewRecorder(repo, logging.WithComponent(logger, "recorder")),
		Logger:    logging.WithComponent(logger, "pipeline"),
	}), nil
}

// startInbox submits a job for every video that settles in dir.
func startInbox(ctx context.Context, dir string, svc jobs.JobService, logger *slog.Logger) (watcher.Watcher, error) {
	w := watcher.NewFSWatcher(watcher.DefaultSettle, jobs.IsVideoFile, logging.WithComponent(logger, "inbox"))
	w.OnChange(func(path string, event watcher.EventType) {
		if event != watcher.EventCreate {
			return
		}
		job, err := svc.Submit(ctx, path, "")
		if err != nil {
			logger.Warn("inbox submit failed", "path", logging.SanitizePath(path), "error", err)
			return
		}
		logger.Info("inbox video queued", "job_id", job.ID, "job_key", job.Key)
	})
	if err := w.Watch(ctx, dir); err != nil {
		return nil, err
	}
	logger.Info("watching inbox", "dir", logging.SanitizePath(dir))
	return w, nil
}

func ensureAuthToken(repo jobs.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, api.AuthTokenKey)
	if err == nil && existing != "" {
		return existing, nil
	}

	token := uuid.NewString()
	if err := repo.SetConfig(ctx, api.AuthTokenKey, token); err != nil {
		return "", err
	}

	return token, nil
}
