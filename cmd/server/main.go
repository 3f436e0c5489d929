package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	apihttp "hlsvod/internal/api/http"
	"hlsvod/internal/app"
	"hlsvod/internal/ffmpeg"
	"hlsvod/internal/hls"
	"hlsvod/internal/metrics"
	mongorepo "hlsvod/internal/repository/mongo"
	"hlsvod/internal/telemetry"

	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

// encoderRunner narrows the concrete ffmpeg runner to the interface the
// engine consumes.
type encoderRunner struct {
	runner *ffmpeg.Runner
}

func (r encoderRunner) Start(ctx context.Context, args []string, dir string) (hls.EncoderProcess, error) {
	return r.runner.Start(ctx, args, dir)
}

func main() {
	cfg := app.LoadConfig()
	cfg.BindFlags(pflag.CommandLine)
	pflag.Parse()
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		pflag.Usage()
		os.Exit(2)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "hls-vod")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "hls-vod"),
		slog.String("rootPath", cfg.RootPath),
		slog.Int("port", cfg.Port),
		slog.String("cachePath", cfg.CachePath),
		slog.Float64("bufferLength", cfg.BufferLength),
		slog.Int("maxClientNumber", cfg.MaxClientNumber),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.CachePath, 0o755); err != nil {
		logger.Error("cache dir create failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	serverOpts := []apihttp.ServerOption{
		apihttp.WithLogger(logger),
		apihttp.WithMediaProbe(ffmpeg.NewProber(cfg.FFmpegBinaryDir)),
		apihttp.WithThumbnailer(ffmpeg.NewThumbnailer(cfg.FFmpegBinaryDir)),
		apihttp.WithBufferLength(cfg.BufferLength),
		apihttp.WithNoShortCircuit(cfg.NoShortCircuit),
		apihttp.WithAllowedOrigins(cfg.AllowedOrigins),
	}

	// Watch history is optional; without mongo the endpoints report
	// themselves disabled.
	var disconnectMongo func()
	if cfg.MongoURI != "" {
		ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
		mongoClient, err := mongorepo.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
		if err != nil {
			cancel()
			logger.Error("mongo connect failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
			cancel()
			logger.Error("mongo ping failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		watchHistoryRepo := mongorepo.NewWatchHistoryRepository(mongoClient, cfg.MongoDatabase)
		if err := watchHistoryRepo.EnsureIndexes(ctx); err != nil {
			logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
		}
		cancel()
		serverOpts = append(serverOpts, apihttp.WithWatchHistory(watchHistoryRepo))
		disconnectMongo = func() {
			if err := mongoClient.Disconnect(context.Background()); err != nil {
				logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
			}
		}
	}

	router := hls.NewRouter(hls.RouterConfig{
		Logger:       logger,
		Prober:       ffmpeg.NewProber(cfg.FFmpegBinaryDir),
		Runner:       encoderRunner{runner: ffmpeg.NewRunner(cfg.FFmpegBinaryDir)},
		RootPath:     cfg.RootPath,
		CacheRoot:    cfg.CachePath,
		BufferLength: cfg.BufferLength,
		MaxClients:   cfg.MaxClientNumber,
	})

	handler := apihttp.NewServer(router, cfg.RootPath, serverOpts...)

	go updateEngineMetrics(rootCtx, cfg.CachePath, handler)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", addr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	router.Shutdown()
	if err := os.RemoveAll(cfg.CachePath); err != nil {
		logger.Warn("cache cleanup error", slog.String("error", err.Error()))
	}
	if disconnectMongo != nil {
		disconnectMongo()
	}

	logger.Info("server stopped")
}

// updateEngineMetrics broadcasts status snapshots over the ws hub and
// keeps the cache-size gauge current.
func updateEngineMetrics(ctx context.Context, cachePath string, handler *apihttp.Server) {
	sessionTicker := time.NewTicker(5 * time.Second)
	cacheTicker := time.NewTicker(15 * time.Second)
	healthTicker := time.NewTicker(30 * time.Second)
	defer sessionTicker.Stop()
	defer cacheTicker.Stop()
	defer healthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sessionTicker.C:
			handler.BroadcastSessions()
		case <-cacheTicker.C:
			metrics.CacheSizeBytes.Set(float64(dirSize(cachePath)))
		case <-healthTicker.C:
			handler.BroadcastHealth()
		}
	}
}

func dirSize(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
