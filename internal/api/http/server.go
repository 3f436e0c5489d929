package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"hlsvod/internal/domain"
	"hlsvod/internal/hls"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// MediaProbe answers the initialization probe on /media.
type MediaProbe interface {
	ProbeFormat(ctx context.Context, path string) (domain.MediaInfo, error)
}

// Thumbnailer produces a single JPEG frame from a source file.
type Thumbnailer interface {
	Thumbnail(ctx context.Context, path string, at float64, width int) ([]byte, error)
}

// WatchHistoryStore persists resume positions keyed by media path.
type WatchHistoryStore interface {
	Upsert(ctx context.Context, wp domain.WatchPosition) error
	Get(ctx context.Context, path string) (domain.WatchPosition, error)
	ListRecent(ctx context.Context, limit int) ([]domain.WatchPosition, error)
}

type Server struct {
	router         *hls.Router
	rootPath       string
	mediaProbe     MediaProbe
	thumbnailer    Thumbnailer
	watchHistory   WatchHistoryStore
	bufferLength   float64
	noShortCircuit bool
	allowedOrigins []string
	startedAt      time.Time
	logger         *slog.Logger
	handler        http.Handler
	feed           *statusFeed
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithMediaProbe(probe MediaProbe) ServerOption {
	return func(s *Server) {
		s.mediaProbe = probe
	}
}

func WithThumbnailer(t Thumbnailer) ServerOption {
	return func(s *Server) {
		s.thumbnailer = t
	}
}

func WithWatchHistory(store WatchHistoryStore) ServerOption {
	return func(s *Server) {
		s.watchHistory = store
	}
}

// WithBufferLength sets the per-client buffered lookahead, in seconds,
// reported by the /media probe.
func WithBufferLength(seconds float64) ServerOption {
	return func(s *Server) {
		s.bufferLength = seconds
	}
}

// WithNoShortCircuit disables the native-playback hint on /media, forcing
// clients through the transcoding pipeline.
func WithNoShortCircuit(disabled bool) ServerOption {
	return func(s *Server) {
		s.noShortCircuit = disabled
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted (development mode).
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func NewServer(router *hls.Router, rootPath string, opts ...ServerOption) *Server {
	s := &Server{
		router:       router,
		rootPath:     rootPath,
		bufferLength: 30,
		startedAt:    time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	if abs, err := filepath.Abs(s.rootPath); err == nil {
		s.rootPath = abs
	}
	s.rootPath = filepath.Clean(s.rootPath)

	s.feed = newStatusFeed(s.logger)
	go s.feed.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/media/", s.handleMediaProbe)
	mux.HandleFunc("/browse/", s.handleBrowse)
	mux.HandleFunc("/raw/", s.handleRaw)
	mux.HandleFunc("/thumbnail/", s.handleThumbnail)
	mux.HandleFunc("/watch-history", s.handleWatchHistory)
	mux.HandleFunc("/internal/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/", s.handleStream)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "hls-vod",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/internal/health"
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(100, 200, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	s.feed.Attach(conn)
}

// sessionsSnapshot is the periodic /ws status payload.
type sessionsSnapshot struct {
	Clients []hls.ClientStatus `json:"clients"`
	Media   int                `json:"media"`
}

// BroadcastSessions pushes the current client/media snapshot to every
// connected WebSocket client.
func (s *Server) BroadcastSessions() {
	if s.feed == nil {
		return
	}
	s.feed.PublishSessions(sessionsSnapshot{
		Clients: s.router.Status(),
		Media:   s.router.MediaCount(),
	})
}

type healthSnapshot struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	Clients       int     `json:"clients"`
	Media         int     `json:"media"`
}

func (s *Server) buildHealth() healthSnapshot {
	return healthSnapshot{
		Status:        "ok",
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		Clients:       len(s.router.Status()),
		Media:         s.router.MediaCount(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.buildHealth())
}

// BroadcastHealth pushes the health snapshot to all WebSocket clients.
func (s *Server) BroadcastHealth() {
	if s.feed == nil {
		return
	}
	s.feed.PublishHealth(s.buildHealth())
}

// Close shuts down the status feed, disconnecting all subscribers. The
// engine itself is torn down by the router's Shutdown.
func (s *Server) Close() {
	if s.feed != nil {
		s.feed.Close()
	}
}

// trimRoutePrefix strips a handler mount point like "/media/" and decodes
// the remainder into a slash-separated relative path.
func trimRoutePrefix(path, prefix string) (string, bool) {
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	rel := strings.TrimPrefix(path, prefix)
	rel = strings.TrimPrefix(rel, "/")
	return rel, true
}
