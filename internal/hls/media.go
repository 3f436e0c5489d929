package hls

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"hlsvod/internal/domain"
	"hlsvod/internal/metrics"
)

// Sources this short are rejected; they are almost certainly probe noise
// or broken files.
const minUsableDuration = 0.5

// MediaConfig wires one media descriptor.
type MediaConfig struct {
	Logger       *slog.Logger
	Prober       Prober
	Runner       EncoderRunner
	RootPath     string
	CacheRoot    string
	BufferLength float64
}

// Media is one probed source file: its segmentation plan, the quality
// ladder it supports and the per-quality backends, built lazily. The
// output directory is named by the MD5 of the absolute source path so
// different files never collide in the cache.
type Media struct {
	cfg    MediaConfig
	logger *slog.Logger

	key         domain.MediaKey
	sourcePath  string
	outDir      string
	duration    float64
	width       int
	height      int
	breakpoints []float64
	presets     []domain.QualityPreset

	mu       sync.Mutex
	backends map[string]*Backend
}

// NewMedia probes the source and derives the segmentation plan. The LRU
// above it makes construction asynchronous.
func NewMedia(ctx context.Context, cfg MediaConfig, key domain.MediaKey) (*Media, error) {
	sourcePath := filepath.Join(cfg.RootPath, filepath.FromSlash(key.Path))
	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		return nil, err
	}

	m := &Media{
		cfg:        cfg,
		logger:     cfg.Logger.With(slog.String("component", "hls-media"), slog.String("media", key.String())),
		key:        key,
		sourcePath: abs,
		outDir:     filepath.Join(cfg.CacheRoot, hashPath(abs)),
		backends:   make(map[string]*Backend),
	}

	probeStart := time.Now()
	switch key.Type {
	case domain.MediaVideo:
		stats, err := cfg.Prober.ProbeVideo(ctx, abs)
		if err != nil {
			return nil, fmt.Errorf("probe %s: %w", key.Path, err)
		}
		if stats.Duration <= minUsableDuration {
			return nil, fmt.Errorf("%w: duration %.3fs", domain.ErrMediaUnusable, stats.Duration)
		}
		m.duration = stats.Duration
		m.width = stats.Width
		m.height = stats.Height
		m.breakpoints = Plan(stats.IFrames, stats.Duration)
		m.presets = domain.PresetsFor(domain.MediaVideo, stats.Resolution())
	case domain.MediaAudio:
		stats, err := cfg.Prober.ProbeAudio(ctx, abs)
		if err != nil {
			return nil, fmt.Errorf("probe %s: %w", key.Path, err)
		}
		if stats.Duration <= minUsableDuration {
			return nil, fmt.Errorf("%w: duration %.3fs", domain.ErrMediaUnusable, stats.Duration)
		}
		m.duration = stats.Duration
		m.breakpoints = Plan(nil, stats.Duration)
		m.presets = domain.PresetsFor(domain.MediaAudio, 0)
	default:
		return nil, fmt.Errorf("%w: media type %q", domain.ErrMediaUnusable, key.Type)
	}
	metrics.ProbeDuration.Observe(time.Since(probeStart).Seconds())

	if err := os.MkdirAll(m.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	m.logger.Info("media ready",
		slog.Float64("duration", m.duration),
		slog.Int("segments", len(m.breakpoints)-1),
		slog.Int("presets", len(m.presets)))
	return m, nil
}

func hashPath(abs string) string {
	sum := md5.Sum([]byte(abs))
	return hex.EncodeToString(sum[:])
}

func (m *Media) Key() domain.MediaKey { return m.key }

func (m *Media) Duration() float64 { return m.duration }

func (m *Media) Presets() []domain.QualityPreset { return m.presets }

// MasterManifest lists the variant ladder for video; for audio there is a
// single variant, so the master is that variant verbatim.
func (m *Media) MasterManifest() string {
	if m.key.Type == domain.MediaAudio {
		return VariantPlaylist(domain.AudioPreset.Name, m.breakpoints)
	}
	return MasterPlaylist(m.presets, m.width, m.height)
}

// VariantManifest emits the media playlist for one preset by name.
func (m *Media) VariantManifest(quality string) (string, error) {
	preset, ok := domain.FindPreset(m.presets, quality)
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownQuality, quality)
	}
	return VariantPlaylist(preset.Name, m.breakpoints), nil
}

// Backend returns the quality backend for the preset, building it on
// first use.
func (m *Media) Backend(quality string) (*Backend, error) {
	preset, ok := domain.FindPreset(m.presets, quality)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownQuality, quality)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.backends[preset.Name]; ok {
		return b, nil
	}
	b := NewBackend(BackendConfig{
		Logger:       m.cfg.Logger,
		Runner:       m.cfg.Runner,
		SourcePath:   m.sourcePath,
		OutDir:       m.outDir,
		Type:         m.key.Type,
		Preset:       preset,
		Breakpoints:  m.breakpoints,
		BufferLength: m.cfg.BufferLength,
	})
	m.backends[preset.Name] = b
	return b, nil
}

// Backends snapshots the constructed backends.
func (m *Media) Backends() map[string]*Backend {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*Backend, len(m.backends))
	for name, b := range m.backends {
		out[name] = b
	}
	return out
}

// Destruct tears down every backend, waits for their encoders to exit and
// removes the output directory.
func (m *Media) Destruct() {
	m.mu.Lock()
	backends := make([]*Backend, 0, len(m.backends))
	for _, b := range m.backends {
		backends = append(backends, b)
	}
	m.backends = make(map[string]*Backend)
	m.mu.Unlock()

	for _, b := range backends {
		b.Destroy()
	}
	if err := os.RemoveAll(m.outDir); err != nil {
		m.logger.Warn("output dir cleanup failed", slog.Any("error", err))
	}
	m.logger.Info("media evicted")
}
