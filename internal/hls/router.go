package hls

import (
	"context"
	"log/slog"
	"sync"

	"hlsvod/internal/domain"
	"hlsvod/internal/metrics"
	"hlsvod/internal/syncutil"
)

// mediaLRUCap bounds the number of resident media descriptors. It must
// stay above the client capacity so a tracked client's media cannot be
// evicted out from under it.
const mediaLRUCap = 20

const defaultMaxClients = 5

// RouterConfig wires the client router.
type RouterConfig struct {
	Logger       *slog.Logger
	Prober       Prober
	Runner       EncoderRunner
	RootPath     string
	CacheRoot    string
	BufferLength float64
	MaxClients   int
}

type clientEntry struct {
	key     domain.MediaKey
	quality string
	backend *Backend
}

// Router resolves (client, media, quality) to a quality backend. Media
// descriptors live in a bounded LRU; clients hold at most one backend
// association each, and the oldest client is evicted when the tracker is
// full.
type Router struct {
	logger     *slog.Logger
	media      *syncutil.AsyncLRU[domain.MediaKey, *Media]
	maxClients int

	mu      sync.Mutex
	clients map[string]*clientEntry
	order   []string // insertion order, oldest first
}

func NewRouter(cfg RouterConfig) *Router {
	maxClients := cfg.MaxClients
	if maxClients <= 0 {
		maxClients = defaultMaxClients
	}
	logger := cfg.Logger.With(slog.String("component", "hls-router"))

	mediaCfg := MediaConfig{
		Logger:       cfg.Logger,
		Prober:       cfg.Prober,
		Runner:       cfg.Runner,
		RootPath:     cfg.RootPath,
		CacheRoot:    cfg.CacheRoot,
		BufferLength: cfg.BufferLength,
	}
	r := &Router{
		logger:     logger,
		maxClients: maxClients,
		clients:    make(map[string]*clientEntry),
	}
	r.media = syncutil.NewAsyncLRU(mediaLRUCap,
		func(key domain.MediaKey) (*Media, error) {
			return NewMedia(context.Background(), mediaCfg, key)
		},
		func(key domain.MediaKey, m *Media) {
			m.Destruct()
			metrics.ActiveMedia.Set(float64(r.media.Len()))
		},
	)
	return r
}

// GetMedia resolves a media descriptor without touching client state,
// used for master manifests and the probe endpoint.
func (r *Router) GetMedia(ctx context.Context, key domain.MediaKey) (*Media, error) {
	m, err := r.media.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	metrics.ActiveMedia.Set(float64(r.media.Len()))
	return m, nil
}

// GetBackend routes a client to the backend for (key, quality). Switching
// file or quality detaches the client from its previous backend; a new
// client evicts the oldest one when the tracker is full.
func (r *Router) GetBackend(ctx context.Context, clientID string, key domain.MediaKey, quality string) (*Backend, error) {
	r.mu.Lock()
	if entry, ok := r.clients[clientID]; ok {
		if entry.key != key || entry.quality != quality {
			entry.backend.RemoveClient(clientID)
			r.dropLocked(clientID)
			r.logger.Info("client switched target", slog.String("client", clientID))
		}
	} else if len(r.clients) >= r.maxClients {
		oldest := r.order[0]
		r.clients[oldest].backend.RemoveClient(oldest)
		r.dropLocked(oldest)
		r.logger.Info("client evicted", slog.String("client", oldest))
	}
	r.mu.Unlock()

	// Even a repeat of the current target resolves through the media LRU
	// and re-enters the tracker below at the recent end. An actively
	// streaming client must neither let its media age out of the cache
	// nor sit at the head of the eviction order itself.
	m, err := r.media.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	backend, err := m.Backend(quality)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	// A concurrent request may have inserted this client meanwhile;
	// last writer wins, mirroring the single-association rule.
	if _, ok := r.clients[clientID]; ok {
		r.dropLocked(clientID)
	}
	r.clients[clientID] = &clientEntry{key: key, quality: quality, backend: backend}
	r.order = append(r.order, clientID)
	metrics.ActiveClients.Set(float64(len(r.clients)))
	metrics.ActiveMedia.Set(float64(r.media.Len()))
	r.mu.Unlock()

	return backend, nil
}

// RemoveClient deregisters the client from its backend and the tracker.
func (r *Router) RemoveClient(clientID string) {
	r.mu.Lock()
	entry, ok := r.clients[clientID]
	if ok {
		r.dropLocked(clientID)
		metrics.ActiveClients.Set(float64(len(r.clients)))
	}
	r.mu.Unlock()
	if ok {
		entry.backend.RemoveClient(clientID)
		r.logger.Info("client deregistered", slog.String("client", clientID))
	}
}

// ClientStatus is one tracked client in a status snapshot.
type ClientStatus struct {
	ClientID string `json:"clientId"`
	Media    string `json:"media"`
	Quality  string `json:"quality"`
}

// Status snapshots the tracker for the status feed.
func (r *Router) Status() []ClientStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ClientStatus, 0, len(r.order))
	for _, id := range r.order {
		entry := r.clients[id]
		out = append(out, ClientStatus{
			ClientID: id,
			Media:    entry.key.String(),
			Quality:  entry.quality,
		})
	}
	return out
}

// MediaCount reports resident media descriptors.
func (r *Router) MediaCount() int { return r.media.Len() }

// Shutdown evicts every media descriptor and waits for their teardown.
func (r *Router) Shutdown() {
	keys := r.media.Keys()
	chans := make([]<-chan struct{}, 0, len(keys))
	for _, key := range keys {
		chans = append(chans, r.media.Delete(key))
	}
	for _, ch := range chans {
		<-ch
	}
}

func (r *Router) dropLocked(clientID string) {
	delete(r.clients, clientID)
	for i, id := range r.order {
		if id == clientID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
