package apihttp

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"hlsvod/internal/domain"
	"hlsvod/internal/hls"
)

const playlistContentType = "application/vnd.apple.mpegurl"

// handleStream serves the per-client streaming namespace:
//
//	GET    /{type}.{client}/{file...}/master.m3u8
//	GET    /{type}.{client}/{file...}/quality-{quality}.m3u8
//	GET    /{type}.{client}/{file...}/{quality}.{segment-hex}.ts
//	DELETE /hls.{client}/
//
// {type} is video or audio and {client} a caller-chosen identifier.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/")
	head, rest, _ := strings.Cut(trimmed, "/")
	kind, clientID, ok := strings.Cut(head, ".")
	if !ok || clientID == "" {
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
		return
	}

	if kind == "hls" {
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		s.router.RemoveClient(clientID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
		return
	}

	mediaType, err := domain.ParseMediaType(kind)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	slash := strings.LastIndex(rest, "/")
	if slash < 0 {
		writeError(w, http.StatusNotFound, "not_found", "missing playlist or segment name")
		return
	}
	filePath, leaf := rest[:slash], rest[slash+1:]
	if _, err := resolveMediaPath(s.rootPath, filePath); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "path escapes media root")
		return
	}
	key := domain.MediaKey{Type: mediaType, Path: filePath}

	switch {
	case leaf == "master.m3u8":
		s.serveMasterManifest(w, r, key)
	case strings.HasPrefix(leaf, "quality-") && strings.HasSuffix(leaf, ".m3u8"):
		quality := strings.TrimSuffix(strings.TrimPrefix(leaf, "quality-"), ".m3u8")
		s.serveVariantManifest(w, r, clientID, key, quality)
	case strings.HasSuffix(leaf, ".ts"):
		quality, ref, ok := strings.Cut(strings.TrimSuffix(leaf, ".ts"), ".")
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", "malformed segment name")
			return
		}
		s.serveSegment(w, r, clientID, key, quality, ref)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
	}
}

func (s *Server) serveMasterManifest(w http.ResponseWriter, r *http.Request, key domain.MediaKey) {
	m, err := s.router.GetMedia(r.Context(), key)
	if err != nil {
		writeStreamError(w, err)
		return
	}
	w.Header().Set("Content-Type", playlistContentType)
	_, _ = io.WriteString(w, m.MasterManifest())
}

// serveVariantManifest also routes the client onto the quality backend so
// encoding starts before the first segment request arrives.
func (s *Server) serveVariantManifest(w http.ResponseWriter, r *http.Request, clientID string, key domain.MediaKey, quality string) {
	m, err := s.router.GetMedia(r.Context(), key)
	if err != nil {
		writeStreamError(w, err)
		return
	}
	if _, err := s.router.GetBackend(r.Context(), clientID, key, quality); err != nil {
		writeStreamError(w, err)
		return
	}
	manifest, err := m.VariantManifest(quality)
	if err != nil {
		writeStreamError(w, err)
		return
	}
	w.Header().Set("Content-Type", playlistContentType)
	_, _ = io.WriteString(w, manifest)
}

func (s *Server) serveSegment(w http.ResponseWriter, r *http.Request, clientID string, key domain.MediaKey, quality, ref string) {
	index, err := hls.ParseSegmentRef(ref)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	backend, err := s.router.GetBackend(r.Context(), clientID, key, quality)
	if err != nil {
		writeStreamError(w, err)
		return
	}
	path, err := backend.GetSegment(r.Context(), clientID, index)
	if err != nil {
		writeStreamError(w, err)
		return
	}
	w.Header().Set("Content-Type", "video/mp2t")
	http.ServeFile(w, r, path)
}

// writeStreamError maps engine errors onto the streaming status codes:
// a deregistered client gets 409, everything else in the engine's error
// taxonomy is an internal failure.
func writeStreamError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrClientGone):
		writeError(w, http.StatusConflict, "client_gone", "client has been deregistered")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "media not found")
	case errors.Is(err, domain.ErrUnknownQuality), errors.Is(err, domain.ErrSegmentOutOfRange):
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	case errors.Is(err, hls.ErrEvicted):
		writeError(w, http.StatusInternalServerError, "encoder_evicted", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
