package apihttp

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"hlsvod/internal/domain"
)

type mediaProbeResponse struct {
	Type                   string  `json:"type"`
	MaybeNativelySupported bool    `json:"maybeNativelySupported"`
	BufferLength           float64 `json:"bufferLength"`
}

// handleMediaProbe answers GET /media/:file with the media type, the
// native-playback hint and the configured buffer length. Probe failures
// surface as an {error} document so the player can show them.
func (s *Server) handleMediaProbe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if s.mediaProbe == nil {
		writeError(w, http.StatusServiceUnavailable, "probe_disabled", "media probing not configured")
		return
	}
	rel, _ := trimRoutePrefix(r.URL.Path, "/media/")
	path, err := resolveMediaPath(s.rootPath, rel)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "path escapes media root")
		return
	}

	info, err := s.mediaProbe.ProbeFormat(r.Context(), path)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	var mediaType domain.MediaType
	switch {
	case info.HasVideo():
		mediaType = domain.MediaVideo
	case info.HasAudio():
		mediaType = domain.MediaAudio
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "no playable streams"})
		return
	}

	writeJSON(w, http.StatusOK, mediaProbeResponse{
		Type:                   string(mediaType),
		MaybeNativelySupported: !s.noShortCircuit && maybeNativelySupported(info),
		BufferLength:           s.bufferLength,
	})
}

// maybeNativelySupported guesses whether a browser could play the file
// without transcoding. The engine still transcodes whenever a quality is
// requested; this only spares a probe-capable player the HLS round trip.
func maybeNativelySupported(info domain.MediaInfo) bool {
	format := strings.ToLower(info.FormatName)
	if !strings.Contains(format, "mp4") && !strings.Contains(format, "webm") && !strings.Contains(format, "matroska") {
		return false
	}
	for _, track := range info.Tracks {
		switch track.Type {
		case "video":
			switch track.Codec {
			case "h264", "vp8", "vp9", "av1":
			default:
				return false
			}
		case "audio":
			switch track.Codec {
			case "aac", "mp3", "opus", "vorbis", "flac":
			default:
				return false
			}
		}
	}
	return true
}

type browseEntry struct {
	Name  string    `json:"name"`
	Size  int64     `json:"size"`
	MTime time.Time `json:"mtime"`
	Type  string    `json:"type"`
}

type browseResponse struct {
	Dirs  []string      `json:"dirs"`
	Files []browseEntry `json:"files"`
}

var videoExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".webm": true, ".avi": true,
	".mov": true, ".m4v": true, ".ts": true, ".wmv": true,
}

var audioExtensions = map[string]bool{
	".mp3": true, ".flac": true, ".ogg": true, ".m4a": true,
	".wav": true, ".opus": true, ".aac": true,
}

func classifyEntry(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case videoExtensions[ext]:
		return "video"
	case audioExtensions[ext]:
		return "audio"
	default:
		return "other"
	}
}

// handleBrowse lists one directory level under the media root.
func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	rel, _ := trimRoutePrefix(r.URL.Path, "/browse/")
	path, err := resolveMediaPath(s.rootPath, rel)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "path escapes media root")
		return
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "not_found", "directory not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	resp := browseResponse{Dirs: []string{}, Files: []browseEntry{}}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if entry.IsDir() {
			resp.Dirs = append(resp.Dirs, entry.Name())
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		resp.Files = append(resp.Files, browseEntry{
			Name:  entry.Name(),
			Size:  info.Size(),
			MTime: info.ModTime(),
			Type:  classifyEntry(entry.Name()),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRaw serves a source file as-is; range requests come with
// http.ServeContent.
func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	rel, _ := trimRoutePrefix(r.URL.Path, "/raw/")
	path, err := resolveMediaPath(s.rootPath, rel)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "path escapes media root")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "not_found", "file not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "not_found", "file not found")
		return
	}
	w.Header().Set("Content-Type", fallbackContentType(strings.ToLower(filepath.Ext(path))))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// handleThumbnail renders a single JPEG frame at ?time= seconds.
func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if s.thumbnailer == nil {
		writeError(w, http.StatusServiceUnavailable, "thumbnails_disabled", "thumbnailer not configured")
		return
	}
	rel, _ := trimRoutePrefix(r.URL.Path, "/thumbnail/")
	path, err := resolveMediaPath(s.rootPath, rel)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "path escapes media root")
		return
	}

	at := 0.0
	if v := strings.TrimSpace(r.URL.Query().Get("time")); v != "" {
		at, err = strconv.ParseFloat(v, 64)
		if err != nil || at < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid time")
			return
		}
	}
	width := 320
	if v := strings.TrimSpace(r.URL.Query().Get("width")); v != "" {
		width, err = strconv.Atoi(v)
		if err != nil || width <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid width")
			return
		}
	}

	data, err := s.thumbnailer.Thumbnail(r.Context(), path, at, width)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(data)
}
