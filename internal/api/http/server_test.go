package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"hlsvod/internal/domain"
	"hlsvod/internal/hls"
)

type stubProber struct {
	video domain.VideoStats
	audio domain.AudioStats
	err   error
}

func (p *stubProber) ProbeVideo(context.Context, string) (domain.VideoStats, error) {
	return p.video, p.err
}

func (p *stubProber) ProbeAudio(context.Context, string) (domain.AudioStats, error) {
	return p.audio, p.err
}

type stubProcess struct {
	lines chan string
	done  chan struct{}

	mu     sync.Mutex
	killed bool
	exited bool
}

func (p *stubProcess) Lines() <-chan string  { return p.lines }
func (p *stubProcess) Done() <-chan struct{} { return p.done }
func (p *stubProcess) ExitCode() int         { return -1 }

func (p *stubProcess) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *stubProcess) Kill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	if !p.exited {
		p.exited = true
		close(p.lines)
		close(p.done)
	}
}

// autoRunner plays a cooperative encoder: it writes the first segment of
// each run to disk and reports it on stdout immediately.
type autoRunner struct{}

func (autoRunner) Start(_ context.Context, args []string, dir string) (hls.EncoderProcess, error) {
	start := 0
	for i, arg := range args {
		if arg == "-segment_start_number" && i+1 < len(args) {
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				return nil, err
			}
			start = n
		}
	}
	pattern := args[len(args)-1]
	name := fmt.Sprintf(pattern, start)
	if err := os.WriteFile(filepath.Join(dir, name), []byte("ts"), 0o644); err != nil {
		return nil, err
	}
	p := &stubProcess{lines: make(chan string, 8), done: make(chan struct{})}
	p.lines <- name
	return p, nil
}

type memHistory struct {
	mu    sync.Mutex
	items map[string]domain.WatchPosition
}

func newMemHistory() *memHistory {
	return &memHistory{items: make(map[string]domain.WatchPosition)}
}

func (m *memHistory) Upsert(_ context.Context, wp domain.WatchPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[wp.Path] = wp
	return nil
}

func (m *memHistory) Get(_ context.Context, path string) (domain.WatchPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wp, ok := m.items[path]
	if !ok {
		return domain.WatchPosition{}, domain.ErrNotFound
	}
	return wp, nil
}

func (m *memHistory) ListRecent(_ context.Context, limit int) ([]domain.WatchPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.WatchPosition, 0, len(m.items))
	for _, wp := range m.items {
		out = append(out, wp)
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

type stubFormatProbe struct {
	info domain.MediaInfo
	err  error
}

func (p *stubFormatProbe) ProbeFormat(context.Context, string) (domain.MediaInfo, error) {
	return p.info, p.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type serverFixture struct {
	server *Server
	router *hls.Router
	root   string
}

func newFixture(t *testing.T, opts ...ServerOption) *serverFixture {
	t.Helper()
	root := t.TempDir()
	router := hls.NewRouter(hls.RouterConfig{
		Logger: discardLogger(),
		Prober: &stubProber{
			video: domain.VideoStats{Duration: 31, Width: 1920, Height: 1080, IFrames: []float64{3, 6, 20}},
			audio: domain.AudioStats{Duration: 60},
		},
		Runner:       autoRunner{},
		RootPath:     root,
		CacheRoot:    t.TempDir(),
		BufferLength: 30,
		MaxClients:   5,
	})
	t.Cleanup(router.Shutdown)

	opts = append([]ServerOption{WithLogger(discardLogger())}, opts...)
	srv := NewServer(router, root, opts...)
	t.Cleanup(srv.Close)
	return &serverFixture{server: srv, router: router, root: root}
}

func (f *serverFixture) do(method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func TestMasterManifest(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/video.alice/movie.mkv/master.m3u8", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("Content-Type"); got != playlistContentType {
		t.Errorf("content type = %q", got)
	}
	body := rec.Body.String()
	for _, want := range []string{"#EXTM3U", "quality-1080p.m3u8", "quality-360p.m3u8"} {
		if !strings.Contains(body, want) {
			t.Errorf("master missing %q: %s", want, body)
		}
	}
}

func TestVariantManifestRoutesClient(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/video.alice/movie.mkv/quality-720p.m3u8", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), "720p.1.ts") {
		t.Errorf("variant missing first segment: %s", rec.Body)
	}

	status := f.router.Status()
	if len(status) != 1 || status[0].ClientID != "alice" || status[0].Quality != "720p" {
		t.Errorf("router status = %+v", status)
	}
}

func TestSegmentServed(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/video.alice/movie.mkv/720p.1.ts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if rec.Body.String() != "ts" {
		t.Errorf("segment body = %q", rec.Body)
	}
}

func TestSegmentAfterDeregister(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(http.MethodGet, "/video.alice/movie.mkv/720p.1.ts", nil); rec.Code != http.StatusOK {
		t.Fatalf("warm-up status = %d", rec.Code)
	}

	rec := f.do(http.MethodDelete, "/hls.alice/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	// The backend keeps the deleted marker for a grace period; the same
	// client id now gets a conflict.
	rec = f.do(http.MethodGet, "/video.alice/movie.mkv/720p.2.ts", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409, body %s", rec.Code, rec.Body)
	}
}

func TestSegmentUnknownQuality(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/video.alice/movie.mkv/4k.1.ts", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestSegmentBadIndex(t *testing.T) {
	f := newFixture(t)
	for _, ref := range []string{"zz", "0"} {
		rec := f.do(http.MethodGet, "/video.alice/movie.mkv/720p."+ref+".ts", nil)
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("ref %q: status = %d, want 500", ref, rec.Code)
		}
	}
}

func TestStreamUnknownRoutes(t *testing.T) {
	f := newFixture(t)
	for _, target := range []string{"/", "/noprefix", "/bogus.alice/movie.mkv/master.m3u8"} {
		rec := f.do(http.MethodGet, target, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", target, rec.Code)
		}
	}
}

func TestDeleteClientWrongMethod(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/hls.alice/", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestMediaProbe(t *testing.T) {
	probe := &stubFormatProbe{info: domain.MediaInfo{
		FormatName: "mov,mp4,m4a,3gp,3g2,mj2",
		Duration:   31,
		Tracks: []domain.MediaTrack{
			{Index: 0, Type: "video", Codec: "h264"},
			{Index: 1, Type: "audio", Codec: "aac"},
		},
	}}
	f := newFixture(t, WithMediaProbe(probe), WithBufferLength(25))

	rec := f.do(http.MethodGet, "/media/movie.mp4", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp mediaProbeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Type != "video" || !resp.MaybeNativelySupported || resp.BufferLength != 25 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestMediaProbeNoShortCircuit(t *testing.T) {
	probe := &stubFormatProbe{info: domain.MediaInfo{
		FormatName: "mov,mp4,m4a,3gp,3g2,mj2",
		Tracks:     []domain.MediaTrack{{Type: "video", Codec: "h264"}},
	}}
	f := newFixture(t, WithMediaProbe(probe), WithNoShortCircuit(true))

	rec := f.do(http.MethodGet, "/media/movie.mp4", nil)
	var resp mediaProbeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.MaybeNativelySupported {
		t.Error("hint must be suppressed with no-short-circuit")
	}
}

func TestMediaProbeError(t *testing.T) {
	probe := &stubFormatProbe{err: errors.New("moov atom not found")}
	f := newFixture(t, WithMediaProbe(probe))

	rec := f.do(http.MethodGet, "/media/broken.mp4", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp["error"], "moov atom") {
		t.Errorf("error payload = %v", resp)
	}
}

func TestBrowse(t *testing.T) {
	f := newFixture(t)
	if err := os.Mkdir(filepath.Join(f.root, "shows"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(f.root, "movie.mkv"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := f.do(http.MethodGet, "/browse/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp browseResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Dirs) != 1 || resp.Dirs[0] != "shows" {
		t.Errorf("dirs = %v", resp.Dirs)
	}
	if len(resp.Files) != 1 || resp.Files[0].Name != "movie.mkv" || resp.Files[0].Type != "video" {
		t.Errorf("files = %+v", resp.Files)
	}
}

func TestBrowseMissingDir(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/browse/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRaw(t *testing.T) {
	f := newFixture(t)
	if err := os.WriteFile(filepath.Join(f.root, "clip.mp4"), []byte("bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := f.do(http.MethodGet, "/raw/clip.mp4", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "bytes" {
		t.Errorf("body = %q", rec.Body)
	}
	if got := rec.Header().Get("Content-Type"); got != "video/mp4" {
		t.Errorf("content type = %q", got)
	}
}

func TestWatchHistoryDisabled(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/watch-history", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestWatchHistoryRoundTrip(t *testing.T) {
	store := newMemHistory()
	f := newFixture(t, WithWatchHistory(store))

	body := strings.NewReader(`{"path":"movie.mkv","name":"Movie","position":120.5,"duration":5400}`)
	rec := f.do(http.MethodPut, "/watch-history", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d, body %s", rec.Code, rec.Body)
	}

	rec = f.do(http.MethodGet, "/watch-history?path=movie.mkv", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var wp domain.WatchPosition
	if err := json.Unmarshal(rec.Body.Bytes(), &wp); err != nil {
		t.Fatal(err)
	}
	if wp.Position != 120.5 || wp.Name != "Movie" {
		t.Errorf("position = %+v", wp)
	}

	rec = f.do(http.MethodGet, "/watch-history", nil)
	var list []domain.WatchPosition
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("list = %+v", list)
	}
}

func TestWatchHistoryRejectsBadBody(t *testing.T) {
	f := newFixture(t, WithWatchHistory(newMemHistory()))
	rec := f.do(http.MethodPut, "/watch-history", strings.NewReader(`{"position":1}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/internal/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap healthSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Status != "ok" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestResolveMediaPath(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		rel     string
		wantErr bool
	}{
		{"movie.mkv", false},
		{"shows/ep1.mkv", false},
		{"", false},
		{"../outside", true},
		{"shows/../../outside", true},
	}
	for _, tt := range tests {
		_, err := resolveMediaPath(root, tt.rel)
		if (err != nil) != tt.wantErr {
			t.Errorf("resolveMediaPath(%q): err = %v, wantErr %v", tt.rel, err, tt.wantErr)
		}
	}
}
