package hls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"hlsvod/internal/domain"
	"hlsvod/internal/ffmpeg"
	"hlsvod/internal/metrics"
	"hlsvod/internal/syncutil"
)

// Byte encoding of per-segment state. Values 2..253 mean "being produced
// by the encoder with that id"; 1 and 254 are reserved headroom.
const (
	statusEmpty byte = 0
	statusDone  byte = 255

	minEncoderID byte = 2
	maxEncoderID byte = 253
	encoderIDs   int  = int(maxEncoderID-minEncoderID) + 1
)

// One encoder run covers at most this many segments ahead of its start.
const maxEncodeRun = 512

// Grace before a deregistered client record is dropped, long enough for
// any in-flight request observing the record to finish.
const removeClientGrace = time.Second

// ErrEvicted fails pending segment waits when the backend is destroyed.
var ErrEvicted = errors.New("Encoder being evicted")

var segmentLineRe = regexp.MustCompile(`-(\d+)\.ts$`)

// Prober extracts stream facts from a media file on disk.
type Prober interface {
	ProbeVideo(ctx context.Context, path string) (domain.VideoStats, error)
	ProbeAudio(ctx context.Context, path string) (domain.AudioStats, error)
}

// EncoderProcess is one running ffmpeg encoder.
type EncoderProcess interface {
	Lines() <-chan string
	Done() <-chan struct{}
	ExitCode() int
	Killed() bool
	Kill()
}

// EncoderRunner starts encoder processes in a working directory.
type EncoderRunner interface {
	Start(ctx context.Context, args []string, dir string) (EncoderProcess, error)
}

type encoderHead struct {
	proc EncoderProcess
	id   byte
	head int
	end  int
}

type backendClient struct {
	head    int
	deleted bool
	encoder EncoderProcess
}

type segmentResult struct {
	path string
	err  error
}

// BackendConfig wires one quality backend.
type BackendConfig struct {
	Logger       *slog.Logger
	Runner       EncoderRunner
	SourcePath   string
	OutDir       string
	Type         domain.MediaType
	Preset       domain.QualityPreset
	Breakpoints  []float64
	BufferLength float64 // seconds a client should have buffered ahead
}

// Backend is the per-quality state machine: it tracks which segments
// exist on disk, which encoder is producing which range, and where each
// client's playhead is, steering encoders so every active client stays
// buffered without encoding the whole file up front.
type Backend struct {
	logger       *slog.Logger
	runner       EncoderRunner
	sourcePath   string
	outDir       string
	mediaType    domain.MediaType
	preset       domain.QualityPreset
	breakpoints  []float64
	minBuffer    float64
	maxBuffer    float64

	mu        sync.Mutex
	status    []byte
	heads     map[EncoderProcess]*encoderHead
	clients   map[string]*backendClient
	waiters   map[int][]chan segmentResult
	lastID    byte
	destroyed bool

	recalc func() <-chan struct{}
}

func NewBackend(cfg BackendConfig) *Backend {
	minBuffer := cfg.BufferLength
	if minBuffer <= 0 {
		minBuffer = 30
	}
	b := &Backend{
		logger:      cfg.Logger.With(slog.String("component", "hls-backend"), slog.String("preset", cfg.Preset.Name)),
		runner:      cfg.Runner,
		sourcePath:  cfg.SourcePath,
		outDir:      cfg.OutDir,
		mediaType:   cfg.Type,
		preset:      cfg.Preset,
		breakpoints: cfg.Breakpoints,
		minBuffer:   minBuffer,
		maxBuffer:   minBuffer * 2,
		status:      make([]byte, len(cfg.Breakpoints)-1),
		heads:       make(map[EncoderProcess]*encoderHead),
		clients:     make(map[string]*backendClient),
		waiters:     make(map[int][]chan segmentResult),
		lastID:      maxEncoderID,
	}
	b.recalc = syncutil.Debounce(b.recalculate)
	return b
}

// SegmentCount is the number of segments in the plan.
func (b *Backend) SegmentCount() int { return len(b.status) }

// OutDir is the directory encoder output lands in.
func (b *Backend) OutDir() string { return b.outDir }

// GetSegment records the client playhead at segment i (0-based), kicks a
// recalculation and resolves to the on-disk segment path once the segment
// exists. A deregistered client gets domain.ErrClientGone.
func (b *Backend) GetSegment(ctx context.Context, clientID string, i int) (string, error) {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return "", ErrEvicted
	}
	cl, ok := b.clients[clientID]
	if !ok {
		cl = &backendClient{head: -1}
		b.clients[clientID] = cl
	}
	if cl.deleted {
		b.mu.Unlock()
		return "", domain.ErrClientGone
	}
	if i < 0 || i >= len(b.status) {
		b.mu.Unlock()
		return "", fmt.Errorf("%w: %d of %d", domain.ErrSegmentOutOfRange, i, len(b.status))
	}
	cl.head = i

	if b.status[i] == statusDone {
		b.mu.Unlock()
		b.recalc()
		return filepath.Join(b.outDir, SegmentFileName(b.preset.Name, i)), nil
	}

	ch := make(chan segmentResult, 1)
	b.waiters[i] = append(b.waiters[i], ch)
	b.mu.Unlock()
	b.recalc()

	start := time.Now()
	select {
	case res := <-ch:
		metrics.SegmentWaitSeconds.Observe(time.Since(start).Seconds())
		return res.path, res.err
	case <-ctx.Done():
		b.mu.Lock()
		b.dropWaiterLocked(i, ch)
		b.mu.Unlock()
		return "", ctx.Err()
	}
}

// RemoveClient marks the client deleted and drops the record after a
// grace period. Calling it for an unknown client leaves a pre-deleted
// stub so a racing first request observes the deletion.
func (b *Backend) RemoveClient(clientID string) {
	b.mu.Lock()
	cl, ok := b.clients[clientID]
	if !ok {
		cl = &backendClient{head: -1}
		b.clients[clientID] = cl
	}
	cl.deleted = true
	b.mu.Unlock()
	b.recalc()

	time.AfterFunc(removeClientGrace, func() {
		b.mu.Lock()
		if cur, ok := b.clients[clientID]; ok && cur == cl {
			delete(b.clients, clientID)
		}
		b.mu.Unlock()
	})
}

// ClientCount reports live (non-deleted) client records.
func (b *Backend) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, cl := range b.clients {
		if !cl.deleted {
			n++
		}
	}
	return n
}

// EncoderCount reports running encoder processes.
func (b *Backend) EncoderCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.heads)
}

// DoneSegments reports how many segments are finished on disk.
func (b *Backend) DoneSegments() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.status {
		if s == statusDone {
			n++
		}
	}
	return n
}

// Destroy fails every pending segment wait and kills every encoder,
// blocking until the processes have exited so the owner can safely remove
// the output directory afterwards.
func (b *Backend) Destroy() {
	b.mu.Lock()
	b.destroyed = true
	for i, chans := range b.waiters {
		for _, ch := range chans {
			ch <- segmentResult{err: ErrEvicted}
		}
		delete(b.waiters, i)
	}
	var procs []EncoderProcess
	for proc := range b.heads {
		procs = append(procs, proc)
	}
	b.mu.Unlock()

	for _, p := range procs {
		p.Kill()
	}
	for _, p := range procs {
		<-p.Done()
	}
}

// findNextAvailableIDLocked allocates an encoder id not present in the
// status array or on a live head. The scan rotates forward from the last
// assignment so a just-released id is not immediately reused while its
// byte may still linger in the status array.
func (b *Backend) findNextAvailableIDLocked() (byte, error) {
	used := make(map[byte]bool)
	for _, s := range b.status {
		if s >= minEncoderID && s <= maxEncoderID {
			used[s] = true
		}
	}
	for _, h := range b.heads {
		used[h.id] = true
	}
	for i := 0; i < encoderIDs; i++ {
		candidate := byte((int(b.lastID)+i)%encoderIDs) + minEncoderID
		if !used[candidate] {
			b.lastID = candidate
			return candidate, nil
		}
	}
	return 0, errors.New("no encoder id available")
}

// startTranscodeLocked spawns an encoder at segment s. The run extends to
// the earlier of s+maxEncodeRun, the end of the plan, or the first
// segment already claimed by another encoder.
func (b *Backend) startTranscodeLocked(s int) (*encoderHead, error) {
	if b.status[s] != statusEmpty {
		return nil, fmt.Errorf("segment %d is not empty", s)
	}
	end := len(b.status)
	if s+maxEncodeRun < end {
		end = s + maxEncodeRun
	}
	for i := s + 1; i < end; i++ {
		if b.status[i] != statusEmpty {
			end = i
			break
		}
	}

	id, err := b.findNextAvailableIDLocked()
	if err != nil {
		return nil, err
	}

	args := ffmpeg.BuildEncodeArgs(ffmpeg.EncodeParams{
		Input:       b.sourcePath,
		Breakpoints: b.breakpoints,
		Start:       s,
		End:         end,
		Preset:      b.preset,
		Type:        b.mediaType,
	})
	proc, err := b.runner.Start(context.Background(), args, b.outDir)
	if err != nil {
		metrics.EncoderFailures.Inc()
		return nil, fmt.Errorf("start encoder at segment %d: %w", s, err)
	}
	metrics.EncodersStarted.Inc()

	head := &encoderHead{proc: proc, id: id, head: s, end: end}
	b.status[s] = id
	b.heads[proc] = head
	b.logger.Info("encoder started",
		slog.Int("segment", s),
		slog.Int("end", end),
		slog.Int("id", int(id)))

	go b.consume(head)
	return head, nil
}

func (b *Backend) consume(head *encoderHead) {
	for line := range head.proc.Lines() {
		b.handleSegmentLine(head, line)
	}
	<-head.proc.Done()
	b.handleExit(head)
}

// handleSegmentLine processes one completed-segment filename from the
// encoder's segment list and decides whether the encoder keeps going.
func (b *Backend) handleSegmentLine(head *encoderHead, line string) {
	m := segmentLineRe.FindStringSubmatch(line)
	if m == nil {
		return
	}
	i, err := strconv.Atoi(m[1])
	if err != nil || i < 0 || i >= len(b.status) {
		b.logger.Warn("unparseable segment line", slog.String("line", line))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return
	}

	if i != head.head {
		// ffmpeg occasionally lands on a neighbouring index at
		// breakpoint edges; accept the emitted index but release the
		// expected one.
		if head.head < len(b.status) && b.status[head.head] == head.id {
			b.status[head.head] = statusEmpty
		}
		b.logger.Warn("segment index drift",
			slog.Int("expected", head.head),
			slog.Int("got", i))
	}

	b.status[i] = statusDone
	metrics.SegmentsEncoded.Inc()
	b.fireWaitersLocked(i, segmentResult{
		path: filepath.Join(b.outDir, SegmentFileName(b.preset.Name, i)),
	})

	if i >= head.end-1 {
		return // the run is complete, ffmpeg exits on its own
	}
	if b.status[i+1] != statusEmpty {
		head.proc.Kill() // another encoder already covers the range ahead
		return
	}

	// Keep encoding while any attached client still has less than the
	// maximum buffer ahead of its playhead.
	keep := false
	for _, cl := range b.clients {
		if cl.encoder != head.proc || cl.deleted || cl.head < 0 {
			continue
		}
		if b.breakpoints[i+1]-b.breakpoints[cl.head] < b.maxBuffer {
			keep = true
			break
		}
	}
	if keep {
		head.head = i + 1
	} else {
		head.proc.Kill()
	}
}

func (b *Backend) handleExit(head *encoderHead) {
	code := head.proc.ExitCode()
	deliberate := head.proc.Killed() || code == 255

	b.mu.Lock()
	if !deliberate && code != 0 {
		b.logger.Error("encoder died", slog.Int("code", code), slog.Int("segment", head.head))
		metrics.EncoderFailures.Inc()
	}
	if head.head < len(b.status) && b.status[head.head] == head.id {
		b.status[head.head] = statusEmpty
	}
	delete(b.heads, head.proc)

	// An unexpected death leaves waiters in the dead range with nothing
	// coming; fail them so requests answer instead of hanging.
	if !deliberate && code != 0 {
		for i := head.head; i < head.end; i++ {
			if b.status[i] == statusEmpty {
				b.fireWaitersLocked(i, segmentResult{
					err: fmt.Errorf("encoder exited with code %d", code),
				})
			}
		}
	}
	destroyed := b.destroyed
	b.mu.Unlock()

	if !destroyed {
		b.recalc()
	}
}

// recalculate rebuilds the client-to-encoder assignment. Runs behind the
// debounce, so overlapping triggers collapse and the body always sees a
// settled snapshot.
func (b *Backend) recalculate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return
	}

	// Index live encoders by head position; duplicate positions should
	// not occur, kill the extra one if they do.
	byHead := make(map[int]*encoderHead)
	attached := make(map[*encoderHead]int)
	for _, h := range b.heads {
		if _, dup := byHead[h.head]; dup {
			b.logger.Warn("duplicate encoder head", slog.Int("segment", h.head))
			h.proc.Kill()
			continue
		}
		byHead[h.head] = h
		attached[h] = 0
	}

	// Work out each live client's first missing segment inside its
	// desired buffer window.
	type pending struct {
		client *backendClient
		first  int
	}
	var unresolved []pending
	for _, cl := range b.clients {
		if cl.deleted || cl.head < 0 {
			continue
		}
		first := -1
		for i := cl.head; i < len(b.status); i++ {
			if b.breakpoints[i]-b.breakpoints[cl.head] >= b.minBuffer {
				break
			}
			if b.status[i] != statusDone {
				first = i
				break
			}
		}
		if first < 0 {
			continue // fully buffered
		}
		if h, ok := byHead[first]; ok {
			cl.encoder = h.proc
			attached[h]++
			continue
		}
		if h, ok := byHead[first-1]; ok {
			// One step behind: the encoder reaches this segment next.
			cl.encoder = h.proc
			attached[h]++
			continue
		}
		unresolved = append(unresolved, pending{client: cl, first: first})
	}

	for h, n := range attached {
		if n == 0 {
			h.proc.Kill()
		}
	}

	sort.Slice(unresolved, func(i, j int) bool { return unresolved[i].first < unresolved[j].first })
	var started *encoderHead
	for _, p := range unresolved {
		if started != nil && (started.head == p.first || started.head == p.first-1) {
			p.client.encoder = started.proc
			continue
		}
		if b.status[p.first] != statusEmpty {
			continue // produced since the scan above, next recalc sorts it out
		}
		h, err := b.startTranscodeLocked(p.first)
		if err != nil {
			b.logger.Error("transcode start failed", slog.Int("segment", p.first), slog.Any("error", err))
			b.fireWaitersLocked(p.first, segmentResult{err: err})
			continue
		}
		p.client.encoder = h.proc
		started = h
	}
}

func (b *Backend) fireWaitersLocked(i int, res segmentResult) {
	for _, ch := range b.waiters[i] {
		ch <- res
	}
	delete(b.waiters, i)
}

func (b *Backend) dropWaiterLocked(i int, target chan segmentResult) {
	chans := b.waiters[i]
	for idx, ch := range chans {
		if ch == target {
			b.waiters[i] = append(chans[:idx], chans[idx+1:]...)
			break
		}
	}
	if len(b.waiters[i]) == 0 {
		delete(b.waiters, i)
	}
}
