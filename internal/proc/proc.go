// Package proc wraps exec.Cmd for the ffmpeg/ffprobe child processes:
// line-oriented stdout, a hard run deadline and a graceful kill sequence
// (SIGTERM, then SIGKILL five seconds later if the process lingers).
package proc

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"syscall"
	"time"
)

const killGrace = 5 * time.Second

// Options control how a subprocess is started.
type Options struct {
	Dir     string        // working directory; empty = inherit
	Timeout time.Duration // force-kill deadline; 0 = none
}

// Handle is a running subprocess whose stdout is consumed line by line.
// Stderr is inherited so operators see tool diagnostics directly.
type Handle struct {
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	lines    chan string
	done     chan struct{}
	waitErr  error
	exitCode int
	killed   atomic.Bool
}

// Start launches bin with args. The returned handle owns the process;
// callers must drain Lines or wait on Done.
func Start(ctx context.Context, bin string, args []string, opts Options) (*Handle, error) {
	runCtx, cancel := newRunContext(ctx, opts.Timeout)

	cmd := exec.CommandContext(runCtx, bin, args...)
	cmd.Dir = opts.Dir
	cmd.Stderr = os.Stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", bin, err)
	}

	h := &Handle{
		cmd:      cmd,
		cancel:   cancel,
		lines:    make(chan string, 64),
		done:     make(chan struct{}),
		exitCode: -1,
	}

	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		defer close(h.lines)
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				h.lines <- line
			}
		}
	}()
	go func() {
		<-scanDone
		h.waitErr = cmd.Wait()
		if state := cmd.ProcessState; state != nil {
			h.exitCode = state.ExitCode()
		}
		cancel()
		close(h.done)
	}()

	return h, nil
}

// Lines yields trimmed non-empty stdout lines; closed at EOF.
func (h *Handle) Lines() <-chan string { return h.lines }

// Done is closed once the process has exited and its state is recorded.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Kill starts the termination sequence. Safe to call more than once.
func (h *Handle) Kill() {
	h.killed.Store(true)
	h.cancel()
}

// Killed reports whether Kill was invoked on this handle.
func (h *Handle) Killed() bool { return h.killed.Load() }

// ExitCode is valid after Done; -1 means killed by signal.
func (h *Handle) ExitCode() int {
	select {
	case <-h.done:
		return h.exitCode
	default:
		return -1
	}
}

// Err returns the Wait error, valid after Done.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.waitErr
	default:
		return nil
	}
}

// Output runs bin to completion and returns its captured stdout, applying
// the same deadline and kill sequence as Start. Stderr is captured and
// folded into the error so probe failures carry the tool's diagnostic.
func Output(ctx context.Context, bin string, args []string, timeout time.Duration) ([]byte, error) {
	runCtx, cancel := newRunContext(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, bin, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("%s failed: %w", bin, err)
		}
		return nil, fmt.Errorf("%s failed: %w: %s", bin, err, msg)
	}
	return stdout.Bytes(), nil
}

func newRunContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}
