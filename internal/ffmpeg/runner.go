package ffmpeg

import (
	"context"
	"time"

	"hlsvod/internal/proc"
)

// Runaway encoders are force-killed after this deadline.
const encodeTimeout = 6 * time.Hour

// Runner starts ffmpeg encoder processes.
type Runner struct {
	binary string
}

func NewRunner(binDir string) *Runner {
	return &Runner{binary: binaryPath(binDir, "ffmpeg")}
}

// Start spawns ffmpeg with args, running in dir so the relative segment
// filenames land in the backend's output directory.
func (r *Runner) Start(ctx context.Context, args []string, dir string) (*proc.Handle, error) {
	return proc.Start(ctx, r.binary, args, proc.Options{
		Dir:     dir,
		Timeout: encodeTimeout,
	})
}
