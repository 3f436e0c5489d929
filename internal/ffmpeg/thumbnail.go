package ffmpeg

import (
	"context"
	"fmt"
	"time"

	"hlsvod/internal/proc"
)

const thumbnailTimeout = 15 * time.Second

// Thumbnailer renders single JPEG frames with ffmpeg.
type Thumbnailer struct {
	binary string
}

func NewThumbnailer(binDir string) *Thumbnailer {
	return &Thumbnailer{binary: binaryPath(binDir, "ffmpeg")}
}

// Thumbnail decodes one frame at the given timestamp, scaled to the
// requested width, and returns it as JPEG bytes.
func (t *Thumbnailer) Thumbnail(ctx context.Context, path string, at float64, width int) ([]byte, error) {
	args := []string{
		"-v", "error",
		"-ss", formatTime(at),
		"-i", path,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:-2", width),
		"-f", "image2",
		"-c:v", "mjpeg",
		"pipe:1",
	}
	data, err := proc.Output(ctx, t.binary, args, thumbnailTimeout)
	if err != nil {
		return nil, fmt.Errorf("thumbnail %s: %w", path, err)
	}
	return data, nil
}
