// Package ffmpeg drives the external ffprobe and ffmpeg binaries: source
// probing, encoder argument construction and encoder process handles.
package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"hlsvod/internal/domain"
	"hlsvod/internal/proc"
)

const probeTimeout = 30 * time.Second

// Prober shells out to ffprobe. A non-empty binDir is prefixed to the
// binary name, matching the ffmpeg-binary-dir option.
type Prober struct {
	binary string
}

func NewProber(binDir string) *Prober {
	return &Prober{binary: binaryPath(binDir, "ffprobe")}
}

func binaryPath(binDir, name string) string {
	if strings.TrimSpace(binDir) == "" {
		return name
	}
	return filepath.Join(binDir, name)
}

// ProbeVideo extracts duration, frame geometry and key-frame timestamps.
// Decoding is skipped for non-key frames so the scan stays cheap even for
// long sources.
func (p *Prober) ProbeVideo(ctx context.Context, path string) (domain.VideoStats, error) {
	out, err := proc.Output(ctx, p.binary, []string{
		"-v", "error",
		"-skip_frame", "nokey",
		"-show_entries", "frame=pkt_pts_time",
		"-show_entries", "format=duration",
		"-show_entries", "stream=duration,width,height",
		"-select_streams", "v",
		"-of", "json",
		path,
	}, probeTimeout)
	if err != nil {
		return domain.VideoStats{}, err
	}
	return parseVideoProbe(out)
}

// ProbeAudio extracts duration and bitrate of the audio streams.
func (p *Prober) ProbeAudio(ctx context.Context, path string) (domain.AudioStats, error) {
	out, err := proc.Output(ctx, p.binary, []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-show_entries", "stream=duration,bit_rate",
		"-select_streams", "a",
		"-of", "json",
		path,
	}, probeTimeout)
	if err != nil {
		return domain.AudioStats{}, err
	}
	return parseAudioProbe(out)
}

// ProbeFormat runs the initialization probe behind GET /media: container
// format plus the full stream listing.
func (p *Prober) ProbeFormat(ctx context.Context, path string) (domain.MediaInfo, error) {
	out, err := proc.Output(ctx, p.binary, []string{
		"-v", "error",
		"-show_format",
		"-show_streams",
		"-of", "json",
		path,
	}, probeTimeout)
	if err != nil {
		return domain.MediaInfo{}, err
	}
	return parseFormatProbe(out)
}

type probePayload struct {
	Frames  []probeFrame  `json:"frames"`
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeFrame struct {
	// Older ffprobe builds emit pkt_pts_time, newer ones pts_time.
	PktPtsTime string `json:"pkt_pts_time"`
	PtsTime    string `json:"pts_time"`
}

type probeStream struct {
	CodecType   string            `json:"codec_type"`
	CodecName   string            `json:"codec_name"`
	Duration    string            `json:"duration"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	BitRate     string            `json:"bit_rate"`
	Tags        map[string]string `json:"tags"`
	Disposition struct {
		Default     int `json:"default"`
		AttachedPic int `json:"attached_pic"`
	} `json:"disposition"`
}

type probeFormat struct {
	Duration   string `json:"duration"`
	FormatName string `json:"format_name"`
}

func parseVideoProbe(data []byte) (domain.VideoStats, error) {
	var payload probePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.VideoStats{}, fmt.Errorf("ffprobe output parse failed: %w", err)
	}

	stats := domain.VideoStats{
		Duration: pickDuration(payload),
	}
	for _, stream := range payload.Streams {
		if stream.Width > 0 && stream.Height > 0 {
			stats.Width = stream.Width
			stats.Height = stream.Height
			break
		}
	}
	if stats.Width == 0 || stats.Height == 0 {
		return domain.VideoStats{}, errors.New("no video stream with frame geometry")
	}

	for _, frame := range payload.Frames {
		raw := frame.PktPtsTime
		if raw == "" {
			raw = frame.PtsTime
		}
		if raw == "" {
			continue
		}
		t, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		stats.IFrames = append(stats.IFrames, t)
	}
	sort.Float64s(stats.IFrames)

	return stats, nil
}

func parseAudioProbe(data []byte) (domain.AudioStats, error) {
	var payload probePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.AudioStats{}, fmt.Errorf("ffprobe output parse failed: %w", err)
	}

	stats := domain.AudioStats{Duration: pickDuration(payload)}
	for _, stream := range payload.Streams {
		if stream.BitRate != "" {
			if br, err := strconv.Atoi(stream.BitRate); err == nil && br > 0 {
				stats.BitRate = br
				break
			}
		}
	}
	return stats, nil
}

func parseFormatProbe(data []byte) (domain.MediaInfo, error) {
	var payload probePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.MediaInfo{}, fmt.Errorf("ffprobe output parse failed: %w", err)
	}

	tracks := make([]domain.MediaTrack, 0, len(payload.Streams))
	videoIndex := 0
	audioIndex := 0
	for _, stream := range payload.Streams {
		switch stream.CodecType {
		case "video":
			// Cover art is reported as a video stream with the
			// attached_pic disposition; it is not playable video.
			if stream.Disposition.AttachedPic == 1 {
				continue
			}
			tracks = append(tracks, domain.MediaTrack{
				Index:    videoIndex,
				Type:     "video",
				Codec:    stream.CodecName,
				Language: strings.TrimSpace(stream.Tags["language"]),
				Default:  stream.Disposition.Default == 1,
			})
			videoIndex++
		case "audio":
			tracks = append(tracks, domain.MediaTrack{
				Index:    audioIndex,
				Type:     "audio",
				Codec:    stream.CodecName,
				Language: strings.TrimSpace(stream.Tags["language"]),
				Default:  stream.Disposition.Default == 1,
			})
			audioIndex++
		}
	}

	return domain.MediaInfo{
		Tracks:     tracks,
		Duration:   pickDuration(payload),
		FormatName: payload.Format.FormatName,
	}, nil
}

// pickDuration prefers the container duration and falls back to the first
// stream that reports one.
func pickDuration(payload probePayload) float64 {
	if payload.Format.Duration != "" {
		if d, err := strconv.ParseFloat(payload.Format.Duration, 64); err == nil && d > 0 {
			return d
		}
	}
	for _, stream := range payload.Streams {
		if stream.Duration == "" {
			continue
		}
		if d, err := strconv.ParseFloat(stream.Duration, 64); err == nil && d > 0 {
			return d
		}
	}
	return 0
}
