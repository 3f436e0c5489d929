package ffmpeg

import (
	"strconv"
	"strings"

	"hlsvod/internal/domain"
)

// EncodeParams describes one encoder run over the segment range
// [Start, End) of the breakpoint vector.
type EncodeParams struct {
	Input       string
	Breakpoints []float64
	Start       int
	End         int
	Preset      domain.QualityPreset
	Type        domain.MediaType
}

// BuildEncodeArgs assembles the ffmpeg argument list for one run. Output
// filenames are relative (<preset>-%05d.ts); the caller sets the process
// working directory to the backend's output directory. Completed segment
// names are reported on stdout via the flat segment list.
func BuildEncodeArgs(p EncodeParams) []string {
	b := p.Breakpoints
	var args []string

	// Seeking to 0 with -ss triggers a negative-timestamp edge case in
	// some demuxers, so the flag is omitted for the first segment.
	if p.Start > 0 {
		args = append(args, "-ss", formatTime(b[p.Start]))
	}
	args = append(args,
		"-i", p.Input,
		"-to", formatTime(b[p.End]),
		"-copyts",
	)

	boundaries := formatTimeList(b[p.Start+1 : p.End+1])

	switch p.Type {
	case domain.MediaVideo:
		args = append(args,
			"-force_key_frames", boundaries,
			"-vf", "scale=w=-2:h="+strconv.Itoa(p.Preset.Resolution),
			"-c:v", "libx264",
			"-preset", "faster",
			"-profile:v", "high",
			"-level", "4.1",
			"-b:v", strconv.Itoa(p.Preset.VideoBitrate)+"k",
			"-sc_threshold", "0",
			"-c:a", "aac",
			"-b:a", strconv.Itoa(p.Preset.AudioBitrate)+"k",
			"-ac", "2",
		)
	case domain.MediaAudio:
		args = append(args,
			"-vn",
			"-c:a", "aac",
			"-b:a", strconv.Itoa(p.Preset.AudioBitrate)+"k",
			"-ac", "2",
		)
	}

	args = append(args,
		"-f", "segment",
		"-segment_time_delta", "0.2",
		"-segment_format", "mpegts",
		"-segment_times", boundaries,
		"-segment_start_number", strconv.Itoa(p.Start),
		"-segment_list_type", "flat",
		"-segment_list", "pipe:1",
		p.Preset.Name+"-%05d.ts",
	)
	return args
}

func formatTime(t float64) string {
	return strconv.FormatFloat(t, 'f', 6, 64)
}

func formatTimeList(times []float64) string {
	parts := make([]string, len(times))
	for i, t := range times {
		parts[i] = formatTime(t)
	}
	return strings.Join(parts, ",")
}
