package domain

// VideoStats is what the segmentation planner and the preset selection
// need from a video source: overall duration, frame geometry and the
// timestamps of the key frames.
type VideoStats struct {
	Duration float64
	Width    int
	Height   int
	IFrames  []float64
}

// Resolution returns the shorter side of the frame, the value quality
// presets are matched against.
func (s VideoStats) Resolution() int {
	if s.Width < s.Height {
		return s.Width
	}
	return s.Height
}

// AudioStats describes an audio-only source.
type AudioStats struct {
	Duration float64
	BitRate  int // bits per second, 0 if unknown
}
