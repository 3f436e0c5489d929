package domain

import "fmt"

// MediaType selects the probe and encoding pipeline for a source file.
type MediaType string

const (
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
)

func ParseMediaType(raw string) (MediaType, error) {
	switch MediaType(raw) {
	case MediaVideo:
		return MediaVideo, nil
	case MediaAudio:
		return MediaAudio, nil
	default:
		return "", fmt.Errorf("invalid media type %q", raw)
	}
}

// MediaKey identifies one media descriptor: a typed, root-relative path.
type MediaKey struct {
	Type MediaType
	Path string // relative to the media root, slash-separated
}

func (k MediaKey) String() string {
	return string(k.Type) + ":" + k.Path
}

type MediaTrack struct {
	Index    int    `json:"index"`
	Type     string `json:"type"`
	Codec    string `json:"codec"`
	Language string `json:"language"`
	Default  bool   `json:"default"`
}

// MediaInfo is the result of the initialization probe behind GET /media.
type MediaInfo struct {
	Tracks     []MediaTrack `json:"tracks"`
	Duration   float64      `json:"duration"`
	FormatName string       `json:"formatName"`
}

// HasVideo reports whether any real video track is present (attached
// pictures are reported by ffprobe as video streams with the
// attached_pic disposition and are excluded by the prober).
func (i MediaInfo) HasVideo() bool {
	for _, t := range i.Tracks {
		if t.Type == "video" {
			return true
		}
	}
	return false
}

func (i MediaInfo) HasAudio() bool {
	for _, t := range i.Tracks {
		if t.Type == "audio" {
			return true
		}
	}
	return false
}
