package hls

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"hlsvod/internal/domain"
)

// MasterPlaylist lists one variant per applicable preset, descending by
// resolution. Bandwidth is the combined nominal bitrate plus 5% container
// overhead; the advertised resolution is the source geometry scaled so
// its shorter side matches the preset.
func MasterPlaylist(presets []domain.QualityPreset, width, height int) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for _, p := range presets {
		bandwidth := int(math.Ceil(float64(p.VideoBitrate+p.AudioBitrate) * 1.05 * 1000))
		w, h := scaleResolution(width, height, p.Resolution)
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,NAME=%s\n", bandwidth, w, h, p.Name)
		fmt.Fprintf(&b, "quality-%s.m3u8\n", p.Name)
	}
	return b.String()
}

// scaleResolution shrinks (or grows) the source geometry so the shorter
// side equals target, rounding the longer side.
func scaleResolution(width, height, target int) (int, int) {
	if width <= 0 || height <= 0 {
		return target, target
	}
	if width < height {
		scaled := int(math.Round(float64(height) * float64(target) / float64(width)))
		return target, scaled
	}
	scaled := int(math.Round(float64(width) * float64(target) / float64(height)))
	return scaled, target
}

// VariantPlaylist emits the media playlist for one preset. Segment URLs
// carry a 1-based hex index so the path never starts with a zero digit.
func VariantPlaylist(presetName string, breakpoints []float64) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%v\n", SegmentTargetLength+SegmentOffset)
	b.WriteString("#EXT-X-VERSION:4\n")
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	for i := 0; i+1 < len(breakpoints); i++ {
		length := breakpoints[i+1] - breakpoints[i]
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", length)
		fmt.Fprintf(&b, "%s.%s.ts\n", presetName, strconv.FormatInt(int64(i+1), 16))
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

// SegmentFileName is the on-disk name ffmpeg produces for segment i.
func SegmentFileName(presetName string, i int) string {
	return fmt.Sprintf("%s-%05d.ts", presetName, i)
}

// ParseSegmentRef decodes the 1-based hex index from a segment URL into a
// 0-based segment index.
func ParseSegmentRef(ref string) (int, error) {
	n, err := strconv.ParseInt(ref, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid segment index %q: %w", ref, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("invalid segment index %q", ref)
	}
	return int(n - 1), nil
}
