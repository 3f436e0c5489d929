package ffmpeg

import (
	"testing"
)

const videoProbeJSON = `{
  "frames": [
    {"pkt_pts_time": "0.000000"},
    {"pkt_pts_time": "3.000000"},
    {"pkt_pts_time": "6.000000"}
  ],
  "streams": [
    {"codec_type": "video", "duration": "31.000000", "width": 1920, "height": 1080}
  ],
  "format": {"duration": "31.033000"}
}`

func TestParseVideoProbe(t *testing.T) {
	stats, err := parseVideoProbe([]byte(videoProbeJSON))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if stats.Duration != 31.033 {
		t.Errorf("duration = %v, want 31.033", stats.Duration)
	}
	if stats.Width != 1920 || stats.Height != 1080 {
		t.Errorf("geometry = %dx%d, want 1920x1080", stats.Width, stats.Height)
	}
	if stats.Resolution() != 1080 {
		t.Errorf("resolution = %d, want 1080", stats.Resolution())
	}
	want := []float64{0, 3, 6}
	if len(stats.IFrames) != len(want) {
		t.Fatalf("iframes = %v, want %v", stats.IFrames, want)
	}
	for i := range want {
		if stats.IFrames[i] != want[i] {
			t.Errorf("iframe[%d] = %v, want %v", i, stats.IFrames[i], want[i])
		}
	}
}

func TestParseVideoProbeNewerFieldName(t *testing.T) {
	data := `{
  "frames": [{"pts_time": "2.500000"}],
  "streams": [{"codec_type": "video", "width": 640, "height": 480}],
  "format": {"duration": "10.0"}
}`
	stats, err := parseVideoProbe([]byte(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(stats.IFrames) != 1 || stats.IFrames[0] != 2.5 {
		t.Errorf("iframes = %v, want [2.5]", stats.IFrames)
	}
}

func TestParseVideoProbeNoGeometry(t *testing.T) {
	if _, err := parseVideoProbe([]byte(`{"streams": [], "format": {"duration": "5"}}`)); err == nil {
		t.Fatal("expected error for missing frame geometry")
	}
}

func TestParseAudioProbe(t *testing.T) {
	data := `{
  "streams": [{"codec_type": "audio", "duration": "245.5", "bit_rate": "320000"}],
  "format": {}
}`
	stats, err := parseAudioProbe([]byte(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if stats.Duration != 245.5 {
		t.Errorf("duration = %v, want 245.5", stats.Duration)
	}
	if stats.BitRate != 320000 {
		t.Errorf("bit rate = %d, want 320000", stats.BitRate)
	}
}

func TestParseFormatProbeSkipsCoverArt(t *testing.T) {
	data := `{
  "streams": [
    {"codec_type": "video", "codec_name": "mjpeg", "disposition": {"attached_pic": 1}},
    {"codec_type": "audio", "codec_name": "mp3", "disposition": {"default": 1}}
  ],
  "format": {"duration": "184.2", "format_name": "mp3"}
}`
	info, err := parseFormatProbe([]byte(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if info.HasVideo() {
		t.Error("attached picture must not count as a video track")
	}
	if !info.HasAudio() {
		t.Error("expected an audio track")
	}
	if info.FormatName != "mp3" {
		t.Errorf("format = %q, want mp3", info.FormatName)
	}
	if info.Duration != 184.2 {
		t.Errorf("duration = %v, want 184.2", info.Duration)
	}
}
