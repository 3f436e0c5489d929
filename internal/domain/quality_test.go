package domain

import "testing"

func TestPresetsFor(t *testing.T) {
	tests := []struct {
		name       string
		mediaType  MediaType
		resolution int
		want       []string
	}{
		{"1080p source", MediaVideo, 1080, []string{"1080p", "720p", "480p", "360p"}},
		{"720p source", MediaVideo, 720, []string{"720p", "480p", "360p"}},
		{"1440p source", MediaVideo, 1440, []string{"1080p", "720p", "480p", "360p"}},
		{"exact 480", MediaVideo, 480, []string{"480p", "360p"}},
		{"tiny source falls back to smallest", MediaVideo, 240, []string{"360p"}},
		{"audio", MediaAudio, 0, []string{"audio"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := PresetsFor(tc.mediaType, tc.resolution)
			if len(got) != len(tc.want) {
				t.Fatalf("got %d presets, want %d", len(got), len(tc.want))
			}
			for i, name := range tc.want {
				if got[i].Name != name {
					t.Errorf("preset[%d] = %q, want %q", i, got[i].Name, name)
				}
			}
		})
	}
}

func TestPresetsForDescending(t *testing.T) {
	presets := PresetsFor(MediaVideo, 2160)
	for i := 1; i < len(presets); i++ {
		if presets[i].Resolution >= presets[i-1].Resolution {
			t.Fatalf("presets not descending at %d: %d >= %d", i, presets[i].Resolution, presets[i-1].Resolution)
		}
	}
}

func TestFindPreset(t *testing.T) {
	presets := PresetsFor(MediaVideo, 1080)
	if _, ok := FindPreset(presets, "720p"); !ok {
		t.Fatal("expected to find 720p")
	}
	if _, ok := FindPreset(presets, "4k"); ok {
		t.Fatal("did not expect to find 4k")
	}
}

func TestParseMediaType(t *testing.T) {
	if _, err := ParseMediaType("video"); err != nil {
		t.Fatalf("video: %v", err)
	}
	if _, err := ParseMediaType("audio"); err != nil {
		t.Fatalf("audio: %v", err)
	}
	if _, err := ParseMediaType("hls"); err == nil {
		t.Fatal("expected error for unknown type")
	}
}
