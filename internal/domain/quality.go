package domain

// QualityPreset parameterises one HLS variant: target resolution of the
// shorter video side and video/audio bitrates in kbit/s.
type QualityPreset struct {
	Name         string
	Resolution   int
	VideoBitrate int
	AudioBitrate int
}

// VideoPresets is the fixed variant ladder, descending by resolution.
var VideoPresets = []QualityPreset{
	{Name: "1080p", Resolution: 1080, VideoBitrate: 6000, AudioBitrate: 192},
	{Name: "720p", Resolution: 720, VideoBitrate: 3000, AudioBitrate: 128},
	{Name: "480p", Resolution: 480, VideoBitrate: 1500, AudioBitrate: 128},
	{Name: "360p", Resolution: 360, VideoBitrate: 800, AudioBitrate: 96},
}

// AudioPreset is the single variant used for audio-only media.
var AudioPreset = QualityPreset{Name: "audio", AudioBitrate: 128}

// PresetsFor returns the presets applicable to a source whose shorter
// side is sourceResolution: all presets that do not exceed it, or the
// smallest preset when the source is smaller than every rung.
func PresetsFor(mediaType MediaType, sourceResolution int) []QualityPreset {
	if mediaType == MediaAudio {
		return []QualityPreset{AudioPreset}
	}
	var out []QualityPreset
	for _, p := range VideoPresets {
		if p.Resolution <= sourceResolution {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = []QualityPreset{VideoPresets[len(VideoPresets)-1]}
	}
	return out
}

// FindPreset looks a preset up by name within an applicable set.
func FindPreset(presets []QualityPreset, name string) (QualityPreset, bool) {
	for _, p := range presets {
		if p.Name == name {
			return p, true
		}
	}
	return QualityPreset{}, false
}
