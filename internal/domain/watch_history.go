package domain

import "time"

// WatchPosition records how far a viewer got into one media file so the
// web UI can offer to resume playback.
type WatchPosition struct {
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	Position  float64   `json:"position"`
	Duration  float64   `json:"duration"`
	UpdatedAt time.Time `json:"updatedAt"`
}
