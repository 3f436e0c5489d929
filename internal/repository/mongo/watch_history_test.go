package mongo

import (
	"testing"
	"time"
)

func TestWatchDocToPosition(t *testing.T) {
	now := time.Now().Unix()
	doc := watchPositionDoc{
		ID:        "shows/ep1.mkv",
		Name:      "Episode 1",
		Position:  321.5,
		Duration:  2600,
		UpdatedAt: now,
	}

	wp := watchDocToPosition(doc)
	if wp.Path != doc.ID || wp.Name != doc.Name {
		t.Errorf("position = %+v", wp)
	}
	if wp.Position != doc.Position || wp.Duration != doc.Duration {
		t.Errorf("position = %+v", wp)
	}
	if wp.UpdatedAt.Unix() != now {
		t.Errorf("updatedAt = %v", wp.UpdatedAt)
	}
}
