package apihttp

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestStatusFeedDeliversSessionSnapshots(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.server)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Subscription lands asynchronously, so keep publishing until the
	// first event comes through.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				f.server.BroadcastSessions()
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var ev statusEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	if ev.Event != "sessions" {
		t.Errorf("event = %q, want sessions", ev.Event)
	}
	if ev.At.IsZero() {
		t.Error("event timestamp is zero")
	}
}

func TestStatusFeedPublishWithoutSubscribers(t *testing.T) {
	feed := newStatusFeed(discardLogger())
	go feed.run()
	defer feed.Close()

	// Must be a cheap no-op, not a blocked send.
	for i := 0; i < 2*feedBacklog; i++ {
		feed.PublishHealth(healthSnapshot{Status: "ok"})
	}
}
