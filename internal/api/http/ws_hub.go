package apihttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	feedSendBuffer   = 256
	feedBacklog      = 64
	feedPingInterval = 30 * time.Second
	feedWriteWait    = 10 * time.Second
	feedPongWait     = 60 * time.Second
	feedReadLimit    = 512
	feedCloseGrace   = 2 * time.Second
)

// statusEvent is the wire envelope of the /ws status feed.
type statusEvent struct {
	Event   string      `json:"event"`
	At      time.Time   `json:"at"`
	Payload interface{} `json:"payload"`
}

type feedConn struct {
	feed *statusFeed
	conn *websocket.Conn
	send chan []byte
}

// statusFeed fans engine snapshots out to /ws subscribers. The conns map
// is owned by the run goroutine; publishers only see the subscriber count.
type statusFeed struct {
	logger *slog.Logger
	conns  map[*feedConn]struct{}
	count  atomic.Int64
	events chan []byte
	attach chan *feedConn
	detach chan *feedConn
	done   chan struct{}
}

func newStatusFeed(logger *slog.Logger) *statusFeed {
	return &statusFeed{
		logger: logger,
		conns:  make(map[*feedConn]struct{}),
		events: make(chan []byte, feedBacklog),
		attach: make(chan *feedConn),
		detach: make(chan *feedConn),
		done:   make(chan struct{}),
	}
}

// Attach subscribes an upgraded connection and starts its pumps.
func (f *statusFeed) Attach(conn *websocket.Conn) {
	c := &feedConn{feed: f, conn: conn, send: make(chan []byte, feedSendBuffer)}
	select {
	case f.attach <- c:
		go c.writePump()
		go c.readPump()
	case <-f.done:
		conn.Close()
	}
}

func (f *statusFeed) run() {
	for {
		select {
		case <-f.done:
			f.closeAll()
			return
		case c := <-f.attach:
			f.conns[c] = struct{}{}
			f.count.Store(int64(len(f.conns)))
			f.logger.Debug("status feed subscriber joined", slog.Int("subscribers", len(f.conns)))
		case c := <-f.detach:
			f.drop(c)
		case msg := <-f.events:
			for c := range f.conns {
				select {
				case c.send <- msg:
				default:
					f.drop(c) // too slow to keep
				}
			}
		}
	}
}

func (f *statusFeed) drop(c *feedConn) {
	if _, ok := f.conns[c]; !ok {
		return
	}
	delete(f.conns, c)
	close(c.send)
	f.count.Store(int64(len(f.conns)))
	f.logger.Debug("status feed subscriber left", slog.Int("subscribers", len(f.conns)))
}

func (f *statusFeed) closeAll() {
	for c := range f.conns {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(feedCloseGrace),
		)
		f.drop(c)
	}
	f.logger.Debug("status feed stopped")
}

// Close stops the feed and disconnects every subscriber.
func (f *statusFeed) Close() {
	close(f.done)
}

// PublishSessions pushes a client/media snapshot to every subscriber.
func (f *statusFeed) PublishSessions(snap sessionsSnapshot) {
	f.publish("sessions", snap)
}

// PublishHealth pushes a health snapshot to every subscriber.
func (f *statusFeed) PublishHealth(snap healthSnapshot) {
	f.publish("health", snap)
}

func (f *statusFeed) publish(event string, payload interface{}) {
	if f.count.Load() == 0 {
		return
	}
	raw, err := json.Marshal(statusEvent{Event: event, At: time.Now().UTC(), Payload: payload})
	if err != nil {
		f.logger.Error("status event marshal failed", slog.String("error", err.Error()))
		return
	}
	select {
	case f.events <- raw:
	default:
		// Backlog full; the next tick supersedes this snapshot.
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (c *feedConn) writePump() {
	ticker := time.NewTicker(feedPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *feedConn) readPump() {
	defer func() {
		select {
		case c.feed.detach <- c:
		case <-c.feed.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(feedReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
