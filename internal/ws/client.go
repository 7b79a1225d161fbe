package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Yashground/video-processing-app-sub000/internal/constants"
	"github.com/Yashground/video-processing-app-sub000/internal/domain"
	"github.com/Yashground/video-processing-app-sub000/internal/logger"
)

// controlFrame covers the client-to-server protocol: {"type":"ping"} keeps
// the connection alive and is answered with {"type":"pong"};
// {"type":"init","jobKey":...} subscribes the connection to one job and
// replays its current state.
type controlFrame struct {
	Type   string `json:"type"`
	JobKey string `json:"jobKey,omitempty"`
}

// client is one websocket connection. All writes go through the writeLoop
// goroutine. A connection that never sends an init frame receives events for
// every job; after the first init it receives only its subscribed keys.
type client struct {
	b        *Broadcaster
	conn     *websocket.Conn
	identity domain.Identity
	id       string
	send     chan any
	done     chan struct{}

	// liveness timer, rearmed by inbound client traffic
	heartbeat *time.Timer

	mu   sync.Mutex
	keys map[string]struct{}

	closeOnce sync.Once
	logger    *logger.Logger
}

func newClient(b *Broadcaster, conn *websocket.Conn, identity domain.Identity, id string) *client {
	return &client{
		b:         b,
		conn:      conn,
		identity:  identity,
		id:        id,
		send:      make(chan any, constants.ConnSendBuffer),
		done:      make(chan struct{}),
		heartbeat: time.NewTimer(b.timeout),
		logger:    b.logger.WithConn(id, string(identity)),
	}
}

// wants reports whether the connection should receive events for key.
func (c *client) wants(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.keys) == 0 {
		return true
	}
	_, ok := c.keys[key]
	return ok
}

func (c *client) subscribe(key string) {
	c.mu.Lock()
	if c.keys == nil {
		c.keys = make(map[string]struct{})
	}
	c.keys[key] = struct{}{}
	c.mu.Unlock()
}

// deliver queues a frame without blocking. A connection that cannot keep up
// with its buffer is torn down so the fan-out stays non-blocking.
func (c *client) deliver(frame any) {
	select {
	case <-c.done:
	case c.send <- frame:
	default:
		c.logger.Warn("Send buffer full, dropping connection")
		go c.close("slow consumer")
	}
}

// writeDirect writes a frame on the connection from the caller's goroutine.
// Only valid before the loops start; afterwards all writes go through
// writeLoop.
func (c *client) writeDirect(frame any) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.b.writeTimeout))
	return c.conn.WriteJSON(frame)
}

func (c *client) writeLoop() {
	defer c.heartbeat.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.heartbeat.C:
			c.logger.Info("Heartbeat timeout, dropping connection")
			c.close("heartbeat timeout")
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.b.writeTimeout))
			if err := c.conn.WriteJSON(frame); err != nil {
				c.close("write failed")
				return
			}
		}
	}
}

// readLoop consumes inbound frames. Any frame rearms the liveness timer; a
// ping is answered with a pong, an init subscribes the connection to a job
// and replays that job's current state. Any read error ends the connection.
func (c *client) readLoop() {
	defer c.close("read ended")

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.refreshLiveness()

		var frame controlFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			continue
		}

		switch frame.Type {
		case "ping":
			c.deliver(controlFrame{Type: "pong"})
		case "init":
			if frame.JobKey == "" {
				continue
			}
			c.subscribe(frame.JobKey)
			if ev, ok := c.b.stateFor(frame.JobKey); ok {
				c.deliver(ev)
			}
		}
	}
}

func (c *client) refreshLiveness() {
	if !c.heartbeat.Stop() {
		select {
		case <-c.heartbeat.C:
		default:
		}
	}
	c.heartbeat.Reset(c.b.timeout)
}

// close tears the connection down exactly once and releases its identity
// slot. Safe to call from any goroutine.
func (c *client) close(reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
		c.b.removeClient(c)
		c.logger.Info("Client disconnected", "reason", reason)
	})
}
