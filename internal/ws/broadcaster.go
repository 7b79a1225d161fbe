// Package ws fans job progress out to websocket clients and in-process
// subscribers. Progress state is latest-wins per job; terminal events clear
// the stored state after broadcast.
package ws

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Yashground/video-processing-app-sub000/internal/constants"
	"github.com/Yashground/video-processing-app-sub000/internal/domain"
	"github.com/Yashground/video-processing-app-sub000/internal/logger"
)

// Authenticator validates a request before the websocket upgrade.
type Authenticator interface {
	Authenticate(r *http.Request) (domain.Identity, error)
}

// SubscriberFunc receives published events for an in-process subscription.
type SubscriberFunc func(event domain.ProgressEvent)

type subscription struct {
	jobKey string
	fn     SubscriberFunc
}

// Broadcaster is the realtime hub. All client registration, the per-identity
// ceiling, stored progress state, and the subscription table live behind one
// mutex; per-connection reads and writes run in their own goroutines so one
// misbehaving connection never stalls the rest.
type Broadcaster struct {
	authenticator Authenticator
	upgrader      websocket.Upgrader
	logger        *logger.Logger

	maxPerIdentity int
	timeout        time.Duration
	writeTimeout   time.Duration

	mu          sync.Mutex
	clients     map[*client]struct{}
	perIdentity map[domain.Identity]int
	state       map[string]domain.ProgressEvent
	subs        map[uint64]subscription
	nextSub     uint64
}

func NewBroadcaster(authenticator Authenticator, log *logger.Logger) *Broadcaster {
	if log == nil {
		log = logger.Default()
	}
	return &Broadcaster{
		authenticator: authenticator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:         log.WithComponent("ws"),
		maxPerIdentity: constants.MaxConnsPerIdentity,
		timeout:        constants.HeartbeatTimeout,
		writeTimeout:   constants.WriteTimeout,
		clients:        make(map[*client]struct{}),
		perIdentity:    make(map[domain.Identity]int),
		state:          make(map[string]domain.ProgressEvent),
		subs:           make(map[uint64]subscription),
	}
}

// UpdateProgress stores and broadcasts the latest progress for a job.
// Updates are applied in arrival order; stale or out-of-order reports from
// callers are forwarded as-is.
func (b *Broadcaster) UpdateProgress(key string, stage domain.Stage, percent int, message, substage string) {
	b.publish(domain.ProgressEvent{
		Type:     "progress",
		JobKey:   key,
		Stage:    stage,
		Progress: percent,
		Message:  message,
		Substage: substage,
	}, false)
}

// Complete broadcasts the terminal success event and clears the job's stored
// state. Success rides the progress frame type; only errors get their own.
func (b *Broadcaster) Complete(key, message string) {
	b.publish(domain.ProgressEvent{
		Type:     "progress",
		JobKey:   key,
		Stage:    domain.StageCleanup,
		Progress: 100,
		Message:  message,
	}, true)
}

// ReportError broadcasts the terminal failure event and clears the job's
// stored state.
func (b *Broadcaster) ReportError(key string, err error, stage domain.Stage) {
	b.publish(domain.ProgressEvent{
		Type:   "error",
		JobKey: key,
		Stage:  stage,
		Error:  err.Error(),
	}, true)
}

// Clear drops the stored state for a job without broadcasting, for jobs
// removed before processing started.
func (b *Broadcaster) Clear(key string) {
	b.mu.Lock()
	delete(b.state, key)
	b.mu.Unlock()
}

// Subscribe registers an in-process listener and returns its token. An empty
// jobKey receives events for every job.
func (b *Broadcaster) Subscribe(jobKey string, fn SubscriberFunc) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	b.subs[b.nextSub] = subscription{jobKey: jobKey, fn: fn}
	return b.nextSub
}

// Unsubscribe removes a subscription by token. Unknown tokens are ignored.
func (b *Broadcaster) Unsubscribe(token uint64) {
	b.mu.Lock()
	delete(b.subs, token)
	b.mu.Unlock()
}

// publish updates the state table and fans the event out to every connection
// and matching subscriber. A connection whose send buffer is full is closed
// rather than allowed to block the fan-out.
func (b *Broadcaster) publish(event domain.ProgressEvent, terminal bool) {
	b.mu.Lock()
	if terminal {
		delete(b.state, event.JobKey)
	} else {
		b.state[event.JobKey] = event
	}

	targets := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		targets = append(targets, c)
	}
	listeners := make([]SubscriberFunc, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.jobKey == "" || sub.jobKey == event.JobKey {
			listeners = append(listeners, sub.fn)
		}
	}
	b.mu.Unlock()

	for _, c := range targets {
		if c.wants(event.JobKey) {
			c.deliver(event)
		}
	}
	for _, fn := range listeners {
		fn(event)
	}
}

// stateFor returns the stored latest-wins state for a job.
func (b *Broadcaster) stateFor(key string) (domain.ProgressEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev, ok := b.state[key]
	return ev, ok
}

// HandleConnection authenticates, enforces the per-identity ceiling, upgrades
// the request, replays known job states, and starts the connection loops.
// Both checks run before the upgrade so a rejected caller costs no resources.
func (b *Broadcaster) HandleConnection(w http.ResponseWriter, r *http.Request) {
	identity, err := b.authenticator.Authenticate(r)
	if err != nil {
		http.Error(w, "authentication denied", http.StatusUnauthorized)
		return
	}

	b.mu.Lock()
	if b.perIdentity[identity] >= b.maxPerIdentity {
		b.mu.Unlock()
		http.Error(w, fmt.Sprintf("%s (max %d)", domain.ErrConnectionLimit, b.maxPerIdentity), http.StatusTooManyRequests)
		return
	}
	b.perIdentity[identity]++
	b.mu.Unlock()

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.releaseIdentity(identity)
		b.logger.Warn("Websocket upgrade failed", "identity", identity, "error", err)
		return
	}

	c := newClient(b, conn, identity, uuid.NewString())

	b.mu.Lock()
	b.clients[c] = struct{}{}
	replay := make([]domain.ProgressEvent, 0, len(b.state))
	for _, ev := range b.state {
		replay = append(replay, ev)
	}
	b.mu.Unlock()

	c.logger.Info("Client connected")

	// Replay is written synchronously, before the loops take over the
	// connection: it must never compete with the bounded send buffer, no
	// matter how many jobs hold state.
	for _, ev := range replay {
		if err := c.writeDirect(ev); err != nil {
			c.close("replay write failed")
			return
		}
	}

	go c.writeLoop()
	go c.readLoop()
}

// ConnectionCount returns the number of registered connections.
func (b *Broadcaster) ConnectionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close tears down every connection.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	targets := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.Unlock()

	for _, c := range targets {
		c.close("server shutting down")
	}
}

func (b *Broadcaster) removeClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.clients, c)
	b.mu.Unlock()
	b.releaseIdentity(c.identity)
}

func (b *Broadcaster) releaseIdentity(identity domain.Identity) {
	b.mu.Lock()
	if n := b.perIdentity[identity]; n <= 1 {
		delete(b.perIdentity, identity)
	} else {
		b.perIdentity[identity] = n - 1
	}
	b.mu.Unlock()
}
