package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Yashground/video-processing-app-sub000/internal/domain"
	"github.com/Yashground/video-processing-app-sub000/internal/logger"
)

type allowAll struct{}

func (allowAll) Authenticate(r *http.Request) (domain.Identity, error) {
	if id := r.URL.Query().Get("client_id"); id != "" {
		return domain.Identity(id), nil
	}
	return "anon", nil
}

type denyAll struct{}

func (denyAll) Authenticate(r *http.Request) (domain.Identity, error) {
	return "", domain.ErrAuthenticationDenied
}

func newTestBroadcaster(authenticator Authenticator) *Broadcaster {
	b := NewBroadcaster(authenticator, logger.Default())
	b.timeout = 200 * time.Millisecond
	return b
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) (domain.ProgressEvent, error) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		return domain.ProgressEvent{}, err
	}
	var ev domain.ProgressEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("Bad frame %s: %v", payload, err)
	}
	return ev, nil
}

func TestBroadcaster_RejectsUnauthenticated(t *testing.T) {
	b := newTestBroadcaster(denyAll{})
	server := httptest.NewServer(http.HandlerFunc(b.HandleConnection))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", resp.StatusCode)
	}
	if b.ConnectionCount() != 0 {
		t.Error("Expected no registered connections")
	}
}

func TestBroadcaster_ProgressDelivered(t *testing.T) {
	b := newTestBroadcaster(allowAll{})
	server := httptest.NewServer(http.HandlerFunc(b.HandleConnection))
	defer server.Close()
	defer b.Close()

	conn := dial(t, server, "client_id=c1")

	b.UpdateProgress("video_1", domain.StageDownload, 10, "downloading source", "")

	ev, err := readEvent(t, conn, time.Second)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if ev.Type != "progress" || ev.JobKey != "video_1" || ev.Stage != domain.StageDownload || ev.Progress != 10 {
		t.Errorf("Unexpected event: %+v", ev)
	}
}

func TestBroadcaster_ReplayOnConnect(t *testing.T) {
	b := newTestBroadcaster(allowAll{})
	server := httptest.NewServer(http.HandlerFunc(b.HandleConnection))
	defer server.Close()
	defer b.Close()

	// State exists before anyone connects
	b.UpdateProgress("video_1", domain.StageTranscription, 60, "transcribing", "segment 2/4")

	conn := dial(t, server, "client_id=c1")
	ev, err := readEvent(t, conn, time.Second)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if ev.JobKey != "video_1" || ev.Progress != 60 {
		t.Errorf("Expected replayed state, got %+v", ev)
	}
}

func TestBroadcaster_ReplayLargerThanSendBuffer(t *testing.T) {
	b := newTestBroadcaster(allowAll{})
	server := httptest.NewServer(http.HandlerFunc(b.HandleConnection))
	defer server.Close()
	defer b.Close()

	// Far more stored jobs than the per-connection send buffer holds
	const jobs = 30
	for i := 0; i < jobs; i++ {
		b.UpdateProgress(fmt.Sprintf("video_%d", i), domain.StageDownload, 10, "downloading source", "")
	}

	conn := dial(t, server, "client_id=c1")

	keys := make(map[string]bool)
	for i := 0; i < jobs; i++ {
		ev, err := readEvent(t, conn, time.Second)
		if err != nil {
			t.Fatalf("Read %d failed: %v", i, err)
		}
		keys[ev.JobKey] = true
	}
	if len(keys) != jobs {
		t.Errorf("Expected %d distinct replayed jobs, got %d", jobs, len(keys))
	}
	if b.ConnectionCount() != 1 {
		t.Errorf("Expected connection to survive replay, count=%d", b.ConnectionCount())
	}
}

func TestBroadcaster_InitSubscribesAndReplays(t *testing.T) {
	b := newTestBroadcaster(allowAll{})
	server := httptest.NewServer(http.HandlerFunc(b.HandleConnection))
	defer server.Close()
	defer b.Close()

	conn := dial(t, server, "client_id=c1")

	b.UpdateProgress("mine", domain.StageDownload, 15, "downloading", "")
	// Drain the live update that predates the subscription
	if _, err := readEvent(t, conn, time.Second); err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if err := conn.WriteJSON(controlFrame{Type: "init", JobKey: "mine"}); err != nil {
		t.Fatalf("Init write failed: %v", err)
	}

	// The init replays the current state of the subscribed job
	ev, err := readEvent(t, conn, time.Second)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if ev.JobKey != "mine" || ev.Progress != 15 {
		t.Errorf("Expected replayed state for subscribed job, got %+v", ev)
	}

	// Events for other jobs are filtered out after the subscription
	b.UpdateProgress("other", domain.StageDownload, 5, "downloading", "")
	b.UpdateProgress("mine", domain.StageDownload, 30, "downloading", "")

	ev, err = readEvent(t, conn, time.Second)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if ev.JobKey != "mine" || ev.Progress != 30 {
		t.Errorf("Expected only subscribed job's event, got %+v", ev)
	}
}

func TestBroadcaster_CompleteUsesProgressFrame(t *testing.T) {
	b := newTestBroadcaster(allowAll{})
	server := httptest.NewServer(http.HandlerFunc(b.HandleConnection))
	defer server.Close()
	defer b.Close()

	conn := dial(t, server, "client_id=c1")

	b.Complete("video_1", "completed")

	ev, err := readEvent(t, conn, time.Second)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	// The wire protocol has two server frame types; success terminates via
	// progress at 100, never a third type.
	if ev.Type != "progress" {
		t.Errorf("Expected progress frame, got type %q", ev.Type)
	}
	if ev.Progress != 100 || ev.Stage != domain.StageCleanup || ev.Message != "completed" {
		t.Errorf("Unexpected terminal event: %+v", ev)
	}
}

func TestBroadcaster_TerminalEventsClearState(t *testing.T) {
	b := newTestBroadcaster(allowAll{})
	server := httptest.NewServer(http.HandlerFunc(b.HandleConnection))
	defer server.Close()
	defer b.Close()

	b.UpdateProgress("done_job", domain.StageCleanup, 90, "storing result", "")
	b.Complete("done_job", "completed")
	b.UpdateProgress("failed_job", domain.StageProcessing, 30, "preparing", "")
	b.ReportError("failed_job", errors.New("boom"), domain.StageProcessing)

	// A late subscriber sees no stale state for either job
	conn := dial(t, server, "client_id=c1")
	if ev, err := readEvent(t, conn, 300*time.Millisecond); err == nil {
		t.Errorf("Expected no replayed state after terminal events, got %+v", ev)
	}
}

func TestBroadcaster_ConnectionCeiling(t *testing.T) {
	b := newTestBroadcaster(allowAll{})
	b.maxPerIdentity = 2
	server := httptest.NewServer(http.HandlerFunc(b.HandleConnection))
	defer server.Close()
	defer b.Close()

	dial(t, server, "client_id=same")
	dial(t, server, "client_id=same")

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/?client_id=same"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Expected third connection rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Expected 429 rejection, got %+v", resp)
	}

	// A different identity still connects
	dial(t, server, "client_id=other")
}

func TestBroadcaster_SilentConnectionTornDown(t *testing.T) {
	b := newTestBroadcaster(allowAll{})
	server := httptest.NewServer(http.HandlerFunc(b.HandleConnection))
	defer server.Close()
	defer b.Close()

	conn := dial(t, server, "client_id=silent")

	// Never ping; the server must drop us after its timeout
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if b.ConnectionCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("Expected silent connection dropped after heartbeat timeout")
}

func TestBroadcaster_PingKeepsConnectionAlive(t *testing.T) {
	b := newTestBroadcaster(allowAll{})
	server := httptest.NewServer(http.HandlerFunc(b.HandleConnection))
	defer server.Close()
	defer b.Close()

	conn := dial(t, server, "client_id=alive")

	// Ping at half the timeout interval for several timeout windows
	for i := 0; i < 6; i++ {
		if err := conn.WriteJSON(controlFrame{Type: "ping"}); err != nil {
			t.Fatalf("Ping write failed: %v", err)
		}

		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Connection dropped while pinging: %v", err)
		}
		var frame controlFrame
		if err := json.Unmarshal(payload, &frame); err != nil || frame.Type != "pong" {
			t.Fatalf("Expected pong, got %s", payload)
		}

		time.Sleep(100 * time.Millisecond)
	}

	if b.ConnectionCount() != 1 {
		t.Errorf("Expected connection alive, count=%d", b.ConnectionCount())
	}
}

func TestBroadcaster_Subscriptions(t *testing.T) {
	b := newTestBroadcaster(allowAll{})
	defer b.Close()

	var mu sync.Mutex
	var seen []string
	token := b.Subscribe("video_1", func(ev domain.ProgressEvent) {
		mu.Lock()
		seen = append(seen, ev.JobKey)
		mu.Unlock()
	})

	b.UpdateProgress("video_1", domain.StageDownload, 5, "downloading", "")
	b.UpdateProgress("other", domain.StageDownload, 5, "downloading", "")

	mu.Lock()
	if len(seen) != 1 || seen[0] != "video_1" {
		t.Errorf("Expected only subscribed key, got %v", seen)
	}
	mu.Unlock()

	b.Unsubscribe(token)
	b.UpdateProgress("video_1", domain.StageDownload, 10, "downloading", "")

	mu.Lock()
	if len(seen) != 1 {
		t.Errorf("Expected no events after unsubscribe, got %v", seen)
	}
	mu.Unlock()
}
