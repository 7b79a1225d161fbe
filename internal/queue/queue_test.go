package queue

import (
	"errors"
	"sync"
	"testing"

	"github.com/Yashground/video-processing-app-sub000/internal/domain"
	"github.com/Yashground/video-processing-app-sub000/internal/logger"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

func (p *fakePublisher) UpdateProgress(key string, stage domain.Stage, percent int, message, substage string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, domain.ProgressEvent{
		Type: "progress", JobKey: key, Stage: stage, Progress: percent, Message: message, Substage: substage,
	})
}

func (p *fakePublisher) ReportError(key string, err error, stage domain.Stage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, domain.ProgressEvent{Type: "error", JobKey: key, Stage: stage, Error: err.Error()})
}

func (p *fakePublisher) lastFor(key string) (domain.ProgressEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].JobKey == key {
			return p.events[i], true
		}
	}
	return domain.ProgressEvent{}, false
}

func TestQueue_SubmitDeduplicates(t *testing.T) {
	q := New(10, 3, &fakePublisher{}, logger.Default())

	pos, err := q.Submit("video_1", "client", 0)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if pos != 1 {
		t.Errorf("Expected position 1, got %d", pos)
	}

	// Same key again while pending
	if _, err := q.Submit("video_1", "client", 0); !errors.Is(err, domain.ErrAlreadyQueued) {
		t.Errorf("Expected ErrAlreadyQueued, got %v", err)
	}

	// A different key is fine
	if _, err := q.Submit("video_2", "client", 0); err != nil {
		t.Fatalf("Submit of second key failed: %v", err)
	}
}

func TestQueue_SubmitQueueFull(t *testing.T) {
	q := New(2, 3, &fakePublisher{}, logger.Default())

	for i, key := range []string{"a", "b"} {
		if _, err := q.Submit(key, "client", 0); err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
	}

	if _, err := q.Submit("c", "client", 0); !errors.Is(err, domain.ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}
}

func TestQueue_PriorityOrdering(t *testing.T) {
	q := New(10, 3, &fakePublisher{}, logger.Default())

	q.Submit("low_1", "client", 1)
	q.Submit("high", "client", 5)
	q.Submit("low_2", "client", 1)

	want := []string{"high", "low_1", "low_2"}
	for _, expected := range want {
		job, ok := q.claimNext()
		if !ok {
			t.Fatalf("Expected a claimable job for %s", expected)
		}
		if job.Key != expected {
			t.Errorf("Expected %s next, got %s", expected, job.Key)
		}
	}

	if _, ok := q.claimNext(); ok {
		t.Error("Expected empty queue after claiming all jobs")
	}
}

func TestQueue_CancelPendingOnly(t *testing.T) {
	q := New(10, 3, &fakePublisher{}, logger.Default())

	q.Submit("pending_job", "client", 0)
	q.Submit("running_job", "client", 5)

	// Claim moves running_job to processing (highest priority first)
	job, _ := q.claimNext()
	if job.Key != "running_job" {
		t.Fatalf("Expected running_job claimed, got %s", job.Key)
	}

	if err := q.Cancel("running_job"); err == nil {
		t.Error("Expected cancel of processing job to fail")
	}
	if err := q.Cancel("pending_job"); err != nil {
		t.Errorf("Cancel of pending job failed: %v", err)
	}
	if _, ok := q.Get("pending_job"); ok {
		t.Error("Expected cancelled job to be gone")
	}
}

func TestQueue_PositionsPublishedOnSubmit(t *testing.T) {
	pub := &fakePublisher{}
	q := New(10, 3, pub, logger.Default())

	q.Submit("first", "client", 0)
	q.Submit("second", "client", 0)

	ev, ok := pub.lastFor("second")
	if !ok {
		t.Fatal("Expected a position event for second")
	}
	if ev.Message != "position 2 of 2 in queue" {
		t.Errorf("Unexpected position message: %q", ev.Message)
	}

	// Cancelling the head moves second up
	q.Cancel("first")
	ev, _ = pub.lastFor("second")
	if ev.Message != "position 1 of 1 in queue" {
		t.Errorf("Expected republished position after cancel, got %q", ev.Message)
	}
}

func TestQueue_RetryRequeuesThenFails(t *testing.T) {
	pub := &fakePublisher{}
	q := New(10, 2, pub, logger.Default())

	q.Submit("flaky", "client", 0)
	cause := errors.New("service unavailable")

	for attempt := 1; attempt <= 2; attempt++ {
		job, ok := q.claimNext()
		if !ok {
			t.Fatalf("Attempt %d: expected claimable job", attempt)
		}
		terminal, retry := q.markFailed(job.Key, cause)
		if terminal {
			t.Fatalf("Attempt %d: expected requeue, got terminal", attempt)
		}
		if retry != attempt {
			t.Errorf("Attempt %d: expected retry count %d, got %d", attempt, attempt, retry)
		}
	}

	job, _ := q.claimNext()
	terminal, _ := q.markFailed(job.Key, cause)
	if !terminal {
		t.Fatal("Expected terminal failure after exhausting retries")
	}

	got, _ := q.Get("flaky")
	if got.State != domain.JobStateFailed {
		t.Errorf("Expected failed state, got %s", got.State)
	}
	if got.LastError != cause.Error() {
		t.Errorf("Expected last error recorded, got %q", got.LastError)
	}
}

func TestQueue_ResubmitAfterTerminal(t *testing.T) {
	q := New(10, 0, &fakePublisher{}, logger.Default())

	q.Submit("job", "client", 0)
	jb, _ := q.claimNext()
	q.markCompleted(jb.Key)

	// A completed key may be submitted again
	if _, err := q.Submit("job", "client", 0); err != nil {
		t.Errorf("Expected resubmit after completion to succeed, got %v", err)
	}
}

func TestQueue_SweepTerminal(t *testing.T) {
	q := New(10, 0, &fakePublisher{}, logger.Default())

	q.Submit("done", "client", 0)
	q.Submit("waiting", "client", 0)
	jb, _ := q.claimNext()
	q.markCompleted(jb.Key)

	if removed := q.sweepTerminal(0); removed != 1 {
		t.Errorf("Expected 1 swept job, got %d", removed)
	}
	if _, ok := q.Get("done"); ok {
		t.Error("Expected completed job swept")
	}
	if _, ok := q.Get("waiting"); !ok {
		t.Error("Expected pending job retained")
	}
}
