package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Yashground/video-processing-app-sub000/internal/domain"
	"github.com/Yashground/video-processing-app-sub000/internal/logger"
	"github.com/Yashground/video-processing-app-sub000/internal/mediainfo"
	"github.com/Yashground/video-processing-app-sub000/internal/transcribe"
)

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	putErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (c *fakeCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, ok := c.entries[key]
	return payload, ok
}

func (c *fakeCache) Put(key string, payload []byte, language string) error {
	if c.putErr != nil {
		return c.putErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = payload
	return nil
}

type fakeFetcher struct {
	path string
	size int64
	err  error
	urls []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url, name string) (string, int64, error) {
	f.urls = append(f.urls, url)
	return f.path, f.size, f.err
}

type fakeProber struct {
	duration time.Duration
	err      error
}

func (p *fakeProber) Duration(ctx context.Context, path string) (time.Duration, error) {
	return p.duration, p.err
}

type fakeTranscriber struct {
	result *domain.Transcript
	err    error
	reqs   []transcribe.Request
}

func (f *fakeTranscriber) Run(ctx context.Context, req transcribe.Request) (*domain.Transcript, error) {
	f.reqs = append(f.reqs, req)
	return f.result, f.err
}

type recordingPublisher struct {
	mu        sync.Mutex
	events    []domain.ProgressEvent
	completed []string
}

func (p *recordingPublisher) UpdateProgress(key string, stage domain.Stage, percent int, message, substage string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, domain.ProgressEvent{
		Type: "progress", JobKey: key, Stage: stage, Progress: percent, Message: message, Substage: substage,
	})
}

func (p *recordingPublisher) Complete(key, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, key)
}

type fakeTitles struct {
	titles map[string]string
}

func (f *fakeTitles) SetTitle(key, title string) {
	if f.titles == nil {
		f.titles = make(map[string]string)
	}
	f.titles[key] = title
}

func testTranscript() *domain.Transcript {
	return &domain.Transcript{
		Language: "en",
		Segments: []domain.TranscriptSegment{{Start: 0, End: 1000, Text: "hello"}},
	}
}

func newTestWorker(cache *fakeCache, fetcher *fakeFetcher, transcriber *fakeTranscriber, pub *recordingPublisher, titles *fakeTitles) *Worker {
	w := New(cache, fetcher, &fakeProber{duration: 3 * time.Minute}, transcriber, pub, titles,
		"http://media.local/files", logger.Default())
	w.probeTags = func(path string) (*mediainfo.Info, error) {
		return &mediainfo.Info{Title: "Talk", Artist: "Speaker", Language: "en"}, nil
	}
	return w
}

func TestWorker_FullPipeline(t *testing.T) {
	cache := newFakeCache()
	fetcher := &fakeFetcher{path: "/tmp/source", size: 42}
	transcriber := &fakeTranscriber{result: testTranscript()}
	pub := &recordingPublisher{}
	titles := &fakeTitles{}

	w := newTestWorker(cache, fetcher, transcriber, pub, titles)
	job := &domain.Job{Key: "video_1", Identity: "client"}

	if err := w.Run(context.Background(), job); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(fetcher.urls) != 1 || fetcher.urls[0] != "http://media.local/files/video_1" {
		t.Errorf("Unexpected fetch URL: %v", fetcher.urls)
	}

	if len(transcriber.reqs) != 1 {
		t.Fatalf("Expected one transcription request, got %d", len(transcriber.reqs))
	}
	req := transcriber.reqs[0]
	if req.SourcePath != "/tmp/source" {
		t.Errorf("Unexpected source path %q", req.SourcePath)
	}
	if req.LanguageHint != "en" {
		t.Errorf("Expected language hint from tags, got %q", req.LanguageHint)
	}

	payload, ok := cache.Get("video_1")
	if !ok {
		t.Fatal("Expected result stored in cache")
	}
	var stored domain.Transcript
	if err := json.Unmarshal(payload, &stored); err != nil {
		t.Fatalf("Stored payload is not valid JSON: %v", err)
	}
	if stored.Language != "en" || len(stored.Segments) != 1 {
		t.Errorf("Unexpected stored transcript: %+v", stored)
	}

	if titles.titles["video_1"] != "Speaker - Talk" {
		t.Errorf("Unexpected title %q", titles.titles["video_1"])
	}
	if len(pub.completed) != 1 || pub.completed[0] != "video_1" {
		t.Errorf("Expected completion event, got %v", pub.completed)
	}
}

func TestWorker_CacheHitShortCircuits(t *testing.T) {
	cache := newFakeCache()
	cache.entries["video_1"] = []byte(`{"language":"en","segments":[]}`)
	fetcher := &fakeFetcher{path: "/tmp/source"}
	transcriber := &fakeTranscriber{result: testTranscript()}
	pub := &recordingPublisher{}

	w := newTestWorker(cache, fetcher, transcriber, pub, &fakeTitles{})
	if err := w.Run(context.Background(), &domain.Job{Key: "video_1"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(fetcher.urls) != 0 {
		t.Error("Expected no fetch on cache hit")
	}
	if len(transcriber.reqs) != 0 {
		t.Error("Expected no transcription on cache hit")
	}
	if len(pub.completed) != 1 {
		t.Errorf("Expected completion announced, got %v", pub.completed)
	}
}

func TestWorker_FetchFailurePropagates(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("connection refused")}
	w := newTestWorker(newFakeCache(), fetcher, &fakeTranscriber{}, &recordingPublisher{}, &fakeTitles{})

	err := w.Run(context.Background(), &domain.Job{Key: "video_1"})
	if err == nil {
		t.Fatal("Expected fetch failure to fail the job")
	}
}

func TestWorker_TagProbeFailureIsNotFatal(t *testing.T) {
	cache := newFakeCache()
	transcriber := &fakeTranscriber{result: testTranscript()}
	w := newTestWorker(cache, &fakeFetcher{path: "/tmp/source"}, transcriber, &recordingPublisher{}, &fakeTitles{})
	w.probeTags = func(path string) (*mediainfo.Info, error) {
		return nil, errors.New("unreadable tags")
	}

	if err := w.Run(context.Background(), &domain.Job{Key: "video_1"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Duration falls back to the prober
	if transcriber.reqs[0].Duration != 3*time.Minute {
		t.Errorf("Expected probed duration fallback, got %v", transcriber.reqs[0].Duration)
	}
}

func TestWorker_StoreFailureFailsJob(t *testing.T) {
	cache := newFakeCache()
	cache.putErr = errors.New("disk full")
	w := newTestWorker(cache, &fakeFetcher{path: "/tmp/source"}, &fakeTranscriber{result: testTranscript()}, &recordingPublisher{}, &fakeTitles{})

	if err := w.Run(context.Background(), &domain.Job{Key: "video_1"}); err == nil {
		t.Fatal("Expected store failure to fail the job")
	}
}
