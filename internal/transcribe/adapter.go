// Package transcribe executes the segment-and-merge transcription of one
// source resource against the external speech-to-text service.
package transcribe

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Yashground/video-processing-app-sub000/internal/constants"
	"github.com/Yashground/video-processing-app-sub000/internal/domain"
	"github.com/Yashground/video-processing-app-sub000/internal/logger"
	"github.com/Yashground/video-processing-app-sub000/internal/media"
)

// Splitter cuts a source into offset-preserving segments.
type Splitter interface {
	Split(ctx context.Context, sourcePath string, duration time.Duration) ([]media.Segment, error)
}

// ProgressFunc receives transcription progress as percent of the stage done.
type ProgressFunc func(percent int, substage string)

// Request describes one job's source resource.
type Request struct {
	Key          string
	SourcePath   string
	Duration     time.Duration
	LanguageHint string
	OnProgress   ProgressFunc
}

// Adapter splits oversized sources, transcribes each segment with bounded
// retry, and merges the fragments back onto the original timeline.
type Adapter struct {
	service   Service
	splitter  Splitter
	threshold int64
	parallel  int
	attempts  int
	backoff   time.Duration
	logger    *logger.Logger
}

func NewAdapter(service Service, splitter Splitter, parallel int, log *logger.Logger) *Adapter {
	if log == nil {
		log = logger.Default()
	}
	if parallel < 1 {
		parallel = 1
	}
	return &Adapter{
		service:   service,
		splitter:  splitter,
		threshold: constants.SegmentThresholdBytes,
		parallel:  parallel,
		attempts:  constants.TranscribeAttempts,
		backoff:   constants.TranscribeBackoffBase,
		logger:    log.WithComponent("transcribe"),
	}
}

// Run transcribes one source. The source file is always removed once the
// merge step completes, success or not. Segment files never outlive their own
// transcription attempt.
func (a *Adapter) Run(ctx context.Context, req Request) (*domain.Transcript, error) {
	defer func() {
		_ = os.Remove(req.SourcePath)
	}()

	log := a.logger.WithJob(req.Key)

	info, err := os.Stat(req.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("cannot access source: %w", err)
	}

	segments := []media.Segment{{Index: 0, OffsetMS: 0, Path: req.SourcePath}}
	split := false
	if info.Size() > a.threshold {
		split = true
		segments, err = a.splitter.Split(ctx, req.SourcePath, req.Duration)
		if err != nil {
			return nil, fmt.Errorf("failed to split source: %w", err)
		}
		log.Info("Source split into segments", "segments", len(segments), "size", info.Size())
	}

	results := make([]*domain.Transcript, len(segments))
	total := len(segments)

	report := func(done int) {
		if req.OnProgress != nil {
			req.OnProgress(done*100/total, fmt.Sprintf("segment %d/%d", done, total))
		}
	}

	// The first segment runs alone so its detected language can be pinned as
	// the hint for the rest; one job never mixes detected languages.
	first, err := a.transcribeSegment(ctx, segments[0], req.LanguageHint, split, log)
	if err != nil {
		a.removeSegments(segments[1:], split)
		return nil, err
	}
	results[0] = first
	report(1)

	hint := req.LanguageHint
	if first.Language != "" {
		hint = first.Language
	}

	if total > 1 {
		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			runErr error
			done   = 1
			sem    = make(chan struct{}, a.parallel)
		)
		for i := 1; i < total; i++ {
			sem <- struct{}{}
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				defer func() { <-sem }()

				res, segErr := a.transcribeSegment(ctx, segments[i], hint, split, log)
				mu.Lock()
				defer mu.Unlock()
				if segErr != nil {
					if runErr == nil {
						runErr = segErr
					}
					return
				}
				results[i] = res
				done++
				report(done)
			}(i)
		}
		wg.Wait()
		if runErr != nil {
			return nil, runErr
		}
	}

	return a.merge(hint, segments, results)
}

// transcribeSegment runs one segment with a bounded exponential backoff loop.
// The segment's local file is deleted as soon as its attempt resolves.
func (a *Adapter) transcribeSegment(ctx context.Context, seg media.Segment, hint string, ownFile bool, log *logger.Logger) (*domain.Transcript, error) {
	if ownFile {
		defer seg.Remove()
	}

	delay := a.backoff
	var lastErr error
	for attempt := 0; attempt < a.attempts; attempt++ {
		if attempt > 0 {
			log.Info("Retrying segment transcription", "segment", seg.Index, "attempt", attempt+1, "delay", delay)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		}

		result, err := a.service.Transcribe(ctx, seg.Path, hint)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !domain.Retryable(err) {
			break
		}
	}

	return nil, fmt.Errorf("segment %d: %w", seg.Index, lastErr)
}

// merge applies each segment's absolute offset to its fragment timestamps and
// concatenates fragments in segment order. Partial output is never returned:
// an empty segment result or zero total fragments fails the job.
func (a *Adapter) merge(language string, segments []media.Segment, results []*domain.Transcript) (*domain.Transcript, error) {
	var merged []domain.TranscriptSegment
	for i, res := range results {
		if res == nil || len(res.Segments) == 0 {
			return nil, fmt.Errorf("%w: segment %d produced no fragments", domain.ErrTranscriptionFailed, i)
		}
		offset := segments[i].OffsetMS
		for _, frag := range res.Segments {
			merged = append(merged, domain.TranscriptSegment{
				Start: frag.Start + offset,
				End:   frag.End + offset,
				Text:  frag.Text,
			})
		}
	}

	if len(merged) == 0 {
		return nil, fmt.Errorf("%w: no fragments after merge", domain.ErrTranscriptionFailed)
	}

	return &domain.Transcript{
		Language: language,
		Segments: merged,
	}, nil
}

// removeSegments cleans up segments whose transcription never started.
func (a *Adapter) removeSegments(segments []media.Segment, ownFiles bool) {
	if !ownFiles {
		return
	}
	for _, seg := range segments {
		seg.Remove()
	}
}
