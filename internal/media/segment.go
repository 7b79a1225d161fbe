// Package media handles fetching, probing, and segmenting source audio.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// Segment is a time-bounded slice of a source resource. OffsetMS is the
// absolute start offset within the original timeline.
type Segment struct {
	Index    int
	OffsetMS int64
	Path     string
}

// Remove deletes the segment's local file. Safe to call more than once.
func (s Segment) Remove() {
	if s.Path != "" {
		_ = os.Remove(s.Path)
	}
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out.String(), fmt.Errorf("%s exited %d: %s", name, exitErr.ExitCode(), stderr.String())
		}
		return out.String(), fmt.Errorf("%s: %w", name, err)
	}
	return out.String(), nil
}

// FFmpegSplitter cuts a source into bounded-duration mono 16kHz WAV segments.
// Segment extraction runs with its own bounded parallelism, independent of the
// dispatcher's job-level concurrency.
type FFmpegSplitter struct {
	ffmpegPath string
	workDir    string
	segmentDur time.Duration
	workers    int
	runner     commandRunner
}

func NewFFmpegSplitter(workDir string, segmentDur time.Duration, workers int) *FFmpegSplitter {
	if workers < 1 {
		workers = 1
	}
	return &FFmpegSplitter{
		ffmpegPath: "ffmpeg",
		workDir:    workDir,
		segmentDur: segmentDur,
		workers:    workers,
		runner:     &execRunner{},
	}
}

// Split extracts segments covering the whole duration, preserving absolute
// time offsets. On any extraction failure the created segment files are
// removed and the error is returned.
func (s *FFmpegSplitter) Split(ctx context.Context, sourcePath string, duration time.Duration) ([]Segment, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("source duration is required for splitting")
	}

	count := int((duration + s.segmentDur - 1) / s.segmentDur)
	if count < 1 {
		count = 1
	}

	base := filepath.Base(sourcePath)
	segments := make([]Segment, count)
	errs := make([]error, count)

	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		offset := time.Duration(i) * s.segmentDur
		out := filepath.Join(s.workDir, fmt.Sprintf("%s.seg%03d.wav", base, i))
		segments[i] = Segment{
			Index:    i,
			OffsetMS: offset.Milliseconds(),
			Path:     out,
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(i int, offset time.Duration, out string) {
			defer wg.Done()
			defer func() { <-sem }()

			args := []string{
				"-hide_banner",
				"-nostdin",
				"-y",
				"-ss", formatSeconds(offset),
				"-t", formatSeconds(s.segmentDur),
				"-i", sourcePath,
				"-vn",
				"-ac", "1",
				"-ar", "16000",
				"-c:a", "pcm_s16le",
				out,
			}
			if _, err := s.runner.Run(ctx, s.ffmpegPath, args...); err != nil {
				errs[i] = fmt.Errorf("segment %d: %w", i, err)
			}
		}(i, offset, out)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			for _, seg := range segments {
				seg.Remove()
			}
			return nil, err
		}
	}

	return segments, nil
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}
