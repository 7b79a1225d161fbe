// Package worker runs one transcription job end to end: cache check, source
// download, analysis, transcription, and result storage.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Yashground/video-processing-app-sub000/internal/domain"
	"github.com/Yashground/video-processing-app-sub000/internal/logger"
	"github.com/Yashground/video-processing-app-sub000/internal/mediainfo"
	"github.com/Yashground/video-processing-app-sub000/internal/transcribe"
)

// ResultCache stores finished transcripts keyed by content identifier.
type ResultCache interface {
	Get(key string) ([]byte, bool)
	Put(key string, payload []byte, language string) error
}

// Fetcher downloads the source resource into the work directory.
type Fetcher interface {
	Fetch(ctx context.Context, url, name string) (string, int64, error)
}

// Prober reads the source duration.
type Prober interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
}

// Transcriber produces the merged transcript for one source.
type Transcriber interface {
	Run(ctx context.Context, req transcribe.Request) (*domain.Transcript, error)
}

// Publisher receives stage progress and the final completion event.
type Publisher interface {
	UpdateProgress(key string, stage domain.Stage, percent int, message, substage string)
	Complete(key, message string)
}

// TitleSetter records display metadata discovered during analysis.
type TitleSetter interface {
	SetTitle(key, title string)
}

type Worker struct {
	cache        ResultCache
	fetcher      Fetcher
	prober       Prober
	transcriber  Transcriber
	publisher    Publisher
	titles       TitleSetter
	mediaBaseURL string
	probeTags    func(path string) (*mediainfo.Info, error)
	logger       *logger.Logger
}

func New(cache ResultCache, fetcher Fetcher, prober Prober, transcriber Transcriber, publisher Publisher, titles TitleSetter, mediaBaseURL string, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.Default()
	}
	return &Worker{
		cache:        cache,
		fetcher:      fetcher,
		prober:       prober,
		transcriber:  transcriber,
		publisher:    publisher,
		titles:       titles,
		mediaBaseURL: strings.TrimRight(mediaBaseURL, "/"),
		probeTags:    mediainfo.Probe,
		logger:       log.WithComponent("worker"),
	}
}

// Run processes one claimed job. A cache hit short-circuits the whole
// pipeline; otherwise the source is fetched, analyzed, transcribed, and the
// result is stored before completion is announced.
func (w *Worker) Run(ctx context.Context, job *domain.Job) error {
	log := w.logger.WithJob(job.Key)

	w.publish(job.Key, domain.StageInitialization, 2, "starting", "")

	if _, ok := w.cache.Get(job.Key); ok {
		log.Info("Cache hit, skipping transcription")
		w.publisher.Complete(job.Key, "completed (cached)")
		return nil
	}

	w.publish(job.Key, domain.StageDownload, 5, "downloading source", "")
	sourceURL := w.mediaBaseURL + "/" + job.Key
	path, size, err := w.fetcher.Fetch(ctx, sourceURL, job.Key)
	if err != nil {
		return fmt.Errorf("failed to fetch source: %w", err)
	}
	log.Info("Source fetched", "size", size)
	w.publish(job.Key, domain.StageDownload, 20, "source downloaded", "")

	w.publish(job.Key, domain.StageAnalysis, 25, "analyzing source", "")
	duration, hint := w.analyze(ctx, job.Key, path, log)

	w.publish(job.Key, domain.StageProcessing, 30, "preparing transcription", "")
	transcript, err := w.transcriber.Run(ctx, transcribe.Request{
		Key:          job.Key,
		SourcePath:   path,
		Duration:     duration,
		LanguageHint: hint,
		OnProgress: func(percent int, substage string) {
			w.publish(job.Key, domain.StageTranscription, 40+percent*55/100, "transcribing", substage)
		},
	})
	if err != nil {
		return err
	}

	w.publish(job.Key, domain.StageCleanup, 96, "storing result", "")
	payload, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}
	if err := w.cache.Put(job.Key, payload, transcript.Language); err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}

	w.publisher.Complete(job.Key, "completed")
	return nil
}

// analyze reads tags and duration from the fetched source. Analysis is
// best-effort; a file with no usable metadata still transcribes.
func (w *Worker) analyze(ctx context.Context, key, path string, log *logger.Logger) (time.Duration, string) {
	var duration time.Duration
	var hint string

	if info, err := w.probeTags(path); err == nil {
		if info.Title != "" && w.titles != nil {
			title := info.Title
			if info.Artist != "" {
				title = info.Artist + " - " + info.Title
			}
			w.titles.SetTitle(key, title)
		}
		duration = info.Duration
		hint = info.Language
	} else {
		log.Warn("Tag probe failed", "error", err)
	}

	if duration <= 0 {
		d, err := w.prober.Duration(ctx, path)
		if err != nil {
			log.Warn("Duration probe failed", "error", err)
		} else {
			duration = d
		}
	}

	return duration, hint
}

func (w *Worker) publish(key string, stage domain.Stage, percent int, message, substage string) {
	if w.publisher != nil {
		w.publisher.UpdateProgress(key, stage, percent, message, substage)
	}
}
