// Package queue owns the job list: admission control, ordering, and the
// bounded-concurrency dispatcher that executes jobs.
package queue

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Yashground/video-processing-app-sub000/internal/domain"
	"github.com/Yashground/video-processing-app-sub000/internal/logger"
)

// Publisher is the progress-notification collaborator. The queue publishes
// recomputed positions after every mutation; the dispatcher publishes retry
// and terminal events.
type Publisher interface {
	UpdateProgress(key string, stage domain.Stage, percent int, message, substage string)
	ReportError(key string, err error, stage domain.Stage)
}

// Queue holds every known job. Jobs are mutated only through Queue methods;
// workers receive snapshots.
type Queue struct {
	mu         sync.Mutex
	jobs       []*domain.Job
	maxPending int
	maxRetries int
	publisher  Publisher
	logger     *logger.Logger
	now        func() time.Time
}

func New(maxPending, maxRetries int, publisher Publisher, log *logger.Logger) *Queue {
	if log == nil {
		log = logger.Default()
	}
	return &Queue{
		maxPending: maxPending,
		maxRetries: maxRetries,
		publisher:  publisher,
		logger:     log.WithComponent("queue"),
		now:        time.Now,
	}
}

// Submit admits a new job and returns its queue position (1-based).
// Fails with domain.ErrAlreadyQueued if a Pending or Processing job exists
// for the key, or domain.ErrQueueFull at the pending ceiling. Once accepted,
// the submission is fire-and-forget; outcomes surface only through the
// progress channel.
func (q *Queue) Submit(key string, identity domain.Identity, priority int) (int, error) {
	q.mu.Lock()

	for _, j := range q.jobs {
		if j.Key == key && !j.Terminal() {
			q.mu.Unlock()
			return 0, domain.ErrAlreadyQueued
		}
	}

	if q.countPendingLocked() >= q.maxPending {
		q.mu.Unlock()
		return 0, domain.ErrQueueFull
	}

	now := q.now()
	job := &domain.Job{
		Key:         key,
		Identity:    identity,
		Priority:    priority,
		State:       domain.JobStatePending,
		MaxRetries:  q.maxRetries,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	q.jobs = append(q.jobs, job)
	q.sortLocked()
	position := q.positionLocked(key)
	q.mu.Unlock()

	q.logger.Info("Job submitted", "job_key", key, "identity", identity, "priority", priority, "position", position)
	q.publishPositions()
	return position, nil
}

// Cancel removes a Pending job. Processing jobs run to completion.
func (q *Queue) Cancel(key string) error {
	q.mu.Lock()
	idx := -1
	for i, j := range q.jobs {
		if j.Key == key && j.State == domain.JobStatePending {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return fmt.Errorf("no pending job for key %s", key)
	}
	q.jobs = append(q.jobs[:idx], q.jobs[idx+1:]...)
	q.mu.Unlock()

	q.logger.Info("Job cancelled", "job_key", key)
	q.publishPositions()
	return nil
}

// Get returns a snapshot of the job for key.
func (q *Queue) Get(key string) (*domain.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.Key == key {
			copy := *j
			return &copy, true
		}
	}
	return nil, false
}

// List returns a snapshot of all jobs in queue order.
func (q *Queue) List() []*domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*domain.Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		copy := *j
		out = append(out, &copy)
	}
	return out
}

// SetTitle records display metadata discovered during analysis.
func (q *Queue) SetTitle(key, title string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.Key == key && !j.Terminal() {
			j.Title = title
			return
		}
	}
}

// claimNext pops the head Pending job and marks it Processing. The dedupe in
// Submit plus this single transition point keeps at most one Processing job
// per key.
func (q *Queue) claimNext() (*domain.Job, bool) {
	q.mu.Lock()
	for _, j := range q.jobs {
		if j.State == domain.JobStatePending {
			j.State = domain.JobStateProcessing
			j.UpdatedAt = q.now()
			copy := *j
			q.mu.Unlock()
			q.publishPositions()
			return &copy, true
		}
	}
	q.mu.Unlock()
	return nil, false
}

func (q *Queue) countProcessing() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, j := range q.jobs {
		if j.State == domain.JobStateProcessing {
			n++
		}
	}
	return n
}

// markCompleted transitions a Processing job to Completed.
func (q *Queue) markCompleted(key string) {
	q.mu.Lock()
	for _, j := range q.jobs {
		if j.Key == key && j.State == domain.JobStateProcessing {
			j.State = domain.JobStateCompleted
			j.RetryCount = q.retryCountLocked(key)
			j.UpdatedAt = q.now()
			break
		}
	}
	q.mu.Unlock()
}

// markFailed records a failed attempt. Below the retry limit the job
// transitions back to Pending at the tail of its priority band and the retry
// is announced as progress; at the limit it becomes terminally Failed and
// true is returned.
func (q *Queue) markFailed(key string, cause error) (terminal bool, retryCount int) {
	q.mu.Lock()
	var job *domain.Job
	for _, j := range q.jobs {
		if j.Key == key && j.State == domain.JobStateProcessing {
			job = j
			break
		}
	}
	if job == nil {
		q.mu.Unlock()
		return false, 0
	}

	job.LastError = cause.Error()
	job.UpdatedAt = q.now()

	if job.RetryCount < job.MaxRetries {
		job.RetryCount++
		job.State = domain.JobStatePending
		// Tail of the priority band: retried jobs queue behind peers of the
		// same priority.
		job.SubmittedAt = q.now()
		q.sortLocked()
		retry := job.RetryCount
		max := job.MaxRetries
		q.mu.Unlock()

		q.publisher.UpdateProgress(key, domain.StageInitialization, 0,
			fmt.Sprintf("retrying (%d/%d)", retry, max), "retry")
		q.publishPositions()
		return false, retry
	}

	job.State = domain.JobStateFailed
	retryCount = job.RetryCount
	q.mu.Unlock()
	return true, retryCount
}

func (q *Queue) retryCountLocked(key string) int {
	for _, j := range q.jobs {
		if j.Key == key {
			return j.RetryCount
		}
	}
	return 0
}

// sweepTerminal purges Completed/Failed jobs older than the retention window.
// Housekeeping only.
func (q *Queue) sweepTerminal(retention time.Duration) int {
	cutoff := q.now().Add(-retention)
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.jobs[:0]
	removed := 0
	for _, j := range q.jobs {
		if j.Terminal() && j.UpdatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, j)
	}
	q.jobs = kept
	return removed
}

func (q *Queue) countPendingLocked() int {
	n := 0
	for _, j := range q.jobs {
		if j.State == domain.JobStatePending {
			n++
		}
	}
	return n
}

// sortLocked applies the queue ordering: Pending before any other state,
// then priority descending, then submission time ascending.
func (q *Queue) sortLocked() {
	sort.SliceStable(q.jobs, func(i, j int) bool {
		a, b := q.jobs[i], q.jobs[j]
		aPending := a.State == domain.JobStatePending
		bPending := b.State == domain.JobStatePending
		if aPending != bPending {
			return aPending
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.SubmittedAt.Before(b.SubmittedAt)
	})
}

// positionLocked returns the 1-based position of key among Pending jobs.
func (q *Queue) positionLocked(key string) int {
	pos := 0
	for _, j := range q.jobs {
		if j.State != domain.JobStatePending {
			continue
		}
		pos++
		if j.Key == key {
			return pos
		}
	}
	return 0
}

// publishPositions pushes the recomputed position of every Pending job.
func (q *Queue) publishPositions() {
	if q.publisher == nil {
		return
	}

	q.mu.Lock()
	type entry struct {
		key      string
		position int
		total    int
	}
	var pending []entry
	for _, j := range q.jobs {
		if j.State == domain.JobStatePending {
			pending = append(pending, entry{key: j.Key})
		}
	}
	for i := range pending {
		pending[i].position = i + 1
		pending[i].total = len(pending)
	}
	q.mu.Unlock()

	for _, e := range pending {
		q.publisher.UpdateProgress(e.key, domain.StageInitialization, 0,
			fmt.Sprintf("position %d of %d in queue", e.position, e.total), "queued")
	}
}
