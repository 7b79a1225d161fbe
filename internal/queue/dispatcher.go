package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Yashground/video-processing-app-sub000/internal/domain"
	"github.com/Yashground/video-processing-app-sub000/internal/logger"
)

// Runner executes one claimed job end to end.
type Runner interface {
	Run(ctx context.Context, job *domain.Job) error
}

// Dispatcher polls the queue and hands jobs to the runner, never exceeding
// the configured concurrency. A worker failure counts against the job's
// retry budget; a worker panic is contained and counted the same way.
type Dispatcher struct {
	queue         *Queue
	runner        Runner
	publisher     Publisher
	concurrency   int
	pollInterval  time.Duration
	retention     time.Duration
	sweepInterval time.Duration
	logger        *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	sem    chan struct{}
}

func NewDispatcher(q *Queue, runner Runner, publisher Publisher, concurrency int, pollInterval, retention, sweepInterval time.Duration, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		queue:         q,
		runner:        runner,
		publisher:     publisher,
		concurrency:   concurrency,
		pollInterval:  pollInterval,
		retention:     retention,
		sweepInterval: sweepInterval,
		logger:        log.WithComponent("dispatcher"),
		ctx:           ctx,
		cancel:        cancel,
		sem:           make(chan struct{}, concurrency),
	}
}

// Start launches the polling and sweep loops.
func (d *Dispatcher) Start() {
	d.logger.Info("Dispatcher started", "concurrency", d.concurrency, "poll_interval", d.pollInterval)

	d.wg.Add(1)
	go d.pollLoop()

	if d.sweepInterval > 0 {
		d.wg.Add(1)
		go d.sweepLoop()
	}
}

// Stop halts dispatching and waits for in-flight jobs to finish.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
	d.logger.Info("Dispatcher stopped")
}

func (d *Dispatcher) pollLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.dispatch()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.dispatch()
		}
	}
}

// dispatch claims pending jobs while worker slots are free.
func (d *Dispatcher) dispatch() {
	for {
		select {
		case d.sem <- struct{}{}:
		default:
			return
		}

		job, ok := d.queue.claimNext()
		if !ok {
			<-d.sem
			return
		}

		d.wg.Add(1)
		go func(job *domain.Job) {
			defer d.wg.Done()
			defer func() { <-d.sem }()
			d.runJob(job)
		}(job)
	}
}

// runJob executes one job attempt and settles its outcome in the queue.
func (d *Dispatcher) runJob(job *domain.Job) {
	log := d.logger.WithJob(job.Key)
	log.Info("Job started", "retry_count", job.RetryCount, "priority", job.Priority)

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("worker panic: %v", r)
				log.Error("Worker panicked", "panic", r)
			}
		}()
		err = d.runner.Run(d.ctx, job)
	}()

	if err == nil {
		d.queue.markCompleted(job.Key)
		log.Info("Job completed")
		return
	}

	terminal, retryCount := d.queue.markFailed(job.Key, err)
	if !terminal {
		log.Warn("Job attempt failed, requeued", "error", err, "retry", retryCount, "max_retries", job.MaxRetries)
		return
	}

	log.Error("Job failed permanently", "error", err, "attempts", retryCount+1)
	if d.publisher != nil {
		d.publisher.ReportError(job.Key, err, domain.StageProcessing)
	}
}

func (d *Dispatcher) sweepLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if n := d.queue.sweepTerminal(d.retention); n > 0 {
				d.logger.Info("Swept terminal jobs", "removed", n)
			}
		}
	}
}
