package printer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobStatus is the lifecycle state of a queued job
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusPrinting  JobStatus = "printing"
	StatusFailed    JobStatus = "failed"
	StatusCompleted JobStatus = "completed"
)

// ErrJobNotFound is returned for unknown job IDs
var ErrJobNotFound = errors.New("job not found")

// Job is one image waiting for, or sent to, a printer
type Job struct {
	ID          string
	PrinterID   string
	PrinterName string
	Image       image.Image
	Options     Options
	Retries     int
	Status      JobStatus
	Error       error
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Done reports whether the job reached a final state
func (j *Job) Done() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// PrintQueue sends jobs one at a time, retrying failures
type PrintQueue struct {
	jobs       []*Job
	pool       *ConnectionPool
	manager    *Manager
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
	onUpdate   func(Job)
	wake       chan struct{}
	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// QueueOption configures a PrintQueue
type QueueOption func(*PrintQueue)

// WithRetryDelay sets the pause before a failed job is retried
func WithRetryDelay(d time.Duration) QueueOption {
	return func(q *PrintQueue) {
		q.retryDelay = d
	}
}

// WithQueueLogger sets the logger
func WithQueueLogger(logger *zap.Logger) QueueOption {
	return func(q *PrintQueue) {
		q.logger = logger
	}
}

// NewPrintQueue starts a queue worker. Stop must be called to release it.
func NewPrintQueue(pool *ConnectionPool, manager *Manager, maxRetries int, opts ...QueueOption) *PrintQueue {
	ctx, cancel := context.WithCancel(context.Background())

	q := &PrintQueue{
		pool:       pool,
		manager:    manager,
		maxRetries: max(maxRetries, 1),
		retryDelay: time.Second,
		logger:     zap.NewNop(),
		wake:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(q)
	}

	q.wg.Add(1)
	go q.worker()

	return q
}

// OnUpdate registers a callback receiving a copy of each job whenever its
// status changes. It runs with the queue locked and must not call back into
// the queue.
func (q *PrintQueue) OnUpdate(callback func(Job)) {
	q.mu.Lock()
	q.onUpdate = callback
	q.mu.Unlock()
}

// Enqueue adds a job for the printer and returns its ID
func (q *PrintQueue) Enqueue(p *Printer, img image.Image, opts Options) string {
	now := time.Now()
	job := &Job{
		ID:          uuid.NewString(),
		PrinterID:   p.ID,
		PrinterName: p.DisplayName(),
		Image:       img,
		Options:     opts,
		Status:      StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.notifyLocked(job)
	q.mu.Unlock()

	q.logger.Info("print job queued", zap.String("job_id", job.ID), zap.String("printer", job.PrinterName))

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return job.ID
}

func (q *PrintQueue) worker() {
	defer q.wg.Done()

	tick := q.retryDelay
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.wake:
		case <-ticker.C:
		}
		for q.processNextJob() {
			if q.ctx.Err() != nil {
				return
			}
		}
	}
}

// processNextJob runs the oldest queued job that is due. It reports whether
// a job was run.
func (q *PrintQueue) processNextJob() bool {
	q.mu.Lock()
	var job *Job
	now := time.Now()
	for _, j := range q.jobs {
		if j.Status == StatusQueued && (j.Retries == 0 || now.Sub(j.UpdatedAt) >= q.retryDelay) {
			job = j
			job.Status = StatusPrinting
			job.UpdatedAt = now
			q.notifyLocked(job)
			break
		}
	}
	q.mu.Unlock()

	if job == nil {
		return false
	}

	err := q.printJob(job)

	q.mu.Lock()
	defer q.mu.Unlock()

	job.UpdatedAt = time.Now()
	if err == nil {
		job.Status = StatusCompleted
		job.Error = nil
		q.logger.Info("print job completed", zap.String("job_id", job.ID), zap.String("printer", job.PrinterName))
		q.notifyLocked(job)
		return true
	}

	job.Retries++
	job.Error = err
	if job.Retries >= q.maxRetries {
		job.Status = StatusFailed
		q.logger.Error("print job failed",
			zap.String("job_id", job.ID), zap.Int("retries", job.Retries), zap.Error(err))
	} else {
		job.Status = StatusQueued
		q.logger.Warn("print job failed, retrying",
			zap.String("job_id", job.ID), zap.Int("attempt", job.Retries), zap.Int("max", q.maxRetries), zap.Error(err))
	}
	q.notifyLocked(job)
	return true
}

func (q *PrintQueue) printJob(job *Job) error {
	if !q.pool.IsConnected(job.PrinterID) {
		p := q.manager.GetPrinter(job.PrinterID)
		if p == nil {
			return fmt.Errorf("%w: %s", ErrPrinterNotFound, job.PrinterName)
		}
		if err := q.pool.Connect(p); err != nil {
			return fmt.Errorf("failed to connect to printer: %w", err)
		}
	}

	return q.pool.Send(job.PrinterID, Encode(job.Image, job.Options))
}

func (q *PrintQueue) notifyLocked(job *Job) {
	if q.onUpdate != nil {
		q.onUpdate(*job)
	}
}

// GetJob returns a copy of a job
func (q *PrintQueue) GetJob(jobID string) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, job := range q.jobs {
		if job.ID == jobID {
			cp := *job
			return &cp
		}
	}
	return nil
}

// GetAllJobs returns copies of all jobs in submission order
func (q *PrintQueue) GetAllJobs() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]*Job, len(q.jobs))
	for i, job := range q.jobs {
		cp := *job
		jobs[i] = &cp
	}
	return jobs
}

// Wait blocks until the job is completed or failed
func (q *PrintQueue) Wait(ctx context.Context, jobID string) (*Job, error) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		job := q.GetJob(jobID)
		if job == nil {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		if job.Done() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ClearCompleted drops completed jobs
func (q *PrintQueue) ClearCompleted() {
	q.mu.Lock()
	defer q.mu.Unlock()

	filtered := q.jobs[:0]
	for _, job := range q.jobs {
		if job.Status != StatusCompleted {
			filtered = append(filtered, job)
		}
	}
	clear(q.jobs[len(filtered):])
	q.jobs = filtered
}

// Stop stops the worker and waits for the running job to finish
func (q *PrintQueue) Stop() {
	q.cancel()
	q.wg.Wait()
}
