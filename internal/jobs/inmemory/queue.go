package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/jobs"
	"github.com/dvloznov/statement-pipeline/internal/logger"
)

const (
	DefaultBufferSize   = 100
	DefaultWorkers      = 4
	DefaultRetryBackoff = time.Second
)

// Config sizes the queue.
type Config struct {
	BufferSize int
	Workers    int
	// MaxRetries applies to jobs published without their own limit.
	MaxRetries   int
	RetryBackoff time.Duration
	// Retryable decides whether a handler error re-runs the job.
	// Defaults to domain.IsRetryable.
	Retryable func(error) bool
	// OnFinish runs once per job after it reaches a terminal status.
	OnFinish func(job *jobs.ProcessDocumentJob)
}

// Queue is an in-memory implementation of job publisher and consumer.
// It uses channels for job distribution and is safe for concurrent use.
// Suitable for single-instance deployments and tests.
type Queue struct {
	cfg       Config
	jobChan   chan *jobs.ProcessDocumentJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	closed    bool
}

// NewQueue creates a new in-memory job queue backed by store.
func NewQueue(cfg Config, store jobs.JobStore) *Queue {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.Retryable == nil {
		cfg.Retryable = domain.IsRetryable
	}
	return &Queue{
		cfg:       cfg,
		jobChan:   make(chan *jobs.ProcessDocumentJob, cfg.BufferSize),
		closeChan: make(chan struct{}),
		store:     store,
	}
}

// PublishProcessDocument implements the Publisher interface.
func (q *Queue) PublishProcessDocument(ctx context.Context, job *jobs.ProcessDocumentJob) error {
	if job.JobID == "" {
		return fmt.Errorf("PublishProcessDocument: job ID is required")
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = q.cfg.MaxRetries
	}

	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return jobs.ErrQueueClosed
	}

	if err := q.store.CreateJob(ctx, job); err != nil {
		return err
	}
	// Workers own their copy; the caller may keep reading job.
	if err := q.enqueue(ctx, job.Clone()); err != nil {
		_ = q.store.UpdateJobStatus(ctx, job.JobID, jobs.JobStatusFailed, err.Error())
		return err
	}
	return nil
}

func (q *Queue) enqueue(ctx context.Context, job *jobs.ProcessDocumentJob) error {
	select {
	case <-q.closeChan:
		return jobs.ErrQueueClosed
	default:
	}

	select {
	case q.jobChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return jobs.ErrQueueClosed
	}
}

// Start implements the Consumer interface. It runs cfg.Workers goroutines
// that call handler for each job.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return jobs.ErrQueueClosed
	}
	q.mu.RUnlock()

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}
			q.processJob(ctx, job, handler)
		}
	}
}

// processJob executes a single job and schedules a retry when the error allows it.
func (q *Queue) processJob(ctx context.Context, job *jobs.ProcessDocumentJob, handler jobs.JobHandler) {
	log := logger.FromContext(ctx).With().Str("job_id", job.JobID).Logger()

	job.Status = jobs.JobStatusRunning
	now := time.Now().UTC()
	job.StartedAt = &now
	job.CompletedAt = nil
	_ = q.store.SaveJob(ctx, job)

	err := handler(ctx, job)

	completedAt := time.Now().UTC()
	job.CompletedAt = &completedAt

	if err == nil {
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
		_ = q.store.SaveJob(ctx, job)
		log.Info().Int("transactions", len(job.Transactions)).Msg("job completed")
		q.finish(job)
		return
	}

	job.Error = err.Error()
	if !q.cfg.Retryable(err) || job.RetryCount >= job.MaxRetries {
		job.Status = jobs.JobStatusFailed
		_ = q.store.SaveJob(ctx, job)
		log.Error().Err(err).Int("retry_count", job.RetryCount).Msg("job failed")
		q.finish(job)
		return
	}

	job.RetryCount++
	job.Status = jobs.JobStatusRetrying
	_ = q.store.SaveJob(ctx, job)
	log.Warn().Err(err).Int("retry_count", job.RetryCount).Msg("job scheduled for retry")

	backoff := time.Duration(job.RetryCount) * q.cfg.RetryBackoff
	time.AfterFunc(backoff, func() {
		job.Status = jobs.JobStatusPending
		job.StartedAt = nil
		job.CompletedAt = nil
		_ = q.store.SaveJob(ctx, job)
		if err := q.enqueue(ctx, job); err != nil {
			job.Status = jobs.JobStatusFailed
			job.Error = fmt.Sprintf("retry not scheduled: %v", err)
			_ = q.store.SaveJob(context.WithoutCancel(ctx), job)
			q.finish(job)
		}
	})
}

func (q *Queue) finish(job *jobs.ProcessDocumentJob) {
	if q.cfg.OnFinish != nil {
		q.cfg.OnFinish(job)
	}
}

// Stop implements the Consumer interface.
// It stops the queue and waits for all in-flight jobs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
