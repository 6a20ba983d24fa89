package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/statement-pipeline/internal/domain"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeProcessDocument runs the statement pipeline for one uploaded file.
	JobTypeProcessDocument JobType = "process_document"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// Terminal reports whether the job will not run again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

var (
	// ErrJobExists is returned when a job with the same id was already submitted.
	ErrJobExists = errors.New("job already exists")
	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrQueueClosed is returned once the queue has been stopped.
	ErrQueueClosed = errors.New("queue is closed")
)

// ProcessDocumentJob is one asynchronous pipeline invocation. Its id is the
// caller's request id so resubmissions can be detected.
type ProcessDocumentJob struct {
	// JobID is the unique identifier for this job, equal to the request id.
	JobID string `json:"job_id"`

	// FilePath is the local copy of the uploaded statement.
	FilePath string `json:"-"`

	// SourceFile is the original file name used to tag saved rows.
	SourceFile string `json:"source_file"`

	Status JobStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// Transactions holds the saved batch once the job completed.
	Transactions domain.Batch `json:"transactions,omitempty"`
}

// Job is a generic interface for all job types.
type Job interface {
	GetID() string
	GetType() JobType
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *ProcessDocumentJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *ProcessDocumentJob) GetType() JobType {
	return JobTypeProcessDocument
}

// GetStatus implements the Job interface.
func (j *ProcessDocumentJob) GetStatus() JobStatus {
	return j.Status
}

// Clone returns a copy that shares no mutable state with j.
func (j *ProcessDocumentJob) Clone() *ProcessDocumentJob {
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	cp.Transactions = j.Transactions.Clone()
	return &cp
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishProcessDocument enqueues a job. It returns ErrJobExists when the
	// job id is already known.
	PublishProcessDocument(ctx context.Context, job *ProcessDocumentJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. A returned error is retried only when the
// queue's retry predicate accepts it.
type JobHandler func(ctx context.Context, job *ProcessDocumentJob) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// CreateJob stores a new job, failing with ErrJobExists on a duplicate id.
	CreateJob(ctx context.Context, job *ProcessDocumentJob) error

	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *ProcessDocumentJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*ProcessDocumentJob, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*ProcessDocumentJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	SourceFile string
	Status     JobStatus
	Limit      int
	Offset     int
}
