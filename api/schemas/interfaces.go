// File: api/schemas/interfaces.go
// Description: Collaborator contracts shared across the intake API and the
// worker. Components accept these interfaces so each side can be exercised
// in isolation with mocks.
package schemas

import (
	"context"
	"time"
)

// JobStore persists job records and performs guarded status transitions.
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, jobID string) (*Job, error)
	// GetJobStatus is the cheap status poll used by the pipeline's
	// cooperative cancellation check.
	GetJobStatus(ctx context.Context, jobID string) (JobStatus, error)
	// TransitionJob updates status from exactly `from` to `to`, applying
	// the extra column mutations. It returns ErrInvalidTransition when the
	// job is not in the required source state.
	TransitionJob(ctx context.Context, jobID string, from, to JobStatus, mut JobMutation) error
	ListJobs(ctx context.Context, limit int) ([]JobSummary, error)
}

// JobMutation carries the optional column updates applied alongside a
// status transition.
type JobMutation struct {
	StartedAt      *time.Time
	CompletedAt    *time.Time
	SelectedStages []string
	SetStages      bool
	Destructive    *bool
	ErrorMessage   string
	ReportPath     string
}

// FindingStore is the append-only, dedup-on-write finding collection.
// Saving an identical (job, qualified title) pair twice is a silent no-op.
type FindingStore interface {
	SaveFinding(ctx context.Context, f Finding) error
	ListFindings(ctx context.Context, jobID string) ([]Finding, error)
}

// WorkQueue decouples job acceptance from scan execution.
type WorkQueue interface {
	Enqueue(ctx context.Context, item WorkItem) error
	// Dequeue blocks until an item is claimed or the context ends.
	Dequeue(ctx context.Context) (*ClaimedItem, error)
}

// ClaimedItem is a dequeued work item that must be acknowledged.
type ClaimedItem struct {
	ID   int64
	Item WorkItem

	// Ack marks the item done (or failed, with a reason) so it is not
	// redelivered.
	Ack func(ctx context.Context, failure string) error

	// Requeue returns the item to pending for another consumer, e.g. when
	// the current worker is shutting down mid-job.
	Requeue func(ctx context.Context) error
}

// ToolExecutor runs one external scanning tool with a bounded timeout and a
// bounded output buffer. A non-zero tool exit is not an error; output
// collected so far is returned.
type ToolExecutor interface {
	Run(ctx context.Context, image string, args ...string) (string, error)
	// ScratchDir is a host directory bind-mounted into tool containers for
	// file-based output exchange.
	ScratchDir() string
}

// Notifier dispatches operator/requester email. Implementations report
// failure via error, but callers always treat dispatch as best-effort.
type Notifier interface {
	SendReport(ctx context.Context, recipient, jobID, target, reportPath string) error
	SendDecline(ctx context.Context, recipient, target, reason string) error
}

// ReportGenerator renders the final report artifact and returns its path.
type ReportGenerator interface {
	Generate(ctx context.Context, job *Job, findings []Finding) (string, error)
}

// LogSink receives per-job progress lines from the pipeline.
type LogSink interface {
	Publish(jobID, line string)
}
