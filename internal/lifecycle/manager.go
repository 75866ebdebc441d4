// Package lifecycle owns the job state machine. Every status change in the
// system flows through the Manager, which delegates the actual compare-and-set
// to the store's guarded transition and layers the side effects (work
// dispatch, notification) on top.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ShapezModder/enterprise-security-saas/api/schemas"
)

// StartOverrides are the operator-supplied adjustments applied when a queued
// job is approved for execution.
type StartOverrides struct {
	// SelectedStages replaces the job's stage selection when non-nil. An
	// explicit empty slice clears the selection, which makes every stage
	// run; nil means "keep as submitted".
	SelectedStages []string

	// Destructive upgrades or downgrades the destructive flag. Nil keeps
	// the submitted value.
	Destructive *bool
}

// Manager coordinates job status transitions and their side effects.
type Manager struct {
	jobs     schemas.JobStore
	queue    schemas.WorkQueue
	notifier schemas.Notifier
	log      *zap.Logger
}

// NewManager wires a lifecycle manager. notifier may be nil, in which case
// decline and completion mail is skipped.
func NewManager(jobs schemas.JobStore, queue schemas.WorkQueue, notifier schemas.Notifier, logger *zap.Logger) *Manager {
	return &Manager{jobs: jobs, queue: queue, notifier: notifier, log: logger.Named("lifecycle")}
}

// Start approves a queued job: it moves QUEUED -> RUNNING, persists any
// operator overrides, and dispatches a work item. If dispatch fails the job
// is marked FAILED so it never sits in RUNNING with no worker coming.
func (m *Manager) Start(ctx context.Context, jobID string, overrides StartOverrides) error {
	now := time.Now().UTC()
	mut := schemas.JobMutation{StartedAt: &now, Destructive: overrides.Destructive}
	if overrides.SelectedStages != nil {
		mut.SelectedStages = overrides.SelectedStages
		mut.SetStages = true
	}

	if err := m.jobs.TransitionJob(ctx, jobID, schemas.StatusQueued, schemas.StatusRunning, mut); err != nil {
		return err
	}

	// Re-read so the work item reflects the overrides just persisted.
	job, err := m.jobs.GetJob(ctx, jobID)
	if err != nil {
		return m.failDispatch(ctx, jobID, fmt.Errorf("failed to load job for dispatch: %w", err))
	}

	item := schemas.WorkItem{
		JobID:          job.ID,
		Target:         job.Target,
		AuthHeader:     job.AuthHeader,
		SelectedStages: job.SelectedStages,
		Options:        job.Options,
	}
	if err := m.queue.Enqueue(ctx, item); err != nil {
		return m.failDispatch(ctx, jobID, err)
	}

	m.log.Info("Job started", zap.String("job_id", jobID), zap.String("target", job.Target))
	return nil
}

// failDispatch marks a freshly started job FAILED after its work item could
// not be handed to the queue.
func (m *Manager) failDispatch(ctx context.Context, jobID string, cause error) error {
	m.log.Error("Job dispatch failed", zap.String("job_id", jobID), zap.Error(cause))
	now := time.Now().UTC()
	if err := m.jobs.TransitionJob(ctx, jobID, schemas.StatusRunning, schemas.StatusFailed, schemas.JobMutation{
		CompletedAt:  &now,
		ErrorMessage: "dispatch failed: " + cause.Error(),
	}); err != nil {
		m.log.Error("Failed to mark undispatched job as failed",
			zap.String("job_id", jobID), zap.Error(err))
	}
	return fmt.Errorf("failed to dispatch job %s: %w", jobID, cause)
}

// Decline rejects a queued job and notifies the requester. The notification
// is best-effort; the state change is the source of truth.
func (m *Manager) Decline(ctx context.Context, jobID, reason string) error {
	job, err := m.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := m.jobs.TransitionJob(ctx, jobID, schemas.StatusQueued, schemas.StatusDeclined, schemas.JobMutation{
		CompletedAt:  &now,
		ErrorMessage: reason,
	}); err != nil {
		return err
	}

	m.log.Info("Job declined", zap.String("job_id", jobID), zap.String("reason", reason))
	if m.notifier != nil && job.Requester.Email != "" {
		if err := m.notifier.SendDecline(ctx, job.Requester.Email, job.Target, reason); err != nil {
			m.log.Warn("Decline notification failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}
	return nil
}

// Terminate requests cancellation of a running job. The pipeline observes the
// CANCELLED status at its next stage boundary and stops; in-flight tool
// output is kept.
func (m *Manager) Terminate(ctx context.Context, jobID string) error {
	now := time.Now().UTC()
	if err := m.jobs.TransitionJob(ctx, jobID, schemas.StatusRunning, schemas.StatusCancelled, schemas.JobMutation{
		CompletedAt: &now,
	}); err != nil {
		return err
	}
	m.log.Info("Job termination requested", zap.String("job_id", jobID))
	return nil
}

// Complete finalizes a successful run, recording the generated report.
func (m *Manager) Complete(ctx context.Context, jobID, reportPath string) error {
	now := time.Now().UTC()
	return m.jobs.TransitionJob(ctx, jobID, schemas.StatusRunning, schemas.StatusCompleted, schemas.JobMutation{
		CompletedAt: &now,
		ReportPath:  reportPath,
	})
}

// Fail finalizes a run that hit an unrecoverable error.
func (m *Manager) Fail(ctx context.Context, jobID, message string) error {
	now := time.Now().UTC()
	return m.jobs.TransitionJob(ctx, jobID, schemas.StatusRunning, schemas.StatusFailed, schemas.JobMutation{
		CompletedAt:  &now,
		ErrorMessage: message,
	})
}
