package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ShapezModder/enterprise-security-saas/api/schemas"
)

type transition struct {
	from, to schemas.JobStatus
	mut      schemas.JobMutation
}

type fakeJobStore struct {
	job           *schemas.Job
	transitions   []transition
	transitionErr error
}

func (f *fakeJobStore) CreateJob(ctx context.Context, job *schemas.Job) error { return nil }

func (f *fakeJobStore) GetJob(ctx context.Context, jobID string) (*schemas.Job, error) {
	if f.job == nil || f.job.ID != jobID {
		return nil, schemas.ErrJobNotFound
	}
	cp := *f.job
	return &cp, nil
}

func (f *fakeJobStore) GetJobStatus(ctx context.Context, jobID string) (schemas.JobStatus, error) {
	if f.job == nil || f.job.ID != jobID {
		return "", schemas.ErrJobNotFound
	}
	return f.job.Status, nil
}

func (f *fakeJobStore) TransitionJob(ctx context.Context, jobID string, from, to schemas.JobStatus, mut schemas.JobMutation) error {
	if f.transitionErr != nil {
		return f.transitionErr
	}
	if f.job == nil || f.job.ID != jobID {
		return schemas.ErrJobNotFound
	}
	if f.job.Status != from {
		return schemas.ErrInvalidTransition
	}
	f.job.Status = to
	if mut.SetStages {
		f.job.SelectedStages = mut.SelectedStages
	}
	if mut.Destructive != nil {
		f.job.Options.Destructive = *mut.Destructive
	}
	f.transitions = append(f.transitions, transition{from: from, to: to, mut: mut})
	return nil
}

func (f *fakeJobStore) ListJobs(ctx context.Context, limit int) ([]schemas.JobSummary, error) {
	return nil, nil
}

type fakeQueue struct {
	items      []schemas.WorkItem
	enqueueErr error
}

func (f *fakeQueue) Enqueue(ctx context.Context, item schemas.WorkItem) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.items = append(f.items, item)
	return nil
}

func (f *fakeQueue) Dequeue(ctx context.Context) (*schemas.ClaimedItem, error) {
	return nil, errors.New("not implemented")
}

type fakeNotifier struct {
	declines []string
	sendErr  error
}

func (f *fakeNotifier) SendReport(ctx context.Context, recipient, jobID, target, reportPath string) error {
	return f.sendErr
}

func (f *fakeNotifier) SendDecline(ctx context.Context, recipient, target, reason string) error {
	f.declines = append(f.declines, recipient+"|"+reason)
	return f.sendErr
}

func queuedJob() *schemas.Job {
	return &schemas.Job{
		ID:        "job-1",
		Target:    "https://example.com",
		Status:    schemas.StatusQueued,
		Requester: schemas.Requester{Email: "sec@example.com"},
	}
}

func TestStartDispatchesWorkItem(t *testing.T) {
	jobs := &fakeJobStore{job: queuedJob()}
	queue := &fakeQueue{}
	m := NewManager(jobs, queue, nil, zap.NewNop())

	destructive := true
	err := m.Start(context.Background(), "job-1", StartOverrides{
		SelectedStages: []string{"port-scan", "sqli"},
		Destructive:    &destructive,
	})
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusRunning, jobs.job.Status)
	require.Len(t, queue.items, 1)
	assert.Equal(t, "job-1", queue.items[0].JobID)
	assert.Equal(t, []string{"port-scan", "sqli"}, queue.items[0].SelectedStages)
	assert.True(t, queue.items[0].Options.Destructive,
		"operator override must reach the worker")
	require.Len(t, jobs.transitions, 1)
	assert.NotNil(t, jobs.transitions[0].mut.StartedAt)
}

func TestStartEmptyStageOverrideClearsSelection(t *testing.T) {
	job := queuedJob()
	job.SelectedStages = []string{"port-scan"}
	jobs := &fakeJobStore{job: job}
	queue := &fakeQueue{}
	m := NewManager(jobs, queue, nil, zap.NewNop())

	// An explicit empty slice wipes the submitted selection; the worker then
	// runs every stage.
	err := m.Start(context.Background(), "job-1", StartOverrides{SelectedStages: []string{}})
	require.NoError(t, err)

	require.Len(t, queue.items, 1)
	assert.Empty(t, queue.items[0].SelectedStages)
	require.Len(t, jobs.transitions, 1)
	assert.True(t, jobs.transitions[0].mut.SetStages)
}

func TestStartRejectsNonQueuedJob(t *testing.T) {
	job := queuedJob()
	job.Status = schemas.StatusRunning
	jobs := &fakeJobStore{job: job}
	m := NewManager(jobs, &fakeQueue{}, nil, zap.NewNop())

	err := m.Start(context.Background(), "job-1", StartOverrides{})
	require.ErrorIs(t, err, schemas.ErrInvalidTransition)
}

func TestStartEnqueueFailureMarksJobFailed(t *testing.T) {
	jobs := &fakeJobStore{job: queuedJob()}
	queue := &fakeQueue{enqueueErr: errors.New("queue down")}
	m := NewManager(jobs, queue, nil, zap.NewNop())

	err := m.Start(context.Background(), "job-1", StartOverrides{})
	require.Error(t, err)
	assert.Equal(t, schemas.StatusFailed, jobs.job.Status,
		"a job whose work item never reached the queue must not stay RUNNING")
}

func TestDeclineNotifiesRequester(t *testing.T) {
	jobs := &fakeJobStore{job: queuedJob()}
	notifier := &fakeNotifier{}
	m := NewManager(jobs, &fakeQueue{}, notifier, zap.NewNop())

	require.NoError(t, m.Decline(context.Background(), "job-1", "target out of scope"))
	assert.Equal(t, schemas.StatusDeclined, jobs.job.Status)
	require.Len(t, notifier.declines, 1)
	assert.Equal(t, "sec@example.com|target out of scope", notifier.declines[0])
}

func TestDeclineSurvivesNotifierFailure(t *testing.T) {
	jobs := &fakeJobStore{job: queuedJob()}
	notifier := &fakeNotifier{sendErr: errors.New("smtp refused")}
	m := NewManager(jobs, &fakeQueue{}, notifier, zap.NewNop())

	require.NoError(t, m.Decline(context.Background(), "job-1", "no consent"))
	assert.Equal(t, schemas.StatusDeclined, jobs.job.Status)
}

func TestTerminateOnlyFromRunning(t *testing.T) {
	jobs := &fakeJobStore{job: queuedJob()}
	m := NewManager(jobs, &fakeQueue{}, nil, zap.NewNop())

	err := m.Terminate(context.Background(), "job-1")
	require.ErrorIs(t, err, schemas.ErrInvalidTransition)

	jobs.job.Status = schemas.StatusRunning
	require.NoError(t, m.Terminate(context.Background(), "job-1"))
	assert.Equal(t, schemas.StatusCancelled, jobs.job.Status)
}

func TestCompleteRecordsReportPath(t *testing.T) {
	job := queuedJob()
	job.Status = schemas.StatusRunning
	jobs := &fakeJobStore{job: job}
	m := NewManager(jobs, &fakeQueue{}, nil, zap.NewNop())

	require.NoError(t, m.Complete(context.Background(), "job-1", "/reports/job-1.pdf"))
	require.Len(t, jobs.transitions, 1)
	assert.Equal(t, "/reports/job-1.pdf", jobs.transitions[0].mut.ReportPath)
	assert.NotNil(t, jobs.transitions[0].mut.CompletedAt)
}

func TestFailRecordsMessage(t *testing.T) {
	job := queuedJob()
	job.Status = schemas.StatusRunning
	jobs := &fakeJobStore{job: job}
	m := NewManager(jobs, &fakeQueue{}, nil, zap.NewNop())

	require.NoError(t, m.Fail(context.Background(), "job-1", "tool exited with signal"))
	assert.Equal(t, schemas.StatusFailed, jobs.job.Status)
	assert.Equal(t, "tool exited with signal", jobs.transitions[0].mut.ErrorMessage)
}
