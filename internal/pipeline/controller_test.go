package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ShapezModder/enterprise-security-saas/api/schemas"
	"github.com/ShapezModder/enterprise-security-saas/internal/config"
	"github.com/ShapezModder/enterprise-security-saas/internal/lifecycle"
)

type fakeJobStore struct {
	mu  sync.Mutex
	job *schemas.Job
}

func (f *fakeJobStore) CreateJob(ctx context.Context, job *schemas.Job) error { return nil }

func (f *fakeJobStore) GetJob(ctx context.Context, jobID string) (*schemas.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.job == nil || f.job.ID != jobID {
		return nil, schemas.ErrJobNotFound
	}
	cp := *f.job
	return &cp, nil
}

func (f *fakeJobStore) GetJobStatus(ctx context.Context, jobID string) (schemas.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.job == nil || f.job.ID != jobID {
		return "", schemas.ErrJobNotFound
	}
	return f.job.Status, nil
}

func (f *fakeJobStore) TransitionJob(ctx context.Context, jobID string, from, to schemas.JobStatus, mut schemas.JobMutation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.job == nil || f.job.ID != jobID {
		return schemas.ErrJobNotFound
	}
	if f.job.Status != from {
		return schemas.ErrInvalidTransition
	}
	f.job.Status = to
	f.job.ReportPath = mut.ReportPath
	f.job.ErrorMessage = mut.ErrorMessage
	return nil
}

func (f *fakeJobStore) ListJobs(ctx context.Context, limit int) ([]schemas.JobSummary, error) {
	return nil, nil
}

func (f *fakeJobStore) setStatus(s schemas.JobStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.job.Status = s
}

type fakeFindingStore struct {
	mu    sync.Mutex
	saved []schemas.Finding
}

func (f *fakeFindingStore) SaveFinding(ctx context.Context, finding schemas.Finding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, finding)
	return nil
}

func (f *fakeFindingStore) ListFindings(ctx context.Context, jobID string) ([]schemas.Finding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]schemas.Finding(nil), f.saved...), nil
}

// fakeExec returns canned output per image and optionally runs a hook on
// each call.
type fakeExec struct {
	mu      sync.Mutex
	outputs map[string]string
	errs    map[string]error
	calls   []string
	onRun   func(image string)
}

func (f *fakeExec) Run(ctx context.Context, image string, args ...string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, image)
	hook := f.onRun
	f.mu.Unlock()
	if hook != nil {
		hook(image)
	}
	if err, ok := f.errs[image]; ok {
		return "", err
	}
	return f.outputs[image], nil
}

func (f *fakeExec) ScratchDir() string { return "/tmp/scans" }

func (f *fakeExec) called(image string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == image {
			return true
		}
	}
	return false
}

type fakeReport struct {
	path string
	err  error
}

func (f *fakeReport) Generate(ctx context.Context, job *schemas.Job, findings []schemas.Finding) (string, error) {
	return f.path, f.err
}

type fakeNotifier struct {
	mu      sync.Mutex
	reports []string
}

func (f *fakeNotifier) SendReport(ctx context.Context, recipient, jobID, target, reportPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, recipient)
	return nil
}

func (f *fakeNotifier) SendDecline(ctx context.Context, recipient, target, reason string) error {
	return nil
}

type fakeLogSink struct {
	mu    sync.Mutex
	lines []string
}

func (f *fakeLogSink) Publish(jobID, line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, line)
}

type controllerHarness struct {
	jobs     *fakeJobStore
	findings *fakeFindingStore
	exec     *fakeExec
	report   *fakeReport
	notifier *fakeNotifier
	logs     *fakeLogSink
	ctrl     *Controller
}

func newHarness(t *testing.T, exec *fakeExec) *controllerHarness {
	t.Helper()
	jobs := &fakeJobStore{job: &schemas.Job{
		ID:        "job-1",
		Target:    "https://example.com",
		Status:    schemas.StatusRunning,
		Requester: schemas.Requester{Email: "sec@example.com"},
	}}
	findings := &fakeFindingStore{}
	report := &fakeReport{path: "/reports/job-1.pdf"}
	notifier := &fakeNotifier{}
	logs := &fakeLogSink{}
	life := lifecycle.NewManager(jobs, nil, nil, zap.NewNop())

	ctrl := NewController(jobs, findings, life, exec, nil, nil,
		report, notifier, logs, config.ScannerConfig{MaxBulkTargets: 15}, zap.NewNop())
	return &controllerHarness{
		jobs: jobs, findings: findings, exec: exec,
		report: report, notifier: notifier, logs: logs, ctrl: ctrl,
	}
}

func workItem(stages ...string) schemas.WorkItem {
	return schemas.WorkItem{
		JobID:          "job-1",
		Target:         "https://example.com",
		SelectedStages: stages,
	}
}

const nmapOut = `
PORT     STATE SERVICE VERSION
22/tcp   open  ssh     OpenSSH 8.9
6379/tcp open  redis   Redis 7.0
`

func TestExecuteRunsSelectedStageAndCompletes(t *testing.T) {
	exec := &fakeExec{outputs: map[string]string{imageNmap: nmapOut}}
	h := newHarness(t, exec)

	require.NoError(t, h.ctrl.Execute(context.Background(), workItem("port-scan")))

	assert.Equal(t, []string{imageNmap}, exec.calls, "only the selected stage may run")
	require.Len(t, h.findings.saved, 2)
	assert.Equal(t, "Ports", h.findings.saved[0].Category)

	assert.Equal(t, schemas.StatusCompleted, h.jobs.job.Status)
	assert.Equal(t, "/reports/job-1.pdf", h.jobs.job.ReportPath)
	assert.Equal(t, []string{"sec@example.com"}, h.notifier.reports)
}

func TestExecuteStopsAtStageBoundaryWhenCancelled(t *testing.T) {
	exec := &fakeExec{outputs: map[string]string{imageNmap: nmapOut}}
	h := newHarness(t, exec)

	// Cancel lands while the first stage's tool is still running.
	exec.onRun = func(string) { h.jobs.setStatus(schemas.StatusCancelled) }

	err := h.ctrl.Execute(context.Background(), workItem("port-scan", "xss"))
	require.ErrorIs(t, err, schemas.ErrCancelled,
		"cancellation must be distinguishable from a failed run")

	assert.Equal(t, []string{imageNmap}, exec.calls, "no stage may start after cancellation")
	assert.Equal(t, schemas.StatusCancelled, h.jobs.job.Status,
		"a cancelled job must never be overwritten to COMPLETED")
	assert.Empty(t, h.notifier.reports)
	require.NotEmpty(t, h.findings.saved, "results from the interrupted run are kept")
}

func TestExecuteShutdownLeavesJobForRedelivery(t *testing.T) {
	exec := &fakeExec{errs: map[string]error{imageNmap: context.Canceled}}
	h := newHarness(t, exec)

	ctx, cancel := context.WithCancel(context.Background())
	exec.onRun = func(string) { cancel() }

	err := h.ctrl.Execute(ctx, workItem("port-scan"))
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, schemas.StatusRunning, h.jobs.job.Status,
		"a worker shutdown must not move the job; a restarted worker resumes it")
	assert.Empty(t, h.notifier.reports)
}

func TestExecuteRecoversFromStageFailure(t *testing.T) {
	exec := &fakeExec{
		outputs: map[string]string{imageNmap: nmapOut},
		errs:    map[string]error{imageNuclei: errors.New("image pull failed")},
	}
	h := newHarness(t, exec)

	require.NoError(t, h.ctrl.Execute(context.Background(), workItem("nuclei", "port-scan")))

	assert.Equal(t, schemas.StatusCompleted, h.jobs.job.Status)
	require.Len(t, h.findings.saved, 2, "the failed stage contributes nothing, the rest proceeds")

	failedLogged := false
	for _, line := range h.logs.lines {
		if line == "Stage Known Vulnerability Templates failed: image pull failed" {
			failedLogged = true
		}
	}
	assert.True(t, failedLogged, "stage failure must surface in the progress stream")
}

func TestExecuteSkipsDestructiveStagesWithoutFlag(t *testing.T) {
	exec := &fakeExec{outputs: map[string]string{}}
	h := newHarness(t, exec)

	item := workItem() // all stages
	item.Options.Destructive = false
	require.NoError(t, h.ctrl.Execute(context.Background(), item))

	assert.False(t, exec.called(imageSqlmap))
	assert.False(t, exec.called(imageCommix))
	assert.Equal(t, schemas.StatusCompleted, h.jobs.job.Status)
}

func TestExecuteGatesWordPressOnFingerprint(t *testing.T) {
	t.Run("no markers, wpscan not run", func(t *testing.T) {
		exec := &fakeExec{outputs: map[string]string{imageWhatweb: "nginx[1.24], PHP[8.2]"}}
		h := newHarness(t, exec)

		require.NoError(t, h.ctrl.Execute(context.Background(), workItem("tech-detect", "wordpress")))
		assert.False(t, exec.called(imageWPScan))
	})

	t.Run("wordpress detected, wpscan runs", func(t *testing.T) {
		exec := &fakeExec{outputs: map[string]string{
			imageWhatweb: "Apache, WordPress[6.4], MetaGenerator[WordPress 6.4]",
			imageWPScan:  "[!] XML-RPC seems to be enabled",
		}}
		h := newHarness(t, exec)

		require.NoError(t, h.ctrl.Execute(context.Background(), workItem("tech-detect", "wordpress")))
		assert.True(t, exec.called(imageWPScan))
		require.Len(t, h.findings.saved, 2)
		assert.Equal(t, "XML-RPC seems to be enabled", h.findings.saved[1].Title)
	})
}

func TestExecuteFeedsCrawlURLsToInjectionStages(t *testing.T) {
	exec := &fakeExec{outputs: map[string]string{
		imageKatana: "https://example.com/item?id=3\nhttps://example.com/static/app.js\n",
		imageSqlmap: "sqlmap identified the following injection point",
	}}
	h := newHarness(t, exec)

	item := workItem("crawl", "sqli")
	item.Options.Destructive = true
	require.NoError(t, h.ctrl.Execute(context.Background(), item))

	require.Len(t, h.findings.saved, 1, "only the parameterized URL is injectable-testable")
	f := h.findings.saved[0]
	assert.Equal(t, "SQLi", f.Category)
	assert.Equal(t, "SQL injection at /item", f.Title)
	assert.Equal(t, schemas.SeverityCritical, f.Severity)
	assert.Equal(t, 10.0, f.Meta.CVSSScore)
}

func TestExecuteToleratesReportFailure(t *testing.T) {
	exec := &fakeExec{outputs: map[string]string{imageNmap: nmapOut}}
	h := newHarness(t, exec)
	h.report.err = errors.New("disk full")
	h.report.path = ""

	require.NoError(t, h.ctrl.Execute(context.Background(), workItem("port-scan")))

	assert.Equal(t, schemas.StatusCompleted, h.jobs.job.Status)
	assert.Empty(t, h.jobs.job.ReportPath)
	assert.Empty(t, h.notifier.reports, "no report, nothing to mail")
}

func TestCatalogOrderAndGates(t *testing.T) {
	ids := StageIDs()
	require.Equal(t, len(Catalog), len(ids))
	assert.Equal(t, "waf-detect", ids[0])
	assert.Equal(t, "auth-test", ids[len(ids)-1])

	assert.True(t, KnownStage("port-scan"))
	assert.False(t, KnownStage("time-travel"))

	destructive := map[string]bool{}
	for _, s := range Catalog {
		destructive[s.ID] = s.Destructive
	}
	assert.True(t, destructive["sqli"])
	assert.True(t, destructive["cmdi"])
	assert.False(t, destructive["xss"])
}
