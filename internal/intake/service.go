// Package intake accepts assessment requests and exposes the operator
// actions on queued and running jobs. All input validation lives here, in
// front of the lifecycle manager; a request that fails validation causes no
// state change at all.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShapezModder/enterprise-security-saas/api/schemas"
	"github.com/ShapezModder/enterprise-security-saas/internal/lifecycle"
	"github.com/ShapezModder/enterprise-security-saas/internal/pipeline"
)

var scanProfiles = map[string]struct{}{"quick": {}, "balanced": {}, "deep": {}}

// SubmitRequest is the intake payload for a new assessment.
type SubmitRequest struct {
	Target          string              `json:"target"`
	ScanProfile     string              `json:"scan_profile"`
	AuthHeader      string              `json:"auth_header"`
	Scope           json.RawMessage     `json:"scope"`
	Options         schemas.ScanOptions `json:"options"`
	SelectedStages  []string            `json:"selected_stages"`
	ConsentDocument string              `json:"consent_document"`
	Requester       schemas.Requester   `json:"requester"`
}

// Service implements the intake operations.
type Service struct {
	jobs schemas.JobStore
	life *lifecycle.Manager
	log  *zap.Logger
}

func NewService(jobs schemas.JobStore, life *lifecycle.Manager, logger *zap.Logger) *Service {
	return &Service{jobs: jobs, life: life, log: logger.Named("intake")}
}

// Submit validates and persists a new job in QUEUED state. The job waits for
// operator approval; nothing is dispatched yet.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*schemas.Job, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	profile := req.ScanProfile
	if profile == "" {
		profile = "balanced"
	}

	job := &schemas.Job{
		ID:              uuid.NewString(),
		Target:          normalizeTarget(req.Target),
		Status:          schemas.StatusQueued,
		ScanProfile:     profile,
		AuthHeader:      req.AuthHeader,
		Scope:           req.Scope,
		Options:         req.Options,
		SelectedStages:  req.SelectedStages,
		ConsentDocument: req.ConsentDocument,
		Requester:       req.Requester,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	s.log.Info("Job submitted",
		zap.String("job_id", job.ID), zap.String("target", job.Target),
		zap.Bool("destructive", job.Options.Destructive))
	return job, nil
}

func (s *Service) validate(req SubmitRequest) error {
	target := normalizeTarget(req.Target)
	if target == "" {
		return fmt.Errorf("%w: target is required", schemas.ErrValidation)
	}
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return fmt.Errorf("%w: target must be an absolute http(s) URL", schemas.ErrValidation)
	}
	if u.User != nil {
		return fmt.Errorf("%w: target must not embed credentials", schemas.ErrValidation)
	}

	if req.Requester.Email == "" {
		return fmt.Errorf("%w: requester email is required", schemas.ErrValidation)
	}
	if _, err := mail.ParseAddress(req.Requester.Email); err != nil {
		return fmt.Errorf("%w: requester email is not a valid address", schemas.ErrValidation)
	}

	if req.ScanProfile != "" {
		if _, ok := scanProfiles[req.ScanProfile]; !ok {
			return fmt.Errorf("%w: unknown scan profile %q", schemas.ErrValidation, req.ScanProfile)
		}
	}

	for _, id := range req.SelectedStages {
		if !pipeline.KnownStage(id) {
			return fmt.Errorf("%w: unknown stage %q", schemas.ErrValidation, id)
		}
	}

	if req.Options.Destructive && strings.TrimSpace(req.ConsentDocument) == "" {
		return fmt.Errorf("%w: destructive scans require a signed consent document", schemas.ErrValidation)
	}
	return nil
}

// StartJob approves a queued job, optionally overriding the stage selection
// and destructive flag. Upgrading to destructive is only allowed when the
// submission carried a consent document.
func (s *Service) StartJob(ctx context.Context, jobID string, stages []string, destructive *bool) error {
	if jobID == "" {
		return fmt.Errorf("%w: job_id is required", schemas.ErrValidation)
	}
	for _, id := range stages {
		if !pipeline.KnownStage(id) {
			return fmt.Errorf("%w: unknown stage %q", schemas.ErrValidation, id)
		}
	}

	if destructive != nil && *destructive {
		job, err := s.jobs.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if strings.TrimSpace(job.ConsentDocument) == "" {
			return fmt.Errorf("%w: cannot enable destructive scanning without a consent document", schemas.ErrValidation)
		}
	}

	return s.life.Start(ctx, jobID, lifecycle.StartOverrides{
		SelectedStages: stages,
		Destructive:    destructive,
	})
}

// DeclineJob rejects a queued job with a mandatory reason.
func (s *Service) DeclineJob(ctx context.Context, jobID, reason string) error {
	if jobID == "" {
		return fmt.Errorf("%w: job_id is required", schemas.ErrValidation)
	}
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("%w: a decline reason is required", schemas.ErrValidation)
	}
	return s.life.Decline(ctx, jobID, reason)
}

// TerminateJob requests cancellation of a running job.
func (s *Service) TerminateJob(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("%w: job_id is required", schemas.ErrValidation)
	}
	return s.life.Terminate(ctx, jobID)
}

// GetJob returns one job with its findings tally left to the caller.
func (s *Service) GetJob(ctx context.Context, jobID string) (*schemas.Job, error) {
	return s.jobs.GetJob(ctx, jobID)
}

// ListJobs returns the most recent jobs for the admin view.
func (s *Service) ListJobs(ctx context.Context, limit int) ([]schemas.JobSummary, error) {
	return s.jobs.ListJobs(ctx, limit)
}

// normalizeTarget canonicalizes a submitted target: whitespace is trimmed, a
// bare host gets an https:// prefix, and the trailing slash of an origin-form
// URL is stripped so equivalent submissions produce equivalent targets.
func normalizeTarget(target string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return ""
	}
	if !strings.Contains(target, "://") {
		target = "https://" + target
	}
	if u, err := url.Parse(target); err == nil && u.Path == "/" && u.RawQuery == "" {
		return strings.TrimSuffix(target, "/")
	}
	return target
}
