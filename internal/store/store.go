// Package store provides the PostgreSQL persistence layer for jobs and
// findings. All job status mutations go through TransitionJob, the single
// serialization point of the lifecycle state machine.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/ShapezModder/enterprise-security-saas/api/schemas"
)

const (
	maxDescriptionLen = 1000
	maxEvidenceLen    = 2000
)

// DBPool abstracts the pgxpool.Pool so the store can be exercised with
// pgxmock in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements schemas.JobStore and schemas.FindingStore on Postgres.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("store")}, nil
}

// Migrate creates the schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id                text PRIMARY KEY,
			target            text NOT NULL,
			status            text NOT NULL,
			scan_profile      text NOT NULL DEFAULT 'balanced',
			auth_header       text,
			scope             jsonb,
			options           jsonb NOT NULL DEFAULT '{}'::jsonb,
			selected_stages   jsonb,
			consent_document  text,
			requester_email   text NOT NULL,
			requester_company text,
			created_at        timestamptz NOT NULL,
			started_at        timestamptz,
			completed_at      timestamptz,
			error_message     text,
			report_path       text
		)`,
		`CREATE TABLE IF NOT EXISTS findings (
			job_id         text NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
			category       text NOT NULL,
			title          text NOT NULL,
			severity       text NOT NULL,
			description    text NOT NULL,
			evidence       text,
			remediation    text,
			owasp_category text,
			cvss_score     double precision,
			cvss_vector    text,
			created_at     timestamptz NOT NULL,
			PRIMARY KEY (job_id, title)
		)`,
		`CREATE TABLE IF NOT EXISTS work_items (
			id          bigserial PRIMARY KEY,
			payload     jsonb NOT NULL,
			status      text NOT NULL DEFAULT 'pending',
			failure     text,
			created_at  timestamptz NOT NULL DEFAULT now(),
			claimed_at  timestamptz,
			finished_at timestamptz
		)`,
		`CREATE INDEX IF NOT EXISTS work_items_pending_idx ON work_items (created_at) WHERE status = 'pending'`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

const insertJobSQL = `
	INSERT INTO jobs (id, target, status, scan_profile, auth_header, scope, options,
		consent_document, requester_email, requester_company, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

// CreateJob persists a new job record in its initial state.
func (s *Store) CreateJob(ctx context.Context, job *schemas.Job) error {
	options, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal job options: %w", err)
	}
	scope := job.Scope
	if len(scope) == 0 || string(scope) == "null" {
		scope = json.RawMessage("{}")
	}

	_, err = s.pool.Exec(ctx, insertJobSQL,
		job.ID, job.Target, string(job.Status), job.ScanProfile,
		nullable(job.AuthHeader), scope, options,
		nullable(job.ConsentDocument), job.Requester.Email,
		nullable(job.Requester.Company), job.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

const selectJobSQL = `
	SELECT id, target, status, scan_profile, auth_header, scope, options,
		selected_stages, consent_document, requester_email, requester_company,
		created_at, started_at, completed_at, error_message, report_path
	FROM jobs WHERE id = $1`

// GetJob fetches a full job record.
func (s *Store) GetJob(ctx context.Context, jobID string) (*schemas.Job, error) {
	row := s.pool.QueryRow(ctx, selectJobSQL, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, schemas.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to fetch job %s: %w", jobID, err)
	}
	return job, nil
}

// GetJobStatus is the cheap status poll used by the pipeline's cooperative
// cancellation check.
func (s *Store) GetJobStatus(ctx context.Context, jobID string) (schemas.JobStatus, error) {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", schemas.ErrJobNotFound
		}
		return "", fmt.Errorf("failed to fetch job status: %w", err)
	}
	return schemas.JobStatus(status), nil
}

// TransitionJob moves a job from exactly `from` to `to`, applying the given
// column mutations in the same statement. The WHERE status guard makes this
// the single serialization point for concurrent operator actions: only one
// transition out of a given source state can succeed.
func (s *Store) TransitionJob(ctx context.Context, jobID string, from, to schemas.JobStatus, mut schemas.JobMutation) error {
	set := []string{"status = $2"}
	args := []any{jobID, string(to)}

	add := func(expr string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf(expr, len(args)))
	}

	if mut.StartedAt != nil {
		add("started_at = $%d", mut.StartedAt.UTC())
	}
	if mut.CompletedAt != nil {
		add("completed_at = $%d", mut.CompletedAt.UTC())
	}
	if mut.SetStages {
		if mut.SelectedStages == nil {
			set = append(set, "selected_stages = NULL")
		} else {
			stages, err := json.Marshal(mut.SelectedStages)
			if err != nil {
				return fmt.Errorf("failed to marshal selected stages: %w", err)
			}
			add("selected_stages = $%d", stages)
		}
	}
	if mut.Destructive != nil {
		add("options = jsonb_set(coalesce(options, '{}'::jsonb), '{destructive}', to_jsonb($%d::boolean))", *mut.Destructive)
	}
	if mut.ErrorMessage != "" {
		add("error_message = $%d", mut.ErrorMessage)
	}
	if mut.ReportPath != "" {
		add("report_path = $%d", mut.ReportPath)
	}

	args = append(args, string(from))
	sql := fmt.Sprintf("UPDATE jobs SET %s WHERE id = $1 AND status = $%d", strings.Join(set, ", "), len(args))

	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to transition job %s to %s: %w", jobID, to, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing job from a wrong-state rejection.
		current, statusErr := s.GetJobStatus(ctx, jobID)
		if statusErr != nil {
			return statusErr
		}
		return fmt.Errorf("%w: job %s is %s, expected %s", schemas.ErrInvalidTransition, jobID, current, from)
	}

	s.log.Info("Job transitioned",
		zap.String("job_id", jobID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return nil
}

const listJobsSQL = `
	SELECT id, target, status, scan_profile, auth_header, scope, options,
		selected_stages, consent_document, requester_email, requester_company,
		created_at, started_at, completed_at, error_message, report_path
	FROM jobs ORDER BY created_at DESC LIMIT $1`

// ListJobs returns the most recent jobs with their requester identity and a
// per-severity finding tally, newest first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]schemas.JobSummary, error) {
	rows, err := s.pool.Query(ctx, listJobsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var summaries []schemas.JobSummary
	var ids []string
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		summaries = append(summaries, schemas.JobSummary{Job: *job})
		ids = append(ids, job.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return summaries, nil
	}

	counts, err := s.countFindings(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range summaries {
		summaries[i].FindingsBySeverity = counts[summaries[i].Job.ID]
	}
	return summaries, nil
}

func (s *Store) countFindings(ctx context.Context, jobIDs []string) (map[string][]schemas.SeverityCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT job_id, severity, count(*) FROM findings WHERE job_id = ANY($1) GROUP BY job_id, severity`,
		jobIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to count findings: %w", err)
	}
	defer rows.Close()

	counts := make(map[string][]schemas.SeverityCount)
	for rows.Next() {
		var jobID, severity string
		var count int
		if err := rows.Scan(&jobID, &severity, &count); err != nil {
			return nil, err
		}
		counts[jobID] = append(counts[jobID], schemas.SeverityCount{
			Severity: schemas.Severity(severity),
			Count:    count,
		})
	}
	return counts, rows.Err()
}

const insertFindingSQL = `
	INSERT INTO findings (job_id, category, title, severity, description, evidence,
		remediation, owasp_category, cvss_score, cvss_vector, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (job_id, title) DO NOTHING`

// SaveFinding writes a finding through the dedup-on-write path. A second
// write with the same (job, qualified title) pair is a silent no-op, which
// keeps every stage idempotent under retry. Description and evidence are
// clamped silently to bound storage and report size.
func (s *Store) SaveFinding(ctx context.Context, f schemas.Finding) error {
	if !f.Severity.Valid() {
		return fmt.Errorf("invalid finding severity %q", f.Severity)
	}
	createdAt := f.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var score any
	if f.Meta.CVSSScore > 0 {
		score = f.Meta.CVSSScore
	}

	tag, err := s.pool.Exec(ctx, insertFindingSQL,
		f.JobID, f.Category, f.QualifiedTitle(), string(f.Severity),
		clamp(f.Description, maxDescriptionLen), nullable(clamp(f.Evidence, maxEvidenceLen)),
		nullable(f.Remediation), nullable(f.Meta.OWASPCategory),
		score, nullable(f.Meta.CVSSVector), createdAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save finding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.log.Debug("Duplicate finding skipped",
			zap.String("job_id", f.JobID),
			zap.String("title", f.QualifiedTitle()))
	}
	return nil
}

const listFindingsSQL = `
	SELECT job_id, category, title, severity, description, evidence, remediation,
		owasp_category, cvss_score, cvss_vector, created_at
	FROM findings WHERE job_id = $1 ORDER BY created_at`

// ListFindings returns every finding for a job in stage completion order.
func (s *Store) ListFindings(ctx context.Context, jobID string) ([]schemas.Finding, error) {
	rows, err := s.pool.Query(ctx, listFindingsSQL, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	var findings []schemas.Finding
	for rows.Next() {
		var f schemas.Finding
		var severity, title string
		var evidence, remediation, owasp, vector *string
		var score *float64
		if err := rows.Scan(&f.JobID, &f.Category, &title, &severity, &f.Description,
			&evidence, &remediation, &owasp, &score, &vector, &f.CreatedAt); err != nil {
			return nil, err
		}
		// Stored titles are fully qualified; strip the category prefix back off.
		f.Title = strings.TrimPrefix(title, "["+f.Category+"] ")
		f.Severity = schemas.Severity(severity)
		f.Evidence = deref(evidence)
		f.Remediation = deref(remediation)
		f.Meta.OWASPCategory = deref(owasp)
		f.Meta.CVSSVector = deref(vector)
		if score != nil {
			f.Meta.CVSSScore = *score
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface{ Scan(dest ...any) error }

func scanJob(row rowScanner) (*schemas.Job, error) {
	var job schemas.Job
	var status string
	var authHeader, consent, company, errMsg, reportPath *string
	var scope, options, stages []byte
	var startedAt, completedAt *time.Time

	err := row.Scan(&job.ID, &job.Target, &status, &job.ScanProfile, &authHeader,
		&scope, &options, &stages, &consent, &job.Requester.Email, &company,
		&job.CreatedAt, &startedAt, &completedAt, &errMsg, &reportPath)
	if err != nil {
		return nil, err
	}

	job.Status = schemas.JobStatus(status)
	job.AuthHeader = deref(authHeader)
	job.ConsentDocument = deref(consent)
	job.Requester.Company = deref(company)
	job.ErrorMessage = deref(errMsg)
	job.ReportPath = deref(reportPath)
	job.StartedAt = startedAt
	job.CompletedAt = completedAt
	job.Scope = scope

	if len(options) > 0 {
		if err := json.Unmarshal(options, &job.Options); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job options: %w", err)
		}
	}
	if len(stages) > 0 {
		if err := json.Unmarshal(stages, &job.SelectedStages); err != nil {
			return nil, fmt.Errorf("failed to unmarshal selected stages: %w", err)
		}
	}
	return &job, nil
}

func clamp(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
