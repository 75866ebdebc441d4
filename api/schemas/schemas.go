// Package schemas defines the shared data model for the assessment platform:
// jobs, findings, stage definitions and the work-queue payload exchanged
// between the intake API and the scan worker.
package schemas

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of an assessment job.
type JobStatus string

const (
	StatusQueued    JobStatus = "QUEUED"
	StatusRunning   JobStatus = "RUNNING"
	StatusCompleted JobStatus = "COMPLETED"
	StatusFailed    JobStatus = "FAILED"
	StatusCancelled JobStatus = "CANCELLED"
	StatusDeclined  JobStatus = "DECLINED"
)

// Terminal reports whether no further transitions are possible from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusDeclined:
		return true
	}
	return false
}

// Severity is the ordinal severity of a finding. The ordering
// info < low < medium < high < critical is significant for reporting.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordinal position of the severity, with unknown values
// ranked below INFO.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether s is one of the five known severity values.
func (s Severity) Valid() bool { return s.Rank() >= 0 }

// SeverityOrder lists all severities from least to most severe.
func SeverityOrder() []Severity {
	return []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}

// ScanOptions are the operator-controlled knobs for a job.
type ScanOptions struct {
	Aggressive     bool `json:"aggressive"`
	Destructive    bool `json:"destructive"`
	MaxBulkTargets int  `json:"maxBulkTargets,omitempty"`
}

// Requester identifies who asked for the assessment.
type Requester struct {
	Email   string `json:"email"`
	Company string `json:"company,omitempty"`
}

// Job is a single assessment request. The identifier is immutable and
// globally unique; status only moves forward through the lifecycle
// transition table.
type Job struct {
	ID          string          `json:"id"`
	Target      string          `json:"target"`
	Status      JobStatus       `json:"status"`
	ScanProfile string          `json:"scan_profile"`
	AuthHeader  string          `json:"auth_header,omitempty"`
	Scope       json.RawMessage `json:"scope,omitempty"`
	Options     ScanOptions     `json:"options"`

	// SelectedStages is nil when the operator asked for every stage.
	SelectedStages []string `json:"selected_stages,omitempty"`

	ConsentDocument string    `json:"consent_document,omitempty"`
	Requester       Requester `json:"requester"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	ReportPath   string `json:"report_path,omitempty"`
}

// FindingMeta carries optional compliance tags attached to a finding.
type FindingMeta struct {
	OWASPCategory string  `json:"owasp_category,omitempty"`
	CVSSScore     float64 `json:"cvss_score,omitempty"`
	CVSSVector    string  `json:"cvss_vector,omitempty"`
}

// Finding is one normalized, deduplicated result of a scan stage.
// The pair (JobID, Title) is unique; Title is always prefixed with the
// stage category, e.g. "[Ports] Exposed Service: 443/tcp (https)".
type Finding struct {
	JobID       string      `json:"job_id"`
	Category    string      `json:"category"`
	Title       string      `json:"title"`
	Severity    Severity    `json:"severity"`
	Description string      `json:"description"`
	Evidence    string      `json:"evidence,omitempty"`
	Remediation string      `json:"remediation,omitempty"`
	Meta        FindingMeta `json:"meta,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// QualifiedTitle is the dedup key component: "[Category] Title".
func (f Finding) QualifiedTitle() string { return "[" + f.Category + "] " + f.Title }

// StageCategory groups pipeline stages in the catalog.
type StageCategory string

const (
	CategoryRecon         StageCategory = "reconnaissance"
	CategoryVulnerability StageCategory = "vulnerability"
	CategoryAdvanced      StageCategory = "advanced"
)

// StageDefinition is a static catalog entry describing one pipeline stage.
// It is configuration data, not a runtime entity.
type StageDefinition struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Category    StageCategory `json:"category"`
	Recommended bool          `json:"recommended"`

	// Destructive stages are only scheduled when the job carries the
	// destructive flag (and therefore a consent document).
	Destructive bool `json:"destructive"`
}

// WorkItem is the payload dispatched to the worker when a job is started.
type WorkItem struct {
	JobID          string      `json:"job_id"`
	Target         string      `json:"target"`
	AuthHeader     string      `json:"auth_header,omitempty"`
	SelectedStages []string    `json:"selected_stages,omitempty"`
	Options        ScanOptions `json:"options"`
}

// SeverityCount is one bucket of the per-job finding tally.
type SeverityCount struct {
	Severity Severity `json:"severity"`
	Count    int      `json:"count"`
}

// JobSummary is the admin listing view of a job: the record itself plus the
// requester identity and a finding tally grouped by severity.
type JobSummary struct {
	Job                Job             `json:"job"`
	FindingsBySeverity []SeverityCount `json:"findings_by_severity"`
}
