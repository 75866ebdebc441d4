package report

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ShapezModder/enterprise-security-saas/api/schemas"
	"github.com/ShapezModder/enterprise-security-saas/internal/config"
)

func TestRiskScore(t *testing.T) {
	mk := func(sev schemas.Severity, n int) []schemas.Finding {
		out := make([]schemas.Finding, n)
		for i := range out {
			out[i] = schemas.Finding{Severity: sev}
		}
		return out
	}

	assert.Equal(t, 0, RiskScore(nil))
	assert.Equal(t, 0, RiskScore(mk(schemas.SeverityInfo, 10)), "informational findings carry no risk weight")
	assert.Equal(t, 25, RiskScore(mk(schemas.SeverityCritical, 1)))
	mixed := []schemas.Finding{
		{Severity: schemas.SeverityCritical},
		{Severity: schemas.SeverityHigh},
		{Severity: schemas.SeverityMedium},
		{Severity: schemas.SeverityLow},
	}
	assert.Equal(t, 39, RiskScore(mixed))
	assert.Equal(t, 100, RiskScore(mk(schemas.SeverityCritical, 5)), "score is capped at 100")
}

func TestGenerateWritesPDF(t *testing.T) {
	dir := t.TempDir()
	g, err := New(config.ReportConfig{Dir: dir}, zap.NewNop())
	require.NoError(t, err)

	job := &schemas.Job{
		ID:        "job-1",
		Target:    "https://example.com",
		Requester: schemas.Requester{Email: "sec@example.com", Company: "Example Corp"},
	}
	findings := []schemas.Finding{
		{Severity: schemas.SeverityLow, Title: "Minor issue", Description: "d"},
		{Severity: schemas.SeverityCritical, Title: "SQL injection at /item", Description: "d",
			Evidence: "sqlmap output", Meta: schemas.FindingMeta{CVSSScore: 10.0, CVSSVector: "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:C/C:H/I:H/A:H"}},
	}

	path, err := g.Generate(context.Background(), job, findings)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "job-1.pdf"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "%PDF-"), "output must be a PDF document")
	assert.Greater(t, len(data), 1000)
}

func TestGenerateEmptyFindings(t *testing.T) {
	g, err := New(config.ReportConfig{Dir: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)

	path, err := g.Generate(context.Background(), &schemas.Job{ID: "job-2", Target: "https://example.com"}, nil)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestGenerateHonorsCancelledContext(t *testing.T) {
	g, err := New(config.ReportConfig{Dir: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = g.Generate(ctx, &schemas.Job{ID: "job-3"}, nil)
	require.ErrorIs(t, err, context.Canceled)
}
