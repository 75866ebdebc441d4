// Package report renders the final assessment report as a PDF: a cover, an
// executive summary with a weighted risk score, and one detail section per
// finding ordered by severity.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-pdf/fpdf"
	"go.uber.org/zap"

	"github.com/ShapezModder/enterprise-security-saas/api/schemas"
	"github.com/ShapezModder/enterprise-security-saas/internal/config"
)

// Weighted risk score per severity bucket, capped at 100.
var riskWeights = map[schemas.Severity]int{
	schemas.SeverityCritical: 25,
	schemas.SeverityHigh:     10,
	schemas.SeverityMedium:   3,
	schemas.SeverityLow:      1,
}

var severityColors = map[schemas.Severity][3]int{
	schemas.SeverityCritical: {153, 27, 27},
	schemas.SeverityHigh:     {194, 65, 12},
	schemas.SeverityMedium:   {161, 98, 7},
	schemas.SeverityLow:      {21, 94, 117},
	schemas.SeverityInfo:     {55, 65, 81},
}

// Generator writes PDF reports into a fixed directory.
type Generator struct {
	dir string
	log *zap.Logger
}

func New(cfg config.ReportConfig, logger *zap.Logger) (*Generator, error) {
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve report dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report dir: %w", err)
	}
	return &Generator{dir: dir, log: logger.Named("report")}, nil
}

// RiskScore computes the weighted 0-100 score used on the summary page.
func RiskScore(findings []schemas.Finding) int {
	score := 0
	for _, f := range findings {
		score += riskWeights[f.Severity]
	}
	if score > 100 {
		score = 100
	}
	return score
}

// Generate renders the report and returns the file path.
func (g *Generator) Generate(ctx context.Context, job *schemas.Job, findings []schemas.Finding) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// Most severe first; stable so same-severity findings keep store order.
	sorted := append([]schemas.Finding(nil), findings...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Severity.Rank() > sorted[j].Severity.Rank()
	})

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Security Assessment Report - "+job.Target, true)
	pdf.SetAutoPageBreak(true, 20)

	g.coverPage(pdf, job)
	g.summaryPage(pdf, job, sorted)
	g.detailPages(pdf, sorted)

	path := filepath.Join(g.dir, job.ID+".pdf")
	if err := pdf.OutputFileAndClose(path); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	g.log.Info("Report generated",
		zap.String("job_id", job.ID), zap.String("path", path), zap.Int("findings", len(findings)))
	return path, nil
}

func (g *Generator) coverPage(pdf *fpdf.Fpdf, job *schemas.Job) {
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 28)
	pdf.Ln(60)
	pdf.CellFormat(0, 12, "Security Assessment Report", "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 14)
	pdf.Ln(8)
	pdf.CellFormat(0, 8, job.Target, "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	pdf.Ln(40)
	pdf.CellFormat(0, 6, "Job "+job.ID, "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 6, "Generated "+time.Now().UTC().Format("2006-01-02 15:04 UTC"), "", 1, "C", false, 0, "")
	if job.Requester.Company != "" {
		pdf.CellFormat(0, 6, "Prepared for "+job.Requester.Company, "", 1, "C", false, 0, "")
	}
}

func (g *Generator) summaryPage(pdf *fpdf.Fpdf, job *schemas.Job, findings []schemas.Finding) {
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, "Executive Summary", "", 1, "L", false, 0, "")
	pdf.Ln(4)

	score := RiskScore(findings)
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 8, fmt.Sprintf("Overall Risk Score: %d / 100", score), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	counts := map[schemas.Severity]int{}
	for _, f := range findings {
		counts[f.Severity]++
	}

	pdf.SetFont("Helvetica", "", 11)
	order := schemas.SeverityOrder()
	for i := len(order) - 1; i >= 0; i-- {
		sev := order[i]
		rgb := severityColors[sev]
		pdf.SetTextColor(rgb[0], rgb[1], rgb[2])
		pdf.CellFormat(0, 7, fmt.Sprintf("%-8s %d", sev, counts[sev]), "", 1, "L", false, 0, "")
	}
	pdf.SetTextColor(0, 0, 0)

	pdf.Ln(6)
	pdf.MultiCell(0, 6, fmt.Sprintf(
		"The assessment of %s produced %d distinct findings. "+
			"Findings are deduplicated per job and ordered by severity in the following pages.",
		job.Target, len(findings)), "", "L", false)
}

func (g *Generator) detailPages(pdf *fpdf.Fpdf, findings []schemas.Finding) {
	if len(findings) == 0 {
		return
	}

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, "Findings", "", 1, "L", false, 0, "")

	for i, f := range findings {
		pdf.Ln(4)
		rgb := severityColors[f.Severity]
		pdf.SetTextColor(rgb[0], rgb[1], rgb[2])
		pdf.SetFont("Helvetica", "B", 12)
		pdf.MultiCell(0, 7, fmt.Sprintf("%d. [%s] %s", i+1, f.Severity, f.Title), "", "L", false)
		pdf.SetTextColor(0, 0, 0)

		pdf.SetFont("Helvetica", "", 10)
		if f.Description != "" {
			pdf.MultiCell(0, 5, f.Description, "", "L", false)
		}
		if f.Evidence != "" {
			pdf.SetFont("Courier", "", 9)
			pdf.MultiCell(0, 5, "Evidence: "+f.Evidence, "", "L", false)
			pdf.SetFont("Helvetica", "", 10)
		}
		if f.Remediation != "" {
			pdf.MultiCell(0, 5, "Remediation: "+f.Remediation, "", "L", false)
		}
		if f.Meta.CVSSVector != "" {
			pdf.SetFont("Helvetica", "I", 9)
			pdf.MultiCell(0, 5, fmt.Sprintf("CVSS %.1f  %s", f.Meta.CVSSScore, f.Meta.CVSSVector), "", "L", false)
			pdf.SetFont("Helvetica", "", 10)
		}
	}
}
