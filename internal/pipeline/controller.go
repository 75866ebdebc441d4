// Package pipeline drives one job through the stage catalog: external tools
// first, then the in-process active probes, then report generation and the
// final status transition. Stages run sequentially; a stage failure is
// recovered and the run continues with whatever the stage produced.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ShapezModder/enterprise-security-saas/api/schemas"
	"github.com/ShapezModder/enterprise-security-saas/internal/config"
	"github.com/ShapezModder/enterprise-security-saas/internal/crawler"
	"github.com/ShapezModder/enterprise-security-saas/internal/lifecycle"
	"github.com/ShapezModder/enterprise-security-saas/internal/probes"
)

// runState carries data between stages of one run: the URL set discovered by
// the crawl stage and the fingerprint collected by tech-detect.
type runState struct {
	urls        []string
	fingerprint string
	wordpress   bool
}

// Controller executes work items. One Controller serves all queue consumers;
// it is stateless between jobs.
type Controller struct {
	jobs     schemas.JobStore
	findings schemas.FindingStore
	life     *lifecycle.Manager
	exec     schemas.ToolExecutor
	crawler  *crawler.Crawler
	probes   map[string]probes.Probe
	report   schemas.ReportGenerator
	notifier schemas.Notifier
	logs     schemas.LogSink
	cfg      config.ScannerConfig
	log      *zap.Logger
}

// NewController wires the pipeline. report, notifier and logs may be nil;
// the corresponding steps are skipped.
func NewController(
	jobs schemas.JobStore,
	findings schemas.FindingStore,
	life *lifecycle.Manager,
	exec schemas.ToolExecutor,
	crawl *crawler.Crawler,
	probeList []probes.Probe,
	report schemas.ReportGenerator,
	notifier schemas.Notifier,
	logs schemas.LogSink,
	cfg config.ScannerConfig,
	logger *zap.Logger,
) *Controller {
	probeMap := make(map[string]probes.Probe, len(probeList))
	for _, p := range probeList {
		probeMap[p.ID()] = p
	}
	return &Controller{
		jobs: jobs, findings: findings, life: life, exec: exec, crawler: crawl,
		probes: probeMap, report: report, notifier: notifier, logs: logs,
		cfg: cfg, log: logger.Named("pipeline"),
	}
}

// Execute runs one claimed job end to end. It owns the job's terminal
// transition: COMPLETED on success, FAILED on an unrecoverable error, and no
// transition at all when the job was cancelled mid-run (the cancel already
// moved it; ErrCancelled tells the caller this was not a failure). A ctx
// error means the worker itself is shutting down — the job stays RUNNING and
// the caller requeues the work item for redelivery.
func (c *Controller) Execute(ctx context.Context, item schemas.WorkItem) error {
	log := c.log.With(zap.String("job_id", item.JobID), zap.String("target", item.Target))
	log.Info("Scan run starting", zap.Strings("selected_stages", item.SelectedStages))

	state := &runState{urls: []string{item.Target}}
	selected := make(map[string]struct{}, len(item.SelectedStages))
	for _, id := range item.SelectedStages {
		selected[id] = struct{}{}
	}

	for _, stage := range Catalog {
		if len(selected) > 0 {
			if _, ok := selected[stage.ID]; !ok {
				continue
			}
		}
		if stage.Destructive && !item.Options.Destructive {
			continue
		}

		// Cooperative cancellation: one poll per stage boundary.
		status, err := c.jobs.GetJobStatus(ctx, item.JobID)
		if err != nil {
			return c.fail(ctx, item.JobID, fmt.Errorf("status poll failed: %w", err))
		}
		if status == schemas.StatusCancelled {
			c.publish(item.JobID, "Scan cancelled; results collected so far are kept")
			log.Info("Run stopped at stage boundary after cancellation", zap.String("stage", stage.ID))
			return schemas.ErrCancelled
		}

		c.publish(item.JobID, "Starting stage: "+stage.Name)
		findings, err := c.runStage(ctx, item, stage, state)
		if err != nil {
			if ctx.Err() != nil {
				// Worker shutdown, not a stage problem. Leave the job RUNNING;
				// the caller requeues the work item for another worker.
				return ctx.Err()
			}
			log.Warn("Stage failed, continuing with next stage",
				zap.String("stage", stage.ID), zap.Error(err))
			c.publish(item.JobID, fmt.Sprintf("Stage %s failed: %v", stage.Name, err))
			continue
		}

		saved := 0
		for _, f := range findings {
			if err := c.findings.SaveFinding(ctx, f); err != nil {
				log.Warn("Failed to save finding",
					zap.String("stage", stage.ID), zap.String("title", f.Title), zap.Error(err))
				continue
			}
			saved++
		}
		c.publish(item.JobID, fmt.Sprintf("Stage %s finished: %d findings", stage.Name, saved))
	}

	return c.finalize(ctx, item, log)
}

// finalize generates the report, emails it and moves the job to COMPLETED.
// Report and mail trouble degrade the result but never fail the job.
func (c *Controller) finalize(ctx context.Context, item schemas.WorkItem, log *zap.Logger) error {
	job, err := c.jobs.GetJob(ctx, item.JobID)
	if err != nil {
		return c.fail(ctx, item.JobID, fmt.Errorf("failed to load job for finalization: %w", err))
	}

	reportPath := ""
	if c.report != nil {
		findings, err := c.findings.ListFindings(ctx, item.JobID)
		if err != nil {
			log.Warn("Failed to list findings for report", zap.Error(err))
		} else if reportPath, err = c.report.Generate(ctx, job, findings); err != nil {
			log.Warn("Report generation failed", zap.Error(err))
			reportPath = ""
		}
	}

	if err := c.life.Complete(ctx, item.JobID, reportPath); err != nil {
		if errors.Is(err, schemas.ErrInvalidTransition) {
			// Cancelled during the last stage or finalization; nothing to do.
			log.Info("Job left RUNNING state during finalization, keeping its terminal status")
			return schemas.ErrCancelled
		}
		return err
	}

	if c.notifier != nil && reportPath != "" && job.Requester.Email != "" {
		if err := c.notifier.SendReport(ctx, job.Requester.Email, job.ID, job.Target, reportPath); err != nil {
			log.Warn("Report mail failed", zap.Error(err))
		}
	}

	c.publish(item.JobID, "Scan completed")
	log.Info("Scan run completed", zap.String("report", reportPath))
	return nil
}

// fail moves the job to FAILED and reports the cause to the queue.
func (c *Controller) fail(ctx context.Context, jobID string, cause error) error {
	if err := c.life.Fail(ctx, jobID, cause.Error()); err != nil && !errors.Is(err, schemas.ErrInvalidTransition) {
		c.log.Error("Failed to mark job as failed", zap.String("job_id", jobID), zap.Error(err))
	}
	c.publish(jobID, "Scan failed: "+cause.Error())
	return cause
}

func (c *Controller) publish(jobID, line string) {
	if c.logs != nil {
		c.logs.Publish(jobID, line)
	}
}

// runStage dispatches one catalog stage. Tool-backed stages live in
// stages.go; probe stages delegate to the probes package.
func (c *Controller) runStage(ctx context.Context, item schemas.WorkItem, stage schemas.StageDefinition, state *runState) ([]schemas.Finding, error) {
	switch stage.ID {
	case "waf-detect":
		return c.stageWAFDetect(ctx, item)
	case "tech-detect":
		return c.stageTechDetect(ctx, item, state)
	case "subdomain-enum":
		return c.stageSubdomainEnum(ctx, item)
	case "wordpress":
		return c.stageWordPress(ctx, item, state)
	case "crawl":
		return c.stageCrawl(ctx, item, state)
	case "dir-fuzz":
		return c.stageDirFuzz(ctx, item)
	case "web-server":
		return c.stageWebServer(ctx, item)
	case "secret-hunt":
		return c.stageSecretHunt(ctx, item)
	case "ssl-tls":
		return c.stageTLS(ctx, item)
	case "nuclei":
		return c.stageNuclei(ctx, item)
	case "port-scan":
		return c.stagePortScan(ctx, item)
	case "sqli":
		return c.stageSQLi(ctx, item, state)
	case "cmdi":
		return c.stageCmdi(ctx, item, state)
	}

	if p, ok := c.probes[stage.ID]; ok {
		return p.Probe(ctx, probes.Target{
			JobID:      item.JobID,
			BaseURL:    item.Target,
			AuthHeader: item.AuthHeader,
			URLs:       state.urls,
			Options:    item.Options,
		})
	}
	return nil, fmt.Errorf("stage %q has no implementation", stage.ID)
}
