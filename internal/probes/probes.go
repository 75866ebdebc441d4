// Package probes implements the active vulnerability checks that run after
// reconnaissance. Each probe is a strategy object with a uniform entry point;
// the pipeline runs them in catalog order against the URL set produced by the
// crawl stage. All probes share one rate-limited HTTP client so a job's
// request pressure on the target stays bounded regardless of stage mix.
package probes

import (
	"context"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ShapezModder/enterprise-security-saas/api/schemas"
	"github.com/ShapezModder/enterprise-security-saas/internal/config"
	"github.com/ShapezModder/enterprise-security-saas/internal/cvss"
)

// Target is the probe input: the job's base URL plus the URL set discovered
// during the crawl stage.
type Target struct {
	JobID      string
	BaseURL    string
	AuthHeader string
	URLs       []string
	Options    schemas.ScanOptions
}

// Probe is one active check. Implementations return zero findings on a clean
// target; an error means the probe itself could not run, not that the target
// is healthy.
type Probe interface {
	ID() string
	Probe(ctx context.Context, tgt Target) ([]schemas.Finding, error)
}

// client wraps the shared resty client with the job-wide request limiter.
type client struct {
	rc      *resty.Client
	limiter *rate.Limiter
}

func newClient(cfg config.ProbesConfig) *client {
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 10
	}
	rc := resty.New().
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(0).
		SetHeader("User-Agent", "fortress-probe/1.0")
	return &client{rc: rc, limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1)}
}

// request hands out a rate-limited request carrying the job's auth header.
func (c *client) request(ctx context.Context, tgt Target) (*resty.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req := c.rc.R().SetContext(ctx)
	if tgt.AuthHeader != "" {
		req.SetHeader("Authorization", tgt.AuthHeader)
	}
	return req, nil
}

var ratingToSeverity = map[cvss.Rating]schemas.Severity{
	cvss.RatingNone:     schemas.SeverityInfo,
	cvss.RatingLow:      schemas.SeverityLow,
	cvss.RatingMedium:   schemas.SeverityMedium,
	cvss.RatingHigh:     schemas.SeverityHigh,
	cvss.RatingCritical: schemas.SeverityCritical,
}

var owaspByCategory = map[string]string{
	"XSS":             "A03:2021 Injection",
	"XXE":             "A05:2021 Security Misconfiguration",
	"SSRF":            "A10:2021 Server-Side Request Forgery",
	"Deserialization": "A08:2021 Software and Data Integrity Failures",
	"Business Logic":  "A04:2021 Insecure Design",
	"Cloud":           "A05:2021 Security Misconfiguration",
	"Auth":            "A01:2021 Broken Access Control",
}

// newFinding assembles a finding whose severity and CVSS metadata come from
// the preset vector of the vulnerability class.
func newFinding(tgt Target, category, presetTag, title, description, evidence string) schemas.Finding {
	res := cvss.ScoreCategory(presetTag)
	return schemas.Finding{
		JobID:       tgt.JobID,
		Category:    category,
		Title:       title,
		Severity:    ratingToSeverity[res.Severity],
		Description: description,
		Evidence:    evidence,
		Meta: schemas.FindingMeta{
			OWASPCategory: owaspByCategory[category],
			CVSSScore:     res.Score,
			CVSSVector:    res.Vector,
		},
	}
}

// urlsWithParams filters the crawl set down to URLs carrying a query string,
// the only ones parameter-injection probes can work with.
func urlsWithParams(urls []string) []string {
	var out []string
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || len(u.Query()) == 0 {
			continue
		}
		out = append(out, raw)
	}
	return out
}

// capURLs bounds how many URLs a probe visits.
func capURLs(urls []string, n int) []string {
	if n > 0 && len(urls) > n {
		return urls[:n]
	}
	return urls
}

// containsAny reports whether body holds any of the oracle markers,
// case-insensitively.
func containsAny(body string, markers []string) (string, bool) {
	lower := strings.ToLower(body)
	for _, m := range markers {
		if strings.Contains(lower, strings.ToLower(m)) {
			return m, true
		}
	}
	return "", false
}

// All returns the probe catalog in execution order. The pipeline filters it
// by stage selection.
func All(cfg config.ProbesConfig, logger *zap.Logger) []Probe {
	c := newClient(cfg)
	log := logger.Named("probes")
	return []Probe{
		&xssProbe{client: c, cfg: cfg, log: log},
		&xxeProbe{client: c, cfg: cfg, log: log},
		&ssrfProbe{client: c, cfg: cfg, log: log},
		&deserializationProbe{client: c, cfg: cfg, log: log},
		&businessLogicProbe{client: c, cfg: cfg, log: log},
		&cloudProbe{client: c, cfg: cfg, log: log},
		&authProbe{client: c, cfg: cfg, log: log},
	}
}
