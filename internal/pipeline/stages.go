package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/ShapezModder/enterprise-security-saas/api/schemas"
	"github.com/ShapezModder/enterprise-security-saas/internal/cvss"
	"github.com/ShapezModder/enterprise-security-saas/internal/pipeline/parse"
)

// Container images for the tool-backed stages. Each runs with the scratch
// directory mounted at /scans.
const (
	imageWafw00f    = "ghcr.io/enablesecurity/wafw00f:latest"
	imageWhatweb    = "ghcr.io/urbanadventurer/whatweb:latest"
	imageSubfinder  = "projectdiscovery/subfinder:latest"
	imageWPScan     = "wpscanteam/wpscan:latest"
	imageKatana     = "projectdiscovery/katana:latest"
	imageFfuf       = "secsi/ffuf:latest"
	imageNikto      = "frapsoft/nikto:latest"
	imageTrufflehog = "trufflesecurity/trufflehog:latest"
	imageTestssl    = "drwetter/testssl.sh:latest"
	imageNuclei     = "projectdiscovery/nuclei:latest"
	imageNmap       = "instrumentisto/nmap:latest"
	imageSqlmap     = "googlesky/sqlmap:latest"
	imageCommix     = "p0dalirius/commix:latest"
)

const maxEnumeratedFindings = 20

// hostOf strips a URL down to its hostname for host-oriented tools.
func hostOf(target string) string {
	if u, err := url.Parse(target); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return target
}

func (c *Controller) stageWAFDetect(ctx context.Context, item schemas.WorkItem) ([]schemas.Finding, error) {
	out, err := c.exec.Run(ctx, imageWafw00f, item.Target)
	if err != nil {
		return nil, err
	}

	if idx := strings.Index(out, "is behind"); idx >= 0 {
		line := lineAround(out, idx)
		return []schemas.Finding{{
			JobID:       item.JobID,
			Category:    "WAF",
			Title:       "Web Application Firewall detected",
			Severity:    schemas.SeverityInfo,
			Description: "The target sits behind a WAF; subsequent probe results may be filtered.",
			Evidence:    line,
		}}, nil
	}
	return []schemas.Finding{{
		JobID:       item.JobID,
		Category:    "WAF",
		Title:       "No Web Application Firewall detected",
		Severity:    schemas.SeverityLow,
		Description: "No WAF fingerprint matched; the application faces attack traffic directly.",
	}}, nil
}

func (c *Controller) stageTechDetect(ctx context.Context, item schemas.WorkItem, state *runState) ([]schemas.Finding, error) {
	out, err := c.exec.Run(ctx, imageWhatweb, "--color=never", item.Target)
	if err != nil {
		return nil, err
	}
	state.fingerprint = out
	state.wordpress = strings.Contains(strings.ToLower(out), "wordpress") ||
		strings.Contains(out, "wp-content")

	if strings.TrimSpace(out) == "" {
		return nil, nil
	}
	return []schemas.Finding{{
		JobID:       item.JobID,
		Category:    "Tech",
		Title:       "Technology fingerprint",
		Severity:    schemas.SeverityInfo,
		Description: "Detected technology stack of the target.",
		Evidence:    firstLines(out, 5),
	}}, nil
}

func (c *Controller) stageSubdomainEnum(ctx context.Context, item schemas.WorkItem) ([]schemas.Finding, error) {
	out, err := c.exec.Run(ctx, imageSubfinder, "-d", hostOf(item.Target), "-silent")
	if err != nil {
		return nil, err
	}

	var findings []schemas.Finding
	for _, line := range strings.Split(out, "\n") {
		sub := strings.TrimSpace(line)
		if sub == "" || !strings.Contains(sub, ".") {
			continue
		}
		findings = append(findings, schemas.Finding{
			JobID:       item.JobID,
			Category:    "Subdomains",
			Title:       "Subdomain discovered: " + sub,
			Severity:    schemas.SeverityInfo,
			Description: "Passive sources list this name under the target's domain.",
		})
		if len(findings) == maxEnumeratedFindings {
			break
		}
	}
	return findings, nil
}

// stageWordPress only runs when the fingerprint stage saw WordPress markers;
// wpscan against anything else wastes the stage budget.
func (c *Controller) stageWordPress(ctx context.Context, item schemas.WorkItem, state *runState) ([]schemas.Finding, error) {
	if !state.wordpress {
		c.log.Debug("Skipping WordPress audit, no markers in fingerprint",
			zap.String("job_id", item.JobID))
		return nil, nil
	}

	out, err := c.exec.Run(ctx, imageWPScan, "--url", item.Target, "--no-banner", "--random-user-agent")
	if err != nil {
		return nil, err
	}

	var findings []schemas.Finding
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "[!]") {
			continue
		}
		findings = append(findings, schemas.Finding{
			JobID:       item.JobID,
			Category:    "WordPress",
			Title:       strings.TrimSpace(strings.TrimPrefix(line, "[!]")),
			Severity:    schemas.SeverityMedium,
			Description: "WPScan flagged this WordPress issue.",
			Evidence:    line,
		})
		if len(findings) == maxEnumeratedFindings {
			break
		}
	}
	return findings, nil
}

// stageCrawl builds the URL set later stages consume. The dedicated tool
// runs first; when it yields nothing usable the in-process crawler takes
// over. The stage itself produces no findings.
func (c *Controller) stageCrawl(ctx context.Context, item schemas.WorkItem, state *runState) ([]schemas.Finding, error) {
	out, err := c.exec.Run(ctx, imageKatana, "-u", item.Target, "-silent", "-d", "3")
	if err != nil {
		return nil, err
	}

	var urls []string
	for _, line := range strings.Split(out, "\n") {
		u := strings.TrimSpace(line)
		if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
			urls = append(urls, u)
		}
	}

	if len(urls) == 0 && c.crawler != nil {
		c.publish(item.JobID, "Crawl tool yielded nothing, falling back to built-in crawler")
		urls, err = c.crawler.Crawl(ctx, item.Target, item.AuthHeader)
		if err != nil {
			return nil, err
		}
	}
	if len(urls) > 0 {
		state.urls = urls
	}
	c.log.Info("Crawl stage collected URL set",
		zap.String("job_id", item.JobID), zap.Int("urls", len(state.urls)))
	return nil, nil
}

func (c *Controller) stageDirFuzz(ctx context.Context, item schemas.WorkItem) ([]schemas.Finding, error) {
	target := strings.TrimSuffix(item.Target, "/") + "/FUZZ"
	out, err := c.exec.Run(ctx, imageFfuf,
		"-u", target, "-w", "/usr/share/wordlists/common.txt",
		"-of", "json", "-o", "/dev/stdout", "-s")
	if err != nil {
		return nil, err
	}
	return parse.FFUF(item.JobID, out), nil
}

func (c *Controller) stageWebServer(ctx context.Context, item schemas.WorkItem) ([]schemas.Finding, error) {
	out, err := c.exec.Run(ctx, imageNikto, "-h", item.Target, "-nointeractive")
	if err != nil {
		return nil, err
	}

	var findings []schemas.Finding
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "+ ") || strings.Contains(line, "Target IP") ||
			strings.Contains(line, "Start Time") || strings.Contains(line, "End Time") {
			continue
		}
		findings = append(findings, schemas.Finding{
			JobID:       item.JobID,
			Category:    "WebServer",
			Title:       truncateTitle(strings.TrimPrefix(line, "+ ")),
			Severity:    schemas.SeverityLow,
			Description: "Web server audit observation.",
			Evidence:    line,
		})
		if len(findings) == maxEnumeratedFindings {
			break
		}
	}
	return findings, nil
}

func (c *Controller) stageSecretHunt(ctx context.Context, item schemas.WorkItem) ([]schemas.Finding, error) {
	out, err := c.exec.Run(ctx, imageTrufflehog, "--json", "--no-update", "git", item.Target)
	if err != nil {
		return nil, err
	}
	return parse.Trufflehog(item.JobID, out), nil
}

func (c *Controller) stageTLS(ctx context.Context, item schemas.WorkItem) ([]schemas.Finding, error) {
	out, err := c.exec.Run(ctx, imageTestssl,
		"--jsonfile", "/dev/stdout", "--quiet", "--color", "0", hostOf(item.Target))
	if err != nil {
		return nil, err
	}
	// testssl interleaves human output with the JSON document; cut to the
	// first bracket.
	if idx := strings.Index(out, "["); idx >= 0 {
		out = out[idx:]
	}
	return parse.TestSSL(item.JobID, out), nil
}

func (c *Controller) stageNuclei(ctx context.Context, item schemas.WorkItem) ([]schemas.Finding, error) {
	out, err := c.exec.Run(ctx, imageNuclei, "-u", item.Target, "-jsonl", "-silent")
	if err != nil {
		return nil, err
	}
	return parse.Nuclei(item.JobID, out), nil
}

func (c *Controller) stagePortScan(ctx context.Context, item schemas.WorkItem) ([]schemas.Finding, error) {
	out, err := c.exec.Run(ctx, imageNmap, "-Pn", "-T4", "--top-ports", "1000", hostOf(item.Target))
	if err != nil {
		return nil, err
	}
	return parse.Nmap(item.JobID, out), nil
}

var sqlmapMarkers = []string{"is vulnerable", "sqlmap identified the following injection point"}

// stageSQLi runs sqlmap against parameterized URLs. Destructive: sqlmap's
// payloads mutate application state, so the stage is gated on the job's
// destructive flag by the controller.
func (c *Controller) stageSQLi(ctx context.Context, item schemas.WorkItem, state *runState) ([]schemas.Finding, error) {
	var findings []schemas.Finding
	for _, target := range parameterizedURLs(state.urls, c.cfg.MaxBulkTargets) {
		out, err := c.exec.Run(ctx, imageSqlmap,
			"-u", target, "--batch", "--level", "2", "--risk", "1", "--random-agent")
		if err != nil {
			return findings, err
		}
		if marker, hit := containsAnyFold(out, sqlmapMarkers); hit {
			res := cvss.ScoreCategory(cvss.CategorySQLInjection)
			findings = append(findings, schemas.Finding{
				JobID:       item.JobID,
				Category:    "SQLi",
				Title:       "SQL injection at " + pathOf(target),
				Severity:    schemas.SeverityCritical,
				Description: "sqlmap confirmed an injectable parameter. Database contents are readable and likely writable.",
				Evidence:    fmt.Sprintf("sqlmap output contained %q for %s", marker, target),
				Meta: schemas.FindingMeta{
					OWASPCategory: "A03:2021 Injection",
					CVSSScore:     res.Score,
					CVSSVector:    res.Vector,
				},
			})
		}
	}
	return findings, nil
}

var commixMarkers = []string{"seems injectable", "is vulnerable"}

func (c *Controller) stageCmdi(ctx context.Context, item schemas.WorkItem, state *runState) ([]schemas.Finding, error) {
	var findings []schemas.Finding
	for _, target := range parameterizedURLs(state.urls, c.cfg.MaxBulkTargets) {
		out, err := c.exec.Run(ctx, imageCommix, "--url", target, "--batch")
		if err != nil {
			return findings, err
		}
		if marker, hit := containsAnyFold(out, commixMarkers); hit {
			res := cvss.ScoreCategory(cvss.CategoryRCE)
			findings = append(findings, schemas.Finding{
				JobID:       item.JobID,
				Category:    "CMDi",
				Title:       "OS command injection at " + pathOf(target),
				Severity:    schemas.SeverityCritical,
				Description: "commix confirmed an injectable parameter reaching a shell. This is remote code execution.",
				Evidence:    fmt.Sprintf("commix output contained %q for %s", marker, target),
				Meta: schemas.FindingMeta{
					OWASPCategory: "A03:2021 Injection",
					CVSSScore:     res.Score,
					CVSSVector:    res.Vector,
				},
			})
		}
	}
	return findings, nil
}

// --- small helpers ---

func parameterizedURLs(urls []string, limit int) []string {
	var out []string
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || len(u.Query()) == 0 {
			continue
		}
		out = append(out, raw)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func containsAnyFold(haystack string, needles []string) (string, bool) {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(lower, strings.ToLower(n)) {
			return n, true
		}
	}
	return "", false
}

func pathOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		return u.Path
	}
	return rawURL
}

func lineAround(s string, idx int) string {
	start := strings.LastIndexByte(s[:idx], '\n') + 1
	end := strings.IndexByte(s[idx:], '\n')
	if end < 0 {
		return strings.TrimSpace(s[start:])
	}
	return strings.TrimSpace(s[start : idx+end])
}

func firstLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func truncateTitle(s string) string {
	const max = 180
	s = strings.TrimSpace(s)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
