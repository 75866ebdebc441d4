// Package parse normalizes raw scanner tool output into findings. One parser
// per tool family. Parsers are deliberately forgiving: scanner output formats
// drift between releases, and a malformed document yields zero findings
// rather than a failed stage.
package parse

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/ShapezModder/enterprise-security-saas/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxEvidenceSnippet = 120

// truncate shortens evidence snippets so raw secrets and blobs never land in
// the store verbatim.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// --- ffuf ---

type ffufOutput struct {
	Results []struct {
		URL    string `json:"url"`
		Status int    `json:"status"`
		Length int    `json:"length"`
		Input  struct {
			FUZZ string `json:"FUZZ"`
		} `json:"input"`
	} `json:"results"`
}

var sensitivePathMarkers = []string{".git", ".env", ".htpasswd", "backup", ".bak", "id_rsa", "dump.sql"}
var adminPathMarkers = []string{"admin", "config", "phpinfo", "console", "actuator", ".svn"}

// FFUF reads ffuf's -of json report. Access-denied and rate-limited hits are
// noise and skipped.
func FFUF(jobID, raw string) []schemas.Finding {
	var out ffufOutput
	if err := json.UnmarshalFromString(raw, &out); err != nil {
		return nil
	}

	var findings []schemas.Finding
	for _, r := range out.Results {
		if r.Status == 403 || r.Status == 429 {
			continue
		}
		path := r.Input.FUZZ
		if path == "" {
			path = r.URL
		}
		lower := strings.ToLower(path)

		severity := schemas.SeverityInfo
		for _, marker := range sensitivePathMarkers {
			if strings.Contains(lower, marker) {
				severity = schemas.SeverityHigh
				break
			}
		}
		if severity == schemas.SeverityInfo {
			for _, marker := range adminPathMarkers {
				if strings.Contains(lower, marker) {
					severity = schemas.SeverityMedium
					break
				}
			}
		}

		findings = append(findings, schemas.Finding{
			JobID:       jobID,
			Category:    "Content",
			Title:       fmt.Sprintf("Discovered Path: %s (%d)", path, r.Status),
			Severity:    severity,
			Description: fmt.Sprintf("Content discovery found %q responding with HTTP %d (%d bytes).", path, r.Status, r.Length),
			Evidence:    r.URL,
		})
	}
	return findings
}

// --- nuclei ---

type nucleiLine struct {
	TemplateID string `json:"template-id"`
	MatchedAt  string `json:"matched-at"`
	Info       struct {
		Name     string   `json:"name"`
		Severity string   `json:"severity"`
		Tags     []string `json:"tags"`
	} `json:"info"`
}

var nucleiSeverity = map[string]schemas.Severity{
	"info":     schemas.SeverityInfo,
	"low":      schemas.SeverityLow,
	"medium":   schemas.SeverityMedium,
	"high":     schemas.SeverityHigh,
	"critical": schemas.SeverityCritical,
}

// Nuclei reads nuclei's -jsonl output. Informational matches are skipped
// unless they are technology detections, which feed later stages.
func Nuclei(jobID, raw string) []schemas.Finding {
	var findings []schemas.Finding
	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		var entry nucleiLine
		if err := json.UnmarshalFromString(line, &entry); err != nil {
			continue
		}
		severity, ok := nucleiSeverity[strings.ToLower(entry.Info.Severity)]
		if !ok {
			severity = schemas.SeverityInfo
		}
		if severity == schemas.SeverityInfo && !hasTag(entry.Info.Tags, "tech") {
			continue
		}
		title := entry.Info.Name
		if title == "" {
			title = entry.TemplateID
		}
		findings = append(findings, schemas.Finding{
			JobID:       jobID,
			Category:    "Nuclei",
			Title:       title,
			Severity:    severity,
			Description: fmt.Sprintf("Template %s matched.", entry.TemplateID),
			Evidence:    entry.MatchedAt,
		})
	}
	return findings
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

// --- nmap ---

// Matches greppable-ish service lines like "22/tcp open ssh OpenSSH 8.9".
var nmapPortRe = regexp.MustCompile(`(?m)^(\d{1,5})/(tcp|udp)\s+open\s+(\S+)(?:\s+(.*))?$`)

var riskyServices = map[string]schemas.Severity{
	"telnet":        schemas.SeverityHigh,
	"ftp":           schemas.SeverityMedium,
	"ms-wbt-server": schemas.SeverityMedium,
	"vnc":           schemas.SeverityMedium,
	"redis":         schemas.SeverityHigh,
	"mongodb":       schemas.SeverityHigh,
	"mysql":         schemas.SeverityMedium,
	"postgresql":    schemas.SeverityMedium,
}

// Nmap extracts open ports from normal nmap text output.
func Nmap(jobID, raw string) []schemas.Finding {
	var findings []schemas.Finding
	for _, m := range nmapPortRe.FindAllStringSubmatch(raw, -1) {
		port, proto, service, version := m[1], m[2], m[3], strings.TrimSpace(m[4])
		severity := schemas.SeverityInfo
		if s, ok := riskyServices[service]; ok {
			severity = s
		}
		desc := fmt.Sprintf("Port %s/%s is open and serving %s.", port, proto, service)
		if version != "" {
			desc += " Detected version: " + version + "."
		}
		findings = append(findings, schemas.Finding{
			JobID:       jobID,
			Category:    "Ports",
			Title:       fmt.Sprintf("Exposed Service: %s/%s (%s)", port, proto, service),
			Severity:    severity,
			Description: desc,
			Evidence:    strings.TrimSpace(m[0]),
		})
	}
	return findings
}

// --- testssl ---

type testsslEntry struct {
	ID       string `json:"id"`
	Severity string `json:"severity"`
	Finding  string `json:"finding"`
}

// TestSSL reads testssl.sh --jsonfile output and keeps only the findings
// worth a report entry; LOW/MEDIUM TLS nits drown the signal.
func TestSSL(jobID, raw string) []schemas.Finding {
	var entries []testsslEntry
	if err := json.UnmarshalFromString(raw, &entries); err != nil {
		return nil
	}

	var findings []schemas.Finding
	for _, e := range entries {
		var severity schemas.Severity
		switch strings.ToUpper(e.Severity) {
		case "HIGH":
			severity = schemas.SeverityHigh
		case "CRITICAL":
			severity = schemas.SeverityCritical
		default:
			continue
		}
		findings = append(findings, schemas.Finding{
			JobID:       jobID,
			Category:    "TLS",
			Title:       "TLS Weakness: " + e.ID,
			Severity:    severity,
			Description: e.Finding,
		})
	}
	return findings
}

// --- trufflehog ---

type trufflehogLine struct {
	DetectorName string `json:"DetectorName"`
	Verified     bool   `json:"Verified"`
	Raw          string `json:"Raw"`
}

// Trufflehog reads trufflehog --json line output. Verified secrets are
// critical; unverified matches still warrant a look.
func Trufflehog(jobID, raw string) []schemas.Finding {
	var findings []schemas.Finding
	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		var entry trufflehogLine
		if err := json.UnmarshalFromString(line, &entry); err != nil || entry.DetectorName == "" {
			continue
		}
		severity := schemas.SeverityHigh
		if entry.Verified {
			severity = schemas.SeverityCritical
		}
		findings = append(findings, schemas.Finding{
			JobID:       jobID,
			Category:    "Secrets",
			Title:       "Exposed Secret: " + entry.DetectorName,
			Severity:    severity,
			Description: fmt.Sprintf("A %s credential was found in publicly reachable content.", entry.DetectorName),
			Evidence:    truncate(entry.Raw, maxEvidenceSnippet),
		})
	}
	return findings
}
