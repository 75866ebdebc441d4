package pipeline

import "github.com/ShapezModder/enterprise-security-saas/api/schemas"

// Catalog is the full stage list in execution order. Order matters:
// reconnaissance stages feed the crawl URL set, and the destructive
// injection stages run before the remaining active probes so that a
// terminated job has already produced its highest-value results.
var Catalog = []schemas.StageDefinition{
	{ID: "waf-detect", Name: "WAF Detection", Category: schemas.CategoryRecon, Recommended: true},
	{ID: "tech-detect", Name: "Technology Fingerprinting", Category: schemas.CategoryRecon, Recommended: true},
	{ID: "subdomain-enum", Name: "Subdomain Enumeration", Category: schemas.CategoryRecon, Recommended: true},
	{ID: "wordpress", Name: "WordPress Audit", Category: schemas.CategoryRecon},
	{ID: "crawl", Name: "Site Crawl", Category: schemas.CategoryRecon, Recommended: true},
	{ID: "dir-fuzz", Name: "Content Discovery", Category: schemas.CategoryRecon, Recommended: true},
	{ID: "web-server", Name: "Web Server Audit", Category: schemas.CategoryVulnerability},
	{ID: "secret-hunt", Name: "Secret Exposure", Category: schemas.CategoryVulnerability, Recommended: true},
	{ID: "ssl-tls", Name: "TLS Configuration", Category: schemas.CategoryVulnerability, Recommended: true},
	{ID: "nuclei", Name: "Known Vulnerability Templates", Category: schemas.CategoryVulnerability, Recommended: true},
	{ID: "port-scan", Name: "Port Scan", Category: schemas.CategoryVulnerability, Recommended: true},
	{ID: "sqli", Name: "SQL Injection", Category: schemas.CategoryVulnerability, Destructive: true},
	{ID: "cmdi", Name: "Command Injection", Category: schemas.CategoryVulnerability, Destructive: true},
	{ID: "xss", Name: "Cross-Site Scripting", Category: schemas.CategoryVulnerability, Recommended: true},
	{ID: "xxe", Name: "XML External Entities", Category: schemas.CategoryAdvanced},
	{ID: "ssrf", Name: "Server-Side Request Forgery", Category: schemas.CategoryAdvanced},
	{ID: "deserialization", Name: "Insecure Deserialization", Category: schemas.CategoryAdvanced},
	{ID: "business-logic", Name: "Business Logic Abuse", Category: schemas.CategoryAdvanced},
	{ID: "cloud-security", Name: "Cloud Storage Exposure", Category: schemas.CategoryAdvanced},
	{ID: "auth-test", Name: "Authentication & Authorization", Category: schemas.CategoryAdvanced},
}

// StageIDs returns the catalog's identifiers in order.
func StageIDs() []string {
	ids := make([]string, len(Catalog))
	for i, s := range Catalog {
		ids[i] = s.ID
	}
	return ids
}

// KnownStage reports whether id names a catalog stage.
func KnownStage(id string) bool {
	for _, s := range Catalog {
		if s.ID == id {
			return true
		}
	}
	return false
}
