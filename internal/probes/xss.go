package probes

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/ShapezModder/enterprise-security-saas/api/schemas"
	"github.com/ShapezModder/enterprise-security-saas/internal/config"
	"github.com/ShapezModder/enterprise-security-saas/internal/cvss"
)

// Reflection payloads carrying a recognizable sentinel. The oracle is the
// payload coming back byte-for-byte, i.e. without output encoding.
var xssPayloads = []string{
	`<script>alert('fx7q')</script>`,
	`"><img src=x onerror=alert('fx7q')>`,
	`'><svg onload=alert('fx7q')>`,
}

type xssProbe struct {
	client *client
	cfg    config.ProbesConfig
	log    *zap.Logger
}

func (p *xssProbe) ID() string { return "xss" }

// Probe injects each payload into every query parameter of the crawled URLs.
// The first unescaped reflection per URL wins; further payloads against the
// same URL would only duplicate the finding.
func (p *xssProbe) Probe(ctx context.Context, tgt Target) ([]schemas.Finding, error) {
	candidates := capURLs(urlsWithParams(tgt.URLs), p.cfg.MaxProbeURLs)
	if len(candidates) == 0 {
		return nil, nil
	}

	var findings []schemas.Finding
	for _, rawURL := range candidates {
		f, err := p.probeURL(ctx, tgt, rawURL)
		if err != nil {
			return findings, err
		}
		if f != nil {
			findings = append(findings, *f)
		}
	}
	return findings, nil
}

func (p *xssProbe) probeURL(ctx context.Context, tgt Target, rawURL string) (*schemas.Finding, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil
	}

	for param := range parsed.Query() {
		for _, payload := range xssPayloads {
			q := parsed.Query()
			q.Set(param, payload)
			injected := *parsed
			injected.RawQuery = q.Encode()

			req, err := p.client.request(ctx, tgt)
			if err != nil {
				return nil, err
			}
			resp, err := req.Get(injected.String())
			if err != nil {
				p.log.Debug("XSS probe request failed", zap.String("url", rawURL), zap.Error(err))
				continue
			}
			if !strings.Contains(string(resp.Body()), payload) {
				continue
			}

			f := newFinding(tgt, "XSS", cvss.CategoryXSS,
				fmt.Sprintf("Reflected XSS in parameter %q", param),
				fmt.Sprintf("The %q parameter of %s reflects attacker-controlled markup without output encoding.", param, parsed.Path),
				fmt.Sprintf("GET %s returned the payload %s unescaped.", injected.String(), payload))
			return &f, nil
		}
	}
	return nil, nil
}
