package probes

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/ShapezModder/enterprise-security-saas/api/schemas"
	"github.com/ShapezModder/enterprise-security-saas/internal/config"
	"github.com/ShapezModder/enterprise-security-saas/internal/cvss"
)

// Numeric path segment, e.g. /api/users/42.
var numericSegmentRe = regexp.MustCompile(`/(\d+)(/|$)`)

// Secrets tried against HS256 tokens. Short list on purpose: this is a
// misconfiguration check, not a cracking run.
var weakJWTSecrets = []string{"secret", "changeme", "password"}

type authProbe struct {
	client *client
	cfg    config.ProbesConfig
	log    *zap.Logger
}

func (p *authProbe) ID() string { return "auth-test" }

func (p *authProbe) Probe(ctx context.Context, tgt Target) ([]schemas.Finding, error) {
	var findings []schemas.Finding

	jwtFindings, err := p.probeForgedTokens(ctx, tgt)
	if err != nil {
		return findings, err
	}
	findings = append(findings, jwtFindings...)

	idorFindings, err := p.probeIDOR(ctx, tgt)
	if err != nil {
		return findings, err
	}
	return append(findings, idorFindings...), nil
}

// forgedTokens builds the candidate tokens: one with the signature stripped
// via alg=none and one per weak HS256 secret.
func forgedTokens() (map[string]string, error) {
	claims := jwt.MapClaims{
		"sub":  "1",
		"role": "admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}

	tokens := map[string]string{}
	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		return nil, err
	}
	tokens["alg=none"] = noneToken

	for _, secret := range weakJWTSecrets {
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		if err != nil {
			return nil, err
		}
		tokens["HS256 secret "+strconv.Quote(secret)] = signed
	}
	return tokens, nil
}

// probeForgedTokens replays protected endpoints with forged bearer tokens.
// Only endpoints that actually reject anonymous access are interesting; a
// public endpoint accepting a garbage token proves nothing.
func (p *authProbe) probeForgedTokens(ctx context.Context, tgt Target) ([]schemas.Finding, error) {
	var candidates []string
	for _, u := range tgt.URLs {
		if strings.Contains(u, "/api") || strings.Contains(u, "admin") || strings.Contains(u, "account") {
			candidates = append(candidates, u)
		}
	}
	candidates = capURLs(candidates, p.cfg.MaxProbeURLs)

	tokens, err := forgedTokens()
	if err != nil {
		return nil, err
	}

	var findings []schemas.Finding
	for _, endpoint := range candidates {
		// Anonymous baseline, deliberately without the job's auth header.
		if err := p.client.limiter.Wait(ctx); err != nil {
			return findings, err
		}
		baseline, err := p.client.rc.R().SetContext(ctx).Get(endpoint)
		if err != nil || (baseline.StatusCode() != 401 && baseline.StatusCode() != 403) {
			continue
		}

		for label, token := range tokens {
			if err := p.client.limiter.Wait(ctx); err != nil {
				return findings, err
			}
			resp, err := p.client.rc.R().SetContext(ctx).
				SetHeader("Authorization", "Bearer "+token).
				Get(endpoint)
			if err != nil {
				continue
			}
			if resp.StatusCode() != 200 {
				continue
			}

			findings = append(findings, newFinding(tgt, "Auth", cvss.CategoryIDOR,
				fmt.Sprintf("Forged JWT accepted at %s", endpoint),
				fmt.Sprintf("The endpoint rejects anonymous requests but accepts a self-issued token (%s), so signature verification is broken or the key is guessable.", label),
				fmt.Sprintf("Anonymous GET returned %d; the same request with a forged bearer token returned 200.", baseline.StatusCode())))
			break
		}
	}
	return findings, nil
}

// probeIDOR bumps numeric resource identifiers and compares responses. Two
// distinct 200 bodies for adjacent IDs under the same credential indicate
// missing object-level authorization.
func (p *authProbe) probeIDOR(ctx context.Context, tgt Target) ([]schemas.Finding, error) {
	var candidates []string
	for _, u := range tgt.URLs {
		if numericSegmentRe.MatchString(u) {
			candidates = append(candidates, u)
		}
	}
	candidates = capURLs(candidates, p.cfg.MaxProbeURLs)

	var findings []schemas.Finding
	for _, rawURL := range candidates {
		mutated, ok := bumpNumericSegment(rawURL)
		if !ok {
			continue
		}

		req, err := p.client.request(ctx, tgt)
		if err != nil {
			return findings, err
		}
		original, err := req.Get(rawURL)
		if err != nil || original.StatusCode() != 200 {
			continue
		}

		req, err = p.client.request(ctx, tgt)
		if err != nil {
			return findings, err
		}
		neighbor, err := req.Get(mutated)
		if err != nil || neighbor.StatusCode() != 200 {
			continue
		}
		if len(neighbor.Body()) == 0 || string(neighbor.Body()) == string(original.Body()) {
			continue
		}

		findings = append(findings, newFinding(tgt, "Auth", cvss.CategoryIDOR,
			fmt.Sprintf("Possible IDOR at %s", pathOf(rawURL)),
			"Adjacent numeric resource identifiers return distinct objects under the same credential, indicating missing object-level authorization checks.",
			fmt.Sprintf("GET %s and GET %s both returned 200 with different bodies.", rawURL, mutated)))
	}
	return findings, nil
}

// bumpNumericSegment increments the last numeric path segment of a URL.
func bumpNumericSegment(rawURL string) (string, bool) {
	matches := numericSegmentRe.FindAllStringSubmatchIndex(rawURL, -1)
	if len(matches) == 0 {
		return "", false
	}
	m := matches[len(matches)-1]
	start, end := m[2], m[3]
	n, err := strconv.Atoi(rawURL[start:end])
	if err != nil {
		return "", false
	}
	return rawURL[:start] + strconv.Itoa(n+1) + rawURL[end:], true
}

func pathOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		return u.Path
	}
	return rawURL
}
