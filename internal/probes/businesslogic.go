package probes

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"go.uber.org/zap"

	"github.com/ShapezModder/enterprise-security-saas/api/schemas"
	"github.com/ShapezModder/enterprise-security-saas/internal/config"
)

// URL fragments that suggest a transactional endpoint worth abuse-testing.
var transactionMarkers = []string{"checkout", "cart", "order", "payment", "transfer", "purchase", "buy", "refund"}

const (
	concurrentAttempts = 5
	negativeAmountBody = `{"amount":-100,"quantity":-1}`
)

type businessLogicProbe struct {
	client *client
	cfg    config.ProbesConfig
	log    *zap.Logger
}

func (p *businessLogicProbe) ID() string { return "business-logic" }

// Probe fires concurrent negative-amount requests at transactional
// endpoints. Acceptance of a negative value is the primary signal; more than
// one acceptance under concurrency additionally suggests a race window in
// the server's validation. Counting "success" in the body is a heuristic and
// the finding says so.
func (p *businessLogicProbe) Probe(ctx context.Context, tgt Target) ([]schemas.Finding, error) {
	var candidates []string
	for _, u := range tgt.URLs {
		if _, hit := containsAny(u, transactionMarkers); hit {
			candidates = append(candidates, u)
		}
	}
	candidates = capURLs(candidates, 3)

	var findings []schemas.Finding
	for _, endpoint := range candidates {
		accepted, err := p.hammer(ctx, tgt, endpoint)
		if err != nil {
			return findings, err
		}
		if accepted == 0 {
			continue
		}

		desc := fmt.Sprintf("The endpoint accepted %d of %d concurrent requests carrying a negative amount. "+
			"Negative-value acceptance indicates missing server-side validation", accepted, concurrentAttempts)
		if accepted > 1 {
			desc += "; multiple concurrent acceptances additionally suggest a race window in order processing"
		}
		desc += ". Detection is heuristic (success marker in the response) and should be confirmed manually."

		findings = append(findings, newFinding(tgt, "Business Logic", "business-logic-abuse",
			fmt.Sprintf("Negative-amount request accepted at %s", endpoint),
			desc,
			fmt.Sprintf("POST %s with body %s", endpoint, negativeAmountBody)))
	}
	return findings, nil
}

// hammer sends the negative-amount body concurrentAttempts times in parallel
// and counts how many responses look like an accepted transaction.
func (p *businessLogicProbe) hammer(ctx context.Context, tgt Target, endpoint string) (int, error) {
	var accepted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrentAttempts; i++ {
		g.Go(func() error {
			req, err := p.client.request(gctx, tgt)
			if err != nil {
				return err
			}
			resp, err := req.
				SetHeader("Content-Type", "application/json").
				SetBody(negativeAmountBody).
				Post(endpoint)
			if err != nil {
				p.log.Debug("Business-logic probe request failed",
					zap.String("url", endpoint), zap.Error(err))
				return nil
			}
			body := strings.ToLower(string(resp.Body()))
			if resp.StatusCode() < 300 && strings.Contains(body, "success") && !strings.Contains(body, "error") {
				accepted.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return int(accepted.Load()), nil
}
