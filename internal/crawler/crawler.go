// Package crawler implements the lightweight in-process crawl used when the
// dedicated crawling tool produces nothing. It walks same-host links breadth
// first under strict depth, page and wall-clock budgets; the URL set it
// returns feeds the active-probe stages.
package crawler

import (
	"context"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/ShapezModder/enterprise-security-saas/internal/config"
)

// Asset extensions that cannot yield new navigable URLs.
var skippedExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {}, ".ico": {},
	".css": {}, ".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {},
	".pdf": {}, ".zip": {}, ".gz": {}, ".mp4": {}, ".webp": {}, ".avif": {},
}

// Endpoint-looking string literals inside inline scripts, e.g. "/api/v1/users".
var scriptEndpointRe = regexp.MustCompile(`["'](/(?:api|graphql|rest|v\d+)[A-Za-z0-9_\-./]*)["']`)

// Crawler is a bounded same-host BFS crawler.
type Crawler struct {
	client *resty.Client
	cfg    config.CrawlerConfig
	log    *zap.Logger
}

// New builds a crawler with its own HTTP client. Redirects are followed but
// never off the configured per-request timeout.
func New(cfg config.CrawlerConfig, logger *zap.Logger) *Crawler {
	client := resty.New().
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(0).
		SetHeader("User-Agent", "fortress-crawler/1.0")
	return &Crawler{client: client, cfg: cfg, log: logger.Named("crawler")}
}

type queueEntry struct {
	url   string
	depth int
}

// Crawl walks the target breadth first and returns the sorted set of
// discovered same-host URLs, the start page included. The crawl ends when
// the page cap, the depth cap or the wall-clock budget is hit, whichever
// comes first; a budget expiry is a normal result, not an error.
func (c *Crawler) Crawl(ctx context.Context, startURL, authHeader string) ([]string, error) {
	base, err := url.Parse(startURL)
	if err != nil {
		return nil, err
	}

	crawlCtx, cancel := context.WithTimeout(ctx, c.cfg.Budget)
	defer cancel()

	seen := map[string]struct{}{canonical(base): {}}
	queue := []queueEntry{{url: canonical(base), depth: 0}}
	visited := 0

	for len(queue) > 0 && visited < c.cfg.MaxPages {
		if crawlCtx.Err() != nil {
			c.log.Debug("Crawl budget exhausted", zap.Int("visited", visited))
			break
		}

		entry := queue[0]
		queue = queue[1:]
		visited++

		req := c.client.R().SetContext(crawlCtx)
		if authHeader != "" {
			req.SetHeader("Authorization", authHeader)
		}
		resp, err := req.Get(entry.url)
		if err != nil {
			c.log.Debug("Crawl fetch failed", zap.String("url", entry.url), zap.Error(err))
			continue
		}
		if !strings.Contains(resp.Header().Get("Content-Type"), "html") {
			continue
		}

		for _, link := range c.extractLinks(base, entry.url, resp.Body()) {
			if _, ok := seen[link]; ok {
				continue
			}
			seen[link] = struct{}{}
			if entry.depth+1 <= c.cfg.MaxDepth {
				queue = append(queue, queueEntry{url: link, depth: entry.depth + 1})
			}
		}
	}

	urls := make([]string, 0, len(seen))
	for u := range seen {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	c.log.Info("Crawl finished",
		zap.String("target", startURL), zap.Int("visited", visited), zap.Int("discovered", len(urls)))
	return urls, nil
}

// extractLinks pulls anchor hrefs, form actions and script-literal endpoints
// out of one HTML document, keeping only in-scope URLs.
func (c *Crawler) extractLinks(base *url.URL, pageURL string, body []byte) []string {
	page, err := url.Parse(pageURL)
	if err != nil {
		page = base
	}

	var links []string
	add := func(raw string) {
		if normalized, ok := c.inScope(base, page, raw); ok {
			links = append(links, normalized)
		}
	}

	tokenizer := html.NewTokenizer(strings.NewReader(string(body)))
	for {
		tokenType := tokenizer.Next()
		if tokenType == html.ErrorToken {
			return links
		}
		if tokenType != html.StartTagToken && tokenType != html.SelfClosingTagToken {
			continue
		}

		token := tokenizer.Token()
		switch token.Data {
		case "a":
			add(attr(token, "href"))
		case "form":
			add(attr(token, "action"))
		case "script":
			if attr(token, "src") != "" {
				continue
			}
			// Inline script: mine endpoint-looking string literals.
			if tokenizer.Next() == html.TextToken {
				for _, m := range scriptEndpointRe.FindAllStringSubmatch(string(tokenizer.Text()), -1) {
					add(m[1])
				}
			}
		}
	}
}

// inScope resolves raw against the current page and accepts it only when it
// stays on the target host, uses http(s), and is not a static asset.
func (c *Crawler) inScope(base, page *url.URL, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") ||
		strings.HasPrefix(raw, "mailto:") || strings.HasPrefix(raw, "javascript:") ||
		strings.HasPrefix(raw, "tel:") || strings.HasPrefix(raw, "data:") {
		return "", false
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	resolved := page.ResolveReference(ref)

	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	if !strings.EqualFold(resolved.Hostname(), base.Hostname()) {
		return "", false
	}

	ext := strings.ToLower(pathExt(resolved.Path))
	if _, skip := skippedExtensions[ext]; skip {
		return "", false
	}
	return canonical(resolved), true
}

func pathExt(p string) string {
	if i := strings.LastIndex(p, "."); i >= 0 && !strings.Contains(p[i:], "/") {
		return p[i:]
	}
	return ""
}

// canonical strips fragments so the seen-set dedups properly.
func canonical(u *url.URL) string {
	cp := *u
	cp.Fragment = ""
	return cp.String()
}

func attr(t html.Token, name string) string {
	for _, a := range t.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}
