package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ShapezModder/enterprise-security-saas/internal/config"
)

func testConfig() config.CrawlerConfig {
	return config.CrawlerConfig{
		MaxDepth:       3,
		MaxPages:       50,
		RequestTimeout: 2 * time.Second,
		Budget:         5 * time.Second,
	}
}

func TestCrawlDiscoversSameHostLinks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>
			<a href="/about">About</a>
			<a href="/about#team">Team</a>
			<a href="https://elsewhere.example/evil">external</a>
			<a href="/logo.png">logo</a>
			<form action="/login"></form>
			<script>fetch("/api/v1/users");</script>
		</body></html>`)
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<a href="/contact">Contact</a>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(testConfig(), zap.NewNop())
	urls, err := c.Crawl(context.Background(), srv.URL+"/", "")
	require.NoError(t, err)

	assert.Contains(t, urls, srv.URL+"/about")
	assert.Contains(t, urls, srv.URL+"/login")
	assert.Contains(t, urls, srv.URL+"/api/v1/users")
	assert.Contains(t, urls, srv.URL+"/contact")

	for _, u := range urls {
		parsed, err := url.Parse(u)
		require.NoError(t, err)
		assert.NotEqual(t, "elsewhere.example", parsed.Hostname(), "off-host URL leaked into scope")
		assert.NotContains(t, u, "#", "fragments must be stripped")
		assert.NotContains(t, u, ".png")
	}
}

func TestCrawlSendsAuthHeader(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html></html>`)
	}))
	defer srv.Close()

	c := New(testConfig(), zap.NewNop())
	_, err := c.Crawl(context.Background(), srv.URL, "Bearer token-123")
	require.NoError(t, err)
	assert.Equal(t, "Bearer token-123", got.Load())
}

func TestCrawlRespectsPageCap(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		// Every page links to two fresh ones; without the cap this never ends.
		fmt.Fprintf(w, `<a href="/p%d">a</a><a href="/p%d">b</a>`, n*2, n*2+1)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxPages = 5
	c := New(cfg, zap.NewNop())

	_, err := c.Crawl(context.Background(), srv.URL+"/", "")
	require.NoError(t, err)
	assert.LessOrEqual(t, hits.Load(), int64(5))
}

func TestCrawlRespectsBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<a href="/n%d">next</a>`, time.Now().UnixNano())
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Budget = 120 * time.Millisecond
	c := New(cfg, zap.NewNop())

	start := time.Now()
	urls, err := c.Crawl(context.Background(), srv.URL+"/", "")
	require.NoError(t, err, "budget expiry is a normal end of crawl")
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.NotEmpty(t, urls)
}

func TestCrawlSkipsNonHTMLResponses(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<a href="/data.json">data</a>`)
	})
	mux.HandleFunc("/data.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"a":"<a href=\"/hidden\">x</a>"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(testConfig(), zap.NewNop())
	urls, err := c.Crawl(context.Background(), srv.URL+"/", "")
	require.NoError(t, err)

	assert.Contains(t, urls, srv.URL+"/data.json")
	assert.NotContains(t, urls, srv.URL+"/hidden", "JSON bodies must not be link-mined")
}

func TestCrawlRejectsInvalidStartURL(t *testing.T) {
	c := New(testConfig(), zap.NewNop())
	_, err := c.Crawl(context.Background(), "://not-a-url", "")
	require.Error(t, err)
}
