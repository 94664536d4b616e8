// Package web fetches a single page with Colly and stores the raw HTML
// under the download root as the job's artifact.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/mgrall/collector/internal/collector"
)

// Config controls fetch behavior.
type Config struct {
	// Root is the download root artifacts are written under.
	Root      string
	UserAgent string
	Timeout   time.Duration
	Logger    *zap.Logger
}

// Fetcher implements collector.Fetcher for the generic web platform.
type Fetcher struct {
	cfg    Config
	base   *colly.Collector
	logger *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &Fetcher{cfg: cfg, base: c, logger: logger}
}

type pageCapture struct {
	body        []byte
	title       string
	finalURL    string
	statusCode  int
	contentType string
}

// Scrape downloads one page and records it as a metadata artifact plus a
// small JSON sidecar describing the response.
func (f *Fetcher) Scrape(ctx context.Context, jobID, rawURL string, progress collector.ProgressFunc) (collector.ScrapeResult, error) {
	if progress == nil {
		progress = func(int, string) {}
	}
	progress(0, "Fetching page")

	capture, err := f.fetch(ctx, rawURL)
	if err != nil {
		return collector.ScrapeResult{Err: err.Error()}, err
	}

	progress(60, "Storing page")

	dir := filepath.Join(f.cfg.Root, "web", jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return collector.ScrapeResult{}, fmt.Errorf("create artifact dir: %w", err)
	}
	pagePath := filepath.Join(dir, "page.html")
	if err := os.WriteFile(pagePath, capture.body, 0o644); err != nil {
		return collector.ScrapeResult{}, fmt.Errorf("write page: %w", err)
	}

	meta := map[string]any{
		"url":          rawURL,
		"final_url":    capture.finalURL,
		"status_code":  capture.statusCode,
		"content_type": capture.contentType,
		"size_bytes":   len(capture.body),
	}

	files := []collector.ScrapedFile{{
		Path: relPath(f.cfg.Root, pagePath),
		Type: collector.FileTypeMetadata,
		Size: int64(len(capture.body)),
	}}

	if raw, err := json.MarshalIndent(meta, "", "  "); err == nil {
		metaPath := filepath.Join(dir, "metadata.json")
		if err := os.WriteFile(metaPath, raw, 0o644); err == nil {
			files = append(files, collector.ScrapedFile{
				Path: relPath(f.cfg.Root, metaPath),
				Type: collector.FileTypeMetadata,
				Size: int64(len(raw)),
			})
		}
	}

	progress(100, "Complete")

	title := capture.title
	if title == "" {
		title = rawURL
	}
	return collector.ScrapeResult{
		Success:  true,
		Title:    title,
		Files:    files,
		Metadata: meta,
	}, nil
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) (pageCapture, error) {
	c := f.base.Clone()
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	c.SetRequestTimeout(timeout)

	var (
		capture  pageCapture
		fetchErr error
	)
	c.OnResponse(func(r *colly.Response) {
		capture.body = append([]byte(nil), r.Body...)
		capture.finalURL = r.Request.URL.String()
		capture.statusCode = r.StatusCode
		capture.contentType = r.Headers.Get("Content-Type")
	})
	c.OnHTML("title", func(e *colly.HTMLElement) {
		if capture.title == "" {
			capture.title = strings.TrimSpace(e.Text)
		}
	})
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return pageCapture{}, fmt.Errorf("page fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return pageCapture{}, fmt.Errorf("page visit failed: %w", err)
		}
		if fetchErr != nil {
			return pageCapture{}, fmt.Errorf("page response failed: %w", fetchErr)
		}
		return capture, nil
	}
}

func relPath(root, abs string) string {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
