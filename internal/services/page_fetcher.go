package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/lotsentry/lotsentry-backend/internal/logger"
	"github.com/lotsentry/lotsentry-backend/internal/utils"
)

// Page is the fetched content of one dealership URL. Markup feeds the
// template detector, Text feeds the text-tier judgment.
type Page struct {
	URL    string
	Markup string
	Text   string
}

type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

type httpPageFetcher struct {
	log        *logger.Logger
	httpClient *http.Client
	maxBytes   int64
}

func NewHTTPPageFetcher(log *logger.Logger) PageFetcher {
	serviceLog := log.With("service", "PageFetcher")
	timeoutSec := utils.GetEnvAsInt("PAGE_FETCH_TIMEOUT_SECONDS", 30, log)
	return &httpPageFetcher{
		log:        serviceLog,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxBytes:   4 << 20,
	}
}

func (f *httpPageFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("Failed to build page request: %w", err)
	}
	req.Header.Set("User-Agent", "lotsentry-compliance-bot/1.0")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Failed to fetch page %q: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("page fetch %q returned status %d", url, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("Failed to read page body: %w", err)
	}

	markup := string(raw)
	return &Page{
		URL:    url,
		Markup: markup,
		Text:   stripMarkup(markup),
	}, nil
}

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]+>`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
)

// stripMarkup is a crude text extraction. Rendering-accurate extraction is a
// collaborator concern; the text tier only needs the visible copy.
func stripMarkup(markup string) string {
	text := scriptRe.ReplaceAllString(markup, " ")
	text = tagRe.ReplaceAllString(text, "\n")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return blankRe.ReplaceAllString(strings.Join(out, "\n"), "\n\n")
}
