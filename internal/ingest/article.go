package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultUserAgent = "Mozilla/5.0 (compatible; StudentAINotes/1.0)"
	defaultMaxPage   = 10 << 20
)

// ArticleFetcher downloads a web page and reduces it to readable text.
type ArticleFetcher struct {
	client    *http.Client
	userAgent string
	// maxBytes caps how much of a page is read; the rest is ignored.
	maxBytes  int64
}

func NewArticleFetcher(timeout time.Duration) *ArticleFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ArticleFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: defaultUserAgent,
		maxBytes:  defaultMaxPage,
	}
}

func (f *ArticleFetcher) Fetch(ctx context.Context, url string) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Document{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Document{}, fmt.Errorf("fetch: unexpected status %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return Document{}, fmt.Errorf("parse html: %w", err)
	}

	metadata := map[string]any{"source": url}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		metadata["title"] = title
	}
	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok && strings.TrimSpace(desc) != "" {
		metadata["description"] = strings.TrimSpace(desc)
	}
	if lang, ok := doc.Find("html").First().Attr("lang"); ok && lang != "" {
		metadata["language"] = lang
	}

	doc.Find("script, style, noscript, template").Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	text := normalizeWhitespace(root.Text())
	if text == "" {
		return Document{}, fmt.Errorf("page has no readable text")
	}

	return Document{Content: text, Metadata: metadata}, nil
}

// normalizeWhitespace collapses runs of spaces inside lines and drops blank
// lines, keeping one line break between blocks of text.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
