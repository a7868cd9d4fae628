package source

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/go-shiori/go-readability"

	"github.com/lysyi3m/concierge/app/event"
)

// WebpageAdapter treats a single announcement page as at most one event.
type WebpageAdapter struct {
	fetcher *Fetcher
}

func NewWebpageAdapter(fetcher *Fetcher) *WebpageAdapter {
	return &WebpageAdapter{fetcher: fetcher}
}

func (a *WebpageAdapter) Fetch(ctx context.Context, cfg *Config) ([]byte, error) {
	return a.fetcher.Get(ctx, cfg.URL, cfg.TimeoutDuration())
}

func (a *WebpageAdapter) Parse(data []byte, cfg *Config) ([]event.RawCandidate, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("HTML data is empty")
	}

	pageURL, _ := url.Parse(cfg.URL)

	article, err := readability.FromReader(bytes.NewReader(data), pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to extract content: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return nil, fmt.Errorf("no content extracted from HTML data")
	}

	slog.Debug("Page content extracted", "source", cfg.Name, "title", article.Title, "content_length", len(text))

	candidate, ok := NewTextExtractor(cfg.Location()).ParseMessage(article.Title + "\n" + text)
	if !ok {
		return nil, nil
	}

	candidate.Description = text
	candidate.SourceEventID = cfg.URL
	candidate.RSVPLink = cfg.URL

	return []event.RawCandidate{candidate}, nil
}
