package source

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/lysyi3m/concierge/app/event"
)

var (
	htmlTagPattern   = regexp.MustCompile(`<[^>]*>`)
	blankLinePattern = regexp.MustCompile(`\n{3,}`)
)

// RSSAdapter reads announcement feeds where each item describes one event
// in prose.
type RSSAdapter struct {
	fetcher *Fetcher
	parser  *gofeed.Parser
}

func NewRSSAdapter(fetcher *Fetcher) *RSSAdapter {
	return &RSSAdapter{
		fetcher: fetcher,
		parser:  gofeed.NewParser(),
	}
}

func (a *RSSAdapter) Fetch(ctx context.Context, cfg *Config) ([]byte, error) {
	return a.fetcher.Get(ctx, cfg.URL, cfg.TimeoutDuration())
}

func (a *RSSAdapter) Parse(data []byte, cfg *Config) ([]event.RawCandidate, error) {
	feed, err := a.parser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	extractor := NewTextExtractor(cfg.Location())
	candidates := make([]event.RawCandidate, 0, len(feed.Items))

	for _, item := range feed.Items {
		if item == nil {
			continue
		}

		title := strings.TrimSpace(item.Title)
		body := htmlToText(cmp.Or(item.Content, item.Description))

		candidate, ok := extractor.ParseMessage(title + "\n" + body)
		if !ok {
			continue
		}

		if title != "" {
			candidate.Title = truncateRunes(title, maxTitleLength)
		}
		candidate.Description = body
		candidate.SourceEventID = cmp.Or(item.GUID, item.Link)
		if candidate.RSVPLink == "" {
			candidate.RSVPLink = item.Link
		}
		if candidate.Tag == "" && len(item.Categories) > 0 {
			candidate.Tag = item.Categories[0]
		}

		candidates = append(candidates, candidate)
	}

	return candidates, nil
}

func htmlToText(s string) string {
	s = strings.NewReplacer("<br>", "\n", "<br/>", "\n", "<br />", "\n", "</p>", "\n\n").Replace(s)
	s = html.UnescapeString(htmlTagPattern.ReplaceAllString(s, ""))

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(blankLinePattern.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}
