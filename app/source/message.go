package source

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lysyi3m/concierge/app/event"
)

const minMessageLength = 10

// Chat announcements use a narrower keyword set than calendar events, and
// leave the tag empty when nothing matches.
var messageTagRules = []struct {
	tag      event.Tag
	keywords []string
}{
	{event.TagRequired, []string{"required", "mandatory", "attendance"}},
	{event.TagCareer, []string{"career", "job", "internship", "recruiting"}},
	{event.TagCapstone, []string{"capstone", "thesis", "project"}},
	{event.TagSocial, []string{"social", "party", "gathering", "meetup"}},
	{event.TagDeadline, []string{"deadline", "due", "submission"}},
}

func ClassifyMessageTag(text string) event.Tag {
	lower := strings.ToLower(text)
	for _, rule := range messageTagRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(lower, keyword) {
				return rule.tag
			}
		}
	}
	return ""
}

// ParseMessage extracts an event candidate from a free-form announcement.
// It reports false unless both a title and a start time were found.
func (x *TextExtractor) ParseMessage(text string) (event.RawCandidate, bool) {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < minMessageLength {
		return event.RawCandidate{}, false
	}

	title := ExtractTitle(text)
	if title == "" {
		return event.RawCandidate{}, false
	}

	start, ok := x.ExtractStart(text)
	if !ok {
		return event.RawCandidate{}, false
	}

	link := ExtractURL(text)

	return event.RawCandidate{
		Title:       title,
		Description: strings.TrimSpace(text),
		Start:       &start,
		Location:    ExtractLocation(text),
		MeetingLink: link,
		IsVirtual:   link != "" && IsMeetingLink(link),
		Tag:         string(ClassifyMessageTag(text)),
	}, true
}

// ParseMessage parses text with times read in the local zone.
func ParseMessage(text string) (event.RawCandidate, bool) {
	return NewTextExtractor(time.Local).ParseMessage(text)
}
