package event

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const DefaultTimezone = "UTC"

var tagSynonyms = map[string]Tag{
	"required":   TagRequired,
	"mandatory":  TagRequired,
	"career":     TagCareer,
	"jobs":       TagCareer,
	"recruiting": TagCareer,
	"capstone":   TagCapstone,
	"thesis":     TagCapstone,
	"social":     TagSocial,
	"community":  TagSocial,
	"deadline":   TagDeadline,
	"due":        TagDeadline,
	"general":    TagGeneral,
}

var titleCaser = cases.Title(language.Und)

// CanonicalTag maps a free-form tag onto the closed set where a synonym is
// known and title-cases anything else. Empty input stays empty.
func CanonicalTag(raw string) Tag {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	if tag, ok := tagSynonyms[strings.ToLower(trimmed)]; ok {
		return tag
	}

	return Tag(titleCaser.String(trimmed))
}

// Normalize converts an adapter candidate into the canonical event shape.
// It never fails: missing data stays missing and only a candidate with both
// a title and a start time receives a fingerprint.
func Normalize(c RawCandidate) Event {
	ev := Event{
		Title:         strings.TrimSpace(c.Title),
		Description:   strings.TrimSpace(c.Description),
		Timezone:      strings.TrimSpace(c.Timezone),
		Location:      strings.TrimSpace(c.Location),
		IsVirtual:     c.IsVirtual,
		MeetingLink:   strings.TrimSpace(c.MeetingLink),
		Tag:           CanonicalTag(c.Tag),
		RSVPLink:      strings.TrimSpace(c.RSVPLink),
		WhyMatters:    strings.TrimSpace(c.WhyMatters),
		SourceEventID: strings.TrimSpace(c.SourceEventID),
	}

	if ev.Timezone == "" {
		ev.Timezone = DefaultTimezone
	}

	if c.Start != nil {
		ev.StartTime = *c.Start
	}

	if c.End != nil && (c.Start == nil || !c.End.Before(*c.Start)) {
		end := *c.End
		ev.EndTime = &end
	}

	if ev.Title != "" && c.Start != nil {
		ev.Fingerprint = Fingerprint(ev.Title, ev.StartTime, ev.Location)
	}

	return ev
}

// FillMissing copies optional fields from a later arrival into the stored
// record where the stored value is empty. Identity fields are never touched.
func FillMissing(stored Event, arrival Event) (Event, bool) {
	changed := false

	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
			changed = true
		}
	}

	fill(&stored.Description, arrival.Description)
	fill(&stored.MeetingLink, arrival.MeetingLink)
	fill(&stored.RSVPLink, arrival.RSVPLink)
	fill(&stored.WhyMatters, arrival.WhyMatters)

	if stored.Tag == "" && arrival.Tag != "" {
		stored.Tag = arrival.Tag
		changed = true
	}

	if stored.EndTime == nil && arrival.EndTime != nil && !arrival.EndTime.Before(stored.StartTime) {
		end := *arrival.EndTime
		stored.EndTime = &end
		changed = true
	}

	if !stored.IsVirtual && arrival.IsVirtual {
		stored.IsVirtual = true
		changed = true
	}

	return stored, changed
}
