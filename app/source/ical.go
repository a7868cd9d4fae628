package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"github.com/lysyi3m/concierge/app/event"
)

// Course sessions such as "CS110 Lecture" are not events worth surfacing.
var courseCodePattern = regexp.MustCompile(`^[A-Z]{2}\d{3}\s`)

const DefaultRecurrenceHorizon = 30 * 24 * time.Hour

var windowsToIANA = map[string]string{
	"Pacific Standard Time":        "America/Los_Angeles",
	"Mountain Standard Time":       "America/Denver",
	"Central Standard Time":        "America/Chicago",
	"Eastern Standard Time":        "America/New_York",
	"Atlantic Standard Time":       "America/Halifax",
	"Alaskan Standard Time":        "America/Anchorage",
	"Hawaiian Standard Time":       "Pacific/Honolulu",
	"GMT Standard Time":            "Europe/London",
	"Central Europe Standard Time": "Europe/Paris",
	"China Standard Time":          "Asia/Shanghai",
	"Tokyo Standard Time":          "Asia/Tokyo",
	"India Standard Time":          "Asia/Kolkata",
	"AUS Eastern Standard Time":    "Australia/Sydney",
}

type ICSAdapter struct {
	fetcher *Fetcher
	horizon time.Duration
	now     func() time.Time
}

func NewICSAdapter(fetcher *Fetcher, horizon time.Duration) *ICSAdapter {
	if horizon <= 0 {
		horizon = DefaultRecurrenceHorizon
	}
	return &ICSAdapter{
		fetcher: fetcher,
		horizon: horizon,
		now:     time.Now,
	}
}

func (a *ICSAdapter) Fetch(ctx context.Context, cfg *Config) ([]byte, error) {
	return a.fetcher.Get(ctx, cfg.URL, cfg.TimeoutDuration())
}

func (a *ICSAdapter) Parse(data []byte, cfg *Config) ([]event.RawCandidate, error) {
	now := a.now()
	return ParseICS(data, ICSOptions{
		Location:    cfg.Location(),
		ExpandFrom:  now,
		ExpandUntil: now.Add(a.horizon),
		SourceName:  cfg.Name,
	})
}

type ICSOptions struct {
	Location    *time.Location // for floating times; defaults to UTC
	ExpandFrom  time.Time      // recurrence window, zero disables expansion
	ExpandUntil time.Time
	SourceName  string // log context only
}

// ParseICS extracts event candidates from an iCalendar document. A component
// that cannot be interpreted is skipped; only an undecodable document is an
// error.
func ParseICS(data []byte, opts ICSOptions) ([]event.RawCandidate, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	trimmed := bytes.TrimSpace(data)
	if !bytes.HasPrefix(bytes.ToUpper(trimmed), []byte("BEGIN:VCALENDAR")) {
		return nil, fmt.Errorf("invalid iCalendar data: missing BEGIN:VCALENDAR")
	}

	decoder := ical.NewDecoder(bytes.NewReader(trimmed))
	var candidates []event.RawCandidate

	for {
		cal, err := decoder.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode calendar: %w", err)
		}

		for _, comp := range cal.Children {
			if comp.Name != ical.CompEvent {
				continue
			}

			normalizeTimezones(comp)

			parsed, err := parseComponent(comp, opts)
			if err != nil {
				slog.Warn("Skipping calendar component", "source", opts.SourceName, "error", err)
				continue
			}
			candidates = append(candidates, parsed...)
		}
	}

	return candidates, nil
}

func parseComponent(comp *ical.Component, opts ICSOptions) ([]event.RawCandidate, error) {
	title := propText(comp, ical.PropSummary)
	if courseCodePattern.MatchString(title) {
		return nil, nil
	}

	startProp := comp.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		return nil, fmt.Errorf("event %q has no DTSTART", title)
	}

	start, timezone, err := parseDateTime(startProp, opts.Location)
	if err != nil {
		return nil, fmt.Errorf("event %q: %w", title, err)
	}

	description := propText(comp, ical.PropDescription)

	base := event.RawCandidate{
		Title:         title,
		Description:   description,
		Start:         &start,
		Timezone:      timezone,
		Location:      propText(comp, ical.PropLocation),
		Tag:           string(event.ClassifyTag(title, description)),
		SourceEventID: propText(comp, ical.PropUID),
	}

	if IsMeetingLink(description) {
		base.IsVirtual = true
		base.MeetingLink = ExtractURL(description)
	}

	var duration time.Duration
	if endProp := comp.Props.Get(ical.PropDateTimeEnd); endProp != nil {
		if end, _, err := parseDateTime(endProp, opts.Location); err == nil {
			base.End = &end
			duration = end.Sub(start)
		}
	}

	ruleProp := comp.Props.Get(ical.PropRecurrenceRule)
	if ruleProp == nil || opts.ExpandUntil.IsZero() {
		return []event.RawCandidate{base}, nil
	}

	occurrences, err := expandRecurrence(comp, ruleProp.Value, start, opts)
	if err != nil {
		return nil, fmt.Errorf("event %q: %w", title, err)
	}
	if len(occurrences) == 0 {
		return []event.RawCandidate{base}, nil
	}

	candidates := make([]event.RawCandidate, 0, len(occurrences))
	for _, occurrence := range occurrences {
		instance := base
		occurrenceStart := occurrence
		instance.Start = &occurrenceStart
		if base.End != nil {
			occurrenceEnd := occurrence.Add(duration)
			instance.End = &occurrenceEnd
		}
		if base.SourceEventID != "" {
			instance.SourceEventID = base.SourceEventID + "/" + occurrence.UTC().Format(time.RFC3339)
		}
		candidates = append(candidates, instance)
	}

	return candidates, nil
}

func expandRecurrence(comp *ical.Component, rule string, start time.Time, opts ICSOptions) ([]time.Time, error) {
	option, err := rrule.StrToROptionInLocation(rule, start.Location())
	if err != nil {
		return nil, fmt.Errorf("invalid RRULE %q: %w", rule, err)
	}
	option.Dtstart = start

	recurrence, err := rrule.NewRRule(*option)
	if err != nil {
		return nil, fmt.Errorf("invalid RRULE %q: %w", rule, err)
	}

	set := rrule.Set{}
	set.RRule(recurrence)

	for _, exdate := range comp.Props.Values(ical.PropExceptionDates) {
		for _, value := range strings.Split(exdate.Value, ",") {
			prop := ical.NewProp(ical.PropExceptionDates)
			prop.Value = value
			prop.Params = exdate.Params
			if t, _, err := parseDateTime(prop, opts.Location); err == nil {
				set.ExDate(t)
			}
		}
	}

	if occurrences := set.Between(opts.ExpandFrom, opts.ExpandUntil, true); len(occurrences) > 0 {
		return occurrences, nil
	}

	// Series starting past the window still yields its next occurrence.
	if next := set.After(opts.ExpandFrom, true); !next.IsZero() {
		return []time.Time{next}, nil
	}
	return nil, nil
}

// parseDateTime resolves a DTSTART/DTEND style property and returns the
// instant with its timezone label. Date-only values become midnight UTC.
func parseDateTime(prop *ical.Prop, floating *time.Location) (time.Time, string, error) {
	value := strings.TrimSpace(prop.Value)

	if len(value) == len("20060102") || prop.ValueType() == ical.ValueDate {
		t, err := time.ParseInLocation("20060102", value, time.UTC)
		if err != nil {
			return time.Time{}, "", fmt.Errorf("invalid date %q: %w", value, err)
		}
		return t, event.DefaultTimezone, nil
	}

	tzid := prop.Params.Get(ical.ParamTimezoneID)
	loc := floating
	if tzid != "" {
		if tzLoc, err := time.LoadLocation(tzid); err == nil {
			loc = tzLoc
		}
	}

	t, err := prop.DateTime(loc)
	if err != nil {
		parsed, ok := parseRawDateTime(value, loc)
		if !ok {
			return time.Time{}, "", fmt.Errorf("invalid date-time %q: %w", value, err)
		}
		t = parsed
	}

	if tzid == "" {
		return t, event.DefaultTimezone, nil
	}
	return t, tzid, nil
}

func parseRawDateTime(value string, loc *time.Location) (time.Time, bool) {
	formats := []string{
		"20060102T150405Z",
		"20060102T150405",
		time.RFC3339,
		"2006-01-02T15:04:05",
	}

	for _, format := range formats {
		if t, err := time.ParseInLocation(format, value, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func propText(comp *ical.Component, name string) string {
	prop := comp.Props.Get(name)
	if prop == nil {
		return ""
	}
	if text, err := prop.Text(); err == nil {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(prop.Value)
}

// normalizeTimezones rewrites Windows zone names, which Outlook exports, to
// their IANA equivalents.
func normalizeTimezones(comp *ical.Component) {
	for _, name := range []string{ical.PropDateTimeStart, ical.PropDateTimeEnd, ical.PropExceptionDates} {
		for _, prop := range comp.Props.Values(name) {
			tzid := prop.Params.Get(ical.ParamTimezoneID)
			if tzid == "" {
				continue
			}
			if ianaName, ok := windowsToIANA[strings.TrimSpace(tzid)]; ok {
				prop.Params.Set(ical.ParamTimezoneID, ianaName)
			}
		}
	}
}
