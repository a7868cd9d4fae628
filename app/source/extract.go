package source

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

const (
	maxTitleLength    = 200
	maxLocationLength = 200
)

var (
	urlPattern      = regexp.MustCompile(`https?://[^\s<>"']+`)
	locationPattern = regexp.MustCompile(`(?i)(?:📍|location:|venue:)[ \t]*([^\r\n]+)`)
	clockPattern    = regexp.MustCompile(`(?i)^(\d{1,2})(?::(\d{2}))?\s*([ap]m)?$`)

	// Date shapes located inside prose before falling back to a whole-line parse.
	isoDatePattern     = regexp.MustCompile(`\b(\d{4}-\d{1,2}-\d{1,2})(?:[T ](\d{1,2}:\d{2}))?`)
	slashDatePattern   = regexp.MustCompile(`\b(\d{1,2}/\d{1,2}/(?:\d{4}|\d{2}))\b`)
	monthDayPattern    = regexp.MustCompile(`(?i)\b([a-z]+)\.?\s+(\d{1,2})(?:st|nd|rd|th)?\b(?:,?\s+(\d{4})\b)?`)
	clockInTextPattern = regexp.MustCompile(`(?i)\b(\d{1,2}(?::\d{2})?\s*[ap]m|\d{1,2}:\d{2})\b`)
)

var meetingPlatforms = []string{"zoom.us", "meet.google.com", "teams.microsoft"}

// DateRule is one entry of the ordered start-time cascade. Pattern locates a
// candidate in free text and Extract turns its submatches into a time.
type DateRule struct {
	Name    string
	Pattern *regexp.Regexp
	Extract func(match []string, ref time.Time, loc *time.Location) (time.Time, bool)
}

const clockSubpattern = `(\d{1,2}(?::\d{2})?\s*[AaPp][Mm]|\d{1,2}:\d{2})`

// DateRules is tried in order; the first rule that yields a valid time wins.
var DateRules = []DateRule{
	{
		Name:    "numeric",
		Pattern: regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4}|\d{2})\s+(?:(?i:at)\s+)?` + clockSubpattern),
		Extract: extractNumericDate,
	},
	{
		Name:    "weekday",
		Pattern: regexp.MustCompile(`(?i)\b(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday)[,\s]+([a-z]+)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+at\s+` + clockSubpattern),
		Extract: extractWeekdayDate,
	},
	{
		Name:    "month-day-year",
		Pattern: regexp.MustCompile(`(?i)\b([a-z]+)\.?\s+(\d{1,2})(?:st|nd|rd|th)?[,\s]+(\d{4}),?\s+at\s+` + clockSubpattern),
		Extract: extractMonthDayYear,
	},
}

var monthNames = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "sept": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

// TextExtractor pulls event fields out of free-form announcement text.
// Times without an explicit zone are read in Location.
type TextExtractor struct {
	Location *time.Location
	Now      func() time.Time
}

func NewTextExtractor(loc *time.Location) *TextExtractor {
	if loc == nil {
		loc = time.Local
	}
	return &TextExtractor{
		Location: loc,
		Now:      time.Now,
	}
}

// ExtractStart runs the rule cascade, then falls back to a fuzzy parse of
// each line and finally of the whole text.
func (x *TextExtractor) ExtractStart(text string) (time.Time, bool) {
	ref := x.Now().In(x.Location)

	for _, rule := range DateRules {
		for _, match := range rule.Pattern.FindAllStringSubmatch(text, -1) {
			if start, ok := rule.Extract(match, ref, x.Location); ok {
				return start, true
			}
		}
	}

	for _, line := range strings.Split(text, "\n") {
		if start, ok := fuzzyParse(line, ref, x.Location); ok {
			return start, true
		}
	}

	return fuzzyParse(text, ref, x.Location)
}

// fuzzyParse looks for a date embedded in prose and pairs it with the first
// clock that follows it. Text with no recognizable date shape is handed to
// dateparse whole.
func fuzzyParse(text string, ref time.Time, loc *time.Location) (time.Time, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false
	}

	if start, ok := parseEmbeddedDate(text, ref, loc); ok {
		return start, true
	}

	// A bare hour with am/pm is misread by dateparse
	if clockInTextPattern.MatchString(text) && !strings.Contains(text, ":") {
		return time.Time{}, false
	}

	return parseWhole(text, loc)
}

func parseEmbeddedDate(text string, ref time.Time, loc *time.Location) (time.Time, bool) {
	if m := isoDatePattern.FindStringSubmatchIndex(text); m != nil {
		clock := ""
		if m[4] >= 0 {
			clock = text[m[4]:m[5]]
		}
		if start, ok := dateWithClock(text[m[2]:m[3]], clock, text[m[1]:], loc); ok {
			return start, true
		}
	}

	if m := slashDatePattern.FindStringSubmatchIndex(text); m != nil {
		if start, ok := dateWithClock(text[m[2]:m[3]], "", text[m[1]:], loc); ok {
			return start, true
		}
	}

	for _, m := range monthDayPattern.FindAllStringSubmatchIndex(text, -1) {
		month, ok := monthNames[strings.ToLower(text[m[2]:m[3]])]
		if !ok {
			continue
		}
		day, _ := strconv.Atoi(text[m[4]:m[5]])
		clock := clockInTextPattern.FindString(text[m[1]:])

		year, explicitYear := ref.Year(), m[6] >= 0
		if explicitYear {
			year, _ = strconv.Atoi(text[m[6]:m[7]])
		}

		start, ok := buildTime(year, month, day, clock, loc)
		if !ok {
			continue
		}
		if !explicitYear && start.Before(ref.AddDate(0, -2, 0)) {
			if start, ok = buildTime(year+1, month, day, clock, loc); !ok {
				continue
			}
		}
		return start, true
	}

	return time.Time{}, false
}

// dateWithClock parses a numeric date with dateparse and applies clock, or
// the first clock found in rest when clock is empty.
func dateWithClock(date, clock, rest string, loc *time.Location) (time.Time, bool) {
	day, ok := parseWhole(date, loc)
	if !ok {
		return time.Time{}, false
	}
	if clock == "" {
		clock = clockInTextPattern.FindString(rest)
	}
	return buildTime(day.Year(), day.Month(), day.Day(), clock, loc)
}

func parseWhole(text string, loc *time.Location) (start time.Time, ok bool) {
	// dateparse panics on some malformed inputs
	defer func() {
		if recover() != nil {
			start, ok = time.Time{}, false
		}
	}()

	parsed, err := dateparse.ParseIn(text, loc)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

// ExtractTitle returns the first non-blank line.
func ExtractTitle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return truncateRunes(trimmed, maxTitleLength)
		}
	}
	return ""
}

// ExtractLocation returns the rest of the line after a location marker.
func ExtractLocation(text string) string {
	match := locationPattern.FindStringSubmatch(text)
	if match == nil {
		return ""
	}
	return truncateRunes(strings.TrimSpace(match[1]), maxLocationLength)
}

// ExtractURL returns the first http(s) URL in text.
func ExtractURL(text string) string {
	found := urlPattern.FindString(text)
	return strings.TrimRight(found, ".,;:!?)]")
}

// IsMeetingLink reports whether text mentions a known video meeting host.
func IsMeetingLink(text string) bool {
	lower := strings.ToLower(text)
	for _, platform := range meetingPlatforms {
		if strings.Contains(lower, platform) {
			return true
		}
	}
	return false
}

func extractNumericDate(match []string, _ time.Time, loc *time.Location) (time.Time, bool) {
	month, _ := strconv.Atoi(match[1])
	day, _ := strconv.Atoi(match[2])
	year, _ := strconv.Atoi(match[3])
	if len(match[3]) == 2 {
		year += 2000
	}

	return buildTime(year, time.Month(month), day, match[4], loc)
}

func extractWeekdayDate(match []string, ref time.Time, loc *time.Location) (time.Time, bool) {
	month, ok := monthNames[strings.ToLower(match[1])]
	if !ok {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(match[2])

	start, ok := buildTime(ref.Year(), month, day, match[3], loc)
	if !ok {
		return time.Time{}, false
	}

	// Without a year, a date well in the past refers to next year.
	if start.Before(ref.AddDate(0, -2, 0)) {
		return buildTime(ref.Year()+1, month, day, match[3], loc)
	}
	return start, true
}

func extractMonthDayYear(match []string, _ time.Time, loc *time.Location) (time.Time, bool) {
	month, ok := monthNames[strings.ToLower(match[1])]
	if !ok {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(match[2])
	year, _ := strconv.Atoi(match[3])

	return buildTime(year, month, day, match[4], loc)
}

func buildTime(year int, month time.Month, day int, clock string, loc *time.Location) (time.Time, bool) {
	if month < time.January || month > time.December || day < 1 || day > 31 {
		return time.Time{}, false
	}

	hour, minute := 0, 0
	if clock != "" {
		var ok bool
		if hour, minute, ok = parseClock(clock); !ok {
			return time.Time{}, false
		}
	}

	t := time.Date(year, month, day, hour, minute, 0, 0, loc)
	if t.Day() != day || t.Month() != month {
		return time.Time{}, false
	}
	return t, true
}

func parseClock(clock string) (int, int, bool) {
	match := clockPattern.FindStringSubmatch(strings.TrimSpace(clock))
	if match == nil {
		return 0, 0, false
	}

	if match[2] == "" && match[3] == "" {
		return 0, 0, false
	}

	hour, _ := strconv.Atoi(match[1])
	minute := 0
	if match[2] != "" {
		minute, _ = strconv.Atoi(match[2])
	}
	if minute > 59 {
		return 0, 0, false
	}

	switch strings.ToLower(match[3]) {
	case "am":
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		if hour != 12 {
			hour += 12
		}
	default:
		if hour > 23 {
			return 0, 0, false
		}
	}

	return hour, minute, true
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
