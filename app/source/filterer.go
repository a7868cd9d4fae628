package source

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/lysyi3m/concierge/app/event"
)

type Filterer struct{}

func NewFilterer() *Filterer {
	return &Filterer{}
}

// Run drops candidates rejected by the source's include/exclude rules.
func (f *Filterer) Run(candidates []event.RawCandidate, config *Config) []event.RawCandidate {
	if len(config.Filters) == 0 {
		return candidates
	}

	kept := make([]event.RawCandidate, 0, len(candidates))
	for _, candidate := range candidates {
		if filtered, reason := f.applyFilters(candidate, config.Filters); filtered {
			slog.Debug("Candidate filtered", "source", config.Name, "title", candidate.Title, "reason", reason)
			continue
		}
		kept = append(kept, candidate)
	}

	return kept
}

func (f *Filterer) applyFilters(candidate event.RawCandidate, filters []ConfigFilter) (bool, string) {
	for _, filter := range filters {
		value := f.getFieldValue(candidate, filter.Field)

		for _, exclude := range filter.Excludes {
			if f.matchesFilter(value, exclude) {
				return true, fmt.Sprintf("Excluded by %s filter: contains '%s'", filter.Field, exclude)
			}
		}

		if len(filter.Includes) > 0 {
			matched := false
			for _, include := range filter.Includes {
				if f.matchesFilter(value, include) {
					matched = true
					break
				}
			}
			if !matched {
				return true, fmt.Sprintf("Excluded by %s filter: does not contain any of %v", filter.Field, filter.Includes)
			}
		}
	}

	return false, ""
}

func (f *Filterer) matchesFilter(value, pattern string) bool {
	return strings.Contains(strings.ToLower(value), strings.ToLower(pattern))
}

func (f *Filterer) getFieldValue(candidate event.RawCandidate, field string) string {
	switch field {
	case "title":
		return candidate.Title
	case "description":
		return candidate.Description
	case "location":
		return candidate.Location
	default:
		return ""
	}
}
