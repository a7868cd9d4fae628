package event

import (
	"time"
)

type Tag string

const (
	TagRequired Tag = "Required"
	TagCareer   Tag = "Career"
	TagCapstone Tag = "Capstone"
	TagSocial   Tag = "Social"
	TagDeadline Tag = "Deadline"
	TagGeneral  Tag = "General"
)

// Tags lists the recognised categories. Stored events may carry other,
// title-cased values; those are valid but unclassified.
var Tags = []Tag{TagRequired, TagCareer, TagCapstone, TagSocial, TagDeadline, TagGeneral}

func (t Tag) Known() bool {
	for _, known := range Tags {
		if t == known {
			return true
		}
	}
	return false
}

// RawCandidate is a partially populated event as produced by a source adapter.
type RawCandidate struct {
	Title         string
	Description   string
	Start         *time.Time
	End           *time.Time
	Timezone      string
	Location      string
	IsVirtual     bool
	MeetingLink   string
	Tag           string // hint, canonicalized by Normalize
	RSVPLink      string
	WhyMatters    string
	SourceEventID string // provenance only, never identity
}

// Event is the canonical, source-agnostic event record.
type Event struct {
	Title         string
	Description   string
	StartTime     time.Time
	EndTime       *time.Time
	Timezone      string
	Location      string
	IsVirtual     bool
	MeetingLink   string
	Tag           Tag
	RSVPLink      string
	WhyMatters    string
	SourceEventID string
	Fingerprint   string // empty when title or start time is missing
}

func (e Event) HasFingerprint() bool {
	return e.Fingerprint != ""
}
