package digest

import (
	"fmt"
	"time"

	"github.com/lysyi3m/concierge/app/database"
)

// Window is a closed time interval: both bounds are included.
type Window struct {
	From time.Time
	To   time.Time
}

func NewWindow(now time.Time, hours int) Window {
	return Window{From: now, To: now.Add(time.Duration(hours) * time.Hour)}
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

// Schedule describes one of the daily digests.
type Schedule struct {
	Kind      database.DigestKind
	Hours     int
	SendEmpty bool
	Subject   string
}

var (
	Morning = Schedule{
		Kind:      database.DigestMorning,
		Hours:     24,
		SendEmpty: true,
		Subject:   "Your 08:00 Event Digest",
	}
	Afternoon = Schedule{
		Kind:      database.DigestAfternoon,
		Hours:     9,
		SendEmpty: false,
		Subject:   "Today's Events - Last Call",
	}
)

func ScheduleFor(kind database.DigestKind) (Schedule, error) {
	switch kind {
	case database.DigestMorning:
		return Morning, nil
	case database.DigestAfternoon:
		return Afternoon, nil
	}
	return Schedule{}, fmt.Errorf("unknown digest kind '%s'", kind)
}
