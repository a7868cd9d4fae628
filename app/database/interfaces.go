package database

import (
	"time"

	"github.com/lysyi3m/concierge/app/event"
)

type SourceRepository interface {
	GetSource(name string) (*Source, error)
	GetSourceByID(id int64) (*Source, error)
	GetSources(activeOnly bool) ([]Source, error)
	GetSourceCount(activeOnly bool) (int, error)

	UpsertSource(name, kind, url string, active bool) (int64, error)
	UpdateLastFetched(id int64, fetchedAt time.Time) error
}

// EventFilter selects stored events. Both time bounds are inclusive; zero
// values leave the corresponding bound open.
type EventFilter struct {
	From     time.Time
	To       time.Time
	Tags     []string
	SourceID int64
	Limit    int
}

type EventRepository interface {
	GetEvent(id int64) (*Event, error)
	GetEventByFingerprint(fingerprint string) (*Event, error)
	GetEvents(filter EventFilter) ([]Event, error)
	GetTags() ([]string, error)
	GetEventCount() (int, error)
	GetUpcomingEventCount(now time.Time) (int, error)

	ExistsByFingerprint(fingerprint string) (bool, error)
	InsertEvent(sourceID int64, ev event.Event) (int64, bool, error)
	UpdateEventDetails(id int64, ev event.Event) error
}

type UserRepository interface {
	GetUser(id int64) (*User, error)
	GetUserCount() (int, error)
	GetDigestRecipients(kind DigestKind) ([]User, error)
	GetSubscriptions(userID int64) ([]string, error)

	CreateUser(user User) (*User, bool, error)
	AddSubscription(userID int64, tag string) (bool, error)
}

type DigestLogRepository interface {
	GetDigestLogs(userID int64, limit int) ([]DigestLog, error)

	LogDigest(entry DigestLog) error
}
