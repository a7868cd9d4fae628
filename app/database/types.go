package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lysyi3m/concierge/app/event"
)

var ErrNotFound = errors.New("not found")

type Source struct {
	ID            int64
	Name          string // unique; matches the YAML filename for configured sources
	Kind          string
	URL           string
	Active        bool
	LastFetchedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Event is a stored event together with its provenance.
type Event struct {
	event.Event
	ID         int64
	SourceID   int64
	SourceName string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type DigestKind string

const (
	DigestMorning   DigestKind = "08:00"
	DigestAfternoon DigestKind = "15:00"
)

type User struct {
	ID              int64
	Email           string
	Name            string
	Digest08Enabled bool
	Digest15Enabled bool
	Timezone        string
	TelegramChatID  string
	CreatedAt       time.Time
}

type DigestLog struct {
	ID           int64
	UserID       int64
	Kind         DigestKind
	EventCount   int
	Success      bool
	ErrorMessage string
	SentAt       time.Time
}

// Times are stored as RFC 3339 UTC text so that lexical order in sqlite
// matches chronological order.
const timeLayout = "2006-01-02T15:04:05Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
