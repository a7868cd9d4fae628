package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lysyi3m/concierge/app/event"
)

type EventRepo struct {
	db *DB
}

func NewEventRepository(db *DB) *EventRepo {
	return &EventRepo{db: db}
}

const eventColumns = `
	e.id, e.source_id, s.name, e.source_event_id, e.title, e.description,
	e.start_time, e.end_time, e.timezone, e.location, e.is_virtual,
	e.meeting_link, e.tag, e.rsvp_link, e.why_matters,
	COALESCE(e.fingerprint, ''), e.created_at, e.updated_at`

const eventFrom = ` FROM events e JOIN sources s ON s.id = e.source_id`

func (r *EventRepo) ExistsByFingerprint(fingerprint string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM events WHERE fingerprint = ?)`, fingerprint).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check fingerprint: %w", err)
	}
	return exists, nil
}

// InsertEvent stores ev unless an event with the same fingerprint exists.
// It reports false, without error, for such a duplicate.
func (r *EventRepo) InsertEvent(sourceID int64, ev event.Event) (int64, bool, error) {
	if ev.StartTime.IsZero() {
		return 0, false, fmt.Errorf("event %q has no start time", ev.Title)
	}

	now := formatTime(time.Now())

	result, err := r.db.Exec(`
		INSERT INTO events (
			source_id, source_event_id, title, description, start_time, end_time,
			timezone, location, is_virtual, meeting_link, tag, rsvp_link,
			why_matters, fingerprint, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING
	`, sourceID, ev.SourceEventID, ev.Title, ev.Description, formatTime(ev.StartTime),
		formatNullTime(ev.EndTime), ev.Timezone, ev.Location, ev.IsVirtual, ev.MeetingLink,
		string(ev.Tag), ev.RSVPLink, ev.WhyMatters, nullString(ev.Fingerprint), now, now)
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert event: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read insert result: %w", err)
	}
	if affected == 0 {
		return 0, false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read event id: %w", err)
	}

	return id, true, nil
}

// UpdateEventDetails rewrites the optional fields of a stored event. Title,
// start time, location and fingerprint are left untouched.
func (r *EventRepo) UpdateEventDetails(id int64, ev event.Event) error {
	_, err := r.db.Exec(`
		UPDATE events SET
			description = ?, end_time = ?, is_virtual = ?, meeting_link = ?,
			tag = ?, rsvp_link = ?, why_matters = ?, updated_at = ?
		WHERE id = ?
	`, ev.Description, formatNullTime(ev.EndTime), ev.IsVirtual, ev.MeetingLink,
		string(ev.Tag), ev.RSVPLink, ev.WhyMatters, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	return nil
}

func (r *EventRepo) GetEvent(id int64) (*Event, error) {
	row := r.db.QueryRow(`SELECT `+eventColumns+eventFrom+` WHERE e.id = ?`, id)
	return scanEventRow(row)
}

func (r *EventRepo) GetEventByFingerprint(fingerprint string) (*Event, error) {
	row := r.db.QueryRow(`SELECT `+eventColumns+eventFrom+` WHERE e.fingerprint = ?`, fingerprint)
	return scanEventRow(row)
}

// GetEvents returns events matching filter ordered by start time.
func (r *EventRepo) GetEvents(filter EventFilter) ([]Event, error) {
	var (
		conditions []string
		args       []any
	)

	if !filter.From.IsZero() {
		conditions = append(conditions, "e.start_time >= ?")
		args = append(args, formatTime(filter.From))
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, "e.start_time <= ?")
		args = append(args, formatTime(filter.To))
	}
	if len(filter.Tags) > 0 {
		placeholders := make([]string, len(filter.Tags))
		for i, tag := range filter.Tags {
			placeholders[i] = "?"
			args = append(args, tag)
		}
		conditions = append(conditions, "e.tag IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.SourceID != 0 {
		conditions = append(conditions, "e.source_id = ?")
		args = append(args, filter.SourceID)
	}

	query := `SELECT ` + eventColumns + eventFrom
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY e.start_time, e.id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}

	return events, nil
}

// GetTags returns the distinct non-empty tags in use.
func (r *EventRepo) GetTags() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT tag FROM events WHERE tag != '' ORDER BY tag`)
	if err != nil {
		return nil, fmt.Errorf("failed to get tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}

	return tags, rows.Err()
}

func (r *EventRepo) GetEventCount() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get event count: %w", err)
	}
	return count, nil
}

func (r *EventRepo) GetUpcomingEventCount(now time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM events WHERE start_time >= ?`, formatTime(now)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get upcoming event count: %w", err)
	}
	return count, nil
}

func scanEventRow(row *sql.Row) (*Event, error) {
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return ev, err
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		ev        Event
		tag       string
		startTime string
		endTime   sql.NullString
		createdAt string
		updatedAt string
	)

	err := row.Scan(
		&ev.ID, &ev.SourceID, &ev.SourceName, &ev.SourceEventID, &ev.Title, &ev.Description,
		&startTime, &endTime, &ev.Timezone, &ev.Location, &ev.IsVirtual,
		&ev.MeetingLink, &tag, &ev.RSVPLink, &ev.WhyMatters,
		&ev.Fingerprint, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan event row: %w", err)
	}

	ev.Tag = event.Tag(tag)

	if ev.StartTime, err = parseTime(startTime); err != nil {
		return nil, err
	}
	if ev.EndTime, err = parseNullTime(endTime); err != nil {
		return nil, err
	}
	if ev.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if ev.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &ev, nil
}
