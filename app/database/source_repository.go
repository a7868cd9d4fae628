package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type SourceRepo struct {
	db *DB
}

func NewSourceRepository(db *DB) *SourceRepo {
	return &SourceRepo{db: db}
}

const sourceColumns = `id, name, kind, url, active, last_fetched_at, created_at, updated_at`

// UpsertSource creates the source or updates its declaration, returning the id.
func (r *SourceRepo) UpsertSource(name, kind, url string, active bool) (int64, error) {
	now := formatTime(time.Now())

	var id int64
	err := r.db.QueryRow(`
		INSERT INTO sources (name, kind, url, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			kind = excluded.kind,
			url = excluded.url,
			active = excluded.active,
			updated_at = excluded.updated_at
		RETURNING id
	`, name, kind, url, active, now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert source: %w", err)
	}

	return id, nil
}

func (r *SourceRepo) GetSource(name string) (*Source, error) {
	row := r.db.QueryRow(`SELECT `+sourceColumns+` FROM sources WHERE name = ?`, name)
	return scanSourceRow(row)
}

func (r *SourceRepo) GetSourceByID(id int64) (*Source, error) {
	row := r.db.QueryRow(`SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	return scanSourceRow(row)
}

func (r *SourceRepo) GetSources(activeOnly bool) ([]Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY name`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to get sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *source)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source rows: %w", err)
	}

	return sources, nil
}

func (r *SourceRepo) GetSourceCount(activeOnly bool) (int, error) {
	query := `SELECT COUNT(*) FROM sources`
	if activeOnly {
		query += ` WHERE active = 1`
	}

	var count int
	if err := r.db.QueryRow(query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get source count: %w", err)
	}
	return count, nil
}

func (r *SourceRepo) UpdateLastFetched(id int64, fetchedAt time.Time) error {
	result, err := r.db.Exec(`
		UPDATE sources SET last_fetched_at = ?, updated_at = ? WHERE id = ?
	`, formatTime(fetchedAt), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update last fetched time: %w", err)
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("source %d: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSourceRow(row *sql.Row) (*Source, error) {
	source, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return source, err
}

func scanSource(row rowScanner) (*Source, error) {
	var (
		source      Source
		lastFetched sql.NullString
		createdAt   string
		updatedAt   string
	)

	err := row.Scan(&source.ID, &source.Name, &source.Kind, &source.URL, &source.Active,
		&lastFetched, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan source row: %w", err)
	}

	if source.LastFetchedAt, err = parseNullTime(lastFetched); err != nil {
		return nil, err
	}
	if source.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if source.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &source, nil
}
