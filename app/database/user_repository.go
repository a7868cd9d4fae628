package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const DefaultUserTimezone = "America/Los_Angeles"

type UserRepo struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepo {
	return &UserRepo{db: db}
}

const userColumns = `id, email, name, digest_08_enabled, digest_15_enabled, timezone, telegram_chat_id, created_at`

// CreateUser stores a new user. It reports false, without error, when the
// email is already registered.
func (r *UserRepo) CreateUser(user User) (*User, bool, error) {
	if user.Timezone == "" {
		user.Timezone = DefaultUserTimezone
	}
	user.CreatedAt = time.Now().UTC().Truncate(time.Second)

	result, err := r.db.Exec(`
		INSERT INTO users (email, name, digest_08_enabled, digest_15_enabled, timezone, telegram_chat_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO NOTHING
	`, user.Email, user.Name, user.Digest08Enabled, user.Digest15Enabled, user.Timezone,
		user.TelegramChatID, formatTime(user.CreatedAt))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create user: %w", err)
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		return nil, false, nil
	}

	if user.ID, err = result.LastInsertId(); err != nil {
		return nil, false, fmt.Errorf("failed to read user id: %w", err)
	}

	return &user, true, nil
}

func (r *UserRepo) GetUser(id int64) (*User, error) {
	user, err := scanUser(r.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return user, err
}

func (r *UserRepo) GetUserCount() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get user count: %w", err)
	}
	return count, nil
}

// GetDigestRecipients returns users who opted into the given digest.
func (r *UserRepo) GetDigestRecipients(kind DigestKind) ([]User, error) {
	var column string
	switch kind {
	case DigestMorning:
		column = "digest_08_enabled"
	case DigestAfternoon:
		column = "digest_15_enabled"
	default:
		return nil, fmt.Errorf("unknown digest kind '%s'", kind)
	}

	rows, err := r.db.Query(`SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to get digest recipients: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}

	return users, nil
}

// AddSubscription subscribes a user to a tag. It reports false when the
// subscription already existed.
func (r *UserRepo) AddSubscription(userID int64, tag string) (bool, error) {
	result, err := r.db.Exec(`
		INSERT INTO subscriptions (user_id, tag, created_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id, tag) DO NOTHING
	`, userID, tag, formatTime(time.Now()))
	if err != nil {
		return false, fmt.Errorf("failed to add subscription: %w", err)
	}

	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

func (r *UserRepo) GetSubscriptions(userID int64) ([]string, error) {
	rows, err := r.db.Query(`SELECT tag FROM subscriptions WHERE user_id = ? ORDER BY tag`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscriptions: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		tags = append(tags, tag)
	}

	return tags, rows.Err()
}

func (r *UserRepo) LogDigest(entry DigestLog) error {
	if entry.SentAt.IsZero() {
		entry.SentAt = time.Now()
	}

	_, err := r.db.Exec(`
		INSERT INTO digest_logs (user_id, kind, event_count, success, error_message, sent_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.UserID, string(entry.Kind), entry.EventCount, entry.Success, entry.ErrorMessage, formatTime(entry.SentAt))
	if err != nil {
		return fmt.Errorf("failed to log digest: %w", err)
	}
	return nil
}

// GetDigestLogs returns the most recent digest attempts for a user.
func (r *UserRepo) GetDigestLogs(userID int64, limit int) ([]DigestLog, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, kind, event_count, success, error_message, sent_at
		FROM digest_logs WHERE user_id = ? ORDER BY id DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get digest logs: %w", err)
	}
	defer rows.Close()

	var logs []DigestLog
	for rows.Next() {
		var (
			entry  DigestLog
			kind   string
			sentAt string
		)
		if err := rows.Scan(&entry.ID, &entry.UserID, &kind, &entry.EventCount, &entry.Success, &entry.ErrorMessage, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan digest log: %w", err)
		}
		entry.Kind = DigestKind(kind)
		if entry.SentAt, err = parseTime(sentAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}

	return logs, rows.Err()
}

func scanUser(row rowScanner) (*User, error) {
	var (
		user      User
		createdAt string
	)

	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.Digest08Enabled, &user.Digest15Enabled,
		&user.Timezone, &user.TelegramChatID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user row: %w", err)
	}

	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}

	return &user, nil
}
