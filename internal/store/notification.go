package store

import (
	"fmt"
	"time"
)

// UpsertNotifications caches the given notifications. A notification read
// locally stays read even if a stale fetch reports it unread.
func (db *DB) UpsertNotifications(list []Notification) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, n := range list {
		if _, err := tx.Exec(`
			INSERT INTO notifications (id, type, title, body, is_read, data, created_at, fetched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				type = excluded.type,
				title = excluded.title,
				body = excluded.body,
				is_read = MAX(notifications.is_read, excluded.is_read),
				data = excluded.data,
				fetched_at = excluded.fetched_at`,
			n.ID, n.Type, n.Title, n.Body, n.IsRead, n.Data, n.CreatedAt, now); err != nil {
			return fmt.Errorf("upsert notification %s: %w", n.ID, err)
		}
	}
	return tx.Commit()
}

// ListNotifications returns cached notifications, newest first.
func (db *DB) ListNotifications(unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, type, title, body, is_read, data, created_at FROM notifications`
	if unreadOnly {
		q += ` WHERE is_read = 0`
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := db.Query(q, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.Type, &n.Title, &n.Body, &n.IsRead, &n.Data, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead marks one notification read. Returns false if it is
// not cached.
func (db *DB) MarkNotificationRead(id string) (bool, error) {
	res, err := db.Exec(`UPDATE notifications SET is_read = 1 WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkAllNotificationsRead marks every cached notification read.
func (db *DB) MarkAllNotificationsRead() error {
	_, err := db.Exec(`UPDATE notifications SET is_read = 1 WHERE is_read = 0`)
	return err
}

// UnreadNotificationCount returns the number of unread notifications.
func (db *DB) UnreadNotificationCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM notifications WHERE is_read = 0`).Scan(&n)
	return n, err
}
