package store

import (
	"database/sql"
	"time"
)

// QueueOutbox adds a message to the send outbox.
func (db *DB) QueueOutbox(clientMsgID, toUserID, content, messageType string) error {
	now := time.Now().UnixMilli()
	if messageType == "" {
		messageType = "normal"
	}
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, to_user_id, content, message_type, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'queued', ?, ?)`,
		clientMsgID, toUserID, content, messageType, now, now)
	return err
}

// MarkOutboxSending updates an outbox entry to 'sending' status.
func (db *DB) MarkOutboxSending(clientMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sending', updated_at = ? WHERE client_msg_id = ?`, now, clientMsgID)
	return err
}

// MarkOutboxSent updates an outbox entry to 'sent' with the server message ID.
func (db *DB) MarkOutboxSent(clientMsgID string, serverMsgID int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', server_msg_id = ?, updated_at = ? WHERE client_msg_id = ?`, serverMsgID, now, clientMsgID)
	return err
}

// MarkOutboxFailed updates an outbox entry to 'failed' with an error message.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE client_msg_id = ?`, errMsg, now, clientMsgID)
	return err
}

// RequeueStaleSending puts entries left in 'sending' by a previous run back
// in the queue. Returns how many were requeued.
func (db *DB) RequeueStaleSending() (int64, error) {
	res, err := db.Exec(`UPDATE outbox SET status = 'queued', updated_at = ? WHERE status = 'sending'`, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const outboxColumns = `id, client_msg_id, to_user_id, content, message_type, status, error_message, server_msg_id, created_at`

func scanOutbox(s scanner) (OutboxEntry, error) {
	var e OutboxEntry
	err := s.Scan(&e.ID, &e.ClientMsgID, &e.ToUserID, &e.Content, &e.MessageType, &e.Status, &e.ErrorMessage, &e.ServerMsgID, &e.CreatedAt)
	return e, err
}

// PendingOutbox returns outbox entries that are still queued.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`SELECT ` + outboxColumns + ` FROM outbox WHERE status = 'queued' ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetOutbox returns one outbox entry, or nil.
func (db *DB) GetOutbox(clientMsgID string) (*OutboxEntry, error) {
	e, err := scanOutbox(db.QueryRow(`SELECT `+outboxColumns+` FROM outbox WHERE client_msg_id = ?`, clientMsgID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}
