package store

import (
	"database/sql"
	"fmt"
	"time"
)

const messageColumns = `id, msg_key, server_id, conversation_id, peer_user_id, from_user_id, to_user_id,
	content, message_type, is_read, outgoing, status, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (Message, error) {
	var m Message
	err := s.Scan(&m.ID, &m.Key, &m.ServerID, &m.ConversationID, &m.PeerUserID, &m.FromUserID, &m.ToUserID,
		&m.Content, &m.MessageType, &m.IsRead, &m.Outgoing, &m.Status, &m.CreatedAt)
	return m, err
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// UpsertMessage inserts or updates a message (idempotent on msg_key). A
// message once read stays read, and a known conversation id is never
// replaced by an empty one. A message that arrives without a conversation
// id inherits the one already known for its peer.
func (db *DB) UpsertMessage(m *Message) error {
	return upsertMessage(db, m)
}

func upsertMessage(ex execer, m *Message) error {
	now := time.Now().UnixMilli()
	msgType := m.MessageType
	if msgType == "" {
		msgType = "normal"
	}
	_, err := ex.Exec(`
		INSERT INTO messages (msg_key, server_id, conversation_id, peer_user_id, from_user_id, to_user_id,
			content, message_type, is_read, outgoing, status, created_at, updated_at)
		VALUES (?, ?, COALESCE(NULLIF(?, ''), (
			SELECT conversation_id FROM messages
			WHERE peer_user_id = ? AND conversation_id != ''
			ORDER BY created_at DESC LIMIT 1), ''), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(msg_key) DO UPDATE SET
			conversation_id = COALESCE(NULLIF(excluded.conversation_id, ''), messages.conversation_id),
			content = excluded.content,
			is_read = MAX(messages.is_read, excluded.is_read),
			status = excluded.status,
			updated_at = excluded.updated_at`,
		m.Key, m.ServerID, m.ConversationID, m.PeerUserID, m.PeerUserID, m.FromUserID, m.ToUserID,
		m.Content, msgType, m.IsRead, m.Outgoing, m.Status, m.CreatedAt, now)
	return err
}

// UpsertMessages upserts a batch in one transaction.
func (db *DB) UpsertMessages(msgs []*Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range msgs {
		if err := upsertMessage(tx, m); err != nil {
			return fmt.Errorf("upsert %s: %w", m.Key, err)
		}
	}
	return tx.Commit()
}

// ReplaceMessage swaps the row stored under oldKey for m in one transaction.
// It is how an optimistic row becomes the server-confirmed message.
func (db *DB) ReplaceMessage(oldKey string, m *Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE msg_key = ?`, oldKey); err != nil {
		return fmt.Errorf("delete %s: %w", oldKey, err)
	}
	if err := upsertMessage(tx, m); err != nil {
		return fmt.Errorf("upsert %s: %w", m.Key, err)
	}
	return tx.Commit()
}

// DeleteMessage removes the message stored under key.
func (db *DB) DeleteMessage(key string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE msg_key = ?`, key)
	return err
}

// SetMessageStatus updates the delivery status of the message under key.
func (db *DB) SetMessageStatus(key, status string) error {
	_, err := db.Exec(`UPDATE messages SET status = ?, updated_at = ? WHERE msg_key = ?`,
		status, time.Now().UnixMilli(), key)
	return err
}

// GetMessage returns the message stored under key, or nil.
func (db *DB) GetMessage(key string) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE msg_key = ?`, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns messages exchanged with a peer using keyset
// pagination by created_at, newest first.
func (db *DB) ListMessages(peerUserID string, beforeTs int64, limit int) ([]Message, error) {
	return db.listMessages("peer_user_id", peerUserID, beforeTs, limit)
}

// ListConversationMessages returns messages of a conversation, newest first.
func (db *DB) ListConversationMessages(conversationID string, beforeTs int64, limit int) ([]Message, error) {
	return db.listMessages("conversation_id", conversationID, beforeTs, limit)
}

func (db *DB) listMessages(column, value string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE `+column+` = ? AND created_at < ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, value, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	defer func() { _ = rows.Close() }()
	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ApplyReadReceipt records that readBy read a conversation and marks the
// messages addressed to readBy in it as read. self is the local user; rows
// mirrored without a conversation id are first attached to the conversation
// when its peer is known. Returns the number of messages that changed.
func (db *DB) ApplyReadReceipt(conversationID, readBy, self string, at time.Time) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO read_receipts (conversation_id, read_by, read_at) VALUES (?, ?, ?)
		ON CONFLICT(conversation_id, read_by) DO UPDATE SET read_at = MAX(read_at, excluded.read_at)`,
		conversationID, readBy, at.UnixMilli()); err != nil {
		return 0, fmt.Errorf("record receipt: %w", err)
	}

	peer := readBy
	if readBy == self {
		if peer, err = conversationPeer(tx, conversationID); err != nil {
			return 0, fmt.Errorf("resolve peer: %w", err)
		}
	}
	if peer != "" {
		if _, err := tx.Exec(`UPDATE messages SET conversation_id = ? WHERE conversation_id = '' AND peer_user_id = ?`,
			conversationID, peer); err != nil {
			return 0, fmt.Errorf("attach conversation: %w", err)
		}
	}

	res, err := tx.Exec(`
		UPDATE messages SET is_read = 1, updated_at = ?
		WHERE conversation_id = ? AND to_user_id = ? AND is_read = 0`,
		time.Now().UnixMilli(), conversationID, readBy)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}

// conversationPeer returns the peer of a conversation seen in the mirror,
// or "" when no row carries its id.
func conversationPeer(tx *sql.Tx, conversationID string) (string, error) {
	var peer string
	err := tx.QueryRow(`SELECT peer_user_id FROM messages WHERE conversation_id = ? LIMIT 1`, conversationID).Scan(&peer)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return peer, err
}

// LastReadAt returns when readBy last read a conversation, or zero.
func (db *DB) LastReadAt(conversationID, readBy string) (time.Time, error) {
	var ms int64
	err := db.QueryRow(`SELECT read_at FROM read_receipts WHERE conversation_id = ? AND read_by = ?`,
		conversationID, readBy).Scan(&ms)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
