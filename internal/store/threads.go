package store

// ListThreads summarizes local messages per peer, most recent first.
func (db *DB) ListThreads(limit, offset int) ([]Thread, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT m.peer_user_id,
			COALESCE((SELECT conversation_id FROM messages c
				WHERE c.peer_user_id = m.peer_user_id AND c.conversation_id != ''
				ORDER BY c.created_at DESC LIMIT 1), '') AS conversation_id,
			SUM(CASE WHEN m.outgoing = 0 AND m.is_read = 0 THEN 1 ELSE 0 END) AS unread,
			MAX(m.created_at) AS last_at,
			(SELECT content FROM messages l
				WHERE l.peer_user_id = m.peer_user_id
				ORDER BY l.created_at DESC, l.id DESC LIMIT 1) AS preview
		FROM messages m
		GROUP BY m.peer_user_id
		ORDER BY last_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var threads []Thread
	for rows.Next() {
		var t Thread
		if err := rows.Scan(&t.PeerUserID, &t.ConversationID, &t.UnreadCount, &t.LastMessageAt, &t.LastMessagePreview); err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// Counts returns row counts for status reporting.
func (db *DB) Counts() (Counts, error) {
	var c Counts
	err := db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(*) FROM messages WHERE outgoing = 0 AND is_read = 0),
			(SELECT COUNT(*) FROM outbox WHERE status IN ('queued', 'sending')),
			(SELECT COUNT(*) FROM notifications),
			(SELECT COUNT(*) FROM notifications WHERE is_read = 0)`).
		Scan(&c.Messages, &c.UnreadMessages, &c.PendingOutbox, &c.Notifications, &c.UnreadNotifications)
	return c, err
}
