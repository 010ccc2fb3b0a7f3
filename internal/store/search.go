package store

import "strings"

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchMessages returns messages whose content contains query, newest
// first. peerUserID, when set, restricts the search to one peer.
func (db *DB) SearchMessages(query, peerUserID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE content LIKE ? ESCAPE '\'`
	args := []any{"%" + likeEscaper.Replace(query) + "%"}
	if peerUserID != "" {
		q += " AND peer_user_id = ?"
		args = append(args, peerUserID)
	}
	q += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}
