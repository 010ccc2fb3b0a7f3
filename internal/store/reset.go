package store

import "fmt"

// mirrorTables hold data that belongs to the signed-in user.
var mirrorTables = []string{"messages", "read_receipts", "outbox", "notifications", "sync_state"}

// ResetMirror empties every per-user table in one transaction. It is used
// when the session switches to another user id.
func (db *DB) ResetMirror() error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range mirrorTables {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}
