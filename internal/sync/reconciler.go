package sync

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/inbox/internal/store"
	"go.uber.org/zap"
)

// Checkpoint keys.
const (
	CheckpointLastConnected = "last_connected_at"
	CheckpointLastBackfill  = "last_backfill_at"
	CheckpointMirrorOwner   = "mirror_user_id"
)

// Reconciler manages sync checkpoints.
type Reconciler struct {
	db     *store.DB
	logger *zap.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(db *store.DB, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{db: db, logger: logger}
}

// UpdateCheckpoint updates a sync checkpoint value.
func (r *Reconciler) UpdateCheckpoint(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := r.db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetCheckpoint retrieves a sync checkpoint value. A missing key returns
// sql.ErrNoRows.
func (r *Reconciler) GetCheckpoint(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return "", err
	}
	return value, nil
}

// Time reads a checkpoint holding a timestamp. Missing keys read as zero.
func (r *Reconciler) Time(key string) (time.Time, error) {
	v, err := r.GetCheckpoint(key)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("checkpoint %s: %w", key, err)
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("checkpoint %s: %w", key, err)
	}
	return t, nil
}

// SetTime stores a timestamp checkpoint.
func (r *Reconciler) SetTime(key string, t time.Time) error {
	return r.UpdateCheckpoint(key, t.UTC().Format(time.RFC3339Nano))
}

// MarkConnected records the time of the last successful authentication.
func (r *Reconciler) MarkConnected(at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	return r.SetTime(CheckpointLastConnected, at)
}

// ClaimMirror records userID as the owner of the local mirror. When the
// mirror belongs to another user it is emptied first, checkpoints included,
// so the next backfill starts from scratch. Reports whether it was reset.
func (r *Reconciler) ClaimMirror(userID string) (bool, error) {
	owner, err := r.GetCheckpoint(CheckpointMirrorOwner)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("checkpoint %s: %w", CheckpointMirrorOwner, err)
	}
	if owner == userID {
		return false, nil
	}
	// A mirror without an owner predates ownership tracking and is adopted.
	reset := owner != ""
	if reset {
		if err := r.db.ResetMirror(); err != nil {
			return false, fmt.Errorf("reset mirror: %w", err)
		}
		r.logger.Info("local mirror reset for new user", zap.String("previous", owner), zap.String("user_id", userID))
	}
	if err := r.UpdateCheckpoint(CheckpointMirrorOwner, userID); err != nil {
		return reset, fmt.Errorf("checkpoint %s: %w", CheckpointMirrorOwner, err)
	}
	return reset, nil
}
