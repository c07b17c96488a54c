package histsync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"regime-tracker/internal/errs"
	"regime-tracker/internal/models"
)

// ProgressStore persists per-key sync state. Rows are never deleted, so a
// restarted process cannot tell "never ran" from "ran elsewhere" and does
// not need to.
type ProgressStore struct {
	db *sqlx.DB
}

func NewProgressStore(db *sqlx.DB) *ProgressStore {
	return &ProgressStore{db: db}
}

// Get returns the persisted progress for a key, or nil if the key has
// never been synced.
func (s *ProgressStore) Get(ctx context.Context, key models.SyncKey) (*models.SyncProgress, error) {
	var p models.SyncProgress
	err := s.db.GetContext(ctx, &p, `
		SELECT source, symbol, timeframe, data_kind, status,
			last_synced_time, rows_synced, last_error, started_at, updated_at
		FROM sync_progress
		WHERE source = $1 AND symbol = $2 AND timeframe = $3 AND data_kind = $4
	`, key.Source, key.Symbol, key.Timeframe, key.DataKind)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get sync progress %s: %w", key, err)
	}
	return &p, nil
}

// Start transitions the key to syncing. The conditional update is the
// single-flight guard: a second starter sees zero rows and gets
// AlreadyRunning.
func (s *ProgressStore) Start(ctx context.Context, key models.SyncKey) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_progress (source, symbol, timeframe, data_kind, status, started_at, updated_at)
		VALUES ($1, $2, $3, $4, 'syncing', now(), now())
		ON CONFLICT (source, symbol, timeframe, data_kind)
		DO UPDATE SET status = 'syncing', started_at = now(), last_error = NULL, updated_at = now()
		WHERE sync_progress.status <> 'syncing'
	`, key.Source, key.Symbol, key.Timeframe, key.DataKind)
	if err != nil {
		return fmt.Errorf("start sync %s: %w", key, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("start sync %s: %w", key, err)
	}
	if rows == 0 {
		return errs.E(errs.KindAlreadyRunning, "histsync.Start", key.String(), nil)
	}
	return nil
}

// Advance moves the watermark forward only. A regressing watermark is
// absorbed as a no-op so overlapping retry windows stay safe.
func (s *ProgressStore) Advance(ctx context.Context, key models.SyncKey, watermark time.Time, rows int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_progress
		SET last_synced_time = $5, rows_synced = rows_synced + $6, updated_at = now()
		WHERE source = $1 AND symbol = $2 AND timeframe = $3 AND data_kind = $4
			AND status = 'syncing'
			AND (last_synced_time IS NULL OR last_synced_time < $5)
	`, key.Source, key.Symbol, key.Timeframe, key.DataKind, watermark, rows)
	if err != nil {
		return fmt.Errorf("advance sync %s: %w", key, err)
	}
	return nil
}

// Complete marks the current run finished.
func (s *ProgressStore) Complete(ctx context.Context, key models.SyncKey) error {
	return s.transition(ctx, key, models.SyncStatusCompleted, nil)
}

// Fail records the error and leaves the watermark at its last confirmed
// value so a retry resumes from there.
func (s *ProgressStore) Fail(ctx context.Context, key models.SyncKey, cause string) error {
	return s.transition(ctx, key, models.SyncStatusFailed, &cause)
}

func (s *ProgressStore) transition(ctx context.Context, key models.SyncKey, status string, cause *string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_progress
		SET status = $5, last_error = $6, updated_at = now()
		WHERE source = $1 AND symbol = $2 AND timeframe = $3 AND data_kind = $4
			AND status = 'syncing'
	`, key.Source, key.Symbol, key.Timeframe, key.DataKind, status, cause)
	if err != nil {
		return fmt.Errorf("transition sync %s to %s: %w", key, status, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition sync %s to %s: %w", key, status, err)
	}
	if rows == 0 {
		return errs.E(errs.KindInvalidState, "histsync.transition", key.String(),
			fmt.Errorf("no syncing run to move to %s", status))
	}
	return nil
}
