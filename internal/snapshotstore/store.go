package snapshotstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"regime-tracker/internal/models"
)

// Store persists analyzer snapshots, live and replayed. Replay rows carry
// a (batch_id, as_of, symbol) unique key so re-runs are idempotent.
type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Insert writes one snapshot. For replay snapshots an existing row with
// the same natural key wins: the write is dropped, never overwritten.
func (s *Store) Insert(ctx context.Context, snap *models.Snapshot) error {
	query := `
		INSERT INTO snapshots (
			id, kind, batch_id, as_of, source, symbol, timeframe,
			bias, confidence, regime, price, state, config_version,
			candles_from, candles_to, candle_count, status, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	if snap.Kind == models.SnapshotKindReplay {
		query += ` ON CONFLICT (batch_id, as_of, symbol) WHERE batch_id IS NOT NULL DO NOTHING`
	}
	_, err := s.db.ExecContext(ctx, query,
		snap.ID, snap.Kind, snap.BatchID, snap.AsOf, snap.Source, snap.Symbol, snap.Timeframe,
		snap.Bias, snap.Confidence, snap.Regime, snap.Price, jsonbArg(snap.State), snap.ConfigVersion,
		snap.CandlesFrom, snap.CandlesTo, snap.CandleCount, snap.Status, snap.Error)
	if err != nil {
		return fmt.Errorf("insert snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// jsonbArg passes raw JSON as text; lib/pq would encode []byte as bytea.
func jsonbArg(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// ExistingAsOf returns the as-of instants already recorded for a batch
// and symbol, keyed by UnixNano for location-independent lookup.
func (s *Store) ExistingAsOf(ctx context.Context, batchID, symbol string) (map[int64]struct{}, error) {
	var times []time.Time
	err := s.db.SelectContext(ctx, &times, `
		SELECT as_of FROM snapshots WHERE batch_id = $1 AND symbol = $2
	`, batchID, symbol)
	if err != nil {
		return nil, fmt.Errorf("load batch %s as-of set: %w", batchID, err)
	}
	existing := make(map[int64]struct{}, len(times))
	for _, t := range times {
		existing[t.UnixNano()] = struct{}{}
	}
	return existing, nil
}

// Unlabeled returns completed snapshots with no outcome yet, oldest
// first, whose as-of is at or before the cutoff.
func (s *Store) Unlabeled(ctx context.Context, cutoff time.Time, limit int) ([]models.Snapshot, error) {
	if limit <= 0 {
		limit = 200
	}
	var snaps []models.Snapshot
	err := s.db.SelectContext(ctx, &snaps, `
		SELECT id, kind, batch_id, as_of, source, symbol, timeframe,
			bias, confidence, regime, price, state, config_version,
			candles_from, candles_to, candle_count, status, error, created_at,
			label, label_reason, horizon, realized_price, move_pct, mfe, mae, labeled_at
		FROM snapshots
		WHERE labeled_at IS NULL AND status = $1 AND as_of <= $2
		ORDER BY as_of ASC LIMIT $3
	`, models.SnapshotCompleted, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("load unlabeled snapshots: %w", err)
	}
	return snaps, nil
}

// Outcome is the labeling result written back to a snapshot.
type Outcome struct {
	Label         *string
	Reason        string
	Horizon       string
	RealizedPrice float64
	MovePct       float64
	MFE           float64
	MAE           float64
}

// WriteOutcome labels a snapshot if and only if it is still unlabeled,
// setting labeled_at in the same write. Returns false when another sweep
// got there first; callers must treat that as benign.
func (s *Store) WriteOutcome(ctx context.Context, id uuid.UUID, o Outcome) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE snapshots
		SET label = $2, label_reason = $3, horizon = $4,
			realized_price = $5, move_pct = $6, mfe = $7, mae = $8,
			labeled_at = now()
		WHERE id = $1 AND labeled_at IS NULL
	`, id, o.Label, o.Reason, o.Horizon, o.RealizedPrice, o.MovePct, o.MFE, o.MAE)
	if err != nil {
		return false, fmt.Errorf("write outcome for %s: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write outcome for %s: %w", id, err)
	}
	return rows > 0, nil
}
