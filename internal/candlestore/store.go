package candlestore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"regime-tracker/internal/models"
)

// Store is the durable candle store. Writes are idempotent upserts keyed
// by (source, symbol, timeframe, ts); re-ingesting a stored time is an
// in-place correction, never a duplicate.
type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Upsert writes a batch of candles, overwriting any existing rows with the
// same natural key. Returns the number of candles written.
func (s *Store) Upsert(ctx context.Context, candles []models.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT INTO candles (
			source, symbol, timeframe, ts,
			open, high, low, close, volume,
			oi_open, oi_high, oi_low, oi_close,
			taker_buy_volume, taker_sell_volume, funding_rate
		) VALUES (
			:source, :symbol, :timeframe, :ts,
			:open, :high, :low, :close, :volume,
			:oi_open, :oi_high, :oi_low, :oi_close,
			:taker_buy_volume, :taker_sell_volume, :funding_rate
		)
		ON CONFLICT (source, symbol, timeframe, ts)
		DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			oi_open = EXCLUDED.oi_open,
			oi_high = EXCLUDED.oi_high,
			oi_low = EXCLUDED.oi_low,
			oi_close = EXCLUDED.oi_close,
			taker_buy_volume = EXCLUDED.taker_buy_volume,
			taker_sell_volume = EXCLUDED.taker_sell_volume,
			funding_rate = EXCLUDED.funding_rate
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c); err != nil {
			return 0, fmt.Errorf("upsert candle %s/%s/%s@%s: %w",
				c.Source, c.Symbol, c.Timeframe, c.Time.Format(time.RFC3339), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	return len(candles), nil
}

// Get returns candles in [from, to] ascending by time, with cumulative
// volume delta computed over the returned window. The running sum resets
// at the window start; callers needing a stable delta series must query
// from a fixed anchor.
func (s *Store) Get(ctx context.Context, source, symbol, timeframe string, from, to time.Time) ([]models.Candle, error) {
	var candles []models.Candle
	err := s.db.SelectContext(ctx, &candles, `
		SELECT source, symbol, timeframe, ts,
			open, high, low, close, volume,
			oi_open, oi_high, oi_low, oi_close,
			taker_buy_volume, taker_sell_volume, funding_rate
		FROM candles
		WHERE source = $1 AND symbol = $2 AND timeframe = $3
			AND ts >= $4 AND ts <= $5
		ORDER BY ts ASC
	`, source, symbol, timeframe, from, to)
	if err != nil {
		return nil, fmt.Errorf("select candles %s/%s/%s: %w", source, symbol, timeframe, err)
	}

	ApplyCVD(candles)
	return candles, nil
}

// ApplyCVD fills the derived CVD field as a running sum of taker volume
// delta over an already time-ordered sequence, starting from zero.
func ApplyCVD(candles []models.Candle) {
	var sum float64
	for i := range candles {
		sum += candles[i].Delta()
		candles[i].CVD = sum
	}
}
