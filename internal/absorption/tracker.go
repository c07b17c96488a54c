package absorption

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"regime-tracker/internal/errs"
	"regime-tracker/internal/models"
)

const pqUniqueViolation = "23505"

// Tracker manages absorption event lifecycles. A partial unique index on
// (symbol, timeframe, direction) over unresolved rows enforces the
// at-most-one-open invariant; the tracker just maps the collision.
type Tracker struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

func New(db *sqlx.DB) *Tracker {
	return &Tracker{
		db:     db,
		logger: log.With().Str("component", "absorption").Logger(),
	}
}

// ValidateEvidence checks detection evidence before it can open an event.
func ValidateEvidence(symbol, timeframe, direction string, ev models.Evidence) []string {
	var issues []string
	if symbol == "" {
		issues = append(issues, "symbol is required")
	}
	if timeframe == "" {
		issues = append(issues, "timeframe is required")
	}
	if direction != models.DirectionBuy && direction != models.DirectionSell {
		issues = append(issues, fmt.Sprintf("direction must be %s or %s", models.DirectionBuy, models.DirectionSell))
	}
	if ev.DeltaStrength <= 0 {
		issues = append(issues, "delta strength must be positive")
	}
	if ev.NoiseFloor < 0 {
		issues = append(issues, "noise floor cannot be negative")
	}
	return issues
}

// Open tracks a new detection. DuplicateError means an open event already
// exists for the key; callers treat it as "already tracked".
func (t *Tracker) Open(ctx context.Context, symbol, timeframe, direction string, ev models.Evidence) (*models.AbsorptionEvent, error) {
	key := fmt.Sprintf("%s/%s/%s", symbol, timeframe, direction)
	if issues := ValidateEvidence(symbol, timeframe, direction, ev); len(issues) > 0 {
		return nil, errs.E(errs.KindValidation, "absorption.Open", key,
			fmt.Errorf("evidence rejected: %v", issues))
	}

	event := &models.AbsorptionEvent{
		ID:            uuid.New(),
		Symbol:        symbol,
		Timeframe:     timeframe,
		Direction:     direction,
		SnapshotID:    ev.SnapshotID,
		DeltaStrength: ev.DeltaStrength,
		NoiseFloor:    ev.NoiseFloor,
		OIBehavior:    ev.OIBehavior,
		PriceBehavior: ev.PriceBehavior,
		SRLevel:       ev.SRLevel,
		Criteria:      ev.Criteria,
	}

	_, err := t.db.ExecContext(ctx, `
		INSERT INTO absorption_events (
			id, symbol, timeframe, direction, snapshot_id,
			delta_strength, noise_floor, oi_behavior, price_behavior, sr_level, criteria
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, event.ID, symbol, timeframe, direction, ev.SnapshotID,
		ev.DeltaStrength, ev.NoiseFloor, ev.OIBehavior, ev.PriceBehavior, ev.SRLevel, nullableJSON(ev.Criteria))
	if err != nil {
		if openConflict(err) {
			return nil, errs.E(errs.KindDuplicate, "absorption.Open", key, nil)
		}
		return nil, fmt.Errorf("open absorption event %s: %w", key, err)
	}

	t.logger.Info().Str("key", key).Str("id", event.ID.String()).Msg("Absorption event opened")
	return event, nil
}

// Extend records a re-confirmation on a still-open event.
func (t *Tracker) Extend(ctx context.Context, id uuid.UUID) error {
	res, err := t.db.ExecContext(ctx, `
		UPDATE absorption_events
		SET extensions_used = extensions_used + 1
		WHERE id = $1 AND resolved_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("extend absorption event %s: %w", id, err)
	}
	return t.requireOpenRow(res, "absorption.Extend", id)
}

// Resolve closes the event. Terminal and irreversible.
func (t *Tracker) Resolve(ctx context.Context, id uuid.UUID, resolution, reason string, criteria json.RawMessage) error {
	res, err := t.db.ExecContext(ctx, `
		UPDATE absorption_events
		SET resolved_at = now(), resolution = $2, resolution_reason = $3, criteria = COALESCE($4, criteria)
		WHERE id = $1 AND resolved_at IS NULL
	`, id, resolution, reason, nullableJSON(criteria))
	if err != nil {
		return fmt.Errorf("resolve absorption event %s: %w", id, err)
	}
	if err := t.requireOpenRow(res, "absorption.Resolve", id); err != nil {
		return err
	}
	t.logger.Info().Str("id", id.String()).Str("resolution", resolution).Msg("Absorption event resolved")
	return nil
}

// Get loads one event by id.
func (t *Tracker) Get(ctx context.Context, id uuid.UUID) (*models.AbsorptionEvent, error) {
	var event models.AbsorptionEvent
	err := t.db.GetContext(ctx, &event, `
		SELECT id, symbol, timeframe, direction, snapshot_id,
			delta_strength, noise_floor, oi_behavior, price_behavior, sr_level,
			extensions_used, opened_at, resolved_at, resolution, resolution_reason, criteria
		FROM absorption_events WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.E(errs.KindNotFound, "absorption.Get", id.String(), nil)
		}
		return nil, fmt.Errorf("get absorption event %s: %w", id, err)
	}
	return &event, nil
}

// GetOpen returns the unresolved event for a key, or nil when none is
// being tracked.
func (t *Tracker) GetOpen(ctx context.Context, symbol, timeframe, direction string) (*models.AbsorptionEvent, error) {
	var event models.AbsorptionEvent
	err := t.db.GetContext(ctx, &event, `
		SELECT id, symbol, timeframe, direction, snapshot_id,
			delta_strength, noise_floor, oi_behavior, price_behavior, sr_level,
			extensions_used, opened_at, resolved_at, resolution, resolution_reason, criteria
		FROM absorption_events
		WHERE symbol = $1 AND timeframe = $2 AND direction = $3 AND resolved_at IS NULL
	`, symbol, timeframe, direction)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get open absorption event %s/%s/%s: %w", symbol, timeframe, direction, err)
	}
	return &event, nil
}

// openConflict reports whether an insert collided with the partial unique
// index over unresolved events, meaning an open event already holds the key.
func openConflict(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation &&
		strings.Contains(pqErr.Constraint, "absorption_open_key")
}

func (t *Tracker) requireOpenRow(res sql.Result, op string, id uuid.UUID) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	if rows == 0 {
		return errs.E(errs.KindInvalidState, op, id.String(),
			errors.New("event is resolved or does not exist"))
	}
	return nil
}

// nullableJSON passes raw JSON as text; lib/pq would encode []byte as bytea.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
