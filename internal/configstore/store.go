package configstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"regime-tracker/internal/errs"
	"regime-tracker/internal/models"
)

// Store is the single-slot versioned register for the analyzer
// configuration: one active row, replaced atomically together with an
// append to the history table. History is never rewritten; a rollback is
// a new version whose content equals an old one.
type Store struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

func New(db *sqlx.DB) *Store {
	return &Store{
		db:     db,
		logger: log.With().Str("component", "configstore").Logger(),
	}
}

// GetActive returns the current configuration. NotFound only when the
// store was never seeded.
func (s *Store) GetActive(ctx context.Context) (*models.AnalyzerConfig, error) {
	var cfg models.AnalyzerConfig
	err := s.db.GetContext(ctx, &cfg, `
		SELECT version, document, validation_status, created_by, notes, updated_at
		FROM analyzer_config WHERE id = 1
	`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.E(errs.KindNotFound, "configstore.GetActive", "", nil)
		}
		return nil, fmt.Errorf("get active config: %w", err)
	}
	return &cfg, nil
}

// GetVersion returns one historical version.
func (s *Store) GetVersion(ctx context.Context, version int64) (*models.ConfigVersion, error) {
	var cv models.ConfigVersion
	err := s.db.GetContext(ctx, &cv, `
		SELECT version, document, previous_document, diff_summary,
			based_on_version, action, created_by, notes, created_at
		FROM analyzer_config_history WHERE version = $1
	`, version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.E(errs.KindNotFound, "configstore.GetVersion", strconv.FormatInt(version, 10), nil)
		}
		return nil, fmt.Errorf("get config version %d: %w", version, err)
	}
	return &cv, nil
}

// History returns up to limit accepted proposals, newest first.
func (s *Store) History(ctx context.Context, limit int) ([]models.ConfigVersion, error) {
	if limit <= 0 {
		limit = 20
	}
	var history []models.ConfigVersion
	err := s.db.SelectContext(ctx, &history, `
		SELECT version, document, previous_document, diff_summary,
			based_on_version, action, created_by, notes, created_at
		FROM analyzer_config_history
		ORDER BY version DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list config history: %w", err)
	}
	return history, nil
}

// Propose validates the document, then appends to history and replaces
// the active row in one transaction. A new version is minted on every
// accepted proposal.
func (s *Store) Propose(ctx context.Context, document json.RawMessage, author, notes string, basedOn *int64) (int64, error) {
	return s.propose(ctx, document, author, notes, basedOn, models.ConfigActionUpdate)
}

// ImportAI records an externally generated document, tagged so history
// shows its provenance.
func (s *Store) ImportAI(ctx context.Context, document json.RawMessage, author, notes string) (int64, error) {
	return s.propose(ctx, document, author, notes, nil, models.ConfigActionAIImport)
}

// Rollback re-applies a historical version as a brand new one.
func (s *Store) Rollback(ctx context.Context, version int64, author string) (int64, error) {
	cv, err := s.GetVersion(ctx, version)
	if err != nil {
		return 0, err
	}
	notes := fmt.Sprintf("rollback to version %d", version)
	return s.propose(ctx, cv.Document, author, notes, &version, models.ConfigActionRollback)
}

func (s *Store) propose(ctx context.Context, document json.RawMessage, author, notes string, basedOn *int64, action string) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin propose: %w", err)
	}
	defer tx.Rollback()

	// Row lock on the active config serializes concurrent proposals.
	var current *models.AnalyzerConfig
	var row models.AnalyzerConfig
	err = tx.GetContext(ctx, &row, `
		SELECT version, document, validation_status, created_by, notes, updated_at
		FROM analyzer_config WHERE id = 1 FOR UPDATE
	`)
	switch {
	case err == nil:
		current = &row
	case errors.Is(err, sql.ErrNoRows):
	default:
		return 0, fmt.Errorf("lock active config: %w", err)
	}

	cv, err := buildVersion(current, document, author, notes, basedOn, action)
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO analyzer_config_history (
			version, document, previous_document, diff_summary,
			based_on_version, action, created_by, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, cv.Version, jsonbArg(cv.Document), jsonbArg(cv.PreviousDocument), jsonbArg(cv.DiffSummary),
		cv.BasedOnVersion, cv.Action, cv.CreatedBy, cv.Notes); err != nil {
		return 0, fmt.Errorf("append config history: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO analyzer_config (id, version, document, validation_status, created_by, notes, updated_at)
		VALUES (1, $1, $2, 'valid', $3, $4, now())
		ON CONFLICT (id) DO UPDATE SET
			version = EXCLUDED.version,
			document = EXCLUDED.document,
			validation_status = EXCLUDED.validation_status,
			created_by = EXCLUDED.created_by,
			notes = EXCLUDED.notes,
			updated_at = now()
	`, cv.Version, jsonbArg(cv.Document), cv.CreatedBy, cv.Notes); err != nil {
		return 0, fmt.Errorf("replace active config: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit propose: %w", err)
	}

	s.logger.Info().
		Int64("version", cv.Version).
		Str("action", cv.Action).
		Str("author", cv.CreatedBy).
		RawJSON("diff", cv.DiffSummary).
		Msg("Configuration version accepted")
	return cv.Version, nil
}

// buildVersion mints the next history entry from the locked active row.
// current is nil when the register was never seeded; the first accepted
// document becomes version 1 with the initial action.
func buildVersion(current *models.AnalyzerConfig, document json.RawMessage, author, notes string, basedOn *int64, action string) (models.ConfigVersion, error) {
	if issues := Validate(document); len(issues) > 0 {
		return models.ConfigVersion{}, errs.E(errs.KindValidation, "configstore.Propose", "",
			fmt.Errorf("document rejected: %v", issues))
	}

	cv := models.ConfigVersion{
		Version:        1,
		Document:       document,
		BasedOnVersion: basedOn,
		Action:         action,
		CreatedBy:      author,
		Notes:          &notes,
	}
	if current == nil {
		cv.Action = models.ConfigActionInitial
	} else {
		cv.Version = current.Version + 1
		cv.PreviousDocument = current.Document
	}

	diffJSON, err := json.Marshal(DiffSummary(cv.PreviousDocument, document))
	if err != nil {
		return models.ConfigVersion{}, fmt.Errorf("encode diff summary: %w", err)
	}
	cv.DiffSummary = diffJSON
	return cv, nil
}

// jsonbArg passes raw JSON as text; lib/pq would encode []byte as bytea.
func jsonbArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
