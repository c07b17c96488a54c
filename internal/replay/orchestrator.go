package replay

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"regime-tracker/internal/errs"
	"regime-tracker/internal/models"
)

var errMissingIdentity = errors.New("batch id and symbol are required")

// CandleReader supplies the analyzer's historical view.
type CandleReader interface {
	Get(ctx context.Context, source, symbol, timeframe string, from, to time.Time) ([]models.Candle, error)
}

// SnapshotStore persists evaluations and exposes the resumption set.
type SnapshotStore interface {
	Insert(ctx context.Context, snap *models.Snapshot) error
	ExistingAsOf(ctx context.Context, batchID, symbol string) (map[int64]struct{}, error)
}

// Analyzer is the external evaluation contract. It must be pure given its
// inputs so replays stay deterministic.
type Analyzer interface {
	Evaluate(ctx context.Context, cfg *models.AnalyzerConfig, candles []models.Candle) (*models.Evaluation, error)
}

// Batch names one replay run: an ordered as-of list for a single symbol,
// evaluated under one pinned configuration.
type Batch struct {
	BatchID   string
	Source    string
	Symbol    string
	Timeframe string
	AsOf      []time.Time
	Config    *models.AnalyzerConfig
}

// Result counts what one Run did.
type Result struct {
	Evaluated int
	Skipped   int
	Failed    int
}

// Orchestrator replays analyzer evaluations over stored candles. Each
// as-of point only ever sees candles at or before its own instant, and
// points already present for the batch key are left untouched, which
// makes re-running a crashed batch safe.
type Orchestrator struct {
	candles   CandleReader
	snapshots SnapshotStore
	analyzer  Analyzer
	logger    zerolog.Logger
}

func NewOrchestrator(candles CandleReader, snapshots SnapshotStore, analyzer Analyzer) *Orchestrator {
	return &Orchestrator{
		candles:   candles,
		snapshots: snapshots,
		analyzer:  analyzer,
		logger:    log.With().Str("component", "replay").Logger(),
	}
}

// Run processes the batch sequentially in the given as-of order. One bad
// point is recorded as FAILED and does not abort the batch.
func (o *Orchestrator) Run(ctx context.Context, batch Batch) (Result, error) {
	var res Result
	if batch.BatchID == "" || batch.Symbol == "" {
		return res, errs.E(errs.KindValidation, "replay.Run", batch.BatchID,
			errMissingIdentity)
	}

	existing, err := o.snapshots.ExistingAsOf(ctx, batch.BatchID, batch.Symbol)
	if err != nil {
		return res, err
	}

	var configVersion *int64
	if batch.Config != nil {
		v := batch.Config.Version
		configVersion = &v
	}

	for _, asOf := range batch.AsOf {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, ok := existing[asOf.UnixNano()]; ok {
			res.Skipped++
			continue
		}

		snap := &models.Snapshot{
			ID:            uuid.New(),
			Kind:          models.SnapshotKindReplay,
			BatchID:       &batch.BatchID,
			AsOf:          asOf,
			Source:        batch.Source,
			Symbol:        batch.Symbol,
			Timeframe:     batch.Timeframe,
			ConfigVersion: configVersion,
		}

		// No lookahead: the read window ends at this point's own as-of.
		candles, err := o.candles.Get(ctx, batch.Source, batch.Symbol, batch.Timeframe, time.Time{}, asOf)
		if err == nil {
			var eval *models.Evaluation
			eval, err = o.analyzer.Evaluate(ctx, batch.Config, candles)
			if err == nil {
				snap.Status = models.SnapshotCompleted
				snap.Bias = eval.Bias
				snap.Confidence = eval.Confidence
				snap.Regime = eval.Regime
				snap.Price = eval.Price
				snap.State = eval.State
				if len(candles) > 0 {
					first, last := candles[0].Time, candles[len(candles)-1].Time
					snap.CandlesFrom = &first
					snap.CandlesTo = &last
				}
				snap.CandleCount = len(candles)
			}
		}
		if err != nil {
			msg := err.Error()
			snap.Status = models.SnapshotFailed
			snap.Error = &msg
			res.Failed++
			o.logger.Warn().
				Str("batch", batch.BatchID).
				Str("symbol", batch.Symbol).
				Time("as_of", asOf).
				Err(err).
				Msg("Evaluation failed, continuing batch")
		} else {
			res.Evaluated++
		}

		if err := o.snapshots.Insert(ctx, snap); err != nil {
			return res, err
		}
	}

	o.logger.Info().
		Str("batch", batch.BatchID).
		Str("symbol", batch.Symbol).
		Int("evaluated", res.Evaluated).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Msg("Replay batch finished")
	return res, nil
}
