package outcome

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"regime-tracker/internal/models"
	"regime-tracker/internal/snapshotstore"
)

// SnapshotSource yields unlabeled snapshots and takes the conditional
// outcome write. WriteOutcome returning false means another sweep labeled
// the row first; that is the only coordination between workers.
type SnapshotSource interface {
	Unlabeled(ctx context.Context, cutoff time.Time, limit int) ([]models.Snapshot, error)
	WriteOutcome(ctx context.Context, id uuid.UUID, o snapshotstore.Outcome) (bool, error)
}

// CandleReader supplies the forward candle path.
type CandleReader interface {
	Get(ctx context.Context, source, symbol, timeframe string, from, to time.Time) ([]models.Candle, error)
}

// SweepResult counts what one sweep did. AlreadyLabeled and Insufficient
// are benign, not errors.
type SweepResult struct {
	Labeled        int
	Insufficient   int
	AlreadyLabeled int
	Failed         int
}

// Labeler is the deferred outcome sweep. Multiple sweeps may run
// concurrently against the same store; labeled_at exactly-once semantics
// come from the conditional write alone.
type Labeler struct {
	snapshots SnapshotSource
	candles   CandleReader
	horizon   Horizon
	params    Params
	workers   int
	batch     int
	now       func() time.Time
	logger    zerolog.Logger
}

func NewLabeler(snapshots SnapshotSource, candles CandleReader, horizon Horizon, params Params, workers, batch int) *Labeler {
	if workers <= 0 {
		workers = 4
	}
	if batch <= 0 {
		batch = 200
	}
	return &Labeler{
		snapshots: snapshots,
		candles:   candles,
		horizon:   horizon,
		params:    params,
		workers:   workers,
		batch:     batch,
		now:       time.Now,
		logger:    log.With().Str("component", "outcome").Logger(),
	}
}

// Sweep labels every eligible snapshot once. Snapshots whose horizon
// window has not elapsed, or whose forward path is still incomplete, are
// left for a later sweep.
func (l *Labeler) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	cutoff := l.now().Add(-l.horizon.Window)
	snaps, err := l.snapshots.Unlabeled(ctx, cutoff, l.batch)
	if err != nil {
		return res, err
	}
	if len(snaps) == 0 {
		return res, nil
	}

	jobs := make(chan models.Snapshot)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < l.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for snap := range jobs {
				outcome := l.label(ctx, snap)
				mu.Lock()
				switch outcome {
				case labeled:
					res.Labeled++
				case insufficient:
					res.Insufficient++
				case alreadyLabeled:
					res.AlreadyLabeled++
				case failed:
					res.Failed++
				}
				mu.Unlock()
			}
		}()
	}

	for _, snap := range snaps {
		jobs <- snap
	}
	close(jobs)
	wg.Wait()

	l.logger.Info().
		Str("horizon", l.horizon.Name).
		Int("labeled", res.Labeled).
		Int("insufficient", res.Insufficient).
		Int("already_labeled", res.AlreadyLabeled).
		Int("failed", res.Failed).
		Msg("Labeling sweep finished")
	return res, nil
}

type labelResult int

const (
	labeled labelResult = iota
	insufficient
	alreadyLabeled
	failed
)

func (l *Labeler) label(ctx context.Context, snap models.Snapshot) labelResult {
	step, err := models.TimeframeDuration(snap.Timeframe)
	if err != nil {
		l.logger.Error().Err(err).Str("snapshot", snap.ID.String()).Msg("Unlabelable snapshot")
		return failed
	}

	horizonEnd := snap.AsOf.Add(l.horizon.Window)
	path, err := l.candles.Get(ctx, snap.Source, snap.Symbol, snap.Timeframe, snap.AsOf.Add(step), horizonEnd)
	if err != nil {
		l.logger.Error().Err(err).Str("snapshot", snap.ID.String()).Msg("Forward path read failed")
		return failed
	}

	// The path must reach the end of the horizon window; otherwise the
	// row stays unlabeled and is retried by a later sweep.
	if len(path) == 0 || path[len(path)-1].Time.Before(horizonEnd.Add(-step)) {
		return insufficient
	}

	cls := Classify(snap.Bias, snap.Price, path, l.params)
	wrote, err := l.snapshots.WriteOutcome(ctx, snap.ID, snapshotstore.Outcome{
		Label:         cls.Label,
		Reason:        cls.Reason,
		Horizon:       l.horizon.Name,
		RealizedPrice: cls.RealizedPrice,
		MovePct:       cls.MovePct,
		MFE:           cls.MFE,
		MAE:           cls.MAE,
	})
	if err != nil {
		l.logger.Error().Err(err).Str("snapshot", snap.ID.String()).Msg("Outcome write failed")
		return failed
	}
	if !wrote {
		return alreadyLabeled
	}
	return labeled
}
