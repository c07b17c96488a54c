package histsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regime-tracker/internal/errs"
	"regime-tracker/internal/models"
)

type fakeProvider struct {
	mu      sync.Mutex
	step    time.Duration
	failAt  time.Time // fetch windows containing this time fail once
	failed  bool
	fetches int
}

func (p *fakeProvider) Fetch(ctx context.Context, key models.SyncKey, from, to time.Time) ([]models.Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetches++

	if !p.failed && !p.failAt.IsZero() && !p.failAt.Before(from) && !p.failAt.After(to) {
		p.failed = true
		return nil, backoff.Permanent(errors.New("provider timeout"))
	}

	var candles []models.Candle
	for ts := from; !ts.After(to); ts = ts.Add(p.step) {
		candles = append(candles, models.Candle{
			Source:          key.Source,
			Symbol:          key.Symbol,
			Timeframe:       key.Timeframe,
			Time:            ts,
			Close:           100,
			TakerBuyVolume:  10,
			TakerSellVolume: 5,
		})
	}
	return candles, nil
}

type fakeCandleWriter struct {
	mu    sync.Mutex
	byKey map[string]models.Candle
}

func newFakeCandleWriter() *fakeCandleWriter {
	return &fakeCandleWriter{byKey: make(map[string]models.Candle)}
}

func (w *fakeCandleWriter) Upsert(ctx context.Context, candles []models.Candle) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range candles {
		k := fmt.Sprintf("%s/%s/%s/%d", c.Source, c.Symbol, c.Timeframe, c.Time.Unix())
		w.byKey[k] = c
	}
	return len(candles), nil
}

// fakeProgress mirrors the conditional-write semantics of the Postgres
// progress store: single-flight per key, monotonic watermark.
type fakeProgress struct {
	mu   sync.Mutex
	rows map[string]*models.SyncProgress
}

func newFakeProgress() *fakeProgress {
	return &fakeProgress{rows: make(map[string]*models.SyncProgress)}
}

func (f *fakeProgress) Get(ctx context.Context, key models.SyncKey) (*models.SyncProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[key.String()]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProgress) Start(ctx context.Context, key models.SyncKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[key.String()]
	if !ok {
		now := time.Now()
		f.rows[key.String()] = &models.SyncProgress{
			SyncKey: key, Status: models.SyncStatusSyncing, StartedAt: &now,
		}
		return nil
	}
	if p.Status == models.SyncStatusSyncing {
		return errs.E(errs.KindAlreadyRunning, "histsync.Start", key.String(), nil)
	}
	p.Status = models.SyncStatusSyncing
	p.LastError = nil
	return nil
}

func (f *fakeProgress) Advance(ctx context.Context, key models.SyncKey, watermark time.Time, rows int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[key.String()]
	if !ok || p.Status != models.SyncStatusSyncing {
		return nil
	}
	if p.LastSyncedTime != nil && !p.LastSyncedTime.Before(watermark) {
		return nil
	}
	w := watermark
	p.LastSyncedTime = &w
	p.RowsSynced += int64(rows)
	return nil
}

func (f *fakeProgress) Complete(ctx context.Context, key models.SyncKey) error {
	return f.transition(key, models.SyncStatusCompleted, nil)
}

func (f *fakeProgress) Fail(ctx context.Context, key models.SyncKey, cause string) error {
	return f.transition(key, models.SyncStatusFailed, &cause)
}

func (f *fakeProgress) transition(key models.SyncKey, status string, cause *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[key.String()]
	if !ok || p.Status != models.SyncStatusSyncing {
		return errs.E(errs.KindInvalidState, "histsync.transition", key.String(), nil)
	}
	p.Status = status
	p.LastError = cause
	return nil
}

func testKey() models.SyncKey {
	return models.SyncKey{Source: "binance", Symbol: "BTCUSDT", Timeframe: "1h", DataKind: "ohlcv"}
}

func TestRunSyncsFullRange(t *testing.T) {
	key := testKey()
	provider := &fakeProvider{step: time.Hour}
	writer := newFakeCandleWriter()
	progress := newFakeProgress()
	runner := NewRunner(provider, writer, progress, 24)

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(99 * time.Hour)

	require.NoError(t, runner.Run(context.Background(), key, from, to))

	assert.Len(t, writer.byKey, 100)
	p, _ := progress.Get(context.Background(), key)
	require.NotNil(t, p)
	assert.Equal(t, models.SyncStatusCompleted, p.Status)
	assert.True(t, p.LastSyncedTime.Equal(to))
}

func TestRunResumeMatchesUninterruptedRun(t *testing.T) {
	key := testKey()
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(99 * time.Hour)

	// Uninterrupted reference run.
	refWriter := newFakeCandleWriter()
	refRunner := NewRunner(&fakeProvider{step: time.Hour}, refWriter, newFakeProgress(), 24)
	require.NoError(t, refRunner.Run(context.Background(), key, from, to))

	// Run that fails mid-range, then resumes.
	provider := &fakeProvider{step: time.Hour, failAt: from.Add(50 * time.Hour)}
	writer := newFakeCandleWriter()
	progress := newFakeProgress()
	runner := NewRunner(provider, writer, progress, 24)

	err := runner.Run(context.Background(), key, from, to)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindSyncFailure))

	p, _ := progress.Get(context.Background(), key)
	require.NotNil(t, p)
	assert.Equal(t, models.SyncStatusFailed, p.Status)
	require.NotNil(t, p.LastError)
	failWatermark := *p.LastSyncedTime

	require.NoError(t, runner.Run(context.Background(), key, from, to))

	// Same final candle set: no gaps, no duplicates.
	assert.Equal(t, len(refWriter.byKey), len(writer.byKey))
	for k := range refWriter.byKey {
		_, ok := writer.byKey[k]
		assert.True(t, ok, "missing candle %s", k)
	}

	p, _ = progress.Get(context.Background(), key)
	assert.Equal(t, models.SyncStatusCompleted, p.Status)
	assert.True(t, p.LastSyncedTime.After(failWatermark) || p.LastSyncedTime.Equal(failWatermark))
}

func TestStartWhileSyncingReturnsAlreadyRunning(t *testing.T) {
	key := testKey()
	progress := newFakeProgress()

	require.NoError(t, progress.Start(context.Background(), key))

	runner := NewRunner(&fakeProvider{step: time.Hour}, newFakeCandleWriter(), progress, 24)
	err := runner.Run(context.Background(), key,
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindAlreadyRunning))
}

func TestOverlappingReingestIsIdempotent(t *testing.T) {
	key := testKey()
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	watermark := from.Add(10 * time.Hour)

	writer := newFakeCandleWriter()
	progress := newFakeProgress()
	runner := NewRunner(&fakeProvider{step: time.Hour}, writer, progress, 24)

	require.NoError(t, runner.Run(context.Background(), key, from, watermark))
	require.Len(t, writer.byKey, 11)

	// Second ingest covering [watermark-1h, watermark+2h]: the overlapping
	// candles are overwritten in place, not duplicated, and the watermark
	// moves to the end of the new range.
	require.NoError(t, runner.Run(context.Background(), key, watermark.Add(-time.Hour), watermark.Add(2*time.Hour)))

	assert.Len(t, writer.byKey, 13)
	p, _ := progress.Get(context.Background(), key)
	assert.True(t, p.LastSyncedTime.Equal(watermark.Add(2*time.Hour)))
}

func TestAdvanceNeverRegresses(t *testing.T) {
	key := testKey()
	progress := newFakeProgress()
	ctx := context.Background()

	require.NoError(t, progress.Start(ctx, key))
	later := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, progress.Advance(ctx, key, later, 10))
	require.NoError(t, progress.Advance(ctx, key, later.Add(-6*time.Hour), 5))

	p, _ := progress.Get(ctx, key)
	assert.True(t, p.LastSyncedTime.Equal(later))
	assert.Equal(t, int64(10), p.RowsSynced)
}
