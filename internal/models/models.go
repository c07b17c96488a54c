package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Bias values produced by the analyzer.
const (
	BiasLong    = "LONG"
	BiasShort   = "SHORT"
	BiasNeutral = "NEUTRAL"
)

// Market regime classifications.
const (
	RegimeTrendingUp   = "TRENDING_UP"
	RegimeTrendingDown = "TRENDING_DOWN"
	RegimeRanging      = "RANGING"
	RegimeVolatile     = "VOLATILE"
	RegimeChoppy       = "CHOPPY"
)

// Sync job lifecycle states.
const (
	SyncStatusPending   = "pending"
	SyncStatusSyncing   = "syncing"
	SyncStatusCompleted = "completed"
	SyncStatusFailed    = "failed"
)

// Snapshot evaluation states.
const (
	SnapshotCompleted = "COMPLETED"
	SnapshotFailed    = "FAILED"
)

// Snapshot kinds.
const (
	SnapshotKindLive   = "live"
	SnapshotKindReplay = "replay"
)

// Outcome labels written by the labeling sweep.
const (
	LabelContinuation = "CONTINUATION"
	LabelReversal     = "REVERSAL"
	LabelNoise        = "NOISE"
)

// Configuration history actions.
const (
	ConfigActionInitial  = "initial"
	ConfigActionUpdate   = "update"
	ConfigActionRollback = "rollback"
	ConfigActionAIImport = "ai_import"
)

// Absorption event directions.
const (
	DirectionBuy  = "BUY"
	DirectionSell = "SELL"
)

// Candle is one aggregation interval of price, volume, open interest and
// funding for a symbol on a source. Identity is (Source, Symbol, Timeframe, Time).
type Candle struct {
	Source          string    `db:"source" json:"source"`
	Symbol          string    `db:"symbol" json:"symbol"`
	Timeframe       string    `db:"timeframe" json:"timeframe"`
	Time            time.Time `db:"ts" json:"time"`
	Open            float64   `db:"open" json:"open"`
	High            float64   `db:"high" json:"high"`
	Low             float64   `db:"low" json:"low"`
	Close           float64   `db:"close" json:"close"`
	Volume          float64   `db:"volume" json:"volume"`
	OIOpen          float64   `db:"oi_open" json:"oi_open"`
	OIHigh          float64   `db:"oi_high" json:"oi_high"`
	OILow           float64   `db:"oi_low" json:"oi_low"`
	OIClose         float64   `db:"oi_close" json:"oi_close"`
	TakerBuyVolume  float64   `db:"taker_buy_volume" json:"taker_buy_volume"`
	TakerSellVolume float64   `db:"taker_sell_volume" json:"taker_sell_volume"`
	FundingRate     float64   `db:"funding_rate" json:"funding_rate"`

	// CVD is derived at read time, never stored: running sum of
	// (taker buy - taker sell) from the start of the queried window.
	CVD float64 `db:"-" json:"cvd"`
}

// Delta returns the taker volume delta of a single candle.
func (c Candle) Delta() float64 {
	return c.TakerBuyVolume - c.TakerSellVolume
}

// SyncKey identifies one resumable ingestion stream.
type SyncKey struct {
	Source    string `db:"source"`
	Symbol    string `db:"symbol"`
	Timeframe string `db:"timeframe"`
	DataKind  string `db:"data_kind"`
}

func (k SyncKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Source, k.Symbol, k.Timeframe, k.DataKind)
}

// SyncProgress is the persisted state of one ingestion stream. Rows are
// never deleted so resumption survives process restarts.
type SyncProgress struct {
	SyncKey
	Status         string     `db:"status"`
	LastSyncedTime *time.Time `db:"last_synced_time"`
	RowsSynced     int64      `db:"rows_synced"`
	LastError      *string    `db:"last_error"`
	StartedAt      *time.Time `db:"started_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// AnalyzerConfig is the single active configuration document. The document
// shape is owned by the analyzer; the store treats it as opaque JSON.
type AnalyzerConfig struct {
	Version          int64           `db:"version"`
	Document         json.RawMessage `db:"document"`
	ValidationStatus string          `db:"validation_status"`
	CreatedBy        string          `db:"created_by"`
	Notes            *string         `db:"notes"`
	UpdatedAt        time.Time       `db:"updated_at"`
}

// ConfigVersion is one accepted proposal in the append-only history.
type ConfigVersion struct {
	Version          int64           `db:"version"`
	Document         json.RawMessage `db:"document"`
	PreviousDocument json.RawMessage `db:"previous_document"`
	DiffSummary      json.RawMessage `db:"diff_summary"`
	BasedOnVersion   *int64          `db:"based_on_version"`
	Action           string          `db:"action"`
	CreatedBy        string          `db:"created_by"`
	Notes            *string         `db:"notes"`
	CreatedAt        time.Time       `db:"created_at"`
}

// Evaluation is the analyzer's output for one instant.
type Evaluation struct {
	Bias       string          `json:"bias"`
	Confidence float64         `json:"confidence"`
	Regime     string          `json:"regime"`
	Price      float64         `json:"price"`
	State      json.RawMessage `json:"state"`
}

// Snapshot is one persisted analyzer evaluation, live or replayed. Replay
// snapshots carry a (batch_id, as_of, symbol) natural key; outcome fields
// stay null until the labeling sweep fills them, and LabeledAt is the
// single guard against relabeling.
type Snapshot struct {
	ID            uuid.UUID       `db:"id"`
	Kind          string          `db:"kind"`
	BatchID       *string         `db:"batch_id"`
	AsOf          time.Time       `db:"as_of"`
	Source        string          `db:"source"`
	Symbol        string          `db:"symbol"`
	Timeframe     string          `db:"timeframe"`
	Bias          string          `db:"bias"`
	Confidence    float64         `db:"confidence"`
	Regime        string          `db:"regime"`
	Price         float64         `db:"price"`
	State         json.RawMessage `db:"state"`
	ConfigVersion *int64          `db:"config_version"`
	CandlesFrom   *time.Time      `db:"candles_from"`
	CandlesTo     *time.Time      `db:"candles_to"`
	CandleCount   int             `db:"candle_count"`
	Status        string          `db:"status"`
	Error         *string         `db:"error"`
	CreatedAt     time.Time       `db:"created_at"`

	Label         *string    `db:"label"`
	LabelReason   *string    `db:"label_reason"`
	Horizon       *string    `db:"horizon"`
	RealizedPrice *float64   `db:"realized_price"`
	MovePct       *float64   `db:"move_pct"`
	MFE           *float64   `db:"mfe"`
	MAE           *float64   `db:"mae"`
	LabeledAt     *time.Time `db:"labeled_at"`
}

// Evidence is the detection-time justification for an absorption event.
type Evidence struct {
	DeltaStrength float64         `json:"delta_strength"`
	NoiseFloor    float64         `json:"noise_floor"`
	OIBehavior    string          `json:"oi_behavior"`
	PriceBehavior string          `json:"price_behavior"`
	SRLevel       float64         `json:"sr_level"`
	SnapshotID    *uuid.UUID      `json:"snapshot_id,omitempty"`
	Criteria      json.RawMessage `json:"criteria,omitempty"`
}

// AbsorptionEvent tracks a detected absorption condition from open to
// resolution. At most one unresolved event may exist per
// (symbol, timeframe, direction).
type AbsorptionEvent struct {
	ID               uuid.UUID       `db:"id"`
	Symbol           string          `db:"symbol"`
	Timeframe        string          `db:"timeframe"`
	Direction        string          `db:"direction"`
	SnapshotID       *uuid.UUID      `db:"snapshot_id"`
	DeltaStrength    float64         `db:"delta_strength"`
	NoiseFloor       float64         `db:"noise_floor"`
	OIBehavior       string          `db:"oi_behavior"`
	PriceBehavior    string          `db:"price_behavior"`
	SRLevel          float64         `db:"sr_level"`
	ExtensionsUsed   int             `db:"extensions_used"`
	OpenedAt         time.Time       `db:"opened_at"`
	ResolvedAt       *time.Time      `db:"resolved_at"`
	Resolution       *string         `db:"resolution"`
	ResolutionReason *string         `db:"resolution_reason"`
	Criteria         json.RawMessage `db:"criteria"`
}

// Resolved reports whether the event has reached its terminal state.
func (e *AbsorptionEvent) Resolved() bool {
	return e.ResolvedAt != nil
}

// TimeframeDuration maps a timeframe label to its candle interval.
func TimeframeDuration(timeframe string) (time.Duration, error) {
	switch timeframe {
	case "1m":
		return time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "30m":
		return 30 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unknown timeframe: %s", timeframe)
}
