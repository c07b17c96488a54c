package analyzer

import (
	"context"
	"encoding/json"
	"math"

	"regime-tracker/internal/models"
)

// Settings are the tunable knobs read from the versioned configuration
// document. Unknown fields are ignored so the document can carry state
// for other analyzer generations.
type Settings struct {
	Lookback          int     `json:"lookback"`
	TrendThresholdPct float64 `json:"trend_threshold_pct"`
	VolatilityRatio   float64 `json:"volatility_ratio"`
	CVDConfirm        bool    `json:"cvd_confirm"`
	NoiseFloorPct     float64 `json:"noise_floor_pct"`
	AbsorptionDelta   float64 `json:"absorption_delta_multiple"`
}

func defaultSettings() Settings {
	return Settings{
		Lookback:          40,
		TrendThresholdPct: 1.5,
		VolatilityRatio:   1.5,
		CVDConfirm:        true,
		NoiseFloorPct:     1.0,
		AbsorptionDelta:   2.0,
	}
}

// ParseSettings merges a configuration document over the defaults.
func ParseSettings(cfg *models.AnalyzerConfig) Settings {
	s := defaultSettings()
	if cfg != nil && len(cfg.Document) > 0 {
		_ = json.Unmarshal(cfg.Document, &s)
	}
	if s.Lookback < 10 {
		s.Lookback = 10
	}
	return s
}

// state is the structured snapshot state persisted with each evaluation.
type state struct {
	Lookback    int     `json:"lookback"`
	ChangePct   float64 `json:"change_pct"`
	RangePct    float64 `json:"range_pct"`
	VolRatio    float64 `json:"vol_ratio"`
	CVDSlope    float64 `json:"cvd_slope"`
	AvgVolume   float64 `json:"avg_volume"`
	FundingRate float64 `json:"funding_rate"`
}

// Evaluator is the default regime analyzer. Pure given its inputs: the
// same config and candle window always produce the same evaluation.
type Evaluator struct{}

func New() *Evaluator {
	return &Evaluator{}
}

// Evaluate classifies the regime of the candle window and derives a
// directional bias with a confidence score. Too little data yields a
// neutral evaluation rather than an error.
func (e *Evaluator) Evaluate(ctx context.Context, cfg *models.AnalyzerConfig, candles []models.Candle) (*models.Evaluation, error) {
	settings := ParseSettings(cfg)

	eval := &models.Evaluation{
		Bias:   models.BiasNeutral,
		Regime: models.RegimeRanging,
	}
	if len(candles) > 0 {
		eval.Price = candles[len(candles)-1].Close
	}
	if len(candles) < settings.Lookback/2 {
		return eval, nil
	}

	window := candles
	if len(window) > settings.Lookback {
		window = window[len(window)-settings.Lookback:]
	}

	st := measure(window)
	stateJSON, _ := json.Marshal(st)
	eval.State = stateJSON

	trending := math.Abs(st.ChangePct) >= settings.TrendThresholdPct
	volatile := st.VolRatio >= settings.VolatilityRatio

	switch {
	case trending && st.ChangePct > 0:
		eval.Regime = models.RegimeTrendingUp
	case trending:
		eval.Regime = models.RegimeTrendingDown
	case volatile && st.RangePct >= 2*settings.NoiseFloorPct:
		eval.Regime = models.RegimeChoppy
	case volatile:
		eval.Regime = models.RegimeVolatile
	default:
		eval.Regime = models.RegimeRanging
	}

	if !trending {
		return eval, nil
	}

	cvdAgrees := st.CVDSlope*st.ChangePct > 0
	if settings.CVDConfirm && !cvdAgrees && st.CVDSlope != 0 {
		// Price and order flow disagree; stay flat.
		return eval, nil
	}

	if st.ChangePct > 0 {
		eval.Bias = models.BiasLong
	} else {
		eval.Bias = models.BiasShort
	}

	confidence := 0.5 + math.Min(math.Abs(st.ChangePct)/(4*settings.TrendThresholdPct), 0.3)
	if cvdAgrees {
		confidence += 0.15
	}
	eval.Confidence = math.Min(confidence, 0.95)
	return eval, nil
}

// Detection is an absorption condition found in the window.
type Detection struct {
	Direction string
	Evidence  models.Evidence
}

// DetectAbsorption looks for delta pressure that price failed to follow:
// a strong cumulative volume delta push over the last candles while price
// stays inside the noise band, with open interest holding or building.
func (e *Evaluator) DetectAbsorption(cfg *models.AnalyzerConfig, candles []models.Candle) *Detection {
	settings := ParseSettings(cfg)
	if len(candles) < 10 {
		return nil
	}

	recent := candles[len(candles)-5:]
	entry := recent[0].Close
	if entry == 0 {
		return nil
	}

	var avgVolume float64
	for _, c := range candles {
		avgVolume += c.Volume
	}
	avgVolume /= float64(len(candles))
	if avgVolume == 0 {
		return nil
	}

	deltaPush := recent[len(recent)-1].CVD - recent[0].CVD
	strength := math.Abs(deltaPush) / avgVolume
	priceMovePct := (recent[len(recent)-1].Close - entry) / entry * 100

	if strength < settings.AbsorptionDelta || math.Abs(priceMovePct) > settings.NoiseFloorPct {
		return nil
	}

	oiBehavior := "FLAT"
	oiChange := recent[len(recent)-1].OIClose - recent[0].OIOpen
	if oiChange > 0 {
		oiBehavior = "BUILDING"
	} else if oiChange < 0 {
		oiBehavior = "UNWINDING"
	}

	direction := models.DirectionBuy
	srLevel := recent[0].High
	if deltaPush < 0 {
		direction = models.DirectionSell
		srLevel = recent[0].Low
	}

	return &Detection{
		Direction: direction,
		Evidence: models.Evidence{
			DeltaStrength: strength,
			NoiseFloor:    settings.NoiseFloorPct,
			OIBehavior:    oiBehavior,
			PriceBehavior: "STALLED",
			SRLevel:       srLevel,
		},
	}
}

func measure(window []models.Candle) state {
	first, last := window[0], window[len(window)-1]

	var st state
	if first.Close != 0 {
		st.ChangePct = (last.Close - first.Close) / first.Close * 100
	}
	st.Lookback = len(window)
	st.FundingRate = last.FundingRate
	st.CVDSlope = last.CVD - window[max(0, len(window)-6)].CVD

	var high, low float64
	var rangeSum, recentRangeSum, volumeSum float64
	for i, c := range window {
		if i == 0 || c.High > high {
			high = c.High
		}
		if i == 0 || c.Low < low {
			low = c.Low
		}
		if c.Close != 0 {
			rangeSum += (c.High - c.Low) / c.Close
		}
		if i >= len(window)-5 && c.Close != 0 {
			recentRangeSum += (c.High - c.Low) / c.Close
		}
		volumeSum += c.Volume
	}
	if last.Close != 0 {
		st.RangePct = (high - low) / last.Close * 100
	}
	avgRange := rangeSum / float64(len(window))
	recentRange := recentRangeSum / 5
	if avgRange > 0 {
		st.VolRatio = recentRange / avgRange
	}
	st.AvgVolume = volumeSum / float64(len(window))
	return st
}
