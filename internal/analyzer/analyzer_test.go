package analyzer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regime-tracker/internal/models"
)

func generateCandles(n int, generator func(i int) models.Candle) []models.Candle {
	candles := make([]models.Candle, n)
	var cvd float64
	for i := 0; i < n; i++ {
		candles[i] = generator(i)
		candles[i].Time = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour)
		cvd += candles[i].Delta()
		candles[i].CVD = cvd
	}
	return candles
}

func TestEvaluateRegimes(t *testing.T) {
	tests := []struct {
		name           string
		candles        []models.Candle
		expectedRegime string
		expectedBias   string
	}{
		{
			name:           "insufficient data stays neutral",
			candles:        generateCandles(5, func(i int) models.Candle { return models.Candle{Close: 100} }),
			expectedRegime: models.RegimeRanging,
			expectedBias:   models.BiasNeutral,
		},
		{
			name: "steady climb with buy flow is trending up long",
			candles: generateCandles(50, func(i int) models.Candle {
				base := 100 + float64(i)*0.2
				return models.Candle{
					Open: base, High: base + 0.5, Low: base - 0.5, Close: base + 0.2,
					Volume: 1000, TakerBuyVolume: 700, TakerSellVolume: 300,
				}
			}),
			expectedRegime: models.RegimeTrendingUp,
			expectedBias:   models.BiasLong,
		},
		{
			name: "steady decline with sell flow is trending down short",
			candles: generateCandles(50, func(i int) models.Candle {
				base := 100 - float64(i)*0.2
				return models.Candle{
					Open: base, High: base + 0.5, Low: base - 0.5, Close: base - 0.2,
					Volume: 1000, TakerBuyVolume: 300, TakerSellVolume: 700,
				}
			}),
			expectedRegime: models.RegimeTrendingDown,
			expectedBias:   models.BiasShort,
		},
		{
			name: "flat tape is ranging and neutral",
			candles: generateCandles(50, func(i int) models.Candle {
				base := 100 + float64(i%3)*0.1
				return models.Candle{
					Open: base, High: base + 0.2, Low: base - 0.2, Close: base,
					Volume: 1000, TakerBuyVolume: 500, TakerSellVolume: 500,
				}
			}),
			expectedRegime: models.RegimeRanging,
			expectedBias:   models.BiasNeutral,
		},
	}

	evaluator := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval, err := evaluator.Evaluate(context.Background(), nil, tt.candles)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedRegime, eval.Regime)
			assert.Equal(t, tt.expectedBias, eval.Bias)
		})
	}
}

func TestEvaluateCVDDisagreementStaysFlat(t *testing.T) {
	// Price climbs while order flow sells into it.
	candles := generateCandles(50, func(i int) models.Candle {
		base := 100 + float64(i)*0.2
		return models.Candle{
			Open: base, High: base + 0.5, Low: base - 0.5, Close: base + 0.2,
			Volume: 1000, TakerBuyVolume: 300, TakerSellVolume: 700,
		}
	})

	eval, err := New().Evaluate(context.Background(), nil, candles)
	require.NoError(t, err)
	assert.Equal(t, models.RegimeTrendingUp, eval.Regime)
	assert.Equal(t, models.BiasNeutral, eval.Bias)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	candles := generateCandles(50, func(i int) models.Candle {
		base := 100 + float64(i)*0.3
		return models.Candle{
			Open: base, High: base + 1, Low: base - 1, Close: base + 0.3,
			Volume: 1500, TakerBuyVolume: 900, TakerSellVolume: 600,
		}
	})

	evaluator := New()
	first, err := evaluator.Evaluate(context.Background(), nil, candles)
	require.NoError(t, err)
	second, err := evaluator.Evaluate(context.Background(), nil, candles)
	require.NoError(t, err)

	assert.Equal(t, first.Bias, second.Bias)
	assert.Equal(t, first.Confidence, second.Confidence)
	assert.Equal(t, first.Regime, second.Regime)
	assert.JSONEq(t, string(first.State), string(second.State))
}

func TestDetectAbsorption(t *testing.T) {
	// Heavy one-sided delta over the last candles while price pins to the
	// level and open interest builds.
	candles := generateCandles(30, func(i int) models.Candle {
		c := models.Candle{
			Open: 100, High: 100.3, Low: 99.7, Close: 100,
			Volume: 1000, TakerBuyVolume: 500, TakerSellVolume: 500,
			OIOpen: 5000, OIClose: 5000,
		}
		if i >= 25 {
			c.TakerBuyVolume = 3000
			c.TakerSellVolume = 200
			c.Volume = 3200
			c.OIClose = 5000 + float64(i-24)*100
		}
		return c
	})

	detection := New().DetectAbsorption(nil, candles)
	require.NotNil(t, detection)
	assert.Equal(t, models.DirectionBuy, detection.Direction)
	assert.Equal(t, "BUILDING", detection.Evidence.OIBehavior)
	assert.Greater(t, detection.Evidence.DeltaStrength, 2.0)
}

func TestDetectAbsorptionIgnoresMovingPrice(t *testing.T) {
	// Same delta push, but price follows it: no absorption.
	candles := generateCandles(30, func(i int) models.Candle {
		base := 100.0
		if i >= 25 {
			base = 100 + float64(i-24)*1.5
		}
		return models.Candle{
			Open: base, High: base + 0.3, Low: base - 0.3, Close: base,
			Volume: 3200, TakerBuyVolume: 3000, TakerSellVolume: 200,
		}
	})

	assert.Nil(t, New().DetectAbsorption(nil, candles))
}
