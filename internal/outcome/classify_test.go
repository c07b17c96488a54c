package outcome

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regime-tracker/internal/models"
)

func pathOf(closes ...float64) []models.Candle {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]models.Candle, len(closes))
	for i, c := range closes {
		candles[i] = models.Candle{
			Time:  start.Add(time.Duration(i) * time.Hour),
			High:  c,
			Low:   c,
			Close: c,
		}
	}
	return candles
}

func TestClassify(t *testing.T) {
	params := Params{NoiseFloorPct: 1.0, Multiple: 2.0}

	tests := []struct {
		name     string
		bias     string
		entry    float64
		path     []models.Candle
		expected string
	}{
		{
			name:     "long reaching 103 before 99 is continuation",
			bias:     models.BiasLong,
			entry:    100,
			path:     pathOf(101, 103, 99),
			expected: models.LabelContinuation,
		},
		{
			name:     "long reaching 97 before 102 is reversal",
			bias:     models.BiasLong,
			entry:    100,
			path:     pathOf(99, 97, 102),
			expected: models.LabelReversal,
		},
		{
			name:     "long drifting inside the noise band is noise",
			bias:     models.BiasLong,
			entry:    100,
			path:     pathOf(100.5, 101, 99.5, 100.2),
			expected: models.LabelNoise,
		},
		{
			name:     "short bias flips favorable direction",
			bias:     models.BiasShort,
			entry:    100,
			path:     pathOf(99, 97, 103),
			expected: models.LabelContinuation,
		},
		{
			name:     "short squeezed upward is reversal",
			bias:     models.BiasShort,
			entry:    100,
			path:     pathOf(101, 103, 95),
			expected: models.LabelReversal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls := Classify(tt.bias, tt.entry, tt.path, params)
			require.NotNil(t, cls.Label)
			assert.Equal(t, tt.expected, *cls.Label)
		})
	}
}

func TestClassifyNeutralBiasGetsNoLabel(t *testing.T) {
	cls := Classify(models.BiasNeutral, 100, pathOf(101, 105, 98), Params{NoiseFloorPct: 1.0, Multiple: 2.0})

	assert.Nil(t, cls.Label)
	assert.Equal(t, "no directional bias", cls.Reason)
	assert.InDelta(t, 98, cls.RealizedPrice, 1e-9)
	assert.InDelta(t, -2, cls.MovePct, 1e-9)
}

func TestClassifyExcursionsCoverWholeWindow(t *testing.T) {
	// Continuation decided early, but MFE/MAE keep tracking afterwards.
	cls := Classify(models.BiasLong, 100, pathOf(103, 108, 94), Params{NoiseFloorPct: 1.0, Multiple: 2.0})

	require.NotNil(t, cls.Label)
	assert.Equal(t, models.LabelContinuation, *cls.Label)
	assert.InDelta(t, 8, cls.MFE, 1e-9)
	assert.InDelta(t, 6, cls.MAE, 1e-9)
	assert.InDelta(t, -6, cls.MovePct, 1e-9)
}

func TestClassifySameCandleCrossing(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	// One candle spanning both thresholds: larger excursion wins.
	path := []models.Candle{{Time: start, High: 105, Low: 97.5, Close: 100}}

	cls := Classify(models.BiasLong, 100, path, Params{NoiseFloorPct: 1.0, Multiple: 2.0})
	require.NotNil(t, cls.Label)
	assert.Equal(t, models.LabelContinuation, *cls.Label)

	path = []models.Candle{{Time: start, High: 102.5, Low: 95, Close: 100}}
	cls = Classify(models.BiasLong, 100, path, Params{NoiseFloorPct: 1.0, Multiple: 2.0})
	require.NotNil(t, cls.Label)
	assert.Equal(t, models.LabelReversal, *cls.Label)
}

func TestClassifyEmptyPath(t *testing.T) {
	cls := Classify(models.BiasLong, 100, nil, Params{NoiseFloorPct: 1.0, Multiple: 2.0})
	assert.Nil(t, cls.Label)
	assert.Equal(t, "empty forward path", cls.Reason)
}
