package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBollingerTooShortWindow(t *testing.T) {
	bb := NewBollingerBands(20, 2.0)

	candles := candlesFromCloses([]float64{100, 101, 102})
	assert.Nil(t, bb.Calculate(candles))

	upper, middle, lower := bb.Latest(candles)
	assert.Zero(t, upper)
	assert.Zero(t, middle)
	assert.Zero(t, lower)
}

func TestBollingerConstantSeriesCollapses(t *testing.T) {
	bb := NewBollingerBands(20, 2.0)

	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 100
	}

	upper, middle, lower := bb.Latest(candlesFromCloses(closes))
	assert.InDelta(t, 100.0, upper, 1e-9)
	assert.InDelta(t, 100.0, middle, 1e-9)
	assert.InDelta(t, 100.0, lower, 1e-9)
}

func TestBollingerKnownWindow(t *testing.T) {
	bb := NewBollingerBands(2, 2.0)

	// Window {1, 3}: mean 2, population stddev 1
	upper, middle, lower := bb.Latest(candlesFromCloses([]float64{1, 3}))
	assert.InDelta(t, 4.0, upper, 1e-9)
	assert.InDelta(t, 2.0, middle, 1e-9)
	assert.InDelta(t, 0.0, lower, 1e-9)
}

func TestBollingerBandOrdering(t *testing.T) {
	bb := NewBollingerBands(20, 2.0)

	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i%5)*3
	}

	result := bb.Calculate(candlesFromCloses(closes))
	require.NotNil(t, result)
	require.Equal(t, len(result.Upper), len(result.Middle))
	require.Equal(t, len(result.Lower), len(result.Middle))

	for i := range result.Middle {
		assert.Greater(t, result.Upper[i], result.Middle[i])
		assert.Less(t, result.Lower[i], result.Middle[i])
	}
}
