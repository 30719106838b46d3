package engine

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbot/internal/domain"
)

func TestEstimateGain(t *testing.T) {
	est, err := EstimateGain(100, 5, 0.0026, 108, 5, 0.003, 1)
	require.NoError(t, err)

	// buy 100 * 1.0026 = 100.26, sell 108 * 0.997 = 107.676
	assert.InDelta(t, 100.26, est.BuyNotional, 1e-9)
	assert.InDelta(t, 7.416, est.GainFiat, 1e-9)
	assert.InDelta(t, 7.416/100.26, est.Relative, 1e-9)
}

func TestEstimateGainScalesWithVolume(t *testing.T) {
	one, err := EstimateGain(100, 5, 0.002, 105, 5, 0.002, 1)
	require.NoError(t, err)
	two, err := EstimateGain(100, 5, 0.002, 105, 5, 0.002, 2)
	require.NoError(t, err)

	assert.InDelta(t, 2*one.GainFiat, two.GainFiat, 1e-9)
	assert.InDelta(t, one.Relative, two.Relative, 1e-9, "relative gain is volume independent")
}

func TestEstimateGainReversedDirectionLoses(t *testing.T) {
	// Buying the expensive side and selling the cheap one must lose.
	est, err := EstimateGain(108, 5, 0.003, 100, 5, 0.0026, 1)
	require.NoError(t, err)
	assert.Negative(t, est.GainFiat)
	assert.Negative(t, est.Relative)
}

func TestEstimateGainFeesTurnBreakEvenIntoLoss(t *testing.T) {
	free, err := EstimateGain(100, 5, 0, 100, 5, 0, 1)
	require.NoError(t, err)
	assert.Zero(t, free.GainFiat)

	paid, err := EstimateGain(100, 5, 0.002, 100, 5, 0.002, 1)
	require.NoError(t, err)
	assert.Negative(t, paid.GainFiat)
}

func TestEstimateGainRejectsNonPositiveVolume(t *testing.T) {
	_, err := EstimateGain(100, 5, 0.002, 108, 5, 0.002, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = EstimateGain(100, 5, 0.002, 108, 5, 0.002, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestEstimateGainRejectsThinDepth(t *testing.T) {
	_, err := EstimateGain(100, 0.5, 0.002, 108, 5, 0.002, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = EstimateGain(100, 5, 0.002, 108, 0.5, 0.002, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestRoundTo(t *testing.T) {
	assert.Equal(t, 1.2346, roundTo(1.23456, 4))
	assert.Equal(t, 1.23, roundTo(1.23456, 2))
	assert.Equal(t, 1.3, roundTo(1.25, 1))
	assert.Equal(t, -1.23, roundTo(-1.234, 2))
}

func reduceEngine(cfg Config) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, nil, nil, logger)
}

func TestReduceVolumeClampsToCounterAsset(t *testing.T) {
	e := reduceEngine(Config{BuySafetyFactor: 1.05, AssetScale: 4})
	in := admissionInput{
		Estimate:     GainEstimate{BuyNotional: 100},
		FundingFiat:  10_000,
		CounterAsset: 1.5,
	}
	assert.Equal(t, 1.5, e.reduceVolume(2, in))
}

func TestReduceVolumeScalesToFundingFiat(t *testing.T) {
	e := reduceEngine(Config{BuySafetyFactor: 1.05, AssetScale: 4})
	in := admissionInput{
		Estimate:     GainEstimate{BuyNotional: 100.2},
		FundingFiat:  52.605, // exactly half the required headroom
		CounterAsset: 10,
	}
	assert.InDelta(t, 0.5, e.reduceVolume(1, in), 1e-9)
}

func TestReduceVolumeUnchangedWhenFunded(t *testing.T) {
	e := reduceEngine(Config{BuySafetyFactor: 1.05, AssetScale: 4})
	in := admissionInput{
		Estimate:     GainEstimate{BuyNotional: 100},
		FundingFiat:  1000,
		CounterAsset: 10,
	}
	assert.Equal(t, 1.0, e.reduceVolume(1, in))
}

func TestReduceVolumeNeverNegative(t *testing.T) {
	e := reduceEngine(Config{BuySafetyFactor: 1.05, AssetScale: 4})
	in := admissionInput{
		Estimate:     GainEstimate{BuyNotional: 100},
		FundingFiat:  0,
		CounterAsset: 10,
	}
	assert.Zero(t, e.reduceVolume(1, in))
}
