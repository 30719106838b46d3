package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbot/internal/domain"
)

func levels(pv ...float64) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(pv)/2)
	for i := 0; i+1 < len(pv); i += 2 {
		out = append(out, domain.PriceLevel{Price: pv[i], Volume: pv[i+1]})
	}
	return out
}

func TestAccumulate(t *testing.T) {
	acc := Accumulate(levels(100, 1, 101, 2, 102, 0.5))
	require.Len(t, acc, 3)
	assert.Equal(t, AccLevel{Price: 100, CumVolume: 1}, acc[0])
	assert.Equal(t, AccLevel{Price: 101, CumVolume: 3}, acc[1])
	assert.Equal(t, AccLevel{Price: 102, CumVolume: 3.5}, acc[2])
}

func TestAccumulateEmpty(t *testing.T) {
	assert.Empty(t, Accumulate(nil))
}

func TestConservativePicksFirstSufficientLevel(t *testing.T) {
	acc := Accumulate(levels(100, 1, 101, 2, 102, 4))
	price, vol, ok := Conservative(acc, 2.5)
	require.True(t, ok)
	assert.Equal(t, 101.0, price)
	assert.Equal(t, 3.0, vol)
}

func TestConservativeInsufficientDepth(t *testing.T) {
	acc := Accumulate(levels(100, 1, 101, 2))
	price, vol, ok := Conservative(acc, 10)
	assert.False(t, ok)
	assert.Zero(t, price)
	assert.Equal(t, 3.0, vol, "returns the total accumulated depth")
}

func TestConservativeEmptyBook(t *testing.T) {
	_, vol, ok := Conservative(nil, 1)
	assert.False(t, ok)
	assert.Zero(t, vol)
}

// Increasing minVolume must never decrease the returned cumulative volume
// and never return a better price.
func TestConservativeMonotonic(t *testing.T) {
	acc := Accumulate(levels(100, 0.5, 100.5, 1, 101, 2, 103, 5, 110, 20))

	prevPrice := 0.0
	prevVol := 0.0
	for _, minVol := range []float64{0.1, 0.5, 1, 2, 3.4, 5, 8, 28.5} {
		price, vol, ok := Conservative(acc, minVol)
		require.True(t, ok, "minVol=%v", minVol)
		assert.GreaterOrEqual(t, vol, prevVol, "minVol=%v", minVol)
		assert.GreaterOrEqual(t, price, prevPrice, "ask price may only worsen, minVol=%v", minVol)
		prevPrice, prevVol = price, vol
	}

	// Past total depth the lookup fails but still reports full depth.
	_, vol, ok := Conservative(acc, 100)
	assert.False(t, ok)
	assert.Equal(t, 28.5, vol)
}

func TestConservativePrices(t *testing.T) {
	snap := domain.OrderBookSnapshot{
		Asks: levels(100, 2, 101, 3),
		Bids: levels(99, 1, 98, 4),
	}
	sp := ConservativePrices(snap, 2)
	require.True(t, sp.AskOK)
	require.True(t, sp.BidOK)
	assert.Equal(t, 100.0, sp.AskPrice)
	assert.Equal(t, 98.0, sp.BidPrice)
	assert.Equal(t, 5.0, sp.BidVolume)
}

func TestConservativePricesThinBidSide(t *testing.T) {
	snap := domain.OrderBookSnapshot{
		Asks: levels(100, 5),
		Bids: levels(99, 0.5),
	}
	sp := ConservativePrices(snap, 2)
	assert.True(t, sp.AskOK)
	assert.False(t, sp.BidOK)
	assert.Equal(t, 0.5, sp.BidVolume)
}
