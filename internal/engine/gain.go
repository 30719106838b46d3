package engine

import (
	"fmt"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// GainEstimate is the expected outcome of a candidate trade in one
// direction: buy volume at askPrice on one venue, sell it at bidPrice on
// the other, fees included on both legs.
type GainEstimate struct {
	// GainFiat is the expected absolute fiat gain.
	GainFiat float64
	// Relative is GainFiat divided by the buy notional.
	Relative float64
	// BuyNotional is the fiat required to fund the buy leg, fees included.
	BuyNotional float64
}

// EstimateGain computes the expected gain for trading volume against the
// given conservative prices. askVolume and bidVolume must each cover the
// requested volume; the caller is expected to have rejected or shrunk the
// trade otherwise.
func EstimateGain(askPrice, askVolume, buyFee, bidPrice, bidVolume, sellFee, volume float64) (GainEstimate, error) {
	if volume <= 0 {
		return GainEstimate{}, fmt.Errorf("estimate gain: volume %v: %w", volume, domain.ErrInvalidOrder)
	}
	if askVolume < volume || bidVolume < volume {
		return GainEstimate{}, fmt.Errorf("estimate gain: depth %v/%v below volume %v: %w",
			askVolume, bidVolume, volume, domain.ErrInvalidOrder)
	}

	buyNotional := askPrice * (1 + buyFee) * volume
	sellNotional := bidPrice * (1 - sellFee) * volume
	gain := sellNotional - buyNotional

	return GainEstimate{
		GainFiat:    gain,
		Relative:    gain / buyNotional,
		BuyNotional: buyNotional,
	}, nil
}
