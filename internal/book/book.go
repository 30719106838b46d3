// Package book converts raw depth snapshots into conservative, volume-backed
// prices: the worst price an order of a given minimum volume would actually
// achieve against current depth.
package book

import "github.com/alanyoungcy/arbot/internal/domain"

// AccLevel is a price level with the running volume total at or better
// than its price.
type AccLevel struct {
	Price     float64
	CumVolume float64
}

// Accumulate walks levels in their given order (asks ascending, bids
// descending) and returns each price with the cumulative volume available
// at or better than it.
func Accumulate(levels []domain.PriceLevel) []AccLevel {
	acc := make([]AccLevel, 0, len(levels))
	var total float64
	for _, l := range levels {
		total += l.Volume
		acc = append(acc, AccLevel{Price: l.Price, CumVolume: total})
	}
	return acc
}

// Conservative returns the first level whose cumulative volume reaches
// minVolume. When no level does, ok is false and volume carries the total
// accumulated depth, signalling insufficient liquidity.
func Conservative(acc []AccLevel, minVolume float64) (price, volume float64, ok bool) {
	for _, l := range acc {
		if l.CumVolume >= minVolume {
			return l.Price, l.CumVolume, true
		}
	}
	if n := len(acc); n > 0 {
		volume = acc[n-1].CumVolume
	}
	return 0, volume, false
}

// SidePrices computes the conservative ask and bid for one snapshot.
// Either side may come back not-ok when the book is too thin.
type SidePrices struct {
	AskPrice  float64
	AskVolume float64
	AskOK     bool
	BidPrice  float64
	BidVolume float64
	BidOK     bool
}

// ConservativePrices computes both sides of a snapshot for minVolume.
func ConservativePrices(snap domain.OrderBookSnapshot, minVolume float64) SidePrices {
	var sp SidePrices
	sp.AskPrice, sp.AskVolume, sp.AskOK = Conservative(Accumulate(snap.Asks), minVolume)
	sp.BidPrice, sp.BidVolume, sp.BidOK = Conservative(Accumulate(snap.Bids), minVolume)
	return sp
}
