package domain

import "time"

// PriceLevel is a single price+volume entry in an order book.
type PriceLevel struct {
	Price  float64
	Volume float64
}

// OrderBookSnapshot is a normalized L2 depth snapshot for one venue.
// Asks are sorted ascending by price, bids descending. Snapshots are
// fetched fresh each iteration and never mutated.
type OrderBookSnapshot struct {
	Venue     string
	Asks      []PriceLevel
	Bids      []PriceLevel
	FetchedAt time.Time
}

// BestAsk returns the lowest ask price, or 0 if the ask side is empty.
func (s OrderBookSnapshot) BestAsk() float64 {
	if len(s.Asks) == 0 {
		return 0
	}
	return s.Asks[0].Price
}

// BestBid returns the highest bid price, or 0 if the bid side is empty.
func (s OrderBookSnapshot) BestBid() float64 {
	if len(s.Bids) == 0 {
		return 0
	}
	return s.Bids[0].Price
}
