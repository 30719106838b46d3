package domain

import "time"

// RoundTripLeg records the outcome of one leg of a completed round trip.
type RoundTripLeg struct {
	Venue         string
	OrderID       string
	Side          OrderSide
	ExpectedPrice float64
	LimitPrice    float64
	FilledPrice   float64
	Volume        float64
	FeeFiat       float64
}

// RoundTrip is the persisted record of one completed dual-leg arbitration
// trade, reconciled against refreshed balances.
type RoundTrip struct {
	ID           string
	Direction    Direction
	TierMinGain  float64 // minimum gain of the admitted tier
	Volume       float64
	ExpectedGain float64 // expected relative gain at admission
	GainFiat     float64 // realized fiat gain from balance deltas
	GainAsset    float64 // realized asset delta (should be ~0)
	RelativeGain float64 // GainFiat / invested fiat
	InvestedFiat float64
	Legs         []RoundTripLeg
	StartedAt    time.Time
	CompletedAt  time.Time
}
