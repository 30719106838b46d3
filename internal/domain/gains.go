package domain

import "time"

// DirectionGains holds one direction's expected outcome for one iteration.
type DirectionGains struct {
	GainFiat     float64 `json:"gain_fiat"`
	RelativeGain float64 `json:"relative_gain"`
}

// GainRecord is the append-only per-iteration record written for offline
// analysis. It is never read back by the engine.
type GainRecord struct {
	Time        time.Time                    `json:"time"`
	Gains       map[Direction]DirectionGains `json:"gains"`
	AskPriceA   float64                      `json:"ask_price_a"`
	AskVolumeA  float64                      `json:"ask_volume_a"`
	BidPriceA   float64                      `json:"bid_price_a"`
	BidVolumeA  float64                      `json:"bid_volume_a"`
	AskPriceB   float64                      `json:"ask_price_b"`
	AskVolumeB  float64                      `json:"ask_volume_b"`
	BidPriceB   float64                      `json:"bid_price_b"`
	BidVolumeB  float64                      `json:"bid_volume_b"`
	TradeVolume float64                      `json:"trade_volume"`
}
