package domain

// Tier is one admission gate: a trade qualifies for the tier when its
// expected relative gain, the funding venue's reserve fraction, and the
// funding venue's fiat balance all clear the tier's minimums.
type Tier struct {
	// MinGain is the minimum expected relative gain (e.g. 0.02 for 2%).
	MinGain float64 `toml:"min_gain"`
	// MinReserve is the minimum fraction of total cross-venue fiat that
	// must sit at the funding venue.
	MinReserve float64 `toml:"min_reserve"`
	// MinBalance is the minimum absolute fiat balance at the funding
	// venue. Zero disables the check.
	MinBalance float64 `toml:"min_balance"`
}

// TierTable is an ordered tier list, most restrictive (highest gain
// requirement) first. The first satisfied tier wins; its thresholds become
// the binding risk budget for the trade.
type TierTable []Tier
