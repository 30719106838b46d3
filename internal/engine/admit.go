package engine

import (
	"log/slog"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// Admission is the outcome of tier-based admission control for one
// iteration: the winning direction and the tier whose thresholds become the
// binding risk budget for the trade.
type Admission struct {
	Direction domain.Direction
	Tier      domain.Tier
	Estimate  GainEstimate
}

// admissionInput carries the balance view relevant to one direction.
type admissionInput struct {
	Estimate     GainEstimate
	FundingFiat  float64 // fiat at the venue funding the buy leg
	CounterAsset float64 // asset at the venue executing the sell leg
	TotalFiat    float64
	Volume       float64
}

// admitTier walks the tier table most-restrictive-first and returns the
// first satisfied tier. Order encodes preference; there is no best-match
// search.
func admitTier(tiers domain.TierTable, in admissionInput, buySafetyFactor float64) (domain.Tier, bool) {
	if in.TotalFiat <= 0 {
		return domain.Tier{}, false
	}
	reserve := in.FundingFiat / in.TotalFiat
	for _, tier := range tiers {
		if in.Estimate.Relative < tier.MinGain {
			continue
		}
		if reserve < tier.MinReserve {
			continue
		}
		if in.FundingFiat < tier.MinBalance {
			continue
		}
		if in.FundingFiat < buySafetyFactor*in.Estimate.BuyNotional {
			continue
		}
		if in.CounterAsset < in.Volume {
			continue
		}
		return tier, true
	}
	return domain.Tier{}, false
}

// admit evaluates both directions and picks the one with the strictly
// higher expected relative gain; ties favour buying on venue A. The second
// return value is false when neither direction clears any tier, which is an
// expected no-op outcome, not an error.
func (e *Engine) admit(inputs map[domain.Direction]admissionInput) (Admission, bool) {
	admitted := make(map[domain.Direction]domain.Tier, 2)
	for _, dir := range domain.Directions {
		in := inputs[dir]
		tier, ok := admitTier(e.cfg.Tiers[dir], in, e.cfg.BuySafetyFactor)
		if !ok {
			continue
		}
		admitted[dir] = tier
		e.logger.Info("direction admitted",
			slog.String("direction", string(dir)),
			slog.Float64("relative_gain", in.Estimate.Relative),
			slog.Float64("tier_min_gain", tier.MinGain),
			slog.Float64("tier_min_reserve", tier.MinReserve),
		)
	}

	if len(admitted) == 0 {
		return Admission{}, false
	}

	dir := domain.DirectionBuyASellB
	if _, ok := admitted[dir]; !ok {
		dir = domain.DirectionBuyBSellA
	} else if _, both := admitted[domain.DirectionBuyBSellA]; both {
		if inputs[domain.DirectionBuyBSellA].Estimate.Relative > inputs[domain.DirectionBuyASellB].Estimate.Relative {
			dir = domain.DirectionBuyBSellA
		}
	}

	return Admission{
		Direction: dir,
		Tier:      admitted[dir],
		Estimate:  inputs[dir].Estimate,
	}, true
}
