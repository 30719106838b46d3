package engine

import (
	"log/slog"
	"math"
)

// roundTo rounds x to the given number of decimal digits.
func roundTo(x float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.Round(x*p) / p
}

// reduceVolume shrinks the trade volume so it never exceeds the counterpart
// venue's free asset balance, nor the funding venue's fiat capacity with the
// safety headroom applied. It never increases volume and never rejects: a
// near-zero reduced volume flows into execution.
func (e *Engine) reduceVolume(volume float64, in admissionInput) float64 {
	if volume > in.CounterAsset {
		e.logger.Info("insufficient counterpart asset balance, reducing volume",
			slog.Float64("volume", volume),
			slog.Float64("counter_asset", in.CounterAsset),
		)
		volume = in.CounterAsset
	}

	required := in.Estimate.BuyNotional * e.cfg.BuySafetyFactor
	if required > in.FundingFiat {
		factor := in.FundingFiat / required
		reduced := roundTo(factor*volume, e.cfg.AssetScale)
		e.logger.Info("insufficient funding fiat balance, reducing volume",
			slog.Float64("volume", volume),
			slog.Float64("funding_fiat", in.FundingFiat),
			slog.Float64("required_fiat", required),
			slog.Float64("reduced_volume", reduced),
		)
		volume = reduced
	}
	return volume
}
