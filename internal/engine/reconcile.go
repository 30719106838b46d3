package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// reconcile refreshes both venues' balances after both legs closed,
// computes the realized outcome from balance deltas, and enforces the risk
// guardrails: asset bookkeeping consistency (fatal), asymmetric tolerance
// on realized vs admitted gain (warnings), and the cumulative-loss floor
// (fatal).
func (e *Engine) reconcile(
	ctx context.Context,
	st *State,
	adm Admission,
	volume float64,
	legs []*legState,
	startedAt time.Time,
) (domain.RoundTrip, error) {
	before := st.Balances
	after, err := e.fetchBalances(ctx)
	if err != nil {
		// Without trusted balances the realized outcome and the loss
		// floor cannot be checked; continuing would trade blind.
		return domain.RoundTrip{}, fmt.Errorf("%w: balance refresh after round trip failed: %v", domain.ErrFatal, err)
	}
	st.Balances = after
	st.RefreshCountdown = e.cfg.BalanceRefreshEvery
	st.RoundTrips++

	gainFiat := after.TotalFiat() - before.TotalFiat()
	gainAsset := after.TotalAsset() - before.TotalAsset()

	var investedFiat float64
	if adm.Direction.BuyOnA() {
		investedFiat = before.A.Fiat - after.A.Fiat
	} else {
		investedFiat = before.B.Fiat - after.B.Fiat
	}
	var relativeGain float64
	if investedFiat > 0 {
		relativeGain = gainFiat / investedFiat
	} else {
		e.logger.Warn("non-positive invested fiat, relative gain undefined",
			slog.Float64("invested_fiat", investedFiat),
		)
	}

	e.logger.Info("realized outcome",
		slog.String("direction", string(adm.Direction)),
		slog.Float64("gain_fiat", gainFiat),
		slog.Float64("gain_asset", gainAsset),
		slog.Float64("invested_fiat", investedFiat),
		slog.Float64("relative_gain", relativeGain),
		slog.Float64("expected_relative_gain", adm.Estimate.Relative),
	)

	// Check 1: asset bookkeeping. A drifting asset total means a missed
	// fill or external interference; nothing downstream can be trusted.
	if math.Abs(gainAsset) > e.cfg.MaxBalanceDeviation {
		return domain.RoundTrip{}, fmt.Errorf("%w: asset balance deviation %.6f exceeds %.6f",
			domain.ErrFatal, gainAsset, e.cfg.MaxBalanceDeviation)
	}

	// Check 2: realized vs admitted gain, asymmetric tolerance. A losing
	// trade is held to a wider band than a merely underperforming one.
	e.checkTolerance(ctx, adm, relativeGain)

	// Check 3: cumulative loss floor against the process-start baseline.
	st.RealizedGain = after.TotalFiat() - st.BaselineFiat
	e.logger.Info("cumulative realized gain",
		slog.Float64("gain_fiat", st.RealizedGain),
	)
	if st.RealizedGain < -e.cfg.MaxOverallLoss {
		return domain.RoundTrip{}, fmt.Errorf("%w: cumulative loss %.2f breaches floor %.2f",
			domain.ErrFatal, -st.RealizedGain, e.cfg.MaxOverallLoss)
	}

	rt := domain.RoundTrip{
		ID:           uuid.New().String(),
		Direction:    adm.Direction,
		TierMinGain:  adm.Tier.MinGain,
		Volume:       volume,
		ExpectedGain: adm.Estimate.Relative,
		GainFiat:     gainFiat,
		GainAsset:    gainAsset,
		RelativeGain: relativeGain,
		InvestedFiat: investedFiat,
		StartedAt:    startedAt,
		CompletedAt:  e.now(),
	}
	for _, leg := range legs {
		rt.Legs = append(rt.Legs, domain.RoundTripLeg{
			Venue:         leg.intent.Venue,
			OrderID:       leg.handle.ID,
			Side:          leg.intent.Side,
			ExpectedPrice: leg.refPrice,
			LimitPrice:    leg.intent.LimitPrice,
			FilledPrice:   leg.fill.AvgPrice(),
			Volume:        leg.fill.Filled,
			FeeFiat:       leg.fill.FeeFiat,
		})
	}
	return rt, nil
}

// checkTolerance compares the realized relative gain against the admitted
// tier's minimum. Both bands warn without aborting: a single disappointing
// trade is the cumulative-loss floor's problem, not an instant halt.
func (e *Engine) checkTolerance(ctx context.Context, adm Admission, relativeGain float64) {
	minGain := adm.Tier.MinGain
	tol := e.cfg.GainTolerance

	severe := (relativeGain < 0 && relativeGain < minGain/tol) ||
		(relativeGain >= 0 && relativeGain < minGain*tol)

	switch {
	case severe:
		e.logger.Error("realized gain far below admitted tier minimum",
			slog.Float64("relative_gain", relativeGain),
			slog.Float64("tier_min_gain", minGain),
			slog.Float64("tolerance", tol),
		)
		e.notify(ctx, "warning", "Realized gain far below minimum",
			fmt.Sprintf("realized %.4f%% vs tier minimum %.4f%%", 100*relativeGain, 100*minGain))
	case relativeGain < minGain:
		e.logger.Warn("realized gain below admitted tier minimum",
			slog.Float64("relative_gain", relativeGain),
			slog.Float64("tier_min_gain", minGain),
		)
	}
	if relativeGain < adm.Estimate.Relative {
		e.logger.Warn("realized gain below expected gain",
			slog.Float64("relative_gain", relativeGain),
			slog.Float64("expected_relative_gain", adm.Estimate.Relative),
		)
	}
}
