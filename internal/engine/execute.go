package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbot/internal/book"
	"github.com/alanyoungcy/arbot/internal/domain"
	"github.com/alanyoungcy/arbot/internal/retry"
)

// legState tracks one leg from intent through confirmation to completion.
type legState struct {
	venue    domain.Venue
	intent   domain.OrderIntent
	refPrice float64 // conservative book price the leg was admitted on
	handle   domain.OrderHandle
	fill     domain.OrderFill
	done     bool
}

// executeRoundTrip places both legs of the round trip. Venue A is always
// submitted first; its loss is recoverable (abort the iteration, retry next
// cycle) because no capital has committed until the first leg confirms.
// Once leg 1 is confirmed, a lost leg 2 is fatal: committed capital with no
// offsetting leg must not be compounded by further trading.
func (e *Engine) executeRoundTrip(
	ctx context.Context,
	st *State,
	dir domain.Direction,
	volume float64,
	pricesA, pricesB book.SidePrices,
	bookTime time.Time,
) ([]*legState, error) {
	sideA, sideB := domain.OrderSideSell, domain.OrderSideBuy
	if dir.BuyOnA() {
		sideA, sideB = domain.OrderSideBuy, domain.OrderSideSell
	}

	legA := &legState{
		venue:    e.venueA,
		refPrice: refPrice(sideA, pricesA),
		intent: domain.OrderIntent{
			Venue:      e.venueA.Name(),
			Side:       sideA,
			Volume:     volume,
			LimitPrice: e.limitPrice(sideA, pricesA),
			Token:      domain.NewCorrelationToken(e.venueA.TokenScheme()),
		},
	}
	legB := &legState{
		venue:    e.venueB,
		refPrice: refPrice(sideB, pricesB),
		intent: domain.OrderIntent{
			Venue:      e.venueB.Name(),
			Side:       sideB,
			Volume:     volume,
			LimitPrice: e.limitPrice(sideB, pricesB),
			Token:      domain.NewCorrelationToken(e.venueB.TokenScheme()),
		},
	}

	// Leg 1: deadline anchored at the order-book fetch so we never trade
	// on liquidity older than MaxStaleness.
	if err := e.submitLeg(ctx, st, legA, bookTime.Add(e.cfg.MaxStaleness)); err != nil {
		if errors.Is(err, errLegUnlocated) {
			e.logger.Warn("first leg did not go through",
				slog.String("venue", legA.intent.Venue),
			)
			return nil, errIterationAbort
		}
		return nil, err
	}

	// Leg 2: fresh staleness window starting at leg-1 confirmation.
	if err := e.submitLeg(ctx, st, legB, e.now().Add(e.cfg.MaxStaleness)); err != nil {
		if errors.Is(err, errLegUnlocated) {
			return nil, fmt.Errorf("%w: second leg unconfirmed on %s after first leg %s committed on %s",
				domain.ErrFatal, legB.intent.Venue, legA.handle.ID, legA.intent.Venue)
		}
		return nil, err
	}

	return []*legState{legA, legB}, nil
}

// refPrice is the conservative book price a leg trades against: the ask for
// a buy, the bid for a sell.
func refPrice(side domain.OrderSide, prices book.SidePrices) float64 {
	if side == domain.OrderSideBuy {
		return prices.AskPrice
	}
	return prices.BidPrice
}

// limitPrice computes the protective limit: the reference best price
// worsened by the configured factor and rounded to fiat precision. A fast
// adverse move then yields a worse fill instead of unlimited slippage.
func (e *Engine) limitPrice(side domain.OrderSide, prices book.SidePrices) float64 {
	if side == domain.OrderSideBuy {
		return roundTo(prices.AskPrice*e.cfg.LimitPriceFactor, e.cfg.FiatScale)
	}
	return roundTo(prices.BidPrice/e.cfg.LimitPriceFactor, e.cfg.FiatScale)
}

// errLegUnlocated means a leg was neither confirmed directly nor found by
// correlation token; the order never reached the venue.
var errLegUnlocated = errors.New("leg unlocated")

// submitLeg submits one leg with a single attempt bounded by deadline, then
// falls back to a token-based lookup of the venue's open and closed orders
// when the direct confirmation is lost. It returns errLegUnlocated when the
// order cannot be found anywhere.
func (e *Engine) submitLeg(ctx context.Context, st *State, leg *legState, deadline time.Time) error {
	e.logger.Info("creating limit order",
		slog.String("venue", leg.intent.Venue),
		slog.String("side", string(leg.intent.Side)),
		slog.Float64("volume", leg.intent.Volume),
		slog.Float64("limit_price", leg.intent.LimitPrice),
		slog.String("token", string(leg.intent.Token)),
	)

	// One attempt only: retrying a submit is unsafe because the first
	// attempt may have gone through.
	handle, err := retry.Do(ctx, e.policy(leg.intent.Venue, 1, deadline), func(ctx context.Context) (domain.OrderHandle, error) {
		switch leg.intent.Side {
		case domain.OrderSideBuy:
			return leg.venue.CreateLimitOrder(ctx, e.cfg.Symbol, domain.OrderSideBuy, leg.intent.Volume, leg.intent.LimitPrice, leg.intent.Token)
		default:
			return leg.venue.CreateLimitOrder(ctx, e.cfg.Symbol, domain.OrderSideSell, leg.intent.Volume, leg.intent.LimitPrice, leg.intent.Token)
		}
	})
	if err == nil {
		leg.handle = handle
		e.logger.Info("order confirmed",
			slog.String("venue", leg.intent.Venue),
			slog.String("order_id", handle.ID),
		)
		return nil
	}
	if errors.Is(err, domain.ErrContextDone) {
		return err
	}

	// The submission may still have reached the venue; a lost response is
	// indistinguishable from a rejected order. Locate by token before
	// deciding anything.
	e.logger.Warn("order submission unconfirmed, locating by token",
		slog.String("venue", leg.intent.Venue),
		slog.String("error", err.Error()),
	)
	id, found, lerr := e.locateOrder(ctx, leg.venue, leg.intent.Token, st.ServerTimeA)
	if lerr != nil {
		return lerr
	}
	if !found {
		return errLegUnlocated
	}
	leg.handle = domain.OrderHandle{Venue: leg.intent.Venue, ID: id}
	e.logger.Info("order located by token",
		slog.String("venue", leg.intent.Venue),
		slog.String("order_id", id),
	)
	return nil
}

// locateOrder polls the venue's open orders, then closed orders since the
// given server time, filtering by correlation token, until found or the
// locate window elapses.
func (e *Engine) locateOrder(ctx context.Context, venue domain.Venue, token domain.CorrelationToken, since time.Time) (string, bool, error) {
	start := e.now()
	for {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		e.logger.Info("trying to find order",
			slog.String("venue", venue.Name()),
			slog.String("token", string(token)),
		)
		windowClosed := e.now().Sub(start) > e.cfg.LocateTimeout

		open, err := retry.Do(ctx, e.policy(venue.Name(), 3, time.Time{}), venue.ListOpenOrders)
		if err != nil {
			e.logger.Warn("open order listing failed", slog.String("error", err.Error()))
		}
		if id, ok := matchToken(open, token, e.logger); ok {
			return id, true, nil
		}

		closed, err := retry.Do(ctx, e.policy(venue.Name(), 3, time.Time{}), func(ctx context.Context) ([]domain.OrderRecord, error) {
			return venue.ListClosedOrders(ctx, since)
		})
		if err != nil {
			e.logger.Warn("closed order listing failed", slog.String("error", err.Error()))
		}
		if id, ok := matchToken(closed, token, e.logger); ok {
			return id, true, nil
		}

		if windowClosed {
			return "", false, nil
		}
		if err := e.sleep(ctx, e.cfg.OrderPollInterval); err != nil {
			return "", false, err
		}
	}
}

// matchToken returns the first order carrying the token. Multiple matches
// should be impossible for a fresh token; they are logged and the first one
// is used.
func matchToken(orders []domain.OrderRecord, token domain.CorrelationToken, logger *slog.Logger) (string, bool) {
	var ids []string
	for _, o := range orders {
		if o.Token == token {
			ids = append(ids, o.ID)
		}
	}
	if len(ids) == 0 {
		return "", false
	}
	if len(ids) > 1 {
		logger.Warn("multiple orders matched correlation token",
			slog.String("token", string(token)),
			slog.Int("matches", len(ids)),
		)
	}
	return ids[0], true
}
