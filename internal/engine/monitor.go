package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbot/internal/domain"
	"github.com/alanyoungcy/arbot/internal/retry"
)

// monitorLegs polls both legs sequentially at a fixed interval until each
// reaches the Closed state. A Canceled or Expired leg is fatal: the round
// trip is half-executed and must be reconciled by hand.
func (e *Engine) monitorLegs(ctx context.Context, legs []*legState) error {
	e.logger.Info("waiting for orders to finish")
	for {
		allDone := true
		for _, leg := range legs {
			if leg.done {
				continue
			}
			if err := e.checkLeg(ctx, leg); err != nil {
				return err
			}
			if !leg.done {
				allDone = false
			}
		}
		if allDone {
			e.logger.Info("orders finished")
			return nil
		}
		if err := e.sleep(ctx, e.cfg.OrderPollInterval); err != nil {
			return err
		}
	}
}

// checkLeg fetches one leg's fill state and applies the status taxonomy.
func (e *Engine) checkLeg(ctx context.Context, leg *legState) error {
	fill, err := retry.Do(ctx, e.policy(leg.intent.Venue, 0, time.Time{}), func(ctx context.Context) (domain.OrderFill, error) {
		return leg.venue.FetchOrder(ctx, leg.handle.ID)
	})
	if err != nil {
		if errors.Is(err, domain.ErrContextDone) {
			return err
		}
		// Post-commitment: losing sight of a live order is not recoverable.
		return fmt.Errorf("%w: order status fetch failed on %s for %s: %v",
			domain.ErrFatal, leg.intent.Venue, leg.handle.ID, err)
	}

	switch fill.Status {
	case domain.OrderStatusClosed:
		leg.fill = fill
		leg.done = true
		e.logger.Info("order closed",
			slog.String("venue", leg.intent.Venue),
			slog.String("order_id", leg.handle.ID),
			slog.String("side", string(leg.intent.Side)),
			slog.Float64("final_price", fill.AvgPrice()),
			slog.Float64("filled", fill.Filled),
			slog.Float64("fee", fill.FeeFiat),
			slog.String("fee_currency", fill.FeeCurrency),
		)
		return nil
	case domain.OrderStatusCanceled, domain.OrderStatusExpired:
		return fmt.Errorf("%w: order %s on %s is %s",
			domain.ErrFatal, leg.handle.ID, leg.intent.Venue, fill.Status)
	default:
		return nil
	}
}
