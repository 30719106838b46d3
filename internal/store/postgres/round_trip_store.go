package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// RoundTripStore implements domain.RoundTripStore using PostgreSQL.
type RoundTripStore struct {
	pool *pgxpool.Pool
}

// NewRoundTripStore creates a new RoundTripStore.
func NewRoundTripStore(pool *pgxpool.Pool) *RoundTripStore {
	return &RoundTripStore{pool: pool}
}

// Create inserts a round trip and its legs.
func (s *RoundTripStore) Create(ctx context.Context, rt domain.RoundTrip) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO round_trips (id, direction, tier_min_gain, volume, expected_gain, gain_fiat, gain_asset, relative_gain, invested_fiat, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rt.ID, string(rt.Direction), rt.TierMinGain, rt.Volume,
		rt.ExpectedGain, rt.GainFiat, rt.GainAsset, rt.RelativeGain,
		rt.InvestedFiat, rt.StartedAt, rt.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert round_trip: %w", err)
	}

	for _, leg := range rt.Legs {
		_, err = tx.Exec(ctx, `
			INSERT INTO round_trip_legs (round_trip_id, venue, order_id, side, expected_price, limit_price, filled_price, volume, fee_fiat)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			rt.ID, leg.Venue, leg.OrderID, string(leg.Side),
			leg.ExpectedPrice, leg.LimitPrice, leg.FilledPrice, leg.Volume, leg.FeeFiat,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert round_trip_leg: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// ListRecent returns the most recent round trips with their legs.
func (s *RoundTripStore) ListRecent(ctx context.Context, limit int) ([]domain.RoundTrip, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, direction, tier_min_gain, volume, expected_gain, gain_fiat, gain_asset, relative_gain, invested_fiat, started_at, completed_at
		FROM round_trips ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list round_trips: %w", err)
	}
	defer rows.Close()

	var list []domain.RoundTrip
	for rows.Next() {
		var rt domain.RoundTrip
		var direction string
		if err := rows.Scan(&rt.ID, &direction, &rt.TierMinGain, &rt.Volume,
			&rt.ExpectedGain, &rt.GainFiat, &rt.GainAsset, &rt.RelativeGain,
			&rt.InvestedFiat, &rt.StartedAt, &rt.CompletedAt); err != nil {
			return nil, err
		}
		rt.Direction = domain.Direction(direction)
		list = append(list, rt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range list {
		legs, err := s.legs(ctx, list[i].ID)
		if err != nil {
			return nil, err
		}
		list[i].Legs = legs
	}
	return list, nil
}

func (s *RoundTripStore) legs(ctx context.Context, roundTripID string) ([]domain.RoundTripLeg, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT venue, order_id, side, expected_price, limit_price, filled_price, volume, fee_fiat
		FROM round_trip_legs WHERE round_trip_id = $1 ORDER BY id`,
		roundTripID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list round_trip_legs: %w", err)
	}
	defer rows.Close()

	var legs []domain.RoundTripLeg
	for rows.Next() {
		var leg domain.RoundTripLeg
		var side string
		if err := rows.Scan(&leg.Venue, &leg.OrderID, &side, &leg.ExpectedPrice,
			&leg.LimitPrice, &leg.FilledPrice, &leg.Volume, &leg.FeeFiat); err != nil {
			return nil, err
		}
		leg.Side = domain.OrderSide(side)
		legs = append(legs, leg)
	}
	return legs, rows.Err()
}

// SumGain returns the sum of realized fiat gain for round trips started at or
// after the given time.
func (s *RoundTripStore) SumGain(ctx context.Context, since time.Time) (float64, error) {
	var sum float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(gain_fiat), 0) FROM round_trips WHERE started_at >= $1`,
		since,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum round_trips gain: %w", err)
	}
	return sum, nil
}
