package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbot/internal/domain"
	"github.com/alanyoungcy/arbot/internal/platform/paper"
)

type captureRecorder struct {
	gains []domain.GainRecord
	trips []domain.RoundTrip
}

func (r *captureRecorder) RecordGains(rec domain.GainRecord) error {
	r.gains = append(r.gains, rec)
	return nil
}

func (r *captureRecorder) RecordRoundTrip(rt domain.RoundTrip) error {
	r.trips = append(r.trips, rt)
	return nil
}

type captureNotifier struct {
	events []string
}

func (n *captureNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.events = append(n.events, event)
	return nil
}

type captureObserver struct {
	outcomes []string
	trips    []domain.RoundTrip
	realized []float64
}

func (o *captureObserver) ObserveIteration(outcome string) {
	o.outcomes = append(o.outcomes, outcome)
}

func (o *captureObserver) ObserveRoundTrip(rt domain.RoundTrip) {
	o.trips = append(o.trips, rt)
}

func (o *captureObserver) ObserveRealizedGain(total float64) {
	o.realized = append(o.realized, total)
}

type captureStore struct {
	trips []domain.RoundTrip
}

func (s *captureStore) Create(_ context.Context, rt domain.RoundTrip) error {
	s.trips = append(s.trips, rt)
	return nil
}

func (s *captureStore) ListRecent(context.Context, int) ([]domain.RoundTrip, error) {
	return s.trips, nil
}

func (s *captureStore) SumGain(context.Context, time.Time) (float64, error) {
	return 0, nil
}

// hookVenue wraps a venue with scripted balance and depth failures, plus an
// asset drift applied from the second balance fetch on, simulating external
// interference between the pre-trade snapshot and reconciliation.
type hookVenue struct {
	domain.Venue

	balanceErr   error
	bookErr      error
	assetDrift   float64
	balanceCalls int
}

func (h *hookVenue) FetchBalance(ctx context.Context) (domain.Balance, error) {
	if h.balanceErr != nil {
		return domain.Balance{}, h.balanceErr
	}
	h.balanceCalls++
	b, err := h.Venue.FetchBalance(ctx)
	if err == nil && h.balanceCalls > 1 {
		b.Asset += h.assetDrift
	}
	return b, err
}

func (h *hookVenue) FetchOrderBook(ctx context.Context, symbol string) (domain.OrderBookSnapshot, error) {
	if h.bookErr != nil {
		return domain.OrderBookSnapshot{}, h.bookErr
	}
	return h.Venue.FetchOrderBook(ctx, symbol)
}

func snapshot(askPrice, askVolume, bidPrice, bidVolume float64) domain.OrderBookSnapshot {
	return domain.OrderBookSnapshot{
		Asks: []domain.PriceLevel{{Price: askPrice, Volume: askVolume}},
		Bids: []domain.PriceLevel{{Price: bidPrice, Volume: bidVolume}},
	}
}

type fixture struct {
	venueA, venueB *paper.Venue
	recorder       *captureRecorder
	notifier       *captureNotifier
	observer       *captureObserver
	store          *captureStore
}

// newFixture seeds two paper venues with a wide spread: buying on A at 100
// and selling on B at 108 clears every default tier.
func newFixture() *fixture {
	f := &fixture{
		venueA:   paper.NewVenue("alpha", domain.TokenSchemeNumeric),
		venueB:   paper.NewVenue("beta", domain.TokenSchemeUUID),
		recorder: &captureRecorder{},
		notifier: &captureNotifier{},
		observer: &captureObserver{},
		store:    &captureStore{},
	}
	f.venueA.SetBalance(domain.Balance{Fiat: 1000, Asset: 2})
	f.venueB.SetBalance(domain.Balance{Fiat: 1000, Asset: 2})
	f.venueA.SetBook(snapshot(100, 5, 99, 5))
	f.venueB.SetBook(snapshot(110, 5, 108, 5))
	return f
}

func testConfig() Config {
	return Config{
		Symbol:          "ETH/EUR",
		Asset:           "ETH",
		Fiat:            "EUR",
		FeeA:            0.002,
		FeeB:            0.002,
		MaxVolume:       1,
		MinVolumeFactor: 1,
		FiatScale:       2,
		AssetScale:      4,
		Tiers: map[domain.Direction]domain.TierTable{
			domain.DirectionBuyASellB: {{MinGain: 0.02, MinReserve: 0.5}, {MinGain: 0.01}},
			domain.DirectionBuyBSellA: {{MinGain: 0.02, MinReserve: 0.5}, {MinGain: 0.01}},
		},
		// Near-neutral limit so paper fills land close to the observed
		// book and the round trip realizes the estimated gain.
		LimitPriceFactor:      1.0001,
		BuySafetyFactor:       1.05,
		MaxStaleness:          time.Minute,
		GainTolerance:         0.8,
		MaxBalanceDeviation:   0.001,
		MaxOverallLoss:        100,
		RevalidateAfterReduce: true,
		MaxIterations:         1,
		MaxRoundTrips:         1,
	}
}

func newTestEngine(f *fixture, cfg Config, venueA, venueB domain.Venue) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := New(cfg, venueA, venueB, logger,
		WithRecorder(f.recorder),
		WithNotifier(f.notifier),
		WithObserver(f.observer),
		WithStore(f.store),
	)
	e.sleep = func(context.Context, time.Duration) error { return nil }
	return e
}

func TestRunCompletesRoundTrip(t *testing.T) {
	f := newFixture()
	cfg := testConfig()
	cfg.MaxIterations = 5 // the round-trip limit must stop the run first
	e := newTestEngine(f, cfg, f.venueA, f.venueB)

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, []string{outcomeRoundTrip}, f.observer.outcomes)
	require.Len(t, f.recorder.trips, 1)
	require.Len(t, f.store.trips, 1)
	require.Len(t, f.recorder.gains, 1)

	rt := f.recorder.trips[0]
	assert.Equal(t, domain.DirectionBuyASellB, rt.Direction)
	assert.Equal(t, 1.0, rt.Volume)
	assert.Equal(t, 0.02, rt.TierMinGain)
	// Fills settle at the near-neutral limits: buy 100.01, sell 107.99.
	assert.InDelta(t, 7.98, rt.GainFiat, 1e-6)
	assert.InDelta(t, 0, rt.GainAsset, 1e-9)
	assert.InDelta(t, 100.01, rt.InvestedFiat, 1e-6)
	assert.InDelta(t, 7.98/100.01, rt.RelativeGain, 1e-6)

	require.Len(t, rt.Legs, 2)
	assert.Equal(t, "alpha", rt.Legs[0].Venue)
	assert.Equal(t, domain.OrderSideBuy, rt.Legs[0].Side)
	assert.Equal(t, 100.0, rt.Legs[0].ExpectedPrice)
	assert.Equal(t, 100.01, rt.Legs[0].LimitPrice)
	assert.Equal(t, "beta", rt.Legs[1].Venue)
	assert.Equal(t, domain.OrderSideSell, rt.Legs[1].Side)
	assert.Equal(t, 108.0, rt.Legs[1].ExpectedPrice)
	assert.Equal(t, 107.99, rt.Legs[1].LimitPrice)
	assert.NotEmpty(t, rt.Legs[0].OrderID)
	assert.NotEmpty(t, rt.Legs[1].OrderID)

	assert.Contains(t, f.notifier.events, "round_trip")
	require.Len(t, f.observer.realized, 1)
	assert.InDelta(t, 7.98, f.observer.realized[0], 1e-6)

	balA, err := f.venueA.FetchBalance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 899.99, balA.Fiat, 1e-6)
	assert.Equal(t, 3.0, balA.Asset)
	balB, err := f.venueB.FetchBalance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1107.99, balB.Fiat, 1e-6)
	assert.Equal(t, 1.0, balB.Asset)
}

func TestRunSimulateDoesNotTrade(t *testing.T) {
	f := newFixture()
	cfg := testConfig()
	cfg.Simulate = true
	e := newTestEngine(f, cfg, f.venueA, f.venueB)

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, []string{outcomeSimulated}, f.observer.outcomes)
	assert.Empty(t, f.recorder.trips)
	assert.Len(t, f.recorder.gains, 1, "gains are still recorded in simulate mode")

	open, err := f.venueA.ListOpenOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
	balA, err := f.venueA.FetchBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Balance{Fiat: 1000, Asset: 2}, balA)
}

func TestRunThinBookSkips(t *testing.T) {
	f := newFixture()
	f.venueA.SetBook(snapshot(100, 0.2, 99, 5)) // ask depth below the trade volume
	e := newTestEngine(f, testConfig(), f.venueA, f.venueB)

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, []string{outcomeThinBook}, f.observer.outcomes)
	assert.Empty(t, f.recorder.trips)
}

func TestRunNoTierSkips(t *testing.T) {
	f := newFixture()
	// Spread too narrow for any tier once fees are paid.
	f.venueB.SetBook(snapshot(100.7, 5, 100.65, 5))
	e := newTestEngine(f, testConfig(), f.venueA, f.venueB)

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, []string{outcomeNoTier}, f.observer.outcomes)
	assert.Len(t, f.recorder.gains, 1)
	assert.Empty(t, f.recorder.trips)
}

func TestRunCrossedSnapshotSkips(t *testing.T) {
	f := newFixture()
	f.venueA.SetBook(snapshot(98, 5, 100, 5)) // ask below bid
	e := newTestEngine(f, testConfig(), f.venueA, f.venueB)

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, []string{outcomeCrossedSnapshot}, f.observer.outcomes)
	assert.Empty(t, f.recorder.trips)
}

func TestRunBalanceFetchFailureAborts(t *testing.T) {
	f := newFixture()
	flaky := &hookVenue{
		Venue:      f.venueA,
		balanceErr: fmt.Errorf("boom: %w", domain.ErrVenueUnavailable),
	}
	e := newTestEngine(f, testConfig(), flaky, f.venueB)

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, []string{outcomeVenueError}, f.observer.outcomes)
	assert.Empty(t, f.recorder.gains)
}

func TestRunBookFetchFailureAborts(t *testing.T) {
	f := newFixture()
	flaky := &hookVenue{
		Venue:   f.venueB,
		bookErr: fmt.Errorf("boom: %w", domain.ErrVenueUnavailable),
	}
	e := newTestEngine(f, testConfig(), f.venueA, flaky)

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, []string{outcomeVenueError}, f.observer.outcomes)
	assert.Empty(t, f.recorder.trips)
}

func TestRunFirstLegRejectedRetries(t *testing.T) {
	f := newFixture()
	f.venueA.FailNextSubmit(false)
	e := newTestEngine(f, testConfig(), f.venueA, f.venueB)

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, []string{outcomeLegUnconfirmed}, f.observer.outcomes)
	assert.Empty(t, f.recorder.trips)
	assert.NotContains(t, f.notifier.events, "fatal")

	// The rejected submission never reached either venue.
	open, err := f.venueA.ListOpenOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
	open, err = f.venueB.ListOpenOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestRunFirstLegLocatedByToken(t *testing.T) {
	f := newFixture()
	f.venueA.FailNextSubmit(true) // confirmation lost, order lands anyway
	e := newTestEngine(f, testConfig(), f.venueA, f.venueB)

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, []string{outcomeRoundTrip}, f.observer.outcomes)
	require.Len(t, f.recorder.trips, 1)
	assert.Equal(t, "alpha-1", f.recorder.trips[0].Legs[0].OrderID)
}

func TestRunSecondLegUnconfirmedIsFatal(t *testing.T) {
	f := newFixture()
	f.venueB.FailNextSubmit(false)
	e := newTestEngine(f, testConfig(), f.venueA, f.venueB)

	err := e.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrFatal)

	assert.Contains(t, f.notifier.events, "fatal")
	assert.Empty(t, f.recorder.trips)
	assert.Empty(t, f.observer.outcomes, "a fatal iteration reports no outcome")

	// The first leg committed; the half-executed position is left for
	// manual reconciliation.
	open, err := f.venueA.ListOpenOrders(context.Background())
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestRunCanceledLegIsFatal(t *testing.T) {
	f := newFixture()
	f.venueB.CancelNext()
	e := newTestEngine(f, testConfig(), f.venueA, f.venueB)

	err := e.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrFatal)
	assert.Contains(t, f.notifier.events, "fatal")
	assert.Empty(t, f.recorder.trips)
}

func TestRunNegativeRealizedGainWarns(t *testing.T) {
	f := newFixture()
	cfg := testConfig()
	// A wide protective limit makes the paper fills land far off the
	// observed book: buy at 105.00, sell at 102.86, a realized loss.
	cfg.LimitPriceFactor = 1.05
	e := newTestEngine(f, cfg, f.venueA, f.venueB)

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, []string{outcomeRoundTrip}, f.observer.outcomes)
	require.Len(t, f.recorder.trips, 1)
	assert.InDelta(t, -2.14, f.recorder.trips[0].GainFiat, 1e-6)
	assert.Contains(t, f.notifier.events, "warning")
	assert.Contains(t, f.notifier.events, "round_trip")
	assert.NotContains(t, f.notifier.events, "fatal")
}

func TestRunCumulativeLossFloorIsFatal(t *testing.T) {
	f := newFixture()
	cfg := testConfig()
	cfg.LimitPriceFactor = 1.05
	cfg.MaxOverallLoss = 1 // the 2.14 realized loss breaches the floor
	e := newTestEngine(f, cfg, f.venueA, f.venueB)

	err := e.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrFatal)
	assert.Contains(t, f.notifier.events, "fatal")
	assert.Empty(t, f.recorder.trips)
}

func TestRunBalanceDeviationIsFatal(t *testing.T) {
	f := newFixture()
	drifting := &hookVenue{Venue: f.venueA, assetDrift: 0.5}
	e := newTestEngine(f, testConfig(), drifting, f.venueB)

	err := e.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrFatal)
	assert.Contains(t, f.notifier.events, "fatal")
	assert.Empty(t, f.recorder.trips)
}

func TestRunIterationLimit(t *testing.T) {
	f := newFixture()
	f.venueB.SetBook(snapshot(100.7, 5, 100.65, 5)) // nothing admits
	cfg := testConfig()
	cfg.MaxIterations = 3
	cfg.MaxRoundTrips = 0
	e := newTestEngine(f, cfg, f.venueA, f.venueB)

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, []string{outcomeNoTier, outcomeNoTier, outcomeNoTier}, f.observer.outcomes)
}

func TestRunBalanceRefreshCountdown(t *testing.T) {
	f := newFixture()
	f.venueB.SetBook(snapshot(100.7, 5, 100.65, 5))
	counting := &hookVenue{Venue: f.venueA}
	cfg := testConfig()
	cfg.MaxIterations = 3
	cfg.MaxRoundTrips = 0
	cfg.BalanceRefreshEvery = 5
	e := newTestEngine(f, cfg, counting, f.venueB)

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, 1, counting.balanceCalls, "no-op iterations reuse the cached balances")
}

func TestRunCancelledContext(t *testing.T) {
	f := newFixture()
	e := newTestEngine(f, testConfig(), f.venueA, f.venueB)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, f.notifier.events, "fatal")
}
