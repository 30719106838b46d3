// Package engine implements the cross-venue arbitration loop: opportunity
// evaluation from conservative order-book prices, tiered admission control,
// capital-constrained sizing, dual-leg execution, completion monitoring, and
// post-trade reconciliation against a running risk budget.
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

// Config is the immutable engine configuration, fixed at construction.
type Config struct {
	Symbol string // e.g. "ETH/EUR"
	Asset  string // e.g. "ETH"
	Fiat   string // e.g. "EUR"

	// FeeA and FeeB are the venues' fee ratios (e.g. 0.0026).
	FeeA float64
	FeeB float64

	// MaxVolume is the tentative per-trade asset volume before reduction.
	MaxVolume float64
	// MinVolumeFactor scales MaxVolume into the depth both books must
	// carry before a trade is considered.
	MinVolumeFactor float64

	FiatScale  int // decimal digits for fiat rounding
	AssetScale int // decimal digits for asset volume rounding

	// Tiers is the admission table per direction, most restrictive first.
	Tiers map[domain.Direction]domain.TierTable

	// LimitPriceFactor (> 1) worsens the limit price relative to the
	// observed reference so a fast adverse move yields a worse fill
	// instead of unbounded slippage.
	LimitPriceFactor float64
	// BuySafetyFactor (> 1) is the fiat headroom required over the buy
	// notional before and while committing capital.
	BuySafetyFactor float64

	// MaxStaleness bounds the time between the order-book fetch and an
	// order submission based on it.
	MaxStaleness time.Duration
	// LocateTimeout bounds the token-based order lookup after a lost
	// submission confirmation.
	LocateTimeout time.Duration
	// OrderPollInterval spaces completion-monitor passes.
	OrderPollInterval time.Duration
	// IdleWait is the pause after a no-op iteration.
	IdleWait time.Duration
	// APIMinInterval is the fixed spacing between venue API attempts.
	APIMinInterval time.Duration

	// BalanceRefreshEvery refreshes balances every N iterations; an
	// executed trade forces a refresh regardless.
	BalanceRefreshEvery int

	// GainTolerance (0 < t <= 1) sets the asymmetric severe-warning bands
	// on realized vs admitted gain.
	GainTolerance float64
	// MaxBalanceDeviation is the largest tolerated cross-venue asset
	// delta after a round trip.
	MaxBalanceDeviation float64
	// MaxOverallLoss is the cumulative realized fiat loss floor; breaching
	// it halts the process.
	MaxOverallLoss float64

	// RevalidateAfterReduce re-runs admission with the reduced volume and
	// skips the trade when it no longer clears the admitted tier.
	RevalidateAfterReduce bool

	// Simulate logs decisions without executing orders.
	Simulate bool
	// MaxIterations and MaxRoundTrips bound the run; zero means unbounded.
	MaxIterations int
	MaxRoundTrips int
}

// Validate checks configuration invariants.
func (c Config) Validate() error {
	if c.Symbol == "" {
		return errors.New("engine config: symbol is required")
	}
	if c.MaxVolume <= 0 {
		return errors.New("engine config: max volume must be positive")
	}
	if c.LimitPriceFactor <= 1 {
		return errors.New("engine config: limit price factor must exceed 1")
	}
	if c.BuySafetyFactor < 1 {
		return errors.New("engine config: buy safety factor must be at least 1")
	}
	if c.GainTolerance <= 0 || c.GainTolerance > 1 {
		return errors.New("engine config: gain tolerance must be in (0, 1]")
	}
	for _, dir := range domain.Directions {
		if len(c.Tiers[dir]) == 0 {
			return fmt.Errorf("engine config: no tiers for direction %s", dir)
		}
	}
	return nil
}

// State is the mutable engine state threaded through iterations. It is
// exported so tests can construct arbitrary states without bootstrapping a
// process.
type State struct {
	Balances         domain.PairBalances
	RefreshCountdown int
	ServerTimeA      time.Time // venue A clock at last refresh

	// BaselineFiat is the cross-venue fiat total at the first refresh;
	// cumulative realized gain is measured against it.
	BaselineFiat float64
	baselineSet  bool

	RealizedGain float64
	RoundTrips   int
	Iteration    int
}

// Recorder receives the append-only iteration and round-trip records.
type Recorder interface {
	RecordGains(rec domain.GainRecord) error
	RecordRoundTrip(rt domain.RoundTrip) error
}

// Notifier delivers operator notifications for notable events.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Observer receives engine telemetry.
type Observer interface {
	ObserveIteration(outcome string)
	ObserveRoundTrip(rt domain.RoundTrip)
	ObserveRealizedGain(total float64)
}

// Iteration outcomes reported to the Observer.
const (
	outcomeVenueError      = "venue_error"
	outcomeThinBook        = "insufficient_liquidity"
	outcomeNoTier          = "no_tier"
	outcomeReducedBelow    = "reduced_below_tier"
	outcomeSimulated       = "simulated"
	outcomeLegUnconfirmed  = "first_leg_unconfirmed"
	outcomeRoundTrip       = "round_trip"
	outcomeCrossedSnapshot = "crossed_snapshot"
)

// errIterationAbort signals a recoverable pre-commitment failure: the
// iteration is abandoned with no capital at risk and the loop retries.
var errIterationAbort = errors.New("iteration abort")

// Engine runs the arbitration loop over two venues. There is a single
// logical thread of control: every remote call blocks the loop, and no
// state is shared with background tasks.
type Engine struct {
	cfg    Config
	venueA domain.Venue
	venueB domain.Venue

	pacer    domain.Pacer
	recorder Recorder
	store    domain.RoundTripStore
	notifier Notifier
	observer Observer
	logger   *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithRecorder attaches the append-only gains/round-trip recorder.
func WithRecorder(r Recorder) Option { return func(e *Engine) { e.recorder = r } }

// WithStore attaches the round-trip persistence store.
func WithStore(s domain.RoundTripStore) Option { return func(e *Engine) { e.store = s } }

// WithNotifier attaches an operator notifier.
func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }

// WithObserver attaches a telemetry observer.
func WithObserver(o Observer) Option { return func(e *Engine) { e.observer = o } }

// WithPacer attaches a shared pacer for venue API spacing.
func WithPacer(p domain.Pacer) Option { return func(e *Engine) { e.pacer = p } }

// New creates an Engine trading between venueA and venueB. VenueA is the
// first-submitted venue in both directions.
func New(cfg Config, venueA, venueB domain.Venue, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		venueA: venueA,
		venueB: venueB,
		logger: logger.With(slog.String("component", "engine")),
		now:    time.Now,
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.pacer == nil {
		e.pacer = retry.NewLocalPacer(cfg.APIMinInterval)
	}
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run executes iterations until the context is cancelled, a configured
// iteration or round-trip limit is reached (nil return), or a fatal
// condition occurs (non-nil, wraps domain.ErrFatal).
func (e *Engine) Run(ctx context.Context) error {
	st := &State{}
	return e.RunState(ctx, st)
}

// RunState runs the loop over an explicit state, which tests may prepare.
func (e *Engine) RunState(ctx context.Context, st *State) error {
	e.logger.Info("engine started",
		slog.String("symbol", e.cfg.Symbol),
		slog.String("venue_a", e.venueA.Name()),
		slog.String("venue_b", e.venueB.Name()),
		slog.Bool("simulate", e.cfg.Simulate),
	)
	defer e.logger.Info("engine stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.cfg.MaxIterations > 0 && st.Iteration >= e.cfg.MaxIterations {
			e.logger.Info("iteration limit reached", slog.Int("iterations", st.Iteration))
			return nil
		}
		st.Iteration++

		outcome, err := e.iterate(ctx, st)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrContextDone) {
				return ctx.Err()
			}
			e.notify(ctx, "fatal", "Arbitration halted", err.Error())
			return err
		}
		if e.observer != nil {
			e.observer.ObserveIteration(outcome)
		}

		if e.cfg.MaxRoundTrips > 0 && st.RoundTrips >= e.cfg.MaxRoundTrips {
			e.logger.Info("round-trip limit reached", slog.Int("round_trips", st.RoundTrips))
			return nil
		}
	}
}

// iterate performs one full decision-and-execution cycle. It returns the
// iteration outcome label, or an error only for fatal conditions and
// context cancellation.
func (e *Engine) iterate(ctx context.Context, st *State) (string, error) {
	e.logger.Info("---------- iteration ----------",
		slog.Int("iteration", st.Iteration),
		slog.Bool("simulate", e.cfg.Simulate),
	)

	if err := e.refreshBalances(ctx, st); err != nil {
		if errors.Is(err, errIterationAbort) {
			e.logger.Info("waiting after balance refresh failure")
			return outcomeVenueError, e.sleep(ctx, e.cfg.IdleWait)
		}
		return "", err
	}
	e.logBalances(st)

	volume := roundTo(e.cfg.MaxVolume, e.cfg.AssetScale)
	minVolume := e.cfg.MinVolumeFactor * volume

	snapA, snapB, err := e.fetchBooks(ctx)
	if err != nil {
		if errors.Is(err, errIterationAbort) {
			return outcomeVenueError, e.sleep(ctx, e.cfg.IdleWait)
		}
		return "", err
	}
	bookTime := e.now()

	pricesA, ok := e.conservative(snapA, e.venueA.Name(), minVolume)
	if !ok {
		return outcomeThinBook, e.sleep(ctx, e.cfg.IdleWait)
	}
	pricesB, ok := e.conservative(snapB, e.venueB.Name(), minVolume)
	if !ok {
		return outcomeThinBook, e.sleep(ctx, e.cfg.IdleWait)
	}
	if pricesA.AskPrice < pricesA.BidPrice || pricesB.AskPrice < pricesB.BidPrice {
		// A crossed snapshot is unusable data, not an opportunity.
		e.logger.Error("crossed order book snapshot, skipping iteration",
			slog.Float64("ask_a", pricesA.AskPrice), slog.Float64("bid_a", pricesA.BidPrice),
			slog.Float64("ask_b", pricesB.AskPrice), slog.Float64("bid_b", pricesB.BidPrice),
		)
		return outcomeCrossedSnapshot, e.sleep(ctx, e.cfg.IdleWait)
	}

	inputs, err := e.buildInputs(st, pricesA, pricesB, volume)
	if err != nil {
		return "", err
	}
	e.recordGains(inputs, pricesA, pricesB, volume)

	adm, ok := e.admit(inputs)
	if !ok {
		e.logger.Info("no arbitration opportunity, waiting")
		return outcomeNoTier, e.sleep(ctx, e.cfg.IdleWait)
	}

	reduced := e.reduceVolume(volume, inputs[adm.Direction])
	if reduced <= 0 {
		e.logger.Info("volume reduced to zero, waiting")
		return outcomeReducedBelow, e.sleep(ctx, e.cfg.IdleWait)
	}
	if reduced != volume {
		adm, ok = e.revalidate(adm, inputs, pricesA, pricesB, reduced)
		if !ok {
			return outcomeReducedBelow, e.sleep(ctx, e.cfg.IdleWait)
		}
		volume = reduced
	}

	e.logger.Info("trade admitted",
		slog.String("direction", string(adm.Direction)),
		slog.Float64("volume", volume),
		slog.Float64("expected_gain_fiat", adm.Estimate.GainFiat),
		slog.Float64("expected_relative_gain", adm.Estimate.Relative),
		slog.Float64("tier_min_gain", adm.Tier.MinGain),
	)

	if e.cfg.Simulate {
		e.logger.Info("simulated arbitration done")
		return outcomeSimulated, e.sleep(ctx, e.cfg.IdleWait)
	}

	// Balances are stale from here on: force a refresh before the next
	// decision regardless of how execution ends.
	st.RefreshCountdown = 0

	startedAt := e.now()
	legs, err := e.executeRoundTrip(ctx, st, adm.Direction, volume, pricesA, pricesB, bookTime)
	if err != nil {
		if errors.Is(err, errIterationAbort) {
			e.logger.Info("first leg unconfirmed, retrying next iteration")
			return outcomeLegUnconfirmed, nil
		}
		return "", err
	}

	if err := e.monitorLegs(ctx, legs); err != nil {
		return "", err
	}

	rt, err := e.reconcile(ctx, st, adm, volume, legs, startedAt)
	if err != nil {
		return "", err
	}
	e.finishRoundTrip(ctx, st, rt)
	return outcomeRoundTrip, nil
}

// revalidate re-runs gain estimation and admission with the reduced volume.
// The reduced trade must still clear a tier; otherwise the iteration is a
// no-op wait. Disabled via config to preserve the legacy behaviour of
// trading whatever remains after reduction.
func (e *Engine) revalidate(adm Admission, inputs map[domain.Direction]admissionInput, pricesA, pricesB book.SidePrices, reduced float64) (Admission, bool) {
	if !e.cfg.RevalidateAfterReduce {
		return adm, true
	}
	est, err := e.estimateDirection(adm.Direction, pricesA, pricesB, reduced)
	if err != nil {
		e.logger.Warn("revalidation estimate failed", slog.String("error", err.Error()))
		return Admission{}, false
	}
	in := inputs[adm.Direction]
	in.Estimate = est
	in.Volume = reduced
	tier, ok := admitTier(e.cfg.Tiers[adm.Direction], in, e.cfg.BuySafetyFactor)
	if !ok {
		e.logger.Info("reduced volume no longer clears any tier, waiting",
			slog.Float64("reduced_volume", reduced),
			slog.Float64("relative_gain", est.Relative),
		)
		return Admission{}, false
	}
	return Admission{Direction: adm.Direction, Tier: tier, Estimate: est}, true
}

// estimateDirection computes the gain estimate for one direction from the
// two venues' conservative prices.
func (e *Engine) estimateDirection(dir domain.Direction, pricesA, pricesB book.SidePrices, volume float64) (GainEstimate, error) {
	if dir.BuyOnA() {
		return EstimateGain(pricesA.AskPrice, pricesA.AskVolume, e.cfg.FeeA,
			pricesB.BidPrice, pricesB.BidVolume, e.cfg.FeeB, volume)
	}
	return EstimateGain(pricesB.AskPrice, pricesB.AskVolume, e.cfg.FeeB,
		pricesA.BidPrice, pricesA.BidVolume, e.cfg.FeeA, volume)
}

// buildInputs assembles per-direction admission inputs from the current
// balances and conservative prices.
func (e *Engine) buildInputs(st *State, pricesA, pricesB book.SidePrices, volume float64) (map[domain.Direction]admissionInput, error) {
	inputs := make(map[domain.Direction]admissionInput, 2)
	for _, dir := range domain.Directions {
		est, err := e.estimateDirection(dir, pricesA, pricesB, volume)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrFatal, err)
		}
		in := admissionInput{
			Estimate:  est,
			TotalFiat: st.Balances.TotalFiat(),
			Volume:    volume,
		}
		if dir.BuyOnA() {
			in.FundingFiat = st.Balances.A.Fiat
			in.CounterAsset = st.Balances.B.Asset
		} else {
			in.FundingFiat = st.Balances.B.Fiat
			in.CounterAsset = st.Balances.A.Asset
		}
		inputs[dir] = in

		e.logger.Info("expected gain",
			slog.String("direction", string(dir)),
			slog.Float64("gain_fiat", est.GainFiat),
			slog.Float64("relative_gain", est.Relative),
			slog.Float64("buy_notional", est.BuyNotional),
		)
	}
	return inputs, nil
}

// conservative rounds and validates one venue's conservative prices.
func (e *Engine) conservative(snap domain.OrderBookSnapshot, venue string, minVolume float64) (book.SidePrices, bool) {
	sp := book.ConservativePrices(snap, minVolume)
	if !sp.AskOK || !sp.BidOK {
		e.logger.Info("not enough trading volume",
			slog.String("venue", venue),
			slog.Float64("ask_volume", sp.AskVolume),
			slog.Float64("bid_volume", sp.BidVolume),
			slog.Float64("min_volume", minVolume),
		)
		return sp, false
	}
	sp.AskPrice = roundTo(sp.AskPrice, e.cfg.FiatScale)
	sp.BidPrice = roundTo(sp.BidPrice, e.cfg.FiatScale)
	e.logger.Info("conservative prices",
		slog.String("venue", venue),
		slog.Float64("ask_price", sp.AskPrice),
		slog.Float64("ask_volume", sp.AskVolume),
		slog.Float64("bid_price", sp.BidPrice),
		slog.Float64("bid_volume", sp.BidVolume),
	)
	return sp, true
}

// refreshBalances fetches both venues' balances and venue A's server time
// when the countdown has expired. Failures abort the iteration; no capital
// is at risk before commitment.
func (e *Engine) refreshBalances(ctx context.Context, st *State) error {
	if st.RefreshCountdown > 0 {
		st.RefreshCountdown--
		return nil
	}
	e.logger.Info("retrieving account balances")
	st.RefreshCountdown = e.cfg.BalanceRefreshEvery

	balances, err := e.fetchBalances(ctx)
	if err != nil {
		e.logger.Warn("balance refresh failed", slog.String("error", err.Error()))
		st.RefreshCountdown = 0
		return errIterationAbort
	}

	serverTime, err := retry.Do(ctx, e.policy(e.venueA.Name(), 5, time.Time{}), func(ctx context.Context) (time.Time, error) {
		return e.venueA.ServerTime(ctx)
	})
	if err != nil {
		if errors.Is(err, domain.ErrContextDone) {
			return err
		}
		e.logger.Warn("unable to get venue server time", slog.String("error", err.Error()))
		st.RefreshCountdown = 0
		return errIterationAbort
	}

	st.Balances = balances
	st.ServerTimeA = serverTime
	if !st.baselineSet {
		st.BaselineFiat = balances.TotalFiat()
		st.baselineSet = true
	}
	return nil
}

// fetchBalances queries both venues sequentially.
func (e *Engine) fetchBalances(ctx context.Context) (domain.PairBalances, error) {
	var out domain.PairBalances
	a, err := retry.Do(ctx, e.policy(e.venueA.Name(), 5, time.Time{}), e.venueA.FetchBalance)
	if err != nil {
		return out, fmt.Errorf("fetch %s balance: %w", e.venueA.Name(), err)
	}
	b, err := retry.Do(ctx, e.policy(e.venueB.Name(), 5, time.Time{}), e.venueB.FetchBalance)
	if err != nil {
		return out, fmt.Errorf("fetch %s balance: %w", e.venueB.Name(), err)
	}
	out.A, out.B = a, b
	return out, nil
}

// fetchBooks queries both venues' depth sequentially.
func (e *Engine) fetchBooks(ctx context.Context) (domain.OrderBookSnapshot, domain.OrderBookSnapshot, error) {
	snapA, err := retry.Do(ctx, e.policy(e.venueA.Name(), 5, time.Time{}), func(ctx context.Context) (domain.OrderBookSnapshot, error) {
		return e.venueA.FetchOrderBook(ctx, e.cfg.Symbol)
	})
	if err != nil {
		if errors.Is(err, domain.ErrContextDone) {
			return snapA, snapA, err
		}
		e.logger.Warn("order book fetch failed",
			slog.String("venue", e.venueA.Name()),
			slog.String("error", err.Error()),
		)
		return snapA, snapA, errIterationAbort
	}
	snapB, err := retry.Do(ctx, e.policy(e.venueB.Name(), 5, time.Time{}), func(ctx context.Context) (domain.OrderBookSnapshot, error) {
		return e.venueB.FetchOrderBook(ctx, e.cfg.Symbol)
	})
	if err != nil {
		if errors.Is(err, domain.ErrContextDone) {
			return snapA, snapB, err
		}
		e.logger.Warn("order book fetch failed",
			slog.String("venue", e.venueB.Name()),
			slog.String("error", err.Error()),
		)
		return snapA, snapB, errIterationAbort
	}
	return snapA, snapB, nil
}

// policy builds a retry policy for read-style venue calls.
func (e *Engine) policy(venue string, maxAttempts int, deadline time.Time) retry.Policy {
	return retry.Policy{
		MaxAttempts: maxAttempts,
		Deadline:    deadline,
		MinInterval: e.cfg.APIMinInterval,
		Pacer:       e.pacer,
		PacerKey:    venue,
		Logger:      e.logger,
	}
}

// recordGains appends the per-iteration gains record. Failures are logged
// and otherwise ignored; the journal is analysis-only.
func (e *Engine) recordGains(inputs map[domain.Direction]admissionInput, pricesA, pricesB book.SidePrices, volume float64) {
	if e.recorder == nil {
		return
	}
	rec := domain.GainRecord{
		Time:  e.now(),
		Gains: make(map[domain.Direction]domain.DirectionGains, 2),

		AskPriceA: pricesA.AskPrice, AskVolumeA: pricesA.AskVolume,
		BidPriceA: pricesA.BidPrice, BidVolumeA: pricesA.BidVolume,
		AskPriceB: pricesB.AskPrice, AskVolumeB: pricesB.AskVolume,
		BidPriceB: pricesB.BidPrice, BidVolumeB: pricesB.BidVolume,

		TradeVolume: volume,
	}
	for dir, in := range inputs {
		rec.Gains[dir] = domain.DirectionGains{
			GainFiat:     in.Estimate.GainFiat,
			RelativeGain: in.Estimate.Relative,
		}
	}
	if err := e.recorder.RecordGains(rec); err != nil {
		e.logger.Warn("gain record write failed", slog.String("error", err.Error()))
	}
}

// finishRoundTrip persists, notifies, and publishes telemetry for a
// completed round trip.
func (e *Engine) finishRoundTrip(ctx context.Context, st *State, rt domain.RoundTrip) {
	if e.recorder != nil {
		if err := e.recorder.RecordRoundTrip(rt); err != nil {
			e.logger.Warn("round trip record write failed", slog.String("error", err.Error()))
		}
	}
	if e.store != nil {
		if err := e.store.Create(ctx, rt); err != nil {
			e.logger.Warn("round trip store failed", slog.String("error", err.Error()))
		}
	}
	if e.observer != nil {
		e.observer.ObserveRoundTrip(rt)
		e.observer.ObserveRealizedGain(st.RealizedGain)
	}
	e.notify(ctx, "round_trip", "Round trip completed",
		fmt.Sprintf("%s volume=%.4f %s gain=%.2f %s (%.4f%%)",
			rt.Direction, rt.Volume, e.cfg.Asset, rt.GainFiat, e.cfg.Fiat, 100*rt.RelativeGain))

	e.logger.Info("arbitration done",
		slog.Int("round_trips", st.RoundTrips),
		slog.Float64("gain_since_start", st.RealizedGain),
	)
}

func (e *Engine) notify(ctx context.Context, event, title, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event, title, message); err != nil {
		e.logger.Warn("notification failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) logBalances(st *State) {
	e.logger.Info("account balances",
		slog.String("venue", e.venueA.Name()),
		slog.Float64("fiat", st.Balances.A.Fiat),
		slog.Float64("asset", st.Balances.A.Asset),
		slog.Float64("fee", e.cfg.FeeA),
	)
	e.logger.Info("account balances",
		slog.String("venue", e.venueB.Name()),
		slog.Float64("fiat", st.Balances.B.Fiat),
		slog.Float64("asset", st.Balances.B.Asset),
		slog.Float64("fee", e.cfg.FeeB),
	)
	e.logger.Info("total balances",
		slog.Float64("fiat", st.Balances.TotalFiat()),
		slog.Float64("asset", st.Balances.TotalAsset()),
	)
}
