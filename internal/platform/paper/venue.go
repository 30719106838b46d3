// Package paper implements an in-memory venue that fills limit orders
// against scripted order books. It backs simulate-adjacent dry runs and the
// engine's end-to-end tests, including lost-confirmation and cancellation
// scenarios that are impractical to reproduce against a live venue.
package paper

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// Venue is a simulated exchange. All scripted state is set through the
// Set/Fail/Cancel helpers; the domain.Venue methods then behave like a real
// adapter would. Safe for concurrent use.
type Venue struct {
	mu sync.Mutex

	name   string
	scheme domain.TokenScheme

	balance domain.Balance
	book    domain.OrderBookSnapshot
	fee     float64

	fillAfter int // polls before an open order closes

	failNextSubmit bool
	lostSubmit     bool // failed submit still lands on the venue
	cancelNext     bool

	nextID int
	orders []*paperOrder

	now func() time.Time
}

type paperOrder struct {
	id         string
	token      domain.CorrelationToken
	side       domain.OrderSide
	volume     float64
	limitPrice float64

	status       domain.OrderStatus
	pollsLeft    int
	cancelOnFill bool

	fill domain.OrderFill
}

// NewVenue creates a venue with the given name and token scheme. Orders
// close on the first status poll unless FillAfter raises the count.
func NewVenue(name string, scheme domain.TokenScheme) *Venue {
	return &Venue{
		name:   name,
		scheme: scheme,
		now:    time.Now,
	}
}

func (v *Venue) Name() string { return v.name }

func (v *Venue) TokenScheme() domain.TokenScheme { return v.scheme }

// ServerTime returns the venue clock.
func (v *Venue) ServerTime(context.Context) (time.Time, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now(), nil
}

// SetClock replaces the venue clock.
func (v *Venue) SetClock(now func() time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = now
}

// SetBalance seeds the account balance.
func (v *Venue) SetBalance(b domain.Balance) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balance = b
}

// SetBook scripts the depth snapshot returned by FetchOrderBook.
func (v *Venue) SetBook(book domain.OrderBookSnapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	book.Venue = v.name
	v.book = book
}

// SetFee sets the taker fee rate applied to fills.
func (v *Venue) SetFee(rate float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fee = rate
}

// FillAfter makes newly created orders stay open for n status polls before
// closing. Zero closes on the first poll.
func (v *Venue) FillAfter(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fillAfter = n
}

// FailNextSubmit makes the next CreateLimitOrder return an error. When lost
// is true the order still lands on the venue, simulating a confirmation lost
// in transit; it can then only be found through the order listings.
func (v *Venue) FailNextSubmit(lost bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failNextSubmit = true
	v.lostSubmit = lost
}

// CancelNext makes the next created order end canceled instead of closed.
func (v *Venue) CancelNext() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelNext = true
}

// FetchBalance returns the current simulated balance.
func (v *Venue) FetchBalance(context.Context) (domain.Balance, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balance, nil
}

// FetchOrderBook returns the scripted snapshot stamped with the venue clock.
func (v *Venue) FetchOrderBook(_ context.Context, _ string) (domain.OrderBookSnapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	book := v.book
	if book.FetchedAt.IsZero() {
		book.FetchedAt = v.now()
	}
	return book, nil
}

// CreateLimitOrder places an order. Fills settle at the limit price when the
// order later closes.
func (v *Venue) CreateLimitOrder(_ context.Context, _ string, side domain.OrderSide, volume, limitPrice float64, token domain.CorrelationToken) (domain.OrderHandle, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.failNextSubmit {
		v.failNextSubmit = false
		lost := v.lostSubmit
		v.lostSubmit = false
		if !lost {
			return domain.OrderHandle{}, fmt.Errorf("paper %s: submit rejected: %w", v.name, domain.ErrVenueUnavailable)
		}
		v.placeLocked(side, volume, limitPrice, token)
		return domain.OrderHandle{}, fmt.Errorf("paper %s: confirmation lost: %w", v.name, domain.ErrTimeout)
	}

	o := v.placeLocked(side, volume, limitPrice, token)
	return domain.OrderHandle{Venue: v.name, ID: o.id}, nil
}

func (v *Venue) placeLocked(side domain.OrderSide, volume, limitPrice float64, token domain.CorrelationToken) *paperOrder {
	v.nextID++
	o := &paperOrder{
		id:           v.name + "-" + strconv.Itoa(v.nextID),
		token:        token,
		side:         side,
		volume:       volume,
		limitPrice:   limitPrice,
		status:       domain.OrderStatusOpen,
		pollsLeft:    v.fillAfter,
		cancelOnFill: v.cancelNext,
	}
	v.cancelNext = false
	v.orders = append(v.orders, o)
	return o
}

// FetchOrder returns the order's fill state, advancing the scripted
// lifecycle by one poll.
func (v *Venue) FetchOrder(_ context.Context, id string) (domain.OrderFill, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	o := v.findLocked(id)
	if o == nil {
		return domain.OrderFill{}, fmt.Errorf("paper %s: order %s: %w", v.name, id, domain.ErrNotFound)
	}
	if o.status == domain.OrderStatusOpen {
		if o.pollsLeft > 0 {
			o.pollsLeft--
			return domain.OrderFill{Status: domain.OrderStatusOpen, UpdatedAt: v.now()}, nil
		}
		v.settleLocked(o)
	}
	return o.fill, nil
}

// settleLocked closes or cancels an open order and applies the fill to the
// venue balance.
func (v *Venue) settleLocked(o *paperOrder) {
	if o.cancelOnFill {
		o.status = domain.OrderStatusCanceled
		o.fill = domain.OrderFill{Status: domain.OrderStatusCanceled, UpdatedAt: v.now()}
		return
	}

	cost := o.volume * o.limitPrice
	fee := cost * v.fee
	switch o.side {
	case domain.OrderSideBuy:
		v.balance.Fiat -= cost + fee
		v.balance.Asset += o.volume
	case domain.OrderSideSell:
		v.balance.Asset -= o.volume
		v.balance.Fiat += cost - fee
	}

	o.status = domain.OrderStatusClosed
	o.fill = domain.OrderFill{
		Status:      domain.OrderStatusClosed,
		Filled:      o.volume,
		Cost:        cost,
		FeeFiat:     fee,
		FeeCurrency: "fiat",
		UpdatedAt:   v.now(),
	}
}

// ListOpenOrders returns all orders still open.
func (v *Venue) ListOpenOrders(context.Context) ([]domain.OrderRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var out []domain.OrderRecord
	for _, o := range v.orders {
		if o.status == domain.OrderStatusOpen {
			out = append(out, recordOf(o))
		}
	}
	return out, nil
}

// ListClosedOrders returns terminal orders updated at or after since.
func (v *Venue) ListClosedOrders(_ context.Context, since time.Time) ([]domain.OrderRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var out []domain.OrderRecord
	for _, o := range v.orders {
		if o.status.Terminal() && !o.fill.UpdatedAt.Before(since) {
			out = append(out, recordOf(o))
		}
	}
	return out, nil
}

func (v *Venue) findLocked(id string) *paperOrder {
	for _, o := range v.orders {
		if o.id == id {
			return o
		}
	}
	return nil
}

func recordOf(o *paperOrder) domain.OrderRecord {
	return domain.OrderRecord{
		ID:     o.id,
		Token:  o.token,
		Side:   o.side,
		Status: o.status,
	}
}
