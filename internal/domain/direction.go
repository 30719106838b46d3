package domain

// Direction identifies which venue buys and which sells in a round trip.
// All gain, admission, and execution state is keyed by Direction.
type Direction string

const (
	// DirectionBuyASellB buys on venue A and sells on venue B.
	DirectionBuyASellB Direction = "buy_a_sell_b"
	// DirectionBuyBSellA buys on venue B and sells on venue A.
	DirectionBuyBSellA Direction = "buy_b_sell_a"
)

// Directions lists both directions in evaluation order.
var Directions = []Direction{DirectionBuyASellB, DirectionBuyBSellA}

// Mirror returns the opposite direction.
func (d Direction) Mirror() Direction {
	if d == DirectionBuyASellB {
		return DirectionBuyBSellA
	}
	return DirectionBuyASellB
}

// BuyOnA reports whether venue A is the buying (funding) venue.
func (d Direction) BuyOnA() bool { return d == DirectionBuyASellB }
