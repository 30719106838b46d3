package domain

// Balance holds the free amounts in a single venue account. Fiat is the
// quote currency (e.g. EUR), Asset the base currency (e.g. ETH). Both are
// non-negative.
type Balance struct {
	Fiat  float64
	Asset float64
}

// PairBalances holds the balances of both venues as of the last refresh.
type PairBalances struct {
	A Balance
	B Balance
}

// TotalFiat returns the cross-venue fiat total.
func (p PairBalances) TotalFiat() float64 {
	return p.A.Fiat + p.B.Fiat
}

// TotalAsset returns the cross-venue asset total.
func (p PairBalances) TotalAsset() float64 {
	return p.A.Asset + p.B.Asset
}
