package strategy

import (
	"github.com/shopspring/decimal"

	"moneymaker-go/market"
	"moneymaker-go/order"
)

// OrderDefaults are applied to every request a reconciler builds.
type OrderDefaults struct {
	Amount decimal.Decimal
	Market string
}

// DefaultOrderDefaults returns the stock order size and market.
func DefaultOrderDefaults() OrderDefaults {
	return OrderDefaults{Amount: order.DefaultAmount, Market: market.DefaultMarket}
}

// SideReconciler decides the actions for one side of the book.
type SideReconciler struct {
	side     order.Side
	strategy *PriceStrategy
	defaults OrderDefaults
}

func NewSideReconciler(side order.Side, s *PriceStrategy, defaults OrderDefaults) *SideReconciler {
	if defaults.Amount.IsZero() {
		defaults.Amount = order.DefaultAmount
	}
	if defaults.Market == "" {
		defaults.Market = market.DefaultMarket
	}
	return &SideReconciler{side: side, strategy: s, defaults: defaults}
}

// Side returns the side this reconciler manages.
func (r *SideReconciler) Side() order.Side { return r.side }

// Reconcile returns the actions for this side given every active order of the
// market; orders of the other side are ignored.
//
// No order yields an Add at the target price. Acceptable orders yield a single
// Keep carrying the first order's price. Anything else clears and re-adds.
func (r *SideReconciler) Reconcile(orders []order.ActiveOrder, t market.Ticker) []order.Action {
	mine := order.FilterSide(orders, r.side)
	if len(mine) == 0 {
		return []order.Action{order.NewAdd(r.side, r.request(r.strategy.PriceFor(r.side, t)))}
	}
	if r.strategy.AllValid(mine, t) {
		return []order.Action{order.NewKeep(r.side, r.request(mine[0].Price))}
	}
	return []order.Action{
		order.ClearOrders{},
		order.NewAdd(r.side, r.request(r.strategy.PriceFor(r.side, t))),
	}
}

// WithStrategy returns a copy bound to s.
func (r *SideReconciler) WithStrategy(s *PriceStrategy) *SideReconciler {
	cp := *r
	cp.strategy = s
	return &cp
}

func (r *SideReconciler) request(price decimal.Decimal) order.CreateOrderRequest {
	return order.CreateOrderRequest{
		Side:   r.side,
		Price:  price,
		Amount: r.defaults.Amount,
		Market: r.defaults.Market,
	}
}
