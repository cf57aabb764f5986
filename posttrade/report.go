package posttrade

import (
	"time"

	"github.com/shopspring/decimal"

	"moneymaker-go/market"
	"moneymaker-go/order"
)

// SideReport summarizes the filled orders on one side of the book.
type SideReport struct {
	Side     order.Side      `json:"side"`
	Count    int             `json:"count"`
	Volume   decimal.Decimal `json:"volume"`
	Notional decimal.Decimal `json:"notional"`
	AvgPrice decimal.Decimal `json:"avgPrice"` // 成交量加权均价
	AvgFee   decimal.Decimal `json:"avgFee"`
}

// Report is the periodic trade summary produced from the order history.
type Report struct {
	From time.Time  `json:"from"`
	To   time.Time  `json:"to"`
	Bid  SideReport `json:"bid"`
	Ask  SideReport `json:"ask"`
	// RealizedSpread 卖出均价减买入均价；任一侧无成交时为零
	RealizedSpread decimal.Decimal `json:"realizedSpread"`
}

type accumulator struct {
	count    int
	volume   decimal.Decimal
	notional decimal.Decimal
	fees     decimal.Decimal
}

func (a *accumulator) add(o order.ActiveOrder) {
	a.count++
	a.volume = a.volume.Add(o.Matched)
	a.notional = a.notional.Add(o.Price.Mul(o.Matched))
	a.fees = a.fees.Add(o.Fee)
}

func (a accumulator) report(side order.Side) SideReport {
	r := SideReport{
		Side:     side,
		Count:    a.count,
		Volume:   a.volume,
		Notional: market.Round2(a.notional),
	}
	if a.volume.IsPositive() {
		r.AvgPrice = market.Round2(a.notional.Div(a.volume))
	}
	if a.count > 0 {
		r.AvgFee = a.fees.Div(decimal.NewFromInt(int64(a.count)))
	}
	return r
}

// Summarize aggregates orders with a positive matched amount created in
// [now-window, now]. Orders outside the window or never matched are ignored.
func Summarize(orders []order.ActiveOrder, now time.Time, window time.Duration) Report {
	from := now.Add(-window)
	var bids, asks accumulator
	for _, o := range orders {
		if !o.Matched.IsPositive() {
			continue
		}
		if o.CreatedAt.Before(from) || o.CreatedAt.After(now) {
			continue
		}
		switch o.Side {
		case order.Bid:
			bids.add(o)
		case order.Ask:
			asks.add(o)
		}
	}

	rep := Report{
		From: from,
		To:   now,
		Bid:  bids.report(order.Bid),
		Ask:  asks.report(order.Ask),
	}
	if rep.Bid.Count > 0 && rep.Ask.Count > 0 {
		rep.RealizedSpread = rep.Ask.AvgPrice.Sub(rep.Bid.AvgPrice)
	}
	return rep
}

// Fields flattens the report for structured logging.
func (r Report) Fields() map[string]interface{} {
	return map[string]interface{}{
		"window_from":     r.From.Format(time.RFC3339),
		"bid_count":       r.Bid.Count,
		"bid_volume":      r.Bid.Volume.String(),
		"bid_avg_price":   r.Bid.AvgPrice.String(),
		"ask_count":       r.Ask.Count,
		"ask_volume":      r.Ask.Volume.String(),
		"ask_avg_price":   r.Ask.AvgPrice.String(),
		"realized_spread": r.RealizedSpread.String(),
	}
}
