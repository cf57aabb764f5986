package market

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultMarket is the only pair the bot trades.
const DefaultMarket = "BTCNOK"

var hundred = decimal.NewFromInt(100)

// Ticker is the best bid/ask snapshot for one market.
type Ticker struct {
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	Spread decimal.Decimal `json:"spread"`
}

// NewTicker builds a ticker and derives the spread from bid and ask.
func NewTicker(bid, ask decimal.Decimal) Ticker {
	return Ticker{Bid: bid, Ask: ask, Spread: ask.Sub(bid)}
}

// NewTickerFromFloat is a convenience for tests and config-driven callers.
func NewTickerFromFloat(bid, ask float64) Ticker {
	return NewTicker(decimal.NewFromFloat(bid), decimal.NewFromFloat(ask))
}

// Mid returns (bid+ask)/2.
func (t Ticker) Mid() decimal.Decimal {
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
}

// SpreadAsPercentage returns spread/mid*100 rounded half-up to two decimals.
func (t Ticker) SpreadAsPercentage() decimal.Decimal {
	mid := t.Mid()
	if mid.IsZero() {
		return decimal.Zero
	}
	return Round2(t.Spread.Div(mid).Mul(hundred))
}

// Validate rejects tickers the pricing rules cannot work with.
func (t Ticker) Validate() error {
	if !t.Bid.IsPositive() || !t.Ask.IsPositive() {
		return fmt.Errorf("ticker prices must be positive: bid=%s ask=%s", t.Bid, t.Ask)
	}
	if t.Ask.LessThan(t.Bid) {
		return fmt.Errorf("crossed ticker: bid=%s ask=%s", t.Bid, t.Ask)
	}
	return nil
}

func (t Ticker) String() string {
	return fmt.Sprintf("bid=%s ask=%s spread=%s", t.Bid, t.Ask, t.Spread)
}

// Round2 rounds a price to two decimals, half-up for positive values.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
