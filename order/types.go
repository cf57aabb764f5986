package order

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"moneymaker-go/market"
)

// Side is the book side of an order.
type Side string

const (
	Bid Side = "bid"
	Ask Side = "ask"
)

// ParseSide accepts the exchange spelling of a side.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "bid", "buy":
		return Bid, nil
	case "ask", "sell":
		return Ask, nil
	}
	return "", fmt.Errorf("unknown order side %q", s)
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

func (s *Side) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseSide(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// DefaultAmount is the order size used when none is configured.
var DefaultAmount = decimal.RequireFromString("0.0001")

// ActiveOrder is an order as reported by the exchange, resting or historical.
type ActiveOrder struct {
	ID        int64           `json:"id"`
	Market    string          `json:"market"`
	Side      Side            `json:"type"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Remaining decimal.Decimal `json:"remaining"`
	Matched   decimal.Decimal `json:"matched"`
	Cancelled decimal.Decimal `json:"cancelled"`
	Fee       decimal.Decimal `json:"fee"`
	CreatedAt time.Time       `json:"created_at"`
}

// FilterSide keeps the orders on side s, preserving order.
func FilterSide(orders []ActiveOrder, s Side) []ActiveOrder {
	out := make([]ActiveOrder, 0, len(orders))
	for _, o := range orders {
		if o.Side == s {
			out = append(out, o)
		}
	}
	return out
}

// CreateOrderRequest describes an order to place.
type CreateOrderRequest struct {
	Side   Side            `json:"type"`
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
	Market string          `json:"market"`
}

// NewCreateOrderRequest fills amount and market defaults.
func NewCreateOrderRequest(side Side, price decimal.Decimal) CreateOrderRequest {
	return CreateOrderRequest{
		Side:   side,
		Price:  price,
		Amount: DefaultAmount,
		Market: market.DefaultMarket,
	}
}

func (r CreateOrderRequest) String() string {
	return fmt.Sprintf("%s %s@%s %s", r.Side, r.Amount, r.Price, r.Market)
}

// PlacedOrder is the exchange acknowledgement of a placed order.
type PlacedOrder struct {
	ID int64 `json:"id"`
}
