package strategy

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"moneymaker-go/market"
	"moneymaker-go/order"
)

// ErrInvalidConfig is returned when the pricing bounds would let the bot quote
// through the mid-market.
var ErrInvalidConfig = errors.New("invalid price strategy config")

const (
	DefaultMinSpread   = 0.013
	DefaultMaxBidDrift = 0.999997
	DefaultMaxAskDrift = 1.000003
)

var (
	// tolerance of the tight-market band around the target price
	bandInner = decimal.RequireFromString("0.001")
	bandOuter = decimal.RequireFromString("0.003")
	one       = decimal.NewFromInt(1)
	ten       = decimal.NewFromInt(10)
	// spread percentage floor of the tight regime before minSpread is added
	tightBase = decimal.RequireFromString("1.01")
)

// Config holds the pricing parameters. Zero values fall back to defaults;
// MinAskSpread/MinBidSpread are derived from MinSpread unless set explicitly.
type Config struct {
	MinSpread    float64 `yaml:"minSpread"`
	MinAskSpread float64 `yaml:"minAskSpread"`
	MinBidSpread float64 `yaml:"minBidSpread"`
	MaxBidDrift  float64 `yaml:"maxBidDrift"`
	MaxAskDrift  float64 `yaml:"maxAskDrift"`
}

// DefaultConfig returns the production pricing parameters.
func DefaultConfig() Config {
	return Config{
		MinSpread:   DefaultMinSpread,
		MaxBidDrift: DefaultMaxBidDrift,
		MaxAskDrift: DefaultMaxAskDrift,
	}
}

// PriceStrategy computes target prices and decides whether resting orders are
// still acceptable for a given ticker. It is immutable and safe to share.
type PriceStrategy struct {
	minSpread    decimal.Decimal
	minAskSpread decimal.Decimal
	minBidSpread decimal.Decimal
	maxBidDrift  decimal.Decimal
	maxAskDrift  decimal.Decimal
}

// New validates cfg and builds a strategy.
func New(cfg Config) (*PriceStrategy, error) {
	if cfg.MinSpread == 0 {
		cfg.MinSpread = DefaultMinSpread
	}
	if cfg.MaxBidDrift == 0 {
		cfg.MaxBidDrift = DefaultMaxBidDrift
	}
	if cfg.MaxAskDrift == 0 {
		cfg.MaxAskDrift = DefaultMaxAskDrift
	}
	if cfg.MinSpread < 0 {
		return nil, fmt.Errorf("%w: minSpread must be >= 0, got %v", ErrInvalidConfig, cfg.MinSpread)
	}

	minSpread := decimal.NewFromFloat(cfg.MinSpread)
	s := &PriceStrategy{
		minSpread:    minSpread,
		minAskSpread: one.Add(minSpread),
		minBidSpread: one.Sub(minSpread),
		maxBidDrift:  decimal.NewFromFloat(cfg.MaxBidDrift),
		maxAskDrift:  decimal.NewFromFloat(cfg.MaxAskDrift),
	}
	if cfg.MinAskSpread != 0 {
		s.minAskSpread = decimal.NewFromFloat(cfg.MinAskSpread)
	}
	if cfg.MinBidSpread != 0 {
		s.minBidSpread = decimal.NewFromFloat(cfg.MinBidSpread)
	}

	if s.minBidSpread.GreaterThan(one) || s.minAskSpread.LessThan(one) {
		return nil, fmt.Errorf("%w: need minBidSpread <= 1 <= minAskSpread, got %s and %s",
			ErrInvalidConfig, s.minBidSpread, s.minAskSpread)
	}
	if s.maxBidDrift.GreaterThan(one) || s.maxAskDrift.LessThan(one) {
		return nil, fmt.Errorf("%w: need maxBidDrift <= 1 <= maxAskDrift, got %s and %s",
			ErrInvalidConfig, s.maxBidDrift, s.maxAskDrift)
	}
	return s, nil
}

// MustNew panics on an invalid config. Intended for tests and constants.
func MustNew(cfg Config) *PriceStrategy {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *PriceStrategy) MinAskSpread() decimal.Decimal { return s.minAskSpread }
func (s *PriceStrategy) MinBidSpread() decimal.Decimal { return s.minBidSpread }

// MinAsk is the lowest ask that keeps the required spread above bid.
func (s *PriceStrategy) MinAsk(bid decimal.Decimal) decimal.Decimal {
	return market.Round2(bid.Mul(s.minAskSpread))
}

// MaxBid is the highest bid that keeps the required spread below ask.
func (s *PriceStrategy) MaxBid(ask decimal.Decimal) decimal.Decimal {
	return market.Round2(ask.Mul(s.minBidSpread))
}

// AskPrice is where a new ask should be placed.
func (s *PriceStrategy) AskPrice(t market.Ticker) decimal.Decimal {
	return decimal.Max(s.MinAsk(t.Bid), t.Ask)
}

// BidPrice is where a new bid should be placed.
func (s *PriceStrategy) BidPrice(t market.Ticker) decimal.Decimal {
	return decimal.Min(s.MaxBid(t.Ask), t.Bid)
}

// PriceFor dispatches to AskPrice or BidPrice.
func (s *PriceStrategy) PriceFor(side order.Side, t market.Ticker) decimal.Decimal {
	if side == order.Bid {
		return s.BidPrice(t)
	}
	return s.AskPrice(t)
}

// IsValid is the hard profitability bound. An order failing it must be replaced.
func (s *PriceStrategy) IsValid(o order.ActiveOrder, t market.Ticker) bool {
	if o.Side == order.Bid {
		return o.Price.LessThanOrEqual(s.MaxBid(t.Ask))
	}
	return o.Price.GreaterThanOrEqual(s.MinAsk(t.Bid))
}

// tight reports whether the market spread percentage is at most 1.01 + minSpread*10.
func (s *PriceStrategy) tight(t market.Ticker) bool {
	return t.SpreadAsPercentage().LessThanOrEqual(tightBase.Add(s.minSpread.Mul(ten)))
}

// OutOfSync is the soft drift check.
//
// In a tight market the order must sit in a narrow band around the strategy's
// target and stay behind the top of book. In a wide market it must track the top
// of book within the drift tolerance.
func (s *PriceStrategy) OutOfSync(o order.ActiveOrder, t market.Ticker) bool {
	p := o.Price
	if s.tight(t) {
		if o.Side == order.Ask {
			lo := t.Bid.Mul(s.minAskSpread.Sub(bandInner))
			hi := t.Bid.Mul(s.minAskSpread.Add(bandOuter))
			return p.LessThan(lo) || p.GreaterThan(hi) || p.LessThan(t.Ask)
		}
		lo := t.Ask.Mul(s.minBidSpread.Sub(bandOuter))
		// cent precision: a bid placed at MaxBid stays inside the band
		hi := s.MaxBid(t.Ask)
		return p.LessThan(lo) || p.GreaterThan(hi) || p.GreaterThan(t.Bid)
	}

	if o.Side == order.Ask {
		return p.LessThan(t.Ask) || p.GreaterThan(t.Ask.Mul(s.maxAskDrift))
	}
	return p.GreaterThan(t.Bid) || p.LessThan(t.Bid.Mul(s.maxBidDrift))
}

// AllValid decides keep versus replace for a set of orders.
func (s *PriceStrategy) AllValid(orders []order.ActiveOrder, t market.Ticker) bool {
	for _, o := range orders {
		if !s.IsValid(o, t) || s.OutOfSync(o, t) {
			return false
		}
	}
	return true
}

func (s *PriceStrategy) String() string {
	return fmt.Sprintf("minSpread=%s ask=%s bid=%s drift=[%s,%s]",
		s.minSpread, s.minAskSpread, s.minBidSpread, s.maxBidDrift, s.maxAskDrift)
}
