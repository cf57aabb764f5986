package market

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is an asset held on the exchange account.
type Currency string

const (
	ADA Currency = "ADA"
	BTC Currency = "BTC"
	DAI Currency = "DAI"
	ETH Currency = "ETH"
	LTC Currency = "LTC"
	NOK Currency = "NOK"
	XRP Currency = "XRP"
)

var knownCurrencies = map[Currency]struct{}{
	ADA: {}, BTC: {}, DAI: {}, ETH: {}, LTC: {}, NOK: {}, XRP: {},
}

// ParseCurrency normalizes a currency code and rejects unknown ones.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := knownCurrencies[c]; !ok {
		return "", fmt.Errorf("unknown currency %q", s)
	}
	return c, nil
}

// CurrencyBalance is one line of the account balance.
type CurrencyBalance struct {
	Currency  Currency        `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	Hold      decimal.Decimal `json:"hold"`
	Available decimal.Decimal `json:"available"`
}

// Balances is keyed by currency.
type Balances map[Currency]CurrencyBalance

// NewBalances indexes a balance list, skipping currencies the bot does not know.
func NewBalances(list []CurrencyBalance) Balances {
	out := make(Balances, len(list))
	for _, b := range list {
		if _, ok := knownCurrencies[b.Currency]; !ok {
			continue
		}
		out[b.Currency] = b
	}
	return out
}

// Available returns the free amount of c, zero if absent.
func (b Balances) Available(c Currency) decimal.Decimal {
	if cb, ok := b[c]; ok {
		return cb.Available
	}
	return decimal.Zero
}
