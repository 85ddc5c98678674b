package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ExchangeRate is an immutable oracle snapshot: one unit of Base is worth
// Rate units of Quote. Snapshots are refreshed externally on a polling
// cadence; consumers only ever see the latest one passed in.
type ExchangeRate struct {
	base  Currency
	quote Currency
	rate  decimal.Decimal
}

// NewExchangeRate creates a rate quoting one unit of base in quote units.
// Non-positive rates are rejected with ErrInvalidRate.
func NewExchangeRate(base, quote Currency, rate decimal.Decimal) (ExchangeRate, error) {
	if !rate.IsPositive() {
		return ExchangeRate{}, fmt.Errorf("%w: %s per %s/%s", ErrInvalidRate, rate, quote, base)
	}
	return ExchangeRate{base: base, quote: quote, rate: rate}, nil
}

// Base returns the currency being priced.
func (r ExchangeRate) Base() Currency {
	return r.base
}

// Quote returns the currency the base is priced in.
func (r ExchangeRate) Quote() Currency {
	return r.quote
}

// Rate returns the price of one base unit in quote units.
func (r ExchangeRate) Rate() decimal.Decimal {
	return r.rate
}

// Convert converts an amount denominated in the base currency into the quote
// currency. Amounts of any other currency are rejected with
// ErrCurrencyMismatch; silent coercion would hide a caller defect.
func (r ExchangeRate) Convert(a Amount) (Amount, error) {
	if a.Currency() != r.base {
		return Amount{}, fmt.Errorf("%w: cannot convert %s with %s/%s rate",
			ErrCurrencyMismatch, a.Currency(), r.quote, r.base)
	}
	return Amount{currency: r.quote, value: a.Value().Mul(r.rate)}, nil
}
