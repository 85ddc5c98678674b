// Package money provides exact, currency-tagged monetary amounts for the bridge.
//
// Every amount in the system is an exact fixed-point decimal tagged with the
// currency it denominates. Amounts of different currencies can never be added
// or compared directly; crossing currencies requires an explicit ExchangeRate.
// All arithmetic uses decimal.Decimal to avoid floating-point precision issues
// common in financial applications.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency identifies an asset handled by the bridge.
type Currency string

const (
	// WrappedBTC is the Bitcoin-backed token minted against vault collateral.
	WrappedBTC Currency = "iBTC"

	// RelayNative is the relay-chain native token vaults lock as collateral.
	RelayNative Currency = "DOT"
)

// Decimal places of the smallest on-chain unit for each asset. Indexer
// payloads carry integer base units (satoshi, planck); these shifts convert
// them to whole-asset decimals.
const (
	SatoshiDecimals = 8
	PlanckDecimals  = 10
)

// Errors signalling caller contract violations. These are programming defects,
// never transient data conditions, and are deliberately loud.
var (
	// ErrInvalidAmount indicates a negative value where only non-negative
	// amounts are meaningful (collateral, debt, fees).
	ErrInvalidAmount = errors.New("invalid monetary amount")

	// ErrCurrencyMismatch indicates two amounts of different currencies were
	// combined without an exchange rate.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrInvalidRate indicates a non-positive exchange rate.
	ErrInvalidRate = errors.New("invalid exchange rate")
)

// Amount is an exact non-negative quantity of a single currency.
//
// The zero value is a zero amount of the empty currency and is only useful as
// a placeholder; construct real amounts with NewAmount or Zero.
type Amount struct {
	currency Currency
	value    decimal.Decimal
}

// NewAmount creates an amount of the given currency.
//
// Negative values are rejected with ErrInvalidAmount: every quantity in this
// domain (collateral, issued tokens, fees) is non-negative by construction.
func NewAmount(c Currency, value decimal.Decimal) (Amount, error) {
	if value.IsNegative() {
		return Amount{}, fmt.Errorf("%w: %s %s", ErrInvalidAmount, value, c)
	}
	return Amount{currency: c, value: value}, nil
}

// NewAmountFromBaseUnits creates an amount from an integer base-unit string
// (satoshi for the wrapped asset, planck for the collateral asset) as carried
// by indexer payloads.
func NewAmountFromBaseUnits(c Currency, baseUnits string, decimals int32) (Amount, error) {
	v, err := decimal.NewFromString(baseUnits)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, baseUnits)
	}
	return NewAmount(c, v.Shift(-decimals))
}

// Zero returns the zero amount of the given currency.
func Zero(c Currency) Amount {
	return Amount{currency: c, value: decimal.Zero}
}

// Currency returns the currency tag of the amount.
func (a Amount) Currency() Currency {
	return a.currency
}

// Value returns the exact decimal value of the amount.
func (a Amount) Value() decimal.Decimal {
	return a.value
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool {
	return a.value.IsZero()
}

// Add returns the sum of two amounts of the same currency.
func (a Amount) Add(b Amount) (Amount, error) {
	if a.currency != b.currency {
		return Amount{}, fmt.Errorf("%w: %s + %s", ErrCurrencyMismatch, a.currency, b.currency)
	}
	return Amount{currency: a.currency, value: a.value.Add(b.value)}, nil
}

// Cmp compares two amounts of the same currency.
// It returns -1 if a < b, 0 if a == b and 1 if a > b.
func (a Amount) Cmp(b Amount) (int, error) {
	if a.currency != b.currency {
		return 0, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, a.currency, b.currency)
	}
	return a.value.Cmp(b.value), nil
}

// String renders the amount for logs, e.g. "1.5 iBTC". Display rounding is a
// presentation concern and is not performed here.
func (a Amount) String() string {
	return fmt.Sprintf("%s %s", a.value, a.currency)
}
