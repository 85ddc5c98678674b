// Package vault computes collateralization ratios and health labels for
// bridge vaults.
//
// Both reducers are pure and stateless: they fold a vault snapshot, an oracle
// exchange rate and the protocol thresholds into display-ready values, and are
// re-run from scratch on every fresh snapshot.
package vault

import (
	"github.com/shopspring/decimal"

	"bridgewatch/internal/model"
	"bridgewatch/internal/money"
)

var hundred = decimal.NewFromInt(100)

// Collateralization returns the vault's collateralization as a percentage,
// or nil when the issued debt is zero.
//
// A nil ratio means unbounded ("∞") collateralization: a vault with no debt
// cannot be under-collateralized. The nil is deliberate and must never be
// coerced to zero by callers. No rounding is performed; rendering is a
// presentation concern.
//
// The rate must price the wrapped (debt) currency in the collateral currency.
// A rate or collateral of the wrong currency is a caller defect and fails
// with money.ErrCurrencyMismatch.
func Collateralization(
	collateral money.Amount,
	issued money.Amount,
	rate money.ExchangeRate,
) (*decimal.Decimal, error) {
	if issued.IsZero() {
		return nil, nil
	}

	debt, err := rate.Convert(issued)
	if err != nil {
		return nil, err
	}
	if collateral.Currency() != debt.Currency() {
		return nil, money.ErrCurrencyMismatch
	}

	// issued is non-zero and the rate is positive by construction, so the
	// denominator cannot be zero here.
	ratio := collateral.Value().Div(debt.Value()).Mul(hundred)
	return &ratio, nil
}

// SettledCollateralization is the ratio backing only the already issued
// tokens.
func SettledCollateralization(v model.VaultSnapshot, rate money.ExchangeRate) (*decimal.Decimal, error) {
	return Collateralization(v.CollateralLocked, v.IssuedTokens, rate)
}

// UnsettledCollateralization is the ratio backing issued plus to-be-issued
// tokens, the figure relevant while issue requests are still pending.
func UnsettledCollateralization(v model.VaultSnapshot, rate money.ExchangeRate) (*decimal.Decimal, error) {
	debt, err := v.IssuedTokens.Add(v.ToBeIssuedTokens)
	if err != nil {
		return nil, err
	}
	return Collateralization(v.CollateralLocked, debt, rate)
}
