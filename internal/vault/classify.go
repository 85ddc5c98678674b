package vault

import (
	"github.com/shopspring/decimal"

	"bridgewatch/internal/model"
)

// Classify maps a vault snapshot and its settled collateralization to a
// health label.
//
// Precedence, first match wins:
//  1. theft flagged on chain
//  2. liquidated on chain
//  3. no debt, or ratio at or above the secure threshold: active
//  4. otherwise under-collateralized
//
// Theft and liquidation are irreversible on-chain facts and dominate a ratio
// that might transiently look healthy. A nil ratio is the calculator's
// unbounded sentinel and classifies as active by definition.
func Classify(
	v model.VaultSnapshot,
	settledRatio *decimal.Decimal,
	thresholds model.SecurityThresholds,
) model.VaultStatus {
	switch {
	case v.StolenBitcoinDetected:
		return model.VaultTheftReported
	case v.Liquidated:
		return model.VaultLiquidated
	case settledRatio == nil:
		return model.VaultActive
	case settledRatio.GreaterThanOrEqual(thresholds.SecureCollateralRatio):
		return model.VaultActive
	default:
		return model.VaultUnderCollateralized
	}
}

// NearLiquidation reports whether the settled ratio sits in the warning band
// between the liquidation and secure thresholds. It never fires for a
// debt-free vault.
func NearLiquidation(settledRatio *decimal.Decimal, thresholds model.SecurityThresholds) bool {
	if settledRatio == nil {
		return false
	}
	return settledRatio.LessThan(thresholds.SecureCollateralRatio) &&
		settledRatio.GreaterThanOrEqual(thresholds.LiquidationCollateralRatio)
}
