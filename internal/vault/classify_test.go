package vault

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bridgewatch/internal/model"
	"bridgewatch/internal/money"
)

func ratioOf(value string) *decimal.Decimal {
	d := decimal.RequireFromString(value)
	return &d
}

func thresholds(secure, liquidation string) model.SecurityThresholds {
	return model.SecurityThresholds{
		RequiredBitcoinConfirmations:   6,
		RequiredParachainConfirmations: 5,
		SecureCollateralRatio:          decimal.RequireFromString(secure),
		LiquidationCollateralRatio:     decimal.RequireFromString(liquidation),
	}
}

func healthyVault(t *testing.T) model.VaultSnapshot {
	t.Helper()
	return model.VaultSnapshot{
		ID:               "vault-1",
		CollateralLocked: amount(t, money.RelayNative, "1000"),
		IssuedTokens:     amount(t, money.WrappedBTC, "10"),
		ToBeIssuedTokens: money.Zero(money.WrappedBTC),
	}
}

func TestClassifyPrecedence(t *testing.T) {
	t.Run("theft dominates a healthy ratio", func(t *testing.T) {
		v := healthyVault(t)
		v.StolenBitcoinDetected = true

		// Far above the secure threshold, yet still theft.
		got := Classify(v, ratioOf("100000"), thresholds("150", "110"))
		assert.Equal(t, model.VaultTheftReported, got)
	})

	t.Run("theft dominates liquidation", func(t *testing.T) {
		v := healthyVault(t)
		v.StolenBitcoinDetected = true
		v.Liquidated = true

		got := Classify(v, ratioOf("200"), thresholds("150", "110"))
		assert.Equal(t, model.VaultTheftReported, got)
	})

	t.Run("liquidation dominates the ratio", func(t *testing.T) {
		v := healthyVault(t)
		v.Liquidated = true

		got := Classify(v, ratioOf("500"), thresholds("150", "110"))
		assert.Equal(t, model.VaultLiquidated, got)
		got = Classify(v, nil, thresholds("150", "110"))
		assert.Equal(t, model.VaultLiquidated, got)
	})
}

func TestClassifyByRatio(t *testing.T) {
	tests := []struct {
		name   string
		ratio  *decimal.Decimal
		secure string
		want   model.VaultStatus
	}{
		{"no debt is active", nil, "150", model.VaultActive},
		{"exactly at secure threshold is active", ratioOf("150"), "150", model.VaultActive},
		{"above secure threshold is active", ratioOf("200"), "150", model.VaultActive},
		{"below secure threshold is under-collateralized", ratioOf("200"), "250", model.VaultUnderCollateralized},
		{"just below secure threshold is under-collateralized", ratioOf("149.999"), "150", model.VaultUnderCollateralized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(healthyVault(t), tc.ratio, thresholds(tc.secure, "110"))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClassifyEndToEnd(t *testing.T) {
	// 1000 DOT backing 10 iBTC at 50 DOT per iBTC gives 200%.
	v := healthyVault(t)
	settled, err := SettledCollateralization(v, rate(t, "50"))
	require.NoError(t, err)

	// Secure threshold 150%: active.
	assert.Equal(t, model.VaultActive, Classify(v, settled, thresholds("150", "110")))

	// Secure threshold 250%: under-collateralized.
	assert.Equal(t, model.VaultUnderCollateralized, Classify(v, settled, thresholds("250", "110")))
}

func TestNearLiquidation(t *testing.T) {
	th := thresholds("150", "110")

	assert.False(t, NearLiquidation(nil, th), "debt-free vault is never near liquidation")
	assert.False(t, NearLiquidation(ratioOf("150"), th), "at the secure threshold")
	assert.False(t, NearLiquidation(ratioOf("300"), th), "well above the secure threshold")
	assert.True(t, NearLiquidation(ratioOf("149.9"), th), "just inside the warning band")
	assert.True(t, NearLiquidation(ratioOf("110"), th), "at the liquidation threshold")
	assert.False(t, NearLiquidation(ratioOf("109.9"), th), "below the liquidation threshold")
}
