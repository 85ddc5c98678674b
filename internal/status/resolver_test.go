package status

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"bridgewatch/internal/model"
)

func u32(v uint32) *uint32 { return &v }

// testThresholds mirror a typical deployment: 6 Bitcoin confirmations and 5
// parachain confirmations.
var testThresholds = model.SecurityThresholds{
	RequiredBitcoinConfirmations:   6,
	RequiredParachainConfirmations: 5,
	SecureCollateralRatio:          decimal.RequireFromString("150"),
	LiquidationCollateralRatio:     decimal.RequireFromString("110"),
}

func pendingRequest() model.RequestRecord {
	return model.RequestRecord{
		ID:                 "0xabc123",
		Kind:               model.KindRedeem,
		VaultID:            "vault-1",
		UserBitcoinAddress: "bc1qexampleaddressxxxxxxxxxxxxxxxxxxxx",
		OnChainPhase:       model.PhasePending,
	}
}

func TestResolveTerminalPhaseWins(t *testing.T) {
	// Strong evidence that would otherwise resolve to enough confirmations.
	strongEvidence := &model.ConfirmationEvidence{
		TransactionFound:           true,
		TransactionID:              "deadbeef",
		Confirmations:              u32(100),
		ConfirmedAtParachainHeight: u32(1),
	}

	tests := []struct {
		phase model.OnChainPhase
		want  model.RequestStatus
	}{
		{model.PhaseCompleted, model.StatusCompleted},
		{model.PhaseExpired, model.StatusExpired},
		{model.PhaseRetried, model.StatusRetried},
		{model.PhaseReimbursed, model.StatusReimbursed},
		{model.PhaseCancelled, model.StatusCancelled},
	}

	for _, tc := range tests {
		t.Run(string(tc.phase), func(t *testing.T) {
			req := pendingRequest()
			req.OnChainPhase = tc.phase

			// The chain's phase is authoritative regardless of evidence.
			assert.Equal(t, tc.want, Resolve(req, strongEvidence, testThresholds, 10_000))
			assert.Equal(t, tc.want, Resolve(req, nil, testThresholds, 10_000))
			assert.Equal(t, tc.want, Resolve(req, &model.ConfirmationEvidence{}, testThresholds, 0))
		})
	}
}

func TestResolveTerminalStatusIsStable(t *testing.T) {
	// Once terminal, re-evaluations with any evidence and any height must
	// return the same terminal status.
	req := pendingRequest()
	req.OnChainPhase = model.PhaseCompleted

	evidences := []*model.ConfirmationEvidence{
		nil,
		{TransactionFound: false},
		{TransactionFound: true, Confirmations: u32(0)},
		{TransactionFound: true, Confirmations: u32(50), ConfirmedAtParachainHeight: u32(10)},
	}
	for _, evidence := range evidences {
		for _, height := range []uint32{0, 1, 500, 4_294_967_295} {
			assert.Equal(t, model.StatusCompleted, Resolve(req, evidence, testThresholds, height))
		}
	}
}

func TestResolvePendingRefinement(t *testing.T) {
	tests := []struct {
		name     string
		evidence *model.ConfirmationEvidence
		height   uint32
		want     model.RequestStatus
	}{
		{
			name:     "no evidence",
			evidence: nil,
			height:   104,
			want:     model.StatusPendingBitcoinTxNotFound,
		},
		{
			name:     "transaction not found",
			evidence: &model.ConfirmationEvidence{TransactionFound: false},
			height:   104,
			want:     model.StatusPendingBitcoinTxNotFound,
		},
		{
			name:     "found but confirmations unknown",
			evidence: &model.ConfirmationEvidence{TransactionFound: true, TransactionID: "aa"},
			height:   104,
			want:     model.StatusPendingBitcoinTxNotIncluded,
		},
		{
			name: "found with zero confirmations",
			evidence: &model.ConfirmationEvidence{
				TransactionFound: true, TransactionID: "aa", Confirmations: u32(0),
			},
			height: 104,
			want:   model.StatusPendingBitcoinTxNotIncluded,
		},
		{
			name: "both depths insufficient",
			evidence: &model.ConfirmationEvidence{
				TransactionFound: true, TransactionID: "aa",
				Confirmations: u32(1), ConfirmedAtParachainHeight: u32(100),
			},
			height: 104,
			want:   model.StatusPendingTooFewConfirmations,
		},
		{
			name: "bitcoin depth met, relay height unknown",
			evidence: &model.ConfirmationEvidence{
				TransactionFound: true, TransactionID: "aa", Confirmations: u32(6),
			},
			height: 104,
			want:   model.StatusPendingTooFewConfirmations,
		},
		{
			name: "bitcoin depth met, parachain depth short by one",
			evidence: &model.ConfirmationEvidence{
				TransactionFound: true, TransactionID: "aa",
				Confirmations: u32(6), ConfirmedAtParachainHeight: u32(100),
			},
			height: 104,
			want:   model.StatusPendingTooFewConfirmations,
		},
		{
			name: "bitcoin depth short by one, parachain depth met",
			evidence: &model.ConfirmationEvidence{
				TransactionFound: true, TransactionID: "aa",
				Confirmations: u32(5), ConfirmedAtParachainHeight: u32(100),
			},
			height: 105,
			want:   model.StatusPendingTooFewConfirmations,
		},
		{
			name: "both boundaries inclusive",
			evidence: &model.ConfirmationEvidence{
				TransactionFound: true, TransactionID: "aa",
				Confirmations: u32(6), ConfirmedAtParachainHeight: u32(100),
			},
			height: 105,
			want:   model.StatusPendingEnoughConfirmations,
		},
		{
			name: "comfortably past both gates",
			evidence: &model.ConfirmationEvidence{
				TransactionFound: true, TransactionID: "aa",
				Confirmations: u32(60), ConfirmedAtParachainHeight: u32(100),
			},
			height: 2_000,
			want:   model.StatusPendingEnoughConfirmations,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Resolve(pendingRequest(), tc.evidence, testThresholds, tc.height)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveDepthComparisonDoesNotWrap(t *testing.T) {
	// Infinitely strict thresholds near the top of the u32 range must still
	// resolve conservatively instead of wrapping around.
	strict := model.SecurityThresholds{
		RequiredBitcoinConfirmations:   1,
		RequiredParachainConfirmations: 4_294_967_295,
	}
	evidence := &model.ConfirmationEvidence{
		TransactionFound: true, TransactionID: "aa",
		Confirmations: u32(10), ConfirmedAtParachainHeight: u32(4_294_967_290),
	}

	got := Resolve(pendingRequest(), evidence, strict, 4_294_967_295)
	assert.Equal(t, model.StatusPendingTooFewConfirmations, got)
}

func TestIsTerminal(t *testing.T) {
	terminal := []model.RequestStatus{
		model.StatusCompleted, model.StatusExpired, model.StatusRetried,
		model.StatusReimbursed, model.StatusCancelled,
	}
	for _, s := range terminal {
		assert.True(t, IsTerminal(s), string(s))
	}

	pending := []model.RequestStatus{
		model.StatusPendingBitcoinTxNotFound,
		model.StatusPendingBitcoinTxNotIncluded,
		model.StatusPendingTooFewConfirmations,
		model.StatusPendingEnoughConfirmations,
	}
	for _, s := range pending {
		assert.False(t, IsTerminal(s), string(s))
	}
}
