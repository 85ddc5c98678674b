// Package status derives the canonical lifecycle status of issue and redeem
// requests.
//
// The resolver reconciles two independent, eventually-consistent ledgers: the
// parachain, which owns the request's lifecycle phase, and Bitcoin, observed
// through best-effort payment evidence. It is a pure total function with no
// error outcome; absence of information degrades to the most conservative
// non-terminal status rather than failing.
package status

import "bridgewatch/internal/model"

// Resolve maps a request snapshot plus payment evidence to its display status.
//
// The on-chain phase wins outright whenever it is terminal: once the chain has
// closed a request, Bitcoin evidence is irrelevant, however it later changes.
// This is what guarantees terminal-state monotonicity across re-evaluations.
//
// For pending requests the status is refined through both confirmation-depth
// gates. Each gate is inclusive: a payment with exactly the required Bitcoin
// depth, whose relayed inclusion height plus the required parachain depth
// equals the current height, has enough confirmations.
func Resolve(
	req model.RequestRecord,
	evidence *model.ConfirmationEvidence,
	thresholds model.SecurityThresholds,
	currentParachainHeight uint32,
) model.RequestStatus {
	switch req.OnChainPhase {
	case model.PhaseCompleted:
		return model.StatusCompleted
	case model.PhaseExpired:
		return model.StatusExpired
	case model.PhaseRetried:
		return model.StatusRetried
	case model.PhaseReimbursed:
		return model.StatusReimbursed
	case model.PhaseCancelled:
		return model.StatusCancelled
	}

	// PhasePending, refined with whatever evidence is available.
	if evidence == nil || !evidence.TransactionFound {
		return model.StatusPendingBitcoinTxNotFound
	}
	if evidence.Confirmations == nil || *evidence.Confirmations == 0 {
		return model.StatusPendingBitcoinTxNotIncluded
	}
	if *evidence.Confirmations < thresholds.RequiredBitcoinConfirmations {
		return model.StatusPendingTooFewConfirmations
	}
	if evidence.ConfirmedAtParachainHeight == nil {
		// Included on Bitcoin but the parachain depth cannot be evaluated yet.
		return model.StatusPendingTooFewConfirmations
	}
	// uint64 arithmetic so the sum cannot wrap near the top of the u32 range.
	confirmedAt := uint64(*evidence.ConfirmedAtParachainHeight)
	if confirmedAt+uint64(thresholds.RequiredParachainConfirmations) > uint64(currentParachainHeight) {
		return model.StatusPendingTooFewConfirmations
	}
	return model.StatusPendingEnoughConfirmations
}

// IsTerminal reports whether a status can never change on re-evaluation.
func IsTerminal(s model.RequestStatus) bool {
	switch s {
	case model.StatusCompleted, model.StatusExpired, model.StatusRetried,
		model.StatusReimbursed, model.StatusCancelled:
		return true
	}
	return false
}
