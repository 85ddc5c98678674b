// Package model defines the fact records and derived statuses of the bridge
// status engine.
//
// The types here are snapshots of independently-fetched, eventually-consistent
// facts: a cross-chain request record owned by the parachain ledger, best-effort
// Bitcoin payment evidence, a vault collateral snapshot, and the protocol's
// security parameters. The reducers in internal/status and internal/vault fold
// them into the small set of user-meaningful states a dashboard renders.
//
// Optional fields are pointers. Absence means "not yet observed" and is never
// conflated with zero.
package model

import (
	"github.com/shopspring/decimal"

	"bridgewatch/internal/money"
)

// RequestKind distinguishes the two user flows over a vault.
type RequestKind string

const (
	// KindIssue is a request to lock Bitcoin and mint the wrapped asset.
	KindIssue RequestKind = "issue"

	// KindRedeem is a request to burn the wrapped asset and reclaim Bitcoin.
	KindRedeem RequestKind = "redeem"
)

// OnChainPhase is the authoritative lifecycle phase decided by the parachain
// ledger. Phase transitions are monotone and owned exclusively by the chain;
// this engine never moves a request out of a terminal phase.
type OnChainPhase string

const (
	PhasePending    OnChainPhase = "Pending"
	PhaseCompleted  OnChainPhase = "Completed"
	PhaseExpired    OnChainPhase = "Expired"
	PhaseRetried    OnChainPhase = "Retried"
	PhaseReimbursed OnChainPhase = "Reimbursed"
	PhaseCancelled  OnChainPhase = "Cancelled"
)

// RequestStatus is the canonical display status of an issue or redeem request.
//
// Terminal statuses mirror the on-chain phase; pending sub-statuses refine
// PhasePending with Bitcoin-side payment evidence.
type RequestStatus string

const (
	StatusCompleted  RequestStatus = "Completed"
	StatusExpired    RequestStatus = "Expired"
	StatusRetried    RequestStatus = "Retried"
	StatusReimbursed RequestStatus = "Reimbursed"
	StatusCancelled  RequestStatus = "Cancelled"

	// StatusPendingBitcoinTxNotFound: no matching Bitcoin payment observed yet.
	StatusPendingBitcoinTxNotFound RequestStatus = "PendingBitcoinTxNotFound"

	// StatusPendingBitcoinTxNotIncluded: payment seen but not yet included in
	// a Bitcoin block.
	StatusPendingBitcoinTxNotIncluded RequestStatus = "PendingBitcoinTxNotIncluded"

	// StatusPendingTooFewConfirmations: payment included but one of the two
	// confirmation-depth gates (Bitcoin reorg safety, parachain finality) has
	// not passed yet.
	StatusPendingTooFewConfirmations RequestStatus = "PendingTooFewConfirmations"

	// StatusPendingEnoughConfirmations: both depth gates passed; the payment
	// is economically safe to act on.
	StatusPendingEnoughConfirmations RequestStatus = "PendingEnoughConfirmations"
)

// VaultStatus is the health label of a vault.
type VaultStatus string

const (
	VaultActive              VaultStatus = "Active"
	VaultUnderCollateralized VaultStatus = "UnderCollateralized"
	VaultLiquidated          VaultStatus = "Liquidated"
	VaultTheftReported       VaultStatus = "TheftReported"
)

// RequestRecord is an immutable snapshot of an issue or redeem request as
// fetched from the indexer. Issue and redeem records are structurally
// identical for status purposes.
type RequestRecord struct {
	ID                      string
	Kind                    RequestKind
	RequestedWrappedAmount  money.Amount
	CreationParachainHeight uint32
	VaultID                 string
	UserBitcoinAddress      string
	OnChainPhase            OnChainPhase
}

// ConfirmationEvidence is the best-effort Bitcoin-side observation of the
// payment tied to a request.
//
// The Bitcoin lookup collaborator either finds a matching transaction or it
// does not; lookup failures and timeouts degrade upstream to "not found",
// since both mean "cannot yet prove payment". Confirmations and
// ConfirmedAtParachainHeight are nil until observed.
type ConfirmationEvidence struct {
	TransactionFound bool

	// TransactionID is the Bitcoin txid of the matching payment, empty when
	// TransactionFound is false.
	TransactionID string

	// Confirmations is the Bitcoin confirmation depth of the payment, nil
	// when the depth has not been observed.
	Confirmations *uint32

	// ConfirmedAtParachainHeight is the parachain active height at which the
	// payment first reached a stable confirmation depth, nil until relayed.
	ConfirmedAtParachainHeight *uint32
}

// SecurityThresholds are the protocol's on-chain security parameters,
// immutable per evaluation.
type SecurityThresholds struct {
	// RequiredBitcoinConfirmations is the Bitcoin depth a payment must reach
	// before it is considered reorg-safe.
	RequiredBitcoinConfirmations uint32

	// RequiredParachainConfirmations is the parachain depth the relayed
	// inclusion must reach before it is considered final.
	RequiredParachainConfirmations uint32

	// SecureCollateralRatio is the minimum healthy collateralization,
	// expressed as a percentage.
	SecureCollateralRatio decimal.Decimal

	// LiquidationCollateralRatio is the percentage below which a vault is
	// seized.
	LiquidationCollateralRatio decimal.Decimal
}

// VaultSnapshot is an immutable snapshot of a vault's collateral and debt
// position together with its irreversible on-chain flags.
type VaultSnapshot struct {
	ID               string
	CollateralLocked money.Amount
	IssuedTokens     money.Amount
	ToBeIssuedTokens money.Amount

	// Liquidated reports whether the chain has seized the vault.
	Liquidated bool

	// StolenBitcoinDetected reports whether the chain has flagged the vault
	// for Bitcoin theft.
	StolenBitcoinDetected bool
}
