// Package service provides the orchestration layer of the bridge status
// engine.
//
// The Evaluator gathers a snapshot of independently-fetched facts (request
// records, vault snapshots, thresholds, the oracle rate, payment evidence and
// the current parachain height), reduces it through the pure derivation
// packages, and emits status updates. The Dispatcher fans those updates out to
// subscribers.
//
// Every fetch is independent and allowed to fail on its own: a missing fact
// degrades the affected reductions to their most conservative outcome instead
// of failing the evaluation. The evaluator keeps no state between ticks
// beyond the latest known chain height; each evaluation is an idempotent
// reduction over fresh snapshots.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"bridgewatch/internal/model"
	"bridgewatch/internal/money"
	"bridgewatch/internal/status"
	"bridgewatch/internal/vault"
)

// BitcoinLookup finds the Bitcoin payment tied to a bridge request.
//
// Implementations return evidence with TransactionFound == false when no
// payment exists; errors are reserved for failed lookups. The evaluator
// treats both identically, since neither proves payment.
type BitcoinLookup interface {
	FindPayment(ctx context.Context, requestID, address string, useOpReturn bool) (*model.ConfirmationEvidence, error)
}

// ChainIndexer fetches parachain-side snapshots: requests, vaults, protocol
// parameters, the oracle rate, and payment relay heights.
type ChainIndexer interface {
	Requests(ctx context.Context, limit, offset int) ([]model.RequestRecord, error)
	Request(ctx context.Context, id string) (*model.RequestRecord, error)
	Vaults(ctx context.Context) ([]model.VaultSnapshot, error)
	SecurityThresholds(ctx context.Context) (*model.SecurityThresholds, error)
	ExchangeRate(ctx context.Context) (*money.ExchangeRate, error)
	PaymentInclusionHeight(ctx context.Context, txid string) (*uint32, error)
	ActiveBlockNumber(ctx context.Context) (uint32, error)
}

// RequestEvaluation is a request snapshot together with its derived status.
type RequestEvaluation struct {
	Request           model.RequestRecord
	Status            model.RequestStatus
	Evidence          *model.ConfirmationEvidence
	EvaluatedAtHeight uint32
}

// VaultEvaluation is a vault snapshot together with its derived health.
// Nil ratios mean unbounded collateralization and render as "∞".
type VaultEvaluation struct {
	Vault           model.VaultSnapshot
	Status          model.VaultStatus
	SettledRatio    *decimal.Decimal
	UnsettledRatio  *decimal.Decimal
	NearLiquidation bool
}

// UpdateKind identifies the subject of a status update.
type UpdateKind string

const (
	UpdateRequest UpdateKind = "request"
	UpdateVault   UpdateKind = "vault"
)

// StatusUpdate is one freshly derived status, published after each
// evaluation pass. Exactly one of Request and Vault is set, matching Kind.
type StatusUpdate struct {
	Kind      UpdateKind
	SubjectID string
	Request   *RequestEvaluation
	Vault     *VaultEvaluation
}

// EvaluatorConfig holds configuration parameters for the Evaluator.
type EvaluatorConfig struct {
	// Interval is the cadence of background evaluation passes.
	Interval time.Duration

	// PageSize bounds how many requests one pass evaluates.
	PageSize int
}

// conservativeThresholds stand in when the protocol parameters could not be
// fetched: infinitely strict confirmation requirements, so no pending request
// can falsely report enough confirmations. The resolver's uint64 arithmetic
// keeps the depth comparison from wrapping.
var conservativeThresholds = model.SecurityThresholds{
	RequiredBitcoinConfirmations:   math.MaxUint32,
	RequiredParachainConfirmations: math.MaxUint32,
}

// Evaluator derives request and vault statuses from fresh fact snapshots.
type Evaluator struct {
	cfg     EvaluatorConfig
	lookup  BitcoinLookup
	indexer ChainIndexer

	// height is the latest parachain active height learned from the head
	// subscription or the indexer fallback. Monotone non-decreasing.
	height  atomic.Uint32
	started atomic.Bool
	cancel  context.CancelFunc
}

// NewEvaluator creates an evaluator with explicit collaborator injection.
func NewEvaluator(cfg EvaluatorConfig, lookup BitcoinLookup, indexer ChainIndexer) (*Evaluator, error) {
	if lookup == nil {
		return nil, errors.New("bitcoin lookup is required")
	}
	if indexer == nil {
		return nil, errors.New("chain indexer is required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("evaluation interval must be positive")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	return &Evaluator{cfg: cfg, lookup: lookup, indexer: indexer}, nil
}

// Run starts the background evaluation loop and returns the stream of status
// updates. Heights from the parachain head subscription arrive on heights;
// the loop also re-evaluates everything on each tick of the configured
// interval. The returned channel closes when ctx is cancelled.
func (e *Evaluator) Run(ctx context.Context, heights <-chan uint32) (<-chan StatusUpdate, error) {
	if !e.started.CompareAndSwap(false, true) {
		return nil, errors.New("evaluator already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	out := make(chan StatusUpdate, 256)
	ticker := time.NewTicker(e.cfg.Interval)

	go func() {
		defer close(out)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("evaluator stopped")
				return
			case h, ok := <-heights:
				if !ok {
					heights = nil // head subscription gone; ticker keeps us going
					continue
				}
				e.observeHeight(h)
			case <-ticker.C:
				for _, update := range e.evaluateAll(ctx) {
					out <- update
				}
			}
		}
	}()

	return out, nil
}

// Stop cancels the background loop.
func (e *Evaluator) Stop() error {
	if !e.started.CompareAndSwap(true, false) {
		return errors.New("evaluator not started")
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	return nil
}

// observeHeight records a newly observed height, ignoring regressions.
func (e *Evaluator) observeHeight(h uint32) {
	for {
		last := e.height.Load()
		if h <= last {
			return
		}
		if e.height.CompareAndSwap(last, h) {
			return
		}
	}
}

// currentHeight returns the latest known parachain height, falling back to
// an indexer query while the head subscription has not delivered one yet.
func (e *Evaluator) currentHeight(ctx context.Context) uint32 {
	if h := e.height.Load(); h > 0 {
		return h
	}
	h, err := e.indexer.ActiveBlockNumber(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to fetch active block number")
		return 0
	}
	e.observeHeight(h)
	return h
}

// facts is one gathered snapshot. Nil fields mean the fetch failed or has
// not produced data yet; reducers degrade accordingly.
type facts struct {
	thresholds *model.SecurityThresholds
	rate       *money.ExchangeRate
	requests   []model.RequestRecord
	vaults     []model.VaultSnapshot
	height     uint32
}

// gatherFacts runs the independent fetches concurrently. Each failure is
// logged and leaves its field nil; the snapshot is returned regardless.
func (e *Evaluator) gatherFacts(ctx context.Context) facts {
	var f facts
	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		thresholds, err := e.indexer.SecurityThresholds(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("failed to fetch security thresholds")
			return
		}
		f.thresholds = thresholds
	}()
	go func() {
		defer wg.Done()
		rate, err := e.indexer.ExchangeRate(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("failed to fetch oracle rate")
			return
		}
		f.rate = rate
	}()
	go func() {
		defer wg.Done()
		requests, err := e.indexer.Requests(ctx, e.cfg.PageSize, 0)
		if err != nil {
			log.Warn().Err(err).Msg("failed to fetch requests")
			return
		}
		f.requests = requests
	}()
	go func() {
		defer wg.Done()
		vaults, err := e.indexer.Vaults(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("failed to fetch vaults")
			return
		}
		f.vaults = vaults
	}()

	wg.Wait()
	f.height = e.currentHeight(ctx)
	return f
}

// evaluateAll performs one full evaluation pass over the latest snapshot.
func (e *Evaluator) evaluateAll(ctx context.Context) []StatusUpdate {
	f := e.gatherFacts(ctx)

	updates := make([]StatusUpdate, 0, len(f.requests)+len(f.vaults))
	for _, req := range f.requests {
		eval := e.evaluateRequest(ctx, req, f.thresholds, f.height)
		updates = append(updates, StatusUpdate{
			Kind:      UpdateRequest,
			SubjectID: req.ID,
			Request:   &eval,
		})
	}
	for _, snapshot := range f.vaults {
		eval := evaluateVault(snapshot, f.rate, f.thresholds)
		updates = append(updates, StatusUpdate{
			Kind:      UpdateVault,
			SubjectID: snapshot.ID,
			Vault:     &eval,
		})
	}
	return updates
}

// evaluateRequest derives one request's status. Evidence is only gathered
// for pending requests: once the chain has closed a request its phase alone
// determines the status, so the Bitcoin lookup is skipped entirely.
func (e *Evaluator) evaluateRequest(
	ctx context.Context,
	req model.RequestRecord,
	thresholds *model.SecurityThresholds,
	height uint32,
) RequestEvaluation {
	effective := conservativeThresholds
	if thresholds != nil {
		effective = *thresholds
	}

	var evidence *model.ConfirmationEvidence
	if req.OnChainPhase == model.PhasePending {
		evidence = e.gatherEvidence(ctx, req)
	}

	return RequestEvaluation{
		Request:           req,
		Status:            status.Resolve(req, evidence, effective, height),
		Evidence:          evidence,
		EvaluatedAtHeight: height,
	}
}

// gatherEvidence assembles the two halves of the confirmation evidence: the
// Bitcoin lookup for the payment and its depth, and the indexer for the
// height at which the payment was relayed. A failure in either half leaves
// its fields absent; absence is itself a legitimate state to resolve.
func (e *Evaluator) gatherEvidence(ctx context.Context, req model.RequestRecord) *model.ConfirmationEvidence {
	useOpReturn := req.Kind == model.KindRedeem
	evidence, err := e.lookup.FindPayment(ctx, req.ID, req.UserBitcoinAddress, useOpReturn)
	if err != nil {
		log.Warn().Err(err).Str("requestId", req.ID).Msg("bitcoin payment lookup failed")
		return nil
	}
	if evidence == nil || !evidence.TransactionFound {
		return evidence
	}

	relayedAt, err := e.indexer.PaymentInclusionHeight(ctx, evidence.TransactionID)
	if err != nil {
		log.Warn().Err(err).Str("txid", evidence.TransactionID).Msg("payment relay lookup failed")
		return evidence
	}
	evidence.ConfirmedAtParachainHeight = relayedAt
	return evidence
}

// evaluateVault derives one vault's ratios and health label. A missing
// oracle rate leaves both ratios nil, which classifies as unbounded.
func evaluateVault(
	snapshot model.VaultSnapshot,
	rate *money.ExchangeRate,
	thresholds *model.SecurityThresholds,
) VaultEvaluation {
	eval := VaultEvaluation{Vault: snapshot}

	if rate != nil {
		settled, err := vault.SettledCollateralization(snapshot, *rate)
		if err != nil {
			log.Error().Err(err).Str("vaultId", snapshot.ID).Msg("settled collateralization failed")
		} else {
			eval.SettledRatio = settled
		}
		unsettled, err := vault.UnsettledCollateralization(snapshot, *rate)
		if err != nil {
			log.Error().Err(err).Str("vaultId", snapshot.ID).Msg("unsettled collateralization failed")
		} else {
			eval.UnsettledRatio = unsettled
		}
	}

	effective := model.SecurityThresholds{}
	if thresholds != nil {
		effective = *thresholds
	}
	eval.Status = vault.Classify(snapshot, eval.SettledRatio, effective)
	eval.NearLiquidation = vault.NearLiquidation(eval.SettledRatio, effective)
	return eval
}

// EvaluateRequestByID fetches and evaluates a single request on demand.
// It returns nil when the indexer does not know the id.
func (e *Evaluator) EvaluateRequestByID(ctx context.Context, id string) (*RequestEvaluation, error) {
	req, err := e.indexer.Request(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch request %s: %w", id, err)
	}
	if req == nil {
		return nil, nil
	}

	thresholds, err := e.indexer.SecurityThresholds(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to fetch security thresholds")
		thresholds = nil
	}

	eval := e.evaluateRequest(ctx, *req, thresholds, e.currentHeight(ctx))
	return &eval, nil
}

// EvaluateRequests fetches and evaluates a page of requests on demand.
func (e *Evaluator) EvaluateRequests(ctx context.Context, limit, offset int) ([]RequestEvaluation, error) {
	requests, err := e.indexer.Requests(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch requests: %w", err)
	}

	thresholds, err := e.indexer.SecurityThresholds(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to fetch security thresholds")
		thresholds = nil
	}

	height := e.currentHeight(ctx)
	evaluations := make([]RequestEvaluation, 0, len(requests))
	for _, req := range requests {
		evaluations = append(evaluations, e.evaluateRequest(ctx, req, thresholds, height))
	}
	return evaluations, nil
}

// EvaluateVaults fetches and evaluates all vaults on demand. The oracle rate
// and thresholds are fetched independently and may each be absent.
func (e *Evaluator) EvaluateVaults(ctx context.Context) ([]VaultEvaluation, error) {
	vaults, err := e.indexer.Vaults(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch vaults: %w", err)
	}

	rate, err := e.indexer.ExchangeRate(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to fetch oracle rate")
		rate = nil
	}
	thresholds, err := e.indexer.SecurityThresholds(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to fetch security thresholds")
		thresholds = nil
	}

	evaluations := make([]VaultEvaluation, 0, len(vaults))
	for _, snapshot := range vaults {
		evaluations = append(evaluations, evaluateVault(snapshot, rate, thresholds))
	}
	return evaluations, nil
}

// EvaluateVaultByID evaluates a single vault on demand, nil when unknown.
func (e *Evaluator) EvaluateVaultByID(ctx context.Context, id string) (*VaultEvaluation, error) {
	evaluations, err := e.EvaluateVaults(ctx)
	if err != nil {
		return nil, err
	}
	for i := range evaluations {
		if evaluations[i].Vault.ID == id {
			return &evaluations[i], nil
		}
	}
	return nil, nil
}
