package parachain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"bridgewatch/internal/model"
	"bridgewatch/internal/money"
)

// IndexerConfig holds connection parameters for the bridge's GraphQL indexer.
type IndexerConfig struct {
	// Endpoint is the GraphQL HTTP endpoint.
	Endpoint string

	// Timeout bounds each query.
	Timeout time.Duration
}

// defaultIndexerTimeout bounds queries when the config leaves Timeout unset.
const defaultIndexerTimeout = 10 * time.Second

// ErrIndexerQuery indicates the indexer rejected or failed a query.
var ErrIndexerQuery = errors.New("indexer query failed")

// IndexerClient fetches request, vault and protocol-parameter snapshots from
// the bridge indexer over GraphQL. Each method performs one independent
// query; callers compose them into evaluation snapshots and tolerate
// individual failures.
type IndexerClient struct {
	config   IndexerConfig
	httpc    *http.Client
	validate *validator.Validate
}

// NewIndexerClient creates a client for the configured indexer endpoint.
func NewIndexerClient(cfg *IndexerConfig) (*IndexerClient, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, errors.New("indexer endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultIndexerTimeout
	}

	return &IndexerClient{
		config:   *cfg,
		httpc:    &http.Client{Timeout: timeout},
		validate: validator.New(),
	}, nil
}

// Wire records. Amounts travel as integer base-unit strings (satoshi,
// planck) to preserve precision; addresses and phases as plain strings.

type requestRecord struct {
	ID              string `json:"id" validate:"required"`
	Status          string `json:"status" validate:"required"`
	RequestedAmount string `json:"requestedAmountWrapped" validate:"required,numeric"`
	RequestHeight   uint32 `json:"requestHeight"`
	VaultID         string `json:"vaultId" validate:"required"`
	BackingAddress  string `json:"backingAddress" validate:"required"`
}

type vaultRecord struct {
	AccountID        string `json:"accountId" validate:"required"`
	Collateral       string `json:"collateral" validate:"required,numeric"`
	IssuedTokens     string `json:"issuedTokens" validate:"required,numeric"`
	ToBeIssuedTokens string `json:"toBeIssuedTokens" validate:"required,numeric"`
	Liquidated       bool   `json:"liquidated"`
	TheftReported    bool   `json:"theftReported"`
}

type bridgeParamsRecord struct {
	StableBitcoinConfirmations     uint32 `json:"stableBitcoinConfirmations" validate:"required"`
	StableParachainConfirmations   uint32 `json:"stableParachainConfirmations" validate:"required"`
	SecureCollateralThreshold      string `json:"secureCollateralThreshold" validate:"required,numeric"`
	LiquidationCollateralThreshold string `json:"liquidationCollateralThreshold" validate:"required,numeric"`
}

const requestFields = `
      id
      status
      requestedAmountWrapped
      requestHeight
      vaultId
      backingAddress`

const requestsQuery = `query ($limit: Int!, $offset: Int!) {
    issues(limit: $limit, offset: $offset, orderBy: requestHeight_DESC) {` + requestFields + `
    }
    redeems(limit: $limit, offset: $offset, orderBy: requestHeight_DESC) {` + requestFields + `
    }
  }`

const requestByIDQuery = `query ($id: String!) {
    issues(where: {id_eq: $id}) {` + requestFields + `
    }
    redeems(where: {id_eq: $id}) {` + requestFields + `
    }
  }`

const vaultsQuery = `query {
    vaults {
      accountId
      collateral
      issuedTokens
      toBeIssuedTokens
      liquidated
      theftReported
    }
  }`

const bridgeParamsQuery = `query {
    bridgeParams {
      stableBitcoinConfirmations
      stableParachainConfirmations
      secureCollateralThreshold
      liquidationCollateralThreshold
    }
  }`

const oracleRateQuery = `query {
    oracleRate {
      collateralPerWrapped
    }
  }`

const paymentRelayQuery = `query ($txid: String!) {
    paymentRelays(where: {btcTxId_eq: $txid}) {
      confirmedAtParachainHeight
    }
  }`

const activeBlockQuery = `query {
    chainState {
      activeBlockNumber
    }
  }`

// Requests fetches a page of issue and redeem request snapshots, newest
// first.
func (c *IndexerClient) Requests(ctx context.Context, limit, offset int) ([]model.RequestRecord, error) {
	var out struct {
		Issues  []requestRecord `json:"issues"`
		Redeems []requestRecord `json:"redeems"`
	}
	vars := map[string]any{"limit": limit, "offset": offset}
	if err := c.query(ctx, requestsQuery, vars, &out); err != nil {
		return nil, err
	}

	records := make([]model.RequestRecord, 0, len(out.Issues)+len(out.Redeems))
	for _, raw := range out.Issues {
		rec, err := c.toRequest(raw, model.KindIssue)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	for _, raw := range out.Redeems {
		rec, err := c.toRequest(raw, model.KindRedeem)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Request fetches a single request snapshot by id, nil when unknown.
func (c *IndexerClient) Request(ctx context.Context, id string) (*model.RequestRecord, error) {
	var out struct {
		Issues  []requestRecord `json:"issues"`
		Redeems []requestRecord `json:"redeems"`
	}
	if err := c.query(ctx, requestByIDQuery, map[string]any{"id": id}, &out); err != nil {
		return nil, err
	}

	switch {
	case len(out.Issues) > 0:
		rec, err := c.toRequest(out.Issues[0], model.KindIssue)
		if err != nil {
			return nil, err
		}
		return &rec, nil
	case len(out.Redeems) > 0:
		rec, err := c.toRequest(out.Redeems[0], model.KindRedeem)
		if err != nil {
			return nil, err
		}
		return &rec, nil
	}
	return nil, nil
}

// Vaults fetches all vault snapshots.
func (c *IndexerClient) Vaults(ctx context.Context) ([]model.VaultSnapshot, error) {
	var out struct {
		Vaults []vaultRecord `json:"vaults"`
	}
	if err := c.query(ctx, vaultsQuery, nil, &out); err != nil {
		return nil, err
	}

	snapshots := make([]model.VaultSnapshot, 0, len(out.Vaults))
	for _, raw := range out.Vaults {
		if err := c.validate.Struct(&raw); err != nil {
			return nil, fmt.Errorf("invalid vault record: %w", err)
		}

		collateral, err := money.NewAmountFromBaseUnits(money.RelayNative, raw.Collateral, money.PlanckDecimals)
		if err != nil {
			return nil, fmt.Errorf("vault %s collateral: %w", raw.AccountID, err)
		}
		issued, err := money.NewAmountFromBaseUnits(money.WrappedBTC, raw.IssuedTokens, money.SatoshiDecimals)
		if err != nil {
			return nil, fmt.Errorf("vault %s issued tokens: %w", raw.AccountID, err)
		}
		toBeIssued, err := money.NewAmountFromBaseUnits(money.WrappedBTC, raw.ToBeIssuedTokens, money.SatoshiDecimals)
		if err != nil {
			return nil, fmt.Errorf("vault %s to-be-issued tokens: %w", raw.AccountID, err)
		}

		snapshots = append(snapshots, model.VaultSnapshot{
			ID:                    raw.AccountID,
			CollateralLocked:      collateral,
			IssuedTokens:          issued,
			ToBeIssuedTokens:      toBeIssued,
			Liquidated:            raw.Liquidated,
			StolenBitcoinDetected: raw.TheftReported,
		})
	}
	return snapshots, nil
}

// SecurityThresholds fetches the protocol's on-chain security parameters.
func (c *IndexerClient) SecurityThresholds(ctx context.Context) (*model.SecurityThresholds, error) {
	var out struct {
		Params bridgeParamsRecord `json:"bridgeParams"`
	}
	if err := c.query(ctx, bridgeParamsQuery, nil, &out); err != nil {
		return nil, err
	}
	if err := c.validate.Struct(&out.Params); err != nil {
		return nil, fmt.Errorf("invalid bridge params: %w", err)
	}

	secure, err := decimal.NewFromString(out.Params.SecureCollateralThreshold)
	if err != nil {
		return nil, fmt.Errorf("invalid secure threshold: %w", err)
	}
	liquidation, err := decimal.NewFromString(out.Params.LiquidationCollateralThreshold)
	if err != nil {
		return nil, fmt.Errorf("invalid liquidation threshold: %w", err)
	}

	return &model.SecurityThresholds{
		RequiredBitcoinConfirmations:   out.Params.StableBitcoinConfirmations,
		RequiredParachainConfirmations: out.Params.StableParachainConfirmations,
		SecureCollateralRatio:          secure,
		LiquidationCollateralRatio:     liquidation,
	}, nil
}

// ExchangeRate fetches the oracle's latest collateral-per-wrapped rate.
func (c *IndexerClient) ExchangeRate(ctx context.Context) (*money.ExchangeRate, error) {
	var out struct {
		OracleRate struct {
			CollateralPerWrapped string `json:"collateralPerWrapped"`
		} `json:"oracleRate"`
	}
	if err := c.query(ctx, oracleRateQuery, nil, &out); err != nil {
		return nil, err
	}

	value, err := decimal.NewFromString(out.OracleRate.CollateralPerWrapped)
	if err != nil {
		return nil, fmt.Errorf("invalid oracle rate: %w", err)
	}
	rate, err := money.NewExchangeRate(money.WrappedBTC, money.RelayNative, value)
	if err != nil {
		return nil, err
	}
	return &rate, nil
}

// PaymentInclusionHeight fetches the parachain active height at which a
// Bitcoin payment was relayed, nil when the relay has not seen it yet.
func (c *IndexerClient) PaymentInclusionHeight(ctx context.Context, txid string) (*uint32, error) {
	var out struct {
		PaymentRelays []struct {
			ConfirmedAtParachainHeight uint32 `json:"confirmedAtParachainHeight"`
		} `json:"paymentRelays"`
	}
	if err := c.query(ctx, paymentRelayQuery, map[string]any{"txid": txid}, &out); err != nil {
		return nil, err
	}
	if len(out.PaymentRelays) == 0 {
		return nil, nil
	}
	height := out.PaymentRelays[0].ConfirmedAtParachainHeight
	return &height, nil
}

// ActiveBlockNumber fetches the current parachain active height. Used as a
// fallback while the head subscription has not delivered a height yet.
func (c *IndexerClient) ActiveBlockNumber(ctx context.Context) (uint32, error) {
	var out struct {
		ChainState struct {
			ActiveBlockNumber uint32 `json:"activeBlockNumber"`
		} `json:"chainState"`
	}
	if err := c.query(ctx, activeBlockQuery, nil, &out); err != nil {
		return 0, err
	}
	return out.ChainState.ActiveBlockNumber, nil
}

// toRequest converts a wire record into a domain snapshot.
func (c *IndexerClient) toRequest(raw requestRecord, kind model.RequestKind) (model.RequestRecord, error) {
	if err := c.validate.Struct(&raw); err != nil {
		return model.RequestRecord{}, fmt.Errorf("invalid %s record: %w", kind, err)
	}

	amount, err := money.NewAmountFromBaseUnits(money.WrappedBTC, raw.RequestedAmount, money.SatoshiDecimals)
	if err != nil {
		return model.RequestRecord{}, fmt.Errorf("request %s amount: %w", raw.ID, err)
	}

	return model.RequestRecord{
		ID:                      raw.ID,
		Kind:                    kind,
		RequestedWrappedAmount:  amount,
		CreationParachainHeight: raw.RequestHeight,
		VaultID:                 raw.VaultID,
		UserBitcoinAddress:      raw.BackingAddress,
		OnChainPhase:            model.OnChainPhase(raw.Status),
	}, nil
}

// gql wire envelope types.

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors,omitempty"`
}

// query POSTs a GraphQL document and decodes the data envelope into out.
func (c *IndexerClient) query(ctx context.Context, document string, variables map[string]any, out any) error {
	payload, err := json.Marshal(gqlRequest{Query: document, Variables: variables})
	if err != nil {
		return fmt.Errorf("failed to encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIndexerQuery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrIndexerQuery, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read indexer response: %w", err)
	}

	var envelope gqlResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to decode indexer response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("%w: %s", ErrIndexerQuery, envelope.Errors[0].Message)
	}
	if envelope.Data == nil {
		return fmt.Errorf("%w: empty data", ErrIndexerQuery)
	}

	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to decode query data: %w", err)
	}
	return nil
}
