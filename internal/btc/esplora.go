// Package btc provides the Bitcoin-side payment lookup collaborator.
//
// The EsploraClient queries an Esplora/electrs REST API to find the Bitcoin
// payment tied to a bridge request and reports how deeply it is confirmed.
// It implements one half of the confirmation-evidence contract: either "no
// matching transaction found" or a found transaction with its confirmation
// depth. The parachain-side half of the evidence (the height at which the
// payment was relayed) comes from the indexer, not from this client.
//
// Callers treat any error from this client identically to "not found": a
// lookup failure and an absent payment both mean the payment cannot be proven
// yet, and the status derivation never distinguishes the two.
package btc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"bridgewatch/internal/model"
	"bridgewatch/internal/utils"
)

// Config holds connection parameters for an Esplora-compatible API.
type Config struct {
	// BaseURL is the root of the Esplora REST API, without trailing slash.
	BaseURL string

	// Timeout bounds each HTTP request.
	Timeout time.Duration
}

// defaultConfig provides sensible defaults for mainnet lookups.
var defaultConfig = Config{
	BaseURL: "https://blockstream.info/api",
	Timeout: 10 * time.Second,
}

// ErrInvalidConfig indicates an unusable client configuration.
var ErrInvalidConfig = errors.New("invalid esplora configuration")

// EsploraClient looks up bridge payments on the Bitcoin chain.
type EsploraClient struct {
	config   Config
	httpc    *http.Client
	validate *validator.Validate
}

// addressTx is the subset of Esplora's transaction format the lookup needs.
type addressTx struct {
	TxID   string     `json:"txid" validate:"required"`
	Vout   []txOutput `json:"vout" validate:"required,dive"`
	Status txStatus   `json:"status"`
}

// txOutput is a single transaction output. OP_RETURN outputs carry the
// request id that ties a payment to its bridge request.
type txOutput struct {
	ScriptPubKey        string `json:"scriptpubkey"`
	ScriptPubKeyAsm     string `json:"scriptpubkey_asm"`
	ScriptPubKeyType    string `json:"scriptpubkey_type" validate:"required"`
	ScriptPubKeyAddress string `json:"scriptpubkey_address,omitempty"`
	Value               int64  `json:"value"`
}

// txStatus is Esplora's confirmation status. BlockHeight is nil while the
// transaction sits in the mempool.
type txStatus struct {
	Confirmed   bool    `json:"confirmed"`
	BlockHeight *uint32 `json:"block_height,omitempty"`
}

// NewEsploraClient creates a client for the configured Esplora endpoint.
// A nil config selects the mainnet defaults.
func NewEsploraClient(cfg *Config) (*EsploraClient, error) {
	if cfg == nil {
		cfg = &defaultConfig
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL is required", ErrInvalidConfig)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultConfig.Timeout
	}

	return &EsploraClient{
		config:   *cfg,
		httpc:    &http.Client{Timeout: cfg.Timeout},
		validate: validator.New(),
	}, nil
}

// FindPayment looks for the Bitcoin payment belonging to a bridge request.
//
// Redeem payments embed the request id in an OP_RETURN output, so useOpReturn
// should be true for them; issue payments are identified only by the vault
// deposit address. When no matching transaction exists the returned evidence
// has TransactionFound == false and the error is nil; errors are reserved for
// failed lookups.
//
// Confirmations are computed against the current chain tip at lookup time and
// left nil while the transaction is unconfirmed.
func (c *EsploraClient) FindPayment(
	ctx context.Context,
	requestID string,
	address string,
	useOpReturn bool,
) (*model.ConfirmationEvidence, error) {
	if err := utils.ValidateBitcoinAddress(address); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	txs, err := c.addressTransactions(ctx, address)
	if err != nil {
		return nil, err
	}

	match := c.matchPayment(txs, requestID, address, useOpReturn)
	if match == nil {
		log.Debug().
			Str("requestId", requestID).
			Str("address", address).
			Msg("no matching bitcoin payment found")
		return &model.ConfirmationEvidence{TransactionFound: false}, nil
	}

	evidence := &model.ConfirmationEvidence{
		TransactionFound: true,
		TransactionID:    match.TxID,
	}

	if match.Status.Confirmed && match.Status.BlockHeight != nil {
		tip, err := c.tipHeight(ctx)
		if err != nil {
			// The payment exists; report it without a depth rather than
			// failing the whole lookup.
			log.Warn().Err(err).Str("txid", match.TxID).Msg("failed to fetch chain tip")
			return evidence, nil
		}
		if tip >= *match.Status.BlockHeight {
			confirmations := tip - *match.Status.BlockHeight + 1
			evidence.Confirmations = &confirmations
		}
	}

	return evidence, nil
}

// matchPayment selects the transaction belonging to the request, preferring
// an OP_RETURN carrying the request id and falling back to the newest payment
// into the address. Esplora returns transactions newest first.
func (c *EsploraClient) matchPayment(txs []addressTx, requestID, address string, useOpReturn bool) *addressTx {
	if useOpReturn {
		payload := strings.ToLower(strings.TrimPrefix(requestID, "0x"))
		for i := range txs {
			for _, out := range txs[i].Vout {
				if out.ScriptPubKeyType != "op_return" {
					continue
				}
				if strings.Contains(strings.ToLower(out.ScriptPubKeyAsm), payload) ||
					strings.Contains(strings.ToLower(out.ScriptPubKey), payload) {
					return &txs[i]
				}
			}
		}
		return nil
	}

	for i := range txs {
		for _, out := range txs[i].Vout {
			if out.ScriptPubKeyAddress == address {
				return &txs[i]
			}
		}
	}
	return nil
}

// addressTransactions fetches the transaction history of an address.
func (c *EsploraClient) addressTransactions(ctx context.Context, address string) ([]addressTx, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/address/%s/txs", c.config.BaseURL, address))
	if err != nil {
		return nil, err
	}

	var txs []addressTx
	if err := json.Unmarshal(body, &txs); err != nil {
		return nil, fmt.Errorf("failed to decode address transactions: %w", err)
	}
	for i := range txs {
		if err := c.validate.Struct(&txs[i]); err != nil {
			return nil, fmt.Errorf("invalid transaction in esplora response: %w", err)
		}
	}
	return txs, nil
}

// tipHeight fetches the current Bitcoin chain tip height. Esplora serves it
// as a plain-text number.
func (c *EsploraClient) tipHeight(ctx context.Context) (uint32, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/blocks/tip/height", c.config.BaseURL))
	if err != nil {
		return 0, err
	}
	height, err := strconv.ParseUint(strings.TrimSpace(string(body)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("failed to parse tip height %q: %w", body, err)
	}
	return uint32(height), nil
}

func (c *EsploraClient) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("esplora request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("esplora returned status %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read esplora response: %w", err)
	}
	return body, nil
}
