package btc

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAddress   = "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"
	testRequestID = "0xd5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b1c2d3e43f8a1c9be5d2447e9f1b2a3c"
)

// confirmedRedeemPayment is an Esplora transaction paying the user with an
// OP_RETURN carrying the request id, confirmed at height 700000.
var confirmedRedeemPayment = fmt.Sprintf(`[
  {
    "txid": "f4184fc596403b9d638783cf57adfe4c75c605f6356fbc91338530e9831e9e16",
    "vout": [
      {
        "scriptpubkey": "0014a8f0c6b1",
        "scriptpubkey_type": "v0_p2wpkh",
        "scriptpubkey_address": "%s",
        "value": 15000000
      },
      {
        "scriptpubkey": "6a20d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b1c2d3e43f8a1c9be5d2447e9f1b2a3c",
        "scriptpubkey_asm": "OP_RETURN OP_PUSHBYTES_32 d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b1c2d3e43f8a1c9be5d2447e9f1b2a3c",
        "scriptpubkey_type": "op_return",
        "value": 0
      }
    ],
    "status": {"confirmed": true, "block_height": 700000}
  }
]`, testAddress)

// unconfirmedPayment is the same payment still in the mempool.
var unconfirmedPayment = fmt.Sprintf(`[
  {
    "txid": "f4184fc596403b9d638783cf57adfe4c75c605f6356fbc91338530e9831e9e16",
    "vout": [
      {
        "scriptpubkey": "0014a8f0c6b1",
        "scriptpubkey_type": "v0_p2wpkh",
        "scriptpubkey_address": "%s",
        "value": 15000000
      },
      {
        "scriptpubkey": "6a20d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b1c2d3e43f8a1c9be5d2447e9f1b2a3c",
        "scriptpubkey_asm": "OP_RETURN OP_PUSHBYTES_32 d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b1c2d3e43f8a1c9be5d2447e9f1b2a3c",
        "scriptpubkey_type": "op_return",
        "value": 0
      }
    ],
    "status": {"confirmed": false}
  }
]`, testAddress)

// unrelatedPayment pays the address but carries no OP_RETURN.
var unrelatedPayment = fmt.Sprintf(`[
  {
    "txid": "a1075db55d416d3ca199f55b6084e2115b9345e16c5cf302fc80e9d5fbf5d48d",
    "vout": [
      {
        "scriptpubkey": "0014a8f0c6b1",
        "scriptpubkey_type": "v0_p2wpkh",
        "scriptpubkey_address": "%s",
        "value": 42
      }
    ],
    "status": {"confirmed": true, "block_height": 699999}
  }
]`, testAddress)

// newTestServer serves canned address-history and tip-height responses.
func newTestServer(t *testing.T, addressTxs string, tipHeight string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/address/"+testAddress+"/txs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, addressTxs)
	})
	mux.HandleFunc("/blocks/tip/height", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, tipHeight)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, baseURL string) *EsploraClient {
	t.Helper()
	client, err := NewEsploraClient(&Config{BaseURL: baseURL})
	require.NoError(t, err)
	return client
}

func TestNewEsploraClient(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		client, err := NewEsploraClient(nil)
		require.NoError(t, err)
		assert.Equal(t, defaultConfig.BaseURL, client.config.BaseURL)
	})

	t.Run("rejects empty base URL", func(t *testing.T) {
		_, err := NewEsploraClient(&Config{})
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestFindPaymentConfirmedRedeem(t *testing.T) {
	server := newTestServer(t, confirmedRedeemPayment, "700005")
	client := newTestClient(t, server.URL)

	evidence, err := client.FindPayment(context.Background(), testRequestID, testAddress, true)
	require.NoError(t, err)
	require.NotNil(t, evidence)

	assert.True(t, evidence.TransactionFound)
	assert.Equal(t, "f4184fc596403b9d638783cf57adfe4c75c605f6356fbc91338530e9831e9e16", evidence.TransactionID)
	require.NotNil(t, evidence.Confirmations)
	// tip 700005, included at 700000: depth 6.
	assert.Equal(t, uint32(6), *evidence.Confirmations)
	// The parachain half of the evidence is not this client's to produce.
	assert.Nil(t, evidence.ConfirmedAtParachainHeight)
}

func TestFindPaymentUnconfirmed(t *testing.T) {
	server := newTestServer(t, unconfirmedPayment, "700005")
	client := newTestClient(t, server.URL)

	evidence, err := client.FindPayment(context.Background(), testRequestID, testAddress, true)
	require.NoError(t, err)
	require.NotNil(t, evidence)

	assert.True(t, evidence.TransactionFound)
	assert.Nil(t, evidence.Confirmations, "mempool payment has no observed depth")
}

func TestFindPaymentOpReturnMismatch(t *testing.T) {
	// A payment into the address without the request's OP_RETURN must not
	// match a redeem lookup.
	server := newTestServer(t, unrelatedPayment, "700005")
	client := newTestClient(t, server.URL)

	evidence, err := client.FindPayment(context.Background(), testRequestID, testAddress, true)
	require.NoError(t, err)
	require.NotNil(t, evidence)
	assert.False(t, evidence.TransactionFound)
}

func TestFindPaymentIssueByAddress(t *testing.T) {
	// Issue payments are identified by the deposit address alone.
	server := newTestServer(t, unrelatedPayment, "700005")
	client := newTestClient(t, server.URL)

	evidence, err := client.FindPayment(context.Background(), testRequestID, testAddress, false)
	require.NoError(t, err)
	require.NotNil(t, evidence)

	assert.True(t, evidence.TransactionFound)
	assert.Equal(t, "a1075db55d416d3ca199f55b6084e2115b9345e16c5cf302fc80e9d5fbf5d48d", evidence.TransactionID)
	require.NotNil(t, evidence.Confirmations)
	assert.Equal(t, uint32(7), *evidence.Confirmations)
}

func TestFindPaymentEmptyHistory(t *testing.T) {
	server := newTestServer(t, "[]", "700005")
	client := newTestClient(t, server.URL)

	evidence, err := client.FindPayment(context.Background(), testRequestID, testAddress, true)
	require.NoError(t, err)
	require.NotNil(t, evidence)
	assert.False(t, evidence.TransactionFound)
	assert.Nil(t, evidence.Confirmations)
}

func TestFindPaymentUpstreamFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := newTestClient(t, server.URL)
	_, err := client.FindPayment(context.Background(), testRequestID, testAddress, true)
	assert.Error(t, err)
}

func TestFindPaymentTipFailureDegrades(t *testing.T) {
	// When the payment is found but the tip lookup fails, the evidence is
	// still returned without a depth.
	mux := http.NewServeMux()
	mux.HandleFunc("/address/"+testAddress+"/txs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, confirmedRedeemPayment)
	})
	mux.HandleFunc("/blocks/tip/height", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := newTestClient(t, server.URL)
	evidence, err := client.FindPayment(context.Background(), testRequestID, testAddress, true)
	require.NoError(t, err)
	require.NotNil(t, evidence)
	assert.True(t, evidence.TransactionFound)
	assert.Nil(t, evidence.Confirmations)
}

func TestFindPaymentRejectsBadAddress(t *testing.T) {
	client := newTestClient(t, "http://localhost:0")
	_, err := client.FindPayment(context.Background(), testRequestID, "not an address", true)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
