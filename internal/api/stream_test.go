package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	json "github.com/goccy/go-json"

	"bridgewatch/internal/model"
	"bridgewatch/internal/service"
)

// newStreamFixture wires a real dispatcher behind the stream endpoint and
// returns the channel feeding it.
func newStreamFixture(t *testing.T) (*httptest.Server, chan service.StatusUpdate) {
	t.Helper()

	dispatcher := service.NewDispatcher(service.DispatcherConfig{MaxSubjectsAllowed: 10})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	updates := make(chan service.StatusUpdate, 10)
	require.NoError(t, dispatcher.StartDispatching(ctx, updates))
	time.Sleep(10 * time.Millisecond)

	server := httptest.NewServer(NewRouter(&MockStatusEngine{}, dispatcher))
	t.Cleanup(server.Close)
	return server, updates
}

func wsURL(server *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + path
}

func TestStreamDeliversUpdates(t *testing.T) {
	server, updates := newStreamFixture(t)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(server, "/api/v1/stream?subjects=req-1"), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Give the subscription time to register before dispatching.
	time.Sleep(20 * time.Millisecond)

	updates <- service.StatusUpdate{
		Kind:      service.UpdateRequest,
		SubjectID: "req-1",
		Request: &service.RequestEvaluation{
			Request: model.RequestRecord{
				ID:           "req-1",
				Kind:         model.KindRedeem,
				OnChainPhase: model.PhasePending,
			},
			Status:            model.StatusPendingBitcoinTxNotFound,
			EvaluatedAtHeight: 42,
		},
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg updateMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "request", msg.Kind)
	assert.Equal(t, "req-1", msg.Subject)
	require.NotNil(t, msg.Request)
	assert.Equal(t, string(model.StatusPendingBitcoinTxNotFound), msg.Request.Status)
	assert.Equal(t, uint32(42), msg.Request.EvaluatedAtHeight)
	assert.Nil(t, msg.Vault)
}

func TestStreamFiltersSubjects(t *testing.T) {
	server, updates := newStreamFixture(t)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(server, "/api/v1/stream?subjects=req-1"), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	time.Sleep(20 * time.Millisecond)

	// An update for a different subject must not reach this client.
	updates <- service.StatusUpdate{
		Kind:      service.UpdateVault,
		SubjectID: "vault-9",
		Vault:     &service.VaultEvaluation{Vault: model.VaultSnapshot{ID: "vault-9"}},
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "should time out without receiving the filtered update")
}

func TestStreamDefaultsToWildcard(t *testing.T) {
	server, updates := newStreamFixture(t)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(server, "/api/v1/stream"), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	time.Sleep(20 * time.Millisecond)

	updates <- service.StatusUpdate{
		Kind:      service.UpdateVault,
		SubjectID: "vault-1",
		Vault: &service.VaultEvaluation{
			Vault:  model.VaultSnapshot{ID: "vault-1"},
			Status: model.VaultActive,
		},
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg updateMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "vault", msg.Kind)
	assert.Equal(t, "vault-1", msg.Subject)
	require.NotNil(t, msg.Vault)
	assert.Equal(t, string(model.VaultActive), msg.Vault.Status)
}

func TestStreamRejectsInvalidSubjects(t *testing.T) {
	server, _ := newStreamFixture(t)

	// Too many subjects for the dispatcher's limit.
	subjects := make([]string, 0, 11)
	for i := 0; i < 11; i++ {
		subjects = append(subjects, "subject-x")
	}
	_, resp, err := websocket.DefaultDialer.Dial(
		wsURL(server, "/api/v1/stream?subjects="+strings.Join(subjects, ",")), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, 400, resp.StatusCode)
}
