package api

import (
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"bridgewatch/internal/service"
)

const (
	// streamWriteTimeout bounds each WebSocket write to a client.
	streamWriteTimeout = 5 * time.Second

	// streamPingPeriod is the keepalive interval for stream clients.
	streamPingPeriod = 15 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard is served from a different origin than the API in
	// development; the data is public and read-only.
	CheckOrigin: func(*http.Request) bool { return true },
}

// updateMessage is the wire shape of one streamed status update.
type updateMessage struct {
	Kind    string                 `json:"kind"`
	Subject string                 `json:"subject"`
	Request *requestStatusResponse `json:"request,omitempty"`
	Vault   *vaultResponse         `json:"vault,omitempty"`
}

// Stream upgrades the connection to WebSocket and pushes live status updates
// for the subjects named in the "subjects" query parameter (comma-separated
// request/vault ids, default "*" for everything).
func (h *Handlers) Stream(w http.ResponseWriter, r *http.Request) {
	subjects := []string{service.WildcardSubject}
	if raw := r.URL.Query().Get("subjects"); raw != "" {
		subjects = strings.Split(raw, ",")
	}

	sub, err := h.stream.Subscribe(subjects)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote its own error response.
		if unsubErr := h.stream.Unsubscribe(sub); unsubErr != nil {
			log.Error().Err(unsubErr).Msg("failed to unsubscribe after upgrade failure")
		}
		return
	}

	logger := log.With().Strs("subjects", subjects).Logger()
	logger.Info().Msg("stream client connected")

	defer func() {
		if err := h.stream.Unsubscribe(sub); err != nil {
			logger.Error().Err(err).Msg("failed to unsubscribe stream client")
		}
		if err := conn.Close(); err != nil {
			logger.Debug().Err(err).Msg("error closing stream connection")
		}
	}()

	// Drain client frames so close handshakes and pongs are processed; the
	// stream is push-only, incoming data is discarded.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-clientGone:
			logger.Info().Msg("stream client disconnected")
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(streamWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logger.Debug().Err(err).Msg("stream ping failed")
				return
			}
		case update, ok := <-sub.Updates():
			if !ok {
				logger.Info().Msg("subscription closed, ending stream")
				return
			}
			if err := writeUpdate(conn, update); err != nil {
				logger.Warn().Err(err).Msg("failed to write stream update")
				return
			}
		}
	}
}

func writeUpdate(conn *websocket.Conn, update service.StatusUpdate) error {
	msg := updateMessage{
		Kind:    string(update.Kind),
		Subject: update.SubjectID,
	}
	if update.Request != nil {
		resp := toRequestResponse(update.Request)
		msg.Request = &resp
	}
	if update.Vault != nil {
		resp := toVaultResponse(update.Vault)
		msg.Vault = &resp
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, body)
}
