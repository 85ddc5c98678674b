// Package parachain provides the parachain-side fact collaborators: a
// WebSocket subscription to new chain heads for the current active height,
// and a GraphQL indexer client for request, vault and protocol-parameter
// snapshots.
package parachain

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// defaultPingPeriod defines the interval for WebSocket ping messages.
	defaultPingPeriod = 15 * time.Second

	// defaultSendTimeout bounds WebSocket write operations.
	defaultSendTimeout = 5 * time.Second

	// defaultReadLimit caps incoming message size; head notifications are
	// tiny, anything larger is not ours.
	defaultReadLimit = 1 << 16 // 64KB

	// defaultHandshakeTimeout bounds the WebSocket handshake.
	defaultHandshakeTimeout = 10 * time.Second
)

// ErrWatcherShuttingDown indicates the watcher is in the process of
// shutting down.
var ErrWatcherShuttingDown = errors.New("height watcher is shutting down")

// subscribeNewHeads is the JSON-RPC call that subscribes to finalized-side
// head notifications on a Substrate node.
var subscribeNewHeads = []byte(`{"id":1,"jsonrpc":"2.0","method":"chain_subscribeNewHeads","params":[]}`)

// HeadsConfig defines settings for the height watcher.
type HeadsConfig struct {
	// Endpoint is the node's WebSocket JSON-RPC URL.
	// Required: this field must be provided and non-empty.
	Endpoint string

	// TLSInsecureSkip disables TLS certificate verification.
	TLSInsecureSkip bool

	// PingPeriod is the interval between WebSocket ping messages.
	PingPeriod time.Duration

	// SendTimeout is the maximum time allowed for WebSocket writes.
	SendTimeout time.Duration
}

// headNotification is the JSON-RPC notification envelope for new heads.
// The first message after subscribing is the subscription-id response and
// carries no method; it is ignored by the message handler.
type headNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Number string `json:"number"`
		} `json:"result"`
	} `json:"params"`
}

// HeightWatcher maintains the current parachain active height by consuming
// chain_subscribeNewHeads notifications over a WebSocket connection.
//
// The height is monotone non-decreasing: stale or duplicate notifications are
// dropped. Consumers either read the Heights channel for fresh values or call
// CurrentHeight for the latest one.
type HeightWatcher struct {
	// conn stores the active WebSocket connection using atomic operations.
	conn atomic.Value // stores *websocket.Conn

	// Heights delivers each new strictly-increasing height to consumers.
	Heights chan uint32

	// disconnect signals when the WebSocket connection is lost.
	disconnect chan struct{}

	// errChan reports fatal errors that cause connection termination.
	errChan chan error

	// height is the last height observed, read with CurrentHeight.
	height atomic.Uint32

	cfg    *HeadsConfig
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

// NewHeightWatcher returns a watcher connected to the node and already
// subscribed to new heads.
func NewHeightWatcher(ctx context.Context, cfg HeadsConfig) (*HeightWatcher, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint URL is required")
	}
	if cfg.PingPeriod == 0 {
		cfg.PingPeriod = defaultPingPeriod
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = defaultSendTimeout
	}

	ctx, cancel := context.WithCancel(ctx)

	w := &HeightWatcher{
		cfg:        &cfg,
		ctx:        ctx,
		cancel:     cancel,
		disconnect: make(chan struct{}),
		errChan:    make(chan error, 1),
		Heights:    make(chan uint32, 64),
	}

	if err := w.run(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start height watcher: %w", err)
	}

	return w, nil
}

// run establishes the connection, subscribes, and starts the background
// goroutines.
func (w *HeightWatcher) run() error {
	logger := log.With().
		Str("endpoint", w.cfg.Endpoint).
		Str("component", "heightWatcher").
		Logger()

	logger.Info().Msg("starting parachain height watcher")

	conn, err := w.dial(w.ctx)
	if err != nil {
		return fmt.Errorf("initial dial failed: %w", err)
	}

	w.conn.Store(conn)

	conn.SetReadLimit(defaultReadLimit)
	conn.SetPongHandler(func(string) error {
		deadline := time.Now().Add(w.cfg.PingPeriod * 2)
		if err := conn.SetReadDeadline(deadline); err != nil {
			logger.Warn().Err(err).Msg("failed to set read deadline in pong handler")
		}
		return nil
	})

	if err := conn.WriteMessage(websocket.TextMessage, subscribeNewHeads); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn().Err(closeErr).Msg("error closing connection during cleanup")
		}
		return fmt.Errorf("head subscription failed: %w", err)
	}

	w.wg.Add(3)
	go func() {
		defer w.wg.Done()
		w.readLoop()
	}()
	go func() {
		defer w.wg.Done()
		w.pingLoop()
	}()
	go func() {
		defer w.wg.Done()
		w.shutdownListener()
	}()

	return nil
}

// readLoop continuously reads head notifications from the connection.
func (w *HeightWatcher) readLoop() {
	conn := w.conn.Load().(*websocket.Conn)
	logger := log.With().
		Str("endpoint", w.cfg.Endpoint).
		Str("component", "readLoop").
		Logger()

	defer func() {
		logger.Info().Msg("read loop exiting")
		close(w.disconnect)
		close(w.Heights)

		select {
		case w.errChan <- ErrWatcherShuttingDown:
		default:
		}
	}()

	for {
		select {
		case <-w.ctx.Done():
			logger.Info().Msg("context cancelled, exiting read loop")
			return
		default:
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info().Err(err).Msg("websocket closed normally")
				} else if websocket.IsUnexpectedCloseError(err) {
					logger.Warn().Err(err).Msg("unexpected websocket closure")
				} else {
					logger.Error().Err(err).Msg("read error")
				}

				select {
				case w.errChan <- err:
				default:
					logger.Warn().Err(err).Msg("error channel full, dropping error")
				}
				return
			}

			if err := w.handleMessage(data); err != nil {
				logger.Error().Err(err).Msg("failed to handle head notification")
			}
		}
	}
}

// handleMessage decodes one incoming message and publishes the height when it
// advances the chain. Non-notification messages (the subscription-id reply)
// and non-increasing heights are ignored.
func (w *HeightWatcher) handleMessage(data []byte) error {
	var note headNotification
	if err := json.Unmarshal(data, &note); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}

	if note.Method != "chain_newHead" {
		return nil
	}
	if note.Params.Result.Number == "" {
		return errors.New("head notification missing block number")
	}

	height, err := parseBlockNumber(note.Params.Result.Number)
	if err != nil {
		return err
	}

	for {
		last := w.height.Load()
		if height <= last {
			return nil // stale or duplicate head
		}
		if !w.height.CompareAndSwap(last, height) {
			continue
		}
		break
	}

	select {
	case w.Heights <- height:
	default:
		// A slow consumer only misses intermediate heights; CurrentHeight
		// still reflects the newest one.
		log.Debug().Uint32("height", height).Msg("heights channel full, dropping notification")
	}
	return nil
}

// parseBlockNumber parses the hex-encoded block number of a head
// notification, e.g. "0x12d".
func parseBlockNumber(number string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(number, "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("failed to parse block number %q: %w", number, err)
	}
	return uint32(n), nil
}

// CurrentHeight returns the latest height observed, zero before the first
// notification.
func (w *HeightWatcher) CurrentHeight() uint32 {
	return w.height.Load()
}

// pingLoop sends periodic ping messages to keep the connection alive.
func (w *HeightWatcher) pingLoop() {
	ticker := time.NewTicker(w.cfg.PingPeriod)
	defer ticker.Stop()

	logger := log.With().
		Str("endpoint", w.cfg.Endpoint).
		Str("component", "pingLoop").
		Logger()

	for {
		select {
		case <-ticker.C:
			connVal := w.conn.Load()
			if connVal == nil {
				continue
			}
			conn := connVal.(*websocket.Conn)

			deadline := time.Now().Add(w.cfg.SendTimeout)
			if err := conn.SetWriteDeadline(deadline); err != nil {
				logger.Warn().Err(err).Msg("failed to set write deadline")
				continue
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Warn().Err(err).Msg("ping error")
			}
		case <-w.ctx.Done():
			return
		}
	}
}

// shutdownListener waits for context cancellation and closes the connection.
func (w *HeightWatcher) shutdownListener() {
	<-w.ctx.Done()
	w.Close()
}

// Close gracefully shuts down the watcher. It is safe to call multiple times.
func (w *HeightWatcher) Close() {
	w.once.Do(func() {
		logger := log.With().
			Str("endpoint", w.cfg.Endpoint).
			Str("component", "heightWatcher").
			Logger()

		logger.Info().Msg("shutting down height watcher")

		w.cancel()

		if conn := w.conn.Load(); conn != nil {
			if ws, ok := conn.(*websocket.Conn); ok {
				if err := ws.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second),
				); err != nil {
					logger.Warn().Err(err).Msg("failed to send close frame")
				}
				if err := ws.Close(); err != nil {
					logger.Warn().Err(err).Msg("error closing websocket connection")
				}
			}
		}

		done := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			logger.Warn().Msg("timeout waiting for goroutines to complete")
		}
	})
}

// dial establishes the WebSocket connection to the node.
func (w *HeightWatcher) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: w.cfg.TLSInsecureSkip},
		HandshakeTimeout: defaultHandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, w.cfg.Endpoint, make(http.Header))
	if err != nil {
		if resp != nil {
			log.Error().
				Err(err).
				Int("statusCode", resp.StatusCode).
				Str("endpoint", w.cfg.Endpoint).
				Msg("websocket connection failed")
		} else {
			log.Error().Err(err).Str("endpoint", w.cfg.Endpoint).Msg("websocket connection failed")
		}
		return nil, err
	}

	return conn, nil
}

// DisconnectChan returns a channel that is closed when the watcher
// disconnects.
func (w *HeightWatcher) DisconnectChan() <-chan struct{} {
	return w.disconnect
}

// ErrChan returns a channel that emits any terminal read errors.
func (w *HeightWatcher) ErrChan() <-chan error {
	return w.errChan
}
