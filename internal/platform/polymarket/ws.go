package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/polypaper/polypaper/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// heartbeatInterval is how often the plaintext keep-alive is sent for
	// the lifetime of a connection.
	heartbeatInterval = 10 * time.Second

	// handshakeTimeout bounds the websocket dial.
	handshakeTimeout = 15 * time.Second
)

// StreamState is the lifecycle state of the market stream.
type StreamState string

const (
	StateDisconnected StreamState = "disconnected"
	StateConnecting   StreamState = "connecting"
	StateSubscribed   StreamState = "subscribed"
)

// PriceChangeHandler is called with the entries of each price_change frame.
type PriceChangeHandler func(entries []PriceChangeEntry, ts time.Time)

// LastTradeHandler is called for each last_trade_price frame.
type LastTradeHandler func(msg LastTradePriceMessage, ts time.Time)

// CloseHandler is called once when the connection ends. err is nil for a
// deliberate Disconnect and non-nil for transport errors or unexpected
// closes.
type CloseHandler func(err error)

// MarketStream is the client for the venue's market data WebSocket. One
// Connect sends a single subscription naming every asset and keeps the
// connection alive with a plaintext heartbeat. There is no automatic
// reconnect: when the connection drops, the close handler fires and a
// supervising job decides when to call Connect again (after the next
// market resync picks up the current instrument set).
type MarketStream struct {
	wsURL  string
	logger *slog.Logger

	mu    sync.Mutex
	conn  *websocket.Conn
	state StreamState
	done  chan struct{}

	// writeMu serializes all writes to the connection. The heartbeat
	// goroutine, Connect, and Disconnect each write; the transport allows
	// only one concurrent writer.
	writeMu sync.Mutex

	onPriceChange PriceChangeHandler
	onLastTrade   LastTradeHandler
	onClose       CloseHandler
}

// NewMarketStream creates a stream client for the given WebSocket URL,
// e.g. "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewMarketStream(wsURL string, logger *slog.Logger) *MarketStream {
	return &MarketStream{
		wsURL:  wsURL,
		state:  StateDisconnected,
		logger: logger.With(slog.String("component", "market_stream")),
	}
}

// OnPriceChange registers the price-change handler. Must be called before
// Connect.
func (s *MarketStream) OnPriceChange(h PriceChangeHandler) { s.onPriceChange = h }

// OnLastTrade registers the last-trade handler. Must be called before
// Connect.
func (s *MarketStream) OnLastTrade(h LastTradeHandler) { s.onLastTrade = h }

// OnClose registers the close handler. Must be called before Connect.
func (s *MarketStream) OnClose(h CloseHandler) { s.onClose = h }

// State returns the current lifecycle state.
func (s *MarketStream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect dials the venue, sends one subscription for all given asset IDs,
// and starts the read loop and heartbeat. It is an error to call Connect
// while a previous connection is still up.
func (s *MarketStream) Connect(ctx context.Context, assetIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateDisconnected {
		return fmt.Errorf("polymarket/ws: connect in state %s", s.state)
	}
	s.state = StateConnecting

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		s.state = StateDisconnected
		return fmt.Errorf("polymarket/ws: dial: %w", err)
	}

	sub := wsSubscribe{Type: "market", AssetIDs: assetIDs}
	payload, err := json.Marshal(sub)
	if err != nil {
		conn.Close()
		s.state = StateDisconnected
		return fmt.Errorf("polymarket/ws: marshal subscribe: %w", err)
	}
	if err := s.writeMessage(conn, websocket.TextMessage, payload); err != nil {
		conn.Close()
		s.state = StateDisconnected
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}

	s.conn = conn
	s.state = StateSubscribed
	s.done = make(chan struct{})

	go s.readLoop(conn, s.done)
	go s.heartbeat(conn, s.done)

	s.logger.Info("market stream subscribed", slog.Int("assets", len(assetIDs)))
	return nil
}

// Disconnect stops the heartbeat and closes the transport. It is safe to
// call at any time, including more than once.
func (s *MarketStream) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisconnected {
		return nil
	}

	close(s.done)
	s.state = StateDisconnected

	if s.conn != nil {
		_ = s.writeMessage(s.conn, websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

// writeMessage performs one serialized write with the standard deadline.
func (s *MarketStream) writeMessage(conn *websocket.Conn, messageType int, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// readLoop reads frames until the connection drops or Disconnect is
// called, dispatching each frame to handleFrame.
func (s *MarketStream) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				// Deliberate disconnect.
				s.invokeClose(nil)
			default:
				s.markDisconnected(conn)
				s.logger.Warn("market stream closed",
					slog.String("error", err.Error()),
				)
				s.invokeClose(fmt.Errorf("%w: %v", domain.ErrFeedClosed, err))
			}
			return
		}
		s.handleFrame(raw)
	}
}

// heartbeat sends the plaintext keep-alive on a fixed interval for the
// lifetime of the connection.
func (s *MarketStream) heartbeat(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.writeMessage(conn, websocket.TextMessage, []byte("PING")); err != nil {
				// The read loop will observe the broken connection.
				return
			}
		}
	}
}

// markDisconnected transitions to Disconnected if this connection is still
// the active one.
func (s *MarketStream) markDisconnected(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == conn {
		s.conn = nil
		s.state = StateDisconnected
	}
}

func (s *MarketStream) invokeClose(err error) {
	if s.onClose != nil {
		s.onClose(err)
	}
}

// handleFrame parses one WebSocket frame. Frames may hold a single message
// object or an array of them; both forms are handled identically. The
// keep-alive acknowledgment is plaintext and is dropped here.
func (s *MarketStream) handleFrame(raw []byte) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("PONG")) {
		return
	}

	if raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			s.logger.Debug("dropping unparseable frame", slog.String("error", err.Error()))
			return
		}
		for _, item := range items {
			s.handleMessage(item)
		}
		return
	}

	s.handleMessage(raw)
}

// handleMessage routes a single message object by its event type. Book
// snapshots and tick-size changes are not used for pricing and are
// ignored; anything unparseable is logged and skipped, never fatal.
func (s *MarketStream) handleMessage(raw []byte) {
	var envelope WSEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		s.logger.Debug("dropping unparseable message", slog.String("error", err.Error()))
		return
	}

	switch envelope.EventType {
	case "price_change":
		var msg PriceChangeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Debug("dropping bad price_change", slog.String("error", err.Error()))
			return
		}
		if s.onPriceChange != nil && len(msg.Changes) > 0 {
			s.onPriceChange(msg.Changes, parseWSTimestamp(msg.Timestamp))
		}

	case "last_trade_price":
		var msg LastTradePriceMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Debug("dropping bad last_trade_price", slog.String("error", err.Error()))
			return
		}
		if s.onLastTrade != nil && msg.AssetID != "" {
			s.onLastTrade(msg, parseWSTimestamp(msg.Timestamp))
		}

	case "book", "tick_size_change":
		// Not used for pricing.

	default:
		s.logger.Debug("unknown event type", slog.String("event_type", envelope.EventType))
	}
}
