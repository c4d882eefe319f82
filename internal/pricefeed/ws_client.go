package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"autotp/internal/observability"
	"autotp/internal/pricing"
	"autotp/internal/solana"
)

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// Decimals is the fixed-point scale applied to incoming prices.
	Decimals int32
	// BufferSize is the capacity of the update channel.
	BufferSize int
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		Decimals:          pricing.DefaultDecimals,
		BufferSize:        1024,
	}
}

// WSClient implements Source over a JSON WebSocket price stream.
//
// Outgoing: {"type":"subscribe","mints":["<base58>",...]}
// Incoming: {"type":"price","mint":"<base58>","price":"1.2345","ts":1700000000000}
type WSClient struct {
	endpoint string
	config   WSClientConfig
	logger   zerolog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	// mints stores the subscription for resubscribe after reconnect
	mints   map[solana.PublicKey]struct{}
	mintsMu sync.Mutex

	updates chan Update

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

var _ Source = (*WSClient)(nil)

// NewWSClient creates a new WebSocket client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig, logger zerolog.Logger) (*WSClient, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}

	c := &WSClient{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger.With().Str("component", "pricefeed").Logger(),
		mints:    make(map[solana.PublicKey]struct{}),
		updates:  make(chan Update, cfg.BufferSize),
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// connect establishes WebSocket connection.
func (c *WSClient) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// Subscribe adds mints to the subscription.
func (c *WSClient) Subscribe(ctx context.Context, mints []solana.PublicKey) (<-chan Update, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("client closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mintsMu.Lock()
	for _, m := range mints {
		c.mints[m] = struct{}{}
	}
	c.mintsMu.Unlock()

	if err := c.writeSubscribe(mints); err != nil {
		return nil, err
	}
	return c.updates, nil
}

func (c *WSClient) writeSubscribe(mints []solana.PublicKey) error {
	req := subscribeRequest{Type: "subscribe", Mints: make([]string, len(mints))}
	for i, m := range mints {
		req.Mints[i] = m.String()
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// Close closes the WebSocket connection and the update channel.
func (c *WSClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	close(c.updates)
	return nil
}

// readLoop reads messages and reconnects with exponential backoff on error.
func (c *WSClient) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			// previous reconnect failed
			if !c.reconnecting.Swap(true) {
				c.wg.Add(1)
				go c.reconnect(nil, reconnectDelay)
				reconnectDelay = min(reconnectDelay*2, c.config.MaxReconnectDelay)
			}
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			if !c.reconnecting.Swap(true) {
				c.logger.Warn().Err(err).Dur("delay", reconnectDelay).Msg("price feed read failed, reconnecting")
				c.wg.Add(1)
				go c.reconnect(conn, reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		reconnectDelay = c.config.ReconnectDelay

		c.handleMessage(message)
	}
}

// reconnect replaces the failed connection and resubscribes all mints.
func (c *WSClient) reconnect(failed *websocket.Conn, delay time.Duration) {
	defer c.wg.Done()
	defer c.reconnecting.Store(false)

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn == failed && c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("price feed reconnect failed")
		return
	}
	observability.RecordFeedReconnect()

	c.mintsMu.Lock()
	mints := make([]solana.PublicKey, 0, len(c.mints))
	for m := range c.mints {
		mints = append(mints, m)
	}
	c.mintsMu.Unlock()

	if len(mints) == 0 {
		return
	}
	if err := c.writeSubscribe(mints); err != nil {
		c.logger.Warn().Err(err).Msg("price feed resubscribe failed")
	}
}

// handleMessage decodes one feed message and forwards price updates.
func (c *WSClient) handleMessage(message []byte) {
	var msg feedMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Debug().Err(err).Msg("ignoring malformed feed message")
		return
	}

	switch msg.Type {
	case "price":
	case "error":
		c.logger.Warn().Str("message", msg.Message).Msg("price feed error")
		return
	default:
		return
	}

	mint, err := solana.ParsePublicKey(msg.Mint)
	if err != nil {
		c.logger.Debug().Err(err).Msg("ignoring price for invalid mint")
		return
	}
	price, err := pricing.Parse(msg.Price, c.config.Decimals)
	if err != nil {
		c.logger.Debug().Err(err).Str("mint", msg.Mint).Msg("ignoring invalid price")
		return
	}

	update := Update{Mint: mint, Price: price, Timestamp: msg.TS}

	// Block until delivered; prices are not dropped.
	select {
	case c.updates <- update:
	case <-c.done:
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// a dead connection surfaces in readLoop
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

type subscribeRequest struct {
	Type  string   `json:"type"`
	Mints []string `json:"mints"`
}

type feedMessage struct {
	Type    string `json:"type"`
	Mint    string `json:"mint"`
	Price   string `json:"price"`
	TS      int64  `json:"ts"`
	Message string `json:"message"`
}
