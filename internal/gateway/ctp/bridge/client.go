package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tathienbao/tradegate/internal/gateway/ctp"
	"github.com/tathienbao/tradegate/internal/types"
	"golang.org/x/time/rate"
)

// Transport errors.
var (
	ErrClosed         = errors.New("bridge closed")
	ErrConnectionLost = errors.New("bridge connection lost")
	ErrRequestTimeout = errors.New("bridge request timed out")
)

// Client implements ctp.API over a websocket bridge.
type Client struct {
	cfg      Config
	logger   *slog.Logger
	clientID string

	// Connection
	connMu  sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	online  atomic.Bool

	// Rate limiting
	limiter *rate.Limiter

	// Request tracking
	nextReqID atomic.Int64
	pendingMu sync.Mutex
	pending   map[int64]chan envelope

	// Session replayed after reconnect
	sessionMu sync.RWMutex
	spi       ctp.Spi
	settings  ctp.Settings
	subs      map[string]string

	// Shutdown
	lifeMu sync.Mutex
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewClient creates a new bridge client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	return &Client{
		cfg:      cfg,
		logger:   logger.With("front", "bridge"),
		clientID: uuid.NewString(),
		limiter:  rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), cfg.MaxRequestsPerSecond),
		pending:  make(map[int64]chan envelope),
		subs:     make(map[string]string),
	}
}

// Connect dials the bridge and submits the login request. Login progress is
// reported through spi.
func (c *Client) Connect(ctx context.Context, settings ctp.Settings, spi ctp.Spi) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.done != nil {
		return nil
	}

	c.sessionMu.Lock()
	c.spi = spi
	c.settings = settings
	c.subs = make(map[string]string)
	c.sessionMu.Unlock()

	done := make(chan struct{})
	if err := c.dial(ctx, done); err != nil {
		return err
	}
	c.done = done

	if err := c.login(ctx); err != nil {
		c.shutdown()
		return err
	}

	c.logger.Info("connected to CTP bridge", "url", c.cfg.URL, "client_id", c.clientID)
	return nil
}

// dial opens the websocket and starts its reader and keepalive.
func (c *Client) dial(ctx context.Context, done chan struct{}) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial bridge: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	c.connMu.Lock()
	select {
	case <-done:
		c.connMu.Unlock()
		_ = conn.Close()
		return ErrClosed
	default:
	}
	c.conn = conn
	c.connMu.Unlock()
	c.online.Store(true)

	c.wg.Add(1)
	go c.readLoop(conn, done)

	if c.cfg.PingInterval > 0 {
		c.wg.Add(1)
		go c.pingLoop(conn, done)
	}
	return nil
}

func (c *Client) login(ctx context.Context) error {
	c.sessionMu.RLock()
	settings := c.settings
	c.sessionMu.RUnlock()

	return c.request(ctx, msgLogin, loginRequest{ClientID: c.clientID, Settings: settings}, nil)
}

// readLoop decodes responses and pushes until the connection fails.
func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer c.wg.Done()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			if !c.isCurrent(conn) {
				return
			}
			c.logger.Warn("bridge read error", "err", err)
			c.handleDisconnect(conn, done)
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Debug("invalid bridge message", "err", err, "size", len(data))
			continue
		}
		c.processMessage(env)
	}
}

func (c *Client) processMessage(env envelope) {
	if env.Type == msgResponse {
		c.pendingMu.Lock()
		ch, ok := c.pending[env.ID]
		delete(c.pending, env.ID)
		c.pendingMu.Unlock()
		if ok {
			ch <- env
		} else {
			c.logger.Debug("response for unknown request", "id", env.ID)
		}
		return
	}

	c.sessionMu.RLock()
	spi := c.spi
	c.sessionMu.RUnlock()
	if spi == nil {
		return
	}

	switch env.Type {
	case pushLog:
		var p logPush
		if decode(env.Payload, &p) {
			spi.OnLog(p.Message)
		}
	case pushAccount:
		var p wireAccount
		if decode(env.Payload, &p) {
			spi.OnAccount(p.native())
		}
	case pushPosition:
		var p wirePosition
		if decode(env.Payload, &p) {
			spi.OnPosition(p.native())
		}
	case pushOrder:
		var p wireOrder
		if decode(env.Payload, &p) {
			spi.OnOrder(p.native())
		}
	case pushTick:
		var p wireTick
		if decode(env.Payload, &p) {
			spi.OnTick(p.native())
		}
	default:
		c.logger.Debug("unhandled bridge message", "type", env.Type)
	}
}

func decode(raw json.RawMessage, v any) bool {
	return len(raw) > 0 && json.Unmarshal(raw, v) == nil
}

func (c *Client) pingLoop(conn *websocket.Conn, done chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.HandshakeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Warn("bridge ping failed", "err", err)
				return
			}
		}
	}
}

// handleDisconnect fails in-flight requests and starts reconnecting.
func (c *Client) handleDisconnect(conn *websocket.Conn, done chan struct{}) {
	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connMu.Unlock()
	_ = conn.Close()
	c.online.Store(false)

	c.failPending(ErrConnectionLost)
	c.emitLog("CTP bridge connection lost")

	if c.cfg.AutoReconnect {
		c.wg.Add(1)
		go c.reconnectLoop(done)
	}
}

func (c *Client) isCurrent(conn *websocket.Conn) bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn == conn
}

// dropConn closes the current connection without triggering another
// reconnect loop from its reader.
func (c *Client) dropConn() {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()
	c.online.Store(false)
	if conn != nil {
		_ = conn.Close()
	}
}

// reconnectLoop redials, logs in again and restores subscriptions.
func (c *Client) reconnectLoop(done chan struct{}) {
	defer c.wg.Done()

	for i := 0; c.cfg.MaxReconnectTries <= 0 || i < c.cfg.MaxReconnectTries; i++ {
		select {
		case <-done:
			return
		case <-time.After(c.cfg.ReconnectInterval):
		}

		c.logger.Info("attempting bridge reconnect", "attempt", i+1)

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
		if err := c.dial(ctx, done); err != nil {
			cancel()
			c.logger.Warn("bridge reconnect failed", "err", err)
			continue
		}

		// A connection lost from here on is handled by the new reader.
		err := c.login(ctx)
		if err == nil {
			c.resubscribe(ctx)
		}
		cancel()

		if err != nil {
			c.logger.Warn("bridge login after reconnect failed", "attempt", i+1, "err", err)
			c.emitLog("CTP bridge login after reconnect failed: " + err.Error())
			c.dropConn()
			continue
		}
		c.logger.Info("bridge reconnected")
		c.emitLog("CTP bridge connection restored")
		return
	}

	c.logger.Error("max bridge reconnect attempts reached")
	c.emitLog("CTP bridge reconnect abandoned")
}

func (c *Client) resubscribe(ctx context.Context) {
	c.sessionMu.RLock()
	subs := make(map[string]string, len(c.subs))
	for sym, exch := range c.subs {
		subs[sym] = exch
	}
	c.sessionMu.RUnlock()

	for sym, exch := range subs {
		if err := c.request(ctx, msgSubscribe, subscribeRequest{Symbol: sym, Exchange: exch}, nil); err != nil {
			c.logger.Warn("resubscribe failed", "symbol", sym, "err", err)
		}
	}
}

func (c *Client) emitLog(msg string) {
	c.sessionMu.RLock()
	spi := c.spi
	c.sessionMu.RUnlock()
	if spi != nil {
		spi.OnLog(msg)
	}
}

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		ch <- envelope{ID: id, Type: msgResponse, err: err}
		delete(c.pending, id)
	}
}

// request sends one message and waits for its correlated response.
func (c *Client) request(ctx context.Context, typ string, payload, out any) error {
	if !c.online.Load() {
		return ErrConnectionLost
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}

	id := c.nextReqID.Add(1)
	ch := make(chan envelope, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.write(envelope{ID: id, Type: typ, Payload: raw}); err != nil {
		return err
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	var resp envelope
	select {
	case resp = <-ch:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrRequestTimeout, typ)
	}

	if resp.err != nil {
		return resp.err
	}
	if resp.Error != nil && !resp.OK {
		if resp.Error.Code == "" {
			return fmt.Errorf("%s: %s", typ, resp.Error.Message)
		}
		return types.NewRejectedError(typ, resp.Error.Code, resp.Error.Message)
	}
	if out != nil && len(resp.Payload) > 0 {
		if err := json.Unmarshal(resp.Payload, out); err != nil {
			return fmt.Errorf("decode %s response: %w", typ, err)
		}
	}
	return nil
}

func (c *Client) write(env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return ErrConnectionLost
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", env.Type, err)
	}
	return nil
}

// Close logs out and closes the connection. It is safe to call repeatedly.
func (c *Client) Close() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.done == nil {
		return nil
	}

	if c.online.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := c.request(ctx, msgLogout, struct{}{}, nil); err != nil {
			c.logger.Debug("bridge logout failed", "err", err)
		}
		cancel()
	}

	c.shutdown()
	c.logger.Info("disconnected from CTP bridge")
	return nil
}

func (c *Client) shutdown() {
	if c.done != nil {
		close(c.done)
	}
	c.online.Store(false)

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	c.failPending(ErrClosed)
	c.wg.Wait()
	c.done = nil

	c.sessionMu.Lock()
	c.spi = nil
	c.sessionMu.Unlock()
}

// QueryAccounts requests trading account snapshots.
func (c *Client) QueryAccounts(ctx context.Context) ([]ctp.AccountData, error) {
	var out []wireAccount
	if err := c.request(ctx, msgQueryAccounts, struct{}{}, &out); err != nil {
		return nil, err
	}
	accounts := make([]ctp.AccountData, 0, len(out))
	for _, a := range out {
		accounts = append(accounts, a.native())
	}
	return accounts, nil
}

// QueryPositions requests investor positions.
func (c *Client) QueryPositions(ctx context.Context) ([]ctp.PositionData, error) {
	var out []wirePosition
	if err := c.request(ctx, msgQueryPositions, struct{}{}, &out); err != nil {
		return nil, err
	}
	positions := make([]ctp.PositionData, 0, len(out))
	for _, p := range out {
		positions = append(positions, p.native())
	}
	return positions, nil
}

// SendOrder submits an insert request and returns the bridge-assigned order ID.
func (c *Client) SendOrder(ctx context.Context, req ctp.InsertOrder) (string, error) {
	var ref orderRef
	if err := c.request(ctx, msgSendOrder, wireInsert(req), &ref); err != nil {
		return "", err
	}
	return ref.OrderID, nil
}

// CancelOrder submits an order action request.
func (c *Client) CancelOrder(ctx context.Context, req ctp.CancelRequest) (bool, error) {
	var res cancelResult
	err := c.request(ctx, msgCancelOrder, cancelRequest{
		OrderID: req.OrderID, Symbol: req.Symbol, Exchange: req.Exchange,
	}, &res)
	if err != nil {
		return false, err
	}
	return res.Accepted, nil
}

// Subscribe requests market data and remembers it for reconnects.
func (c *Client) Subscribe(ctx context.Context, symbol, exchange string) error {
	if err := c.request(ctx, msgSubscribe, subscribeRequest{Symbol: symbol, Exchange: exchange}, nil); err != nil {
		return err
	}

	c.sessionMu.Lock()
	c.subs[symbol] = exchange
	c.sessionMu.Unlock()
	return nil
}

// Ensure Client implements ctp.API
var _ ctp.API = (*Client)(nil)
