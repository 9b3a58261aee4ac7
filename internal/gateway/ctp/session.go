package ctp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tathienbao/tradegate/internal/alerting"
	"github.com/tathienbao/tradegate/internal/gateway"
	"github.com/tathienbao/tradegate/internal/metrics"
	"github.com/tathienbao/tradegate/internal/types"
	"golang.org/x/time/rate"
)

// Log markers emitted by the CTP front.
const (
	settlementMarker = "结算信息确认成功"
)

var authFailureMarkers = []string{"登录失败", "认证失败", "CTP:不合法的登录"}

// Session implements gateway.Session on top of a CTP front.
type Session struct {
	cfg      Config
	api      API
	logger   *slog.Logger
	alerter  alerting.Alerter
	recorder *metrics.Recorder

	engine  *gateway.EventEngine
	cache   *gateway.Cache
	limiter *rate.Limiter

	state      atomic.Int32
	settlement atomic.Bool
	ready      chan struct{}

	// lifecycleMu serializes Connect setup and Disconnect teardown.
	// It is not held during the readiness wait.
	lifecycleMu sync.Mutex
	// active holds the native settings the front is logged in with.
	active Settings

	abortMu sync.Mutex
	abort   chan struct{}
}

// Option configures a Session.
type Option func(*Session)

// WithAlerter routes auth-failure, timeout and rejection alerts to a.
func WithAlerter(a alerting.Alerter) Option {
	return func(s *Session) { s.alerter = a }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r *metrics.Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

// NewSession creates a disconnected session over api.
func NewSession(api API, cfg Config, logger *slog.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	s := &Session{
		cfg:      cfg,
		api:      api,
		logger:   logger.With("platform", Platform),
		recorder: metrics.NewRecorder(),
		cache:    gateway.NewCache(),
		limiter:  rate.NewLimiter(rate.Limit(cfg.QueryRate), cfg.QueryBurst),
		ready:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.engine = gateway.NewEventEngine(cfg.QueueSize, s.logger)
	s.engine.Register(s.handleEvent)
	s.state.Store(int32(gateway.StateDisconnected))

	return s
}

// Connect validates settings, starts the login sequence and waits until an
// account snapshot is present. It returns false, nil when the wait expires;
// the session then stays connected so later calls may still succeed.
func (s *Session) Connect(ctx context.Context, settings types.ConnectionSettings) (bool, error) {
	if err := settings.Validate(); err != nil {
		s.recorder.RecordConnect(Platform, "config_error", 0)
		return false, err
	}
	native := TranslateSettings(settings)

	s.lifecycleMu.Lock()
	if s.IsConnected() && !maps.Equal(s.active, native) {
		s.logger.Info("settings changed, restarting CTP login",
			"from", s.active[KeyUsername], "to", native[KeyUsername])
		s.fireAbort()
		s.stopLocked()
	}
	if s.IsConnected() {
		if _, ok := s.cache.Account(); ok {
			s.lifecycleMu.Unlock()
			return true, nil
		}
	} else {
		if err := s.start(ctx, native); err != nil {
			s.lifecycleMu.Unlock()
			return false, err
		}
	}
	abort := s.armAbort()
	s.lifecycleMu.Unlock()

	return s.awaitReady(ctx, abort)
}

// start launches event delivery and the front's login sequence.
func (s *Session) start(ctx context.Context, native Settings) error {
	s.state.Store(int32(gateway.StateConnecting))
	s.cache.Reset()
	s.settlement.Store(false)
	s.drainReady()

	s.logger.Info("connecting to CTP",
		"username", native[KeyUsername],
		"broker_id", native[KeyBrokerID],
		"trade_server", native[KeyTradeServer],
		"market_server", native[KeyMarketServer],
		"environment", native[KeyEnvironment],
	)

	s.engine.Start()

	if err := s.api.Connect(ctx, native, &spiAdapter{s: s}); err != nil {
		s.engine.Stop()
		s.state.Store(int32(gateway.StateError))
		s.recorder.RecordConnect(Platform, "error", 0)
		s.recorder.RecordError("connect")
		_ = alerting.Notify(ctx, s.alerter, alerting.EventConnectFailed, "CTP connect failed", "err", err)
		return types.NewNetworkError("connect", err)
	}

	s.active = native
	s.state.Store(int32(gateway.StateConnected))
	s.recorder.RecordSessionStatus(Platform, true)
	return nil
}

// awaitReady is the bounded readiness wait. Each poll falls back to a
// synchronous account query when no account push has arrived.
func (s *Session) awaitReady(ctx context.Context, abort <-chan struct{}) (bool, error) {
	started := time.Now()
	timeout := time.NewTimer(s.cfg.ReadinessTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if acct, ok := s.cache.Account(); ok {
			wait := time.Since(started)
			s.recorder.RecordConnect(Platform, "ready", wait)
			s.logger.Info("CTP session ready", "account_id", acct.AccountID, "wait", wait)
			return true, nil
		}

		select {
		case <-s.ready:
		case <-ticker.C:
			s.pollAccount(ctx)
		case <-abort:
			s.recorder.RecordConnect(Platform, "aborted", time.Since(started))
			s.logger.Info("readiness wait aborted by disconnect")
			return false, nil
		case <-ctx.Done():
			s.recorder.RecordConnect(Platform, "cancelled", time.Since(started))
			return false, ctx.Err()
		case <-timeout.C:
			s.recorder.RecordConnect(Platform, "timeout", s.cfg.ReadinessTimeout)
			s.logger.Warn("connect timed out waiting for account data",
				"timeout", s.cfg.ReadinessTimeout,
				"settlement_confirmed", s.settlement.Load(),
			)
			_ = alerting.Notify(ctx, s.alerter, alerting.EventConnectTimeout,
				"CTP connect timed out waiting for account data",
				"timeout", s.cfg.ReadinessTimeout.String())
			return false, nil
		}
	}
}

// pollAccount issues one non-blocking fallback query during the readiness wait.
func (s *Session) pollAccount(ctx context.Context) {
	if !s.limiter.Allow() {
		return
	}
	if err := s.queryAccount(ctx); err != nil {
		s.logger.Debug("fallback account query failed", "err", err)
	}
}

func (s *Session) armAbort() <-chan struct{} {
	s.abortMu.Lock()
	defer s.abortMu.Unlock()
	if s.abort == nil {
		s.abort = make(chan struct{})
	}
	return s.abort
}

func (s *Session) fireAbort() {
	s.abortMu.Lock()
	defer s.abortMu.Unlock()
	if s.abort != nil {
		close(s.abort)
		s.abort = nil
	}
}

func (s *Session) drainReady() {
	select {
	case <-s.ready:
	default:
	}
}

// Disconnect stops event delivery, closes the front and clears the cache.
// It is safe to call repeatedly and concurrently with a pending Connect.
func (s *Session) Disconnect() {
	s.fireAbort()

	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	// A Connect that held the lock while we waited has armed a fresh wait.
	s.fireAbort()

	if s.State() == gateway.StateDisconnected {
		return
	}
	s.stopLocked()
}

// stopLocked tears down a connected front. lifecycleMu must be held.
func (s *Session) stopLocked() {
	if err := s.api.Close(); err != nil {
		s.logger.Warn("error closing CTP front", "err", err)
	}
	s.engine.Stop()
	if n := s.engine.Dropped(); n > 0 {
		s.logger.Debug("events dropped at shutdown", "count", n)
	}
	s.cache.Reset()
	s.settlement.Store(false)
	s.active = nil
	s.state.Store(int32(gateway.StateDisconnected))
	s.recorder.RecordSessionStatus(Platform, false)

	s.logger.Info("disconnected from CTP")
}

// State returns the current connection state.
func (s *Session) State() gateway.ConnectionState {
	return gateway.ConnectionState(s.state.Load())
}

// IsConnected returns true if connected.
func (s *Session) IsConnected() bool {
	return s.State() == gateway.StateConnected
}

// SettlementConfirmed reports whether the front confirmed settlement since
// the last connect.
func (s *Session) SettlementConfirmed() bool {
	return s.settlement.Load()
}

// GetAccountInfo returns the cached account. On a miss while connected it
// performs exactly one synchronous refresh. (nil, nil) means no data.
func (s *Session) GetAccountInfo(ctx context.Context) (*types.Account, error) {
	if acct, ok := s.cache.Account(); ok {
		return acct, nil
	}
	if !s.IsConnected() {
		return nil, nil
	}

	if err := s.queryAccount(ctx); err != nil {
		return nil, err
	}
	acct, _ := s.cache.Account()
	return acct, nil
}

func (s *Session) queryAccount(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	timer := metrics.NewTimer()
	accounts, err := s.api.QueryAccounts(ctx)
	s.recorder.RecordQuery(Platform, "accounts", timer.Elapsed(), err)
	if err != nil {
		return s.venueError("query account", err)
	}
	if len(accounts) > 0 {
		acct := accountFromNative(accounts[0])
		s.cache.SetAccount(acct)
		s.recorder.RecordAccount(Platform, acct.AccountID, acct.Balance, acct.Available)
		s.signalReady()
	}
	return nil
}

// GetPositions pulls positions from the front, merges them into the cache and
// returns every live position. The slice is empty, never nil.
func (s *Session) GetPositions(ctx context.Context) ([]types.Position, error) {
	if !s.IsConnected() {
		return []types.Position{}, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return []types.Position{}, fmt.Errorf("rate limit: %w", err)
	}

	qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	timer := metrics.NewTimer()
	data, err := s.api.QueryPositions(qctx)
	s.recorder.RecordQuery(Platform, "positions", timer.Elapsed(), err)
	if err != nil {
		return []types.Position{}, s.venueError("query positions", err)
	}

	pulled := make([]types.Position, 0, len(data))
	for _, d := range data {
		if p, ok := positionFromNative(d); ok {
			pulled = append(pulled, p)
		}
	}
	s.cache.MergePositions(pulled)

	return s.cache.Positions(), nil
}

// PlaceOrder translates and submits an order, returning the venue order id.
// It does not wait for fills; the order lifecycle arrives as order events.
func (s *Session) PlaceOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	native, err := TranslateOrder(req, s.cfg.Exchange)
	if err != nil {
		return "", err
	}
	if !s.IsConnected() {
		return "", types.ErrNotConnected
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}

	qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	dir := string(directionFromNative(native.Direction))
	timer := metrics.NewTimer()
	orderID, err := s.api.SendOrder(qctx, native)
	s.recorder.RecordOrderLatency(timer.Elapsed())
	if err == nil && orderID == "" {
		err = types.NewRejectedError("send order", "", "front returned no order id")
	}
	if err != nil {
		err = s.venueError("send order", err)
		status := "failed"
		event := alerting.EventOrderFailed
		if errors.Is(err, types.ErrVenueRejected) {
			status = "rejected"
			event = alerting.EventOrderRejected
		}
		s.recorder.RecordOrder(Platform, dir, status)
		s.logger.Error("order submission failed", "symbol", req.Symbol, "err", err)
		_ = alerting.Notify(ctx, s.alerter, event, "CTP order submission failed",
			"symbol", req.Symbol, "err", err)
		return "", err
	}

	now := time.Now()
	s.cache.AddOrder(types.Order{
		OrderID:   orderID,
		Symbol:    native.Symbol,
		Exchange:  native.Exchange,
		Direction: directionFromNative(native.Direction),
		Offset:    offsetFromNative(native.Offset),
		Type:      orderTypeFromNative(orderCondition{native.PriceType, native.TimeCondition, native.VolumeCondition}),
		Volume:    native.Volume,
		Price:     native.Price,
		Status:    types.OrderStatusSubmitting,
		CreatedAt: now,
		UpdatedAt: now,
	})
	s.recorder.RecordOrder(Platform, dir, "submitted")

	s.logger.Info("order sent",
		"order_id", orderID,
		"symbol", native.Symbol,
		"exchange", native.Exchange,
		"direction", dir,
		"volume", native.Volume,
		"price", native.Price,
	)

	return orderID, nil
}

// CancelOrder requests cancellation. The result reports whether the front
// accepted the request, not whether the order is cancelled.
func (s *Session) CancelOrder(ctx context.Context, orderID, symbol string) (bool, error) {
	if !s.IsConnected() {
		return false, types.ErrNotConnected
	}

	sym, exchange := SplitSymbol(symbol, "")
	if exchange == "" {
		exchange = s.cfg.Exchange
		if o, ok := s.cache.Order(orderID); ok && o.Exchange != "" {
			exchange = o.Exchange
		}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("rate limit: %w", err)
	}

	qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	accepted, err := s.api.CancelOrder(qctx, CancelRequest{OrderID: orderID, Symbol: sym, Exchange: exchange})
	if err != nil {
		return false, s.venueError("cancel order", err)
	}

	s.logger.Info("order cancel requested", "order_id", orderID, "accepted", accepted)
	return accepted, nil
}

// GetOrderStatus is a pure cache lookup.
func (s *Session) GetOrderStatus(orderID string) (*types.Order, bool) {
	return s.cache.Order(orderID)
}

// Orders returns the order history of the current connection.
func (s *Session) Orders() []types.Order {
	return s.cache.Orders()
}

// Subscribe registers interest in a symbol's market data.
func (s *Session) Subscribe(ctx context.Context, symbol string) error {
	if !s.IsConnected() {
		return types.ErrNotConnected
	}

	sym, exchange := SplitSymbol(symbol, s.cfg.Exchange)
	if err := s.api.Subscribe(ctx, sym, exchange); err != nil {
		return s.venueError("subscribe", err)
	}

	s.logger.Info("subscribed to market data", "symbol", sym, "exchange", exchange)
	return nil
}

// GetTick returns the latest tick for a symbol.
func (s *Session) GetTick(symbol string) (*types.Tick, bool) {
	sym, _ := SplitSymbol(symbol, "")
	return s.cache.Tick(sym)
}

// venueError keeps typed venue errors and wraps anything else as a network failure.
func (s *Session) venueError(op string, err error) error {
	var ve *types.VenueError
	if errors.As(err, &ve) {
		return err
	}
	if errors.Is(err, types.ErrVenueRejected) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return types.NewNetworkError(op, err)
}

func (s *Session) signalReady() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// handleEvent runs on the engine goroutine and is the only writer of pushed state.
func (s *Session) handleEvent(ev gateway.Event) {
	s.recorder.RecordEvent(Platform, string(ev.Type))

	switch ev.Type {
	case gateway.EventLog:
		s.handleLog(ev.Log)
		return
	case gateway.EventAccount:
		if ev.Account != nil {
			s.recorder.RecordAccount(Platform, ev.Account.AccountID, ev.Account.Balance, ev.Account.Available)
		}
	case gateway.EventOrder:
		if ev.Order != nil && ev.Order.Status == types.OrderStatusRejected {
			s.recorder.RecordOrder(Platform, string(ev.Order.Direction), "rejected")
			s.logger.Warn("order rejected", "order_id", ev.Order.OrderID, "reason", ev.Order.StatusMsg)
			_ = alerting.Notify(context.Background(), s.alerter, alerting.EventOrderRejected,
				"CTP order rejected", "order_id", ev.Order.OrderID, "reason", ev.Order.StatusMsg)
		}
	}

	if s.cache.Apply(ev) && ev.Type == gateway.EventAccount {
		s.signalReady()
	}
}

func (s *Session) handleLog(msg string) {
	s.logger.Info(msg, "source", "venue")

	if strings.Contains(msg, settlementMarker) {
		s.settlement.Store(true)
		return
	}
	for _, marker := range authFailureMarkers {
		if strings.Contains(msg, marker) {
			s.recorder.RecordError("auth")
			_ = alerting.Notify(context.Background(), s.alerter, alerting.EventAuthFailure,
				"CTP authentication failure reported", "log", msg)
			return
		}
	}
}

// spiAdapter turns front callbacks into engine events. It runs on the
// front's goroutines and never touches the cache.
type spiAdapter struct {
	s *Session
}

func (a *spiAdapter) put(ev gateway.Event) {
	if !a.s.engine.Put(ev) {
		a.s.recorder.RecordEventDropped(Platform)
	}
}

func (a *spiAdapter) OnLog(msg string) {
	a.put(gateway.LogEvent(msg))
}

func (a *spiAdapter) OnAccount(data AccountData) {
	a.put(gateway.AccountEvent(accountFromNative(data)))
}

func (a *spiAdapter) OnPosition(data PositionData) {
	if p, ok := positionFromNative(data); ok {
		a.put(gateway.PositionEvent(p))
	}
}

func (a *spiAdapter) OnOrder(data OrderData) {
	a.put(gateway.OrderEvent(orderFromNative(data)))
}

func (a *spiAdapter) OnTick(data TickData) {
	a.put(gateway.TickEvent(tickFromNative(data)))
}

// Ensure Session implements gateway.Session
var _ gateway.Session = (*Session)(nil)
