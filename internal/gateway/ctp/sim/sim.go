// Package sim provides a simulated CTP front for paper trading and tests.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/tradegate/internal/gateway/ctp"
)

// Rejection codes reported in OrderData.ErrorID.
const (
	ErrorCloseExceedsPosition = 30
	ErrorInsufficientFunds    = 31
)

// ErrQueryFailed is returned by queries when FailQueries is set.
var ErrQueryFailed = errors.New("simulated query failure")

var errNotLoggedIn = errors.New("front not logged in")

// Config holds simulated front configuration.
type Config struct {
	AccountID      string
	InitialBalance decimal.Decimal
	Multiplier     int64
	MarginRate     decimal.Decimal
	FillDelay      time.Duration
	// TickInterval re-publishes the last tick of every subscribed symbol. Zero disables it.
	TickInterval time.Duration

	// Failure knobs
	SilentAccount bool
	RejectLogin   bool
	FailQueries   bool

	// Positions present at login.
	Positions []ctp.PositionData
}

// DefaultConfig returns a simulated account with one million in funds.
func DefaultConfig() Config {
	return Config{
		AccountID:      "SIM",
		InitialBalance: decimal.NewFromInt(1000000),
		Multiplier:     10,
		MarginRate:     decimal.NewFromFloat(0.1),
		FillDelay:      50 * time.Millisecond,
	}
}

type positionKey struct {
	symbol string
	dir    ctp.PosiDirectionCode
}

type restingOrder struct {
	data ctp.OrderData
}

// Front implements ctp.API without a network.
type Front struct {
	cfg    Config
	logger *slog.Logger

	loggedIn atomic.Bool
	session  string
	nextRef  atomic.Int64

	mu        sync.Mutex
	spi       ctp.Spi
	balance   decimal.Decimal
	profit    decimal.Decimal
	positions map[positionKey]*ctp.PositionData
	orders    map[string]*restingOrder
	prices    map[string]decimal.Decimal
	exchanges map[string]string
	subs      map[string]bool

	outbox chan func(ctp.Spi)
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewFront creates a logged-out simulated front.
func NewFront(cfg Config, logger *slog.Logger) *Front {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 1
	}

	f := &Front{
		cfg:       cfg,
		logger:    logger.With("front", "sim"),
		balance:   cfg.InitialBalance,
		positions: make(map[positionKey]*ctp.PositionData),
		orders:    make(map[string]*restingOrder),
		prices:    make(map[string]decimal.Decimal),
		exchanges: make(map[string]string),
		subs:      make(map[string]bool),
	}
	for _, p := range cfg.Positions {
		f.positions[positionKey{p.Symbol, p.PosiDirection}] = &p
	}
	return f
}

// Connect starts the simulated login sequence on its own goroutine.
func (f *Front) Connect(ctx context.Context, settings ctp.Settings, spi ctp.Spi) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if settings[ctp.KeyTradeServer] == "" {
		return fmt.Errorf("trade server address is empty")
	}

	f.mu.Lock()
	if f.done != nil {
		f.mu.Unlock()
		return nil
	}
	session := uuid.NewString()[:8]
	outbox := make(chan func(ctp.Spi), 256)
	done := make(chan struct{})
	f.spi = spi
	f.session = session
	f.outbox = outbox
	f.done = done
	f.mu.Unlock()

	f.wg.Add(1)
	go f.emitLoop(outbox, done)

	f.wg.Add(1)
	go f.login(settings, done)

	if f.cfg.TickInterval > 0 {
		f.wg.Add(1)
		go f.tickLoop(done)
	}

	f.logger.Info("simulated front connecting",
		"session", session,
		"broker_id", settings[ctp.KeyBrokerID],
		"user", settings[ctp.KeyUsername],
	)
	return nil
}

func (f *Front) login(settings ctp.Settings, done <-chan struct{}) {
	defer f.wg.Done()

	f.emitLog("交易服务器连接成功")
	if f.cfg.RejectLogin {
		f.emitLog("交易服务器登录失败，错误代码：3，错误信息：CTP:不合法的登录")
		return
	}

	select {
	case <-done:
		return
	default:
	}

	f.loggedIn.Store(true)
	f.emitLog(fmt.Sprintf("交易服务器登录成功 %s", settings[ctp.KeyUsername]))
	f.emitLog("结算信息确认成功")

	if f.cfg.SilentAccount {
		return
	}

	acct := f.accountSnapshot()
	f.emit(func(spi ctp.Spi) { spi.OnAccount(acct) })
	for _, p := range f.positionSnapshot() {
		f.emit(func(spi ctp.Spi) { spi.OnPosition(p) })
	}
}

// emitLoop delivers callbacks in submission order.
func (f *Front) emitLoop(outbox <-chan func(ctp.Spi), done <-chan struct{}) {
	defer f.wg.Done()

	for {
		select {
		case <-done:
			return
		case fn := <-outbox:
			f.mu.Lock()
			spi := f.spi
			f.mu.Unlock()
			if spi != nil {
				fn(spi)
			}
		}
	}
}

func (f *Front) emit(fn func(ctp.Spi)) {
	f.mu.Lock()
	outbox, done := f.outbox, f.done
	f.mu.Unlock()
	if outbox == nil {
		return
	}

	select {
	case outbox <- fn:
	case <-done:
	}
}

func (f *Front) emitLog(msg string) {
	f.emit(func(spi ctp.Spi) { spi.OnLog(msg) })
}

func (f *Front) tickLoop(done <-chan struct{}) {
	defer f.wg.Done()

	ticker := time.NewTicker(f.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			f.mu.Lock()
			var ticks []ctp.TickData
			for sym := range f.subs {
				if price, ok := f.prices[sym]; ok {
					ticks = append(ticks, ctp.TickData{
						Symbol: sym, Exchange: f.exchanges[sym], LastPrice: price, UpdateTime: time.Now(),
					})
				}
			}
			f.mu.Unlock()
			for _, t := range ticks {
				f.emit(func(spi ctp.Spi) { spi.OnTick(t) })
			}
		}
	}
}

// Close logs out and stops every background goroutine. It is safe to call repeatedly.
func (f *Front) Close() error {
	f.mu.Lock()
	done := f.done
	if done == nil {
		f.mu.Unlock()
		return nil
	}
	close(done)
	f.done = nil
	f.outbox = nil
	f.spi = nil
	f.mu.Unlock()

	f.wg.Wait()
	f.loggedIn.Store(false)
	f.logger.Info("simulated front closed")
	return nil
}

// LoggedIn reports whether the login sequence completed.
func (f *Front) LoggedIn() bool {
	return f.loggedIn.Load()
}

// QueryAccounts returns the account snapshot.
func (f *Front) QueryAccounts(ctx context.Context) ([]ctp.AccountData, error) {
	if err := f.queryAllowed(ctx); err != nil {
		return nil, err
	}
	if f.cfg.SilentAccount {
		return nil, nil
	}
	return []ctp.AccountData{f.accountSnapshot()}, nil
}

// QueryPositions returns every position record including closed ones.
func (f *Front) QueryPositions(ctx context.Context) ([]ctp.PositionData, error) {
	if err := f.queryAllowed(ctx); err != nil {
		return nil, err
	}
	return f.positionSnapshot(), nil
}

func (f *Front) queryAllowed(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.cfg.FailQueries {
		return ErrQueryFailed
	}
	if !f.loggedIn.Load() {
		return errNotLoggedIn
	}
	return nil
}

func (f *Front) accountSnapshot() ctp.AccountData {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accountLocked()
}

func (f *Front) accountLocked() ctp.AccountData {
	margin := decimal.Zero
	floating := decimal.Zero
	mult := decimal.NewFromInt(f.cfg.Multiplier)
	for _, p := range f.positions {
		vol := decimal.NewFromInt(int64(p.Position))
		margin = margin.Add(p.Price.Mul(vol).Mul(mult).Mul(f.cfg.MarginRate))
		floating = floating.Add(p.PnL)
	}
	balance := f.balance.Add(floating)
	return ctp.AccountData{
		AccountID:   f.cfg.AccountID,
		Balance:     balance,
		Available:   balance.Sub(margin),
		Margin:      margin,
		CloseProfit: f.profit,
	}
}

func (f *Front) positionSnapshot() []ctp.PositionData {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]ctp.PositionData, 0, len(f.positions))
	for _, p := range f.positions {
		out = append(out, *p)
	}
	return out
}

// SendOrder accepts an order and reports its lifecycle through the Spi.
func (f *Front) SendOrder(ctx context.Context, req ctp.InsertOrder) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !f.loggedIn.Load() {
		return "", errNotLoggedIn
	}

	f.mu.Lock()
	session := f.session
	f.mu.Unlock()
	orderID := fmt.Sprintf("%s_%d", session, f.nextRef.Add(1))
	data := ctp.OrderData{
		OrderID:         orderID,
		Symbol:          req.Symbol,
		Exchange:        req.Exchange,
		Direction:       req.Direction,
		Offset:          req.Offset,
		PriceType:       req.PriceType,
		TimeCondition:   req.TimeCondition,
		VolumeCondition: req.VolumeCondition,
		Price:           req.Price,
		Volume:          req.Volume,
		Status:          ctp.StatusNoTradeQueueing,
		InsertTime:      time.Now(),
	}

	f.mu.Lock()
	f.exchanges[req.Symbol] = req.Exchange
	if msg, code := f.checkLocked(data); code != 0 {
		f.mu.Unlock()
		data.ErrorID = code
		data.StatusMsg = msg
		data.Status = ctp.StatusCanceled
		f.emit(func(spi ctp.Spi) { spi.OnOrder(data) })
		f.logger.Info("simulated order rejected", "order_id", orderID, "reason", msg)
		return orderID, nil
	}
	f.orders[orderID] = &restingOrder{data: data}
	f.freezeLocked(data, data.Volume)
	f.mu.Unlock()

	f.emit(func(spi ctp.Spi) { spi.OnOrder(data) })

	f.logger.Info("simulated order accepted",
		"order_id", orderID,
		"symbol", req.Symbol,
		"direction", string(req.Direction),
		"volume", req.Volume,
		"price", req.Price,
	)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.mu.Lock()
		done := f.done
		f.mu.Unlock()
		if done == nil {
			return
		}
		select {
		case <-done:
			return
		case <-time.After(f.cfg.FillDelay):
		}
		f.tryFill(orderID)
	}()

	return orderID, nil
}

// checkLocked validates closes against positions and opens against funds.
func (f *Front) checkLocked(o ctp.OrderData) (string, int) {
	if o.Offset != ctp.OffsetOpen {
		p, ok := f.positions[positionKey{o.Symbol, closedSide(o.Direction)}]
		if !ok || p.Position-p.Frozen < o.Volume {
			return "平仓量超过持仓量", ErrorCloseExceedsPosition
		}
		return "", 0
	}

	price := o.Price
	if o.PriceType == ctp.PriceAny {
		price = f.prices[o.Symbol]
	}
	need := price.Mul(decimal.NewFromInt(int64(o.Volume) * f.cfg.Multiplier)).Mul(f.cfg.MarginRate)
	if need.GreaterThan(f.accountLocked().Available) {
		return "资金不足", ErrorInsufficientFunds
	}
	return "", 0
}

// closedSide is the position side a closing order reduces.
func closedSide(d ctp.DirectionCode) ctp.PosiDirectionCode {
	if d == ctp.DirectionSell {
		return ctp.PosiLong
	}
	return ctp.PosiShort
}

func openedSide(d ctp.DirectionCode) ctp.PosiDirectionCode {
	if d == ctp.DirectionSell {
		return ctp.PosiShort
	}
	return ctp.PosiLong
}

// tryFill fills an order at the market price if it crosses. Immediate-or-cancel
// orders that do not cross are cancelled; GFD limit orders keep resting.
func (f *Front) tryFill(orderID string) {
	f.mu.Lock()
	ro, ok := f.orders[orderID]
	if !ok {
		f.mu.Unlock()
		return
	}
	o := ro.data

	market, hasMarket := f.prices[o.Symbol]
	var fillPrice decimal.Decimal
	crossed := false

	switch {
	case o.PriceType == ctp.PriceAny:
		fillPrice, crossed = market, hasMarket
		if !hasMarket && o.Price.IsPositive() {
			fillPrice, crossed = o.Price, true
		}
	case hasMarket && o.Direction == ctp.DirectionBuy && market.LessThanOrEqual(o.Price):
		fillPrice, crossed = market, true
	case hasMarket && o.Direction == ctp.DirectionSell && market.GreaterThanOrEqual(o.Price):
		fillPrice, crossed = market, true
	}

	if !crossed {
		if o.TimeCondition == ctp.TimeIOC {
			delete(f.orders, orderID)
			f.freezeLocked(o, -o.Volume)
			o.Status = ctp.StatusCanceled
			o.StatusMsg = "已撤单报单被拒绝"
			f.mu.Unlock()
			f.emit(func(spi ctp.Spi) { spi.OnOrder(o) })
			return
		}
		f.mu.Unlock()
		return
	}

	delete(f.orders, orderID)
	o.Traded = o.Volume
	o.Status = ctp.StatusAllTraded
	o.StatusMsg = "全部成交"
	changed := f.applyFillLocked(o, fillPrice)
	acct := f.accountLocked()
	f.mu.Unlock()

	f.emit(func(spi ctp.Spi) { spi.OnOrder(o) })
	f.emit(func(spi ctp.Spi) { spi.OnPosition(changed) })
	if !f.cfg.SilentAccount {
		f.emit(func(spi ctp.Spi) { spi.OnAccount(acct) })
	}

	f.logger.Info("simulated order filled", "order_id", orderID, "price", fillPrice, "volume", o.Volume)
}

// applyFillLocked updates positions and realized profit, returning the changed record.
func (f *Front) applyFillLocked(o ctp.OrderData, price decimal.Decimal) ctp.PositionData {
	vol := decimal.NewFromInt(int64(o.Volume))
	mult := decimal.NewFromInt(f.cfg.Multiplier)

	if o.Offset == ctp.OffsetOpen {
		key := positionKey{o.Symbol, openedSide(o.Direction)}
		p, ok := f.positions[key]
		if !ok {
			p = &ctp.PositionData{Symbol: o.Symbol, Exchange: o.Exchange, PosiDirection: key.dir}
			f.positions[key] = p
		}
		if p.Position == 0 {
			p.Price = price
		} else {
			cost := p.Price.Mul(decimal.NewFromInt(int64(p.Position))).Add(price.Mul(vol))
			p.Price = cost.Div(decimal.NewFromInt(int64(p.Position + o.Volume)))
		}
		p.Position += o.Volume
		f.markLocked(p, price)
		return *p
	}

	key := positionKey{o.Symbol, closedSide(o.Direction)}
	p := f.positions[key]
	p.Frozen = max(p.Frozen-o.Volume, 0)
	pnl := price.Sub(p.Price).Mul(vol).Mul(mult)
	if key.dir == ctp.PosiShort {
		pnl = pnl.Neg()
	}
	f.profit = f.profit.Add(pnl)
	f.balance = f.balance.Add(pnl)

	p.Position -= o.Volume
	if p.YdPosition > p.Position {
		p.YdPosition = p.Position
	}
	f.markLocked(p, price)
	return *p
}

// freezeLocked reserves (delta > 0) or releases closable volume for a
// resting close order so concurrent closes cannot exceed the position.
func (f *Front) freezeLocked(o ctp.OrderData, delta int) {
	if o.Offset == ctp.OffsetOpen {
		return
	}
	if p, ok := f.positions[positionKey{o.Symbol, closedSide(o.Direction)}]; ok {
		p.Frozen = max(p.Frozen+delta, 0)
	}
}

func (f *Front) markLocked(p *ctp.PositionData, price decimal.Decimal) {
	pnl := price.Sub(p.Price).Mul(decimal.NewFromInt(int64(p.Position) * f.cfg.Multiplier))
	if p.PosiDirection == ctp.PosiShort {
		pnl = pnl.Neg()
	}
	p.PnL = pnl
}

// CancelOrder cancels a resting order. It reports false for unknown or
// already finished orders.
func (f *Front) CancelOrder(ctx context.Context, req ctp.CancelRequest) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !f.loggedIn.Load() {
		return false, errNotLoggedIn
	}

	f.mu.Lock()
	ro, ok := f.orders[req.OrderID]
	if !ok {
		f.mu.Unlock()
		return false, nil
	}
	delete(f.orders, req.OrderID)
	o := ro.data
	f.freezeLocked(o, -o.Volume)
	o.Status = ctp.StatusCanceled
	o.StatusMsg = "已撤单"
	f.mu.Unlock()

	f.emit(func(spi ctp.Spi) { spi.OnOrder(o) })
	return true, nil
}

// Subscribe registers a symbol for tick delivery.
func (f *Front) Subscribe(ctx context.Context, symbol, exchange string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !f.loggedIn.Load() {
		return errNotLoggedIn
	}

	f.mu.Lock()
	f.subs[symbol] = true
	f.exchanges[symbol] = exchange
	f.mu.Unlock()

	f.emitLog(fmt.Sprintf("行情订阅成功 %s", symbol))
	return nil
}

// PushTick sets the market price of a symbol, publishes the tick to
// subscribers and matches resting orders against it.
func (f *Front) PushTick(tick ctp.TickData) {
	if tick.UpdateTime.IsZero() {
		tick.UpdateTime = time.Now()
	}

	f.mu.Lock()
	f.prices[tick.Symbol] = tick.LastPrice
	if tick.Exchange == "" {
		tick.Exchange = f.exchanges[tick.Symbol]
	}
	subscribed := f.subs[tick.Symbol]

	var marked []ctp.PositionData
	for _, p := range f.positions {
		if p.Symbol == tick.Symbol && p.Position > 0 {
			f.markLocked(p, tick.LastPrice)
			marked = append(marked, *p)
		}
	}

	var resting []string
	for id, ro := range f.orders {
		if ro.data.Symbol == tick.Symbol {
			resting = append(resting, id)
		}
	}
	f.mu.Unlock()

	if subscribed {
		f.emit(func(spi ctp.Spi) { spi.OnTick(tick) })
	}
	for _, p := range marked {
		f.emit(func(spi ctp.Spi) { spi.OnPosition(p) })
	}
	for _, id := range resting {
		f.tryFill(id)
	}
}

// Ensure Front implements ctp.API
var _ ctp.API = (*Front)(nil)
