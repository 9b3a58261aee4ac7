package ctp

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/tradegate/internal/alerting"
	"github.com/tathienbao/tradegate/internal/gateway"
	"github.com/tathienbao/tradegate/internal/types"
)

func testConfig() Config {
	return Config{
		ReadinessTimeout: 200 * time.Millisecond,
		PollInterval:     20 * time.Millisecond,
		QueryTimeout:     time.Second,
		QueryRate:        1000,
		QueryBurst:       1000,
		Exchange:         "SHFE",
	}
}

func testSettings() types.ConnectionSettings {
	return types.ConnectionSettings{Username: "240298", Password: "secret", BrokerID: "9999"}
}

func testAccount() *AccountData {
	return &AccountData{
		AccountID: "240298",
		Balance:   decimal.NewFromInt(1000000),
		Available: decimal.NewFromInt(1000000),
	}
}

// connected returns a session that completed its readiness wait.
func connected(t *testing.T, api *fakeAPI, opts ...Option) *Session {
	t.Helper()
	if api.pushAccount == nil {
		api.pushAccount = testAccount()
	}
	s := NewSession(api, testConfig(), nil, opts...)
	ok, err := s.Connect(context.Background(), testSettings())
	if err != nil || !ok {
		t.Fatalf("Connect() = %v, %v; want true, nil", ok, err)
	}
	t.Cleanup(s.Disconnect)
	return s
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// TestSession_ConnectMissingPassword tests fail-fast validation.
func TestSession_ConnectMissingPassword(t *testing.T) {
	api := &fakeAPI{}
	s := NewSession(api, testConfig(), nil)

	settings := testSettings()
	settings.Password = ""

	ok, err := s.Connect(context.Background(), settings)
	if ok {
		t.Error("Connect() should return false")
	}
	if !errors.Is(err, types.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if !strings.Contains(err.Error(), "password") {
		t.Errorf("error should mention password: %v", err)
	}
	if connects, _, _, _ := api.counts(); connects != 0 {
		t.Errorf("front Connect calls = %d, want 0", connects)
	}
}

// TestSession_ConnectReady tests the happy path with a pushed account.
func TestSession_ConnectReady(t *testing.T) {
	api := &fakeAPI{}
	s := connected(t, api)

	if !s.IsConnected() {
		t.Error("session should be connected")
	}
	if !s.SettlementConfirmed() {
		t.Error("settlement marker precedes the account and should be applied")
	}

	acct, err := s.GetAccountInfo(context.Background())
	if err != nil || acct == nil {
		t.Fatalf("GetAccountInfo() = %v, %v", acct, err)
	}
	if acct.AccountID != "240298" {
		t.Errorf("AccountID = %s, want 240298", acct.AccountID)
	}

	if got := api.settings[KeyBrokerID]; got != "9999" {
		t.Errorf("native broker id = %s, want 9999", got)
	}
	if got := api.settings[KeyProductName]; got != DefaultProductName {
		t.Errorf("native product name = %s, want %s", got, DefaultProductName)
	}
}

// TestSession_ConnectTimeout tests that a silent front yields false and that
// a later account read issues exactly one query.
func TestSession_ConnectTimeout(t *testing.T) {
	api := &fakeAPI{}
	mock := alerting.NewMockAlerter()
	s := NewSession(api, testConfig(), nil, WithAlerter(mock))
	defer s.Disconnect()

	ok, err := s.Connect(context.Background(), testSettings())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if ok {
		t.Fatal("Connect() should time out")
	}
	if !s.IsConnected() {
		t.Error("session should stay connected after a readiness timeout")
	}
	if !mock.HasEvent(alerting.EventConnectTimeout) {
		t.Error("expected connect timeout alert")
	}

	_, _, before, _ := api.counts()
	acct, err := s.GetAccountInfo(context.Background())
	if err != nil {
		t.Fatalf("GetAccountInfo() error = %v", err)
	}
	if acct != nil {
		t.Errorf("expected no account, got %+v", acct)
	}
	if _, _, after, _ := api.counts(); after != before+1 {
		t.Errorf("account queries = %d, want exactly one more than %d", after, before)
	}
}

// TestSession_ConnectFallbackQuery tests readiness through the query path.
func TestSession_ConnectFallbackQuery(t *testing.T) {
	api := &fakeAPI{accounts: []AccountData{*testAccount()}}
	s := NewSession(api, testConfig(), nil)
	defer s.Disconnect()

	ok, err := s.Connect(context.Background(), testSettings())
	if err != nil || !ok {
		t.Fatalf("Connect() = %v, %v; want true, nil", ok, err)
	}
}

// TestSession_ConnectFrontError tests transport failure during login start.
func TestSession_ConnectFrontError(t *testing.T) {
	api := &fakeAPI{connectErr: errors.New("dial tcp: connection refused")}
	s := NewSession(api, testConfig(), nil)

	ok, err := s.Connect(context.Background(), testSettings())
	if ok {
		t.Error("Connect() should return false")
	}
	if !errors.Is(err, types.ErrNetworkFailure) {
		t.Errorf("expected ErrNetworkFailure, got %v", err)
	}
	if s.State() != gateway.StateError {
		t.Errorf("State = %s, want error", s.State())
	}

	s.Disconnect()
	if s.IsConnected() {
		t.Error("session should not be connected")
	}
}

// TestSession_DisconnectIdempotent tests repeated disconnects.
func TestSession_DisconnectIdempotent(t *testing.T) {
	api := &fakeAPI{}
	s := NewSession(api, testConfig(), nil)

	s.Disconnect()
	s.Disconnect()
	if s.IsConnected() {
		t.Error("never-connected session should report disconnected")
	}

	s = connected(t, api)
	s.Disconnect()
	s.Disconnect()

	if s.IsConnected() {
		t.Error("session should be disconnected")
	}
	if _, closes, _, _ := api.counts(); closes != 1 {
		t.Errorf("front Close calls = %d, want 1", closes)
	}
	if _, ok := s.GetOrderStatus("anything"); ok {
		t.Error("cache should be cleared on disconnect")
	}
}

// TestSession_DisconnectDuringWait tests that Disconnect ends a pending readiness wait.
func TestSession_DisconnectDuringWait(t *testing.T) {
	cfg := testConfig()
	cfg.ReadinessTimeout = 10 * time.Second

	api := &fakeAPI{}
	s := NewSession(api, cfg, nil)

	done := make(chan bool, 1)
	go func() {
		ok, _ := s.Connect(context.Background(), testSettings())
		done <- ok
	}()

	eventually(t, s.IsConnected)
	s.Disconnect()

	select {
	case ok := <-done:
		if ok {
			t.Error("aborted Connect should return false")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not observe Disconnect")
	}
}

// TestSession_PlaceOrder_UnsupportedDirection tests rejection before any front call.
func TestSession_PlaceOrder_UnsupportedDirection(t *testing.T) {
	api := &fakeAPI{}
	s := connected(t, api)

	_, err := s.PlaceOrder(context.Background(), types.OrderRequest{
		Symbol: "rb2409", Direction: "DIAGONAL", Volume: 1, Type: types.OrderTypeMarket,
	})
	if !errors.Is(err, types.ErrUnsupportedValue) {
		t.Fatalf("expected ErrUnsupportedValue, got %v", err)
	}
	if _, _, _, sends := api.counts(); sends != 0 {
		t.Errorf("SendOrder calls = %d, want 0", sends)
	}
}

// TestSession_PlaceOrder_Stop tests that CTP cannot express stop orders.
func TestSession_PlaceOrder_Stop(t *testing.T) {
	api := &fakeAPI{}
	s := connected(t, api)

	_, err := s.PlaceOrder(context.Background(), types.OrderRequest{
		Symbol: "rb2409", Direction: types.DirectionLong, Volume: 1, Type: types.OrderTypeStop,
	})
	if !errors.Is(err, types.ErrUnsupportedValue) {
		t.Fatalf("expected ErrUnsupportedValue, got %v", err)
	}
	if _, _, _, sends := api.counts(); sends != 0 {
		t.Errorf("SendOrder calls = %d, want 0", sends)
	}
}

// TestSession_PlaceOrder_NotConnected tests the connection precondition.
func TestSession_PlaceOrder_NotConnected(t *testing.T) {
	s := NewSession(&fakeAPI{}, testConfig(), nil)

	_, err := s.PlaceOrder(context.Background(), types.OrderRequest{
		Symbol: "rb2409", Direction: types.DirectionLong, Volume: 1,
	})
	if !errors.Is(err, types.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

// TestSession_PlaceOrder_Translation tests the native request and the submitting record.
func TestSession_PlaceOrder_Translation(t *testing.T) {
	api := &fakeAPI{}
	s := connected(t, api)

	id, err := s.PlaceOrder(context.Background(), types.OrderRequest{
		Symbol:    "sc2409.INE",
		Direction: "SELL",
		Offset:    types.OffsetCloseToday,
		Type:      types.OrderTypeFOK,
		Volume:    2,
		Price:     decimal.NewFromInt(560),
	})
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	if id == "" {
		t.Fatal("expected order id")
	}

	req := api.lastSent()
	if req.Symbol != "sc2409" || req.Exchange != "INE" {
		t.Errorf("symbol = %s.%s, want sc2409.INE", req.Symbol, req.Exchange)
	}
	if req.Direction != DirectionSell || req.Offset != OffsetCloseToday {
		t.Errorf("direction/offset = %c/%c, want 1/3", req.Direction, req.Offset)
	}
	if req.PriceType != PriceLimit || req.TimeCondition != TimeIOC || req.VolumeCondition != VolumeComplete {
		t.Errorf("conditions = %c/%c/%c, want 2/1/3", req.PriceType, req.TimeCondition, req.VolumeCondition)
	}

	o, ok := s.GetOrderStatus(id)
	if !ok {
		t.Fatal("order should be cached on submission")
	}
	if o.Status != types.OrderStatusSubmitting {
		t.Errorf("Status = %s, want SUBMITTING", o.Status)
	}
	if o.Type != types.OrderTypeFOK {
		t.Errorf("Type = %s, want FOK", o.Type)
	}
}

// TestSession_PlaceOrder_NetworkFailure tests that transport errors propagate.
func TestSession_PlaceOrder_NetworkFailure(t *testing.T) {
	api := &fakeAPI{sendErr: errors.New("broken pipe")}
	mock := alerting.NewMockAlerter()
	s := connected(t, api, WithAlerter(mock))

	_, err := s.PlaceOrder(context.Background(), types.OrderRequest{
		Symbol: "rb2409", Direction: types.DirectionLong, Volume: 1,
	})
	if !errors.Is(err, types.ErrNetworkFailure) {
		t.Fatalf("expected ErrNetworkFailure, got %v", err)
	}
	if !strings.Contains(err.Error(), "broken pipe") {
		t.Errorf("error should keep the cause: %v", err)
	}
	if !mock.HasEvent(alerting.EventOrderFailed) {
		t.Error("expected order failed alert")
	}
	if len(s.Orders()) != 0 {
		t.Error("failed submission should not be cached")
	}
}

// TestSession_OrderEvents tests that pushed order updates replace the submitting record.
func TestSession_OrderEvents(t *testing.T) {
	api := &fakeAPI{}
	mock := alerting.NewMockAlerter()
	s := connected(t, api, WithAlerter(mock))

	id, err := s.PlaceOrder(context.Background(), types.OrderRequest{
		Symbol: "rb2409", Direction: types.DirectionLong, Volume: 1, Price: decimal.NewFromInt(4000),
		Type: types.OrderTypeLimit,
	})
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}

	spi := api.currentSpi()
	spi.OnOrder(OrderData{OrderID: id, Symbol: "rb2409", Status: StatusNoTradeQueueing, Volume: 1})
	spi.OnOrder(OrderData{OrderID: id, Symbol: "rb2409", Status: StatusAllTraded, Volume: 1, Traded: 1})

	eventually(t, func() bool {
		o, ok := s.GetOrderStatus(id)
		return ok && o.Status == types.OrderStatusFilled
	})
	if n := len(s.Orders()); n != 1 {
		t.Errorf("orders = %d, want 1", n)
	}

	spi.OnOrder(OrderData{OrderID: "1_-1_99", Symbol: "rb2409", ErrorID: 31, StatusMsg: "资金不足"})
	eventually(t, func() bool { return mock.HasEvent(alerting.EventOrderRejected) })
}

// TestSession_GetPositions tests pull-and-merge with zero-volume filtering.
func TestSession_GetPositions(t *testing.T) {
	s := NewSession(&fakeAPI{}, testConfig(), nil)
	positions, err := s.GetPositions(context.Background())
	if err != nil || positions == nil || len(positions) != 0 {
		t.Fatalf("disconnected GetPositions() = %v, %v; want empty, nil", positions, err)
	}

	api := &fakeAPI{positions: []PositionData{
		{Symbol: "rb2409", PosiDirection: PosiLong, Position: 3, Frozen: 1},
		{Symbol: "hc2410", PosiDirection: PosiShort, Position: 0},
		{Symbol: "IF2409", PosiDirection: PosiNet, Position: 1},
	}}
	s = connected(t, api)

	positions, err = s.GetPositions(context.Background())
	if err != nil {
		t.Fatalf("GetPositions() error = %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("positions = %+v, want only rb2409", positions)
	}
	if positions[0].Direction != types.DirectionLong || positions[0].Available != 2 {
		t.Errorf("position = %+v, want LONG with 2 available", positions[0])
	}
}

// TestSession_GetPositions_Error tests propagation of query failures.
func TestSession_GetPositions_Error(t *testing.T) {
	api := &fakeAPI{}
	s := connected(t, api)

	api.mu.Lock()
	api.queryErr = errors.New("query timeout")
	api.mu.Unlock()

	positions, err := s.GetPositions(context.Background())
	if !errors.Is(err, types.ErrNetworkFailure) {
		t.Errorf("expected ErrNetworkFailure, got %v", err)
	}
	if positions == nil {
		t.Error("positions should be empty, not nil")
	}
}

// TestSession_AuthFailureAlert tests the best-effort auth diagnostic.
func TestSession_AuthFailureAlert(t *testing.T) {
	api := &fakeAPI{}
	mock := alerting.NewMockAlerter()
	s := connected(t, api, WithAlerter(mock))

	api.currentSpi().OnLog("交易服务器登录失败，错误代码：3，错误信息：CTP:不合法的登录")

	eventually(t, func() bool { return mock.HasEvent(alerting.EventAuthFailure) })
	if !s.IsConnected() {
		t.Error("auth log text must not change the connection state")
	}
}

// TestSession_SubscribeAndTick tests market data registration and lookup.
func TestSession_SubscribeAndTick(t *testing.T) {
	api := &fakeAPI{}
	s := connected(t, api)

	if err := s.Subscribe(context.Background(), "rb2409"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if api.subscriptions[0] != "rb2409.SHFE" {
		t.Errorf("subscription = %s, want rb2409.SHFE", api.subscriptions[0])
	}

	api.currentSpi().OnTick(TickData{Symbol: "rb2409", Exchange: "SHFE", LastPrice: decimal.NewFromInt(4012)})

	eventually(t, func() bool {
		tick, ok := s.GetTick("rb2409.SHFE")
		return ok && tick.LastPrice.Equal(decimal.NewFromInt(4012))
	})
}

// TestSession_CancelOrder tests that the cached exchange is reused.
func TestSession_CancelOrder(t *testing.T) {
	api := &fakeAPI{cancelOK: true}
	s := connected(t, api)

	id, err := s.PlaceOrder(context.Background(), types.OrderRequest{
		Symbol: "sc2409.INE", Direction: types.DirectionLong, Volume: 1, Price: decimal.NewFromInt(560),
		Type: types.OrderTypeLimit,
	})
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}

	ok, err := s.CancelOrder(context.Background(), id, "sc2409")
	if err != nil || !ok {
		t.Fatalf("CancelOrder() = %v, %v; want true, nil", ok, err)
	}
	if got := api.cancels[0]; got.OrderID != id || got.Symbol != "sc2409" || got.Exchange != "INE" {
		t.Errorf("cancel request = %+v", got)
	}
}

// TestSession_ConnectNewSettingsRestartsLogin tests that a connect with
// different credentials never reuses the front logged in with the old ones.
func TestSession_ConnectNewSettingsRestartsLogin(t *testing.T) {
	api := &fakeAPI{}
	s := NewSession(api, testConfig(), nil)
	defer s.Disconnect()
	ctx := context.Background()

	if ok, err := s.Connect(ctx, testSettings()); ok || err != nil {
		t.Fatalf("first Connect() = %v, %v; want false, nil", ok, err)
	}

	api.mu.Lock()
	api.pushAccount = &AccountData{AccountID: "777777", Balance: decimal.NewFromInt(500000)}
	api.mu.Unlock()

	other := types.ConnectionSettings{Username: "777777", Password: "other", BrokerID: "9999"}
	ok, err := s.Connect(ctx, other)
	if err != nil || !ok {
		t.Fatalf("second Connect() = %v, %v; want true, nil", ok, err)
	}

	connects, closes, _, _ := api.counts()
	if connects != 2 || closes != 1 {
		t.Errorf("front connects = %d closes = %d, want 2 and 1", connects, closes)
	}
	api.mu.Lock()
	user := api.settings[KeyUsername]
	api.mu.Unlock()
	if user != "777777" {
		t.Errorf("front logged in as %q, want 777777", user)
	}
	acct, _ := s.GetAccountInfo(ctx)
	if acct == nil || acct.AccountID != "777777" {
		t.Errorf("account = %+v, want 777777", acct)
	}
}

// TestSession_ConnectSameSettingsKeepsLogin tests that retrying after a
// readiness timeout reuses the pending login.
func TestSession_ConnectSameSettingsKeepsLogin(t *testing.T) {
	api := &fakeAPI{}
	s := NewSession(api, testConfig(), nil)
	defer s.Disconnect()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, err := s.Connect(ctx, testSettings()); ok || err != nil {
			t.Fatalf("Connect() #%d = %v, %v; want false, nil", i, ok, err)
		}
	}
	if connects, closes, _, _ := api.counts(); connects != 1 || closes != 0 {
		t.Errorf("front connects = %d closes = %d, want 1 and 0", connects, closes)
	}
}
