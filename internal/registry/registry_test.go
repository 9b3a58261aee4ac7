package registry

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/tradegate/internal/gateway"
	"github.com/tathienbao/tradegate/internal/persistence"
	"github.com/tathienbao/tradegate/internal/types"
)

// fakeSession is a scripted gateway.Session.
type fakeSession struct {
	mu          sync.Mutex
	ready       bool
	connectErr  error
	connected   bool
	connects    []types.ConnectionSettings
	disconnects int
	account     *types.Account
	positions   []types.Position
}

func (f *fakeSession) Connect(_ context.Context, settings types.ConnectionSettings) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, settings)
	if f.connectErr != nil {
		return false, f.connectErr
	}
	f.connected = true
	return f.ready, nil
}

func (f *fakeSession) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
}

func (f *fakeSession) State() gateway.ConnectionState {
	if f.IsConnected() {
		return gateway.StateConnected
	}
	return gateway.StateDisconnected
}

func (f *fakeSession) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSession) GetAccountInfo(context.Context) (*types.Account, error) {
	return f.account, nil
}

func (f *fakeSession) GetPositions(context.Context) ([]types.Position, error) {
	return f.positions, nil
}

func (f *fakeSession) PlaceOrder(context.Context, types.OrderRequest) (string, error) {
	return "", nil
}

func (f *fakeSession) CancelOrder(context.Context, string, string) (bool, error) {
	return false, nil
}

func (f *fakeSession) GetOrderStatus(string) (*types.Order, bool) { return nil, false }

func (f *fakeSession) Subscribe(context.Context, string) error { return nil }

func (f *fakeSession) GetTick(string) (*types.Tick, bool) { return nil, false }

var _ gateway.Session = (*fakeSession)(nil)

// fakeResolver resolves accounts from a fixed table keyed by "platform/account".
type fakeResolver map[string]types.ConnectionSettings

func (f fakeResolver) ResolveAccount(platform, account string) (types.ConnectionSettings, error) {
	s, ok := f[platform+"/"+account]
	if !ok {
		return types.ConnectionSettings{}, types.ErrNotFound
	}
	return s, nil
}

type memJournal struct {
	mu        sync.Mutex
	events    []persistence.SessionEvent
	snapshots []persistence.AccountSnapshot
}

func (m *memJournal) RecordSessionEvent(_ context.Context, e persistence.SessionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memJournal) SaveAccountSnapshot(_ context.Context, s persistence.AccountSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, s)
	return nil
}

func testResolver() fakeResolver {
	return fakeResolver{
		"ctp/main":   {Username: "u1", Password: "p1", BrokerID: "9999"},
		"ctp/backup": {Username: "u2", Password: "p2", BrokerID: "9999"},
	}
}

func TestRegistry_RegisterLowercases(t *testing.T) {
	r := New(testResolver(), nil)
	r.Register("CTP", &fakeSession{ready: true})
	r.Register("Sim", &fakeSession{ready: true})

	got := r.Platforms()
	want := []string{"ctp", "sim"}
	if len(got) != len(want) {
		t.Fatalf("Platforms() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Platforms()[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	if _, err := r.Session("Ctp"); err != nil {
		t.Errorf("Session(Ctp) error = %v, want nil", err)
	}
}

func TestRegistry_ConnectSetsCurrent(t *testing.T) {
	s := &fakeSession{ready: true}
	j := &memJournal{}
	r := New(testResolver(), nil, WithJournal(j))
	r.Register("ctp", s)

	if _, err := r.Current(); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Current() before connect error = %v, want ErrNotFound", err)
	}

	ok, err := r.Connect(context.Background(), "CTP", "main")
	if err != nil || !ok {
		t.Fatalf("Connect() = %v, %v, want true, nil", ok, err)
	}

	if len(s.connects) != 1 || s.connects[0].Username != "u1" {
		t.Errorf("session received %+v, want username u1", s.connects)
	}

	cur, err := r.Session("")
	if err != nil {
		t.Fatalf("Session(\"\") error = %v", err)
	}
	if cur != gateway.Session(s) {
		t.Error("Session(\"\") should return the current session")
	}

	platform, account, ok := r.CurrentAccount()
	if !ok || platform != "ctp" || account != "main" {
		t.Errorf("CurrentAccount() = %s, %s, %v, want ctp, main, true", platform, account, ok)
	}

	if len(j.events) != 1 || j.events[0].Outcome != persistence.OutcomeReady {
		t.Errorf("journal events = %+v, want one ready event", j.events)
	}
}

func TestRegistry_ConnectUnknownPlatform(t *testing.T) {
	r := New(testResolver(), nil)

	ok, err := r.Connect(context.Background(), "ibkr", "main")
	if ok {
		t.Error("Connect() = true for unknown platform")
	}
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestRegistry_ConnectUnknownAccount(t *testing.T) {
	s := &fakeSession{ready: true}
	r := New(testResolver(), nil)
	r.Register("ctp", s)

	_, err := r.Connect(context.Background(), "ctp", "nobody")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if len(s.connects) != 0 {
		t.Error("session should not be contacted for an unknown account")
	}
}

func TestRegistry_ConnectTimeoutKeepsCurrentUnset(t *testing.T) {
	j := &memJournal{}
	r := New(testResolver(), nil, WithJournal(j))
	r.Register("ctp", &fakeSession{ready: false})

	ok, err := r.Connect(context.Background(), "ctp", "main")
	if ok || err != nil {
		t.Fatalf("Connect() = %v, %v, want false, nil", ok, err)
	}
	if _, _, ok := r.CurrentAccount(); ok {
		t.Error("timed-out connect should not set current")
	}
	if len(j.events) != 1 || j.events[0].Outcome != persistence.OutcomeTimeout {
		t.Errorf("journal events = %+v, want one timeout event", j.events)
	}
}

func TestRegistry_ConnectErrorJournaled(t *testing.T) {
	j := &memJournal{}
	r := New(testResolver(), nil, WithJournal(j))
	r.Register("ctp", &fakeSession{connectErr: types.NewNetworkError("connect", nil)})

	_, err := r.Connect(context.Background(), "ctp", "main")
	if !errors.Is(err, types.ErrNetworkFailure) {
		t.Fatalf("error = %v, want ErrNetworkFailure", err)
	}
	if len(j.events) != 1 || j.events[0].Outcome != persistence.OutcomeError || j.events[0].Error == "" {
		t.Errorf("journal events = %+v, want one error event with message", j.events)
	}
}

func TestRegistry_SwitchAccountReconnects(t *testing.T) {
	s := &fakeSession{ready: true}
	r := New(testResolver(), nil)
	r.Register("ctp", s)
	ctx := context.Background()

	if ok, err := r.Connect(ctx, "ctp", "main"); !ok || err != nil {
		t.Fatalf("Connect(main) = %v, %v", ok, err)
	}
	if ok, err := r.Connect(ctx, "ctp", "backup"); !ok || err != nil {
		t.Fatalf("Connect(backup) = %v, %v", ok, err)
	}

	if s.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", s.disconnects)
	}
	if _, account, _ := r.CurrentAccount(); account != "backup" {
		t.Errorf("current account = %s, want backup", account)
	}
}

func TestRegistry_SwitchAfterTimeoutReconnects(t *testing.T) {
	s := &fakeSession{ready: false}
	j := &memJournal{}
	r := New(testResolver(), nil, WithJournal(j))
	r.Register("ctp", s)
	ctx := context.Background()

	if ok, err := r.Connect(ctx, "ctp", "main"); ok || err != nil {
		t.Fatalf("Connect(main) = %v, %v, want false, nil", ok, err)
	}

	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	if ok, err := r.Connect(ctx, "ctp", "backup"); !ok || err != nil {
		t.Fatalf("Connect(backup) = %v, %v", ok, err)
	}

	if s.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", s.disconnects)
	}
	if got := s.connects[len(s.connects)-1].Username; got != "u2" {
		t.Errorf("last connect username = %s, want u2", got)
	}
	if _, account, _ := r.CurrentAccount(); account != "backup" {
		t.Errorf("current account = %s, want backup", account)
	}
	var disconnected bool
	for _, e := range j.events {
		if e.Kind == persistence.EventDisconnect && e.Account == "main" {
			disconnected = true
		}
	}
	if !disconnected {
		t.Errorf("journal events = %+v, want disconnect of main", j.events)
	}
}

func TestRegistry_SwitchClearsCurrentUntilReady(t *testing.T) {
	s := &fakeSession{ready: true}
	r := New(testResolver(), nil)
	r.Register("ctp", s)
	ctx := context.Background()

	if ok, err := r.Connect(ctx, "ctp", "main"); !ok || err != nil {
		t.Fatalf("Connect(main) = %v, %v", ok, err)
	}
	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()
	if ok, _ := r.Connect(ctx, "ctp", "backup"); ok {
		t.Fatal("Connect(backup) should time out")
	}

	if _, _, ok := r.CurrentAccount(); ok {
		t.Error("current should be unset while the switched session is not ready")
	}
	if st := r.Statuses()[0]; st.Account != "backup" {
		t.Errorf("status account = %s, want backup", st.Account)
	}
}

func TestRegistry_ConnectMany(t *testing.T) {
	r := New(testResolver(), nil)
	r.Register("ctp", &fakeSession{ready: true})
	r.Register("slow", &fakeSession{ready: false})

	results := r.ConnectMany(context.Background(), map[string]Target{
		"primary": {Platform: "ctp", Account: "main"},
		"missing": {Platform: "ibkr", Account: "main"},
		"slow":    {Platform: "slow", Account: "x"},
	})

	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	if results["primary"] != nil {
		t.Errorf("primary = %v, want nil", results["primary"])
	}
	if !errors.Is(results["missing"], types.ErrNotFound) {
		t.Errorf("missing = %v, want ErrNotFound", results["missing"])
	}
	// The slow platform has no resolver entry for account x.
	if results["slow"] == nil {
		t.Error("slow should report an error")
	}
}

func TestRegistry_ConnectManyTimeout(t *testing.T) {
	r := New(fakeResolver{"slow/x": {Username: "u", Password: "p", BrokerID: "b"}}, nil)
	r.Register("slow", &fakeSession{ready: false})

	results := r.ConnectMany(context.Background(), map[string]Target{
		"slow": {Platform: "slow", Account: "x"},
	})
	if !errors.Is(results["slow"], types.ErrConnectionTimeout) {
		t.Errorf("slow = %v, want ErrConnectionTimeout", results["slow"])
	}
}

func TestRegistry_Disconnect(t *testing.T) {
	s := &fakeSession{ready: true}
	j := &memJournal{}
	r := New(testResolver(), nil, WithJournal(j))
	r.Register("ctp", s)
	ctx := context.Background()

	if _, err := r.Connect(ctx, "ctp", "main"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	r.Disconnect(ctx)

	if s.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", s.disconnects)
	}
	if _, err := r.Current(); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Current() after disconnect error = %v, want ErrNotFound", err)
	}
	if last := j.events[len(j.events)-1]; last.Kind != persistence.EventDisconnect || last.Account != "main" {
		t.Errorf("last journal event = %+v, want disconnect of main", last)
	}

	// Without a current session Disconnect is a no-op.
	r.Disconnect(ctx)
	if s.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", s.disconnects)
	}
}

func TestRegistry_DisconnectAll(t *testing.T) {
	a := &fakeSession{ready: true}
	b := &fakeSession{ready: true}
	idle := &fakeSession{}
	resolver := testResolver()
	resolver["other/main"] = types.ConnectionSettings{Username: "u", Password: "p", BrokerID: "b"}
	r := New(resolver, nil)
	r.Register("ctp", a)
	r.Register("other", b)
	r.Register("idle", idle)
	ctx := context.Background()

	_, _ = r.Connect(ctx, "ctp", "main")
	_, _ = r.Connect(ctx, "other", "main")
	r.DisconnectAll(ctx)

	if a.disconnects != 1 || b.disconnects != 1 {
		t.Errorf("disconnects = %d, %d, want 1, 1", a.disconnects, b.disconnects)
	}
	if idle.disconnects != 0 {
		t.Errorf("idle disconnects = %d, want 0", idle.disconnects)
	}
	for _, st := range r.Statuses() {
		if st.Connected || st.Current {
			t.Errorf("status %+v should be disconnected and not current", st)
		}
	}
}

func TestRegistry_Statuses(t *testing.T) {
	r := New(testResolver(), nil)
	r.Register("ctp", &fakeSession{ready: true})
	r.Register("alpha", &fakeSession{})

	if _, err := r.Connect(context.Background(), "ctp", "main"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	st := r.Statuses()
	if len(st) != 2 {
		t.Fatalf("len(Statuses()) = %d, want 2", len(st))
	}
	if st[0].Platform != "alpha" || st[0].Connected || st[0].State != "disconnected" {
		t.Errorf("st[0] = %+v, want idle alpha", st[0])
	}
	if st[1].Platform != "ctp" || !st[1].Connected || !st[1].Current || st[1].Account != "main" {
		t.Errorf("st[1] = %+v, want current ctp/main", st[1])
	}
}

func TestRegistry_SnapshotAccounts(t *testing.T) {
	s := &fakeSession{
		ready: true,
		account: &types.Account{
			AccountID: "123456",
			Balance:   decimal.NewFromInt(1000000),
			Available: decimal.NewFromInt(900000),
			Margin:    decimal.NewFromInt(100000),
		},
		positions: []types.Position{
			{Symbol: "rb2409", Direction: types.DirectionLong, Volume: 2, PnL: decimal.NewFromInt(400)},
			{Symbol: "sc2409", Direction: types.DirectionShort, Volume: 1, PnL: decimal.NewFromInt(-100)},
		},
	}
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := persistence.NewSQLiteJournal(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer j.Close()

	r := New(testResolver(), nil, WithJournal(j))
	r.Register("ctp", s)
	r.Register("idle", &fakeSession{})
	ctx := context.Background()

	if _, err := r.Connect(ctx, "ctp", "main"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	summaries, err := r.SnapshotAccounts(ctx)
	if err != nil {
		t.Fatalf("SnapshotAccounts() error = %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("len(summaries) = %d, want 1", len(summaries))
	}
	if summaries[0].OpenPositions != 2 || summaries[0].LongVolume != 2 || summaries[0].ShortVolume != 1 {
		t.Errorf("summary = %+v, want 2 open positions (2 long, 1 short)", summaries[0])
	}

	latest, err := j.GetLatestAccountSnapshot(ctx, "ctp", "main")
	if err != nil {
		t.Fatalf("GetLatestAccountSnapshot() error = %v", err)
	}
	if latest == nil {
		t.Fatal("snapshot should have been journaled")
	}
	if !latest.FloatingPnL.Equal(decimal.NewFromInt(300)) {
		t.Errorf("FloatingPnL = %s, want 300", latest.FloatingPnL)
	}
	if !latest.Balance.Equal(decimal.NewFromInt(1000000)) {
		t.Errorf("Balance = %s, want 1000000", latest.Balance)
	}

	events, err := j.GetSessionEvents(ctx, "ctp", 10)
	if err != nil {
		t.Fatalf("GetSessionEvents() error = %v", err)
	}
	if len(events) != 1 || events[0].Wait > time.Second {
		t.Errorf("events = %+v, want one fast connect", events)
	}
}
