package ctp

import (
	"context"
	"fmt"
	"sync"
)

// fakeAPI records every call made across the front boundary.
type fakeAPI struct {
	mu sync.Mutex

	spi      Spi
	settings Settings

	// Behaviour knobs
	connectErr  error
	pushAccount *AccountData
	accounts    []AccountData
	positions   []PositionData
	queryErr    error
	sendErr     error
	cancelOK    bool

	// Call counters
	connectCalls    int
	closeCalls      int
	accountQueries  int
	positionQueries int
	sent            []InsertOrder
	cancels         []CancelRequest
	subscriptions   []string

	nextRef int
}

func (f *fakeAPI) Connect(_ context.Context, settings Settings, spi Spi) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.connectCalls++
	f.settings = settings
	if f.connectErr != nil {
		return f.connectErr
	}
	f.spi = spi

	if f.pushAccount != nil {
		acct := *f.pushAccount
		go func() {
			spi.OnLog("CTP交易服务器连接成功")
			spi.OnLog(settlementMarker)
			spi.OnAccount(acct)
		}()
	}
	return nil
}

func (f *fakeAPI) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *fakeAPI) QueryAccounts(context.Context) ([]AccountData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountQueries++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return append([]AccountData(nil), f.accounts...), nil
}

func (f *fakeAPI) QueryPositions(context.Context) ([]PositionData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positionQueries++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return append([]PositionData(nil), f.positions...), nil
}

func (f *fakeAPI) SendOrder(_ context.Context, req InsertOrder) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.nextRef++
	return fmt.Sprintf("1_-1_%d", f.nextRef), nil
}

func (f *fakeAPI) CancelOrder(_ context.Context, req CancelRequest) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, req)
	return f.cancelOK, nil
}

func (f *fakeAPI) Subscribe(_ context.Context, symbol, exchange string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions = append(f.subscriptions, symbol+"."+exchange)
	return nil
}

func (f *fakeAPI) currentSpi() Spi {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spi
}

func (f *fakeAPI) counts() (connects, closes, accountQueries, sends int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls, f.closeCalls, f.accountQueries, len(f.sent)
}

func (f *fakeAPI) lastSent() InsertOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}
