// Package persistence journals session lifecycle and account snapshots.
package persistence

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Journal defines the interface for the session journal.
type Journal interface {
	// Session events
	RecordSessionEvent(ctx context.Context, event SessionEvent) error
	GetSessionEvents(ctx context.Context, platform string, limit int) ([]SessionEvent, error)

	// Account snapshots
	SaveAccountSnapshot(ctx context.Context, snapshot AccountSnapshot) error
	GetLatestAccountSnapshot(ctx context.Context, platform, account string) (*AccountSnapshot, error)
	GetAccountHistory(ctx context.Context, platform, account string, from, to time.Time) ([]AccountSnapshot, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// Session event kinds.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// Connect outcomes.
const (
	OutcomeReady   = "ready"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
)

// SessionEvent records one connect attempt or disconnect.
type SessionEvent struct {
	ID        string
	Timestamp time.Time
	Platform  string
	Account   string
	Kind      string
	Outcome   string
	Error     string
	Wait      time.Duration
}

// AccountSnapshot is a point-in-time copy of one connected account.
type AccountSnapshot struct {
	ID            string
	Timestamp     time.Time
	Platform      string
	Account       string
	AccountID     string
	Balance       decimal.Decimal
	Available     decimal.Decimal
	Frozen        decimal.Decimal
	Margin        decimal.Decimal
	CloseProfit   decimal.Decimal
	FloatingPnL   decimal.Decimal
	OpenPositions int
}
