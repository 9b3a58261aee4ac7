// Package gateway provides the venue-neutral trading session contract and the
// machinery that turns an asynchronous venue event stream into synchronously
// readable state.
package gateway

import (
	"context"

	"github.com/tathienbao/tradegate/internal/types"
)

// ConnectionState represents the session connection state.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Session is the capability set every venue implementation must satisfy.
type Session interface {
	// Connection management. Connect returns false, nil when the readiness
	// wait expires; the session stays usable for later retries.
	Connect(ctx context.Context, settings types.ConnectionSettings) (bool, error)
	Disconnect()
	State() ConnectionState
	IsConnected() bool

	// Account information
	GetAccountInfo(ctx context.Context) (*types.Account, error)
	GetPositions(ctx context.Context) ([]types.Position, error)

	// Order execution
	PlaceOrder(ctx context.Context, req types.OrderRequest) (string, error)
	CancelOrder(ctx context.Context, orderID, symbol string) (bool, error)
	GetOrderStatus(orderID string) (*types.Order, bool)

	// Market data
	Subscribe(ctx context.Context, symbol string) error
	GetTick(symbol string) (*types.Tick, bool)
}
