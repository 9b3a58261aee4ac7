// Package types defines the venue-neutral domain model shared by every gateway.
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a position or order.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Opposite returns the opposite direction.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionLong:
		return DirectionShort
	case DirectionShort:
		return DirectionLong
	default:
		return d
	}
}

// directionAliases maps caller-facing spellings onto the two canonical directions.
var directionAliases = map[string]Direction{
	"LONG":       DirectionLong,
	"BUY":        DirectionLong,
	"COVER":      DirectionLong,
	"SHORT":      DirectionShort,
	"SELL":       DirectionShort,
	"SELL_SHORT": DirectionShort,
}

// ParseDirection normalizes a caller-supplied direction.
// BUY and COVER become LONG; SELL and SELL_SHORT become SHORT.
func ParseDirection(s string) (Direction, error) {
	if d, ok := directionAliases[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return d, nil
	}
	return "", &UnsupportedValueError{
		Kind:      "direction",
		Value:     s,
		Supported: []string{"LONG", "SHORT", "BUY", "SELL", "COVER", "SELL_SHORT"},
	}
}

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeFOK    OrderType = "FOK"
	OrderTypeFAK    OrderType = "FAK"
	OrderTypeStop   OrderType = "STOP"
)

// ParseOrderType validates a caller-supplied order type.
func ParseOrderType(s string) (OrderType, error) {
	switch t := OrderType(strings.ToUpper(strings.TrimSpace(s))); t {
	case OrderTypeLimit, OrderTypeMarket, OrderTypeFOK, OrderTypeFAK, OrderTypeStop:
		return t, nil
	}
	return "", &UnsupportedValueError{
		Kind:      "order type",
		Value:     s,
		Supported: []string{"LIMIT", "MARKET", "FOK", "FAK", "STOP"},
	}
}

// Offset tells whether an order opens or closes a position.
type Offset string

const (
	OffsetNone           Offset = "NONE"
	OffsetOpen           Offset = "OPEN"
	OffsetClose          Offset = "CLOSE"
	OffsetCloseToday     Offset = "CLOSETODAY"
	OffsetCloseYesterday Offset = "CLOSEYESTERDAY"
)

// ParseOffset validates a caller-supplied offset. An empty string means OPEN.
func ParseOffset(s string) (Offset, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return OffsetOpen, nil
	}
	switch o := Offset(s); o {
	case OffsetOpen, OffsetClose, OffsetCloseToday, OffsetCloseYesterday:
		return o, nil
	}
	return "", &UnsupportedValueError{
		Kind:      "offset",
		Value:     s,
		Supported: []string{"OPEN", "CLOSE", "CLOSETODAY", "CLOSEYESTERDAY"},
	}
}

// OrderStatus represents the venue-reported state of an order.
type OrderStatus int

const (
	OrderStatusSubmitting OrderStatus = iota
	OrderStatusSubmitted
	OrderStatusPartialFill
	OrderStatusFilled
	OrderStatusCancelled
	OrderStatusRejected
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusSubmitting:
		return "SUBMITTING"
	case OrderStatusSubmitted:
		return "SUBMITTED"
	case OrderStatusPartialFill:
		return "PARTIAL_FILL"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCancelled:
		return "CANCELLED"
	case OrderStatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// IsFinal returns true if the order is in a terminal state.
func (s OrderStatus) IsFinal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// Account is a whole snapshot of one trading account.
type Account struct {
	AccountID   string
	Balance     decimal.Decimal
	Available   decimal.Decimal
	Frozen      decimal.Decimal
	Margin      decimal.Decimal
	CloseProfit decimal.Decimal
	UpdatedAt   time.Time
}

// Position is keyed by (Symbol, Direction).
type Position struct {
	Symbol    string
	Exchange  string
	Direction Direction
	Volume    int
	Available int
	Price     decimal.Decimal
	PnL       decimal.Decimal
	UpdatedAt time.Time
}

// Key returns the cache key of the position.
func (p Position) Key() PositionKey {
	return PositionKey{Symbol: p.Symbol, Direction: p.Direction}
}

// PositionKey identifies one live position record.
type PositionKey struct {
	Symbol    string
	Direction Direction
}

func (k PositionKey) String() string {
	return fmt.Sprintf("%s.%s", k.Symbol, k.Direction)
}

// Order is keyed by the venue-assigned OrderID.
type Order struct {
	OrderID   string
	Symbol    string
	Exchange  string
	Direction Direction
	Offset    Offset
	Type      OrderType
	Volume    int
	Traded    int
	Price     decimal.Decimal
	Status    OrderStatus
	StatusMsg string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Tick is the latest market snapshot of a symbol.
type Tick struct {
	Symbol       string
	Exchange     string
	LastPrice    decimal.Decimal
	Volume       int64
	OpenInterest int64
	BidPrice     decimal.Decimal
	AskPrice     decimal.Decimal
	Timestamp    time.Time
}

// OrderRequest is a venue-neutral order submission.
type OrderRequest struct {
	Symbol    string
	Direction Direction
	Offset    Offset
	Type      OrderType
	Volume    int
	Price     decimal.Decimal
}

// Validate checks the request fields that do not depend on the venue.
func (r OrderRequest) Validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	}
	if r.Volume <= 0 {
		return fmt.Errorf("%w: volume must be positive, got %d", ErrInvalidOrder, r.Volume)
	}
	if r.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidOrder)
	}
	return nil
}

// ConnectionSettings holds the venue-neutral connection options.
type ConnectionSettings struct {
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	BrokerID     string `yaml:"broker_id"`
	TradeServer  string `yaml:"trade_server"`
	MarketServer string `yaml:"market_server"`
	ProductName  string `yaml:"product_name"`
	AuthCode     string `yaml:"auth_code"`
	Environment  string `yaml:"environment"`
}

// Validate fails with a ConfigurationError naming every blank required field.
func (s ConnectionSettings) Validate() error {
	var missing []string
	if strings.TrimSpace(s.Username) == "" {
		missing = append(missing, "username")
	}
	if strings.TrimSpace(s.Password) == "" {
		missing = append(missing, "password")
	}
	if strings.TrimSpace(s.BrokerID) == "" {
		missing = append(missing, "broker_id")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Fields: missing}
	}
	return nil
}

// Redacted returns a copy safe for logging.
func (s ConnectionSettings) Redacted() ConnectionSettings {
	if s.Password != "" {
		s.Password = "******"
	}
	if s.AuthCode != "" {
		s.AuthCode = "******"
	}
	return s
}

// Merge returns s with every blank field taken from defaults.
func (s ConnectionSettings) Merge(defaults ConnectionSettings) ConnectionSettings {
	pick := func(v, d string) string {
		if v != "" {
			return v
		}
		return d
	}
	return ConnectionSettings{
		Username:     pick(s.Username, defaults.Username),
		Password:     pick(s.Password, defaults.Password),
		BrokerID:     pick(s.BrokerID, defaults.BrokerID),
		TradeServer:  pick(s.TradeServer, defaults.TradeServer),
		MarketServer: pick(s.MarketServer, defaults.MarketServer),
		ProductName:  pick(s.ProductName, defaults.ProductName),
		AuthCode:     pick(s.AuthCode, defaults.AuthCode),
		Environment:  pick(s.Environment, defaults.Environment),
	}
}
