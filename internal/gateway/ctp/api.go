package ctp

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Settings is the native connection record, keyed by the field names the
// CTP front expects.
type Settings map[string]string

// Native settings keys.
const (
	KeyUsername     = "用户名"
	KeyPassword     = "密码"
	KeyBrokerID     = "经纪商代码"
	KeyTradeServer  = "交易服务器"
	KeyMarketServer = "行情服务器"
	KeyProductName  = "产品名称"
	KeyAuthCode     = "授权编码"
	KeyEnvironment  = "柜台环境"
)

// DirectionCode is THOST_FTDC_D.
type DirectionCode byte

const (
	DirectionBuy  DirectionCode = '0'
	DirectionSell DirectionCode = '1'
)

// OffsetCode is THOST_FTDC_OF.
type OffsetCode byte

const (
	OffsetOpen           OffsetCode = '0'
	OffsetClose          OffsetCode = '1'
	OffsetCloseToday     OffsetCode = '3'
	OffsetCloseYesterday OffsetCode = '4'
)

// PriceTypeCode is THOST_FTDC_OPT.
type PriceTypeCode byte

const (
	PriceAny   PriceTypeCode = '1'
	PriceLimit PriceTypeCode = '2'
)

// TimeConditionCode is THOST_FTDC_TC.
type TimeConditionCode byte

const (
	TimeIOC TimeConditionCode = '1'
	TimeGFD TimeConditionCode = '3'
)

// VolumeConditionCode is THOST_FTDC_VC.
type VolumeConditionCode byte

const (
	VolumeAny      VolumeConditionCode = '1'
	VolumeComplete VolumeConditionCode = '3'
)

// PosiDirectionCode is THOST_FTDC_PD.
type PosiDirectionCode byte

const (
	PosiNet   PosiDirectionCode = '1'
	PosiLong  PosiDirectionCode = '2'
	PosiShort PosiDirectionCode = '3'
)

// OrderStatusCode is THOST_FTDC_OST.
type OrderStatusCode byte

const (
	StatusAllTraded             OrderStatusCode = '0'
	StatusPartTradedQueueing    OrderStatusCode = '1'
	StatusPartTradedNotQueueing OrderStatusCode = '2'
	StatusNoTradeQueueing       OrderStatusCode = '3'
	StatusNoTradeNotQueueing    OrderStatusCode = '4'
	StatusCanceled              OrderStatusCode = '5'
	StatusUnknown               OrderStatusCode = 'a'
)

// InsertOrder is the native order insert request.
type InsertOrder struct {
	Symbol          string
	Exchange        string
	Direction       DirectionCode
	Offset          OffsetCode
	PriceType       PriceTypeCode
	TimeCondition   TimeConditionCode
	VolumeCondition VolumeConditionCode
	Price           decimal.Decimal
	Volume          int
}

// CancelRequest is the native order action request.
type CancelRequest struct {
	OrderID  string
	Symbol   string
	Exchange string
}

// AccountData is a trading account snapshot pushed or queried from the front.
type AccountData struct {
	AccountID   string
	Balance     decimal.Decimal
	Available   decimal.Decimal
	Frozen      decimal.Decimal
	Margin      decimal.Decimal
	CloseProfit decimal.Decimal
}

// PositionData is one investor position record.
type PositionData struct {
	Symbol        string
	Exchange      string
	PosiDirection PosiDirectionCode
	Position      int
	YdPosition    int
	Frozen        int
	Price         decimal.Decimal
	PnL           decimal.Decimal
}

// OrderData is one order return. A non-zero ErrorID marks an insert rejection.
type OrderData struct {
	OrderID         string
	Symbol          string
	Exchange        string
	Direction       DirectionCode
	Offset          OffsetCode
	PriceType       PriceTypeCode
	TimeCondition   TimeConditionCode
	VolumeCondition VolumeConditionCode
	Price           decimal.Decimal
	Volume          int
	Traded          int
	Status          OrderStatusCode
	StatusMsg       string
	ErrorID         int
	InsertTime      time.Time
}

// TickData is a depth market data snapshot.
type TickData struct {
	Symbol       string
	Exchange     string
	LastPrice    decimal.Decimal
	Volume       int64
	OpenInterest int64
	BidPrice1    decimal.Decimal
	AskPrice1    decimal.Decimal
	UpdateTime   time.Time
}

// Spi receives the asynchronous notifications of a front. Implementations of
// API call it from their own goroutines.
type Spi interface {
	OnLog(msg string)
	OnAccount(data AccountData)
	OnPosition(data PositionData)
	OnOrder(data OrderData)
	OnTick(data TickData)
}

// API is the boundary to a CTP front. Connect only starts the login sequence;
// its progress is reported through the Spi.
type API interface {
	Connect(ctx context.Context, settings Settings, spi Spi) error
	Close() error

	QueryAccounts(ctx context.Context) ([]AccountData, error)
	QueryPositions(ctx context.Context) ([]PositionData, error)

	SendOrder(ctx context.Context, req InsertOrder) (string, error)
	CancelOrder(ctx context.Context, req CancelRequest) (bool, error)

	Subscribe(ctx context.Context, symbol, exchange string) error
}
