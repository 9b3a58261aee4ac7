package ctp

import (
	"strings"
	"time"

	"github.com/tathienbao/tradegate/internal/types"
)

// Defaults for optional native settings.
const (
	DefaultBrokerID     = "9999"
	DefaultTradeServer  = "182.254.243.31:30001"
	DefaultMarketServer = "182.254.243.31:30011"
	DefaultProductName  = "simnow_client_test"
	DefaultAuthCode     = "0000000000000000"
	DefaultEnvironment  = "模拟"
)

// TranslateSettings maps neutral settings onto native field names, filling
// blank optional fields with their defaults. Callers validate first.
func TranslateSettings(s types.ConnectionSettings) Settings {
	or := func(v, d string) string {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
		return d
	}
	return Settings{
		KeyUsername:     strings.TrimSpace(s.Username),
		KeyPassword:     s.Password,
		KeyBrokerID:     or(s.BrokerID, DefaultBrokerID),
		KeyTradeServer:  or(s.TradeServer, DefaultTradeServer),
		KeyMarketServer: or(s.MarketServer, DefaultMarketServer),
		KeyProductName:  or(s.ProductName, DefaultProductName),
		KeyAuthCode:     or(s.AuthCode, DefaultAuthCode),
		KeyEnvironment:  or(s.Environment, DefaultEnvironment),
	}
}

// Redacted returns a copy safe for logging.
func (s Settings) Redacted() Settings {
	out := make(Settings, len(s))
	for k, v := range s {
		if (k == KeyPassword || k == KeyAuthCode) && v != "" {
			v = "******"
		}
		out[k] = v
	}
	return out
}

// SplitSymbol separates an optional ".EXCHANGE" suffix from a symbol.
func SplitSymbol(symbol, defaultExchange string) (string, string) {
	symbol = strings.TrimSpace(symbol)
	if i := strings.LastIndexByte(symbol, '.'); i > 0 && i < len(symbol)-1 {
		return symbol[:i], strings.ToUpper(symbol[i+1:])
	}
	return symbol, defaultExchange
}

func directionToNative(d types.Direction) (DirectionCode, error) {
	norm, err := types.ParseDirection(string(d))
	if err != nil {
		return 0, err
	}
	if norm == types.DirectionShort {
		return DirectionSell, nil
	}
	return DirectionBuy, nil
}

func directionFromNative(c DirectionCode) types.Direction {
	if c == DirectionSell {
		return types.DirectionShort
	}
	return types.DirectionLong
}

func offsetToNative(o types.Offset) (OffsetCode, error) {
	norm, err := types.ParseOffset(string(o))
	if err != nil {
		return 0, err
	}
	switch norm {
	case types.OffsetClose:
		return OffsetClose, nil
	case types.OffsetCloseToday:
		return OffsetCloseToday, nil
	case types.OffsetCloseYesterday:
		return OffsetCloseYesterday, nil
	default:
		return OffsetOpen, nil
	}
}

func offsetFromNative(c OffsetCode) types.Offset {
	switch c {
	case OffsetOpen:
		return types.OffsetOpen
	case OffsetClose:
		return types.OffsetClose
	case OffsetCloseToday:
		return types.OffsetCloseToday
	case OffsetCloseYesterday:
		return types.OffsetCloseYesterday
	default:
		return types.OffsetNone
	}
}

// orderCondition is the native triple that expresses a neutral order type.
type orderCondition struct {
	price  PriceTypeCode
	time   TimeConditionCode
	volume VolumeConditionCode
}

var orderTypeConditions = map[types.OrderType]orderCondition{
	types.OrderTypeMarket: {PriceAny, TimeIOC, VolumeAny},
	types.OrderTypeLimit:  {PriceLimit, TimeGFD, VolumeAny},
	types.OrderTypeFAK:    {PriceLimit, TimeIOC, VolumeAny},
	types.OrderTypeFOK:    {PriceLimit, TimeIOC, VolumeComplete},
}

func orderTypeToNative(t types.OrderType) (orderCondition, error) {
	norm, err := types.ParseOrderType(string(t))
	if err != nil {
		return orderCondition{}, err
	}
	cond, ok := orderTypeConditions[norm]
	if !ok {
		return orderCondition{}, &types.UnsupportedValueError{
			Kind:      "order type",
			Value:     string(norm),
			Supported: []string{"LIMIT", "MARKET", "FAK", "FOK"},
		}
	}
	return cond, nil
}

func orderTypeFromNative(cond orderCondition) types.OrderType {
	for t, c := range orderTypeConditions {
		if c == cond {
			return t
		}
	}
	return types.OrderTypeLimit
}

// TranslateOrder builds the native insert request for a neutral order.
// It fails with an UnsupportedValueError before anything reaches the front.
func TranslateOrder(req types.OrderRequest, defaultExchange string) (InsertOrder, error) {
	if req.Type == "" {
		req.Type = types.OrderTypeMarket
	}

	dir, err := directionToNative(req.Direction)
	if err != nil {
		return InsertOrder{}, err
	}
	off, err := offsetToNative(req.Offset)
	if err != nil {
		return InsertOrder{}, err
	}
	cond, err := orderTypeToNative(req.Type)
	if err != nil {
		return InsertOrder{}, err
	}
	if err := req.Validate(); err != nil {
		return InsertOrder{}, err
	}

	symbol, exchange := SplitSymbol(req.Symbol, defaultExchange)
	return InsertOrder{
		Symbol:          symbol,
		Exchange:        exchange,
		Direction:       dir,
		Offset:          off,
		PriceType:       cond.price,
		TimeCondition:   cond.time,
		VolumeCondition: cond.volume,
		Price:           req.Price,
		Volume:          req.Volume,
	}, nil
}

func statusFromNative(d OrderData) types.OrderStatus {
	if d.ErrorID != 0 {
		return types.OrderStatusRejected
	}
	switch d.Status {
	case StatusAllTraded:
		return types.OrderStatusFilled
	case StatusPartTradedQueueing:
		return types.OrderStatusPartialFill
	case StatusNoTradeQueueing:
		return types.OrderStatusSubmitted
	case StatusPartTradedNotQueueing, StatusNoTradeNotQueueing, StatusCanceled:
		return types.OrderStatusCancelled
	default:
		return types.OrderStatusSubmitting
	}
}

func accountFromNative(d AccountData) types.Account {
	return types.Account{
		AccountID:   d.AccountID,
		Balance:     d.Balance,
		Available:   d.Available,
		Frozen:      d.Frozen,
		Margin:      d.Margin,
		CloseProfit: d.CloseProfit,
		UpdatedAt:   time.Now(),
	}
}

// positionFromNative reports false for net positions, which the futures
// account model never produces.
func positionFromNative(d PositionData) (types.Position, bool) {
	var dir types.Direction
	switch d.PosiDirection {
	case PosiLong:
		dir = types.DirectionLong
	case PosiShort:
		dir = types.DirectionShort
	default:
		return types.Position{}, false
	}

	available := d.Position - d.Frozen
	if available < 0 {
		available = 0
	}
	return types.Position{
		Symbol:    d.Symbol,
		Exchange:  d.Exchange,
		Direction: dir,
		Volume:    d.Position,
		Available: available,
		Price:     d.Price,
		PnL:       d.PnL,
		UpdatedAt: time.Now(),
	}, true
}

func orderFromNative(d OrderData) types.Order {
	now := time.Now()
	return types.Order{
		OrderID:   d.OrderID,
		Symbol:    d.Symbol,
		Exchange:  d.Exchange,
		Direction: directionFromNative(d.Direction),
		Offset:    offsetFromNative(d.Offset),
		Type:      orderTypeFromNative(orderCondition{d.PriceType, d.TimeCondition, d.VolumeCondition}),
		Volume:    d.Volume,
		Traded:    d.Traded,
		Price:     d.Price,
		Status:    statusFromNative(d),
		StatusMsg: d.StatusMsg,
		CreatedAt: d.InsertTime,
		UpdatedAt: now,
	}
}

func tickFromNative(d TickData) types.Tick {
	ts := d.UpdateTime
	if ts.IsZero() {
		ts = time.Now()
	}
	return types.Tick{
		Symbol:       d.Symbol,
		Exchange:     d.Exchange,
		LastPrice:    d.LastPrice,
		Volume:       d.Volume,
		OpenInterest: d.OpenInterest,
		BidPrice:     d.BidPrice1,
		AskPrice:     d.AskPrice1,
		Timestamp:    ts,
	}
}
