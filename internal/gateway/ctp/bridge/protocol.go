package bridge

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/tradegate/internal/gateway/ctp"
)

// Request and push message types.
const (
	msgLogin          = "login"
	msgLogout         = "logout"
	msgQueryAccounts  = "query_accounts"
	msgQueryPositions = "query_positions"
	msgSendOrder      = "send_order"
	msgCancelOrder    = "cancel_order"
	msgSubscribe      = "subscribe"
	msgResponse       = "response"

	pushLog      = "log"
	pushAccount  = "account"
	pushPosition = "position"
	pushOrder    = "order"
	pushTick     = "tick"
)

// envelope frames every message in both directions. Responses carry the
// request ID; pushes carry ID zero.
type envelope struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	OK      bool            `json:"ok,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// err is set locally when a request fails without a response.
	err error
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type loginRequest struct {
	ClientID string            `json:"client_id"`
	Settings map[string]string `json:"settings"`
}

type wireAccount struct {
	AccountID   string          `json:"account_id"`
	Balance     decimal.Decimal `json:"balance"`
	Available   decimal.Decimal `json:"available"`
	Frozen      decimal.Decimal `json:"frozen"`
	Margin      decimal.Decimal `json:"margin"`
	CloseProfit decimal.Decimal `json:"close_profit"`
}

func (w wireAccount) native() ctp.AccountData {
	return ctp.AccountData{
		AccountID:   w.AccountID,
		Balance:     w.Balance,
		Available:   w.Available,
		Frozen:      w.Frozen,
		Margin:      w.Margin,
		CloseProfit: w.CloseProfit,
	}
}

type wirePosition struct {
	Symbol        string          `json:"symbol"`
	Exchange      string          `json:"exchange"`
	PosiDirection string          `json:"posi_direction"`
	Position      int             `json:"position"`
	YdPosition    int             `json:"yd_position"`
	Frozen        int             `json:"frozen"`
	Price         decimal.Decimal `json:"price"`
	PnL           decimal.Decimal `json:"pnl"`
}

func (w wirePosition) native() ctp.PositionData {
	return ctp.PositionData{
		Symbol:        w.Symbol,
		Exchange:      w.Exchange,
		PosiDirection: ctp.PosiDirectionCode(code(w.PosiDirection)),
		Position:      w.Position,
		YdPosition:    w.YdPosition,
		Frozen:        w.Frozen,
		Price:         w.Price,
		PnL:           w.PnL,
	}
}

type wireOrder struct {
	OrderID         string          `json:"order_id,omitempty"`
	Symbol          string          `json:"symbol"`
	Exchange        string          `json:"exchange"`
	Direction       string          `json:"direction"`
	Offset          string          `json:"offset"`
	PriceType       string          `json:"price_type"`
	TimeCondition   string          `json:"time_condition"`
	VolumeCondition string          `json:"volume_condition"`
	Price           decimal.Decimal `json:"price"`
	Volume          int             `json:"volume"`
	Traded          int             `json:"traded,omitempty"`
	Status          string          `json:"status,omitempty"`
	StatusMsg       string          `json:"status_msg,omitempty"`
	ErrorID         int             `json:"error_id,omitempty"`
	InsertTime      time.Time       `json:"insert_time,omitempty"`
}

func wireInsert(req ctp.InsertOrder) wireOrder {
	return wireOrder{
		Symbol:          req.Symbol,
		Exchange:        req.Exchange,
		Direction:       string(rune(req.Direction)),
		Offset:          string(rune(req.Offset)),
		PriceType:       string(rune(req.PriceType)),
		TimeCondition:   string(rune(req.TimeCondition)),
		VolumeCondition: string(rune(req.VolumeCondition)),
		Price:           req.Price,
		Volume:          req.Volume,
	}
}

func (w wireOrder) native() ctp.OrderData {
	return ctp.OrderData{
		OrderID:         w.OrderID,
		Symbol:          w.Symbol,
		Exchange:        w.Exchange,
		Direction:       ctp.DirectionCode(code(w.Direction)),
		Offset:          ctp.OffsetCode(code(w.Offset)),
		PriceType:       ctp.PriceTypeCode(code(w.PriceType)),
		TimeCondition:   ctp.TimeConditionCode(code(w.TimeCondition)),
		VolumeCondition: ctp.VolumeConditionCode(code(w.VolumeCondition)),
		Price:           w.Price,
		Volume:          w.Volume,
		Traded:          w.Traded,
		Status:          ctp.OrderStatusCode(code(w.Status)),
		StatusMsg:       w.StatusMsg,
		ErrorID:         w.ErrorID,
		InsertTime:      w.InsertTime,
	}
}

type wireTick struct {
	Symbol       string          `json:"symbol"`
	Exchange     string          `json:"exchange"`
	LastPrice    decimal.Decimal `json:"last_price"`
	Volume       int64           `json:"volume"`
	OpenInterest int64           `json:"open_interest"`
	BidPrice1    decimal.Decimal `json:"bid_price_1"`
	AskPrice1    decimal.Decimal `json:"ask_price_1"`
	UpdateTime   time.Time       `json:"update_time"`
}

func (w wireTick) native() ctp.TickData {
	return ctp.TickData{
		Symbol:       w.Symbol,
		Exchange:     w.Exchange,
		LastPrice:    w.LastPrice,
		Volume:       w.Volume,
		OpenInterest: w.OpenInterest,
		BidPrice1:    w.BidPrice1,
		AskPrice1:    w.AskPrice1,
		UpdateTime:   w.UpdateTime,
	}
}

type orderRef struct {
	OrderID string `json:"order_id"`
}

type cancelRequest struct {
	OrderID  string `json:"order_id"`
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

type cancelResult struct {
	Accepted bool `json:"accepted"`
}

type subscribeRequest struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

type logPush struct {
	Message string `json:"message"`
}

// code returns the single-byte native code carried in s, or zero.
func code(s string) byte {
	if len(s) != 1 {
		return 0
	}
	return s[0]
}
