package ctp

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/tradegate/internal/types"
)

func TestTranslateSettings_Defaults(t *testing.T) {
	native := TranslateSettings(types.ConnectionSettings{Username: " 240298 ", Password: "pw", BrokerID: "9999"})

	tests := []struct {
		key  string
		want string
	}{
		{KeyUsername, "240298"},
		{KeyPassword, "pw"},
		{KeyBrokerID, "9999"},
		{KeyTradeServer, DefaultTradeServer},
		{KeyMarketServer, DefaultMarketServer},
		{KeyProductName, DefaultProductName},
		{KeyAuthCode, DefaultAuthCode},
		{KeyEnvironment, DefaultEnvironment},
	}
	for _, tt := range tests {
		if got := native[tt.key]; got != tt.want {
			t.Errorf("%s = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestTranslateSettings_Overrides(t *testing.T) {
	native := TranslateSettings(types.ConnectionSettings{
		Username:    "u",
		Password:    "p",
		BrokerID:    "4040",
		TradeServer: "tcp://10.0.0.1:41205",
		Environment: "实盘",
	})
	if native[KeyTradeServer] != "tcp://10.0.0.1:41205" {
		t.Errorf("trade server = %s", native[KeyTradeServer])
	}
	if native[KeyEnvironment] != "实盘" {
		t.Errorf("environment = %s", native[KeyEnvironment])
	}
}

func TestSettings_Redacted(t *testing.T) {
	native := TranslateSettings(types.ConnectionSettings{Username: "u", Password: "p", BrokerID: "b"})
	red := native.Redacted()

	if red[KeyPassword] != "******" || red[KeyAuthCode] != "******" {
		t.Errorf("secrets should be masked: %v", red)
	}
	if native[KeyPassword] != "p" {
		t.Error("Redacted must not modify the original")
	}
}

func TestSplitSymbol(t *testing.T) {
	tests := []struct {
		in       string
		wantSym  string
		wantExch string
	}{
		{"rb2409", "rb2409", "SHFE"},
		{"sc2409.ine", "sc2409", "INE"},
		{"IF2409.CFFEX", "IF2409", "CFFEX"},
		{"rb2409.", "rb2409.", "SHFE"},
		{".SHFE", ".SHFE", "SHFE"},
	}
	for _, tt := range tests {
		sym, exch := SplitSymbol(tt.in, "SHFE")
		if sym != tt.wantSym || exch != tt.wantExch {
			t.Errorf("SplitSymbol(%q) = %s, %s; want %s, %s", tt.in, sym, exch, tt.wantSym, tt.wantExch)
		}
	}
}

func TestTranslateOrder_OrderTypes(t *testing.T) {
	tests := []struct {
		typ  types.OrderType
		want orderCondition
	}{
		{types.OrderTypeMarket, orderCondition{PriceAny, TimeIOC, VolumeAny}},
		{types.OrderTypeLimit, orderCondition{PriceLimit, TimeGFD, VolumeAny}},
		{types.OrderTypeFAK, orderCondition{PriceLimit, TimeIOC, VolumeAny}},
		{types.OrderTypeFOK, orderCondition{PriceLimit, TimeIOC, VolumeComplete}},
		{"", orderCondition{PriceAny, TimeIOC, VolumeAny}},
		{"limit", orderCondition{PriceLimit, TimeGFD, VolumeAny}},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			got, err := TranslateOrder(types.OrderRequest{
				Symbol: "rb2409", Direction: types.DirectionLong, Type: tt.typ, Volume: 1,
			}, "SHFE")
			if err != nil {
				t.Fatalf("TranslateOrder() error = %v", err)
			}
			cond := orderCondition{got.PriceType, got.TimeCondition, got.VolumeCondition}
			if cond != tt.want {
				t.Errorf("conditions = %+v, want %+v", cond, tt.want)
			}
		})
	}
}

func TestOrderTypeFromNative_RoundTrip(t *testing.T) {
	for typ, cond := range orderTypeConditions {
		if got := orderTypeFromNative(cond); got != typ {
			t.Errorf("orderTypeFromNative(%+v) = %s, want %s", cond, got, typ)
		}
	}
	if got := orderTypeFromNative(orderCondition{'x', 'y', 'z'}); got != types.OrderTypeLimit {
		t.Errorf("unknown conditions = %s, want LIMIT", got)
	}
}

func TestTranslateOrder_Directions(t *testing.T) {
	tests := []struct {
		in   types.Direction
		want DirectionCode
	}{
		{"LONG", DirectionBuy},
		{"buy", DirectionBuy},
		{"COVER", DirectionBuy},
		{"SHORT", DirectionSell},
		{"sell", DirectionSell},
		{"SELL_SHORT", DirectionSell},
	}
	for _, tt := range tests {
		got, err := TranslateOrder(types.OrderRequest{Symbol: "rb2409", Direction: tt.in, Volume: 1}, "SHFE")
		if err != nil {
			t.Fatalf("TranslateOrder(%s) error = %v", tt.in, err)
		}
		if got.Direction != tt.want {
			t.Errorf("direction %s = %c, want %c", tt.in, got.Direction, tt.want)
		}
	}
}

func TestTranslateOrder_Offsets(t *testing.T) {
	tests := []struct {
		in   types.Offset
		want OffsetCode
	}{
		{"", OffsetOpen},
		{types.OffsetOpen, OffsetOpen},
		{types.OffsetClose, OffsetClose},
		{types.OffsetCloseToday, OffsetCloseToday},
		{types.OffsetCloseYesterday, OffsetCloseYesterday},
	}
	for _, tt := range tests {
		got, err := TranslateOrder(types.OrderRequest{
			Symbol: "rb2409", Direction: types.DirectionShort, Offset: tt.in, Volume: 1,
		}, "SHFE")
		if err != nil {
			t.Fatalf("TranslateOrder(%s) error = %v", tt.in, err)
		}
		if got.Offset != tt.want {
			t.Errorf("offset %q = %c, want %c", tt.in, got.Offset, tt.want)
		}
	}
}

func TestTranslateOrder_Unsupported(t *testing.T) {
	tests := []struct {
		name string
		req  types.OrderRequest
	}{
		{"direction", types.OrderRequest{Symbol: "rb2409", Direction: "DIAGONAL", Volume: 1}},
		{"offset none", types.OrderRequest{Symbol: "rb2409", Direction: "LONG", Offset: types.OffsetNone, Volume: 1}},
		{"offset garbage", types.OrderRequest{Symbol: "rb2409", Direction: "LONG", Offset: "FLIP", Volume: 1}},
		{"stop", types.OrderRequest{Symbol: "rb2409", Direction: "LONG", Type: types.OrderTypeStop, Volume: 1}},
		{"type garbage", types.OrderRequest{Symbol: "rb2409", Direction: "LONG", Type: "ICEBERG", Volume: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := TranslateOrder(tt.req, "SHFE")
			if !errors.Is(err, types.ErrUnsupportedValue) {
				t.Errorf("expected ErrUnsupportedValue, got %v", err)
			}
			var uv *types.UnsupportedValueError
			if !errors.As(err, &uv) || len(uv.Supported) == 0 {
				t.Errorf("error should list supported values: %v", err)
			}
		})
	}
}

func TestTranslateOrder_InvalidRequest(t *testing.T) {
	_, err := TranslateOrder(types.OrderRequest{Symbol: "rb2409", Direction: "LONG", Volume: 0}, "SHFE")
	if !errors.Is(err, types.ErrInvalidOrder) {
		t.Errorf("expected ErrInvalidOrder, got %v", err)
	}
}

func TestStatusFromNative(t *testing.T) {
	tests := []struct {
		data OrderData
		want types.OrderStatus
	}{
		{OrderData{Status: StatusAllTraded}, types.OrderStatusFilled},
		{OrderData{Status: StatusPartTradedQueueing}, types.OrderStatusPartialFill},
		{OrderData{Status: StatusNoTradeQueueing}, types.OrderStatusSubmitted},
		{OrderData{Status: StatusPartTradedNotQueueing}, types.OrderStatusCancelled},
		{OrderData{Status: StatusNoTradeNotQueueing}, types.OrderStatusCancelled},
		{OrderData{Status: StatusCanceled}, types.OrderStatusCancelled},
		{OrderData{Status: StatusUnknown}, types.OrderStatusSubmitting},
		{OrderData{Status: StatusNoTradeQueueing, ErrorID: 22}, types.OrderStatusRejected},
	}
	for _, tt := range tests {
		if got := statusFromNative(tt.data); got != tt.want {
			t.Errorf("statusFromNative(%c, %d) = %s, want %s", tt.data.Status, tt.data.ErrorID, got, tt.want)
		}
	}
}

func TestPositionFromNative(t *testing.T) {
	p, ok := positionFromNative(PositionData{
		Symbol: "rb2409", PosiDirection: PosiShort, Position: 2, Frozen: 5, Price: decimal.NewFromInt(3900),
	})
	if !ok {
		t.Fatal("short position should translate")
	}
	if p.Direction != types.DirectionShort || p.Volume != 2 || p.Available != 0 {
		t.Errorf("position = %+v", p)
	}

	if _, ok := positionFromNative(PositionData{Symbol: "IF2409", PosiDirection: PosiNet}); ok {
		t.Error("net positions should be skipped")
	}
}

func TestTickFromNative_FillsTimestamp(t *testing.T) {
	tick := tickFromNative(TickData{Symbol: "rb2409", LastPrice: decimal.NewFromInt(1)})
	if tick.Timestamp.IsZero() {
		t.Error("tick timestamp should default to now")
	}
}
