// Package tool exposes the trading gateway as a single text-in, text-out
// command used by the outer orchestration layer.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/tradegate/internal/gateway"
	"github.com/tathienbao/tradegate/internal/metrics"
	"github.com/tathienbao/tradegate/internal/types"
)

// Actions understood by Run.
const (
	ActionBuy          = "buy"
	ActionSell         = "sell"
	ActionClose        = "close"
	ActionGetAccount   = "get_account"
	ActionGetPositions = "get_positions"
)

var actionAliases = map[string]string{
	ActionBuy:          ActionBuy,
	"long":             ActionBuy,
	ActionSell:         ActionSell,
	"short":            ActionSell,
	ActionClose:        ActionClose,
	ActionGetAccount:   ActionGetAccount,
	ActionGetPositions: ActionGetPositions,
}

var supportedActions = []string{ActionBuy, ActionSell, ActionClose, ActionGetAccount, ActionGetPositions}

// Sessions looks up the session serving a platform. A blank platform means
// the current session.
type Sessions interface {
	Session(platform string) (gateway.Session, error)
}

// Request is one tool call. Zero Volume means one lot; a blank OrderType
// means MARKET.
type Request struct {
	Platform  string          `json:"platform"`
	Action    string          `json:"action"`
	Symbol    string          `json:"symbol,omitempty"`
	Volume    int             `json:"volume,omitempty"`
	Price     decimal.Decimal `json:"price"`
	OrderType string          `json:"order_type,omitempty"`
}

// Tool dispatches tool calls onto gateway sessions.
type Tool struct {
	sessions Sessions
	logger   *slog.Logger
	recorder *metrics.Recorder
}

// New creates a Tool over sessions.
func New(sessions Sessions, logger *slog.Logger) *Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tool{
		sessions: sessions,
		logger:   logger.With("component", "tool"),
		recorder: metrics.NewRecorder(),
	}
}

// RunJSON decodes a tool-call payload and runs it.
func (t *Tool) RunJSON(ctx context.Context, args []byte) string {
	var req Request
	if err := json.Unmarshal(args, &req); err != nil {
		t.recorder.RecordToolCall("invalid", false)
		return failed(fmt.Errorf("invalid arguments: %w", err))
	}
	return t.Run(ctx, req)
}

// Run executes one action and renders the outcome as text. It never panics
// on venue errors; every failure becomes "operation failed: <reason>".
func (t *Tool) Run(ctx context.Context, req Request) string {
	action, known := actionAliases[strings.ToLower(strings.TrimSpace(req.Action))]
	if !known {
		t.recorder.RecordToolCall("unsupported", false)
		return failed(&types.UnsupportedValueError{Kind: "action", Value: req.Action, Supported: supportedActions})
	}

	out, err := t.run(ctx, action, req)
	t.recorder.RecordToolCall(action, err == nil)
	if err != nil {
		t.logger.Warn("tool call failed",
			"action", action,
			"platform", req.Platform,
			"symbol", req.Symbol,
			"err", err,
		)
		return failed(err)
	}
	return out
}

func (t *Tool) run(ctx context.Context, action string, req Request) (string, error) {
	switch action {
	case ActionBuy, ActionSell, ActionClose:
		if strings.TrimSpace(req.Symbol) == "" {
			return "", fmt.Errorf("%w: %s requires a symbol", types.ErrInvalidOrder, action)
		}
	}

	session, err := t.sessions.Session(req.Platform)
	if err != nil {
		return "", err
	}

	switch action {
	case ActionBuy:
		return t.open(ctx, session, req, types.DirectionLong)
	case ActionSell:
		return t.open(ctx, session, req, types.DirectionShort)
	case ActionClose:
		return t.close(ctx, session, req.Symbol)
	case ActionGetAccount:
		return t.account(ctx, session)
	default:
		return t.positions(ctx, session)
	}
}

func (t *Tool) open(ctx context.Context, session gateway.Session, req Request, dir types.Direction) (string, error) {
	orderType := types.OrderTypeMarket
	if strings.TrimSpace(req.OrderType) != "" {
		parsed, err := types.ParseOrderType(req.OrderType)
		if err != nil {
			return "", err
		}
		orderType = parsed
	}
	volume := req.Volume
	if volume == 0 {
		volume = 1
	}

	orderID, err := session.PlaceOrder(ctx, types.OrderRequest{
		Symbol:    req.Symbol,
		Direction: dir,
		Offset:    types.OffsetOpen,
		Type:      orderType,
		Volume:    volume,
		Price:     req.Price,
	})
	if err != nil {
		return "", err
	}

	verb := "buy"
	if dir == types.DirectionShort {
		verb = "sell"
	}
	return fmt.Sprintf("%s order submitted: %s %d lot(s), order ID: %s", verb, req.Symbol, volume, orderID), nil
}

func (t *Tool) close(ctx context.Context, session gateway.Session, symbol string) (string, error) {
	positions, err := session.GetPositions(ctx)
	if err != nil {
		return "", err
	}

	for _, p := range positions {
		if p.Volume <= 0 || !sameInstrument(p.Symbol, symbol) {
			continue
		}
		orderID, err := session.PlaceOrder(ctx, types.OrderRequest{
			Symbol:    closeSymbol(symbol, p),
			Direction: p.Direction.Opposite(),
			Offset:    types.OffsetClose,
			Type:      types.OrderTypeMarket,
			Volume:    p.Volume,
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("close order submitted: %s %s %d lot(s), order ID: %s", symbol, p.Direction, p.Volume, orderID), nil
	}

	return fmt.Sprintf("no position found for %s", symbol), nil
}

func (t *Tool) account(ctx context.Context, session gateway.Session) (string, error) {
	acct, err := session.GetAccountInfo(ctx)
	if err != nil {
		return "", err
	}
	if acct == nil {
		return "account information unavailable", nil
	}

	var b strings.Builder
	b.WriteString("account:\n")
	fmt.Fprintf(&b, "- account ID: %s\n", acct.AccountID)
	fmt.Fprintf(&b, "- balance: %s\n", acct.Balance.StringFixed(2))
	fmt.Fprintf(&b, "- available: %s\n", acct.Available.StringFixed(2))
	fmt.Fprintf(&b, "- margin: %s", acct.Margin.StringFixed(2))
	return b.String(), nil
}

func (t *Tool) positions(ctx context.Context, session gateway.Session) (string, error) {
	positions, err := session.GetPositions(ctx)
	if err != nil {
		return "", err
	}
	if len(positions) == 0 {
		return "no open positions", nil
	}

	var b strings.Builder
	b.WriteString("positions:")
	for _, p := range positions {
		fmt.Fprintf(&b, "\n- %s: %s %d lot(s) @ %s, pnl: %s",
			p.Symbol, p.Direction, p.Volume, p.Price.StringFixed(2), p.PnL.StringFixed(2))
	}
	return b.String(), nil
}

// sameInstrument compares symbols ignoring any ".EXCHANGE" suffix.
func sameInstrument(a, b string) bool {
	a, _, _ = strings.Cut(a, ".")
	b, _, _ = strings.Cut(b, ".")
	return strings.EqualFold(a, b)
}

// closeSymbol routes a close to the exchange the position is held on
// unless the caller named one.
func closeSymbol(symbol string, p types.Position) string {
	if strings.Contains(symbol, ".") || p.Exchange == "" {
		return symbol
	}
	return p.Symbol + "." + p.Exchange
}

func failed(err error) string {
	return "operation failed: " + err.Error()
}
