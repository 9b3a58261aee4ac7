package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramConfig holds configuration for Telegram alerter.
type TelegramConfig struct {
	BotToken string
	ChatID   string
	Timeout  time.Duration
	// APIBase overrides the Bot API endpoint.
	APIBase string
}

// TelegramAlerter sends alerts via Telegram.
type TelegramAlerter struct {
	cfg    TelegramConfig
	client *http.Client
}

// NewTelegramAlerter creates a new Telegram alerter.
func NewTelegramAlerter(cfg TelegramConfig) *TelegramAlerter {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultTelegramAPI
	}

	return &TelegramAlerter{
		cfg: cfg,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the name of the alerter.
func (t *TelegramAlerter) Name() string {
	return "telegram"
}

// telegramMessage represents the Telegram API message format.
type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// telegramResponse represents the Telegram API response.
type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// Alert sends an alert via Telegram.
func (t *TelegramAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	return t.send(ctx, t.formatMessage(severity, message, fields...))
}

// SendAccountSummary sends a formatted account summary.
func (t *TelegramAlerter) SendAccountSummary(ctx context.Context, summary AccountSummary) error {
	return t.send(ctx, t.formatAccountSummary(summary))
}

func (t *TelegramAlerter) send(ctx context.Context, text string) error {
	body, err := json.Marshal(telegramMessage{ChatID: t.cfg.ChatID, Text: text, ParseMode: "HTML"})
	if err != nil {
		return fmt.Errorf("telegram: encode message: %w", err)
	}

	endpoint := strings.TrimRight(t.cfg.APIBase, "/") + "/bot" + t.cfg.BotToken + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var result telegramResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return fmt.Errorf("telegram: decode response (status %d): %w", resp.StatusCode, err)
	}
	if !result.OK {
		return fmt.Errorf("telegram API error: %s", result.Description)
	}
	return nil
}

func (t *TelegramAlerter) formatMessage(severity Severity, message string, fields ...any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>[%s]</b>", severity.Emoji(), severity.String())
	if event, ok := eventField(fields); ok {
		fmt.Fprintf(&b, " <code>%s</code>", html.EscapeString(string(event)))
	}
	b.WriteString("\n" + html.EscapeString(message))
	if details := FormatFields(fields...); details != "" {
		b.WriteString("\n\n<b>Details:</b>\n" + html.EscapeString(details))
	}
	fmt.Fprintf(&b, "\n\n<i>%s</i>", time.Now().Format("2006-01-02 15:04:05 MST"))
	return b.String()
}

// formatAccountSummary formats an account summary for Telegram.
func (t *TelegramAlerter) formatAccountSummary(s AccountSummary) string {
	plEmoji := "📈"
	if s.FloatingPnL.Add(s.CloseProfit).IsNegative() {
		plEmoji = "📉"
	}

	return fmt.Sprintf(`%s <b>Account Summary</b>
<b>Account:</b> %s (%s)
<b>Time:</b> %s

<b>Funds:</b>
• Balance: %s
• Available: %s
• Margin: %s (%s%%)

<b>P/L:</b>
• Close profit: %s
• Floating: %s

<b>Positions:</b>
• Open: %d
• Long: %d | Short: %d`,
		plEmoji,
		html.EscapeString(s.AccountID),
		html.EscapeString(s.Platform),
		s.Time.Format("2006-01-02 15:04:05"),
		s.Balance.StringFixed(2),
		s.Available.StringFixed(2),
		s.Margin.StringFixed(2),
		s.MarginPct.StringFixed(2),
		s.CloseProfit.StringFixed(2),
		s.FloatingPnL.StringFixed(2),
		s.OpenPositions,
		s.LongVolume,
		s.ShortVolume,
	)
}
