package alerting

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/tradegate/internal/types"
)

// AccountSummary is a point-in-time digest of one connected account.
type AccountSummary struct {
	Time          time.Time
	Platform      string
	AccountID     string
	Balance       decimal.Decimal
	Available     decimal.Decimal
	Margin        decimal.Decimal
	CloseProfit   decimal.Decimal
	FloatingPnL   decimal.Decimal
	MarginPct     decimal.Decimal
	OpenPositions int
	LongVolume    int
	ShortVolume   int
}

// NewAccountSummary builds a summary from an account snapshot and its live positions.
func NewAccountSummary(at time.Time, platform string, acct types.Account, positions []types.Position) AccountSummary {
	s := AccountSummary{
		Time:        at,
		Platform:    platform,
		AccountID:   acct.AccountID,
		Balance:     acct.Balance,
		Available:   acct.Available,
		Margin:      acct.Margin,
		CloseProfit: acct.CloseProfit,
	}

	if !acct.Balance.IsZero() {
		s.MarginPct = acct.Margin.Div(acct.Balance).Mul(decimal.NewFromInt(100))
	}

	for _, p := range positions {
		if p.Volume <= 0 {
			continue
		}
		s.OpenPositions++
		s.FloatingPnL = s.FloatingPnL.Add(p.PnL)
		if p.Direction == types.DirectionShort {
			s.ShortVolume += p.Volume
		} else {
			s.LongVolume += p.Volume
		}
	}

	return s
}

// Format renders the summary as plain text, one field per line.
func (s AccountSummary) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Account %s on %s at %s\n", s.AccountID, s.Platform, s.Time.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Balance: %s\n", s.Balance.StringFixed(2))
	fmt.Fprintf(&b, "Available: %s\n", s.Available.StringFixed(2))
	fmt.Fprintf(&b, "Margin: %s (%s%%)\n", s.Margin.StringFixed(2), s.MarginPct.StringFixed(2))
	fmt.Fprintf(&b, "Close profit: %s\n", s.CloseProfit.StringFixed(2))
	fmt.Fprintf(&b, "Floating P/L: %s\n", s.FloatingPnL.StringFixed(2))
	fmt.Fprintf(&b, "Positions: %d (long %d, short %d)", s.OpenPositions, s.LongVolume, s.ShortVolume)
	return b.String()
}
