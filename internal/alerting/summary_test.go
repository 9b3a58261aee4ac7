package alerting

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/tradegate/internal/types"
)

func TestNewAccountSummary(t *testing.T) {
	at := time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC)
	acct := types.Account{
		AccountID:   "240298",
		Balance:     decimal.NewFromInt(1000000),
		Available:   decimal.NewFromInt(800000),
		Margin:      decimal.NewFromInt(200000),
		CloseProfit: decimal.NewFromInt(1500),
	}
	positions := []types.Position{
		{Symbol: "rb2409", Direction: types.DirectionLong, Volume: 3, PnL: decimal.NewFromInt(600)},
		{Symbol: "hc2410", Direction: types.DirectionShort, Volume: 2, PnL: decimal.NewFromInt(-100)},
		{Symbol: "ag2412", Direction: types.DirectionLong, Volume: 0, PnL: decimal.NewFromInt(999)},
	}

	summary := NewAccountSummary(at, "ctp", acct, positions)

	if summary.OpenPositions != 2 {
		t.Errorf("OpenPositions = %d, want 2", summary.OpenPositions)
	}
	if summary.LongVolume != 3 || summary.ShortVolume != 2 {
		t.Errorf("volumes = %d/%d, want 3/2", summary.LongVolume, summary.ShortVolume)
	}

	// Closed positions do not contribute floating P/L.
	if !summary.FloatingPnL.Equal(decimal.NewFromInt(500)) {
		t.Errorf("FloatingPnL = %s, want 500", summary.FloatingPnL)
	}

	if !summary.MarginPct.Equal(decimal.NewFromInt(20)) {
		t.Errorf("MarginPct = %s, want 20", summary.MarginPct)
	}
}

func TestNewAccountSummary_ZeroBalance(t *testing.T) {
	summary := NewAccountSummary(time.Now(), "ctp", types.Account{AccountID: "a"}, nil)

	if !summary.MarginPct.IsZero() {
		t.Errorf("MarginPct = %s, want 0", summary.MarginPct)
	}
	if summary.OpenPositions != 0 {
		t.Errorf("OpenPositions = %d, want 0", summary.OpenPositions)
	}
}

func TestAccountSummary_Format(t *testing.T) {
	summary := NewAccountSummary(
		time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC),
		"ctp",
		types.Account{AccountID: "240298", Balance: decimal.NewFromInt(1000), Margin: decimal.NewFromInt(100)},
		[]types.Position{{Symbol: "rb2409", Direction: types.DirectionLong, Volume: 1}},
	)

	text := summary.Format()
	for _, want := range []string{"240298", "ctp", "Balance: 1000.00", "(10.00%)", "Positions: 1 (long 1, short 0)"} {
		if !strings.Contains(text, want) {
			t.Errorf("Format() missing %q:\n%s", want, text)
		}
	}
}
