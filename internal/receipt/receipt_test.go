package receipt

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradewatch/internal/models"
)

func resolvedTrade() *models.Trade {
	return &models.Trade{
		ID:                         "t1",
		TradingPair:                "BTC/USDT",
		BaseCurrency:               "BTC",
		QuoteCurrency:              "USDT",
		TradeType:                  models.TradeTypeBuy,
		TradingAmountQuote:         decimal.NewFromInt(100),
		TradingAmountBase:          decimal.RequireFromString("0.0015625"),
		ExecutionPrice:             decimal.RequireFromString("64000.5"),
		TradeExpirationTimeSeconds: 60,
		PotentialProfitPercentage:  decimal.NewFromInt(85),
		ExpectedProfitQuote:        decimal.RequireFromString("85"),
		TransactionFeePercentage:   decimal.RequireFromString("0.5"),
		TransactionFeeAmountQuote:  decimal.RequireFromString("0.5"),
		TradeStatus:                models.TradeStatusResolved,
		WinLoseStatus:              models.WinLoseWin,
		UpdatedAt:                  time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC),
	}
}

func TestFromTrade(t *testing.T) {
	r := FromTrade(resolvedTrade())

	assert.Equal(t, "t1", r.TradeID)
	assert.Equal(t, "BTC/USDT", r.Pair)
	assert.Equal(t, "BUY", r.Type)
	assert.Equal(t, "100.00 USDT", r.Stake)
	assert.Equal(t, "64000.5 USDT", r.EntryPrice)
	assert.Equal(t, "60s", r.Expiration)
	assert.Equal(t, "0.0015625 BTC", r.BaseAmount)
	assert.Equal(t, "85%", r.PotentialProfit)
	assert.Equal(t, "85.00 USDT", r.ExpectedProfit)
	assert.Equal(t, "0.5%", r.FeePercentage)
	assert.Equal(t, "0.50 USDT", r.FeeAmount)
	assert.Equal(t, "RESOLVED", r.Status)
	assert.Equal(t, "WIN", r.Outcome)
	assert.Equal(t, "2026-03-01 12:01:00 UTC", r.ResolvedAt)
}

func TestFromTrade_Badges(t *testing.T) {
	lose := resolvedTrade()
	lose.WinLoseStatus = models.WinLoseLose
	assert.Equal(t, "LOSE", FromTrade(lose).Outcome)

	cancelled := resolvedTrade()
	cancelled.TradeStatus = models.TradeStatusCancelled
	cancelled.WinLoseStatus = models.WinLoseNA
	assert.Equal(t, "CANCELLED", FromTrade(cancelled).Outcome)
}

func TestRender_IsIdempotent(t *testing.T) {
	r := FromTrade(resolvedTrade())

	var first, second bytes.Buffer
	require.NoError(t, r.Render(&first))
	require.NoError(t, r.Render(&second))

	assert.Equal(t, first.String(), second.String())
	assert.Contains(t, first.String(), "Result:")
	assert.Contains(t, first.String(), "WIN")
	assert.Contains(t, first.String(), "64000.5 USDT")
}
