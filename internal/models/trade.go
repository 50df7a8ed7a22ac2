package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradeType is the direction of a binary trade.
type TradeType string

const (
	TradeTypeBuy  TradeType = "BUY"
	TradeTypeSell TradeType = "SELL"
)

// Valid reports whether t is a known trade type.
func (t TradeType) Valid() bool {
	return t == TradeTypeBuy || t == TradeTypeSell
}

// TradeStatus is the lifecycle state of a trade on the server.
type TradeStatus string

const (
	TradeStatusPending   TradeStatus = "PENDING"
	TradeStatusResolved  TradeStatus = "RESOLVED"
	TradeStatusCancelled TradeStatus = "CANCELLED"
)

// Valid reports whether s is a known trade status.
func (s TradeStatus) Valid() bool {
	switch s {
	case TradeStatusPending, TradeStatusResolved, TradeStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further status change is expected.
func (s TradeStatus) IsTerminal() bool {
	return s == TradeStatusResolved || s == TradeStatusCancelled
}

// WinLoseStatus is the outcome of a trade. NA until the trade is resolved.
type WinLoseStatus string

const (
	WinLoseNA   WinLoseStatus = "NA"
	WinLoseWin  WinLoseStatus = "WIN"
	WinLoseLose WinLoseStatus = "LOSE"
)

// Valid reports whether w is a known outcome value.
func (w WinLoseStatus) Valid() bool {
	switch w {
	case WinLoseNA, WinLoseWin, WinLoseLose:
		return true
	}
	return false
}

// IsDecided reports whether w is WIN or LOSE.
func (w WinLoseStatus) IsDecided() bool {
	return w == WinLoseWin || w == WinLoseLose
}

// Trade is the server-authoritative snapshot of a single binary trade.
// The client never mutates it; every change is observed by re-fetching.
type Trade struct {
	ID            string    `json:"id"`
	TradingPair   string    `json:"tradingPair"`
	BaseCurrency  string    `json:"baseCurrency"`
	QuoteCurrency string    `json:"quoteCurrency"`
	TradeType     TradeType `json:"tradeType"`

	TradingAmountQuote decimal.Decimal `json:"tradingAmountQuote"`
	TradingAmountBase  decimal.Decimal `json:"tradingAmountBase"`
	ExecutionPrice     decimal.Decimal `json:"executionPrice"`

	TradeExpirationTimeSeconds int `json:"tradeExpirationTimeSeconds"`

	PotentialProfitPercentage decimal.Decimal `json:"potentialProfitPercentage"`
	ExpectedProfitQuote       decimal.Decimal `json:"expectedProfitQuote"`
	TransactionFeePercentage  decimal.Decimal `json:"transactionFeePercentage"`
	TransactionFeeAmountQuote decimal.Decimal `json:"transactionFeeAmountQuote"`

	TradeStatus   TradeStatus   `json:"tradeStatus"`
	WinLoseStatus WinLoseStatus `json:"winLoseStatus"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ExpiresAt is the wall-clock instant the trade's window closes.
func (t *Trade) ExpiresAt() time.Time {
	return t.CreatedAt.Add(time.Duration(t.TradeExpirationTimeSeconds) * time.Second)
}

// IsDecided reports whether the server has assigned a WIN or LOSE outcome.
func (t *Trade) IsDecided() bool {
	return t.WinLoseStatus.IsDecided()
}

// Validate checks the status/outcome invariants of a snapshot:
// a decided outcome requires RESOLVED, and a CANCELLED trade has no outcome.
func (t *Trade) Validate() error {
	if !t.TradeStatus.Valid() {
		return fmt.Errorf("trade %s: unknown trade status %q", t.ID, t.TradeStatus)
	}
	if !t.WinLoseStatus.Valid() {
		return fmt.Errorf("trade %s: unknown win/lose status %q", t.ID, t.WinLoseStatus)
	}
	if t.WinLoseStatus.IsDecided() && t.TradeStatus != TradeStatusResolved {
		return fmt.Errorf("trade %s: outcome %s with status %s", t.ID, t.WinLoseStatus, t.TradeStatus)
	}
	if t.TradeStatus == TradeStatusCancelled && t.WinLoseStatus != WinLoseNA {
		return fmt.Errorf("trade %s: cancelled trade carries outcome %s", t.ID, t.WinLoseStatus)
	}
	return nil
}
