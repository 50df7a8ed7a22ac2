package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidationError is a client-detected problem with a request. It is
// returned before any network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// CreateTradeRequest is the body of POST /trades.
type CreateTradeRequest struct {
	TradingPairID      string          `json:"tradingPairId"`
	TradeOptionID      string          `json:"tradeOptionId"`
	TradeType          TradeType       `json:"tradeType"`
	TradingAmountQuote decimal.Decimal `json:"tradingAmountQuote"`
	ExecutionPrice     decimal.Decimal `json:"executionPrice"`
}

// Validate checks that every field is present.
func (r *CreateTradeRequest) Validate() error {
	switch {
	case r.TradingPairID == "":
		return &ValidationError{Field: "tradingPairId", Reason: "required"}
	case r.TradeOptionID == "":
		return &ValidationError{Field: "tradeOptionId", Reason: "required"}
	case !r.TradeType.Valid():
		return &ValidationError{Field: "tradeType", Reason: fmt.Sprintf("must be BUY or SELL, got %q", r.TradeType)}
	case !r.TradingAmountQuote.IsPositive():
		return &ValidationError{Field: "tradingAmountQuote", Reason: "must be positive"}
	case !r.ExecutionPrice.IsPositive():
		return &ValidationError{Field: "executionPrice", Reason: "must be positive"}
	}
	return nil
}

// UpdateTradeRequest is the body of the admin PATCH /trades/:id.
type UpdateTradeRequest struct {
	TradeStatus   *TradeStatus   `json:"tradeStatus,omitempty"`
	WinLoseStatus *WinLoseStatus `json:"winLoseStatus,omitempty"`
}

// Validate enforces that an outcome is only sent together with RESOLVED
// and never with CANCELLED.
func (r *UpdateTradeRequest) Validate() error {
	if r.TradeStatus == nil && r.WinLoseStatus == nil {
		return &ValidationError{Field: "tradeStatus", Reason: "nothing to update"}
	}
	if r.TradeStatus != nil && !r.TradeStatus.Valid() {
		return &ValidationError{Field: "tradeStatus", Reason: fmt.Sprintf("unknown status %q", *r.TradeStatus)}
	}
	if r.WinLoseStatus == nil {
		return nil
	}
	if !r.WinLoseStatus.Valid() {
		return &ValidationError{Field: "winLoseStatus", Reason: fmt.Sprintf("unknown outcome %q", *r.WinLoseStatus)}
	}
	if r.TradeStatus == nil || *r.TradeStatus != TradeStatusResolved {
		return &ValidationError{Field: "winLoseStatus", Reason: "only accepted with tradeStatus RESOLVED"}
	}
	return nil
}

// ResolveRequest builds an update that resolves a trade to the given outcome.
func ResolveRequest(outcome WinLoseStatus) UpdateTradeRequest {
	status := TradeStatusResolved
	return UpdateTradeRequest{TradeStatus: &status, WinLoseStatus: &outcome}
}

// CancelRequest builds an update that cancels a trade.
func CancelRequest() UpdateTradeRequest {
	status := TradeStatusCancelled
	return UpdateTradeRequest{TradeStatus: &status}
}
