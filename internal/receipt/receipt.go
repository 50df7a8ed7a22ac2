// Package receipt turns a finished trade snapshot into the values shown to
// the user. It has no side effects.
package receipt

import (
	"fmt"
	"io"
	"text/tabwriter"

	"tradewatch/internal/models"
)

const quoteDecimals = 2

// Receipt is the presentation view of a resolved or cancelled trade.
type Receipt struct {
	TradeID         string `json:"tradeId"`
	Pair            string `json:"pair"`
	Type            string `json:"type"`
	Stake           string `json:"stake"`
	EntryPrice      string `json:"entryPrice"`
	Expiration      string `json:"expiration"`
	BaseAmount      string `json:"baseAmount"`
	PotentialProfit string `json:"potentialProfit"`
	ExpectedProfit  string `json:"expectedProfit"`
	FeePercentage   string `json:"feePercentage"`
	FeeAmount       string `json:"feeAmount"`
	Status          string `json:"status"`
	Outcome         string `json:"outcome"`
	ResolvedAt      string `json:"resolvedAt,omitempty"`
}

// FromTrade builds the receipt for a trade snapshot.
func FromTrade(t *models.Trade) Receipt {
	quote := t.QuoteCurrency
	r := Receipt{
		TradeID:         t.ID,
		Pair:            t.TradingPair,
		Type:            string(t.TradeType),
		Stake:           withUnit(t.TradingAmountQuote.StringFixed(quoteDecimals), quote),
		EntryPrice:      withUnit(t.ExecutionPrice.String(), quote),
		Expiration:      fmt.Sprintf("%ds", t.TradeExpirationTimeSeconds),
		BaseAmount:      withUnit(t.TradingAmountBase.String(), t.BaseCurrency),
		PotentialProfit: t.PotentialProfitPercentage.String() + "%",
		ExpectedProfit:  withUnit(t.ExpectedProfitQuote.StringFixed(quoteDecimals), quote),
		FeePercentage:   t.TransactionFeePercentage.String() + "%",
		FeeAmount:       withUnit(t.TransactionFeeAmountQuote.StringFixed(quoteDecimals), quote),
		Status:          string(t.TradeStatus),
		Outcome:         badge(t),
	}
	if !t.UpdatedAt.IsZero() {
		r.ResolvedAt = t.UpdatedAt.UTC().Format("2006-01-02 15:04:05 MST")
	}
	if r.Pair == "" && t.BaseCurrency != "" {
		r.Pair = t.BaseCurrency + "/" + quote
	}
	return r
}

func withUnit(value, unit string) string {
	if unit == "" {
		return value
	}
	return value + " " + unit
}

func badge(t *models.Trade) string {
	switch {
	case t.WinLoseStatus == models.WinLoseWin:
		return "WIN"
	case t.WinLoseStatus == models.WinLoseLose:
		return "LOSE"
	case t.TradeStatus == models.TradeStatusCancelled:
		return "CANCELLED"
	default:
		return "PENDING"
	}
}

// Render writes the receipt as aligned label/value lines.
func (r Receipt) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"Trade", r.TradeID},
		{"Pair", r.Pair},
		{"Type", r.Type},
		{"Stake", r.Stake},
		{"Entry price", r.EntryPrice},
		{"Expiration", r.Expiration},
		{"Base amount", r.BaseAmount},
		{"Potential profit", r.PotentialProfit},
		{"Expected profit", r.ExpectedProfit},
		{"Fee", r.FeePercentage},
		{"Fee amount", r.FeeAmount},
		{"Status", r.Status},
		{"Result", r.Outcome},
	}
	if r.ResolvedAt != "" {
		rows = append(rows, [2]string{"Resolved at", r.ResolvedAt})
	}
	for _, row := range rows {
		if _, err := fmt.Fprintf(tw, "%s:\t%s\n", row[0], row[1]); err != nil {
			return err
		}
	}
	return tw.Flush()
}
