package models

import "github.com/shopspring/decimal"

// TradeOption is a server-defined combination of duration, payout and
// allowed stake range offered for a trading pair.
type TradeOption struct {
	ID               string          `json:"id"`
	DurationSeconds  int             `json:"durationSeconds"`
	ProfitPercentage decimal.Decimal `json:"profitPercentage"`
	MinAmountQuote   decimal.Decimal `json:"minAmountQuote"`
	MaxAmountQuote   decimal.Decimal `json:"maxAmountQuote"`
}

// CheckAmount returns a *ValidationError when amount lies outside the
// option's inclusive [MinAmountQuote, MaxAmountQuote] range.
func (o TradeOption) CheckAmount(amount decimal.Decimal) error {
	if amount.LessThan(o.MinAmountQuote) || amount.GreaterThan(o.MaxAmountQuote) {
		return &ValidationError{
			Field: "tradingAmountQuote",
			Reason: "amount " + amount.String() + " outside allowed range [" +
				o.MinAmountQuote.String() + ", " + o.MaxAmountQuote.String() + "]",
		}
	}
	return nil
}

// TradingPair is a tradable pair with its nested trade options.
type TradingPair struct {
	ID            string        `json:"id"`
	Symbol        string        `json:"symbol"`
	BaseCurrency  string        `json:"baseCurrency"`
	QuoteCurrency string        `json:"quoteCurrency"`
	TradeOptions  []TradeOption `json:"tradeOptions"`
}

// Option looks up a trade option by id.
func (p *TradingPair) Option(id string) (TradeOption, bool) {
	for _, o := range p.TradeOptions {
		if o.ID == id {
			return o, true
		}
	}
	return TradeOption{}, false
}
