package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"tradewatch/internal/models"
	"tradewatch/internal/pointer"
	"tradewatch/internal/reconcile"
	"tradewatch/internal/session"
)

func runPlace(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	pairRef, _ := fs.GetString("pair")
	optionID, _ := fs.GetString("option")
	typeFlag, _ := fs.GetString("type")
	amountFlag, _ := fs.GetString("amount")
	priceFlag, _ := fs.GetString("price")

	tradeType := models.TradeType(strings.ToUpper(typeFlag))
	if !tradeType.Valid() {
		return fmt.Errorf("invalid --type %q", typeFlag)
	}
	amount, err := decimal.NewFromString(amountFlag)
	if err != nil {
		return fmt.Errorf("invalid --amount %q: %w", amountFlag, err)
	}
	price, err := decimal.NewFromString(priceFlag)
	if err != nil {
		return fmt.Errorf("invalid --price %q: %w", priceFlag, err)
	}

	pairs, err := a.client.GetTradingPairs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load trading pairs: %w", err)
	}
	pair, err := findPair(pairs, pairRef)
	if err != nil {
		return err
	}
	if optionID == "" {
		if len(pair.TradeOptions) == 0 {
			return fmt.Errorf("pair %s has no trade options", pair.Symbol)
		}
		optionID = pair.TradeOptions[0].ID
	}

	s, stopServer, err := a.newSession(ctx)
	if err != nil {
		return err
	}
	defer stopServer()

	if _, err := s.Place(ctx, pair, optionID, tradeType, amount, price); err != nil {
		return err
	}
	return follow(ctx, a, s)
}

func runWatch(ctx context.Context, a *app, _ *pflag.FlagSet) error {
	s, stopServer, err := a.newSession(ctx)
	if err != nil {
		return err
	}
	defer stopServer()

	plan, err := s.Resume(ctx)
	if err != nil {
		return err
	}
	if plan.Action == pointer.Discard {
		fmt.Println("No open trade to watch.")
		return nil
	}
	return follow(ctx, a, s)
}

// follow runs the session to completion and prints the receipt.
func follow(ctx context.Context, a *app, s *session.Session) error {
	err := s.Run(ctx)
	if errors.Is(err, reconcile.ErrOutcomeUnknown) {
		fmt.Printf("Status of trade %s is still unknown. Run \"tradewatch watch\" later to check again.\n", s.Snapshot().TradeID)
		return nil
	}
	if err != nil {
		return err
	}

	st := s.Snapshot()
	if st.Receipt == nil {
		return nil
	}
	a.log.Debug("Printing receipt", zap.String("trade_id", st.TradeID))
	return st.Receipt.Render(os.Stdout)
}

func runHistory(ctx context.Context, a *app, _ *pflag.FlagSet) error {
	if a.cfg.API.UserID == "" {
		return errors.New("api.user_id is not configured")
	}
	trades, err := a.client.GetUserTrades(ctx, a.cfg.API.UserID)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPAIR\tTYPE\tSTAKE\tPRICE\tSTATUS\tRESULT\tCREATED")
	for _, t := range trades {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s %s\t%s\t%s\t%s\t%s\n",
			t.ID, t.TradingPair, t.TradeType,
			t.TradingAmountQuote.StringFixed(2), t.QuoteCurrency,
			t.ExecutionPrice, t.TradeStatus, t.WinLoseStatus,
			t.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		)
	}
	return tw.Flush()
}

func runPairs(ctx context.Context, a *app, _ *pflag.FlagSet) error {
	pairs, err := a.client.GetTradingPairs(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PAIR\tPAIR ID\tOPTION ID\tDURATION\tPROFIT\tMIN\tMAX")
	for _, p := range pairs {
		for _, o := range p.TradeOptions {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%ds\t%s%%\t%s\t%s\n",
				p.Symbol, p.ID, o.ID, o.DurationSeconds, o.ProfitPercentage,
				o.MinAmountQuote, o.MaxAmountQuote,
			)
		}
	}
	return tw.Flush()
}

func runResolve(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	id, _ := fs.GetString("id")
	outcome, _ := fs.GetString("outcome")
	cancel, _ := fs.GetBool("cancel")

	if id == "" {
		return errors.New("--id is required")
	}

	var req models.UpdateTradeRequest
	switch {
	case cancel && outcome != "":
		return errors.New("--cancel and --outcome are mutually exclusive")
	case cancel:
		req = models.CancelRequest()
	default:
		req = models.ResolveRequest(models.WinLoseStatus(strings.ToUpper(outcome)))
	}

	trade, err := a.client.UpdateTrade(ctx, id, req)
	if err != nil {
		return err
	}
	fmt.Printf("Trade %s is now %s (%s)\n", trade.ID, trade.TradeStatus, trade.WinLoseStatus)
	return nil
}

// findPair matches ref against pair ids, then symbols case-insensitively.
func findPair(pairs []models.TradingPair, ref string) (*models.TradingPair, error) {
	if ref == "" {
		return nil, errors.New("--pair is required")
	}
	for i := range pairs {
		if pairs[i].ID == ref {
			return &pairs[i], nil
		}
	}
	for i := range pairs {
		if strings.EqualFold(pairs[i].Symbol, ref) {
			return &pairs[i], nil
		}
	}
	return nil, fmt.Errorf("no trading pair %q", ref)
}
