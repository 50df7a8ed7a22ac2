package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradewatch/internal/brokerapi"
	"tradewatch/internal/countdown"
	"tradewatch/internal/metrics"
	"tradewatch/internal/models"
	"tradewatch/internal/pointer"
	"tradewatch/internal/receipt"
	"tradewatch/internal/reconcile"
)

// Phase is where the tracked trade is in its client-side lifecycle.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseCountdown   Phase = "countdown"
	PhaseReconciling Phase = "reconciling"
	PhaseResolved    Phase = "resolved"
	PhaseUnknown     Phase = "unknown"
)

// ErrTradeInProgress is returned by Place while another trade is tracked.
var ErrTradeInProgress = errors.New("session: a trade is already being tracked")

// Options configures a Session.
type Options struct {
	TickInterval time.Duration
	Reconcile    reconcile.Options
}

// Status is a point-in-time view of the session.
type Status struct {
	Phase     Phase            `json:"phase"`
	TradeID   string           `json:"tradeId,omitempty"`
	Remaining int              `json:"remainingSeconds"`
	Receipt   *receipt.Receipt `json:"receipt,omitempty"`
}

// Session tracks one trade from placement (or resume) until its outcome
// is known. Run is meant to be called from a single goroutine; Snapshot is
// safe to call concurrently.
type Session struct {
	logger  *zap.Logger
	client  brokerapi.Client
	store   pointer.Store
	poller  *reconcile.Poller
	metrics *metrics.Metrics
	opts    Options
	now     func() time.Time

	mu        sync.RWMutex
	phase     Phase
	tradeID   string
	countdown *countdown.Countdown
	trade     *models.Trade
	receipt   *receipt.Receipt
}

// New creates an idle Session.
func New(client brokerapi.Client, store pointer.Store, opts Options, logger *zap.Logger, m *metrics.Metrics) *Session {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	logger = logger.Named("session")
	return &Session{
		logger:  logger,
		client:  client,
		store:   store,
		poller:  reconcile.NewPoller(client, opts.Reconcile, logger, m),
		metrics: m,
		opts:    opts,
		now:     time.Now,
		phase:   PhaseIdle,
	}
}

// Snapshot returns the current status.
func (s *Session) Snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{Phase: s.phase, TradeID: s.tradeID}
	if s.countdown != nil {
		st.Remaining = s.countdown.Remaining()
	}
	if s.receipt != nil {
		r := *s.receipt
		st.Receipt = &r
	}
	return st
}

// Trade returns the final snapshot once the session is resolved.
func (s *Session) Trade() *models.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trade
}

// Place validates the stake against the chosen trade option, creates the
// trade, persists the pointer and starts the countdown. On any error the
// session is left unchanged.
func (s *Session) Place(ctx context.Context, pair *models.TradingPair, optionID string, tradeType models.TradeType, amount, price decimal.Decimal) (*models.Trade, error) {
	if busy := s.Snapshot().Phase; busy == PhaseCountdown || busy == PhaseReconciling {
		return nil, ErrTradeInProgress
	}

	option, ok := pair.Option(optionID)
	if !ok {
		s.metrics.PlacementErrors.WithLabelValues("validation").Inc()
		return nil, &models.ValidationError{Field: "tradeOptionId", Reason: fmt.Sprintf("pair %s has no option %q", pair.ID, optionID)}
	}
	if option.DurationSeconds <= 0 {
		s.metrics.PlacementErrors.WithLabelValues("validation").Inc()
		return nil, &models.ValidationError{Field: "tradeOptionId", Reason: fmt.Sprintf("option %s has no positive duration", option.ID)}
	}
	if err := option.CheckAmount(amount); err != nil {
		s.metrics.PlacementErrors.WithLabelValues("validation").Inc()
		return nil, err
	}

	l := s.logger.With(
		zap.String("pair_id", pair.ID),
		zap.String("option_id", option.ID),
		zap.String("type", string(tradeType)),
		zap.String("amount", amount.String()),
	)

	trade, err := s.client.CreateTrade(ctx, models.CreateTradeRequest{
		TradingPairID:      pair.ID,
		TradeOptionID:      option.ID,
		TradeType:          tradeType,
		TradingAmountQuote: amount,
		ExecutionPrice:     price,
	})
	if err != nil {
		s.metrics.PlacementErrors.WithLabelValues(errorKind(err)).Inc()
		l.Error("Trade placement failed", zap.Error(err))
		return nil, err
	}

	createdAt := trade.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	// The server-assigned duration wins; the pointer and the live countdown
	// must agree so a resumed countdown lines up.
	duration := trade.TradeExpirationTimeSeconds
	if duration <= 0 {
		duration = option.DurationSeconds
	}
	p := pointer.Pointer{TradeID: trade.ID, CreatedAt: createdAt, TradeExpirationTimeSeconds: duration}
	if err := s.store.Save(ctx, p); err != nil {
		// The trade exists server-side; keep tracking it in memory.
		l.Error("Failed to persist trade pointer", zap.String("trade_id", trade.ID), zap.Error(err))
	}

	cd := countdown.New()
	if err := cd.Start(duration); err != nil {
		return nil, fmt.Errorf("trade %s: %w", trade.ID, err)
	}

	s.mu.Lock()
	s.phase = PhaseCountdown
	s.tradeID = trade.ID
	s.countdown = cd
	s.trade = nil
	s.receipt = nil
	s.mu.Unlock()

	s.metrics.TradesPlaced.WithLabelValues(string(tradeType)).Inc()
	s.metrics.ActiveCountdowns.Set(1)
	l.Info("Trade placed, countdown started",
		zap.String("trade_id", trade.ID),
		zap.Int("duration_seconds", duration),
	)
	return trade, nil
}

// Resume reads the stored pointer and puts the session back into the
// countdown or reconciliation phase it would be in had it kept running.
func (s *Session) Resume(ctx context.Context) (pointer.Resume, error) {
	p, err := s.store.Load(ctx)
	if errors.Is(err, pointer.ErrNoPointer) {
		s.metrics.Resumes.WithLabelValues("none").Inc()
		return pointer.Resume{Action: pointer.Discard}, nil
	}
	if err != nil {
		return pointer.Resume{}, err
	}

	plan := pointer.Plan(p, s.now())
	s.metrics.Resumes.WithLabelValues(plan.Action.String()).Inc()
	l := s.logger.With(zap.String("trade_id", p.TradeID), zap.String("action", plan.Action.String()))

	switch plan.Action {
	case pointer.Discard:
		l.Warn("Stored pointer has no trade id, discarding")
		if err := s.store.Clear(ctx); err != nil {
			return plan, err
		}

	case pointer.ResumeCountdown:
		cd := countdown.New()
		if err := cd.Start(plan.Remaining); err != nil {
			return plan, err
		}
		s.mu.Lock()
		s.phase = PhaseCountdown
		s.tradeID = p.TradeID
		s.countdown = cd
		s.mu.Unlock()
		s.metrics.ActiveCountdowns.Set(1)
		l.Info("Resumed countdown", zap.Int("remaining_seconds", plan.Remaining))

	case pointer.ResumePolling:
		s.mu.Lock()
		s.phase = PhaseReconciling
		s.tradeID = p.TradeID
		s.countdown = nil
		s.mu.Unlock()
		l.Info("Trade window already closed, going straight to reconciliation")
	}

	return plan, nil
}

// Run drives the tracked trade to a known outcome: it ticks the countdown
// once per tick interval, then polls for the outcome. When ctx is
// cancelled the timers stop and the session returns to idle; the stored
// pointer stays so a later Resume can pick the trade up again.
func (s *Session) Run(ctx context.Context) error {
	phase := s.Snapshot().Phase
	if phase != PhaseCountdown && phase != PhaseReconciling {
		return nil
	}

	if phase == PhaseCountdown {
		ticker := time.NewTicker(s.opts.TickInterval)
		defer ticker.Stop()

	countdownLoop:
		for {
			select {
			case <-ctx.Done():
				s.abandon("countdown")
				return ctx.Err()
			case <-ticker.C:
				if s.tick() {
					break countdownLoop
				}
			}
		}
	}

	tradeID := s.Snapshot().TradeID
	trade, err := s.poller.Run(ctx, tradeID)
	if err != nil {
		if errors.Is(err, reconcile.ErrOutcomeUnknown) {
			s.mu.Lock()
			s.phase = PhaseUnknown
			s.mu.Unlock()
			s.logger.Warn("Trade status unknown, run again later to check", zap.String("trade_id", tradeID))
			return err
		}
		s.abandon("reconciliation")
		return err
	}

	s.finish(ctx, trade)
	return nil
}

// tick advances the countdown and reports whether it just finished.
func (s *Session) tick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.countdown == nil || !s.countdown.Tick() {
		return false
	}
	s.phase = PhaseReconciling
	s.metrics.ActiveCountdowns.Set(0)
	s.logger.Info("Countdown finished", zap.String("trade_id", s.tradeID))
	return true
}

func (s *Session) abandon(stage string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.countdown != nil {
		s.countdown.Cancel()
	}
	s.logger.Info("Stopped tracking, pointer kept for resume",
		zap.String("trade_id", s.tradeID),
		zap.String("stage", stage),
	)
	s.phase = PhaseIdle
	s.tradeID = ""
	s.countdown = nil
	s.metrics.ActiveCountdowns.Set(0)
}

func (s *Session) finish(ctx context.Context, trade *models.Trade) {
	r := receipt.FromTrade(trade)

	s.mu.Lock()
	s.phase = PhaseResolved
	s.trade = trade
	s.receipt = &r
	s.countdown = nil
	s.mu.Unlock()

	if err := s.store.Clear(ctx); err != nil {
		s.logger.Error("Failed to clear trade pointer", zap.String("trade_id", trade.ID), zap.Error(err))
	}
	s.logger.Info("Trade reconciled",
		zap.String("trade_id", trade.ID),
		zap.String("status", string(trade.TradeStatus)),
		zap.String("outcome", string(trade.WinLoseStatus)),
	)
}

func errorKind(err error) string {
	var vErr *models.ValidationError
	switch {
	case errors.As(err, &vErr):
		return "validation"
	case brokerapi.IsRequestError(err):
		return "request"
	case brokerapi.IsServerError(err):
		return "server"
	default:
		return "other"
	}
}
