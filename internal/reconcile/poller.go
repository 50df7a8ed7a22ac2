// Package reconcile polls the API for the authoritative outcome of a trade
// whose local countdown has finished.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tradewatch/internal/brokerapi"
	"tradewatch/internal/metrics"
	"tradewatch/internal/models"
)

// ErrOutcomeUnknown is returned when polling hit its attempt or time bound
// before the server reported an outcome.
var ErrOutcomeUnknown = errors.New("reconcile: trade outcome still unknown")

// TradeFetcher is the part of the API client the poller needs.
type TradeFetcher interface {
	GetTradeByID(ctx context.Context, id string) (*models.Trade, error)
}

// Options controls poll cadence and bounds. At least one of MaxAttempts
// and MaxWait should be positive; zero means no bound for that dimension.
type Options struct {
	Interval       time.Duration
	FirstPollDelay time.Duration
	MaxAttempts    int
	MaxWait        time.Duration
}

// Poller fetches a trade on a fixed interval until it is decided.
type Poller struct {
	fetcher TradeFetcher
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewPoller creates a Poller.
func NewPoller(fetcher TradeFetcher, opts Options, logger *zap.Logger, m *metrics.Metrics) *Poller {
	return &Poller{
		fetcher: fetcher,
		opts:    opts,
		logger:  logger.Named("reconcile"),
		metrics: m,
	}
}

// Run polls tradeID until the snapshot is WIN/LOSE (or CANCELLED, which can
// never be decided) and returns it. Requests are strictly sequential: the
// next one is only scheduled after the previous one settled. Failed
// requests and inconsistent snapshots count as "not resolved yet".
func (p *Poller) Run(ctx context.Context, tradeID string) (*models.Trade, error) {
	if tradeID == "" {
		return nil, errors.New("reconcile: trade id is required")
	}

	l := p.logger.With(zap.String("trade_id", tradeID))

	var expired <-chan time.Time
	if p.opts.MaxWait > 0 {
		deadline := time.NewTimer(p.opts.MaxWait)
		defer deadline.Stop()
		expired = deadline.C
	}

	l.Info("Starting outcome reconciliation",
		zap.Duration("interval", p.opts.Interval),
		zap.Duration("first_poll_delay", p.opts.FirstPollDelay),
		zap.Int("max_attempts", p.opts.MaxAttempts),
		zap.Duration("max_wait", p.opts.MaxWait),
	)

	delay := p.opts.FirstPollDelay
	for attempt := 1; ; attempt++ {
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-expired:
				timer.Stop()
				return nil, p.giveUp(l, attempt-1)
			case <-timer.C:
			}
		}

		trade, done := p.poll(ctx, l, tradeID, attempt)
		if done {
			return trade, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if p.opts.MaxAttempts > 0 && attempt >= p.opts.MaxAttempts {
			return nil, p.giveUp(l, attempt)
		}

		delay = p.opts.Interval
	}
}

// poll issues one request and reports whether the trade reached a
// terminal snapshot.
func (p *Poller) poll(ctx context.Context, l *zap.Logger, tradeID string, attempt int) (*models.Trade, bool) {
	// One request per attempt; the interval is the only retry schedule.
	trade, err := p.fetcher.GetTradeByID(brokerapi.WithSingleAttempt(ctx), tradeID)
	if err != nil {
		p.metrics.PollAttempts.WithLabelValues(metrics.PollError).Inc()
		l.Warn("Poll failed, will retry", zap.Int("attempt", attempt), zap.Error(err))
		return nil, false
	}

	if err := trade.Validate(); err != nil {
		p.metrics.PollAttempts.WithLabelValues(metrics.PollMalformed).Inc()
		l.Warn("Inconsistent trade snapshot, will retry", zap.Int("attempt", attempt), zap.Error(err))
		return nil, false
	}

	switch {
	case trade.IsDecided():
		p.metrics.PollAttempts.WithLabelValues(metrics.PollDecided).Inc()
		outcome := metrics.OutcomeLose
		if trade.WinLoseStatus == models.WinLoseWin {
			outcome = metrics.OutcomeWin
		}
		p.metrics.Reconciliations.WithLabelValues(outcome).Inc()
		l.Info("Trade resolved", zap.Int("attempt", attempt), zap.String("outcome", string(trade.WinLoseStatus)))
		return trade, true

	case trade.TradeStatus == models.TradeStatusCancelled:
		p.metrics.PollAttempts.WithLabelValues(metrics.PollDecided).Inc()
		p.metrics.Reconciliations.WithLabelValues(metrics.OutcomeCancelled).Inc()
		l.Info("Trade cancelled", zap.Int("attempt", attempt))
		return trade, true
	}

	p.metrics.PollAttempts.WithLabelValues(metrics.PollPending).Inc()
	l.Debug("Trade still pending", zap.Int("attempt", attempt), zap.String("status", string(trade.TradeStatus)))
	return nil, false
}

func (p *Poller) giveUp(l *zap.Logger, attempts int) error {
	p.metrics.Reconciliations.WithLabelValues(metrics.OutcomeUnknown).Inc()
	l.Warn("Giving up on reconciliation, status unknown", zap.Int("attempts", attempts))
	return fmt.Errorf("%w after %d attempts", ErrOutcomeUnknown, attempts)
}
