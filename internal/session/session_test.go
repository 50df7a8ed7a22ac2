package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tradewatch/internal/brokerapi"
	"tradewatch/internal/database"
	"tradewatch/internal/metrics"
	"tradewatch/internal/models"
	"tradewatch/internal/pointer"
	"tradewatch/internal/reconcile"
)

// MockClient is a mock implementation of brokerapi.Client.
type MockClient struct {
	mock.Mock
}

var _ brokerapi.Client = (*MockClient)(nil)

func (m *MockClient) CreateTrade(ctx context.Context, req models.CreateTradeRequest) (*models.Trade, error) {
	args := m.Called(ctx, req)
	trade, _ := args.Get(0).(*models.Trade)
	return trade, args.Error(1)
}

func (m *MockClient) GetTradeByID(ctx context.Context, id string) (*models.Trade, error) {
	args := m.Called(ctx, id)
	trade, _ := args.Get(0).(*models.Trade)
	return trade, args.Error(1)
}

func (m *MockClient) GetUserTrades(ctx context.Context, userID string) ([]models.Trade, error) {
	args := m.Called(ctx, userID)
	trades, _ := args.Get(0).([]models.Trade)
	return trades, args.Error(1)
}

func (m *MockClient) UpdateTrade(ctx context.Context, id string, req models.UpdateTradeRequest) (*models.Trade, error) {
	args := m.Called(ctx, id, req)
	trade, _ := args.Get(0).(*models.Trade)
	return trade, args.Error(1)
}

func (m *MockClient) GetTradingPairs(ctx context.Context) ([]models.TradingPair, error) {
	args := m.Called(ctx)
	pairs, _ := args.Get(0).([]models.TradingPair)
	return pairs, args.Error(1)
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testPair() *models.TradingPair {
	return &models.TradingPair{
		ID:            "p1",
		Symbol:        "BTCUSDT",
		BaseCurrency:  "BTC",
		QuoteCurrency: "USDT",
		TradeOptions: []models.TradeOption{{
			ID:               "o1",
			DurationSeconds:  3,
			ProfitPercentage: decimal.NewFromInt(85),
			MinAmountQuote:   decimal.NewFromInt(10),
			MaxAmountQuote:   decimal.NewFromInt(1000),
		}},
	}
}

func createdTrade(id string) *models.Trade {
	return &models.Trade{
		ID:                         id,
		TradingPair:                "BTC/USDT",
		BaseCurrency:               "BTC",
		QuoteCurrency:              "USDT",
		TradeType:                  models.TradeTypeBuy,
		TradingAmountQuote:         decimal.NewFromInt(100),
		ExecutionPrice:             decimal.NewFromInt(64000),
		TradeExpirationTimeSeconds: 3,
		TradeStatus:                models.TradeStatusPending,
		WinLoseStatus:              models.WinLoseNA,
		CreatedAt:                  testNow,
	}
}

func resolvedTrade(id string, outcome models.WinLoseStatus) *models.Trade {
	t := createdTrade(id)
	t.TradeStatus = models.TradeStatusResolved
	t.WinLoseStatus = outcome
	return t
}

// setupTest creates a session backed by a mock client and a fresh sqlite pointer store.
func setupTest(t *testing.T) (*Session, *MockClient, *pointer.GormStore, *metrics.Metrics) {
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)

	store := pointer.NewGormStore(db, "", zap.NewNop())
	client := new(MockClient)
	m := metrics.NewNop()

	s := newSession(client, store, m)
	return s, client, store, m
}

func newSession(client *MockClient, store pointer.Store, m *metrics.Metrics) *Session {
	s := New(client, store, Options{
		TickInterval: time.Millisecond,
		Reconcile:    reconcile.Options{Interval: time.Millisecond, MaxAttempts: 20},
	}, zap.NewNop(), m)
	s.now = func() time.Time { return testNow }
	return s
}

func TestPlace_WritesPointerAndStartsCountdown(t *testing.T) {
	// Arrange
	s, client, store, m := setupTest(t)
	client.On("CreateTrade", mock.Anything, mock.MatchedBy(func(req models.CreateTradeRequest) bool {
		return req.TradingPairID == "p1" && req.TradeOptionID == "o1" && req.TradingAmountQuote.Equal(decimal.NewFromInt(100))
	})).Return(createdTrade("t1"), nil).Once()

	// Act
	trade, err := s.Place(context.Background(), testPair(), "o1", models.TradeTypeBuy, decimal.NewFromInt(100), decimal.NewFromInt(64000))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "t1", trade.ID)

	st := s.Snapshot()
	assert.Equal(t, PhaseCountdown, st.Phase)
	assert.Equal(t, "t1", st.TradeID)
	assert.Equal(t, 3, st.Remaining)

	p, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "t1", p.TradeID)
	assert.True(t, testNow.Equal(p.CreatedAt))
	assert.Equal(t, 3, p.TradeExpirationTimeSeconds)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesPlaced.WithLabelValues("BUY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveCountdowns))
	client.AssertExpectations(t)
}

func TestPlace_AmountOutsideRange(t *testing.T) {
	for _, amount := range []string{"9.99", "1000.01"} {
		t.Run(amount, func(t *testing.T) {
			s, client, store, m := setupTest(t)

			_, err := s.Place(context.Background(), testPair(), "o1", models.TradeTypeSell,
				decimal.RequireFromString(amount), decimal.NewFromInt(64000))

			var vErr *models.ValidationError
			assert.True(t, errors.As(err, &vErr))
			client.AssertNotCalled(t, "CreateTrade", mock.Anything, mock.Anything)

			_, err = store.Load(context.Background())
			assert.ErrorIs(t, err, pointer.ErrNoPointer)
			assert.Equal(t, PhaseIdle, s.Snapshot().Phase)
			assert.Equal(t, 1.0, testutil.ToFloat64(m.PlacementErrors.WithLabelValues("validation")))
		})
	}
}

func TestPlace_UnknownOption(t *testing.T) {
	s, client, _, _ := setupTest(t)

	_, err := s.Place(context.Background(), testPair(), "nope", models.TradeTypeBuy, decimal.NewFromInt(100), decimal.NewFromInt(1))

	var vErr *models.ValidationError
	assert.True(t, errors.As(err, &vErr))
	client.AssertNotCalled(t, "CreateTrade", mock.Anything, mock.Anything)
}

func TestPlace_ServerDurationSizesCountdownAndPointer(t *testing.T) {
	s, client, store, _ := setupTest(t)
	created := createdTrade("t1")
	created.TradeExpirationTimeSeconds = 5
	client.On("CreateTrade", mock.Anything, mock.Anything).Return(created, nil).Once()

	_, err := s.Place(context.Background(), testPair(), "o1", models.TradeTypeBuy, decimal.NewFromInt(100), decimal.NewFromInt(64000))
	require.NoError(t, err)

	assert.Equal(t, 5, s.Snapshot().Remaining)
	p, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, p.TradeExpirationTimeSeconds)
}

func TestPlace_OptionWithoutDuration(t *testing.T) {
	s, client, store, _ := setupTest(t)
	pair := testPair()
	pair.TradeOptions[0].DurationSeconds = 0

	_, err := s.Place(context.Background(), pair, "o1", models.TradeTypeBuy, decimal.NewFromInt(100), decimal.NewFromInt(64000))

	var vErr *models.ValidationError
	assert.True(t, errors.As(err, &vErr))
	client.AssertNotCalled(t, "CreateTrade", mock.Anything, mock.Anything)
	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, pointer.ErrNoPointer)
	assert.Equal(t, PhaseIdle, s.Snapshot().Phase)
}

func TestPlace_RequestErrorLeavesStateUntouched(t *testing.T) {
	s, client, store, m := setupTest(t)
	client.On("CreateTrade", mock.Anything, mock.Anything).
		Return(nil, &brokerapi.RequestError{StatusCode: 400, Message: "Insufficient balance"}).Once()

	_, err := s.Place(context.Background(), testPair(), "o1", models.TradeTypeBuy, decimal.NewFromInt(100), decimal.NewFromInt(64000))

	assert.True(t, brokerapi.IsRequestError(err))
	assert.Equal(t, PhaseIdle, s.Snapshot().Phase)
	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, pointer.ErrNoPointer)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PlacementErrors.WithLabelValues("request")))
}

func TestPlace_RefusesWhileTracking(t *testing.T) {
	s, client, _, _ := setupTest(t)
	client.On("CreateTrade", mock.Anything, mock.Anything).Return(createdTrade("t1"), nil).Once()

	_, err := s.Place(context.Background(), testPair(), "o1", models.TradeTypeBuy, decimal.NewFromInt(100), decimal.NewFromInt(64000))
	require.NoError(t, err)

	_, err = s.Place(context.Background(), testPair(), "o1", models.TradeTypeBuy, decimal.NewFromInt(100), decimal.NewFromInt(64000))
	assert.ErrorIs(t, err, ErrTradeInProgress)
	client.AssertNumberOfCalls(t, "CreateTrade", 1)
}

func TestRun_ResolvesAndClearsPointer(t *testing.T) {
	// Arrange
	s, client, store, m := setupTest(t)
	client.On("CreateTrade", mock.Anything, mock.Anything).Return(createdTrade("t1"), nil).Once()
	client.On("GetTradeByID", mock.Anything, "t1").Return(createdTrade("t1"), nil).Twice()
	client.On("GetTradeByID", mock.Anything, "t1").Return(resolvedTrade("t1", models.WinLoseWin), nil).Once()

	_, err := s.Place(context.Background(), testPair(), "o1", models.TradeTypeBuy, decimal.NewFromInt(100), decimal.NewFromInt(64000))
	require.NoError(t, err)

	// Act
	err = s.Run(context.Background())

	// Assert
	require.NoError(t, err)
	st := s.Snapshot()
	assert.Equal(t, PhaseResolved, st.Phase)
	require.NotNil(t, st.Receipt)
	assert.Equal(t, "WIN", st.Receipt.Outcome)
	assert.Equal(t, models.WinLoseWin, s.Trade().WinLoseStatus)
	client.AssertNumberOfCalls(t, "GetTradeByID", 3)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveCountdowns))

	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, pointer.ErrNoPointer)

	// A fresh session finds nothing to resume.
	next := newSession(new(MockClient), store, metrics.NewNop())
	plan, err := next.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pointer.Discard, plan.Action)
	assert.Equal(t, PhaseIdle, next.Snapshot().Phase)
	assert.NoError(t, next.Run(context.Background()))
}

func TestRun_NoPollingBeforeCountdownEnds(t *testing.T) {
	s, client, _, _ := setupTest(t)
	s.opts.TickInterval = 20 * time.Millisecond
	client.On("CreateTrade", mock.Anything, mock.Anything).Return(createdTrade("t1"), nil).Once()
	client.On("GetTradeByID", mock.Anything, "t1").Return(resolvedTrade("t1", models.WinLoseLose), nil).Once()

	_, err := s.Place(context.Background(), testPair(), "o1", models.TradeTypeBuy, decimal.NewFromInt(100), decimal.NewFromInt(64000))
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, s.Run(context.Background()))

	// Three ticks must elapse before the single poll.
	assert.GreaterOrEqual(t, time.Since(start), 3*20*time.Millisecond)
	client.AssertNumberOfCalls(t, "GetTradeByID", 1)
	assert.Equal(t, "LOSE", s.Snapshot().Receipt.Outcome)
}

func TestRun_CancelKeepsPointer(t *testing.T) {
	s, client, store, _ := setupTest(t)
	s.opts.TickInterval = time.Hour
	client.On("CreateTrade", mock.Anything, mock.Anything).Return(createdTrade("t1"), nil).Once()

	_, err := s.Place(context.Background(), testPair(), "o1", models.TradeTypeBuy, decimal.NewFromInt(100), decimal.NewFromInt(64000))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, PhaseIdle, s.Snapshot().Phase)
	client.AssertNotCalled(t, "GetTradeByID", mock.Anything, mock.Anything)

	p, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "t1", p.TradeID)
}

func TestRun_UnknownOutcomeKeepsPointer(t *testing.T) {
	s, client, store, m := setupTest(t)
	s.opts.Reconcile.MaxAttempts = 3
	s.poller = reconcile.NewPoller(client, s.opts.Reconcile, zap.NewNop(), m)
	require.NoError(t, store.Save(context.Background(), pointer.Pointer{TradeID: "t1", CreatedAt: testNow.Add(-2 * time.Minute), TradeExpirationTimeSeconds: 60}))
	client.On("GetTradeByID", mock.Anything, "t1").Return(createdTrade("t1"), nil)

	_, err := s.Resume(context.Background())
	require.NoError(t, err)
	err = s.Run(context.Background())

	assert.ErrorIs(t, err, reconcile.ErrOutcomeUnknown)
	assert.Equal(t, PhaseUnknown, s.Snapshot().Phase)
	client.AssertNumberOfCalls(t, "GetTradeByID", 3)

	_, err = store.Load(context.Background())
	assert.NoError(t, err)
}

func TestResume_ExpiredPointerSkipsCountdown(t *testing.T) {
	s, client, store, m := setupTest(t)
	require.NoError(t, store.Save(context.Background(), pointer.Pointer{
		TradeID: "t1", CreatedAt: testNow.Add(-90 * time.Second), TradeExpirationTimeSeconds: 60,
	}))
	client.On("GetTradeByID", mock.Anything, "t1").Return(resolvedTrade("t1", models.WinLoseWin), nil).Once()

	plan, err := s.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pointer.ResumePolling, plan.Action)
	assert.Equal(t, PhaseReconciling, s.Snapshot().Phase)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveCountdowns))

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, PhaseResolved, s.Snapshot().Phase)
	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, pointer.ErrNoPointer)
}

func TestResume_OpenWindowResumesCountdown(t *testing.T) {
	s, _, store, m := setupTest(t)
	require.NoError(t, store.Save(context.Background(), pointer.Pointer{
		TradeID: "t2", CreatedAt: testNow.Add(-10 * time.Second), TradeExpirationTimeSeconds: 60,
	}))

	plan, err := s.Resume(context.Background())

	require.NoError(t, err)
	assert.Equal(t, pointer.ResumeCountdown, plan.Action)
	assert.Equal(t, 50, plan.Remaining)
	st := s.Snapshot()
	assert.Equal(t, PhaseCountdown, st.Phase)
	assert.Equal(t, "t2", st.TradeID)
	assert.Equal(t, 50, st.Remaining)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Resumes.WithLabelValues("countdown")))
}

func TestResume_DiscardsPointerWithoutTradeID(t *testing.T) {
	s, _, store, _ := setupTest(t)
	require.NoError(t, store.Save(context.Background(), pointer.Pointer{CreatedAt: testNow, TradeExpirationTimeSeconds: 60}))

	plan, err := s.Resume(context.Background())

	require.NoError(t, err)
	assert.Equal(t, pointer.Discard, plan.Action)
	assert.Equal(t, PhaseIdle, s.Snapshot().Phase)
	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, pointer.ErrNoPointer)
}

func TestRun_CancelledTradeProducesReceipt(t *testing.T) {
	s, client, store, _ := setupTest(t)
	require.NoError(t, store.Save(context.Background(), pointer.Pointer{
		TradeID: "t3", CreatedAt: testNow.Add(-5 * time.Minute), TradeExpirationTimeSeconds: 60,
	}))
	cancelled := createdTrade("t3")
	cancelled.TradeStatus = models.TradeStatusCancelled
	client.On("GetTradeByID", mock.Anything, "t3").Return(cancelled, nil).Once()

	_, err := s.Resume(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	st := s.Snapshot()
	assert.Equal(t, PhaseResolved, st.Phase)
	assert.Equal(t, "CANCELLED", st.Receipt.Outcome)
}
