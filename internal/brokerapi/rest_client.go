package brokerapi

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tradewatch/internal/config"
	"tradewatch/internal/models"
)

const (
	maxRetries        = 3
	defaultBackoff    = time.Second
	pairsPageLimit    = 100
	maxPairsPages     = 1000
	requestIDHeader   = "X-Request-ID"
	defaultRateLimit  = 5
	defaultRateBurst  = 2
	defaultAPITimeout = 15 * time.Second
)

// Client defines the brokerage trade API used by the tracker.
type Client interface {
	CreateTrade(ctx context.Context, req models.CreateTradeRequest) (*models.Trade, error)
	GetTradeByID(ctx context.Context, id string) (*models.Trade, error)
	GetUserTrades(ctx context.Context, userID string) ([]models.Trade, error)
	UpdateTrade(ctx context.Context, id string, req models.UpdateTradeRequest) (*models.Trade, error)
	GetTradingPairs(ctx context.Context) ([]models.TradingPair, error)
}

// RestClient is a client for the brokerage REST API.
// It implements the Client interface.
type RestClient struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
	backoff time.Duration
}

// ensure RestClient implements the interface
var _ Client = (*RestClient)(nil)

// envelope is the {"data": ...} wrapper every response uses.
type envelope[T any] struct {
	Data T `json:"data"`
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

type singleAttemptKey struct{}

// WithSingleAttempt returns a context under which requests are sent once,
// without the client's own retries. Callers that run their own retry
// schedule, like the outcome poller, use it.
func WithSingleAttempt(ctx context.Context) context.Context {
	return context.WithValue(ctx, singleAttemptKey{}, true)
}

func singleAttempt(ctx context.Context) bool {
	v, _ := ctx.Value(singleAttemptKey{}).(bool)
	return v
}

// NewRestClient creates a client for the versioned API base URL in cfg.
func NewRestClient(cfg *config.API, logger *zap.Logger) *RestClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	limit, burst := cfg.RateLimit, cfg.RateLimitBurst
	if limit <= 0 {
		limit = defaultRateLimit
	}
	if burst <= 0 {
		burst = defaultRateBurst
	}

	return &RestClient{
		client:  client,
		logger:  logger.Named("brokerapi"),
		limiter: rate.NewLimiter(rate.Limit(limit), burst),
		backoff: defaultBackoff,
	}
}

// doRequest executes req with rate limiting. GET requests are retried on
// network errors, 429 and 5xx. Other methods are only retried on 429,
// since a POST that reached the server may already have moved funds.
func (c *RestClient) doRequest(ctx context.Context, method, path string, req *resty.Request) (*resty.Response, error) {
	var lastErr error
	idempotent := method == http.MethodGet
	attempts := maxRetries
	if singleAttempt(ctx) {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		requestID := uuid.NewString()
		req.SetContext(ctx).SetHeader(requestIDHeader, requestID)

		c.logger.Debug("Executing request",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("request_id", requestID),
		)
		resp, err := req.Execute(method, path)

		if err == nil && !resp.IsError() {
			return resp, nil
		}

		shouldRetry := false
		var retryAfter time.Duration

		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			shouldRetry = idempotent
		} else {
			statusCode := resp.StatusCode()
			lastErr = newStatusError(statusCode, errorMessage(resp))
			switch {
			case statusCode == http.StatusTooManyRequests:
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			case statusCode >= 500:
				shouldRetry = idempotent
			}
		}

		if !shouldRetry || i == attempts-1 {
			return nil, lastErr
		}

		if retryAfter == 0 {
			// Exponential backoff: 1x, 2x, 4x the base delay
			retryAfter = time.Duration(math.Pow(2, float64(i))) * c.backoff
		}

		c.logger.Warn("Request failed, retrying...",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(lastErr),
		)

		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// newRequest returns a request whose 2xx body is decoded as JSON whatever
// Content-Type the server sends.
func (c *RestClient) newRequest() *resty.Request {
	return c.client.R().ForceContentType("application/json")
}

// tradeResult extracts the trade from a decoded envelope. A body without a
// trade id is an error, never a zero-valued trade.
func tradeResult(resp *resty.Response) (*models.Trade, error) {
	trade := &resp.Result().(*envelope[models.Trade]).Data
	if trade.ID == "" {
		return nil, fmt.Errorf("response carries no trade (status %d)", resp.StatusCode())
	}
	return trade, nil
}

func errorMessage(resp *resty.Response) string {
	var body errorBody
	if err := json.Unmarshal(resp.Body(), &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	if s := resp.String(); s != "" {
		return s
	}
	return resp.Status()
}

// CreateTrade submits a new trade. The request is validated locally first
// and a *models.ValidationError is returned without calling the API.
func (c *RestClient) CreateTrade(ctx context.Context, in models.CreateTradeRequest) (*models.Trade, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	req := c.newRequest().
		SetHeader("Content-Type", "application/json").
		SetBody(in).
		SetResult(&envelope[models.Trade]{})

	resp, err := c.doRequest(ctx, http.MethodPost, "/trades", req)
	if err != nil {
		c.logger.Error("Failed to create trade",
			zap.Error(err),
			zap.String("trading_pair_id", in.TradingPairID),
			zap.String("trade_option_id", in.TradeOptionID),
		)
		return nil, fmt.Errorf("failed to create trade: %w", err)
	}

	trade, err := tradeResult(resp)
	if err != nil {
		c.logger.Error("Unusable create trade response", zap.Error(err))
		return nil, fmt.Errorf("failed to create trade: %w", err)
	}
	c.logger.Info("Successfully created trade",
		zap.String("trade_id", trade.ID),
		zap.String("pair", trade.TradingPair),
		zap.Int("expiration_seconds", trade.TradeExpirationTimeSeconds),
	)
	return trade, nil
}

// GetTradeByID fetches the current server state of a trade.
func (c *RestClient) GetTradeByID(ctx context.Context, id string) (*models.Trade, error) {
	if id == "" {
		return nil, &models.ValidationError{Field: "id", Reason: "required"}
	}

	req := c.newRequest().SetResult(&envelope[models.Trade]{})

	resp, err := c.doRequest(ctx, http.MethodGet, "/trades/"+url.PathEscape(id), req)
	if err != nil {
		return nil, fmt.Errorf("failed to get trade %s: %w", id, err)
	}

	trade, err := tradeResult(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to get trade %s: %w", id, err)
	}
	return trade, nil
}

// GetUserTrades lists every trade of a user.
func (c *RestClient) GetUserTrades(ctx context.Context, userID string) ([]models.Trade, error) {
	if userID == "" {
		return nil, &models.ValidationError{Field: "userId", Reason: "required"}
	}

	req := c.newRequest().SetResult(&envelope[[]models.Trade]{})

	resp, err := c.doRequest(ctx, http.MethodGet, "/trades/user/"+url.PathEscape(userID), req)
	if err != nil {
		return nil, fmt.Errorf("failed to get trades of user %s: %w", userID, err)
	}

	return resp.Result().(*envelope[[]models.Trade]).Data, nil
}

// UpdateTrade is the admin call that resolves or cancels a trade.
func (c *RestClient) UpdateTrade(ctx context.Context, id string, in models.UpdateTradeRequest) (*models.Trade, error) {
	if id == "" {
		return nil, &models.ValidationError{Field: "id", Reason: "required"}
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	req := c.newRequest().
		SetHeader("Content-Type", "application/json").
		SetBody(in).
		SetResult(&envelope[models.Trade]{})

	resp, err := c.doRequest(ctx, http.MethodPatch, "/trades/"+url.PathEscape(id), req)
	if err != nil {
		c.logger.Error("Failed to update trade", zap.String("trade_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to update trade %s: %w", id, err)
	}

	trade, err := tradeResult(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to update trade %s: %w", id, err)
	}
	c.logger.Info("Updated trade",
		zap.String("trade_id", trade.ID),
		zap.String("status", string(trade.TradeStatus)),
		zap.String("outcome", string(trade.WinLoseStatus)),
	)
	return trade, nil
}

// Pagination is the page metadata of list endpoints.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type pairsPage struct {
	Data       []models.TradingPair `json:"data"`
	Pagination Pagination           `json:"pagination"`
}

// GetTradingPairs fetches every trading pair with its trade options,
// following pagination until the last page.
func (c *RestClient) GetTradingPairs(ctx context.Context) ([]models.TradingPair, error) {
	var pairs []models.TradingPair

	for page := 1; page <= maxPairsPages; page++ {
		req := c.newRequest().
			SetQueryParam("page", strconv.Itoa(page)).
			SetQueryParam("limit", strconv.Itoa(pairsPageLimit)).
			SetResult(&pairsPage{})

		resp, err := c.doRequest(ctx, http.MethodGet, "/trading-pair-settings", req)
		if err != nil {
			return nil, fmt.Errorf("failed to get trading pairs page %d: %w", page, err)
		}

		result := resp.Result().(*pairsPage)
		pairs = append(pairs, result.Data...)

		if len(result.Data) == 0 || page >= result.Pagination.TotalPages {
			break
		}
	}

	return pairs, nil
}
