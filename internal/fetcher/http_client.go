package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/oddsradar/internal/config"
	"github.com/yourusername/oddsradar/internal/metrics"
	"github.com/yourusername/oddsradar/internal/models"
	"golang.org/x/time/rate"
)

// RateLimitedClient wraps retryablehttp.Client with a per-bookmaker rate
// limiter. Retries cover 429, 5xx and network errors; 4xx fails fast.
type RateLimitedClient struct {
	bookmaker models.Bookmaker
	client    *retryablehttp.Client
	limiter   *rate.Limiter
	apiKey    string
}

// NewRateLimitedClient creates the HTTP client for one bookmaker endpoint.
func NewRateLimitedClient(bookmaker models.Bookmaker, endpoint *config.BookmakerEndpoint, timeout time.Duration, retries int, logger *logrus.Logger) *RateLimitedClient {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Timeout = timeout
	retryClient.RetryMax = retries
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.CheckRetry = retryPolicy()
	retryClient.Logger = nil

	return &RateLimitedClient{
		bookmaker: bookmaker,
		client:    retryClient,
		limiter:   rate.NewLimiter(rate.Limit(endpoint.RateLimit), 1),
		apiKey:    endpoint.APIKey,
	}
}

// GetJSON executes a rate-limited GET and returns the response body. The
// caller owns decoding; a non-200 terminal status maps to a FetchError.
func (c *RateLimitedClient) GetJSON(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, NewFetchError(c.bookmaker, ErrCodeNetworkError, "rate limiter interrupted", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, NewFetchError(c.bookmaker, ErrCodeNetworkError, "failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.RecordFetchLatency(string(c.bookmaker), time.Since(start).Seconds())
	if err != nil {
		metrics.RecordFetchFailure(string(c.bookmaker))
		return nil, NewFetchError(c.bookmaker, ErrCodeNetworkError, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, NewFetchError(c.bookmaker, ErrCodeNotFound, url, ErrEventNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.RecordFetchFailure(string(c.bookmaker))
		return nil, NewFetchError(c.bookmaker, ErrCodeServerError,
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordFetchFailure(string(c.bookmaker))
		return nil, NewFetchError(c.bookmaker, ErrCodeNetworkError, "failed to read body", err)
	}
	return body, nil
}

// retryPolicy retries on network errors, 429 and 5xx. Other 4xx are
// terminal.
func retryPolicy() retryablehttp.CheckRetry {
	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return true, nil
		}
		return false, nil
	}
}
