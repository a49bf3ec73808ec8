package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/catalogsync/backend/internal/domain"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	defaultTokenHeader     = "X-Access-Token"
	defaultPageSize        = 250
	defaultBreakerFailures = 5
	maxReadAttempts        = 3
)

// ClientConfig configures the remote catalog client
type ClientConfig struct {
	BaseURL           string
	AccessToken       string
	TokenHeader       string
	RequestsPerSecond float64
	Burst             int
	PageSize          int
	Timeout           time.Duration
	BreakerFailures   uint32
}

// Client talks to the remote catalog's REST API. Reads page through the whole
// catalog with retries; writes are single attempts behind a circuit breaker.
type Client struct {
	httpClient  *http.Client
	config      ClientConfig
	rateLimiter *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	logger      logrus.FieldLogger
	backoff     func(attempt int) time.Duration
}

// NewClient creates a new remote catalog client
func NewClient(config ClientConfig, logger logrus.FieldLogger) *Client {
	if config.TokenHeader == "" {
		config.TokenHeader = defaultTokenHeader
	}
	if config.PageSize <= 0 {
		config.PageSize = defaultPageSize
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 2
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if config.BreakerFailures == 0 {
		config.BreakerFailures = defaultBreakerFailures
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("module", "catalog")

	failures := config.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "catalog-writes",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})

	return &Client{
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		config:      config,
		rateLimiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		breaker:     breaker,
		logger:      logger,
		backoff:     exponentialBackoff,
	}
}

// exponentialBackoff returns the wait before retry attempt n (1-based)
func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(500*(1<<(attempt-1))) * time.Millisecond
}

// doRequest executes one request with auth headers after waiting on the rate limiter
func (c *Client) doRequest(ctx context.Context, method, reqURL string, body any) (*http.Response, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "CatalogSync/1.0")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.AccessToken != "" {
		req.Header.Set(c.config.TokenHeader, c.config.AccessToken)
	}

	return c.httpClient.Do(req)
}

// FetchAll pages through the full remote catalog. A 429 stops paging and
// returns whatever was fetched so far, possibly nothing, with complete=false.
func (c *Client) FetchAll(ctx context.Context) ([]domain.RemoteRecord, bool, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(c.config.PageSize))
	next := fmt.Sprintf("%s/products.json?%s", c.config.BaseURL, params.Encode())

	var records []domain.RemoteRecord
	pages := 0
	for next != "" {
		page, link, err := c.fetchPage(ctx, next)
		if err != nil {
			if errors.Is(err, domain.ErrRateLimited) {
				c.logger.WithFields(logrus.Fields{
					"pages":   pages,
					"records": len(records),
				}).Warn("rate limited while paging catalog, continuing with partial snapshot")
				return records, false, nil
			}
			return nil, false, err
		}
		pages++
		records = append(records, MapToRemoteRecords(page)...)
		next = nextPageURL(link)
	}

	c.logger.WithFields(logrus.Fields{
		"pages":   pages,
		"records": len(records),
	}).Info("fetched catalog snapshot")
	return records, true, nil
}

// fetchPage fetches one page, retrying transport failures and 5xx responses
func (c *Client) fetchPage(ctx context.Context, pageURL string) ([]productJSON, string, error) {
	var lastErr error
	for attempt := 1; attempt <= maxReadAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(c.backoff(attempt - 1)):
			}
		}

		resp, err := c.doRequest(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			c.logger.WithError(err).WithField("attempt", attempt).Warn("catalog page request failed")
			lastErr = fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, "", fmt.Errorf("%w: retry after %q", domain.ErrRateLimited, resp.Header.Get("Retry-After"))
		case resp.StatusCode >= http.StatusInternalServerError:
			c.logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"status":  resp.StatusCode,
			}).Warn("catalog page request returned server error")
			lastErr = fmt.Errorf("%w: status %d", domain.ErrRemoteUnavailable, resp.StatusCode)
			continue
		case resp.StatusCode != http.StatusOK:
			return nil, "", fmt.Errorf("%w: status %d, body: %s", domain.ErrRemoteUnavailable, resp.StatusCode, string(body))
		}
		if readErr != nil {
			lastErr = fmt.Errorf("%w: read body: %v", domain.ErrRemoteUnavailable, readErr)
			continue
		}

		var list productListResponse
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, "", fmt.Errorf("failed to decode response: %w", err)
		}
		return list.Products, resp.Header.Get("Link"), nil
	}
	return nil, "", lastErr
}

// Create creates a product and returns the stored record
func (c *Client) Create(ctx context.Context, payload *domain.ProductPayload) (*domain.RemoteRecord, error) {
	return c.write(ctx, http.MethodPost, c.config.BaseURL+"/products.json", payload)
}

// Update replaces the tracked fields of an existing product
func (c *Client) Update(ctx context.Context, id string, payload *domain.ProductPayload) (*domain.RemoteRecord, error) {
	return c.write(ctx, http.MethodPut, c.productURL(id), payload)
}

// Delete removes a product
func (c *Client) Delete(ctx context.Context, id string) error {
	_, err := c.write(ctx, http.MethodDelete, c.productURL(id), nil)
	return err
}

func (c *Client) productURL(id string) string {
	return fmt.Sprintf("%s/products/%s.json", c.config.BaseURL, url.PathEscape(id))
}

// writeResult carries a rejected write out of the breaker without counting it
// as a remote failure.
type writeResult struct {
	record *domain.RemoteRecord
	err    error
}

// write performs a single attempt. Transport failures, 429 and 5xx count
// against the breaker; other 4xx are item-level rejections.
func (c *Client) write(ctx context.Context, method, reqURL string, payload *domain.ProductPayload) (*domain.RemoteRecord, error) {
	var body any
	if payload != nil {
		body = productRequest{Product: payload}
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.doRequest(ctx, method, reqURL, body)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrItemOperation, method, reqURL, err)
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, fmt.Errorf("%w: %w: %s %s", domain.ErrItemOperation, domain.ErrRateLimited, method, reqURL)
		case resp.StatusCode >= http.StatusInternalServerError:
			return nil, fmt.Errorf("%w: %s %s: status %d", domain.ErrItemOperation, method, reqURL, resp.StatusCode)
		case resp.StatusCode == http.StatusNotFound:
			return writeResult{err: fmt.Errorf("%w: %w: %s %s", domain.ErrItemOperation, domain.ErrNotFound, method, reqURL)}, nil
		case resp.StatusCode >= http.StatusBadRequest:
			return writeResult{err: fmt.Errorf("%w: %s %s: status %d, body: %s",
				domain.ErrItemOperation, method, reqURL, resp.StatusCode, strings.TrimSpace(string(raw)))}, nil
		}

		if method == http.MethodDelete || len(bytes.TrimSpace(raw)) == 0 {
			return writeResult{}, nil
		}
		var decoded productResponse
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return writeResult{err: fmt.Errorf("%w: decode response: %v", domain.ErrItemOperation, err)}, nil
		}
		record := MapToRemoteRecord(decoded.Product)
		return writeResult{record: &record}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: remote catalog circuit open: %v", domain.ErrItemOperation, err)
		}
		return nil, err
	}

	result := out.(writeResult)
	return result.record, result.err
}
