// Package shipstation implements adapter.OrderClient over the ShipStation REST API.
package shipstation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"order-splitter/internal/adapter"
	"order-splitter/internal/model"
)

// =============================================================================
// SHIPSTATION API CLIENT
// =============================================================================
//
// Every call authenticates with HTTP Basic built from the store's
// api_key:api_secret. Three calls drive the pipeline:
//
//   GET    {resource_url}               batch detail from an ORDER_NOTIFY webhook
//   POST   {base}/orders/createorder    create, or update when orderId exists
//   DELETE {base}/orders/{orderId}
//
// GET {base}/stores/{storeId} backs the connection test.
//
// ShipStation allows 40 requests per minute per API key. Calls wait on a
// per-key token bucket instead of running into 429s.
// There are no retries: the pipeline records whatever came back.
// =============================================================================

const (
	pathCreateOrder = "/orders/createorder"
	pathOrders      = "/orders/"
	pathStores      = "/stores/"

	userAgent = "Order-Splitter/1.0"

	// service names the upstream in APIError messages.
	service = "ShipStation"
)

// Config holds client settings shared by all stores.
type Config struct {
	// BaseURL is the API root; a store's APIBaseURL overrides it.
	BaseURL string

	// Transport defaults to http.DefaultTransport.
	Transport http.RoundTripper
	Timeout   time.Duration

	// RatePerMinute caps calls per API key. Zero disables limiting.
	RatePerMinute int
}

// Client talks to ShipStation on behalf of any configured store.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	ratePerMinute int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a ShipStation client with the given configuration.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: cfg.Transport,
		},
		baseURL:       strings.TrimSuffix(cfg.BaseURL, "/"),
		ratePerMinute: cfg.RatePerMinute,
		limiters:      make(map[string]*rate.Limiter),
	}, nil
}

// FetchBatch GETs the batch named by an ORDER_NOTIFY resource URL.
// The URL must point at ShipStation or at the store's configured API host,
// since the store's credentials are sent with it.
func (c *Client) FetchBatch(ctx context.Context, resourceURL string, store model.StoreConfig) (string, error) {
	if err := c.checkResourceHost(resourceURL, store); err != nil {
		return "", err
	}
	return c.do(ctx, http.MethodGet, resourceURL, nil, store, "batch")
}

// UpsertOrder POSTs the full order. ShipStation updates in place when orderId
// matches an existing order.
func (c *Client) UpsertOrder(ctx context.Context, order model.Order, store model.StoreConfig) (string, error) {
	body, err := json.Marshal(order)
	if err != nil {
		return "", fmt.Errorf("marshaling order %s: %w", order.OrderID, err)
	}
	return c.do(ctx, http.MethodPost, c.base(store)+pathCreateOrder, body, store, "order")
}

// DeleteOrder removes an order by ShipStation order ID.
func (c *Client) DeleteOrder(ctx context.Context, orderID string, store model.StoreConfig) (string, error) {
	if orderID == "" {
		return "", model.NewValidationError("order_id", "required")
	}
	return c.do(ctx, http.MethodDelete, c.base(store)+pathOrders+url.PathEscape(orderID), nil, store, "order")
}

// TestConnection reads the store's own record, which succeeds only when the
// credentials are valid and the store belongs to the account.
func (c *Client) TestConnection(ctx context.Context, store model.StoreConfig) (string, error) {
	if store.StoreID == "" {
		return "", model.NewValidationError("store_id", "required")
	}
	return c.do(ctx, http.MethodGet, c.base(store)+pathStores+url.PathEscape(store.StoreID), nil, store, "store")
}

// do performs one authenticated call and returns the body as-is.
// Non-2xx responses return the body together with an APIError.
func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, store model.StoreConfig, resource string) (string, error) {
	if err := c.limiter(store.APIKey).Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for %s rate limit: %w", service, err)
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req, store)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", model.NewUpstreamError(service, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", model.NewUpstreamError(service, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return string(respBody), parseErrorResponse(resp.StatusCode, respBody, resource)
	}

	return string(respBody), nil
}

// setHeaders sets auth and content headers for ShipStation requests.
func (c *Client) setHeaders(req *http.Request, store model.StoreConfig) {
	req.SetBasicAuth(store.APIKey, store.APISecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
}

// base returns the API root for a store.
func (c *Client) base(store model.StoreConfig) string {
	if store.APIBaseURL != "" {
		return strings.TrimSuffix(store.APIBaseURL, "/")
	}
	return c.baseURL
}

// limiter returns the token bucket for an API key, creating it on first use.
func (c *Client) limiter(apiKey string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[apiKey]
	if !ok {
		if c.ratePerMinute <= 0 {
			l = rate.NewLimiter(rate.Inf, 0)
		} else {
			l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(c.ratePerMinute)), c.ratePerMinute)
		}
		c.limiters[apiKey] = l
	}
	return l
}

// checkResourceHost rejects resource URLs that would leak credentials to a
// host other than ShipStation or the configured API root.
func (c *Client) checkResourceHost(resourceURL string, store model.StoreConfig) error {
	u, err := url.Parse(resourceURL)
	if err != nil || u.Host == "" {
		return model.NewValidationError("resource_url", "must be an absolute URL")
	}

	host := u.Hostname()
	if host == "shipstation.com" || strings.HasSuffix(host, ".shipstation.com") {
		return nil
	}
	if b, err := url.Parse(c.base(store)); err == nil && strings.EqualFold(b.Host, u.Host) {
		return nil
	}
	return model.NewValidationError("resource_url", fmt.Sprintf("untrusted host %s", u.Host))
}

// errorResponse is ShipStation's error envelope (ASP.NET style).
type errorResponse struct {
	Message          string `json:"Message"`
	ExceptionMessage string `json:"ExceptionMessage"`
}

// parseErrorResponse converts a ShipStation error to APIError.
func parseErrorResponse(statusCode int, body []byte, resource string) error {
	var ssErr errorResponse
	json.Unmarshal(body, &ssErr) // Best effort parse

	msg := ssErr.Message
	if ssErr.ExceptionMessage != "" {
		msg = strings.TrimSpace(msg + " " + ssErr.ExceptionMessage)
	}

	switch statusCode {
	case http.StatusNotFound:
		return model.NewNotFoundError(resource)
	case http.StatusUnauthorized, http.StatusForbidden:
		return model.NewUnauthorizedError(service + " authentication failed")
	case http.StatusBadRequest:
		if msg == "" {
			msg = "invalid request"
		}
		return model.NewValidationError(resource, msg)
	case http.StatusTooManyRequests:
		return model.NewRateLimitError(service)
	default:
		return model.NewUpstreamError(service, fmt.Errorf("status %d: %s", statusCode, msg))
	}
}

// Verify Client implements OrderClient interface at compile time.
var _ adapter.OrderClient = (*Client)(nil)
