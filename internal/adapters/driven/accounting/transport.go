// Package accounting talks HTTP/JSON to the remote accounting service.
package accounting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Ensure HTTPTransport implements Transport
var _ driven.Transport = (*HTTPTransport)(nil)

const (
	// maxResponseBytes caps how much of a response body is read
	maxResponseBytes = 10 << 20

	headerCorrelationID = "X-Correlation-ID"
	headerTenantID      = "X-Tenant-ID"
)

// Config configures the accounting HTTP adapters.
type Config struct {
	// BaseURL is the API root, e.g. https://api.books.example/v2
	BaseURL string

	// TenantID selects the organisation when one login spans several
	TenantID string

	// TokenURL is the OAuth token endpoint used by OAuthClient
	TokenURL string

	Timeout    time.Duration // default: 30s
	UserAgent  string        // default: ledgersync
	HTTPClient *http.Client  // overrides Timeout when set
}

func (c Config) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func (c Config) userAgent() string {
	if c.UserAgent == "" {
		return "ledgersync"
	}
	return c.UserAgent
}

// HTTPTransport performs JSON requests against the accounting API.
// Status codes are returned untouched; classification belongs to the API client.
type HTTPTransport struct {
	baseURL    string
	tenantID   string
	userAgent  string
	httpClient *http.Client
}

// NewHTTPTransport creates a transport for cfg.BaseURL.
func NewHTTPTransport(cfg Config) (*HTTPTransport, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("accounting base URL is required")
	}
	return &HTTPTransport{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		tenantID:   cfg.TenantID,
		userAgent:  cfg.userAgent(),
		httpClient: cfg.client(),
	}, nil
}

// Do issues req with the bearer token and returns the raw response.
func (t *HTTPTransport) Do(ctx context.Context, req *driven.RemoteRequest, accessToken string) (*driven.RemoteResponse, error) {
	target := t.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s body: %w", req.Operation, err)
		}
		body = bytes.NewReader(data)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", t.userAgent)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.CorrelationID != "" {
		httpReq.Header.Set(headerCorrelationID, req.CorrelationID)
	}
	if t.tenantID != "" {
		httpReq.Header.Set(headerTenantID, t.tenantID)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &driven.RemoteResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}, nil
}

// parseRetryAfter reads delay-seconds or an HTTP date. Unparseable or past values give zero.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
