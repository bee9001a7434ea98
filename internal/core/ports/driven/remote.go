package driven

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// RemoteRequest is one call against the accounting API
type RemoteRequest struct {
	// Operation names the call for logs and error messages, e.g. "create_invoice"
	Operation     string
	Method        string
	Path          string
	Query         url.Values
	Body          any
	CorrelationID string
}

// RemoteResponse is the raw outcome of a remote call
type RemoteResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	RetryAfter time.Duration
}

// Transport performs HTTP/JSON calls against the accounting API
type Transport interface {
	// Do issues the request with the bearer token. Transport-level failures return an error;
	// any HTTP status is returned as a response.
	Do(ctx context.Context, req *RemoteRequest, accessToken string) (*RemoteResponse, error)
}

// OAuthEndpoint exchanges a refresh token for a new access token
type OAuthEndpoint interface {
	Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (*domain.OAuthToken, error)
}

// RateLimiter admits outbound calls against a shared budget
type RateLimiter interface {
	// Admit blocks until a call may proceed, or fails with domain.ErrRateLimited in non-blocking mode
	Admit(ctx context.Context) error

	// Budget returns a snapshot of the current window
	Budget(ctx context.Context) (domain.RateBudget, error)
}
