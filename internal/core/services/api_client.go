package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// RemoteCaller issues classified calls against the accounting API.
type RemoteCaller interface {
	Call(ctx context.Context, req *driven.RemoteRequest, out any) error
}

// Ensure APIClient implements RemoteCaller
var _ RemoteCaller = (*APIClient)(nil)

// APIClient wraps every remote call with rate-limit admission, token injection
// and error classification. It never retries 5xx responses itself; record-level
// retries belong to the RetryScheduler.
type APIClient struct {
	limiter   driven.RateLimiter
	tokens    AccessTokenSource
	transport driven.Transport
	logger    *slog.Logger
}

// APIClientConfig holds dependencies for APIClient.
type APIClientConfig struct {
	Limiter   driven.RateLimiter
	Tokens    AccessTokenSource
	Transport driven.Transport
	Logger    *slog.Logger
}

// NewAPIClient creates a new API client.
func NewAPIClient(cfg APIClientConfig) *APIClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &APIClient{
		limiter:   cfg.Limiter,
		tokens:    cfg.Tokens,
		transport: cfg.Transport,
		logger:    logger,
	}
}

// remoteErrorBody is the error envelope returned by the accounting API
type remoteErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Call performs req and decodes a successful JSON body into out (if non-nil).
// A 401 invalidates the cached token and retries exactly once.
func (c *APIClient) Call(ctx context.Context, req *driven.RemoteRequest, out any) error {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}

	resp, err := c.attempt(ctx, req)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.logger.Warn("remote rejected access token, refreshing once",
			"operation", req.Operation,
			"correlation_id", req.CorrelationID,
		)
		c.tokens.Invalidate()
		resp, err = c.attempt(ctx, req)
		if err != nil {
			return err
		}
	}

	if err := classify(req, resp); err != nil {
		return err
	}

	if out != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return domain.NewRemoteError(domain.ErrRemote, req.Operation, resp.StatusCode, "decode",
				fmt.Sprintf("malformed response body: %v", err))
		}
	}
	return nil
}

// attempt runs admit → token → transport once.
func (c *APIClient) attempt(ctx context.Context, req *driven.RemoteRequest) (*driven.RemoteResponse, error) {
	if err := c.limiter.Admit(ctx); err != nil {
		return nil, err
	}

	token, err := c.tokens.GetValidAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.transport.Do(ctx, req, token)
	duration := time.Since(start)
	if err != nil {
		c.logger.Error("remote call failed",
			"operation", req.Operation,
			"method", req.Method,
			"path", req.Path,
			"correlation_id", req.CorrelationID,
			"duration", duration,
			"error", err,
		)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, domain.NewRemoteError(domain.ErrNetwork, req.Operation, 0, "", err.Error())
	}

	level := slog.LevelInfo
	if resp.StatusCode >= 400 {
		level = slog.LevelWarn
	}
	c.logger.Log(ctx, level, "remote call",
		"operation", req.Operation,
		"method", req.Method,
		"path", req.Path,
		"status", resp.StatusCode,
		"correlation_id", req.CorrelationID,
		"duration", duration,
	)
	return resp, nil
}

// classify maps an HTTP status onto the error taxonomy.
func classify(req *driven.RemoteRequest, resp *driven.RemoteResponse) error {
	status := resp.StatusCode
	if status >= 200 && status < 300 {
		return nil
	}

	code, message := parseErrorBody(resp.Body)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.NewRemoteError(domain.ErrAuth, req.Operation, status, code, message)
	case status == http.StatusNotFound:
		return domain.NewRemoteError(domain.ErrNotFound, req.Operation, status, code, message)
	case status == http.StatusTooManyRequests:
		if resp.RetryAfter > 0 {
			message = fmt.Sprintf("%s (retry after %s)", message, resp.RetryAfter)
		}
		return domain.NewRemoteError(domain.ErrRateLimited, req.Operation, status, code, message)
	case status >= 400 && status < 500:
		return domain.NewRemoteError(domain.ErrRemote, req.Operation, status, code, message)
	default:
		return domain.NewRemoteError(domain.ErrNetwork, req.Operation, status, code, message)
	}
}

func parseErrorBody(body []byte) (code, message string) {
	if len(body) == 0 {
		return "", ""
	}
	var eb remoteErrorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		if len(body) > 200 {
			body = body[:200]
		}
		return "", string(body)
	}
	if eb.Error != nil {
		return eb.Error.Code, eb.Error.Message
	}
	return eb.Code, eb.Message
}

// isNotFound reports whether err means the remote entity vanished.
func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
