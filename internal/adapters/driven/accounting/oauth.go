package accounting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Ensure OAuthClient implements OAuthEndpoint
var _ driven.OAuthEndpoint = (*OAuthClient)(nil)

const refreshOperation = "refresh_token"

// OAuthClient exchanges refresh tokens at the accounting service's token endpoint.
type OAuthClient struct {
	tokenURL   string
	userAgent  string
	httpClient *http.Client
}

// NewOAuthClient creates a client for cfg.TokenURL.
func NewOAuthClient(cfg Config) (*OAuthClient, error) {
	if cfg.TokenURL == "" {
		return nil, errors.New("accounting token URL is required")
	}
	return &OAuthClient{
		tokenURL:   cfg.TokenURL,
		userAgent:  cfg.userAgent(),
		httpClient: cfg.client(),
	}, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

// Refresh performs a refresh_token grant.
// Rejections come back as a RemoteError of kind ErrAuth; 5xx and transport failures as ErrNetwork.
func (c *OAuthClient) Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (*domain.OAuthToken, error) {
	params := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewRemoteError(domain.ErrNetwork, refreshOperation, 0, "", err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, domain.NewRemoteError(domain.ErrNetwork, refreshOperation, resp.StatusCode, "", err.Error())
	}

	var tok tokenResponse
	decodeErr := json.Unmarshal(body, &tok)

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, domain.NewRemoteError(domain.ErrNetwork, refreshOperation, resp.StatusCode, tok.Error, snippet(body))
	}
	if resp.StatusCode != http.StatusOK || tok.Error != "" {
		msg := tok.ErrorDesc
		if msg == "" {
			msg = snippet(body)
		}
		return nil, domain.NewRemoteError(domain.ErrAuth, refreshOperation, resp.StatusCode, tok.Error, msg)
	}
	if decodeErr != nil {
		return nil, domain.NewRemoteError(domain.ErrAuth, refreshOperation, resp.StatusCode, "", "decode token response: "+decodeErr.Error())
	}
	if tok.AccessToken == "" {
		return nil, domain.NewRemoteError(domain.ErrAuth, refreshOperation, resp.StatusCode, "", "token response has no access_token")
	}

	return &domain.OAuthToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    tok.ExpiresIn,
		Scope:        tok.Scope,
	}, nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
