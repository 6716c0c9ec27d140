package meli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the production marketplace API root.
	DefaultBaseURL = "https://api.mercadolibre.com"

	tokenPath       = "/oauth/token"
	maxResponseSize = 1 << 20
)

// TokenResponse models the marketplace token endpoint payload, shared by
// code exchange and refresh.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    *int64 `json:"expires_in"`
	Scope        string `json:"scope"`
	UserID       *int64 `json:"user_id"`
	RefreshToken string `json:"refresh_token"`
}

// ExchangeInput carries the authorization-code grant parameters.
type ExchangeInput struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Code         string
	CodeVerifier string
}

// Client encapsulates outbound HTTP calls to the marketplace API.
type Client interface {
	ExchangeCode(ctx context.Context, in ExchangeInput) (*TokenResponse, error)
	Refresh(ctx context.Context, refreshToken, clientID, clientSecret string) (*TokenResponse, error)
	Call(ctx context.Context, endpoint, accessToken, method string, params map[string]any) (json.RawMessage, error)
}

// HTTPClient is the default Client implementation.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient constructs the default Client. A nil http.Client gets a
// 10s timeout so a hung upstream cannot block callers indefinitely.
func NewHTTPClient(baseURL string, client *http.Client, logger *zap.Logger) *HTTPClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.L()
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
		logger:     logger,
	}
}

// ExchangeCode exchanges an authorization code for a token pair.
func (c *HTTPClient) ExchangeCode(ctx context.Context, in ExchangeInput) (*TokenResponse, error) {
	grantType := in.GrantType
	if grantType == "" {
		grantType = "authorization_code"
	}
	form := url.Values{}
	form.Set("grant_type", grantType)
	form.Set("client_id", in.ClientID)
	form.Set("client_secret", in.ClientSecret)
	form.Set("code", in.Code)
	form.Set("redirect_uri", in.RedirectURI)
	if strings.TrimSpace(in.CodeVerifier) != "" {
		form.Set("code_verifier", in.CodeVerifier)
	}
	return c.postToken(ctx, "exchange code", form)
}

// Refresh mints a new token pair from a refresh token.
func (c *HTTPClient) Refresh(ctx context.Context, refreshToken, clientID, clientSecret string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("refresh_token", refreshToken)
	return c.postToken(ctx, "refresh token", form)
}

// postToken is the single request path for both grants, so non-success
// statuses are handled uniformly.
func (c *HTTPClient) postToken(ctx context.Context, op string, form url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req, op)
	if err != nil {
		return nil, err
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		c.logger.Error("token response decode failed", zap.String("op", op), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, op, err)
	}
	return &token, nil
}

// Call performs a generic authenticated request under the API base path.
// GET serializes params into the query string, POST into a JSON body.
func (c *HTTPClient) Call(ctx context.Context, endpoint, accessToken, method string, params map[string]any) (json.RawMessage, error) {
	target := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	method = strings.ToUpper(method)
	if method == "" {
		method = http.MethodGet
	}

	var reqBody io.Reader
	if method == http.MethodPost {
		payload, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	} else if len(params) > 0 {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, fmt.Sprint(v))
		}
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build api request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	body, err := c.do(req, "api call "+endpoint)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			c.logger.Error("api request failed",
				zap.String("endpoint", endpoint),
				zap.String("method", method),
				zap.Int("status", apiErr.Status),
				zap.String("access_token", redactToken(accessToken)),
			)
		}
		return nil, err
	}

	var out json.RawMessage
	if err := json.Unmarshal(body, &out); err != nil {
		c.logger.Error("api response decode failed", zap.String("endpoint", endpoint), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, endpoint, err)
	}
	return out, nil
}

// do executes the request and applies the shared status check: any status
// outside [200,300) becomes an *APIError carrying the raw body.
func (c *HTTPClient) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("upstream request failed", zap.String("op", op), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %v", ErrTransport, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.logger.Error("upstream read failed", zap.String("op", op), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: read body: %v", ErrTransport, op, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &APIError{Status: resp.StatusCode, Body: json.RawMessage(body)}
	}
	return body, nil
}
