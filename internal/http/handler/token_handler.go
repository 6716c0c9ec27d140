package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/storelink/meli-auth/internal/config"
	"github.com/storelink/meli-auth/internal/domain"
	"github.com/storelink/meli-auth/internal/repository"
	"github.com/storelink/meli-auth/internal/service"
)

// TokenHandler exposes the marketplace token lifecycle over REST.
type TokenHandler struct {
	Tokens service.TokenService
	Config config.Config
	Logger *zap.Logger
}

// NewTokenHandler creates the handler set.
func NewTokenHandler(tokens service.TokenService, cfg config.Config, logger *zap.Logger) *TokenHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &TokenHandler{Tokens: tokens, Config: cfg, Logger: logger}
}

// Authorize starts the authorization-code flow and redirects the caller to
// the marketplace consent screen. Pass ?redirect=false to receive the URL
// as JSON instead.
func (h *TokenHandler) Authorize(c *gin.Context) {
	out, err := h.Tokens.StartAuthorization(c.Request.Context(), service.StartAuthorizationInput{
		RedirectURI: c.Query("redirect_uri"),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	if c.Query("redirect") == "false" {
		c.JSON(http.StatusOK, gin.H{"authorization_url": out.AuthorizationURL, "state": out.State})
		return
	}
	c.Redirect(http.StatusFound, out.AuthorizationURL)
}

// Exchange trades an authorization code for tokens and persists them.
func (h *TokenHandler) Exchange(c *gin.Context) {
	var req struct {
		GrantType    string `json:"grant_type" form:"grant_type"`
		ClientID     string `json:"client_id" form:"client_id"`
		ClientSecret string `json:"client_secret" form:"client_secret"`
		RedirectURI  string `json:"redirect_uri" form:"redirect_uri"`
		Code         string `json:"code" form:"code"`
		CodeVerifier string `json:"code_verifier" form:"code_verifier"`
		State        string `json:"state" form:"state"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "Invalid payload."})
		return
	}

	in := service.ExchangeInput{
		GrantType:    strings.TrimSpace(req.GrantType),
		ClientID:     strings.TrimSpace(req.ClientID),
		ClientSecret: strings.TrimSpace(req.ClientSecret),
		RedirectURI:  strings.TrimSpace(req.RedirectURI),
		Code:         strings.TrimSpace(req.Code),
		CodeVerifier: strings.TrimSpace(req.CodeVerifier),
		State:        strings.TrimSpace(req.State),
	}
	if in.GrantType == "" {
		in.GrantType = "authorization_code"
	}
	if in.ClientID == "" {
		in.ClientID = h.Config.MeliClientID
	}
	if in.ClientSecret == "" {
		in.ClientSecret = h.Config.MeliClientSecret
	}
	if in.RedirectURI == "" {
		in.RedirectURI = h.Config.MeliRedirectURI
	}

	result, err := h.Tokens.ExchangeAuthorizationCode(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"token_id":       strconv.FormatInt(result.Token.ID, 10),
		"user_id":        result.Token.UserID,
		"expires_at":     result.Token.ExpiresAt,
		"status":         result.Token.Status,
		"oauth_response": result.OAuthResponse,
	})
}

// ListTokens returns stored tokens, optionally filtered by client_id,
// user_id and status. Secrets are never included.
func (h *TokenHandler) ListTokens(c *gin.Context) {
	filter := repository.TokenFilter{
		ClientID: strings.TrimSpace(c.Query("client_id")),
		Status:   strings.TrimSpace(c.Query("status")),
	}
	if userID := strings.TrimSpace(c.Query("user_id")); userID != "" {
		filter.UserID = &userID
	}

	tokens, err := h.Tokens.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "tokens": service.NewTokenViews(tokens), "count": len(tokens)})
}

// GetToken returns one stored token by id.
func (h *TokenHandler) GetToken(c *gin.Context) {
	id, ok := parseTokenID(c)
	if !ok {
		return
	}

	token, err := h.Tokens.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, service.NewTokenView(token))
}

// ActiveToken returns the grant currently usable for the configured
// application, without refreshing it.
func (h *TokenHandler) ActiveToken(c *gin.Context) {
	var userID *string
	if v := strings.TrimSpace(c.Query("user_id")); v != "" {
		userID = &v
	}

	token, err := h.Tokens.GetActive(c.Request.Context(), h.Config.MeliClientID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, service.NewTokenView(token))
}

// RevokeToken marks a stored token revoked. Revoking an already revoked
// token succeeds.
func (h *TokenHandler) RevokeToken(c *gin.Context) {
	id, ok := parseTokenID(c)
	if !ok {
		return
	}

	if err := h.Tokens.Revoke(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "token_id": strconv.FormatInt(id, 10), "status": domain.TokenStatusRevoked})
}

// CleanupTokens sweeps active rows whose expiry has passed.
func (h *TokenHandler) CleanupTokens(c *gin.Context) {
	count, err := h.Tokens.CleanupExpired(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": count})
}

// Me proxies the marketplace users/me endpoint with the active token,
// refreshing it first when needed.
func (h *TokenHandler) Me(c *gin.Context) {
	body, err := h.Tokens.UserInfo(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", body)
}

func parseTokenID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "Invalid token id."})
		return 0, false
	}
	return id, true
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidState):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
	case errors.Is(err, domain.ErrTokenNotFound), errors.Is(err, domain.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, domain.ErrNoActiveToken):
		c.JSON(http.StatusNotFound, gin.H{"error": "no_active_token", "message": err.Error()})
	default:
		// Upstream failures (meli.APIError and friends) surface as plain
		// internal errors; the boundary log already carries the detail.
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}
