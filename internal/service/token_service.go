package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/storelink/meli-auth/internal/adapter/meli"
	"github.com/storelink/meli-auth/internal/config"
	"github.com/storelink/meli-auth/internal/domain"
	"github.com/storelink/meli-auth/internal/repository"
	"github.com/storelink/meli-auth/internal/telemetry"
)

// TokenService is the only component that decides whether a grant needs
// minting, refreshing, or is usable as-is.
type TokenService interface {
	StartAuthorization(ctx context.Context, in StartAuthorizationInput) (*StartAuthorizationOutput, error)
	ExchangeAuthorizationCode(ctx context.Context, in ExchangeInput) (*ExchangeResult, error)
	GetActiveAccessToken(ctx context.Context, clientID string, userID *string) (string, error)
	GetActive(ctx context.Context, clientID string, userID *string) (domain.Token, error)
	Refresh(ctx context.Context, token domain.Token) (domain.Token, error)
	Revoke(ctx context.Context, id int64) error
	CleanupExpired(ctx context.Context) (int64, error)
	List(ctx context.Context, filter repository.TokenFilter) ([]domain.Token, error)
	Get(ctx context.Context, id int64) (domain.Token, error)
	UserInfo(ctx context.Context) (json.RawMessage, error)
}

// StartAuthorizationInput parameterizes the authorization URL builder.
type StartAuthorizationInput struct {
	RedirectURI string
}

// StartAuthorizationOutput returns the prepared URL and its state handle.
type StartAuthorizationOutput struct {
	AuthorizationURL string
	State            string
}

// ExchangeInput carries the inbound authorization-code grant parameters.
type ExchangeInput struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Code         string
	CodeVerifier string
	State        string
}

// ExchangeResult bundles the stored token with the raw upstream response.
type ExchangeResult struct {
	Token         domain.Token
	OAuthResponse *meli.TokenResponse
}

type tokenService struct {
	tokens     repository.TokenRepository
	users      repository.UserRepository
	stateStore repository.AuthStateStore
	client     meli.Client
	cfg        config.Config
	logger     *zap.Logger
	tracer     trace.Tracer
	refreshes  singleflight.Group
	now        func() time.Time
}

// NewTokenService wires the token lifecycle manager.
func NewTokenService(
	tokens repository.TokenRepository,
	users repository.UserRepository,
	stateStore repository.AuthStateStore,
	client meli.Client,
	cfg config.Config,
	logger *zap.Logger,
) TokenService {
	if logger == nil {
		logger = zap.L()
	}
	return &tokenService{
		tokens:     tokens,
		users:      users,
		stateStore: stateStore,
		client:     client,
		cfg:        cfg,
		logger:     logger,
		tracer:     otel.Tracer(telemetry.TracerName),
		now:        time.Now,
	}
}

// StartAuthorization builds the marketplace authorization URL with a fresh
// state and PKCE S256 challenge, persisting the verifier until the exchange.
func (s *tokenService) StartAuthorization(ctx context.Context, in StartAuthorizationInput) (*StartAuthorizationOutput, error) {
	redirect := strings.TrimSpace(in.RedirectURI)
	if redirect == "" {
		redirect = s.cfg.MeliRedirectURI
	}
	if redirect == "" {
		return nil, fmt.Errorf("%w: redirect_uri is required", domain.ErrValidation)
	}

	state, err := secureRandomString(32)
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}
	verifier, err := secureRandomString(64)
	if err != nil {
		return nil, fmt.Errorf("generate pkce verifier: %w", err)
	}

	authURL, err := url.Parse(s.cfg.MeliAuthURL)
	if err != nil {
		return nil, fmt.Errorf("parse auth url: %w", err)
	}
	params := authURL.Query()
	params.Set("response_type", "code")
	params.Set("client_id", s.cfg.MeliClientID)
	params.Set("redirect_uri", redirect)
	params.Set("state", state)
	params.Set("code_challenge", pkceChallenge(verifier))
	params.Set("code_challenge_method", "S256")
	authURL.RawQuery = params.Encode()

	payload := domain.AuthState{
		State:        state,
		CodeVerifier: verifier,
		ClientID:     s.cfg.MeliClientID,
		RedirectURI:  redirect,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.stateStore.SaveState(ctx, payload); err != nil {
		return nil, fmt.Errorf("persist state: %w", err)
	}

	return &StartAuthorizationOutput{
		AuthorizationURL: authURL.String(),
		State:            state,
	}, nil
}

// ExchangeAuthorizationCode exchanges the code upstream and upserts the
// resulting grant. The row keyed (client_id, user_id) ends active whatever
// state it was in before.
func (s *tokenService) ExchangeAuthorizationCode(ctx context.Context, in ExchangeInput) (*ExchangeResult, error) {
	ctx, span := s.tracer.Start(ctx, "token.exchange")
	defer span.End()

	if err := validateExchangeInput(in); err != nil {
		return nil, err
	}

	verifier := strings.TrimSpace(in.CodeVerifier)
	if in.State != "" {
		state, err := s.stateStore.GetState(ctx, in.State)
		if err != nil {
			return nil, fmt.Errorf("load state: %w", err)
		}
		if state == nil {
			return nil, domain.ErrInvalidState
		}
		if verifier == "" {
			verifier = state.CodeVerifier
		}
		if err := s.stateStore.DeleteState(ctx, in.State); err != nil {
			s.logger.Warn("failed to delete auth state", zap.Error(err))
		}
	}

	resp, err := s.client.ExchangeCode(ctx, meli.ExchangeInput{
		GrantType:    in.GrantType,
		ClientID:     in.ClientID,
		ClientSecret: in.ClientSecret,
		RedirectURI:  in.RedirectURI,
		Code:         in.Code,
		CodeVerifier: verifier,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	key := repository.UpsertKey{ClientID: in.ClientID, UserID: meliUserID(resp.UserID)}
	token, err := s.tokens.Upsert(ctx, key, s.upsertFields(resp, meli.ExchangeInput{
		GrantType:    in.GrantType,
		RedirectURI:  in.RedirectURI,
		CodeVerifier: verifier,
	}))
	if err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}

	s.linkUser(ctx, token)

	s.logger.Info("token exchanged",
		zap.Int64("token_id", token.ID),
		zap.String("client_id", token.ClientID),
		zap.Stringp("user_id", token.UserID),
	)

	return &ExchangeResult{Token: token, OAuthResponse: resp}, nil
}

func validateExchangeInput(in ExchangeInput) error {
	var missing []string
	if strings.TrimSpace(in.GrantType) == "" {
		missing = append(missing, "grant_type")
	}
	if strings.TrimSpace(in.ClientID) == "" {
		missing = append(missing, "client_id")
	}
	if strings.TrimSpace(in.ClientSecret) == "" {
		missing = append(missing, "client_secret")
	}
	if strings.TrimSpace(in.Code) == "" {
		missing = append(missing, "code")
	}
	if strings.TrimSpace(in.RedirectURI) == "" {
		missing = append(missing, "redirect_uri")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", domain.ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

// GetActiveAccessToken returns a usable access token for the identity,
// refreshing synchronously when the stored grant has expired. Concurrent
// refreshes for the same identity are coalesced into one upstream call.
func (s *tokenService) GetActiveAccessToken(ctx context.Context, clientID string, userID *string) (string, error) {
	token, err := s.tokens.FindCurrent(ctx, clientID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrTokenNotFound) {
			return "", domain.ErrNoActiveToken
		}
		return "", err
	}

	if token.IsUsable(s.now()) {
		if err := s.tokens.TouchLastUsed(ctx, token.ID); err != nil {
			s.logger.Warn("failed to touch token", zap.Int64("token_id", token.ID), zap.Error(err))
		}
		return token.AccessToken, nil
	}

	refreshed, err := s.refreshShared(ctx, clientID, userID)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// GetActive returns the grant currently usable for the identity without
// touching or refreshing it. Expired-but-unrefreshed rows do not qualify.
func (s *tokenService) GetActive(ctx context.Context, clientID string, userID *string) (domain.Token, error) {
	token, err := s.tokens.FindActive(ctx, clientID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrTokenNotFound) {
			return domain.Token{}, domain.ErrNoActiveToken
		}
		return domain.Token{}, err
	}
	return token, nil
}

// refreshShared coalesces concurrent refreshes per identity. The winner
// re-reads the row inside the flight so waiters piggyback on a refresh that
// already happened.
func (s *tokenService) refreshShared(ctx context.Context, clientID string, userID *string) (domain.Token, error) {
	v, err, _ := s.refreshes.Do(flightKey(clientID, userID), func() (any, error) {
		current, err := s.tokens.FindCurrent(ctx, clientID, userID)
		if err != nil {
			if errors.Is(err, domain.ErrTokenNotFound) {
				return nil, domain.ErrNoActiveToken
			}
			return nil, err
		}
		if current.IsUsable(s.now()) {
			return current, nil
		}
		return s.refresh(ctx, current)
	})
	if err != nil {
		return domain.Token{}, err
	}
	return v.(domain.Token), nil
}

// Refresh rotates the grant's credentials in place. On failure the stored
// row is left untouched and the error propagates; callers must not assume
// the old token is still valid upstream.
func (s *tokenService) Refresh(ctx context.Context, token domain.Token) (domain.Token, error) {
	return s.refresh(ctx, token)
}

func (s *tokenService) refresh(ctx context.Context, token domain.Token) (domain.Token, error) {
	ctx, span := s.tracer.Start(ctx, "token.refresh")
	defer span.End()

	if token.RefreshToken == "" {
		return domain.Token{}, fmt.Errorf("%w: grant has no refresh token", domain.ErrNoActiveToken)
	}

	resp, err := s.client.Refresh(ctx, token.RefreshToken, s.cfg.MeliClientID, s.cfg.MeliClientSecret)
	if err != nil {
		span.RecordError(err)
		return domain.Token{}, fmt.Errorf("refresh token: %w", err)
	}

	key := repository.UpsertKey{ClientID: token.ClientID, UserID: token.UserID}
	updated, err := s.tokens.Upsert(ctx, key, s.upsertFields(resp, meli.ExchangeInput{
		GrantType:    token.GrantType,
		RedirectURI:  token.RedirectURI,
		CodeVerifier: token.CodeVerifier,
	}))
	if err != nil {
		return domain.Token{}, fmt.Errorf("store refreshed token: %w", err)
	}

	s.logger.Info("token refreshed",
		zap.Int64("token_id", updated.ID),
		zap.String("client_id", updated.ClientID),
		zap.String("access_token", redactToken(updated.AccessToken)),
	)
	return updated, nil
}

// upsertFields maps an upstream token response onto the stored row,
// computing expires_at = now + expires_in when present. A response without
// expires_in stores a nil expiry and is treated as non-expiring.
func (s *tokenService) upsertFields(resp *meli.TokenResponse, grant meli.ExchangeInput) repository.UpsertFields {
	var expiresAt *time.Time
	if resp.ExpiresIn != nil {
		when := s.now().Add(time.Duration(*resp.ExpiresIn) * time.Second)
		expiresAt = &when
	}
	return repository.UpsertFields{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		ExpiresIn:    resp.ExpiresIn,
		ExpiresAt:    expiresAt,
		Scope:        splitScope(resp.Scope),
		GrantType:    grant.GrantType,
		RedirectURI:  grant.RedirectURI,
		CodeVerifier: grant.CodeVerifier,
	}
}

// linkUser points the local account row at the freshly stored grant for
// tokens that carry a marketplace identity. Profile fields already synced
// for the account are preserved. Link failures do not fail the exchange.
func (s *tokenService) linkUser(ctx context.Context, token domain.Token) {
	if token.UserID == nil || s.users == nil {
		return
	}
	tokenID := token.ID
	user := domain.User{
		MeliUserID:   *token.UserID,
		OAuthTokenID: &tokenID,
	}
	existing, err := s.users.GetByMeliUserID(ctx, *token.UserID)
	switch {
	case err == nil:
		user.Nickname = existing.Nickname
		user.Email = existing.Email
		user.SiteID = existing.SiteID
	case !errors.Is(err, domain.ErrUserNotFound):
		s.logger.Warn("failed to load linked user", zap.Stringp("user_id", token.UserID), zap.Error(err))
	}
	if _, err := s.users.UpsertFromMeli(ctx, user); err != nil {
		s.logger.Warn("failed to link user",
			zap.Stringp("user_id", token.UserID),
			zap.Int64("token_id", token.ID),
			zap.Error(err),
		)
	}
}

func (s *tokenService) Revoke(ctx context.Context, id int64) error {
	if err := s.tokens.Revoke(ctx, id); err != nil {
		return err
	}
	s.logger.Info("token revoked", zap.Int64("token_id", id))
	return nil
}

func (s *tokenService) CleanupExpired(ctx context.Context) (int64, error) {
	count, err := s.tokens.SweepExpired(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.Info("expired tokens swept", zap.Int64("count", count))
	}
	return count, nil
}

func (s *tokenService) List(ctx context.Context, filter repository.TokenFilter) ([]domain.Token, error) {
	if filter.Status != "" && !domain.ValidStatus(filter.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, filter.Status)
	}
	return s.tokens.List(ctx, filter)
}

func (s *tokenService) Get(ctx context.Context, id int64) (domain.Token, error) {
	return s.tokens.FindByID(ctx, id)
}

// UserInfo proxies the marketplace users/me endpoint using the app's
// current active grant, mirroring the returned profile onto the local
// account row.
func (s *tokenService) UserInfo(ctx context.Context) (json.RawMessage, error) {
	accessToken, err := s.GetActiveAccessToken(ctx, s.cfg.MeliClientID, nil)
	if err != nil {
		return nil, err
	}
	body, err := s.client.Call(ctx, "users/me", accessToken, "GET", nil)
	if err != nil {
		return nil, err
	}
	s.syncUserProfile(ctx, body)
	return body, nil
}

// syncUserProfile updates the local account from a users/me payload. The
// token link set at exchange time is preserved. Sync failures never surface
// to the caller; the next call retries.
func (s *tokenService) syncUserProfile(ctx context.Context, body json.RawMessage) {
	if s.users == nil {
		return
	}
	var profile struct {
		ID       int64  `json:"id"`
		Nickname string `json:"nickname"`
		Email    string `json:"email"`
		SiteID   string `json:"site_id"`
	}
	if err := json.Unmarshal(body, &profile); err != nil || profile.ID == 0 {
		return
	}

	meliID := strconv.FormatInt(profile.ID, 10)
	user := domain.User{
		MeliUserID: meliID,
		Nickname:   profile.Nickname,
		Email:      profile.Email,
		SiteID:     profile.SiteID,
	}
	existing, err := s.users.GetByMeliUserID(ctx, meliID)
	switch {
	case err == nil:
		user.OAuthTokenID = existing.OAuthTokenID
	case !errors.Is(err, domain.ErrUserNotFound):
		s.logger.Warn("failed to load user for profile sync", zap.String("user_id", meliID), zap.Error(err))
	}
	if _, err := s.users.UpsertFromMeli(ctx, user); err != nil {
		s.logger.Warn("failed to sync user profile", zap.String("user_id", meliID), zap.Error(err))
	}
}

func flightKey(clientID string, userID *string) string {
	if userID == nil {
		return clientID
	}
	return clientID + "|" + *userID
}

func meliUserID(id *int64) *string {
	if id == nil {
		return nil
	}
	s := strconv.FormatInt(*id, 10)
	return &s
}

func splitScope(scope string) []string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func redactToken(token string) string {
	if len(token) <= 10 {
		return "..."
	}
	return token[:10] + "..."
}

func secureRandomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
