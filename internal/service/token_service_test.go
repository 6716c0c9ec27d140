package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storelink/meli-auth/internal/adapter/meli"
	"github.com/storelink/meli-auth/internal/config"
	"github.com/storelink/meli-auth/internal/domain"
	"github.com/storelink/meli-auth/internal/repository"
)

func TestStartAuthorizationBuildsURLAndPersistsState(t *testing.T) {
	h := newTokenTestHarness(t)
	ctx := context.Background()

	out, err := h.service.StartAuthorization(ctx, StartAuthorizationInput{})
	require.NoError(t, err)
	require.NotEmpty(t, out.State)

	parsed, err := url.Parse(out.AuthorizationURL)
	require.NoError(t, err)
	query := parsed.Query()
	require.Equal(t, "code", query.Get("response_type"))
	require.Equal(t, "app-1", query.Get("client_id"))
	require.Equal(t, "https://callback.test/oauth", query.Get("redirect_uri"))
	require.Equal(t, out.State, query.Get("state"))
	require.Equal(t, "S256", query.Get("code_challenge_method"))
	require.NotEmpty(t, query.Get("code_challenge"))

	state, err := h.stateStore.GetState(ctx, out.State)
	require.NoError(t, err)
	require.NotNil(t, state)
	require.NotEmpty(t, state.CodeVerifier)
}

func TestExchangeStoresTokenWithComputedExpiry(t *testing.T) {
	h := newTokenTestHarness(t)
	h.client.exchangeResp = &meli.TokenResponse{
		AccessToken:  "A1",
		TokenType:    "Bearer",
		ExpiresIn:    int64p(3600),
		Scope:        "read write",
		RefreshToken: "R1",
	}

	before := time.Now()
	result, err := h.service.ExchangeAuthorizationCode(context.Background(), validExchangeInput())
	require.NoError(t, err)

	token := result.Token
	require.Equal(t, "A1", token.AccessToken)
	require.Equal(t, "R1", token.RefreshToken)
	require.Equal(t, domain.TokenStatusActive, token.Status)
	require.Equal(t, []string{"read", "write"}, token.Scope)
	require.Nil(t, token.UserID)
	require.NotNil(t, token.ExpiresAt)
	require.WithinDuration(t, before.Add(time.Hour), *token.ExpiresAt, 2*time.Second)
	require.Equal(t, "A1", result.OAuthResponse.AccessToken)
}

func TestExchangeWithoutExpiresInStoresNonExpiringToken(t *testing.T) {
	h := newTokenTestHarness(t)
	h.client.exchangeResp = &meli.TokenResponse{AccessToken: "A1", TokenType: "Bearer"}

	result, err := h.service.ExchangeAuthorizationCode(context.Background(), validExchangeInput())
	require.NoError(t, err)
	require.Nil(t, result.Token.ExpiresAt)
	require.False(t, result.Token.IsExpired(time.Now().Add(100*24*time.Hour)))
}

func TestExchangeTwiceUpsertsSameRow(t *testing.T) {
	h := newTokenTestHarness(t)
	h.client.exchangeResp = &meli.TokenResponse{
		AccessToken: "A1", RefreshToken: "R1", ExpiresIn: int64p(3600), UserID: int64p(42),
	}
	first, err := h.service.ExchangeAuthorizationCode(context.Background(), validExchangeInput())
	require.NoError(t, err)

	h.client.exchangeResp = &meli.TokenResponse{
		AccessToken: "A2", RefreshToken: "R2", ExpiresIn: int64p(3600), UserID: int64p(42),
	}
	second, err := h.service.ExchangeAuthorizationCode(context.Background(), validExchangeInput())
	require.NoError(t, err)

	require.Equal(t, first.Token.ID, second.Token.ID)
	require.Equal(t, "A2", second.Token.AccessToken)
	require.Len(t, h.tokens.all(), 1)
}

func TestExchangeRecoversVerifierFromState(t *testing.T) {
	h := newTokenTestHarness(t)
	ctx := context.Background()
	out, err := h.service.StartAuthorization(ctx, StartAuthorizationInput{})
	require.NoError(t, err)

	h.client.exchangeResp = &meli.TokenResponse{AccessToken: "A1"}
	in := validExchangeInput()
	in.State = out.State
	in.CodeVerifier = ""
	_, err = h.service.ExchangeAuthorizationCode(ctx, in)
	require.NoError(t, err)
	require.NotEmpty(t, h.client.lastExchange.CodeVerifier)

	// state is single-use
	state, err := h.stateStore.GetState(ctx, out.State)
	require.NoError(t, err)
	require.Nil(t, state)
}

func TestExchangeUnknownStateRejected(t *testing.T) {
	h := newTokenTestHarness(t)
	in := validExchangeInput()
	in.State = "never-issued"
	_, err := h.service.ExchangeAuthorizationCode(context.Background(), in)
	require.True(t, errors.Is(err, domain.ErrInvalidState))
}

func TestExchangeValidatesRequiredParams(t *testing.T) {
	h := newTokenTestHarness(t)
	in := validExchangeInput()
	in.Code = ""
	in.ClientSecret = ""
	_, err := h.service.ExchangeAuthorizationCode(context.Background(), in)
	require.True(t, errors.Is(err, domain.ErrValidation))
	require.Contains(t, err.Error(), "code")
	require.Contains(t, err.Error(), "client_secret")
}

func TestGetActiveAccessTokenReturnsUsableToken(t *testing.T) {
	h := newTokenTestHarness(t)
	h.seedToken(domain.Token{
		ClientID:    "app-1",
		AccessToken: "A1",
		Status:      domain.TokenStatusActive,
		ExpiresAt:   timep(time.Now().Add(time.Hour)),
	})

	got, err := h.service.GetActiveAccessToken(context.Background(), "app-1", nil)
	require.NoError(t, err)
	require.Equal(t, "A1", got)
	require.NotNil(t, h.tokens.all()[0].LastUsedAt)
	require.Equal(t, 0, h.client.refreshCalls)
}

func TestGetActiveAccessTokenNoTokenFails(t *testing.T) {
	h := newTokenTestHarness(t)
	_, err := h.service.GetActiveAccessToken(context.Background(), "app-1", nil)
	require.True(t, errors.Is(err, domain.ErrNoActiveToken))
}

func TestGetActiveAccessTokenRefreshesExpiredGrant(t *testing.T) {
	h := newTokenTestHarness(t)
	h.seedToken(domain.Token{
		ClientID:     "app-1",
		AccessToken:  "A1",
		RefreshToken: "R1",
		Status:       domain.TokenStatusActive,
		ExpiresAt:    timep(time.Now().Add(-10 * time.Minute)),
	})
	h.client.refreshResp = &meli.TokenResponse{
		AccessToken: "A2", RefreshToken: "R2", ExpiresIn: int64p(3600),
	}

	got, err := h.service.GetActiveAccessToken(context.Background(), "app-1", nil)
	require.NoError(t, err)
	require.Equal(t, "A2", got)
	require.Equal(t, 1, h.client.refreshCalls)
	require.Equal(t, "R1", h.client.lastRefreshToken)

	rows := h.tokens.all()
	require.Len(t, rows, 1)
	require.Equal(t, "A2", rows[0].AccessToken)
	require.Equal(t, "R2", rows[0].RefreshToken)
	require.NotNil(t, rows[0].ExpiresAt)
	require.True(t, rows[0].ExpiresAt.After(time.Now()))
}

func TestConcurrentRefreshesCoalesce(t *testing.T) {
	h := newTokenTestHarness(t)
	h.seedToken(domain.Token{
		ClientID:     "app-1",
		AccessToken:  "A1",
		RefreshToken: "R1",
		Status:       domain.TokenStatusActive,
		ExpiresAt:    timep(time.Now().Add(-10 * time.Minute)),
	})
	h.client.refreshResp = &meli.TokenResponse{
		AccessToken: "A2", RefreshToken: "R2", ExpiresIn: int64p(3600),
	}
	h.client.refreshDelay = 50 * time.Millisecond

	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.service.GetActiveAccessToken(context.Background(), "app-1", nil)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "A2", results[i])
	}
	require.Equal(t, 1, h.client.refreshCalls)
	require.Len(t, h.tokens.all(), 1)
}

func TestFailedRefreshLeavesRowUntouched(t *testing.T) {
	h := newTokenTestHarness(t)
	expiry := time.Now().Add(-10 * time.Minute)
	h.seedToken(domain.Token{
		ClientID:     "app-1",
		AccessToken:  "A1",
		RefreshToken: "R1",
		Status:       domain.TokenStatusActive,
		ExpiresAt:    &expiry,
	})
	h.client.refreshErr = &meli.APIError{Status: http.StatusBadRequest, Body: json.RawMessage(`{"error":"invalid_grant"}`)}

	_, err := h.service.GetActiveAccessToken(context.Background(), "app-1", nil)
	var apiErr *meli.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadRequest, apiErr.Status)

	rows := h.tokens.all()
	require.Len(t, rows, 1)
	require.Equal(t, "A1", rows[0].AccessToken)
	require.Equal(t, domain.TokenStatusActive, rows[0].Status)
	require.Equal(t, expiry.Unix(), rows[0].ExpiresAt.Unix())
}

func TestRefreshWithoutRefreshTokenFails(t *testing.T) {
	h := newTokenTestHarness(t)
	_, err := h.service.Refresh(context.Background(), domain.Token{ClientID: "app-1", AccessToken: "A1"})
	require.True(t, errors.Is(err, domain.ErrNoActiveToken))
	require.Equal(t, 0, h.client.refreshCalls)
}

func TestGetActiveSkipsExpiredRows(t *testing.T) {
	h := newTokenTestHarness(t)
	h.seedToken(domain.Token{
		ClientID:    "app-1",
		AccessToken: "A1",
		Status:      domain.TokenStatusActive,
		ExpiresAt:   timep(time.Now().Add(-time.Minute)),
	})

	_, err := h.service.GetActive(context.Background(), "app-1", nil)
	require.True(t, errors.Is(err, domain.ErrNoActiveToken))
}

func TestRevokeIsIdempotent(t *testing.T) {
	h := newTokenTestHarness(t)
	id := h.seedToken(domain.Token{
		ClientID:    "app-1",
		AccessToken: "A1",
		Status:      domain.TokenStatusActive,
	})

	require.NoError(t, h.service.Revoke(context.Background(), id))
	require.NoError(t, h.service.Revoke(context.Background(), id))
	require.Equal(t, domain.TokenStatusRevoked, h.tokens.all()[0].Status)

	err := h.service.Revoke(context.Background(), 999999)
	require.True(t, errors.Is(err, domain.ErrTokenNotFound))
}

func TestCleanupExpiredSweepsOnlyStaleActiveRows(t *testing.T) {
	h := newTokenTestHarness(t)
	h.seedToken(domain.Token{ClientID: "a", AccessToken: "x", Status: domain.TokenStatusActive, ExpiresAt: timep(time.Now().Add(-time.Hour))})
	h.seedToken(domain.Token{ClientID: "b", AccessToken: "x", Status: domain.TokenStatusActive, ExpiresAt: timep(time.Now().Add(time.Hour))})
	h.seedToken(domain.Token{ClientID: "c", AccessToken: "x", Status: domain.TokenStatusRevoked, ExpiresAt: timep(time.Now().Add(-time.Hour))})
	h.seedToken(domain.Token{ClientID: "d", AccessToken: "x", Status: domain.TokenStatusActive})

	count, err := h.service.CleanupExpired(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	statuses := map[string]domain.TokenStatus{}
	for _, row := range h.tokens.all() {
		statuses[row.ClientID] = row.Status
	}
	require.Equal(t, domain.TokenStatusExpired, statuses["a"])
	require.Equal(t, domain.TokenStatusActive, statuses["b"])
	require.Equal(t, domain.TokenStatusRevoked, statuses["c"])
	require.Equal(t, domain.TokenStatusActive, statuses["d"])
}

func TestListRejectsUnknownStatus(t *testing.T) {
	h := newTokenTestHarness(t)
	_, err := h.service.List(context.Background(), repository.TokenFilter{Status: "bogus"})
	require.True(t, errors.Is(err, domain.ErrValidation))
}

func TestUserInfoProxiesActiveToken(t *testing.T) {
	h := newTokenTestHarness(t)
	h.seedToken(domain.Token{
		ClientID:    "app-1",
		AccessToken: "A1",
		Status:      domain.TokenStatusActive,
		ExpiresAt:   timep(time.Now().Add(time.Hour)),
	})
	h.client.callResp = json.RawMessage(`{"id":42,"nickname":"SELLER"}`)

	out, err := h.service.UserInfo(context.Background())
	require.NoError(t, err)
	require.JSONEq(t, `{"id":42,"nickname":"SELLER"}`, string(out))
	require.Equal(t, "users/me", h.client.lastCallEndpoint)
	require.Equal(t, "A1", h.client.lastCallToken)
}

func TestUserInfoSyncsLocalProfile(t *testing.T) {
	h := newTokenTestHarness(t)
	h.seedToken(domain.Token{
		ClientID:    "app-1",
		AccessToken: "A1",
		Status:      domain.TokenStatusActive,
		ExpiresAt:   timep(time.Now().Add(time.Hour)),
	})
	tokenID := int64(7)
	_, err := h.users.UpsertFromMeli(context.Background(), domain.User{MeliUserID: "42", OAuthTokenID: &tokenID})
	require.NoError(t, err)
	h.client.callResp = json.RawMessage(`{"id":42,"nickname":"SELLER","email":"seller@test","site_id":"MLA"}`)

	_, err = h.service.UserInfo(context.Background())
	require.NoError(t, err)

	user, err := h.users.GetByMeliUserID(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, "SELLER", user.Nickname)
	require.Equal(t, "seller@test", user.Email)
	require.Equal(t, "MLA", user.SiteID)
	require.NotNil(t, user.OAuthTokenID)
	require.Equal(t, tokenID, *user.OAuthTokenID)
}

func TestRelinkPreservesSyncedProfile(t *testing.T) {
	h := newTokenTestHarness(t)
	_, err := h.users.UpsertFromMeli(context.Background(), domain.User{MeliUserID: "42", Nickname: "SELLER", SiteID: "MLA"})
	require.NoError(t, err)

	h.client.exchangeResp = &meli.TokenResponse{AccessToken: "A1", UserID: int64p(42)}
	result, err := h.service.ExchangeAuthorizationCode(context.Background(), validExchangeInput())
	require.NoError(t, err)

	user, err := h.users.GetByMeliUserID(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, "SELLER", user.Nickname)
	require.Equal(t, "MLA", user.SiteID)
	require.NotNil(t, user.OAuthTokenID)
	require.Equal(t, result.Token.ID, *user.OAuthTokenID)
}

func TestExchangeLinksMarketplaceUser(t *testing.T) {
	h := newTokenTestHarness(t)
	h.client.exchangeResp = &meli.TokenResponse{AccessToken: "A1", UserID: int64p(777)}

	result, err := h.service.ExchangeAuthorizationCode(context.Background(), validExchangeInput())
	require.NoError(t, err)
	require.NotNil(t, result.Token.UserID)
	require.Equal(t, "777", *result.Token.UserID)
	require.Len(t, h.users.upserts, 1)
	require.Equal(t, "777", h.users.upserts[0].MeliUserID)
}

// ---- Test harness and fakes ----

type tokenTestHarness struct {
	service    TokenService
	tokens     *fakeTokenRepo
	users      *fakeUserRepo
	stateStore *memoryStateStore
	client     *fakeMeliClient
}

func newTokenTestHarness(t *testing.T) *tokenTestHarness {
	t.Helper()
	tokens := &fakeTokenRepo{rows: map[int64]*domain.Token{}}
	users := &fakeUserRepo{}
	stateStore := newMemoryStateStore()
	client := &fakeMeliClient{}
	cfg := config.Config{
		MeliClientID:     "app-1",
		MeliClientSecret: "secret",
		MeliRedirectURI:  "https://callback.test/oauth",
		MeliAuthURL:      "https://auth.mercadolibre.test/authorization",
	}
	svc := NewTokenService(tokens, users, stateStore, client, cfg, zap.NewNop())
	return &tokenTestHarness{
		service:    svc,
		tokens:     tokens,
		users:      users,
		stateStore: stateStore,
		client:     client,
	}
}

func (h *tokenTestHarness) seedToken(token domain.Token) int64 {
	return h.tokens.seed(token)
}

func validExchangeInput() ExchangeInput {
	return ExchangeInput{
		GrantType:    "authorization_code",
		ClientID:     "app-1",
		ClientSecret: "secret",
		RedirectURI:  "https://callback.test/oauth",
		Code:         "code-xyz",
		CodeVerifier: "verifier",
	}
}

func int64p(v int64) *int64 { return &v }

func timep(v time.Time) *time.Time { return &v }

type fakeTokenRepo struct {
	mu   sync.Mutex
	seq  int64
	rows map[int64]*domain.Token
}

var _ repository.TokenRepository = (*fakeTokenRepo)(nil)

func (f *fakeTokenRepo) seed(token domain.Token) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	token.ID = f.seq
	token.CreatedAt = time.Now()
	token.UpdatedAt = token.CreatedAt
	f.rows[token.ID] = &token
	return token.ID
}

func (f *fakeTokenRepo) all() []domain.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Token, 0, len(f.rows))
	for _, row := range f.rows {
		out = append(out, *row)
	}
	return out
}

func sameUser(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (f *fakeTokenRepo) Upsert(ctx context.Context, key repository.UpsertKey, fields repository.UpsertFields) (domain.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for _, row := range f.rows {
		if row.ClientID == key.ClientID && sameUser(row.UserID, key.UserID) {
			row.AccessToken = fields.AccessToken
			row.RefreshToken = fields.RefreshToken
			row.TokenType = fields.TokenType
			row.ExpiresIn = fields.ExpiresIn
			row.ExpiresAt = fields.ExpiresAt
			row.Scope = fields.Scope
			row.Status = domain.TokenStatusActive
			row.LastUsedAt = &now
			row.UpdatedAt = now
			return *row, nil
		}
	}
	f.seq++
	token := domain.Token{
		ID:           f.seq,
		UserID:       key.UserID,
		ClientID:     key.ClientID,
		AccessToken:  fields.AccessToken,
		RefreshToken: fields.RefreshToken,
		TokenType:    fields.TokenType,
		ExpiresIn:    fields.ExpiresIn,
		ExpiresAt:    fields.ExpiresAt,
		Scope:        fields.Scope,
		GrantType:    fields.GrantType,
		RedirectURI:  fields.RedirectURI,
		CodeVerifier: fields.CodeVerifier,
		Status:       domain.TokenStatusActive,
		LastUsedAt:   &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	f.rows[token.ID] = &token
	return token, nil
}

func (f *fakeTokenRepo) findLatest(clientID string, userID *string, requireUnexpired bool) (domain.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *domain.Token
	for _, row := range f.rows {
		if row.ClientID != clientID || row.Status != domain.TokenStatusActive {
			continue
		}
		if userID != nil && !sameUser(row.UserID, userID) {
			continue
		}
		if requireUnexpired && row.ExpiresAt != nil && row.ExpiresAt.Before(time.Now()) {
			continue
		}
		if best == nil || row.UpdatedAt.After(best.UpdatedAt) {
			best = row
		}
	}
	if best == nil {
		return domain.Token{}, domain.ErrTokenNotFound
	}
	return *best, nil
}

func (f *fakeTokenRepo) FindActive(ctx context.Context, clientID string, userID *string) (domain.Token, error) {
	return f.findLatest(clientID, userID, true)
}

func (f *fakeTokenRepo) FindCurrent(ctx context.Context, clientID string, userID *string) (domain.Token, error) {
	return f.findLatest(clientID, userID, false)
}

func (f *fakeTokenRepo) FindByID(ctx context.Context, id int64) (domain.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return domain.Token{}, domain.ErrTokenNotFound
	}
	return *row, nil
}

func (f *fakeTokenRepo) List(ctx context.Context, filter repository.TokenFilter) ([]domain.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Token
	for _, row := range f.rows {
		if filter.ClientID != "" && row.ClientID != filter.ClientID {
			continue
		}
		if filter.UserID != nil && !sameUser(row.UserID, filter.UserID) {
			continue
		}
		if filter.Status != "" && string(row.Status) != filter.Status {
			continue
		}
		out = append(out, *row)
	}
	return out, nil
}

func (f *fakeTokenRepo) Revoke(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return domain.ErrTokenNotFound
	}
	row.Status = domain.TokenStatusRevoked
	row.UpdatedAt = time.Now()
	return nil
}

func (f *fakeTokenRepo) SweepExpired(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	now := time.Now()
	for _, row := range f.rows {
		if row.Status == domain.TokenStatusActive && row.ExpiresAt != nil && row.ExpiresAt.Before(now) {
			row.Status = domain.TokenStatusExpired
			row.UpdatedAt = now
			count++
		}
	}
	return count, nil
}

func (f *fakeTokenRepo) TouchLastUsed(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		now := time.Now()
		row.LastUsedAt = &now
	}
	return nil
}

type fakeUserRepo struct {
	mu      sync.Mutex
	upserts []domain.User
}

var _ repository.UserRepository = (*fakeUserRepo)(nil)

func (f *fakeUserRepo) UpsertFromMeli(ctx context.Context, user domain.User) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.upserts {
		if existing.MeliUserID == user.MeliUserID {
			user.ID = existing.ID
			f.upserts[i] = user
			return user, nil
		}
	}
	user.ID = int64(len(f.upserts) + 1)
	f.upserts = append(f.upserts, user)
	return user, nil
}

func (f *fakeUserRepo) GetByMeliUserID(ctx context.Context, meliUserID string) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.upserts {
		if user.MeliUserID == meliUserID {
			return user, nil
		}
	}
	return domain.User{}, domain.ErrUserNotFound
}

type memoryStateStore struct {
	mu     sync.Mutex
	states map[string]domain.AuthState
}

var _ repository.AuthStateStore = (*memoryStateStore)(nil)

func newMemoryStateStore() *memoryStateStore {
	return &memoryStateStore{states: map[string]domain.AuthState{}}
}

func (m *memoryStateStore) SaveState(ctx context.Context, data domain.AuthState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[data.State] = data
	return nil
}

func (m *memoryStateStore) GetState(ctx context.Context, state string) (*domain.AuthState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out, ok := m.states[state]
	if !ok {
		return nil, nil
	}
	return &out, nil
}

func (m *memoryStateStore) DeleteState(ctx context.Context, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, state)
	return nil
}

type fakeMeliClient struct {
	mu               sync.Mutex
	exchangeResp     *meli.TokenResponse
	exchangeErr      error
	lastExchange     meli.ExchangeInput
	refreshResp      *meli.TokenResponse
	refreshErr       error
	refreshCalls     int
	refreshDelay     time.Duration
	lastRefreshToken string
	callResp         json.RawMessage
	callErr          error
	lastCallEndpoint string
	lastCallToken    string
}

var _ meli.Client = (*fakeMeliClient)(nil)

func (f *fakeMeliClient) ExchangeCode(ctx context.Context, in meli.ExchangeInput) (*meli.TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastExchange = in
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	if f.exchangeResp == nil {
		return nil, fmt.Errorf("no exchange response configured")
	}
	return f.exchangeResp, nil
}

func (f *fakeMeliClient) Refresh(ctx context.Context, refreshToken, clientID, clientSecret string) (*meli.TokenResponse, error) {
	f.mu.Lock()
	f.refreshCalls++
	f.lastRefreshToken = refreshToken
	delay := f.refreshDelay
	resp, err := f.refreshResp, f.refreshErr
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("no refresh response configured")
	}
	return resp, nil
}

func (f *fakeMeliClient) Call(ctx context.Context, endpoint, accessToken, method string, params map[string]any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCallEndpoint = endpoint
	f.lastCallToken = accessToken
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.callResp, nil
}
