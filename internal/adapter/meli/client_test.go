package meli

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*HTTPClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL, srv.Client(), zap.NewNop()), srv
}

func TestExchangeCodeSendsFormAndDecodes(t *testing.T) {
	var gotForm map[string]string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/oauth/token", r.URL.Path)
		require.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"grant_type":    r.PostFormValue("grant_type"),
			"client_id":     r.PostFormValue("client_id"),
			"code":          r.PostFormValue("code"),
			"redirect_uri":  r.PostFormValue("redirect_uri"),
			"code_verifier": r.PostFormValue("code_verifier"),
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token":"A1","token_type":"Bearer","expires_in":21600,"scope":"read write","user_id":123,"refresh_token":"R1"}`)
	})

	resp, err := client.ExchangeCode(context.Background(), ExchangeInput{
		ClientID:     "app-1",
		ClientSecret: "secret",
		RedirectURI:  "https://callback.test/oauth",
		Code:         "code-xyz",
		CodeVerifier: "verifier",
	})
	require.NoError(t, err)
	require.Equal(t, "authorization_code", gotForm["grant_type"])
	require.Equal(t, "app-1", gotForm["client_id"])
	require.Equal(t, "code-xyz", gotForm["code"])
	require.Equal(t, "https://callback.test/oauth", gotForm["redirect_uri"])
	require.Equal(t, "verifier", gotForm["code_verifier"])

	require.Equal(t, "A1", resp.AccessToken)
	require.Equal(t, "R1", resp.RefreshToken)
	require.NotNil(t, resp.ExpiresIn)
	require.Equal(t, int64(21600), *resp.ExpiresIn)
	require.NotNil(t, resp.UserID)
	require.Equal(t, int64(123), *resp.UserID)
}

func TestExchangeCodeFailsOnUpstreamStatus(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"invalid_grant"}`)
	})

	_, err := client.ExchangeCode(context.Background(), ExchangeInput{ClientID: "app-1", Code: "stale"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadRequest, apiErr.Status)
	require.JSONEq(t, `{"error":"invalid_grant"}`, string(apiErr.Body))
}

func TestRefreshSendsRefreshGrant(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.PostFormValue("grant_type"))
		require.Equal(t, "R1", r.PostFormValue("refresh_token"))
		io.WriteString(w, `{"access_token":"A2","token_type":"Bearer","expires_in":21600,"refresh_token":"R2"}`)
	})

	resp, err := client.Refresh(context.Background(), "R1", "app-1", "secret")
	require.NoError(t, err)
	require.Equal(t, "A2", resp.AccessToken)
	require.Equal(t, "R2", resp.RefreshToken)
}

func TestRefreshFailsOnUpstreamStatus(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":"invalid_token"}`)
	})

	_, err := client.Refresh(context.Background(), "R1", "app-1", "secret")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestCallGetSerializesQuery(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/users/me", r.URL.Path)
		require.Equal(t, "MLB", r.URL.Query().Get("site_id"))
		require.Equal(t, "Bearer A1", r.Header.Get("Authorization"))
		io.WriteString(w, `{"id":123,"nickname":"TESTUSER"}`)
	})

	out, err := client.Call(context.Background(), "users/me", "A1", http.MethodGet, map[string]any{"site_id": "MLB"})
	require.NoError(t, err)
	require.JSONEq(t, `{"id":123,"nickname":"TESTUSER"}`, string(out))
}

func TestCallPostSendsJSONBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "MLB", body["site_id"])
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":999}`)
	})

	out, err := client.Call(context.Background(), "users/test_user", "A1", http.MethodPost, map[string]any{"site_id": "MLB"})
	require.NoError(t, err)
	require.JSONEq(t, `{"id":999}`, string(out))
}

func TestCallNotFoundBecomesAPIError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"message":"not found"}`)
	})

	_, err := client.Call(context.Background(), "items/MLB404", "A1", http.MethodGet, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.Status)
	require.JSONEq(t, `{"message":"not found"}`, string(apiErr.Body))
}

func TestCallInvalidJSONBecomesDecodeError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html>not json</html>`)
	})

	_, err := client.Call(context.Background(), "users/me", "A1", http.MethodGet, nil)
	require.True(t, errors.Is(err, ErrDecode))
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	client := NewHTTPClient(srv.URL, nil, zap.NewNop())

	_, err := client.Refresh(context.Background(), "R1", "app-1", "secret")
	require.True(t, errors.Is(err, ErrTransport))
}
