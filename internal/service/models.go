package service

import (
	"strconv"
	"time"

	"github.com/storelink/meli-auth/internal/domain"
)

// TokenView is the client-facing projection of a stored token. Secret
// fields (access_token, refresh_token, code_verifier) are never serialized.
// Snowflake IDs serialize as strings so JS clients cannot mangle them.
type TokenView struct {
	ID          string     `json:"id"`
	UserID      *string    `json:"user_id,omitempty"`
	ClientID    string     `json:"client_id"`
	TokenType   string     `json:"token_type"`
	ExpiresIn   *int64     `json:"expires_in,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Scope       []string   `json:"scope,omitempty"`
	GrantType   string     `json:"grant_type"`
	RedirectURI string     `json:"redirect_uri,omitempty"`
	Status      string     `json:"status"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewTokenView projects a domain token for API responses.
func NewTokenView(t domain.Token) TokenView {
	return TokenView{
		ID:          strconv.FormatInt(t.ID, 10),
		UserID:      t.UserID,
		ClientID:    t.ClientID,
		TokenType:   t.TokenType,
		ExpiresIn:   t.ExpiresIn,
		ExpiresAt:   t.ExpiresAt,
		Scope:       t.Scope,
		GrantType:   t.GrantType,
		RedirectURI: t.RedirectURI,
		Status:      string(t.Status),
		LastUsedAt:  t.LastUsedAt,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// NewTokenViews projects a list, keeping the store's ordering.
func NewTokenViews(tokens []domain.Token) []TokenView {
	views := make([]TokenView, 0, len(tokens))
	for _, t := range tokens {
		views = append(views, NewTokenView(t))
	}
	return views
}
