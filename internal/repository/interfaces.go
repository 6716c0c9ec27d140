package repository

import (
	"context"
	"time"

	"github.com/storelink/meli-auth/internal/domain"
)

// UpsertKey identifies the one row a grant may occupy. Exactly one token is
// active per (client_id, user_id) pair; upserting collapses onto it.
type UpsertKey struct {
	ClientID string
	UserID   *string
}

// UpsertFields carries the full field replacement applied on upsert.
// Secret fields arrive as plaintext; the repository encrypts them.
type UpsertFields struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    *int64
	ExpiresAt    *time.Time
	Scope        []string
	GrantType    string
	RedirectURI  string
	CodeVerifier string
}

// TokenFilter narrows List results. Zero values mean "no filter".
type TokenFilter struct {
	ClientID string
	UserID   *string
	Status   string
}

// TokenRepository handles durable CRUD over token rows. Implementations
// encrypt secrets before write and decrypt on read; callers never see
// ciphertext. Rows are never hard-deleted.
type TokenRepository interface {
	// Upsert replaces the row matching key in place, or inserts a new
	// active row. Either way last_used_at is bumped and the stored row
	// returned with plaintext secrets.
	Upsert(ctx context.Context, key UpsertKey, fields UpsertFields) (domain.Token, error)
	// FindActive returns the most-recently-updated active row that has
	// not passed its expiry. Absent rows yield domain.ErrTokenNotFound.
	FindActive(ctx context.Context, clientID string, userID *string) (domain.Token, error)
	// FindCurrent returns the most-recently-updated active-status row
	// regardless of expiry, so the lifecycle manager can detect a grant
	// that needs refreshing.
	FindCurrent(ctx context.Context, clientID string, userID *string) (domain.Token, error)
	FindByID(ctx context.Context, id int64) (domain.Token, error)
	List(ctx context.Context, filter TokenFilter) ([]domain.Token, error)
	// Revoke marks the row revoked. Idempotent on already-revoked rows;
	// unknown ids yield domain.ErrTokenNotFound.
	Revoke(ctx context.Context, id int64) error
	// SweepExpired flips active rows whose expires_at is in the past to
	// expired and returns how many rows changed.
	SweepExpired(ctx context.Context) (int64, error)
	// TouchLastUsed bumps last_used_at on a served token.
	TouchLastUsed(ctx context.Context, id int64) error
}

// AuthStateStore persists short-lived authorization state/PKCE structures,
// keyed by the opaque state value. Key layout and expiry are the store's
// concern, not the caller's.
type AuthStateStore interface {
	SaveState(ctx context.Context, data domain.AuthState) error
	GetState(ctx context.Context, state string) (*domain.AuthState, error)
	DeleteState(ctx context.Context, state string) error
}

// UserRepository persists the local accounts linked to marketplace identities.
type UserRepository interface {
	// UpsertFromMeli inserts or refreshes the account keyed by the
	// marketplace user id, linking it to the stored token row.
	UpsertFromMeli(ctx context.Context, user domain.User) (domain.User, error)
	GetByMeliUserID(ctx context.Context, meliUserID string) (domain.User, error)
}
