package domain

import "time"

// TokenStatus enumerates lifecycle states of a stored grant.
// Transitions are monotonic: active may become expired or revoked; neither
// terminal state transitions back without a brand-new exchange.
type TokenStatus string

const (
	TokenStatusActive  TokenStatus = "active"
	TokenStatusExpired TokenStatus = "expired"
	TokenStatusRevoked TokenStatus = "revoked"
)

// ValidStatus reports whether s is one of the known token statuses.
func ValidStatus(s string) bool {
	switch TokenStatus(s) {
	case TokenStatusActive, TokenStatusExpired, TokenStatusRevoked:
		return true
	}
	return false
}

// Token persists one OAuth grant for a (client_id, user_id) pair.
// AccessToken, RefreshToken and CodeVerifier are plaintext in memory; the
// repository encrypts them before write and decrypts them on read.
type Token struct {
	ID           int64
	UserID       *string
	ClientID     string
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    *int64
	ExpiresAt    *time.Time
	Scope        []string
	GrantType    string
	RedirectURI  string
	CodeVerifier string
	Status       TokenStatus
	LastUsedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsExpired reports whether the grant's absolute expiry has passed. A nil
// ExpiresAt means the upstream response carried no expires_in and the token
// is treated as non-expiring.
func (t *Token) IsExpired(now time.Time) bool {
	if t.ExpiresAt == nil {
		return false
	}
	return t.ExpiresAt.Before(now)
}

// IsUsable reports whether the token can authenticate an API call right now.
func (t *Token) IsUsable(now time.Time) bool {
	return t.Status == TokenStatusActive && !t.IsExpired(now)
}

// User is the local account optionally linked 1:1 to a marketplace identity
// and to one stored token.
type User struct {
	ID           int64
	MeliUserID   string
	Nickname     string
	Email        string
	SiteID       string
	OAuthTokenID *int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
