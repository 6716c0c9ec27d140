package domain

import "time"

// AuthState captures the state/PKCE tuple persisted between building the
// authorization URL and receiving the code exchange. The verifier is a
// secret; it lives only in the short-lived state store, never in logs.
type AuthState struct {
	State        string    `json:"state"`
	CodeVerifier string    `json:"code_verifier"`
	ClientID     string    `json:"client_id"`
	RedirectURI  string    `json:"redirect_uri"`
	CreatedAt    time.Time `json:"created_at"`
}
