package meli

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrTransport wraps network-level failures reaching the marketplace,
	// including client timeouts. Never retried automatically.
	ErrTransport = errors.New("meli: transport failure")
	// ErrDecode wraps malformed JSON bodies returned by the marketplace.
	ErrDecode = errors.New("meli: decode response")
)

// APIError is returned whenever the marketplace answers with a non-2xx
// status. All three outbound request shapes share the same status check.
type APIError struct {
	Status int
	Body   json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("meli: api error: status=%d body=%s", e.Status, truncate(string(e.Body), 256))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// redactToken shortens a credential for log output.
func redactToken(token string) string {
	if len(token) <= 10 {
		return "..."
	}
	return token[:10] + "..."
}
