package bosta

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrLoginCooldown = errors.New("login cooldown active")
	ErrNoCredentials = errors.New("no login credentials configured")
	errUnauthorized  = errors.New("unauthorized")
)

// AuthError is a failed or refused login. It is never retried by the provider.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bosta auth: %s: %v", e.Reason, e.Err)
	}
	return "bosta auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransientError covers timeouts, refused connections, 429 and 5xx.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("bosta transient: http %d", e.StatusCode)
	}
	return fmt.Sprintf("bosta transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NotFoundError is a 404 from the remote API. For detail lookups it is an
// expected inconsistency, not a failure.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return "bosta: not found " + e.Path
}

// APIError is any other non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bosta api: http %d: %s", e.StatusCode, e.Body)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
