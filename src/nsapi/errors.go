package nsapi

import (
	"errors"
	"fmt"
)

// Sentinel errors for explicit error handling. Callers classify failures
// with errors.Is / errors.As instead of string matching.
var (
	// ErrUnavailable indicates every candidate endpoint failed at the
	// transport level (unreachable, timeout, network error)
	ErrUnavailable = errors.New("upstream PBX unreachable")

	// ErrResourceLimit indicates a paginated listing exceeded the configured
	// item ceiling
	ErrResourceLimit = errors.New("resource limit exceeded")
)

// APIError is a non-2xx, non-404 response received from the PBX. The status
// code drives retry/permanence decisions in the maintenance engine.
type APIError struct {
	Status int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("PBX API error: status %d", e.Status)
}

// IsPermanentAuthError reports whether err is an API error whose status
// marks a refresh token as permanently rejected (400, 401, 403).
func IsPermanentAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Status {
	case 400, 401, 403:
		return true
	}
	return false
}
