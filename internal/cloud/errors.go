package cloud

import "errors"

// Sentinel errors for cloud API failures.
//
// These are checked with errors.Is() by the retry wrapper, which is the
// only place that decides retry-vs-abort. Keep the taxonomy small: either
// the account needs re-authentication, or the call is worth retrying.
var (
	// ErrUnauthenticated is returned when the API rejects our credentials.
	ErrUnauthenticated = errors.New("cloud: unauthenticated")

	// ErrTokenExpired is returned when the access token has expired and
	// could not be refreshed.
	ErrTokenExpired = errors.New("cloud: token expired")

	// ErrRequestFailed is returned for API-level failures (non-2xx
	// responses that are not authentication failures).
	ErrRequestFailed = errors.New("cloud: request failed")

	// ErrConnection is returned for transport-level failures (DNS,
	// timeouts, refused connections).
	ErrConnection = errors.New("cloud: connection failed")
)

// IsAuthError reports whether err is a fatal authentication failure that
// requires the re-authentication flow. Never retried.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthenticated) || errors.Is(err, ErrTokenExpired)
}

// IsTransientError reports whether err is a transient failure worth retrying.
func IsTransientError(err error) bool {
	return errors.Is(err, ErrRequestFailed) || errors.Is(err, ErrConnection)
}
