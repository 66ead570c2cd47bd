// Package cloud implements the client for the Kwikset cloud API.
//
// The bridge never talks to locks directly - every read and command goes
// through the vendor's cloud. This package owns that boundary:
//
//   - Client is the call surface the rest of the bridge consumes
//     (device info, history, lock/unlock, settings, access codes).
//   - TokenManager keeps the Cognito-issued JWT tokens valid, refreshing
//     ahead of expiry and falling back to a full re-login when a stored
//     password is available.
//   - Event is the payload shape delivered on the realtime push channel.
//
// # Error taxonomy
//
// Every call failure is classified exactly once, here, into one of four
// sentinel errors: ErrUnauthenticated and ErrTokenExpired (fatal, the
// account needs re-authentication), ErrConnection and ErrRequestFailed
// (transient, safe to retry). Callers use IsAuthError / IsTransientError
// and must not reclassify.
//
// The wire format of individual endpoints is deliberately kept thin; the
// interesting behaviour lives in the callers (retry, coordinator), not in
// the HTTP plumbing.
package cloud
