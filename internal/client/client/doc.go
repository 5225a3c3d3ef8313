// Package client is the client's view of the backend.
//
// # Overview
//
// The package provides:
//  1. Transport-agnostic contracts: Backend (fetch since a watermark,
//     idempotent send, lookups and the reachability probe), Realtime (the
//     change feed) and Authenticator.
//  2. HTTPBackend, a REST implementation that injects the API key and the
//     access token, refreshes an expired token once per call, and maps HTTP
//     statuses to the sentinel errors of internal/common.
//  3. WSRealtime, a websocket subscriber for the change feed.
//
// # Error Handling
//
// Callers match with errors.Is:
//
//   - common.ErrTransientNetwork: timeouts, connection failures, 5xx, 429
//   - common.ErrValidation: 400 and 422
//   - common.ErrDuplicate: 409 (uniqueness violation)
//   - common.ErrUnauthorized: 401 and 403 after a failed refresh
//   - common.ErrNotFound: 404 from lookups
//
// All operations honour context cancellation.
package client
