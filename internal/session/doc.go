// Package session implements the authenticated-session resilience layer:
// an in-memory credential store, a single-flight token-refresh coordinator,
// a proactive expiry-driven refresh scheduler, persisted session artifacts,
// and idempotent session termination.
//
// The refresh token itself is server-owned, delivered as an HTTP-only
// cookie the client never reads; it travels implicitly through the HTTP
// client's cookie jar.
package session
