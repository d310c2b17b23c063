// Package session tracks active sessions in memory.
//
// A session is an opaque 256-bit token bound to a principal and a role
// snapshot taken at login. The store enforces a per-principal capacity
// with a configurable policy (reject the new login, or evict the
// oldest session), expires sessions on a sliding idle window, and runs
// a background sweeper so abandoned sessions disappear without being
// touched.
//
// Sessions live only in process memory. A restart drops them all,
// which is the intended behaviour: tokens are server-side handles, not
// self-validating credentials, so eviction and mass revocation always
// take effect immediately.
//
// Lifecycle transitions (created, expired, evicted, invalidated,
// revoked) are reported through an optional callback; see OnEvent.
package session
