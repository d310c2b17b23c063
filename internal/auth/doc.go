// Package auth provides credential verification and login-outcome
// handling for Gatehouse.
//
// It implements:
//   - Bcrypt password hashing with a configurable work factor
//   - A credential verifier that never reveals whether an identifier
//     exists (every miss path burns a dummy bcrypt comparison)
//   - SQLite persistence for principals: local accounts, federated
//     accounts keyed on (provider, external id), and accounts with both
//   - The login flow: session creation, redirect targets, audit
//     records, and once-only provisioning of federated identities
//   - First-boot admin seeding with a generated password
//
// There is deliberately no login throttling or lockout in this
// package; failures are audited so an outer layer can rate-limit.
package auth
