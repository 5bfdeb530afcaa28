// Package authflux manages the lifetime of an authenticated session built on
// a short-lived signed access token and a long-lived rotating refresh token.
//
// The package is the server-side half of the system: [Authority] owns refresh
// token issuance, single-use rotation with reuse (breach) detection, soft
// revocation, and the access-token blacklist consulted by request guards.
// The client-side half — cross-tab leader election and refresh scheduling —
// lives in the coordinator sub-package.
//
// Authority methods are safe to call from multiple goroutines after
// construction through [New].
//
// # Architecture boundaries
//
// authflux is the public surface. It exposes [Authority], [Config], [Deps],
// and value types (TokenPair, AuditEvent, MetricsSnapshot). Token persistence
// lives in the token sub-package, access-token denial in blacklist, and the
// default signer in jwt; all of them are injected through [Deps] so callers
// can substitute their own storage or signing collaborators.
//
// # What this package must NOT do
//
//   - Verify passwords or provision identities. Credential verification is an
//     external collaborator wired into the HTTP layer.
//   - Persist audit events. Events are emitted to a caller-supplied [AuditSink]
//     for an external monitor to record.
//   - Reveal to callers why a refresh was rejected. Expired, revoked, breached,
//     and unknown tokens all surface as [ErrInvalidToken]; the differentiated
//     reason travels only on the audit stream.
package authflux
