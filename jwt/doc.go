// Package jwt is the default access-token signer for authflux. It mints and
// verifies short-lived JWS access tokens with ed25519 (default) or HS256.
//
// The Authority treats the access token as an opaque bearer string with a
// known expiry; this package is one implementation of that collaborator and
// callers may substitute their own by satisfying authflux.AccessSigner.
//
// # What this package must NOT do
//
//   - Embed refresh-token state or rotation metadata in claims.
//   - Consult any store. Blacklist checks belong to the Authority.
package jwt
