// Package httpapi exposes the Token Authority over three endpoints:
//
//	POST /auth/login   — credentials in, token pair out, refresh cookie set
//	POST /auth/refresh — rotates the pair; 401 {"error":"invalid_token"} on
//	                     any rejection, with the cause deliberately withheld
//	POST /auth/logout  — 204 regardless of token state (idempotent)
//
// Credential verification is an external collaborator injected as
// [CredentialVerifier]; this package never sees password hashes.
//
// [Guard] wraps protected handlers with end-to-end access-token validation,
// including the blacklist consult.
package httpapi
