// Package token persists refresh-token rows and implements the single-use
// rotation contract the Authority builds breach detection on.
//
// Rows are append-mostly: a token is never deleted on state change, only
// marked rotated or revoked, so the full rotation chain stays available for
// forensics. Two stores are provided: [RedisStore], whose rotation runs as a
// single Lua script, and [PostgresStore], whose rotation winner is decided by
// a conditional UPDATE on rotated_at. Both guarantee that of N concurrent
// rotations presenting the same secret exactly one succeeds and every loser
// observes [ErrRotated].
//
// # What this package must NOT do
//
//   - See plaintext refresh secrets. Callers hash before storing or matching.
//   - Decide policy. Mapping store sentinels onto the undifferentiated
//     external error is the Authority's job.
package token
