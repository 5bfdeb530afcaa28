package token

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no row exists for the presented token id.
var ErrNotFound = errors.New("refresh token not found")

// ErrHashMismatch is returned when the presented secret does not hash to the
// stored value.
var ErrHashMismatch = errors.New("refresh secret hash mismatch")

// ErrExpired is returned when the row is past its expiry.
var ErrExpired = errors.New("refresh token expired")

// ErrRevoked is returned when the row was revoked by logout or breach handling.
var ErrRevoked = errors.New("refresh token revoked")

// ErrRotated is returned when the row was already exchanged for a successor.
// A caller observing it holds a stolen or replayed secret; the Authority
// responds by revoking the whole chain.
var ErrRotated = errors.New("refresh token already rotated")

// Successor carries the fields of the row a rotation inserts. The store
// copies Subject from the rotated row so both constructions agree.
type Successor struct {
	ID          string
	SecretHash  [32]byte
	IssuedAt    time.Time
	ExpiresAt   time.Time
	ClientIP    string
	ClientAgent string
}

// Store is the persistence contract for refresh-token rows.
//
// Rotate must serialize the observe-and-flip of RotatedAt per row: of any
// number of concurrent calls for the same id, exactly one returns nil and the
// rest return ErrRotated. The check order is fixed — existence, secret hash,
// revocation, expiry, rotation — so that an attacker holding a wrong secret
// learns nothing about the row's state.
type Store interface {
	// Create persists a freshly issued row.
	Create(ctx context.Context, row *RefreshToken) error

	// Get loads a row by id.
	Get(ctx context.Context, id string) (*RefreshToken, error)

	// Rotate atomically marks the row rotated, links it to the successor, and
	// inserts the successor. It returns the rotated row on success.
	Rotate(ctx context.Context, id string, providedHash [32]byte, successor Successor) (*RefreshToken, error)

	// Revoke soft-revokes a row. Revoking a missing or already-revoked row is
	// not an error; the boolean reports whether this call changed state.
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)

	// RevokeChain revokes the row and every transitive successor that is not
	// already revoked, returning the number of rows newly revoked.
	RevokeChain(ctx context.Context, id string, at time.Time) (int, error)
}
