package token

import "time"

// RefreshToken is one row of the rotation chain. SecretHash is the SHA-256
// of the random secret handed to the client; the plaintext is never stored.
type RefreshToken struct {
	ID          string
	SecretHash  [32]byte
	Subject     string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	RevokedAt   *time.Time
	RotatedAt   *time.Time
	SuccessorID string
	ClientIP    string
	ClientAgent string
}

// Usable reports whether the row may still be exchanged for a successor:
// not revoked, not rotated, not past expiry.
func (t *RefreshToken) Usable(now time.Time) bool {
	if t == nil {
		return false
	}
	return t.RevokedAt == nil && t.RotatedAt == nil && now.Before(t.ExpiresAt)
}

// Revoked reports whether the row reached its terminal revoked state.
func (t *RefreshToken) Revoked() bool {
	return t != nil && t.RevokedAt != nil
}

// Rotated reports whether the row was exchanged for a successor.
func (t *RefreshToken) Rotated() bool {
	return t != nil && t.RotatedAt != nil
}
