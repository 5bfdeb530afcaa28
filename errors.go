package authflux

import "errors"

var (
	// ErrInvalidRequest is returned when a required input is missing or malformed.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidToken is returned for every refresh rejection. Expired, revoked,
	// breached, and unknown tokens are deliberately indistinguishable to callers;
	// the differentiated reason is emitted on the audit stream only.
	ErrInvalidToken = errors.New("invalid token")
	// ErrUserNotFound is returned when a refresh token is structurally valid but
	// the subject it references no longer exists.
	ErrUserNotFound = errors.New("user not found")
	// ErrAccessTokenInvalid is returned when an access token fails signature,
	// expiry, or blacklist checks.
	ErrAccessTokenInvalid = errors.New("invalid access token")
	// ErrAuthorityNotReady is returned when a required dependency was not wired
	// into New.
	ErrAuthorityNotReady = errors.New("authority not fully initialized")
)
