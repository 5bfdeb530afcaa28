package authflux

import (
	"context"
	"errors"
	"time"

	"github.com/tidewell/authflux/token"
)

const (
	auditEventIssueSuccess         = "issue_success"
	auditEventIssueFailure         = "issue_failure"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshInvalid       = "refresh_invalid"
	auditEventRefreshReuseDetected = "refresh_reuse_detected"
	auditEventLogout               = "logout"
	auditEventBlacklistAdd         = "blacklist_add"
	auditEventValidateDenied       = "validate_denied"
)

// AuditErrorCode defines a public type used by authflux APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrInvalidRequest AuditErrorCode = "invalid_request"
	auditErrInvalidToken   AuditErrorCode = "invalid_token"
	auditErrTokenNotFound  AuditErrorCode = "token_not_found"
	auditErrTokenExpired   AuditErrorCode = "token_expired"
	auditErrTokenRevoked   AuditErrorCode = "token_revoked"
	auditErrTokenReuse     AuditErrorCode = "token_reuse"
	auditErrUserNotFound   AuditErrorCode = "user_not_found"
	auditErrBlacklisted    AuditErrorCode = "blacklisted"
	auditErrInternal       AuditErrorCode = "internal_error"
)

// auditErrorCode maps the internal, differentiated failure to the code the
// external monitor records. This is the only place rejection causes are told
// apart; the public API collapses them all into ErrInvalidToken.
func auditErrorCode(err error) AuditErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return auditErrInvalidRequest
	case errors.Is(err, token.ErrNotFound):
		return auditErrTokenNotFound
	case errors.Is(err, token.ErrHashMismatch):
		return auditErrInvalidToken
	case errors.Is(err, token.ErrExpired):
		return auditErrTokenExpired
	case errors.Is(err, token.ErrRevoked):
		return auditErrTokenRevoked
	case errors.Is(err, token.ErrRotated):
		return auditErrTokenReuse
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrAccessTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrInvalidToken):
		return auditErrInvalidToken
	default:
		return auditErrInternal
	}
}

func (a *Authority) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subject string,
	tokenID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if a == nil || a.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Subject:   subject,
		TokenID:   tokenID,
		IP:        clientIPFromContext(ctx),
		Agent:     userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	a.audit.Emit(ctx, event)
}
