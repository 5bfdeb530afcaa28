package authflux

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/tidewell/authflux/blacklist"
	"github.com/tidewell/authflux/internal"
	"github.com/tidewell/authflux/token"
)

// AccessSigner mints and verifies the opaque access token. The Authority
// designs nothing about the signing scheme; it only needs the subject, the
// expiry, and a stable signature segment to key blacklist entries.
type AccessSigner interface {
	IssueAccess(subject string) (token string, expiresAt time.Time, err error)
	VerifyAccess(token string) (subject string, expiresAt time.Time, err error)
	Signature(token string) (string, error)
}

// SubjectProvider is an optional existence check for the subject a refresh
// token references. When wired, a rotation whose subject has disappeared is
// revoked and rejected.
type SubjectProvider interface {
	SubjectExists(ctx context.Context, subject string) (bool, error)
}

// Deps carries the collaborators wired into New.
type Deps struct {
	Tokens    token.Store
	Blacklist blacklist.Store
	Signer    AccessSigner
	Subjects  SubjectProvider
	AuditSink AuditSink
}

// TokenPair is the result of Issue and Refresh: a signed access token, the
// refresh token handed to the caller exactly once, and the access token's
// lifetime in seconds.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// Authority defines a public type used by authflux APIs.
//
// Authority instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Authority struct {
	config    Config
	tokens    token.Store
	blacklist blacklist.Store
	signer    AccessSigner
	subjects  SubjectProvider
	audit     *auditDispatcher
	metrics   *Metrics
}

// New validates the configuration and wires an Authority.
func New(cfg Config, deps Deps) (*Authority, error) {
	cfg.Normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if deps.Tokens == nil || deps.Blacklist == nil || deps.Signer == nil {
		return nil, ErrAuthorityNotReady
	}

	return &Authority{
		config:    cfg,
		tokens:    deps.Tokens,
		blacklist: deps.Blacklist,
		signer:    deps.Signer,
		subjects:  deps.Subjects,
		audit:     newAuditDispatcher(cfg.Audit, deps.AuditSink),
		metrics:   NewMetrics(cfg.Metrics),
	}, nil
}

// Close drains the audit dispatcher. The Authority must not be used after
// Close.
func (a *Authority) Close() {
	if a == nil {
		return
	}
	if a.audit != nil {
		a.audit.Close()
	}
}

// AuditDropped reports audit events discarded under DropIfFull.
func (a *Authority) AuditDropped() uint64 {
	if a == nil || a.audit == nil {
		return 0
	}
	return a.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the Authority's counters.
func (a *Authority) MetricsSnapshot() MetricsSnapshot {
	if a == nil || a.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return a.metrics.Snapshot()
}

func (a *Authority) metricInc(id MetricID) {
	if a != nil {
		a.metrics.Inc(id)
	}
}

// Issue creates a fresh refresh-token row for subject and mints an access
// token. The returned refresh secret exists in plaintext exactly once, inside
// the returned pair.
func (a *Authority) Issue(ctx context.Context, subject string) (TokenPair, error) {
	if subject == "" {
		return TokenPair{}, ErrInvalidRequest
	}

	id, err := internal.NewTokenID()
	if err != nil {
		return TokenPair{}, err
	}
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return TokenPair{}, err
	}

	now := time.Now().UTC()
	row := &token.RefreshToken{
		ID:          id,
		SecretHash:  internal.HashRefreshSecret(secret),
		Subject:     subject,
		IssuedAt:    now,
		ExpiresAt:   now.Add(a.config.Token.RefreshTTL),
		ClientIP:    clientIPFromContext(ctx),
		ClientAgent: userAgentFromContext(ctx),
	}
	if err := a.tokens.Create(ctx, row); err != nil {
		a.emitAudit(ctx, auditEventIssueFailure, false, subject, id, err, nil)
		return TokenPair{}, err
	}

	access, accessExpiry, err := a.signer.IssueAccess(subject)
	if err != nil {
		a.emitAudit(ctx, auditEventIssueFailure, false, subject, id, err, nil)
		return TokenPair{}, err
	}

	refresh, err := internal.EncodeRefreshToken(id, secret)
	if err != nil {
		a.emitAudit(ctx, auditEventIssueFailure, false, subject, id, err, nil)
		return TokenPair{}, err
	}

	a.metricInc(MetricIssue)
	a.emitAudit(ctx, auditEventIssueSuccess, true, subject, id, nil, nil)

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(time.Until(accessExpiry).Seconds()),
	}, nil
}

// Refresh exchanges a refresh token for a rotated successor pair. Every
// rejection surfaces as ErrInvalidToken; presenting an already-rotated token
// additionally revokes the whole descendant chain, since the legitimate
// holder only ever possesses the newest link.
func (a *Authority) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	id, providedSecret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		a.metricInc(MetricRefreshFailure)
		a.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrInvalidToken, func() map[string]string {
			return map[string]string{
				"reason": "decode_failed",
			}
		})
		return TokenPair{}, ErrInvalidToken
	}

	nextID, err := internal.NewTokenID()
	if err != nil {
		a.metricInc(MetricRefreshFailure)
		a.emitAudit(ctx, auditEventRefreshInvalid, false, "", id, err, nil)
		return TokenPair{}, err
	}
	nextSecret, err := internal.NewRefreshSecret()
	if err != nil {
		a.metricInc(MetricRefreshFailure)
		a.emitAudit(ctx, auditEventRefreshInvalid, false, "", id, err, nil)
		return TokenPair{}, err
	}

	now := time.Now().UTC()
	rotated, err := a.tokens.Rotate(ctx, id, internal.HashRefreshSecret(providedSecret), token.Successor{
		ID:          nextID,
		SecretHash:  internal.HashRefreshSecret(nextSecret),
		IssuedAt:    now,
		ExpiresAt:   now.Add(a.config.Token.RefreshTTL),
		ClientIP:    clientIPFromContext(ctx),
		ClientAgent: userAgentFromContext(ctx),
	})
	if err != nil {
		switch {
		case errors.Is(err, token.ErrRotated):
			// Reuse of a rotated token is conclusive evidence the secret was
			// copied; burn every link from here to the end of the chain.
			a.metricInc(MetricRefreshReuseDetected)
			chainRevoked, chainErr := a.tokens.RevokeChain(ctx, id, now)
			if chainErr != nil {
				log.Print("authflux: breach chain revocation failed")
			}
			a.metrics.Add(MetricChainRevoked, uint64(chainRevoked))
			a.emitAudit(ctx, auditEventRefreshReuseDetected, false, "", id, err, func() map[string]string {
				return map[string]string{
					"chain_revoked": strconv.Itoa(chainRevoked),
				}
			})
			return TokenPair{}, ErrInvalidToken
		case errors.Is(err, token.ErrNotFound),
			errors.Is(err, token.ErrHashMismatch),
			errors.Is(err, token.ErrRevoked),
			errors.Is(err, token.ErrExpired):
			a.metricInc(MetricRefreshFailure)
			a.emitAudit(ctx, auditEventRefreshInvalid, false, "", id, err, nil)
			return TokenPair{}, ErrInvalidToken
		default:
			// Storage failure: surfaced unchanged so the HTTP layer can answer 5xx.
			a.metricInc(MetricRefreshFailure)
			a.emitAudit(ctx, auditEventRefreshInvalid, false, "", id, err, nil)
			return TokenPair{}, err
		}
	}

	if a.subjects != nil {
		exists, subErr := a.subjects.SubjectExists(ctx, rotated.Subject)
		if subErr != nil {
			a.metricInc(MetricRefreshFailure)
			a.emitAudit(ctx, auditEventRefreshInvalid, false, rotated.Subject, id, subErr, nil)
			return TokenPair{}, subErr
		}
		if !exists {
			if _, revErr := a.tokens.Revoke(ctx, nextID, now); revErr != nil {
				log.Print("authflux: orphan successor revocation failed")
			}
			a.metricInc(MetricRefreshFailure)
			a.emitAudit(ctx, auditEventRefreshInvalid, false, rotated.Subject, id, ErrUserNotFound, nil)
			return TokenPair{}, ErrUserNotFound
		}
	}

	access, accessExpiry, err := a.signer.IssueAccess(rotated.Subject)
	if err != nil {
		a.metricInc(MetricRefreshFailure)
		a.emitAudit(ctx, auditEventRefreshInvalid, false, rotated.Subject, id, err, nil)
		return TokenPair{}, err
	}

	refresh, err := internal.EncodeRefreshToken(nextID, nextSecret)
	if err != nil {
		a.metricInc(MetricRefreshFailure)
		a.emitAudit(ctx, auditEventRefreshInvalid, false, rotated.Subject, id, err, nil)
		return TokenPair{}, err
	}

	a.metricInc(MetricRefreshSuccess)
	a.emitAudit(ctx, auditEventRefreshSuccess, true, rotated.Subject, id, nil, func() map[string]string {
		return map[string]string{
			"successor_id": nextID,
		}
	})

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(time.Until(accessExpiry).Seconds()),
	}, nil
}

// Logout soft-revokes the presented refresh token and, when an access token
// is supplied, blacklists its signature for the remainder of its life. It is
// idempotent: unknown, malformed, and already-revoked tokens are not errors.
// Only storage failures are returned.
func (a *Authority) Logout(ctx context.Context, refreshToken, accessToken string) error {
	var subject, tokenID string

	if refreshToken != "" {
		id, providedSecret, err := internal.DecodeRefreshToken(refreshToken)
		if err == nil {
			row, getErr := a.tokens.Get(ctx, id)
			switch {
			case errors.Is(getErr, token.ErrNotFound):
				// Already gone; logout stays idempotent.
			case getErr != nil:
				return getErr
			case row.SecretHash == internal.HashRefreshSecret(providedSecret):
				tokenID = id
				subject = row.Subject
				if _, err := a.tokens.Revoke(ctx, id, time.Now().UTC()); err != nil {
					return err
				}
			}
		}
	}

	if accessToken != "" {
		// The access token stays cryptographically valid until its natural
		// expiry, so it must be explicitly denied for exactly that long.
		if _, expiresAt, err := a.signer.VerifyAccess(accessToken); err == nil {
			if sig, sigErr := a.signer.Signature(accessToken); sigErr == nil {
				if err := a.blacklist.Add(ctx, sig, time.Until(expiresAt)); err != nil {
					return err
				}
				a.metricInc(MetricBlacklistAdd)
				a.emitAudit(ctx, auditEventBlacklistAdd, true, subject, tokenID, nil, nil)
			}
		}
	}

	a.metricInc(MetricLogout)
	a.emitAudit(ctx, auditEventLogout, true, subject, tokenID, nil, nil)
	return nil
}

// IsBlacklisted reports whether an access-token signature has been explicitly
// denied. It is the read path for the external request-authorization
// collaborator.
func (a *Authority) IsBlacklisted(ctx context.Context, signature string) (bool, error) {
	denied, err := a.blacklist.Contains(ctx, signature)
	if err != nil {
		return false, err
	}
	if denied {
		a.metricInc(MetricBlacklistHit)
	} else {
		a.metricInc(MetricBlacklistMiss)
	}
	return denied, nil
}

// Validate verifies an access token end to end: signature, expiry, and
// blacklist. It returns the authenticated subject.
func (a *Authority) Validate(ctx context.Context, accessToken string) (string, error) {
	start := time.Now()
	defer func() {
		a.metrics.Observe(MetricValidateLatency, time.Since(start))
	}()

	subject, _, err := a.signer.VerifyAccess(accessToken)
	if err != nil {
		a.metricInc(MetricValidateFailure)
		return "", ErrAccessTokenInvalid
	}

	sig, err := a.signer.Signature(accessToken)
	if err != nil {
		a.metricInc(MetricValidateFailure)
		return "", ErrAccessTokenInvalid
	}

	denied, err := a.IsBlacklisted(ctx, sig)
	if err != nil {
		a.metricInc(MetricValidateFailure)
		return "", err
	}
	if denied {
		a.metricInc(MetricValidateFailure)
		a.emitAudit(ctx, auditEventValidateDenied, false, subject, "", ErrAccessTokenInvalid, func() map[string]string {
			return map[string]string{
				"reason": "blacklisted",
			}
		})
		return "", ErrAccessTokenInvalid
	}

	a.metricInc(MetricValidateSuccess)
	return subject, nil
}
