package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	authflux "github.com/tidewell/authflux"
)

// RefreshCookieName is the HTTP-only cookie carrying the refresh token.
const RefreshCookieName = "refresh_token"

// CredentialVerifier is the external collaborator that checks a credential
// pair and resolves it to a subject identifier. Password hashing and lockout
// policy live behind this interface, not in authflux.
type CredentialVerifier interface {
	Verify(ctx context.Context, username, password string) (subject string, err error)
}

// Handler serves the Token Authority's endpoint surface.
type Handler struct {
	authority *authflux.Authority
	verifier  CredentialVerifier
	// Secure controls the cookie's Secure attribute; disable only for local
	// plain-HTTP development.
	Secure bool
}

// NewHandler wires the endpoint surface over an Authority and a verifier.
func NewHandler(authority *authflux.Authority, verifier CredentialVerifier) *Handler {
	return &Handler{
		authority: authority,
		verifier:  verifier,
		Secure:    true,
	}
}

// Register mounts the auth endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/refresh", h.handleRefresh)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	ctx := withRequestContext(r)

	subject, err := h.verifier.Verify(ctx, body.Username, body.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	pair, err := h.authority.Issue(ctx, subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	refresh := refreshTokenFromRequest(r)
	if refresh == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	pair, err := h.authority.Refresh(withRequestContext(r), refresh)
	switch {
	case err == nil:
	case errors.Is(err, authflux.ErrInvalidToken), errors.Is(err, authflux.ErrUserNotFound):
		// One undifferentiated answer for expired, revoked, breached, and
		// unknown tokens.
		h.clearRefreshCookie(w)
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	default:
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
		AccessToken  string `json:"accessToken"`
	}
	// The body is optional; logout must succeed with nothing but the cookie.
	_ = json.NewDecoder(r.Body).Decode(&body)

	refresh := body.RefreshToken
	if refresh == "" {
		if cookie, err := r.Cookie(RefreshCookieName); err == nil {
			refresh = cookie.Value
		}
	}
	access := body.AccessToken
	if access == "" {
		access = bearerToken(r.Header.Get("Authorization"))
	}

	if err := h.authority.Logout(withRequestContext(r), refresh, access); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	h.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func refreshTokenFromRequest(r *http.Request) string {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if body.RefreshToken != "" {
		return body.RefreshToken
	}

	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	return cookie.Value
}

func withRequestContext(r *http.Request) context.Context {
	ctx := r.Context()

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ctx = authflux.WithClientIP(ctx, host)
	ctx = authflux.WithUserAgent(ctx, r.UserAgent())

	return ctx
}

func bearerToken(h string) string {
	const pfx = "Bearer "
	if len(h) > len(pfx) && h[:len(pfx)] == pfx {
		return h[len(pfx):]
	}
	return ""
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    token,
		Path:     "/auth",
		HttpOnly: true,
		Secure:   h.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
