package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"eostre.org/internal/auth"
	"eostre.org/internal/obs"
)

// RefreshCookieName is the cookie carrying the refresh token. It is only sent
// to the refresh endpoint.
const RefreshCookieName = "refresh_token"

const refreshPath = "/auth/refresh"

// CookieConfig controls the session cookies set by the auth endpoints.
type CookieConfig struct {
	// Name of the access token cookie.
	Name   string
	Domain string
	Secure bool
}

type loginRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	AccountID string `json:"account_id"`
	Account   string `json:"account"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type switchAccountRequest struct {
	AccountID string `json:"account_id"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	AccountID        string    `json:"account_id"`
}

func (a *AdminAPI) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	accountID := req.AccountID
	if accountID == "" {
		accountID = req.Account
	}

	pair, err := a.sessions.Login(r.Context(), auth.LoginRequest{
		Username:  strings.TrimSpace(req.Username),
		Email:     strings.TrimSpace(req.Email),
		Password:  req.Password,
		AccountID: accountID,
	})
	if err != nil {
		obs.ObserveLogin(loginOutcome(err))
		handleError(w, r, err)
		return
	}
	obs.ObserveLogin("success")
	obs.ObserveTokenIssued("login")
	a.audit.Record(r.Context(), pair.Claims.Subject, "auth.login", "user logged in", map[string]any{
		"account_id": pair.Claims.AccountID,
		"method":     loginMethod(req),
	})
	a.writeTokens(w, pair)
}

func loginOutcome(err error) string {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, auth.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, auth.ErrForbidden), errors.Is(err, auth.ErrNoAuthorizedAccounts):
		return "forbidden"
	default:
		return "error"
	}
}

func loginMethod(req loginRequest) string {
	if strings.TrimSpace(req.Username) != "" {
		return "username"
	}
	return "email"
}

// handleRefresh reads the refresh token from the body, falling back to the
// refresh cookie.
func (a *AdminAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		if c, err := r.Cookie(RefreshCookieName); err == nil {
			token = strings.TrimSpace(c.Value)
		}
	}
	if token == "" {
		obs.ObserveTokenRejection("missing")
		unauthorized(w, r)
		return
	}

	pair, err := a.sessions.Refresh(r.Context(), token)
	if err != nil {
		if auth.IsTokenError(err) {
			obs.ObserveTokenRejection(auth.TokenErrorReason(err))
			unauthorized(w, r)
			return
		}
		handleError(w, r, err)
		return
	}
	obs.ObserveTokenIssued("refresh")
	a.writeTokens(w, pair)
}

func (a *AdminAPI) handleSwitchAccount(w http.ResponseWriter, r *http.Request) {
	var req switchAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	claims := claimsFrom(r)
	pair, err := a.sessions.SwitchAccount(r.Context(), claims, req.AccountID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	obs.ObserveTokenIssued("switch_account")
	a.audit.Record(r.Context(), claims.Subject, "auth.switch_account", "active account changed", map[string]any{
		"from_account_id": claims.AccountID,
		"to_account_id":   pair.Claims.AccountID,
	})
	a.writeTokens(w, pair)
}

// handleLogout clears the session cookies. Tokens already handed out remain
// valid until they expire.
func (a *AdminAPI) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, a.cookie(a.cookies.Name, "", "/", http.SameSiteLaxMode, time.Time{}, -1))
	http.SetCookie(w, a.cookie(RefreshCookieName, "", refreshPath, http.SameSiteStrictMode, time.Time{}, -1))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logout successful."})
}

func (a *AdminAPI) writeTokens(w http.ResponseWriter, pair auth.TokenPair) {
	http.SetCookie(w, a.cookie(a.cookies.Name, pair.AccessToken, "/", http.SameSiteLaxMode, pair.AccessExpiresAt, 0))
	http.SetCookie(w, a.cookie(RefreshCookieName, pair.RefreshToken, refreshPath, http.SameSiteStrictMode, pair.RefreshExpiresAt, 0))
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "Bearer",
		ExpiresAt:        pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		AccountID:        pair.Claims.AccountID,
	})
}

func (a *AdminAPI) cookie(name, value, path string, site http.SameSite, expires time.Time, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   a.cookies.Domain,
		HttpOnly: true,
		Secure:   a.cookies.Secure,
		SameSite: site,
		MaxAge:   maxAge,
	}
	if name == RefreshCookieName {
		c.Secure = true
	}
	if !expires.IsZero() {
		c.Expires = expires
		c.MaxAge = int(time.Until(expires).Seconds())
	}
	return c
}
