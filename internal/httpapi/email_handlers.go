package httpapi

import (
	"net/http"

	"eostre.org/internal/auth"
)

type sendValidationRequest struct {
	Email string `json:"email"`
}

type validateEmailRequest struct {
	Token string `json:"token"`
}

func (a *AdminAPI) handleSendValidation(w http.ResponseWriter, r *http.Request) {
	if a.emails == nil {
		writeError(w, r, http.StatusServiceUnavailable, "email validation unavailable")
		return
	}
	var req sendValidationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	claims := claimsFrom(r)
	res, err := a.emails.SendValidation(r.Context(), claims.Subject, req.Email)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit.Record(r.Context(), claims.Subject, "email.validation_requested", "email validation requested", map[string]any{
		"email": req.Email,
		"sent":  res.Sent,
	})
	body := map[string]any{"message": "A validation email has been sent."}
	if !res.Sent {
		// Without SMTP the link is handed back so the flow can still be completed.
		body = map[string]any{"message": "Email delivery is disabled.", "validation_url": res.URL}
	}
	writeJSON(w, http.StatusOK, body)
}

// handleValidateEmail accepts the token as JSON body or, for links opened in a
// browser, as the token query parameter.
func (a *AdminAPI) handleValidateEmail(w http.ResponseWriter, r *http.Request) {
	if a.emails == nil {
		writeError(w, r, http.StatusServiceUnavailable, "email validation unavailable")
		return
	}
	var req validateEmailRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Token == "" {
		req.Token = r.URL.Query().Get("token")
	}
	email, err := a.emails.Confirm(r.Context(), req.Token)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit.Record(r.Context(), email.UserID, "email.validated", "email address validated", map[string]any{
		"email": email.Address,
	})
	writeJSON(w, http.StatusOK, emailResponse(email))
}

func emailResponse(e auth.Email) map[string]any {
	return map[string]any{
		"message":  "Email validated.",
		"email":    e.Address,
		"user_id":  e.UserID,
		"verified": e.VerifiedAt != nil,
	}
}
