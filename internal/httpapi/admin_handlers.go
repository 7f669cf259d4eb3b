package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"eostre.org/internal/auth"
)

type createAccountRequest struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

type updateAccountRequest struct {
	DisplayName *string `json:"display_name"`
	Active      *bool   `json:"active"`
}

type createUserRequest struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	DisplayName  string `json:"display_name"`
	PersonalName string `json:"personal_name"`
	FamilyNames  string `json:"family_names"`
	// RoleID, when set, grants the role on the caller's account.
	RoleID string `json:"role_id"`
}

type createRoleRequest struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Permissions []string `json:"permissions"`
}

type grantRequest struct {
	UserID string `json:"user_id"`
	RoleID string `json:"role_id"`
}

type meResponse struct {
	UserID      string             `json:"user_id"`
	Username    string             `json:"username"`
	UserType    auth.UserType      `json:"user_type"`
	AccountID   string             `json:"account_id"`
	Permissions auth.PermissionMap `json:"permissions"`
	ExpiresAt   *time.Time         `json:"expires_at,omitempty"`
}

func (a *AdminAPI) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := a.admin.GetAccount(r.Context(), claimsFrom(r).AccountID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// handleCreateAccount creates an account and grants the caller the admin role
// on it. The new account shows up in the caller's token after a refresh.
func (a *AdminAPI) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	claims := claimsFrom(r)
	acc, err := a.admin.CreateOwnedAccount(r.Context(), req.Name, req.DisplayName, claims.Subject)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit.Record(r.Context(), claims.Subject, "account.created", "account created", map[string]any{
		"account_id": acc.ID,
		"name":       acc.Name,
	})
	writeJSON(w, http.StatusCreated, acc)
}

func (a *AdminAPI) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req updateAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	claims := claimsFrom(r)
	acc, err := a.admin.UpdateAccount(r.Context(), claims.AccountID, auth.AccountUpdate{
		DisplayName: req.DisplayName,
		Active:      req.Active,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit.Record(r.Context(), claims.Subject, "account.updated", "account updated", map[string]any{
		"account_id": acc.ID,
	})
	writeJSON(w, http.StatusOK, acc)
}

func (a *AdminAPI) handleAccountUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.admin.ListAccountUsers(r.Context(), claimsFrom(r).AccountID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *AdminAPI) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.admin.ListUserDetails(r.Context(), claimsFrom(r).AccountID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *AdminAPI) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	claims := claimsFrom(r)
	user, err := a.admin.CreateUser(r.Context(), auth.NewUser{
		Name:         req.Name,
		Type:         auth.UserType(strings.TrimSpace(req.Type)),
		Email:        req.Email,
		Password:     req.Password,
		DisplayName:  req.DisplayName,
		PersonalName: req.PersonalName,
		FamilyNames:  req.FamilyNames,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	fields := map[string]any{"new_user_id": user.ID, "name": user.Name}
	if role := strings.TrimSpace(req.RoleID); role != "" {
		grant, err := a.admin.GrantRole(r.Context(), claims.AccountID, user.ID, role, claims.Subject)
		if err != nil {
			handleError(w, r, err)
			return
		}
		fields["grant_id"] = grant.ID
	}
	a.audit.Record(r.Context(), claims.Subject, "user.created", "user created", fields)
	writeJSON(w, http.StatusCreated, user)
}

func (a *AdminAPI) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	resp := meResponse{
		UserID:      claims.Subject,
		Username:    claims.Username,
		UserType:    claims.UserType,
		AccountID:   claims.AccountID,
		Permissions: claims.Permissions,
	}
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Time
		resp.ExpiresAt = &exp
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAuthorizedAccounts resolves grants from the store, so it reflects
// changes the caller's token does not carry yet.
func (a *AdminAPI) handleAuthorizedAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := a.admin.AuthorizedAccounts(r.Context(), claimsFrom(r).Subject)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (a *AdminAPI) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.admin.ListRoles(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roles)
}

func (a *AdminAPI) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.admin.CreateRole(r.Context(), req.Name, req.DisplayName, req.Permissions)
	if err != nil {
		handleError(w, r, err)
		return
	}
	claims := claimsFrom(r)
	a.audit.Record(r.Context(), claims.Subject, "role.created", "role created", map[string]any{
		"role_id":     role.ID,
		"name":        role.Name,
		"permissions": role.PermissionNames(),
	})
	writeJSON(w, http.StatusCreated, role)
}

func (a *AdminAPI) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.admin.ListPermissions(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	active := make([]auth.Permission, 0, len(perms))
	for _, p := range perms {
		if p.Active {
			active = append(active, p)
		}
	}
	writeJSON(w, http.StatusOK, active)
}

func (a *AdminAPI) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	claims := claimsFrom(r)
	grant, err := a.admin.GrantRole(r.Context(), claims.AccountID, req.UserID, req.RoleID, claims.Subject)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit.Record(r.Context(), claims.Subject, "grant.created", "role granted", map[string]any{
		"grant_id":   grant.ID,
		"account_id": grant.AccountID,
		"user_id":    grant.UserID,
		"role_id":    grant.RoleID,
	})
	writeJSON(w, http.StatusCreated, grant)
}

// handleRevokeGrant deactivates a grant of the caller's account. Access tokens
// minted before the revocation keep working until they expire.
func (a *AdminAPI) handleRevokeGrant(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	grant, err := a.admin.RevokeGrant(r.Context(), claims.AccountID, chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit.Record(r.Context(), claims.Subject, "grant.revoked", "role revoked", map[string]any{
		"grant_id":   grant.ID,
		"account_id": grant.AccountID,
		"user_id":    grant.UserID,
	})
	writeJSON(w, http.StatusOK, grant)
}
