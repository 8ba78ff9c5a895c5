package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/auth"
	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/middleware"
)

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	UserType string `json:"userType" validate:"required"`
}

// RefreshRequest carries a refresh token for rotation or revocation
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required,uuid4"`
}

func deviceInfo(r *http.Request) auth.DeviceInfo {
	return auth.DeviceInfo{
		Name:      r.Header.Get("X-Device-Name"),
		UserAgent: r.UserAgent(),
		ClientIP:  middleware.GetClientIP(r),
	}
}

// Login verifies email and password against the directory of the requested
// role and starts a new session.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if middleware.HandleMaxBytesError(w, err) {
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Email, password and user type are required")
		return
	}
	role, ok := auth.ParseRole(req.UserType)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user type")
		return
	}

	ip, ua := middleware.GetClientIP(r), r.UserAgent()
	fail := func(p *auth.Principal, reason string) {
		h.record(auth.CreateLoginAuditLog(false, p, role, req.Email, reason, ip, ua))
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
	}

	p, err := h.directory.FindByEmail(r.Context(), role, req.Email)
	if errors.Is(err, auth.ErrNotFound) {
		fail(nil, "unknown_email")
		return
	}
	if err != nil {
		h.log.Error("auth.login.lookup_failed", "role", role, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to sign in")
		return
	}
	if err := h.tokens.VerifyPassword(p.PasswordHash, req.Password); err != nil {
		fail(p, "bad_password")
		return
	}
	if !p.IsActive() {
		h.record(auth.CreateLoginAuditLog(false, p, role, req.Email, "principal_inactive", ip, ua))
		writeError(w, http.StatusForbidden, "Account is not active")
		return
	}

	issued, err := h.issuer.Issue(r.Context(), p, deviceInfo(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to sign in")
		return
	}

	if err := h.directory.RecordLogin(r.Context(), role, p.ID, h.tokens.Now()); err != nil {
		h.log.Warn("auth.login.record_failed", "owner_id", p.ID, "err", err)
	}
	if h.loginLimiter != nil {
		h.loginLimiter.ResetLimit(ip)
	}
	h.record(auth.CreateLoginAuditLog(true, p, role, req.Email, "", ip, ua))

	writeJSON(w, http.StatusOK, sessionResponse(issued))
}

// Refresh exchanges a refresh token for a new access/refresh pair.
// Malformed tokens are rejected before the credential store is touched.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if middleware.HandleMaxBytesError(w, err) {
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid refresh token format")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid refresh token format")
		return
	}

	ip, ua := middleware.GetClientIP(r), r.UserAgent()
	issued, err := h.refresher.Refresh(r.Context(), req.RefreshToken, deviceInfo(r))
	if err != nil {
		h.record(auth.CreateRefreshAuditLog(nil, rejectionReason(err), ip, ua))
		status, msg := refreshFailure(err)
		writeError(w, status, msg)
		return
	}

	h.record(auth.CreateRefreshAuditLog(&issued, "", ip, ua))
	writeJSON(w, http.StatusOK, sessionResponse(issued))
}

// refreshFailure maps a rotation error to its HTTP status and public message.
// Unknown, revoked and expired credentials share one message.
func refreshFailure(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrMalformedInput):
		return http.StatusBadRequest, "Invalid refresh token format"
	case errors.Is(err, auth.ErrInvalidCredential):
		return http.StatusUnauthorized, "Invalid or expired refresh token"
	case errors.Is(err, auth.ErrPrincipalInactive):
		return http.StatusUnauthorized, "Account is no longer active"
	default:
		return http.StatusInternalServerError, "Failed to refresh session"
	}
}

func rejectionReason(err error) string {
	var rej auth.CredentialRejection
	switch {
	case errors.As(err, &rej):
		return rej.Reason
	case errors.Is(err, auth.ErrMalformedInput):
		return auth.OutcomeMalformed
	case errors.Is(err, auth.ErrPrincipalInactive):
		return auth.OutcomePrincipalInactive
	}
	return auth.OutcomeStoreFailure
}

// Logout revokes the presented refresh token and deactivates its session.
// Missing, unknown or malformed tokens still succeed.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && middleware.HandleMaxBytesError(w, err) {
		return
	}

	cred, err := h.refresher.Revoke(r.Context(), req.RefreshToken)
	if err != nil {
		h.log.Error("auth.logout.revoke_failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to log out")
		return
	}
	if cred != nil {
		h.record(auth.CreateLogoutAuditLog(cred, middleware.GetClientIP(r), r.UserAgent()))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Logged out successfully",
	})
}

// Me returns the identity carried by the caller's access token
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing or invalid authorization header")
		return
	}
	resp := map[string]any{
		"success": true,
		"user": map[string]any{
			"id":    claims.Subject,
			"name":  claims.Name,
			"email": claims.Email,
			"type":  wireType(claims.Role),
		},
		"sessionId": claims.SessionID,
	}
	if claims.ExpiresAt != nil {
		resp["expiresAt"] = claims.ExpiresAt.Time
	}
	writeJSON(w, http.StatusOK, resp)
}
