// Package api exposes the session and token lifecycle over HTTP
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/auth"
)

// Deps are the collaborators the handlers need
type Deps struct {
	Tokens    *auth.AuthService
	Issuer    *auth.Issuer
	Refresher *auth.Refresher
	Directory auth.PrincipalDirectory
	Store     auth.Store

	// Audit and LoginLimiter are optional
	Audit        auth.AuditLogger
	LoginLimiter *auth.RateLimiter
	Logger       *slog.Logger
}

// Handler serves the auth and admin endpoints
type Handler struct {
	tokens       *auth.AuthService
	issuer       *auth.Issuer
	refresher    *auth.Refresher
	directory    auth.PrincipalDirectory
	store        auth.Store
	audit        auth.AuditLogger
	loginLimiter *auth.RateLimiter
	log          *slog.Logger
	validate     *validator.Validate
}

// NewHandler constructs a Handler
func NewHandler(d Deps) *Handler {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		tokens:       d.Tokens,
		issuer:       d.Issuer,
		refresher:    d.Refresher,
		directory:    d.Directory,
		store:        d.Store,
		audit:        d.Audit,
		loginLimiter: d.LoginLimiter,
		log:          log,
		validate:     validator.New(),
	}
}

func (h *Handler) record(entry *auth.AuditLog) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Log(entry); err != nil {
		h.log.Warn("audit.write_failed", "event", entry.EventType, "err", err)
	}
}

// UserResponse is the public view of a principal
type UserResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionResponse is the body of a successful login or refresh
type SessionResponse struct {
	Success      bool         `json:"success"`
	User         UserResponse `json:"user"`
	Token        string       `json:"token"`
	RefreshToken string       `json:"refreshToken"`
	ExpiresIn    int          `json:"expiresIn"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// wireType is the userType spelling clients send and store
func wireType(r auth.Role) string {
	if r == auth.RoleAdministrator {
		return "admin"
	}
	return string(r)
}

func userResponse(p auth.Principal) UserResponse {
	return UserResponse{
		ID:        p.ID.String(),
		Name:      p.DisplayName,
		Email:     p.Email,
		Type:      wireType(p.Role),
		Status:    p.Status,
		CreatedAt: p.CreatedAt,
	}
}

func sessionResponse(issued auth.Issued) SessionResponse {
	return SessionResponse{
		Success:      true,
		User:         userResponse(issued.Principal),
		Token:        issued.AccessToken,
		RefreshToken: issued.RefreshToken,
		ExpiresIn:    issued.ExpiresIn,
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: msg})
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data) // response already started
}

// HealthHandler reports liveness
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "sen-alerte-auth",
	})
}
