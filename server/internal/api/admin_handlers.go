package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/auth"
	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/middleware"
)

// SessionView is the admin view of a session record
type SessionView struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Type           string    `json:"type"`
	IsActive       bool      `json:"is_active"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
}

func sessionView(s auth.SessionRecord) SessionView {
	return SessionView{
		ID:             s.ID,
		OwnerID:        s.OwnerID.String(),
		Type:           wireType(s.Role),
		IsActive:       s.IsActive,
		LastActivityAt: s.LastActivityAt,
		CreatedAt:      s.CreatedAt,
	}
}

// ListSessions lists the sessions of ?owner=<uuid>, newest first
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	owner, err := uuid.Parse(r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "owner must be a valid id")
		return
	}

	sessions, err := h.store.ListSessions(r.Context(), owner)
	if err != nil {
		h.log.Error("admin.sessions.list_failed", "owner_id", owner, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	views := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"sessions": views,
	})
}

// RevokeSession revokes the current refresh token of a session
func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing or invalid authorization header")
		return
	}
	adminID, err := uuid.Parse(claims.Subject)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}

	sess, err := h.refresher.RevokeSession(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, auth.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		h.log.Error("admin.sessions.revoke_failed", "session_id", chi.URLParam(r, "id"), "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to revoke session")
		return
	}

	h.record(auth.CreateSessionRevokedAuditLog(adminID, sess))
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"session": sessionView(*sess),
	})
}
