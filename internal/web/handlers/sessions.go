package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/service"
	"github.com/kozaktomas/face-attendance/internal/session"
)

// SessionsHandler handles session lifecycle and attendance marking.
type SessionsHandler struct {
	svc    *service.Service
	logger *slog.Logger
}

// NewSessionsHandler creates a new sessions handler
func NewSessionsHandler(svc *service.Service, logger *slog.Logger) *SessionsHandler {
	return &SessionsHandler{svc: svc, logger: logger}
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	GroupID         string `json:"group_id"`
	SubjectID       string `json:"subject_id"`
	OwnerID         string `json:"owner_id"`
	Mode            string `json:"mode"`
	DurationMinutes int    `json:"duration_minutes"`
}

// MarkRequest is the body of POST /sessions/{id}/attendance.
type MarkRequest struct {
	IdentityID string `json:"identity_id"`
	Source     string `json:"source"`
}

// MarkResponse wraps the record with whether this call created it.
type MarkResponse struct {
	Record  *database.AttendanceRecord `json:"record"`
	Created bool                       `json:"created"`
}

// Create opens a session. 409 when the group already has one.
func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := h.svc.CreateSession(r.Context(), session.CreateRequest{
		GroupID:         req.GroupID,
		SubjectID:       req.SubjectID,
		OwnerID:         req.OwnerID,
		Mode:            req.Mode,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		respondDomainError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

// Get returns one session.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// End ends a session. Ending an ended session also answers 204.
func (h *SessionsHandler) End(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.EndSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondDomainError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Active returns the group's active session, or 404 when there is none.
func (h *SessionsHandler) Active(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.GetActiveSession(r.Context(), chi.URLParam(r, "group"))
	if err != nil {
		respondDomainError(w, r, h.logger, err)
		return
	}
	if sess == nil {
		respondError(w, http.StatusNotFound, "no active session")
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// ListByGroup returns the group's sessions, newest first.
func (h *SessionsHandler) ListByGroup(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.svc.ListSessions(r.Context(), chi.URLParam(r, "group"))
	if err != nil {
		respondDomainError(w, r, h.logger, err)
		return
	}
	if sessions == nil {
		sessions = []database.Session{}
	}
	respondJSON(w, http.StatusOK, sessions)
}

// Mark records attendance. 201 for a new record, 200 when it already existed.
func (h *SessionsHandler) Mark(w http.ResponseWriter, r *http.Request) {
	var req MarkRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, created, err := h.svc.MarkAttendance(r.Context(), chi.URLParam(r, "id"), req.IdentityID, req.Source)
	if err != nil {
		respondDomainError(w, r, h.logger, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, MarkResponse{Record: rec, Created: created})
}

// Attendance lists the session's records.
func (h *SessionsHandler) Attendance(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.ListSessionAttendance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, r, h.logger, err)
		return
	}
	if records == nil {
		records = []database.AttendanceRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}
