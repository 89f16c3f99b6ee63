package handlers

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/service"
)

// IdentifyHandler classifies probes against a group.
type IdentifyHandler struct {
	svc       *service.Service
	maxUpload int64
	logger    *slog.Logger
}

// NewIdentifyHandler creates a new identify handler
func NewIdentifyHandler(svc *service.Service, maxUploadMB int, logger *slog.Logger) *IdentifyHandler {
	return &IdentifyHandler{svc: svc, maxUpload: uploadLimit(maxUploadMB), logger: logger}
}

// IdentifyRequest is the body of POST /groups/{group}/identify.
type IdentifyRequest struct {
	Vector facematch.Vector `json:"vector"`
}

// FrameResponse lists the faces found in a frame.
type FrameResponse struct {
	Faces []service.FaceMatch `json:"faces"`
}

// Identify classifies one probe vector. An unmatched result is a 200.
func (h *IdentifyHandler) Identify(w http.ResponseWriter, r *http.Request) {
	var req IdentifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.svc.Identify(r.Context(), req.Vector, chi.URLParam(r, "group"))
	if err != nil {
		respondDomainError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// IdentifyFrame extracts and classifies every face in the raw image body.
func (h *IdentifyHandler) IdentifyFrame(w http.ResponseWriter, r *http.Request) {
	frame, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUpload))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read frame")
		return
	}
	if len(frame) == 0 {
		respondError(w, http.StatusBadRequest, "empty frame")
		return
	}

	faces, err := h.svc.IdentifyFrame(r.Context(), frame, chi.URLParam(r, "group"))
	if err != nil {
		respondDomainError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, FrameResponse{Faces: faces})
}
