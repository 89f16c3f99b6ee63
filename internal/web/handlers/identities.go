package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/registration"
	"github.com/kozaktomas/face-attendance/internal/service"
)

// IdentitiesHandler handles enrollment and per-identity queries.
type IdentitiesHandler struct {
	svc       *service.Service
	maxUpload int64
	logger    *slog.Logger
}

// NewIdentitiesHandler creates a new identities handler. maxUploadMB bounds
// multipart registration uploads.
func NewIdentitiesHandler(svc *service.Service, maxUploadMB int, logger *slog.Logger) *IdentitiesHandler {
	return &IdentitiesHandler{
		svc:       svc,
		maxUpload: uploadLimit(maxUploadMB),
		logger:    logger,
	}
}

// DescriptorsRequest is the body of POST /identities/{id}/descriptors.
type DescriptorsRequest struct {
	GroupID string             `json:"group_id"`
	Vectors []facematch.Vector `json:"vectors"`
}

// IdentityResponse describes a registered identity without its vectors.
type IdentityResponse struct {
	*database.Identity
	DescriptorCount int `json:"descriptor_count"`
}

func newIdentityResponse(identity *database.Identity) IdentityResponse {
	return IdentityResponse{Identity: identity, DescriptorCount: identity.DescriptorCount()}
}

// readFrames loads every uploaded frame into memory, in upload order.
func readFrames(files []*multipart.FileHeader) ([][]byte, error) {
	frames := make([][]byte, 0, len(files))
	for _, fileHeader := range files {
		data, err := func() ([]byte, error) {
			file, err := fileHeader.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to open file: %s", fileHeader.Filename)
			}
			defer file.Close()
			return io.ReadAll(file)
		}()
		if err != nil {
			return nil, err
		}
		frames = append(frames, data)
	}
	return frames, nil
}

// Register runs a capture over uploaded frames. Form fields: group_id,
// samples (optional), frames (one or more files).
func (h *IdentitiesHandler) Register(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	samples := 0
	if s := r.FormValue("samples"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "samples must be a positive integer")
			return
		}
		samples = n
	}

	files := r.MultipartForm.File["frames"]
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "no frames provided")
		return
	}
	if len(files) > constants.MaxFramesPerRequest {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("at most %d frames per request", constants.MaxFramesPerRequest))
		return
	}
	frames, err := readFrames(files)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	identityID := chi.URLParam(r, "id")
	result, err := h.svc.RegisterIdentity(r.Context(), identityID, r.FormValue("group_id"),
		registration.NewSliceFrames(frames), samples)
	if err != nil {
		respondDomainError(w, r, h.logger, err)
		return
	}

	h.logger.Info("identity registered", "identity", sanitizeForLog(identityID),
		"samples", result.Samples, "frames", result.FramesExamined)
	respondJSON(w, http.StatusCreated, result)
}

// Descriptors registers pre-extracted vectors, replacing any previous set.
func (h *IdentitiesHandler) Descriptors(w http.ResponseWriter, r *http.Request) {
	var req DescriptorsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	identity, err := h.svc.RegisterDescriptors(r.Context(), chi.URLParam(r, "id"), req.GroupID, req.Vectors)
	if err != nil {
		respondDomainError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, newIdentityResponse(identity))
}

// Get returns the identity's registration state.
func (h *IdentitiesHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, err := h.svc.GetIdentity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, newIdentityResponse(identity))
}

// Attendance lists the identity's records across sessions.
func (h *IdentitiesHandler) Attendance(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.ListAttendance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, r, h.logger, err)
		return
	}
	if records == nil {
		records = []database.AttendanceRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}
