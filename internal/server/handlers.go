package server

import (
	"errors"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/EBIvariation/eva-submission-ws-sub000/internal/devicecode"
	"github.com/EBIvariation/eva-submission-ws-sub000/internal/store"
)

// maxMetadataBytes bounds uploaded metadata documents.
const maxMetadataBytes = 10 << 20

// defaultPollWait bounds a single device-token poll request.
const defaultPollWait = 5 * time.Minute

type submissionResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	UploadPath  string `json:"uploadPath,omitempty"`
	InitiatedAt string `json:"initiatedAt"`
}

func submissionJSON(sub *store.Submission) submissionResponse {
	return submissionResponse{
		ID:          sub.ID,
		Status:      sub.Status,
		UploadPath:  sub.UploadPath,
		InitiatedAt: sub.InitiatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	acct := AccountFromContext(r.Context())

	sub, err := s.registry.Initiate(r.Context(), acct.ID)
	if err != nil {
		respondError(w, err)

		return
	}

	if s.provisioner != nil {
		uploadPath := path.Join(s.uploadRootPath, acct.ID, sub.ID)

		if err := s.provisioner.CreateSubmissionDirectory(r.Context(), uploadPath); err != nil {
			respondError(w, err)

			return
		}

		if err := s.registry.SetUploadPath(r.Context(), sub.ID, uploadPath); err != nil {
			respondError(w, err)

			return
		}

		sub.UploadPath = uploadPath
	}

	writeJSON(w, http.StatusCreated, submissionJSON(sub))
}

func (s *Server) handleMarkUploaded(w http.ResponseWriter, r *http.Request) {
	acct := AccountFromContext(r.Context())
	id := chi.URLParam(r, "id")

	metadata, err := io.ReadAll(io.LimitReader(r.Body, maxMetadataBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body")

		return
	}

	if err := s.registry.MarkUploaded(r.Context(), id, acct.ID, string(metadata)); err != nil {
		respondError(w, err)

		return
	}

	sub, err := s.registry.Submission(r.Context(), id)
	if err != nil {
		respondError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, submissionJSON(sub))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.registry.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

type overrideStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleOverrideStatus(w http.ResponseWriter, r *http.Request) {
	var req overrideStatusRequest
	if err := readJSON(r, &req); err != nil || req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")

		return
	}

	if err := s.registry.OverrideStatus(r.Context(), chi.URLParam(r, "id"), req.Status); err != nil {
		respondError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

func (s *Server) handleSchemaFlush(w http.ResponseWriter, r *http.Request) {
	if s.schemaCache == nil {
		writeError(w, http.StatusServiceUnavailable, "schema cache not configured")

		return
	}

	evicted := s.schemaCache.Len()
	s.schemaCache.Flush()
	writeJSON(w, http.StatusOK, map[string]int{"evicted": evicted})
}

func (s *Server) handleDeviceBegin(w http.ResponseWriter, r *http.Request) {
	if s.device == nil {
		writeError(w, http.StatusServiceUnavailable, "device flow not configured")

		return
	}

	auth, err := s.device.Begin(r.Context())
	if err != nil {
		respondError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"deviceCode":              auth.DeviceCode,
		"userCode":                auth.UserCode,
		"verificationUri":         auth.VerificationURI,
		"verificationUriComplete": auth.VerificationURIComplete,
		"expiresIn":               int(time.Until(auth.Expiry).Seconds()),
	})
}

type devicePollRequest struct {
	DeviceCode     string `json:"deviceCode"`
	MaxWaitSeconds int    `json:"maxWaitSeconds"`
}

func (s *Server) handleDevicePoll(w http.ResponseWriter, r *http.Request) {
	if s.device == nil {
		writeError(w, http.StatusServiceUnavailable, "device flow not configured")

		return
	}

	var req devicePollRequest
	if err := readJSON(r, &req); err != nil || req.DeviceCode == "" {
		writeError(w, http.StatusBadRequest, "deviceCode is required")

		return
	}

	maxWait := defaultPollWait
	if req.MaxWaitSeconds > 0 {
		maxWait = time.Duration(req.MaxWaitSeconds) * time.Second
	}

	tok, err := s.device.PollForToken(r.Context(), req.DeviceCode, maxWait)

	switch {
	case errors.Is(err, devicecode.ErrDenied):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, devicecode.ErrTimeout):
		writeError(w, http.StatusRequestTimeout, err.Error())
	case err != nil:
		respondError(w, err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{
			"accessToken": tok.AccessToken,
			"tokenType":   tok.TokenType,
		})
	}
}
