package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/castwrite/castwrite/internal/admission"
	mw "github.com/castwrite/castwrite/internal/api/middleware"
	"github.com/castwrite/castwrite/internal/api/response"
	"github.com/castwrite/castwrite/internal/media"
	"github.com/castwrite/castwrite/internal/plan"
	"github.com/castwrite/castwrite/internal/store"
	"github.com/google/uuid"
)

// maxUploadBytes bounds the multipart body a single submission may carry.
const maxUploadBytes = 512 << 20 // 512 MiB

// Submitter defines the admission interface the handlers depend on.
type Submitter interface {
	SubmitUpload(ctx context.Context, req admission.UploadRequest) (uuid.UUID, error)
	SubmitURL(ctx context.Context, req admission.URLRequest) (uuid.UUID, error)
}

// NewSubmitUploadHandler returns an http.HandlerFunc for POST /api/v1/posts/upload.
// Expects a multipart form with a "file" part and an optional "language" field.
func NewSubmitUploadHandler(svc Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		file, header, err := r.FormFile("file")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Multipart form with a file part is required", nil)
			return
		}
		defer file.Close()

		mimeType := header.Header.Get("Content-Type")
		if _, allowed := media.KindForMIME(mimeType); !allowed {
			response.Error(w, http.StatusUnsupportedMediaType, "INVALID_SOURCE",
				"Media type is not on the allow-list", map[string]string{"mime_type": mimeType})
			return
		}

		jobID, err := svc.SubmitUpload(r.Context(), admission.UploadRequest{
			UserID:   userID,
			Filename: header.Filename,
			MimeType: mimeType,
			Language: r.FormValue("language"),
			Data:     file,
		})
		if err != nil {
			writeAdmissionError(w, err)
			return
		}

		response.Accepted(w, queuedResponse{JobID: jobID, Status: "queued"})
	}
}

// NewSubmitURLHandler returns an http.HandlerFunc for POST /api/v1/posts/url.
func NewSubmitURLHandler(svc Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		var req struct {
			URL      string `json:"url"`
			Language string `json:"language"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.URL == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "url is required", nil)
			return
		}

		jobID, err := svc.SubmitURL(r.Context(), admission.URLRequest{
			UserID:   userID,
			URL:      req.URL,
			Language: req.Language,
		})
		if err != nil {
			writeAdmissionError(w, err)
			return
		}

		response.Accepted(w, queuedResponse{JobID: jobID, Status: "queued"})
	}
}

type queuedResponse struct {
	JobID  uuid.UUID `json:"job_id"`
	Status string    `json:"status"`
}

// writeAdmissionError maps admission denials to machine-readable codes.
// Anything unrecognized is an internal error; denials never create jobs
// or leave artifacts behind, so retrying is always safe for the client.
func writeAdmissionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNoActiveSubscription):
		response.Error(w, http.StatusForbidden, "NO_ACTIVE_SUBSCRIPTION",
			"An active subscription is required", nil)
	case errors.Is(err, store.ErrQuotaExhausted):
		response.Error(w, http.StatusForbidden, "QUOTA_EXHAUSTED",
			"No posts left in the current billing cycle", nil)
	case errors.Is(err, plan.ErrDurationExceeded):
		response.Error(w, http.StatusRequestEntityTooLarge, "DURATION_EXCEEDED",
			"Media is longer than the plan allows", nil)
	case errors.Is(err, media.ErrInvalidSource):
		response.Error(w, http.StatusUnprocessableEntity, "INVALID_SOURCE",
			"Source is not an allowed media type or URL", nil)
	case errors.Is(err, media.ErrProbeFailed):
		response.Error(w, http.StatusUnprocessableEntity, "DURATION_PROBE_FAILED",
			"Could not read the media's duration", nil)
	case errors.Is(err, context.DeadlineExceeded):
		response.Error(w, http.StatusGatewayTimeout, "ADMISSION_TIMEOUT",
			"Admission took too long and was cancelled", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
