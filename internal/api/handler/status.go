package handler

import (
	"errors"
	"log/slog"
	"net/http"

	mw "github.com/castwrite/castwrite/internal/api/middleware"
	"github.com/castwrite/castwrite/internal/api/response"
	"github.com/castwrite/castwrite/internal/cache"
	"github.com/castwrite/castwrite/internal/store"
	"github.com/castwrite/castwrite/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// NewJobStatusHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
// While a job is in flight the cached status answers the poll without a
// database read; terminal states fall through to the jobs table so the
// response can carry the failure cause and the finished post.
func NewJobStatusHandler(st store.Store, ca cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid job id", nil)
			return
		}

		status, hit, err := ca.GetJobStatus(r.Context(), jobID)
		if err != nil {
			slog.Warn("job status cache read failed", "job_id", jobID, "error", err)
		}
		if hit && !terminal(status) {
			response.JSON(w, statusResponse{JobID: jobID, Status: status})
			return
		}

		job, err := st.GetJob(r.Context(), jobID, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
				return
			}
			slog.Error("get job failed", "job_id", jobID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		resp := statusResponse{
			JobID:        job.ID,
			Status:       job.Status,
			FailureCause: job.FailureCause,
			Attempts:     job.Attempts,
		}
		if job.Status == models.JobStatusCompleted {
			if post, err := st.GetPostByJobID(r.Context(), job.ID); err == nil {
				resp.Post = post
			}
		}
		response.JSON(w, resp)
	}
}

type statusResponse struct {
	JobID        uuid.UUID    `json:"job_id"`
	Status       string       `json:"status"`
	FailureCause *string      `json:"failure_cause,omitempty"`
	Attempts     int          `json:"attempts,omitempty"`
	Post         *models.Post `json:"post,omitempty"`
}

func terminal(status string) bool {
	return status == models.JobStatusCompleted || status == models.JobStatusFailed
}
