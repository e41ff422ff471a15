package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/note-autopublisher/internal/accounts"
	"github.com/JakeFAU/note-autopublisher/internal/automation"
	"github.com/JakeFAU/note-autopublisher/internal/enqueuer"
	"github.com/JakeFAU/note-autopublisher/internal/id/uuid"
	"github.com/JakeFAU/note-autopublisher/internal/jobs"
)

type enqueueResponse struct {
	Message string               `json:"message"`
	Queued  int                  `json:"queued"`
	Jobs    []enqueuer.QueuedJob `json:"jobs"`
	Notes   []string             `json:"notes"`
}

func (s *Server) enqueueJobs(w http.ResponseWriter, r *http.Request) {
	var req enqueuer.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	summary, err := s.enqueuer.Enqueue(r.Context(), userFrom(r.Context()), req)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("enqueue failed", zap.Error(err))
			writeError(w, status, "failed to queue automation jobs")
			return
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{
		Message: "Bulk publish queued",
		Queued:  summary.Queued,
		Jobs:    summary.Jobs,
		Notes:   summary.Notes,
	})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	views, err := s.jobs.ListJobs(r.Context(), userFrom(r.Context()), jobs.ListLimit)
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
}

type jobDetail struct {
	ID           string         `json:"id"`
	Status       jobs.Status    `json:"status"`
	ArticleID    string         `json:"articleId"`
	AccountID    string         `json:"noteAccountId"`
	CTAID        *string        `json:"ctaId"`
	Attempts     int            `json:"attempts"`
	ScheduledFor *time.Time     `json:"scheduledFor"`
	StartedAt    *time.Time     `json:"startedAt"`
	FinishedAt   *time.Time     `json:"finishedAt"`
	ErrorMessage *string        `json:"errorMessage"`
	ResultURL    *string        `json:"resultUrl"`
	Payload      map[string]any `json:"payload"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if !uuid.Valid(jobID) {
		writeError(w, http.StatusBadRequest, "job_id must be a UUID")
		return
	}
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if errors.Is(err, jobs.ErrNotFound) || (err == nil && job.UserID != userFrom(r.Context())) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": jobDetail{
		ID:           job.ID,
		Status:       job.Status,
		ArticleID:    job.ArticleID,
		AccountID:    job.AccountID,
		CTAID:        job.CTAID,
		Attempts:     job.Attempts,
		ScheduledFor: job.ScheduledFor,
		StartedAt:    job.StartedAt,
		FinishedAt:   job.FinishedAt,
		ErrorMessage: job.ErrorMessage,
		ResultURL:    job.ResultURL,
		Payload:      job.Payload,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}})
}

func (s *Server) authenticateAccount(w http.ResponseWriter, r *http.Request) {
	var creds accounts.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	account, created, err := s.linker.Link(r.Context(), userFrom(r.Context()), creds)
	switch {
	case errors.Is(err, jobs.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case accounts.IsAuthenticationFailure(err):
		var ae *automation.Error
		errors.As(err, &ae)
		s.logger.Warn("note login failed", zap.String("kind", string(ae.Kind)), zap.Error(err))
		writeError(w, http.StatusBadGateway, fmt.Sprintf("%s: %s", ae.Kind, ae.Message))
		return
	case err != nil:
		s.logger.Error("link account failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to link account")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"noteAccount": accounts.NewView(account)})
}

func (s *Server) runOnce(w http.ResponseWriter, r *http.Request) {
	if s.cfg.RunnerSecret == "" || s.runner == nil {
		writeError(w, http.StatusInternalServerError, "runner secret not configured")
		return
	}
	if !secretEqual(r.Header.Get("Authorization"), "Bearer "+s.cfg.RunnerSecret) {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	result, err := s.runner.RunOnce(context.WithoutCancel(r.Context()))
	if err != nil {
		s.logger.Error("manual run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if result.Status == jobs.RunFailed {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}
