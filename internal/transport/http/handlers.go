package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/fedutinova/starq/internal/auth"
	"github.com/fedutinova/starq/internal/common"
	"github.com/fedutinova/starq/internal/config"
	"github.com/fedutinova/starq/internal/models"
	"github.com/fedutinova/starq/internal/queue"
	"github.com/fedutinova/starq/internal/redis"
	"github.com/fedutinova/starq/internal/validation"
	"github.com/go-chi/chi/v5"
)

type Handlers struct {
	Queue  *queue.Service
	Redis  *redis.Service
	Config config.Config
}

func (h *Handlers) Routers(r chi.Router) {
	r.Get("/api/health", h.Health)

	guarded := auth.APIKeyMiddleware(h.Config.APIKeys)

	r.Route("/api/v1/queues", func(r chi.Router) {
		r.Get("/", h.listQueues)
		r.With(guarded).Post("/", h.createQueue)

		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", h.getQueue)
			r.With(guarded).Delete("/", h.deleteQueue)

			r.Get("/jobs", h.listJobs)
			r.With(guarded).Post("/jobs", h.submitJobs)
			r.With(guarded).Post("/jobs/claim", h.claimJobs)
			r.With(guarded).Put("/jobs/{jobID}/complete", h.completeJob)
			r.With(guarded).Put("/jobs/{jobID}/fail", h.failJob)
		})
	})
}

func (h *Handlers) createQueue(w http.ResponseWriter, r *http.Request) {
	var req models.QueueCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	if err := validation.Struct(&req); err != nil {
		h.respondError(w, err)
		return
	}

	maxRetries := h.Config.DefaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	claimTimeout := h.Config.DefaultClaimTimeout
	if req.ClaimTimeout != nil {
		claimTimeout = *req.ClaimTimeout
	}

	info, err := h.Queue.Create(r.Context(), req.Name, req.Description, maxRetries, claimTimeout, req.Dedupe)
	if err != nil {
		if common.IsConflict(err) {
			writeError(w, http.StatusConflict, fmt.Sprintf("Queue '%s' already exists", req.Name))
			return
		}
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handlers) listQueues(w http.ResponseWriter, r *http.Request) {
	queues, err := h.Queue.List(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.QueueList{Queues: queues})
}

func (h *Handlers) getQueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	info, err := h.Queue.Info(r.Context(), name)
	if err != nil {
		h.respondQueueError(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handlers) deleteQueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.Queue.Delete(r.Context(), name); err != nil {
		h.respondQueueError(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "queue": name})
}

func (h *Handlers) submitJobs(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req models.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	resp, err := h.Queue.Submit(r.Context(), name, req.Jobs)
	if err != nil {
		h.respondQueueError(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) claimJobs(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req models.JobClaim
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	if err := validation.Struct(&req); err != nil {
		h.respondError(w, err)
		return
	}

	count := 1
	if req.Count != nil {
		count = *req.Count
	}

	jobs, err := h.Queue.Claim(r.Context(), name, count, req.BlockMS)
	if err != nil {
		h.respondQueueError(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ClaimedJobs{Jobs: jobs})
}

func (h *Handlers) completeJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	jobID := chi.URLParam(r, "jobID")

	var req models.JobComplete
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	if req.Result == nil {
		req.Result = map[string]any{}
	}

	if err := h.Queue.Complete(r.Context(), name, jobID, req.Result); err != nil {
		h.respondJobError(w, name, jobID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed", "job_id": jobID})
}

func (h *Handlers) failJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	jobID := chi.URLParam(r, "jobID")

	var req models.JobFail
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	retries, err := h.Queue.Fail(r.Context(), name, jobID, req.Error)
	if err != nil {
		h.respondJobError(w, name, jobID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "failed", "job_id": jobID, "retries": retries})
}

func (h *Handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	status := r.URL.Query().Get("status")
	cursor := r.URL.Query().Get("cursor")
	count := 50
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusUnprocessableEntity, "count must be a positive integer")
			return
		}
		count = min(n, 1000)
	}

	resp, err := h.Queue.ListJobs(r.Context(), name, status, count, cursor)
	if err != nil {
		h.respondQueueError(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// respondQueueError maps not-found to the queue-scoped 404 message.
func (h *Handlers) respondQueueError(w http.ResponseWriter, name string, err error) {
	if common.IsNotFound(err) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Queue '%s' not found", name))
		return
	}
	h.respondError(w, err)
}

func (h *Handlers) respondJobError(w http.ResponseWriter, name, jobID string, err error) {
	switch {
	case errors.Is(err, common.ErrJobNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("Job '%s' not found", jobID))
	case common.IsNotFound(err):
		writeError(w, http.StatusNotFound, fmt.Sprintf("Queue '%s' not found", name))
	default:
		h.respondError(w, err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, err error) {
	switch {
	case common.IsValidation(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case common.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error())
	case common.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
