package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/meridian-benefits/claimflow/internal/ledger"
	"github.com/meridian-benefits/claimflow/internal/model"
	"github.com/meridian-benefits/claimflow/internal/pipeline"
	"github.com/meridian-benefits/claimflow/internal/store"
)

type handlers struct {
	store  store.Store
	runner *pipeline.Runner
	ledger *ledger.Writer
	log    *zap.Logger
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	attempts, err := h.store.ListAttempts(r.Context(), jobID)
	if err != nil {
		h.log.Warn("attempt listing failed", zap.String("job_id", jobID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job":      job,
		"attempts": attempts,
	})
}

func (h *handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	var filter store.JobFilter
	if state := r.URL.Query().Get("state"); state != "" {
		filter.State = model.JobState(state)
	}
	jobs, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "job listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (h *handlers) listExceptions(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.store.ListJobs(r.Context(), store.JobFilter{State: model.JobStateException})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "exception listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exceptions": jobs})
}

// approveRequest carries reviewer corrections. Omitted fields keep the
// extracted values.
type approveRequest struct {
	EventDate     string `json:"event_date,omitempty"`
	ClaimAmount   string `json:"claim_amount,omitempty"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
	PolicyNumber  string `json:"policy_number,omitempty"`
}

func (h *handlers) approveException(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	var req approveRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.State != model.JobStateException {
		writeError(w, http.StatusConflict, "job is not in exception state")
		return
	}
	if job.Claim == nil {
		writeError(w, http.StatusConflict, "job has no extracted claim")
		return
	}

	corrected := *job.Claim
	if req.EventDate != "" {
		d, err := time.Parse("2006-01-02", req.EventDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "event_date must be YYYY-MM-DD")
			return
		}
		corrected.EventDate = d
	}
	if req.ClaimAmount != "" {
		amount, err := model.ParseAmount(req.ClaimAmount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid claim_amount")
			return
		}
		corrected.ClaimAmount = amount
	}
	if v := strings.TrimSpace(req.InvoiceNumber); v != "" {
		corrected.InvoiceNumber = v
	}
	if v := strings.TrimSpace(req.PolicyNumber); v != "" {
		corrected.PolicyNumber = v
	}

	approved, err := h.runner.ApproveCorrection(r.Context(), jobID, &corrected)
	if err != nil {
		h.log.Error("approval failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "approval failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": approved})
}

func (h *handlers) ledgerStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := h.ledger.Pending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ledger status failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

func (h *handlers) ledgerFlush(w http.ResponseWriter, r *http.Request) {
	replayed, err := h.ledger.Flush(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"replayed": replayed,
			"error":    "ledger sink still unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"replayed": replayed})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
