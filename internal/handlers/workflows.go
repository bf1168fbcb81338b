package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/lussekatt/internal/app"
	"github.com/shrimpsizemoose/lussekatt/internal/metrics"
	"github.com/shrimpsizemoose/lussekatt/internal/models"
	"github.com/shrimpsizemoose/lussekatt/internal/store"
)

type WorkflowHandler struct {
	service *app.Service
}

func NewWorkflowHandler(service *app.Service) *WorkflowHandler {
	return &WorkflowHandler{
		service: service,
	}
}

func (h *WorkflowHandler) observe(r *http.Request, start time.Time, status string) {
	duration := time.Since(start).Seconds()
	metrics.APIRequestDuration.WithLabelValues(
		r.URL.Path,
		r.Method,
		status,
	).Observe(duration)
}

// writeStoreError maps the store error taxonomy onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "Unknown submission", http.StatusNotFound)
	case errors.Is(err, store.ErrStateConflict):
		http.Error(w, "Conflicting terminal state", http.StatusConflict)
	case errors.Is(err, store.ErrDuplicateSubmission):
		http.Error(w, "Submission already registered", http.StatusConflict)
	default:
		http.Error(w, "Storage failure", http.StatusInternalServerError)
	}
}

// HandleClaimNext leases the next gradable submission to the calling
// scorer. An empty queue is a 204, not an error.
func (h *WorkflowHandler) HandleClaimNext(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		h.observe(r, start, "200")
	}()
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	category, err := h.service.Category(r.PathValue("course"), r.PathValue("item"))
	if err != nil {
		logger.Error.Printf("Failed to extract category from path %s: %v", r.URL.Path, err)
		http.Error(w, "Invalid category", http.StatusBadRequest)
		return
	}

	scorer := r.Header.Get(h.service.Config.API.ScorerIDHeader)
	if scorer == "" {
		http.Error(w, "Invalid scorer id specified", http.StatusUnauthorized)
		return
	}

	if err := h.service.ValidateAuthAndScorer(r, category.CourseID, scorer); err != nil {
		logger.Error.Printf("Auth failed: %v", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	workflow, err := h.service.Queue.ClaimNext(category, scorer, time.Now().UTC())
	if err != nil {
		logger.Error.Printf("Claim failed for %s/%s: %v", category.CourseID, category.ItemID, err)
		http.Error(w, "Failed to claim submission", http.StatusInternalServerError)
		return
	}

	if workflow == nil {
		metrics.ClaimsTotal.WithLabelValues(category.CourseID, category.ItemID, "empty").Inc()
		w.WriteHeader(http.StatusNoContent)
		return
	}

	metrics.ClaimsTotal.WithLabelValues(category.CourseID, category.ItemID, "claimed").Inc()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(workflow); err != nil {
		logger.Error.Printf("Failed to encode claimed workflow: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// HandleRegisterSubmission puts a new submission into the grading
// pool. Missing submission_uuid gets a generated one.
func (h *WorkflowHandler) HandleRegisterSubmission(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		h.observe(r, start, "200")
	}()
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	category, err := h.service.Category(r.PathValue("course"), r.PathValue("item"))
	if err != nil {
		http.Error(w, "Invalid category", http.StatusBadRequest)
		return
	}

	var workflow models.StaffWorkflow
	if err := json.NewDecoder(r.Body).Decode(&workflow); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	workflow.CourseID = category.CourseID
	workflow.ItemID = category.ItemID
	if workflow.SubmissionUUID == "" {
		workflow.SubmissionUUID = uuid.NewString()
	}

	if err := h.service.Queue.Enqueue(&workflow, time.Now().UTC()); err != nil {
		if errors.Is(err, store.ErrDuplicateSubmission) {
			writeStoreError(w, err)
			return
		}
		logger.Error.Printf("Failed to register submission: %v", err)
		http.Error(w, "Failed to register submission", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(workflow)
}

func (h *WorkflowHandler) HandleListPending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusNotFound)
		return
	}

	category, err := h.service.Category(r.PathValue("course"), r.PathValue("item"))
	if err != nil {
		http.Error(w, "Invalid category", http.StatusBadRequest)
		return
	}

	pending, err := h.service.Queue.Pending(category, time.Now().UTC())
	if err != nil {
		logger.Error.Printf("Failed to list pending for %s/%s: %v", category.CourseID, category.ItemID, err)
		http.Error(w, "Failed to fetch pending submissions", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"submissions": pending,
	}); err != nil {
		logger.Error.Printf("Failed to encode pending list: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

func (h *WorkflowHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusNotFound)
		return
	}

	category, err := h.service.Category(r.PathValue("course"), r.PathValue("item"))
	if err != nil {
		http.Error(w, "Invalid category", http.StatusBadRequest)
		return
	}

	counts, err := h.service.Queue.Counts(category, time.Now().UTC())
	if err != nil {
		logger.Error.Printf("Failed to fetch stats for %s/%s: %v", category.CourseID, category.ItemID, err)
		http.Error(w, "Failed to fetch stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(counts); err != nil {
		logger.Error.Printf("Failed to encode stats: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

type completeRequest struct {
	ScorerID   string `json:"scorer_id"`
	Assessment string `json:"assessment"`
}

func (h *WorkflowHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		h.observe(r, start, "200")
	}()
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	submissionUUID := r.PathValue("submission_uuid")
	if submissionUUID == "" {
		http.Error(w, "Invalid submission uuid", http.StatusBadRequest)
		return
	}

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ScorerID == "" || req.Assessment == "" {
		http.Error(w, "scorer_id and assessment are required", http.StatusBadRequest)
		return
	}

	if err := h.service.CompleteGrading(r.Context(), submissionUUID, req.ScorerID, req.Assessment); err != nil {
		logger.Error.Printf("Failed to complete %s: %v", submissionUUID, err)
		writeStoreError(w, err)
		return
	}

	if workflow, err := h.service.Store.GetWorkflow(submissionUUID); err == nil {
		metrics.FinalizedTotal.WithLabelValues(workflow.CourseID, workflow.ItemID, "completed").Inc()
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type terminalRequest struct {
	Reason  string `json:"reason"`
	ActorID string `json:"actor_id"`
}

func (h *WorkflowHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.handleTerminal(w, r, "cancelled", h.service.CancelSubmission)
}

func (h *WorkflowHandler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	h.handleTerminal(w, r, "returned", h.service.ReturnSubmission)
}

func (h *WorkflowHandler) handleTerminal(
	w http.ResponseWriter,
	r *http.Request,
	outcome string,
	apply func(ctx context.Context, submissionUUID, reason, actorID string) error,
) {
	start := time.Now()
	defer func() {
		h.observe(r, start, "200")
	}()
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	submissionUUID := r.PathValue("submission_uuid")
	if submissionUUID == "" {
		http.Error(w, "Invalid submission uuid", http.StatusBadRequest)
		return
	}

	var req terminalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := apply(r.Context(), submissionUUID, req.Reason, req.ActorID); err != nil {
		logger.Error.Printf("Failed to mark %s %s: %v", submissionUUID, outcome, err)
		writeStoreError(w, err)
		return
	}

	if workflow, err := h.service.Store.GetWorkflow(submissionUUID); err == nil {
		metrics.FinalizedTotal.WithLabelValues(workflow.CourseID, workflow.ItemID, outcome).Inc()
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
