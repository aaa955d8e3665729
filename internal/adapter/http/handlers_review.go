package http

import (
	"errors"
	"net/http"

	"github.com/Strob0t/VoiceForge/internal/domain"
	"github.com/Strob0t/VoiceForge/internal/domain/review"
	"github.com/Strob0t/VoiceForge/internal/service"
)

type reviewerRequest struct {
	ReviewerID string `json:"reviewer_id"`
}

type completeRequest struct {
	ReviewerID string         `json:"reviewer_id"`
	Verdict    review.Verdict `json:"verdict"`
	Notes      string         `json:"notes,omitempty"`
}

// NextReviewItem handles GET /api/v1/review/next?reviewer_id=&language=
// An empty queue answers 204.
func (h *Handlers) NextReviewItem(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	reviewerID := q.Get("reviewer_id")
	if !requireField(w, reviewerID, "reviewer_id") {
		return
	}
	item, err := h.Reviews.Next(r.Context(), reviewerID, q.Get("language"))
	if errors.Is(err, domain.ErrNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// ReviewStats handles GET /api/v1/review/stats
func (h *Handlers) ReviewStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Reviews.Stats(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// EnqueueReviewItem handles POST /api/v1/review/items
func (h *Handlers) EnqueueReviewItem(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.EnqueueRequest](w, r)
	if !ok {
		return
	}
	item, err := h.Reviews.Enqueue(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "validation record not found")
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// ClaimReviewItem handles POST /api/v1/review/items/{id}/claim
// Losing a claim race answers 409.
func (h *Handlers) ClaimReviewItem(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[reviewerRequest](w, r)
	if !ok {
		return
	}
	claimed, err := h.Reviews.Claim(r.Context(), urlParam(r, "id"), req.ReviewerID)
	writeTransition(w, claimed, err, "item is not pending")
}

// ReleaseReviewItem handles POST /api/v1/review/items/{id}/release
func (h *Handlers) ReleaseReviewItem(w http.ResponseWriter, r *http.Request) {
	released, err := h.Reviews.Release(r.Context(), urlParam(r, "id"))
	writeTransition(w, released, err, "item is not claimed")
}

// CompleteReviewItem handles POST /api/v1/review/items/{id}/complete
func (h *Handlers) CompleteReviewItem(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[completeRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.ReviewerID, "reviewer_id") {
		return
	}
	done, err := h.Reviews.Complete(r.Context(), urlParam(r, "id"), req.ReviewerID, review.CompleteRequest{
		Verdict: req.Verdict,
		Notes:   req.Notes,
	})
	writeTransition(w, done, err, "item is not claimed by this reviewer")
}

// writeTransition answers a compare-and-set queue transition.
func writeTransition(w http.ResponseWriter, ok bool, err error, conflictMsg string) {
	if err != nil {
		writeDomainError(w, err, "review item not found")
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, conflictMsg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
