package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/l0kol/IPledge/internal/application"
	"github.com/l0kol/IPledge/internal/domain"
)

type pledgeRequest struct {
	Amount     domain.Money `json:"amount"`
	BackerType string       `json:"backer_type"`
}

func (h *Handler) pledge(w http.ResponseWriter, r *http.Request) {
	var req pledgeRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "pledge", err)
		return
	}
	res, err := h.service.Pledge(r.Context(), actorFromRequest(r), application.PledgeInput{
		ProjectID:  chi.URLParam(r, "project_id"),
		Amount:     req.Amount,
		BackerType: req.BackerType,
	})
	if err != nil {
		writeMappedError(r.Context(), w, "pledge", err)
		return
	}
	writeSuccess(w, http.StatusCreated, res)
}

type refundRequest struct {
	BackerID   string       `json:"backer_id"`
	BackerType string       `json:"backer_type"`
	Amount     domain.Money `json:"amount"`
}

func (h *Handler) refundPledge(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "refund_pledge", err)
		return
	}
	res, err := h.service.RefundPledge(r.Context(), actorFromRequest(r), application.RefundInput{
		ProjectID:  chi.URLParam(r, "project_id"),
		BackerID:   req.BackerID,
		BackerType: req.BackerType,
		Amount:     req.Amount,
	})
	if err != nil {
		writeMappedError(r.Context(), w, "refund_pledge", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

type releaseRequest struct {
	MilestoneID string       `json:"milestone_id"`
	Amount      domain.Money `json:"amount"`
}

func (h *Handler) commitRelease(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "commit_release", err)
		return
	}
	res, err := h.service.CommitRelease(r.Context(), actorFromRequest(r), application.CommitReleaseInput{
		ProjectID:   chi.URLParam(r, "project_id"),
		MilestoneID: req.MilestoneID,
		Amount:      req.Amount,
	})
	if err != nil {
		writeMappedError(r.Context(), w, "commit_release", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

func (h *Handler) currentEscrow(w http.ResponseWriter, r *http.Request) {
	escrow, err := h.service.CurrentEscrow(r.Context(), actorFromRequest(r), chi.URLParam(r, "project_id"))
	if err != nil {
		writeMappedError(r.Context(), w, "current_escrow", err)
		return
	}
	writeSuccess(w, http.StatusOK, escrow)
}

func (h *Handler) releaseHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ReleaseHistory(r.Context(), actorFromRequest(r), chi.URLParam(r, "project_id"))
	if err != nil {
		writeMappedError(r.Context(), w, "release_history", err)
		return
	}
	writeSuccess(w, http.StatusOK, entries)
}

func (h *Handler) submitMilestoneProof(w http.ResponseWriter, r *http.Request) {
	var proof domain.MilestoneProof
	if err := decodeBody(r, &proof); err != nil {
		writeValidationError(r.Context(), w, "submit_milestone_proof", err)
		return
	}
	res, err := h.service.SubmitMilestoneProof(r.Context(), actorFromRequest(r), application.SubmitProofInput{
		MilestoneID: chi.URLParam(r, "milestone_id"),
		Proof:       proof,
	})
	if err != nil {
		writeMappedError(r.Context(), w, "submit_milestone_proof", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

func (h *Handler) sweepOverdueMilestones(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.MarkOverdueMilestones(r.Context(), actorFromRequest(r))
	if err != nil {
		writeMappedError(r.Context(), w, "sweep_overdue_milestones", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"flagged": n})
}
