package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/l0kol/IPledge/internal/application"
)

func (h *Handler) createProject(w http.ResponseWriter, r *http.Request) {
	var req application.CreateProjectInput
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "create_project", err)
		return
	}
	ledger, err := h.service.CreateProject(r.Context(), actorFromRequest(r), req)
	if err != nil {
		writeMappedError(r.Context(), w, "create_project", err)
		return
	}
	writeSuccess(w, http.StatusCreated, ledger)
}

func (h *Handler) getProject(w http.ResponseWriter, r *http.Request) {
	ledger, err := h.service.GetProject(r.Context(), actorFromRequest(r), chi.URLParam(r, "project_id"))
	if err != nil {
		writeMappedError(r.Context(), w, "get_project", err)
		return
	}
	writeSuccess(w, http.StatusOK, ledger)
}

func (h *Handler) fundingFlowReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.GetFundingFlowReport(r.Context(), actorFromRequest(r), chi.URLParam(r, "project_id"), r.URL.Query().Get("bucket"))
	if err != nil {
		writeMappedError(r.Context(), w, "funding_flow_report", err)
		return
	}
	writeSuccess(w, http.StatusOK, report)
}

func (h *Handler) backerSegments(w http.ResponseWriter, r *http.Request) {
	segments, err := h.service.GetBackerSegments(r.Context(), actorFromRequest(r), chi.URLParam(r, "project_id"))
	if err != nil {
		writeMappedError(r.Context(), w, "backer_segments", err)
		return
	}
	writeSuccess(w, http.StatusOK, segments)
}
