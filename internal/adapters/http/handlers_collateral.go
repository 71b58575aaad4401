package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/l0kol/IPledge/internal/domain"
)

func (h *Handler) collateralHealth(w http.ResponseWriter, r *http.Request) {
	health, err := h.service.GetCollateralHealth(r.Context(), actorFromRequest(r), chi.URLParam(r, "project_id"))
	if err != nil {
		writeMappedError(r.Context(), w, "collateral_health", err)
		return
	}
	writeSuccess(w, http.StatusOK, health)
}

func (h *Handler) recordValuation(w http.ResponseWriter, r *http.Request) {
	var v domain.AssetValuation
	if err := decodeBody(r, &v); err != nil {
		writeValidationError(r.Context(), w, "record_valuation", err)
		return
	}
	health, err := h.service.RecordValuation(r.Context(), actorFromRequest(r), chi.URLParam(r, "project_id"), v)
	if err != nil {
		writeMappedError(r.Context(), w, "record_valuation", err)
		return
	}
	writeSuccess(w, http.StatusOK, health)
}

func (h *Handler) portfolioExposure(w http.ResponseWriter, r *http.Request) {
	ids := splitList(r.URL.Query()["project_id"])
	exposure, err := h.service.GetPortfolioExposure(r.Context(), actorFromRequest(r), ids)
	if err != nil {
		writeMappedError(r.Context(), w, "portfolio_exposure", err)
		return
	}
	writeSuccess(w, http.StatusOK, exposure)
}

func (h *Handler) reevaluateCollateral(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.ReevaluateCollateral(r.Context(), actorFromRequest(r))
	if err != nil {
		writeMappedError(r.Context(), w, "reevaluate_collateral", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"evaluated": n})
}
