package http

import (
	"net/http"

	"github.com/l0kol/IPledge/internal/application"
	"github.com/l0kol/IPledge/internal/domain"
)

type distributeRequest struct {
	domain.RevenueEvent
	Tiers []domain.TierSpec `json:"tiers,omitempty"`
}

func (h *Handler) distributeRevenue(w http.ResponseWriter, r *http.Request) {
	var req distributeRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "distribute_revenue", err)
		return
	}
	input := application.DistributeRevenueInput{Event: req.RevenueEvent}
	if len(req.Tiers) > 0 {
		tiers, err := domain.ParseTierTable(req.Tiers)
		if err != nil {
			writeMappedError(r.Context(), w, "distribute_revenue", err)
			return
		}
		input.Tiers = tiers
	}
	res, err := h.service.DistributeRevenue(r.Context(), actorFromRequest(r), input)
	if err != nil {
		writeMappedError(r.Context(), w, "distribute_revenue", err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeSuccess(w, status, res)
}

type quoteRequest struct {
	Amount domain.Money      `json:"amount"`
	Tiers  []domain.TierSpec `json:"tiers,omitempty"`
}

// quoteRevenue runs the tier calculator without recording anything.
func (h *Handler) quoteRevenue(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "quote_revenue", err)
		return
	}
	tiers := h.service.DefaultTiers()
	if len(req.Tiers) > 0 {
		parsed, err := domain.ParseTierTable(req.Tiers)
		if err != nil {
			writeMappedError(r.Context(), w, "quote_revenue", err)
			return
		}
		tiers = parsed
	}
	alloc, err := tiers.Distribute(req.Amount)
	if err != nil {
		writeMappedError(r.Context(), w, "quote_revenue", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"amount": req.Amount, "allocation": alloc})
}
