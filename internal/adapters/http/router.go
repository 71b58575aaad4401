package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/l0kol/IPledge/internal/application"
	"github.com/l0kol/IPledge/internal/ports"
)

// ReadinessCheck reports whether backing stores are reachable.
type ReadinessCheck func(ctx context.Context) error

type Handler struct {
	service *application.Service
	tokens  ports.TokenVerifier
	ready   ReadinessCheck
}

func NewHandler(service *application.Service, tokens ports.TokenVerifier, ready ReadinessCheck) *Handler {
	return &Handler{service: service, tokens: tokens, ready: ready}
}

func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)

	r.Route("/funding/v1", func(r chi.Router) {
		// The calculator touches no ledger state.
		r.Post("/revenue/quote", handler.quoteRevenue)

		r.Group(func(r chi.Router) {
			r.Use(handler.authMiddleware)

			r.Post("/projects", handler.createProject)
			r.Route("/projects/{project_id}", func(r chi.Router) {
				r.Get("/", handler.getProject)
				r.Get("/escrow", handler.currentEscrow)
				r.Post("/pledges", handler.pledge)
				r.Post("/refunds", handler.refundPledge)
				r.Get("/releases", handler.releaseHistory)
				r.Post("/releases", handler.commitRelease)
				r.Get("/collateral", handler.collateralHealth)
				r.Post("/valuations", handler.recordValuation)
				r.Get("/reports/funding-flow", handler.fundingFlowReport)
				r.Get("/reports/backer-segments", handler.backerSegments)
			})
			r.Post("/milestones/{milestone_id}/proofs", handler.submitMilestoneProof)
			r.Post("/milestones/overdue-sweep", handler.sweepOverdueMilestones)
			r.Post("/revenue/distributions", handler.distributeRevenue)
			r.Get("/portfolio/exposure", handler.portfolioExposure)
			r.Post("/collateral/reevaluate", handler.reevaluateCollateral)
		})
	})

	return r
}
