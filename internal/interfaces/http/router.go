package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/invorya/clearance-api/internal/application/clearance"
)

// RouterDeps carries the wired use cases for route registration.
type RouterDeps struct {
	Orchestrator *clearance.Orchestrator
	PDFUC        *clearance.PDFUseCase
	JWTSecret    string
}

// Router registers the API routes.
func Router(app *fiber.App, deps RouterDeps) {
	api := app.Group("/api")

	// Everything under /api requires a Bearer token.
	protected := api.Group("/", AuthMiddleware(deps.JWTSecret))

	invoices := protected.Group("/invoices")
	handler := NewInvoiceHandler(deps.Orchestrator, deps.PDFUC)

	// Submission and retry change state; viewers are read-only.
	invoices.Post("/", RequireRole(RoleOperator), handler.Submit)
	invoices.Post("/:id/retry", RequireRole(RoleOperator), handler.Retry)

	invoices.Get("/:id", handler.GetByID)
	invoices.Get("/:id/status", handler.Status)
	invoices.Get("/:id/history", handler.History)
	invoices.Get("/:id/xml", handler.XML)
	invoices.Get("/:id/qr", handler.QR)
	invoices.Get("/:id/pdf", handler.PDF)
	invoices.Get("/:id/explain", handler.Explain)
}
