package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/invorya/clearance-api/internal/application/clearance"
	"github.com/invorya/clearance-api/internal/application/dto"
	"github.com/invorya/clearance-api/internal/domain"
	"github.com/invorya/clearance-api/internal/domain/zatca"
	infrazatca "github.com/invorya/clearance-api/internal/infrastructure/zatca"
)

// InvoiceHandler serves the invoice compliance endpoints (protected).
type InvoiceHandler struct {
	orch  *clearance.Orchestrator
	pdfUC *clearance.PDFUseCase
}

// NewInvoiceHandler builds the handler. pdfUC may be nil when the printable
// representation is disabled.
func NewInvoiceHandler(orch *clearance.Orchestrator, pdfUC *clearance.PDFUseCase) *InvoiceHandler {
	return &InvoiceHandler{orch: orch, pdfUC: pdfUC}
}

// Submit registers and processes a new invoice.
// POST /api/invoices
func (h *InvoiceHandler) Submit(c *fiber.Ctx) error {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "invalid token"})
	}
	var req zatca.InvoiceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "malformed request body"})
	}

	inv, created, err := h.orch.Submit(c.Context(), tenantID, &req)
	if err != nil {
		return h.mapError(c, err)
	}
	status := fiber.StatusCreated
	if !created {
		// Idempotent replay: same (number, environment) returns the record.
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(dto.NewInvoiceResponse(inv))
}

// Retry reprocesses a rejected or failed invoice from its audit log.
// POST /api/invoices/:id/retry
func (h *InvoiceHandler) Retry(c *fiber.Ctx) error {
	tenantID, id, errResp := h.scoped(c)
	if errResp != nil {
		return errResp
	}
	inv, err := h.orch.Retry(c.Context(), tenantID, id)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(dto.NewInvoiceResponse(inv))
}

// GetByID returns the full invoice record.
// GET /api/invoices/:id
func (h *InvoiceHandler) GetByID(c *fiber.Ctx) error {
	tenantID, id, errResp := h.scoped(c)
	if errResp != nil {
		return errResp
	}
	inv, err := h.orch.Get(c.Context(), tenantID, id)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(dto.NewInvoiceResponse(inv))
}

// Status returns the lightweight polling view.
// GET /api/invoices/:id/status
func (h *InvoiceHandler) Status(c *fiber.Ctx) error {
	tenantID, id, errResp := h.scoped(c)
	if errResp != nil {
		return errResp
	}
	inv, err := h.orch.Get(c.Context(), tenantID, id)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(dto.NewInvoiceStatusResponse(inv))
}

// History returns every processing attempt.
// GET /api/invoices/:id/history
func (h *InvoiceHandler) History(c *fiber.Ctx) error {
	tenantID, id, errResp := h.scoped(c)
	if errResp != nil {
		return errResp
	}
	logs, err := h.orch.History(c.Context(), tenantID, id)
	if err != nil {
		return h.mapError(c, err)
	}
	out := make([]dto.AttemptResponse, len(logs))
	for i, rec := range logs {
		out[i] = dto.NewAttemptResponse(rec)
	}
	return c.JSON(out)
}

// XML downloads the signed invoice XML.
// GET /api/invoices/:id/xml
func (h *InvoiceHandler) XML(c *fiber.Ctx) error {
	tenantID, id, errResp := h.scoped(c)
	if errResp != nil {
		return errResp
	}
	inv, err := h.orch.Get(c.Context(), tenantID, id)
	if err != nil {
		return h.mapError(c, err)
	}
	if inv.SignedXML == "" {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "invoice has no signed XML"})
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationXML)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+inv.InvoiceNumber+`.xml"`)
	return c.SendString(inv.SignedXML)
}

// QR renders the invoice QR payload as a PNG.
// GET /api/invoices/:id/qr
func (h *InvoiceHandler) QR(c *fiber.Ctx) error {
	tenantID, id, errResp := h.scoped(c)
	if errResp != nil {
		return errResp
	}
	inv, err := h.orch.Get(c.Context(), tenantID, id)
	if err != nil {
		return h.mapError(c, err)
	}
	if inv.QRPayload == "" {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "invoice has no QR payload"})
	}
	png, err := infrazatca.RenderPNG(inv.QRPayload, 256)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	c.Set(fiber.HeaderContentType, "image/png")
	return c.Send(png)
}

// PDF renders the printable invoice.
// GET /api/invoices/:id/pdf
func (h *InvoiceHandler) PDF(c *fiber.Ctx) error {
	tenantID, id, errResp := h.scoped(c)
	if errResp != nil {
		return errResp
	}
	if h.pdfUC == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(dto.ErrorResponse{Code: "DISABLED", Message: "PDF rendering is not enabled"})
	}
	pdfBytes, err := h.pdfUC.RenderInvoicePDF(c.Context(), tenantID, id)
	if err != nil {
		return h.mapError(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, `inline; filename="invoice.pdf"`)
	return c.Send(pdfBytes)
}

// Explain returns the advisory explanation for a rejected invoice.
// GET /api/invoices/:id/explain
func (h *InvoiceHandler) Explain(c *fiber.Ctx) error {
	tenantID, id, errResp := h.scoped(c)
	if errResp != nil {
		return errResp
	}
	explanation, err := h.orch.Explain(c.Context(), tenantID, id)
	if err != nil {
		return h.mapError(c, err)
	}
	if explanation == "" {
		// No advisory provider configured, or the provider had nothing to say.
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Code: "ADVISORY_UNAVAILABLE", Message: "no explanation available"})
	}
	return c.JSON(dto.ExplanationResponse{InvoiceID: id, Explanation: explanation})
}

// scoped extracts and validates the tenant and the :id param.
func (h *InvoiceHandler) scoped(c *fiber.Ctx) (tenantID, id string, errResp error) {
	tenantID = GetTenantID(c)
	if tenantID == "" {
		return "", "", c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "invalid token"})
	}
	id = c.Params("id")
	if id == "" {
		return "", "", c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "id required"})
	}
	return tenantID, id, nil
}

func (h *InvoiceHandler) mapError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "invoice not found"})
	case errors.Is(err, domain.ErrStateConflict):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "STATE_CONFLICT", Message: err.Error()})
	case errors.Is(err, domain.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: "access denied"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
}
