package clearance

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invorya/clearance-api/internal/domain/entity"
	"github.com/invorya/clearance-api/internal/domain/zatca"
)

// PDFGenerator renders the printable representation of an invoice.
type PDFGenerator interface {
	GenerateInvoicePDF(ctx context.Context, inv *entity.Invoice, req *zatca.InvoiceRequest) ([]byte, error)
}

// PDFUseCase produces the printable invoice from the stored record plus the
// request payload preserved in the audit log.
type PDFUseCase struct {
	invoices  InvoiceRepository
	logs      InvoiceLogRepository
	generator PDFGenerator
}

// NewPDFUseCase wires the use case.
func NewPDFUseCase(invoices InvoiceRepository, logs InvoiceLogRepository, generator PDFGenerator) *PDFUseCase {
	return &PDFUseCase{invoices: invoices, logs: logs, generator: generator}
}

// RenderInvoicePDF returns the PDF bytes for the invoice.
func (u *PDFUseCase) RenderInvoicePDF(ctx context.Context, tenantID, invoiceID string) ([]byte, error) {
	inv, err := u.invoices.GetByID(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}

	last, err := u.logs.MostRecent(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("load invoice payload: %w", err)
	}
	req := &zatca.InvoiceRequest{}
	if err := json.Unmarshal(last.RequestPayload, req); err != nil {
		return nil, fmt.Errorf("decode invoice payload: %w", err)
	}

	return u.generator.GenerateInvoicePDF(ctx, inv, req)
}
