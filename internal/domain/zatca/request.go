// Package zatca contains the domain rules of the two-phase e-invoicing scheme:
// the submission request model, the Phase-1/Phase-2 validator and the chained
// content hash. Everything here is pure — no I/O, no clock, no network.
package zatca

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/invorya/clearance-api/internal/domain/entity"
)

// StandardVATRate is the jurisdiction's mandated rate for tax category S.
var StandardVATRate = decimal.NewFromInt(15)

// SimplifiedThreshold is the grand total under which a Phase-1 invoice may
// omit buyer identification (simplified invoice).
var SimplifiedThreshold = decimal.NewFromInt(1000)

// Party identifies the seller or the buyer of an invoice.
type Party struct {
	Name      string `json:"name"`
	VATNumber string `json:"vat_number"`
	Address   string `json:"address,omitempty"`
}

// LineItem is one ordered invoice line. Discount applies to the line gross
// (quantity × unit price) before tax.
type LineItem struct {
	Name        string          `json:"name"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"`     // percent, e.g. 15.00
	TaxCategory string          `json:"tax_category"` // S, Z, E or O
	Discount    decimal.Decimal `json:"discount"`
}

// Totals are the declared totals; the validator checks them against the sum
// derived from the lines within a 0.01 tolerance.
type Totals struct {
	TaxExclusive decimal.Decimal `json:"tax_exclusive"`
	TaxAmount    decimal.Decimal `json:"tax_amount"`
	GrandTotal   decimal.Decimal `json:"grand_total"`
}

// InvoiceRequest is the submission input, immutable once accepted. Its JSON
// form is stored verbatim in the audit log and is the payload replayed on
// retry, so the tags here are part of the durable contract.
type InvoiceRequest struct {
	Mode          entity.SubmissionMode `json:"mode"`
	Environment   entity.Environment    `json:"environment"`
	InvoiceNumber string                `json:"invoice_number"`
	IssueTime     time.Time             `json:"issue_time"`
	Seller        Party                 `json:"seller"`
	Buyer         *Party                `json:"buyer,omitempty"`
	Lines         []LineItem            `json:"lines"`
	Totals        Totals                `json:"totals"`
	UUID          string                `json:"uuid,omitempty"`
	PreviousHash  string                `json:"previous_hash,omitempty"`
}

// LineTaxable returns quantity × unit price − discount for one line.
func (l LineItem) LineTaxable() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice).Sub(l.Discount)
}

// LineTax returns the line tax, rounded to 2 decimals.
func (l LineItem) LineTax() decimal.Decimal {
	return l.LineTaxable().Mul(l.TaxRate).Div(decimal.NewFromInt(100)).Round(2)
}

// Simplified reports whether the request qualifies as a simplified invoice:
// Phase-1 tier with a grand total under the threshold. Simplified invoices may
// omit buyer identification.
func (r *InvoiceRequest) Simplified() bool {
	return r.Mode == entity.ModePhase1 && r.Totals.GrandTotal.LessThan(SimplifiedThreshold)
}
