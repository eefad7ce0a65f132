package dto

import (
	"time"

	"github.com/invorya/clearance-api/internal/domain/entity"
)

// InvoiceResponse is the full API view of an invoice record. The signed XML
// is exposed through its own endpoint, not inlined here.
type InvoiceResponse struct {
	ID            string     `json:"id"`
	InvoiceNumber string     `json:"invoice_number"`
	Environment   string     `json:"environment"`
	Mode          string     `json:"mode"`
	Status        string     `json:"status"`
	ContentHash   string     `json:"content_hash,omitempty"`
	UUID          string     `json:"uuid,omitempty"`
	QRPayload     string     `json:"qr_payload,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
	ClearedAt     *time.Time `json:"cleared_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// NewInvoiceResponse maps the entity to its API view.
func NewInvoiceResponse(inv *entity.Invoice) InvoiceResponse {
	return InvoiceResponse{
		ID:            inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		Environment:   string(inv.Environment),
		Mode:          string(inv.Mode),
		Status:        string(inv.Status),
		ContentHash:   inv.ContentHash,
		UUID:          inv.UUID,
		QRPayload:     inv.QRPayload,
		ErrorMessage:  inv.ErrorMessage,
		SubmittedAt:   inv.SubmittedAt,
		ClearedAt:     inv.ClearedAt,
		CreatedAt:     inv.CreatedAt,
		UpdatedAt:     inv.UpdatedAt,
	}
}

// InvoiceStatusResponse is the lightweight polling view.
type InvoiceStatusResponse struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	UUID         string     `json:"uuid,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ClearedAt    *time.Time `json:"cleared_at,omitempty"`
}

// NewInvoiceStatusResponse maps the entity to the polling view.
func NewInvoiceStatusResponse(inv *entity.Invoice) InvoiceStatusResponse {
	return InvoiceStatusResponse{
		ID:           inv.ID,
		Status:       string(inv.Status),
		UUID:         inv.UUID,
		ErrorMessage: inv.ErrorMessage,
		ClearedAt:    inv.ClearedAt,
	}
}

// AttemptResponse is one audit log entry in the processing history.
type AttemptResponse struct {
	Seq            int64      `json:"seq"`
	Action         string     `json:"action"`
	PreviousStatus string     `json:"previous_status,omitempty"`
	Status         string     `json:"status"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	ClearedAt      *time.Time `json:"cleared_at,omitempty"`
}

// NewAttemptResponse maps one log row to its API view.
func NewAttemptResponse(rec entity.InvoiceLog) AttemptResponse {
	return AttemptResponse{
		Seq:            rec.Seq,
		Action:         string(rec.Action),
		PreviousStatus: string(rec.PreviousStatus),
		Status:         string(rec.Status),
		SubmittedAt:    rec.SubmittedAt,
		ClearedAt:      rec.ClearedAt,
	}
}

// ExplanationResponse carries the advisory view of a rejection.
type ExplanationResponse struct {
	InvoiceID   string `json:"invoice_id"`
	Explanation string `json:"explanation"`
}
