package entity

import "time"

// InvoiceStatus is the closed set of processing states. Persistence stores the
// string value; every transition goes through CanTransition so an invalid state
// is not representable in application logic.
type InvoiceStatus string

const (
	StatusCreated    InvoiceStatus = "CREATED"
	StatusProcessing InvoiceStatus = "PROCESSING"
	StatusCleared    InvoiceStatus = "CLEARED"
	StatusRejected   InvoiceStatus = "REJECTED"
	StatusFailed     InvoiceStatus = "FAILED"
)

// SubmissionMode is the regulatory tier of the invoice.
type SubmissionMode string

const (
	ModePhase1 SubmissionMode = "phase1" // reporting: QR payload, no clearance signature
	ModePhase2 SubmissionMode = "phase2" // clearance: UUID, hash chain, digital signature
)

// Environment selects the regulator endpoint.
type Environment string

const (
	EnvSandbox    Environment = "sandbox"
	EnvProduction Environment = "production"
)

// Valid reports whether s is one of the five known statuses.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusProcessing, StatusCleared, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further pipeline run is in flight for s.
func (s InvoiceStatus) Terminal() bool {
	return s == StatusCleared || s == StatusRejected || s == StatusFailed
}

// Retryable reports whether a retry may re-enter PROCESSING from s.
// CLEARED is a fixed point: once cleared, an invoice never transitions again.
func (s InvoiceStatus) Retryable() bool {
	return s == StatusRejected || s == StatusFailed
}

// CanTransition is the exhaustive transition table of the state machine.
func (s InvoiceStatus) CanTransition(to InvoiceStatus) bool {
	switch s {
	case StatusCreated:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCleared || to == StatusRejected || to == StatusFailed
	case StatusRejected, StatusFailed:
		return to == StatusProcessing
	case StatusCleared:
		return false
	}
	return false
}

// Invoice is the persisted record of one logical invoice. Exactly one row
// exists per (tenant, invoice number, environment); that tuple is the
// idempotency boundary. Rows are never deleted (compliance retention).
type Invoice struct {
	ID            string
	TenantID      string
	InvoiceNumber string
	Environment   Environment
	Mode          SubmissionMode
	Status        InvoiceStatus
	ContentHash   string // chained SHA-256 of the canonical XML, base64
	UUID          string // clearance UUID returned by the regulator
	QRPayload     string // base64 TLV payload
	SignedXML     string // phase2 only
	ErrorMessage  string
	SubmittedAt   *time.Time
	ClearedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
