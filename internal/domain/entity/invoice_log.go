package entity

import "time"

// LogAction distinguishes a first submission from an operator retry.
type LogAction string

const (
	LogActionSubmit LogAction = "SUBMIT"
	LogActionRetry  LogAction = "RETRY"
)

// InvoiceLog is one append-only audit entry per processing attempt. It is the
// durable source of truth for retry reconstruction: RequestPayload holds the
// full original request JSON, and the most recent entry (by Seq, descending)
// is authoritative. Entries are created only by the orchestrator and never
// mutated after insert.
type InvoiceLog struct {
	ID             string
	InvoiceID      string
	Seq            int64 // bigserial: strict total order even on timestamp ties
	Action         LogAction
	PreviousStatus InvoiceStatus // set only on RETRY entries
	Status         InvoiceStatus
	RequestPayload []byte // JSON of the original InvoiceRequest
	GeneratedXML   string // phase2 only
	RawResponse    string // clearance API response, verbatim
	SubmittedAt    time.Time
	ClearedAt      *time.Time
	CreatedAt      time.Time
}
