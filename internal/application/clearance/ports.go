package clearance

import (
	"context"
	"crypto/tls"

	"github.com/invorya/clearance-api/internal/domain/entity"
	infrazatca "github.com/invorya/clearance-api/internal/infrastructure/zatca"
	"github.com/invorya/clearance-api/internal/infrastructure/zatca/signer"
)

// InvoiceRepository is the outbound port for invoice records.
type InvoiceRepository interface {
	// CreateOrGet inserts the invoice or, when one already exists for the
	// same (tenant, invoice number, environment), returns the existing row.
	// The boolean reports whether a new row was created.
	CreateOrGet(ctx context.Context, inv *entity.Invoice) (*entity.Invoice, bool, error)

	// GetByID returns the invoice scoped to its tenant.
	GetByID(ctx context.Context, tenantID, id string) (*entity.Invoice, error)

	// ClaimForProcessing flips the invoice to PROCESSING only if its current
	// status is one of from, in a single atomic statement. Exactly one of any
	// number of concurrent callers observes true.
	ClaimForProcessing(ctx context.Context, id string, from []entity.InvoiceStatus) (bool, error)

	// Update persists the full record. Implementations only write rows still
	// holding the PROCESSING claim and fail with ErrStateConflict otherwise,
	// so a terminal row cannot be overwritten.
	Update(ctx context.Context, inv *entity.Invoice) error

	// ChainHead returns the content hash of the most recently cleared invoice
	// for the tenant and environment, plus the next invoice counter value.
	// An empty hash means the chain has no predecessor yet.
	ChainHead(ctx context.Context, tenantID string, env entity.Environment) (previousHash string, counter int64, err error)
}

// InvoiceLogRepository is the outbound port for the append-only attempt log.
// Rows are never updated or deleted.
type InvoiceLogRepository interface {
	Append(ctx context.Context, rec *entity.InvoiceLog) error

	// MostRecent returns the latest log row for the invoice by sequence
	// number, or domain.ErrNotFound when no attempt was recorded.
	MostRecent(ctx context.Context, invoiceID string) (*entity.InvoiceLog, error)

	// ListByInvoice returns every attempt in ascending sequence order.
	ListByInvoice(ctx context.Context, invoiceID string) ([]entity.InvoiceLog, error)
}

// Submitter delivers one signed document to the clearance gateway. A single
// attempt per call; the orchestrator owns retry policy.
type Submitter interface {
	Submit(ctx context.Context, env entity.Environment, mode entity.SubmissionMode, invoiceUUID, contentHash string, signedXML []byte) (*infrazatca.ClearanceOutcome, error)
}

// Signer produces the detached signature embedded in the invoice XML.
type Signer interface {
	Sign(canonicalXML []byte, contentHash string, cert tls.Certificate) (*signer.SignedDocument, error)
}

// CertificateStore loads the tenant signing certificate.
type CertificateStore interface {
	Load() (tls.Certificate, error)
}

// AdvisoryService is the optional read-only layer that explains rejections.
// It never influences processing: calls happen after the record is persisted
// and failures are logged, not propagated.
type AdvisoryService interface {
	ExplainRejection(ctx context.Context, inv *entity.Invoice, gatewayMessage string) (string, error)
}

// NoopAdvisory satisfies AdvisoryService without doing anything, for
// deployments that run without an AI provider.
type NoopAdvisory struct{}

func (NoopAdvisory) ExplainRejection(context.Context, *entity.Invoice, string) (string, error) {
	return "", nil
}

var _ AdvisoryService = NoopAdvisory{}
