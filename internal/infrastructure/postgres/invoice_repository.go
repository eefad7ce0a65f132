package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/invorya/clearance-api/internal/application/clearance"
	"github.com/invorya/clearance-api/internal/domain"
	"github.com/invorya/clearance-api/internal/domain/entity"
)

var _ clearance.InvoiceRepository = (*InvoiceRepo)(nil)

// InvoiceRepo persists invoice records (usable with pool or tx).
type InvoiceRepo struct {
	q Querier
}

// NewInvoiceRepository builds the adapter. Pass a pool or tx (Querier).
func NewInvoiceRepository(q Querier) *InvoiceRepo {
	return &InvoiceRepo{q: q}
}

const invoiceColumns = `
	id, tenant_id, invoice_number, environment, mode, status,
	content_hash, uuid, qr_payload, signed_xml, error_message,
	submitted_at, cleared_at, created_at, updated_at`

// CreateOrGet inserts the invoice; on a (tenant, number, environment)
// collision the existing row is returned instead. The insert and the fallback
// read are separate statements, which is safe because rows are never deleted.
func (r *InvoiceRepo) CreateOrGet(ctx context.Context, inv *entity.Invoice) (*entity.Invoice, bool, error) {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	query := `
		INSERT INTO invoices (` + invoiceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (tenant_id, invoice_number, environment) DO NOTHING`
	tag, err := r.q.Exec(ctx, query,
		inv.ID, inv.TenantID, inv.InvoiceNumber, inv.Environment, inv.Mode, inv.Status,
		nullIfEmpty(inv.ContentHash), nullIfEmpty(inv.UUID), nullIfEmpty(inv.QRPayload),
		nullIfEmpty(inv.SignedXML), nullIfEmpty(inv.ErrorMessage),
		inv.SubmittedAt, inv.ClearedAt, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert invoice: %w", err)
	}
	if tag.RowsAffected() == 1 {
		cp := *inv
		return &cp, true, nil
	}

	existing, err := r.getByKey(ctx, inv.TenantID, inv.InvoiceNumber, inv.Environment)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetByID returns the invoice scoped to its tenant, or domain.ErrNotFound.
func (r *InvoiceRepo) GetByID(ctx context.Context, tenantID, id string) (*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1 AND tenant_id = $2`
	return r.scanOne(r.q.QueryRow(ctx, query, id, tenantID))
}

func (r *InvoiceRepo) getByKey(ctx context.Context, tenantID, number string, env entity.Environment) (*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + `
		FROM invoices WHERE tenant_id = $1 AND invoice_number = $2 AND environment = $3`
	return r.scanOne(r.q.QueryRow(ctx, query, tenantID, number, env))
}

// ClaimForProcessing swaps the status to PROCESSING in one atomic statement
// guarded by the current status. The row count decides the race: exactly one
// concurrent caller sees 1.
func (r *InvoiceRepo) ClaimForProcessing(ctx context.Context, id string, from []entity.InvoiceStatus) (bool, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	query := `
		UPDATE invoices
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)`
	tag, err := r.q.Exec(ctx, query, id, entity.StatusProcessing, states)
	if err != nil {
		return false, fmt.Errorf("claim invoice: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Update persists every attempt-mutable field. The statement is guarded on
// the row still holding the PROCESSING claim, so a terminal row (a cleared
// invoice above all) can never be overwritten even by buggy application code.
func (r *InvoiceRepo) Update(ctx context.Context, inv *entity.Invoice) error {
	query := `
		UPDATE invoices
		SET status        = $2,
		    content_hash  = COALESCE($3, content_hash),
		    uuid          = COALESCE($4, uuid),
		    qr_payload    = COALESCE($5, qr_payload),
		    signed_xml    = COALESCE($6, signed_xml),
		    error_message = $7,
		    submitted_at  = $8,
		    cleared_at    = $9,
		    updated_at    = $10
		WHERE id = $1 AND status = $11`
	tag, err := r.q.Exec(ctx, query,
		inv.ID, inv.Status,
		nullIfEmpty(inv.ContentHash), nullIfEmpty(inv.UUID), nullIfEmpty(inv.QRPayload),
		nullIfEmpty(inv.SignedXML), inv.ErrorMessage,
		inv.SubmittedAt, inv.ClearedAt, inv.UpdatedAt,
		entity.StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: invoice %s is not PROCESSING", domain.ErrStateConflict, inv.ID)
	}
	return nil
}

// ChainHead returns the content hash of the latest cleared invoice for the
// tenant and environment plus the next counter value. An empty hash means the
// chain starts here.
func (r *InvoiceRepo) ChainHead(ctx context.Context, tenantID string, env entity.Environment) (string, int64, error) {
	query := `
		SELECT COALESCE(
		         (SELECT content_hash FROM invoices
		          WHERE tenant_id = $1 AND environment = $2 AND status = $3
		          ORDER BY cleared_at DESC LIMIT 1),
		         ''),
		       (SELECT COUNT(*) FROM invoices
		        WHERE tenant_id = $1 AND environment = $2 AND status = $3) + 1`
	var hash string
	var counter int64
	if err := r.q.QueryRow(ctx, query, tenantID, env, entity.StatusCleared).Scan(&hash, &counter); err != nil {
		return "", 0, fmt.Errorf("chain head: %w", err)
	}
	return hash, counter, nil
}

func (r *InvoiceRepo) scanOne(row pgx.Row) (*entity.Invoice, error) {
	var inv entity.Invoice
	var contentHash, invUUID, qrPayload, signedXML, errorMessage *string
	err := row.Scan(
		&inv.ID, &inv.TenantID, &inv.InvoiceNumber, &inv.Environment, &inv.Mode, &inv.Status,
		&contentHash, &invUUID, &qrPayload, &signedXML, &errorMessage,
		&inv.SubmittedAt, &inv.ClearedAt, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	inv.ContentHash = derefStr(contentHash)
	inv.UUID = derefStr(invUUID)
	inv.QRPayload = derefStr(qrPayload)
	inv.SignedXML = derefStr(signedXML)
	inv.ErrorMessage = derefStr(errorMessage)
	return &inv, nil
}
