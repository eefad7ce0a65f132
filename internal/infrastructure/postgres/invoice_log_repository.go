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

var _ clearance.InvoiceLogRepository = (*InvoiceLogRepo)(nil)

// InvoiceLogRepo persists the append-only attempt log. seq is a bigserial so
// ordering stays strict even when two attempts land on the same timestamp.
type InvoiceLogRepo struct {
	q Querier
}

// NewInvoiceLogRepository builds the adapter. Pass a pool or tx (Querier).
func NewInvoiceLogRepository(q Querier) *InvoiceLogRepo {
	return &InvoiceLogRepo{q: q}
}

const invoiceLogColumns = `
	id, invoice_id, seq, action, previous_status, status,
	request_payload, generated_xml, raw_response,
	submitted_at, cleared_at, created_at`

// Append inserts one log row and fills rec.Seq from the sequence.
func (r *InvoiceLogRepo) Append(ctx context.Context, rec *entity.InvoiceLog) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	query := `
		INSERT INTO invoice_logs (id, invoice_id, action, previous_status, status,
		                          request_payload, generated_xml, raw_response,
		                          submitted_at, cleared_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING seq`
	err := r.q.QueryRow(ctx, query,
		rec.ID, rec.InvoiceID, rec.Action, nullIfEmpty(string(rec.PreviousStatus)), rec.Status,
		rec.RequestPayload, nullIfEmpty(rec.GeneratedXML), nullIfEmpty(rec.RawResponse),
		rec.SubmittedAt, rec.ClearedAt, rec.CreatedAt,
	).Scan(&rec.Seq)
	if err != nil {
		return fmt.Errorf("insert invoice log: %w", err)
	}
	return nil
}

// MostRecent returns the latest attempt for the invoice by sequence number.
func (r *InvoiceLogRepo) MostRecent(ctx context.Context, invoiceID string) (*entity.InvoiceLog, error) {
	query := `SELECT ` + invoiceLogColumns + `
		FROM invoice_logs WHERE invoice_id = $1 ORDER BY seq DESC LIMIT 1`
	rec, err := scanLog(r.q.QueryRow(ctx, query, invoiceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get last invoice log: %w", err)
	}
	return rec, nil
}

// ListByInvoice returns every attempt in ascending sequence order.
func (r *InvoiceLogRepo) ListByInvoice(ctx context.Context, invoiceID string) ([]entity.InvoiceLog, error) {
	query := `SELECT ` + invoiceLogColumns + `
		FROM invoice_logs WHERE invoice_id = $1 ORDER BY seq ASC`
	rows, err := r.q.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list invoice logs: %w", err)
	}
	defer rows.Close()

	var list []entity.InvoiceLog
	for rows.Next() {
		rec, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice log: %w", err)
		}
		list = append(list, *rec)
	}
	return list, rows.Err()
}

func scanLog(row pgx.Row) (*entity.InvoiceLog, error) {
	var rec entity.InvoiceLog
	var prevStatus, generatedXML, rawResponse *string
	err := row.Scan(
		&rec.ID, &rec.InvoiceID, &rec.Seq, &rec.Action, &prevStatus, &rec.Status,
		&rec.RequestPayload, &generatedXML, &rawResponse,
		&rec.SubmittedAt, &rec.ClearedAt, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.PreviousStatus = entity.InvoiceStatus(derefStr(prevStatus))
	rec.GeneratedXML = derefStr(generatedXML)
	rec.RawResponse = derefStr(rawResponse)
	return &rec, nil
}
