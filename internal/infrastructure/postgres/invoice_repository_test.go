package postgres

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invorya/clearance-api/internal/domain"
	"github.com/invorya/clearance-api/internal/domain/entity"
)

// anyArgs returns n wildcard matchers; pgxmock requires the argument count of
// an expectation to match even when the values themselves don't matter.
func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *InvoiceRepo) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewInvoiceRepository(mock)
}

func sampleInvoice() *entity.Invoice {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	return &entity.Invoice{
		ID:            "inv-1",
		TenantID:      "tenant-1",
		InvoiceNumber: "INV-0001",
		Environment:   entity.EnvSandbox,
		Mode:          entity.ModePhase2,
		Status:        entity.StatusCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestCreateOrGet_Inserts(t *testing.T) {
	mock, repo := newMockRepo(t)
	inv := sampleInvoice()

	mock.ExpectExec("INSERT INTO invoices").
		WithArgs(inv.ID, inv.TenantID, inv.InvoiceNumber, inv.Environment, inv.Mode, inv.Status,
			nullIfEmpty(""), nullIfEmpty(""), nullIfEmpty(""), nullIfEmpty(""), nullIfEmpty(""),
			inv.SubmittedAt, inv.ClearedAt, inv.CreatedAt, inv.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	got, created, err := repo.CreateOrGet(context.Background(), inv)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, inv.ID, got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrGet_ConflictReturnsExisting(t *testing.T) {
	mock, repo := newMockRepo(t)
	inv := sampleInvoice()
	now := inv.CreatedAt

	mock.ExpectExec("INSERT INTO invoices").
		WithArgs(anyArgs(15)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("SELECT(.|\n)*FROM invoices WHERE tenant_id").
		WithArgs(inv.TenantID, inv.InvoiceNumber, inv.Environment).
		WillReturnRows(invoiceRows().AddRow(
			"existing-id", inv.TenantID, inv.InvoiceNumber, inv.Environment, inv.Mode, entity.StatusCleared,
			strPtr("hash"), strPtr("uuid-1"), nil, nil, nil,
			&now, &now, now, now))

	got, created, err := repo.CreateOrGet(context.Background(), inv)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "existing-id", got.ID)
	assert.Equal(t, entity.StatusCleared, got.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimForProcessing_WinsAndLoses(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectExec("UPDATE invoices").
		WithArgs("inv-1", entity.StatusProcessing, []string{"REJECTED", "FAILED"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	claimed, err := repo.ClaimForProcessing(context.Background(), "inv-1",
		[]entity.InvoiceStatus{entity.StatusRejected, entity.StatusFailed})
	require.NoError(t, err)
	assert.True(t, claimed)

	// The same swap against an already claimed row touches zero rows.
	mock.ExpectExec("UPDATE invoices").
		WithArgs("inv-1", entity.StatusProcessing, []string{"REJECTED", "FAILED"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	claimed, err = repo.ClaimForProcessing(context.Background(), "inv-1",
		[]entity.InvoiceStatus{entity.StatusRejected, entity.StatusFailed})
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_OnlyWritesProcessingRows(t *testing.T) {
	mock, repo := newMockRepo(t)
	inv := sampleInvoice()
	inv.Status = entity.StatusCleared
	inv.ContentHash = "hash=="

	mock.ExpectExec("UPDATE invoices").
		WithArgs(inv.ID, inv.Status,
			nullIfEmpty(inv.ContentHash), nullIfEmpty(""), nullIfEmpty(""),
			nullIfEmpty(""), inv.ErrorMessage,
			inv.SubmittedAt, inv.ClearedAt, inv.UpdatedAt,
			entity.StatusProcessing).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.Update(context.Background(), inv))

	// A row no longer holding the PROCESSING claim (already terminal) must
	// not be overwritten: zero rows affected surfaces as a state conflict.
	mock.ExpectExec("UPDATE invoices").
		WithArgs(anyArgs(11)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := repo.Update(context.Background(), inv)
	assert.ErrorIs(t, err, domain.ErrStateConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID_NotFoundMapsToDomainError(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectQuery("SELECT(.|\n)*FROM invoices WHERE id").
		WithArgs("missing", "tenant-1").
		WillReturnRows(invoiceRows())

	_, err := repo.GetByID(context.Background(), "tenant-1", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChainHead_EmptyChain(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("tenant-1", entity.EnvSandbox, entity.StatusCleared).
		WillReturnRows(pgxmock.NewRows([]string{"hash", "counter"}).AddRow("", int64(1)))

	hash, counter, err := repo.ChainHead(context.Background(), "tenant-1", entity.EnvSandbox)
	require.NoError(t, err)
	assert.Empty(t, hash)
	assert.Equal(t, int64(1), counter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func invoiceRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "tenant_id", "invoice_number", "environment", "mode", "status",
		"content_hash", "uuid", "qr_payload", "signed_xml", "error_message",
		"submitted_at", "cleared_at", "created_at", "updated_at",
	})
}

func strPtr(s string) *string { return &s }
