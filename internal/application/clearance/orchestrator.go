package clearance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/invorya/clearance-api/internal/domain"
	"github.com/invorya/clearance-api/internal/domain/entity"
	"github.com/invorya/clearance-api/internal/domain/zatca"
	infrazatca "github.com/invorya/clearance-api/internal/infrastructure/zatca"
	"github.com/invorya/clearance-api/pkg/logger"
)

// Orchestrator runs the full compliance cycle for one invoice:
//
//	validate → canonical XML → chained hash → sign (phase2) → QR → submit → persist
//
// Every attempt is a single synchronous pass that ends with the invoice in a
// terminal or retryable status and exactly one appended audit log row. The
// record is claimed with an atomic status swap before any work starts, so
// concurrent submissions or retries of the same invoice cannot interleave.
type Orchestrator struct {
	invoices   InvoiceRepository
	logs       InvoiceLogRepository
	xmlBuilder *infrazatca.XMLBuilderService
	signer     Signer
	certs      CertificateStore
	submitter  Submitter
	advisory   AdvisoryService
	log        *logger.Logger

	// advisoryTimeout bounds the fire-and-forget explanation call.
	advisoryTimeout time.Duration
}

// NewOrchestrator wires the orchestrator. advisory may be NoopAdvisory{}.
func NewOrchestrator(
	invoices InvoiceRepository,
	logs InvoiceLogRepository,
	xmlBuilder *infrazatca.XMLBuilderService,
	sg Signer,
	certs CertificateStore,
	submitter Submitter,
	advisory AdvisoryService,
	log *logger.Logger,
) *Orchestrator {
	if advisory == nil {
		advisory = NoopAdvisory{}
	}
	return &Orchestrator{
		invoices:        invoices,
		logs:            logs,
		xmlBuilder:      xmlBuilder,
		signer:          sg,
		certs:           certs,
		submitter:       submitter,
		advisory:        advisory,
		log:             log,
		advisoryTimeout: 15 * time.Second,
	}
}

// ── Submit ────────────────────────────────────────────────────────────────────

// Submit registers and processes a new invoice. Submitting the same
// (tenant, invoice number, environment) again returns the existing record
// untouched, whatever its status; Retry is the only way to reprocess.
// The returned boolean reports whether this call created the record.
func (o *Orchestrator) Submit(ctx context.Context, tenantID string, req *zatca.InvoiceRequest) (*entity.Invoice, bool, error) {
	if req == nil {
		return nil, false, fmt.Errorf("%w: empty request", domain.ErrInvalidInput)
	}
	if tenantID == "" {
		return nil, false, fmt.Errorf("%w: missing tenant", domain.ErrInvalidInput)
	}

	now := time.Now().UTC()
	inv := &entity.Invoice{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		InvoiceNumber: strings.TrimSpace(req.InvoiceNumber),
		Environment:   req.Environment,
		Mode:          req.Mode,
		Status:        entity.StatusCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	inv, created, err := o.invoices.CreateOrGet(ctx, inv)
	if err != nil {
		return nil, false, fmt.Errorf("create invoice: %w", err)
	}
	if !created {
		o.log.Info().
			Str("invoice_id", inv.ID).
			Str("invoice_number", inv.InvoiceNumber).
			Str("status", string(inv.Status)).
			Msg("duplicate submission, returning existing record")
		return inv, false, nil
	}

	if err := o.processAttempt(ctx, inv, req, entity.LogActionSubmit); err != nil {
		return inv, true, err
	}
	return inv, true, nil
}

// ── Retry ─────────────────────────────────────────────────────────────────────

// Retry reprocesses a REJECTED or FAILED invoice from the payload stored in
// its most recent audit log row. Any other status — CLEARED, PROCESSING,
// CREATED — yields ErrStateConflict with no mutation and no audit entry.
func (o *Orchestrator) Retry(ctx context.Context, tenantID, invoiceID string) (*entity.Invoice, error) {
	inv, err := o.invoices.GetByID(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}

	if !inv.Status.Retryable() {
		return nil, fmt.Errorf("%w: status %s", domain.ErrStateConflict, inv.Status)
	}

	last, err := o.logs.MostRecent(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("load last attempt: %w", err)
	}

	req := &zatca.InvoiceRequest{}
	if err := json.Unmarshal(last.RequestPayload, req); err != nil {
		return nil, fmt.Errorf("reconstruct request from audit log: %w", err)
	}
	// The invoice record is authoritative for identity fields; the stored
	// payload could predate an operator-side correction of mode or target.
	req.InvoiceNumber = inv.InvoiceNumber
	req.Environment = inv.Environment
	req.Mode = inv.Mode

	if err := o.processAttempt(ctx, inv, req, entity.LogActionRetry); err != nil {
		return inv, err
	}
	return inv, nil
}

// ── Read accessors ────────────────────────────────────────────────────────────

// Get returns the invoice record scoped to the tenant.
func (o *Orchestrator) Get(ctx context.Context, tenantID, invoiceID string) (*entity.Invoice, error) {
	return o.invoices.GetByID(ctx, tenantID, invoiceID)
}

// Explain produces an advisory explanation for a rejected invoice. Purely
// informational; it reads the record and never touches its state.
func (o *Orchestrator) Explain(ctx context.Context, tenantID, invoiceID string) (string, error) {
	inv, err := o.invoices.GetByID(ctx, tenantID, invoiceID)
	if err != nil {
		return "", err
	}
	if inv.Status != entity.StatusRejected {
		return "", fmt.Errorf("%w: invoice %s is %s, only rejected invoices carry an explanation", domain.ErrInvalidInput, inv.ID, inv.Status)
	}
	return o.advisory.ExplainRejection(ctx, inv, inv.ErrorMessage)
}

// History returns every processing attempt in chronological order.
func (o *Orchestrator) History(ctx context.Context, tenantID, invoiceID string) ([]entity.InvoiceLog, error) {
	if _, err := o.invoices.GetByID(ctx, tenantID, invoiceID); err != nil {
		return nil, err
	}
	return o.logs.ListByInvoice(ctx, invoiceID)
}

// ── Core attempt ──────────────────────────────────────────────────────────────

// attemptResult collects everything one pass produced before persisting.
type attemptResult struct {
	status       entity.InvoiceStatus
	errorMessage string
	generatedXML string
	rawResponse  string
	clearedAt    *time.Time
}

// processAttempt claims the invoice, runs the pipeline once and persists the
// outcome plus one audit log row. It returns an error only for state
// conflicts and persistence failures; gateway rejections and operational
// failures are expressed through the invoice status.
func (o *Orchestrator) processAttempt(ctx context.Context, inv *entity.Invoice, req *zatca.InvoiceRequest, action entity.LogAction) error {
	previous := inv.Status

	var from []entity.InvoiceStatus
	if action == entity.LogActionSubmit {
		from = []entity.InvoiceStatus{entity.StatusCreated}
	} else {
		from = []entity.InvoiceStatus{entity.StatusRejected, entity.StatusFailed}
	}
	claimed, err := o.invoices.ClaimForProcessing(ctx, inv.ID, from)
	if err != nil {
		return fmt.Errorf("claim invoice: %w", err)
	}
	if !claimed {
		return fmt.Errorf("%w: invoice %s already claimed", domain.ErrStateConflict, inv.ID)
	}
	inv.Status = entity.StatusProcessing

	// A panic anywhere in the pipeline must not leave the record stuck in
	// PROCESSING: mark it FAILED so the attempt stays retryable.
	var finished bool
	defer func() {
		if r := recover(); r != nil && !finished {
			o.log.Error().
				Str("invoice_id", inv.ID).
				Interface("panic", r).
				Msg("recovered panic during invoice processing")
			o.finish(context.WithoutCancel(ctx), inv, previous, action, req, attemptResult{
				status:       entity.StatusFailed,
				errorMessage: fmt.Sprintf("internal failure: %v", r),
			})
		}
	}()

	res := o.runPipeline(ctx, inv, req)
	if err := o.finish(ctx, inv, previous, action, req, res); err != nil {
		finished = true
		return err
	}
	finished = true
	return nil
}

// runPipeline executes validation through submission and reports the outcome.
// It mutates inv's document fields (hash, UUID, QR, XML) but never its status.
func (o *Orchestrator) runPipeline(ctx context.Context, inv *entity.Invoice, req *zatca.InvoiceRequest) attemptResult {
	// 1. Structural and fiscal validation. Violations reject locally; the
	//    gateway is never contacted with a payload we already know is bad.
	if violations := zatca.Validate(req, inv.Mode); len(violations) > 0 {
		msgs := make([]string, len(violations))
		for i, v := range violations {
			msgs[i] = v.Error()
		}
		return attemptResult{
			status:       entity.StatusRejected,
			errorMessage: strings.Join(msgs, "; "),
		}
	}

	// 2. Chain head for this tenant and environment.
	prevHash, counter, err := o.invoices.ChainHead(ctx, inv.TenantID, inv.Environment)
	if err != nil {
		return attemptResult{status: entity.StatusFailed, errorMessage: "chain head lookup: " + err.Error()}
	}
	if req.PreviousHash != "" {
		prevHash = req.PreviousHash
	}

	docUUID := req.UUID
	if docUUID == "" {
		docUUID = uuid.NewString()
	}

	// 3. Canonical XML.
	xmlBytes, err := o.xmlBuilder.Build(&infrazatca.BuildContext{
		Request:      req,
		UUID:         docUUID,
		ICV:          counter,
		PreviousHash: prevHash,
	})
	if err != nil {
		return attemptResult{status: entity.StatusFailed, errorMessage: "build XML: " + err.Error()}
	}

	// 4. Chained content hash over the canonical bytes.
	contentHash := zatca.ChainHash(xmlBytes, prevHash)
	inv.ContentHash = contentHash
	inv.UUID = docUUID

	// 5. Signature and QR. Phase-1 carries the basic seller fields; phase-2
	//    additionally embeds the hash, signature and public key.
	qrIn := infrazatca.QRInputFromRequest(req)
	submitXML := xmlBytes

	if inv.Mode == entity.ModePhase2 {
		cert, err := o.certs.Load()
		if err != nil {
			return attemptResult{status: entity.StatusFailed, errorMessage: "load certificate: " + err.Error()}
		}
		signed, err := o.signer.Sign(xmlBytes, contentHash, cert)
		if err != nil {
			return attemptResult{status: entity.StatusFailed, errorMessage: "sign XML: " + err.Error()}
		}
		submitXML = signed.XML
		inv.SignedXML = string(signed.XML)
		qrIn.Hash = contentHash
		qrIn.Signature = signed.Signature
		qrIn.PublicKey = signed.PublicKeyDER
	}

	qrPayload, err := infrazatca.EncodeQR(qrIn)
	if err != nil {
		return attemptResult{status: entity.StatusFailed, errorMessage: "encode QR: " + err.Error()}
	}
	inv.QRPayload = qrPayload

	// 6. One delivery attempt. The client classifies every condition into an
	//    outcome; a non-nil error here is a programming mistake.
	outcome, err := o.submitter.Submit(ctx, inv.Environment, inv.Mode, docUUID, contentHash, submitXML)
	if err != nil {
		return attemptResult{
			status:       entity.StatusFailed,
			errorMessage: "submit: " + err.Error(),
			generatedXML: string(submitXML),
		}
	}

	res := attemptResult{
		generatedXML: string(submitXML),
		rawResponse:  string(outcome.RawResponse),
	}
	switch outcome.Kind {
	case infrazatca.OutcomeCleared:
		now := time.Now().UTC()
		res.status = entity.StatusCleared
		res.clearedAt = &now
		if outcome.ClearedUUID != "" {
			inv.UUID = outcome.ClearedUUID
		}
	case infrazatca.OutcomeRejected:
		res.status = entity.StatusRejected
		res.errorMessage = outcomeMessage(outcome)
	case infrazatca.OutcomeFatal:
		res.status = entity.StatusFailed
		res.errorMessage = "not retryable without reconfiguration: " + outcomeMessage(outcome)
	default:
		res.status = entity.StatusFailed
		res.errorMessage = outcomeMessage(outcome)
	}
	return res
}

// finish persists the attempt outcome on the invoice, appends the audit log
// row and fires the advisory hook for rejections.
func (o *Orchestrator) finish(ctx context.Context, inv *entity.Invoice, previous entity.InvoiceStatus, action entity.LogAction, req *zatca.InvoiceRequest, res attemptResult) error {
	now := time.Now().UTC()

	inv.Status = res.status
	inv.ErrorMessage = res.errorMessage
	inv.SubmittedAt = &now
	inv.ClearedAt = res.clearedAt
	inv.UpdatedAt = now

	if err := o.invoices.Update(ctx, inv); err != nil {
		return fmt.Errorf("persist attempt outcome: %w", err)
	}

	// The stored payload is what a later retry replays; an attempt whose
	// payload cannot be serialized must fail loudly rather than leave an
	// empty audit row behind.
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("serialize request payload for audit log: %w", err)
	}
	rec := &entity.InvoiceLog{
		ID:             uuid.NewString(),
		InvoiceID:      inv.ID,
		Action:         action,
		Status:         res.status,
		RequestPayload: payload,
		GeneratedXML:   res.generatedXML,
		RawResponse:    res.rawResponse,
		SubmittedAt:    now,
		ClearedAt:      res.clearedAt,
		CreatedAt:      now,
	}
	if action == entity.LogActionRetry {
		rec.PreviousStatus = previous
	}
	if err := o.logs.Append(ctx, rec); err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}

	o.log.Info().
		Str("invoice_id", inv.ID).
		Str("action", string(action)).
		Str("status", string(res.status)).
		Msg("invoice attempt finished")

	if res.status == entity.StatusRejected {
		o.explainAsync(inv, res.errorMessage)
	}
	return nil
}

// explainAsync asks the advisory layer for a human explanation of the
// rejection. Strictly best effort: it runs detached from the request and any
// failure is only logged.
func (o *Orchestrator) explainAsync(inv *entity.Invoice, gatewayMessage string) {
	snapshot := *inv
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.advisoryTimeout)
		defer cancel()
		explanation, err := o.advisory.ExplainRejection(ctx, &snapshot, gatewayMessage)
		if err != nil {
			o.log.Warn().
				Str("invoice_id", snapshot.ID).
				Err(err).
				Msg("advisory explanation failed")
			return
		}
		if explanation != "" {
			o.log.Info().
				Str("invoice_id", snapshot.ID).
				Str("explanation", explanation).
				Msg("advisory explanation")
		}
	}()
}

func outcomeMessage(out *infrazatca.ClearanceOutcome) string {
	if out.Code != "" && out.Message != "" {
		return out.Code + ": " + out.Message
	}
	if out.Message != "" {
		return out.Message
	}
	return out.Code
}
