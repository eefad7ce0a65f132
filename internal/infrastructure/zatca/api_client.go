package zatca

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/invorya/clearance-api/internal/domain/entity"
)

// ── Endpoints ─────────────────────────────────────────────────────────────────

const (
	clearanceURLSandbox    = "https://gw-fatoora.zatca.gov.sa/e-invoicing/developer-portal/invoices/clearance/single"
	clearanceURLProduction = "https://gw-fatoora.zatca.gov.sa/e-invoicing/core/invoices/clearance/single"
	reportingURLSandbox    = "https://gw-fatoora.zatca.gov.sa/e-invoicing/developer-portal/invoices/reporting/single"
	reportingURLProduction = "https://gw-fatoora.zatca.gov.sa/e-invoicing/core/invoices/reporting/single"
)

// ── Outcome ───────────────────────────────────────────────────────────────────

// OutcomeKind classifies how a submission attempt ended.
type OutcomeKind int

const (
	// OutcomeCleared means the authority accepted the invoice.
	OutcomeCleared OutcomeKind = iota
	// OutcomeRejected means the authority rejected the invoice content.
	// Resubmitting the same payload will fail again until it is corrected.
	OutcomeRejected
	// OutcomeTransient means the attempt failed for operational reasons
	// (timeout, network, 5xx). The same payload may succeed on retry.
	OutcomeTransient
	// OutcomeFatal means the request itself is unusable (credentials,
	// authorization). Retrying without reconfiguration is pointless.
	OutcomeFatal
)

// ClearanceOutcome is the classified result of one submission attempt.
type ClearanceOutcome struct {
	Kind OutcomeKind
	// ClearedUUID is the authority-assigned identifier, set when Kind is
	// OutcomeCleared.
	ClearedUUID string
	// Code and Message carry the authority's rejection or error detail.
	Code    string
	Message string
	// RawResponse is the unparsed response body, kept for the audit log.
	RawResponse []byte
}

// ── Wire types ────────────────────────────────────────────────────────────────

type clearanceRequest struct {
	UUID        string `json:"uuid"`
	InvoiceHash string `json:"invoiceHash"`
	Invoice     string `json:"invoice"` // signed XML, base64
}

type clearanceResponse struct {
	ClearanceStatus  string `json:"clearanceStatus"`
	ReportingStatus  string `json:"reportingStatus"`
	ClearedInvoice   string `json:"clearedInvoice"`
	ValidationResult struct {
		Status        string            `json:"status"`
		ErrorMessages []validationIssue `json:"errorMessages"`
	} `json:"validationResults"`
}

type validationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ── Client ────────────────────────────────────────────────────────────────────

// APIClient submits signed invoices to the clearance gateway. It performs a
// single attempt per call; retry policy belongs to the caller.
type APIClient struct {
	httpClient *http.Client
	// baseOverride replaces the gateway URLs, used in tests.
	baseOverride string
	username     string
	password     string
}

// NewAPIClient builds the client with a generous network timeout since the
// gateway can take several seconds under load.
func NewAPIClient(username, password string) *APIClient {
	return &APIClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		username:   username,
		password:   password,
	}
}

// NewAPIClientWithBase builds a client pointed at a fixed base URL.
func NewAPIClientWithBase(base, username, password string) *APIClient {
	c := NewAPIClient(username, password)
	c.baseOverride = strings.TrimRight(base, "/")
	return c
}

// Submit delivers one signed invoice and classifies the response. A non-nil
// error is returned only for programming mistakes (bad environment); every
// network or authority condition is expressed through the outcome.
func (c *APIClient) Submit(ctx context.Context, env entity.Environment, mode entity.SubmissionMode, invoiceUUID, contentHash string, signedXML []byte) (*ClearanceOutcome, error) {
	url, err := c.endpoint(env, mode)
	if err != nil {
		return nil, err
	}

	payload := clearanceRequest{
		UUID:        invoiceUUID,
		InvoiceHash: contentHash,
		Invoice:     base64.StdEncoding.EncodeToString(signedXML),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("clearance: serialize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("clearance: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Version", "V2")
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		msg := "network failure: " + err.Error()
		if ctx.Err() != nil {
			msg = "timeout or cancellation: " + ctx.Err().Error()
		}
		return &ClearanceOutcome{Kind: OutcomeTransient, Message: msg}, nil
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // max 1 MB
	if err != nil {
		return &ClearanceOutcome{Kind: OutcomeTransient, Message: "read response: " + err.Error()}, nil
	}

	return c.classify(resp.StatusCode, rawBody), nil
}

func (c *APIClient) endpoint(env entity.Environment, mode entity.SubmissionMode) (string, error) {
	if c.baseOverride != "" {
		if mode == entity.ModePhase1 {
			return c.baseOverride + "/invoices/reporting/single", nil
		}
		return c.baseOverride + "/invoices/clearance/single", nil
	}
	switch env {
	case entity.EnvSandbox:
		if mode == entity.ModePhase1 {
			return reportingURLSandbox, nil
		}
		return clearanceURLSandbox, nil
	case entity.EnvProduction:
		if mode == entity.ModePhase1 {
			return reportingURLProduction, nil
		}
		return clearanceURLProduction, nil
	default:
		return "", fmt.Errorf("clearance: unknown environment %q", env)
	}
}

// classify maps an HTTP status plus body onto an outcome. Server-side and
// transport problems are transient; authority verdicts on the content are
// final for that payload.
func (c *APIClient) classify(status int, rawBody []byte) *ClearanceOutcome {
	out := &ClearanceOutcome{RawResponse: rawBody}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		out.Kind = OutcomeFatal
		out.Code = fmt.Sprintf("HTTP_%d", status)
		out.Message = "gateway refused credentials"
		return out
	case status >= 500:
		out.Kind = OutcomeTransient
		out.Code = fmt.Sprintf("HTTP_%d", status)
		out.Message = "gateway server error"
		return out
	}

	var parsed clearanceResponse
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		if status >= 200 && status < 300 {
			// Accepted but unreadable; treat as transient so the record is
			// not marked cleared on guesswork.
			out.Kind = OutcomeTransient
			out.Message = "unparseable gateway response"
			return out
		}
		out.Kind = OutcomeRejected
		out.Code = fmt.Sprintf("HTTP_%d", status)
		out.Message = strings.TrimSpace(string(rawBody))
		return out
	}

	issues := parsed.ValidationResult.ErrorMessages
	switch {
	case status >= 200 && status < 300 &&
		(parsed.ClearanceStatus == "CLEARED" || parsed.ReportingStatus == "REPORTED"):
		out.Kind = OutcomeCleared
		out.ClearedUUID = extractClearedUUID(parsed.ClearedInvoice)
		return out
	default:
		out.Kind = OutcomeRejected
		if len(issues) > 0 {
			out.Code = issues[0].Code
			msgs := make([]string, len(issues))
			for i, is := range issues {
				msgs[i] = is.Message
			}
			out.Message = strings.Join(msgs, "; ")
		} else {
			out.Code = fmt.Sprintf("HTTP_%d", status)
			out.Message = "invoice not accepted"
		}
		return out
	}
}

// extractClearedUUID pulls the cbc:UUID out of the stamped invoice the
// gateway returns. Best effort; an empty result is tolerated.
func extractClearedUUID(clearedInvoiceB64 string) string {
	raw, err := base64.StdEncoding.DecodeString(clearedInvoiceB64)
	if err != nil {
		return ""
	}
	const open, closing = "<cbc:UUID>", "</cbc:UUID>"
	s := string(raw)
	i := strings.Index(s, open)
	if i < 0 {
		return ""
	}
	j := strings.Index(s[i+len(open):], closing)
	if j < 0 {
		return ""
	}
	return s[i+len(open) : i+len(open)+j]
}
