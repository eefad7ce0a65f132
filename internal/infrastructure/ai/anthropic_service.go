package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/invorya/clearance-api/internal/application/clearance"
	"github.com/invorya/clearance-api/internal/domain/entity"
)

// Compile-time check that AnthropicService implements AdvisoryService.
var _ clearance.AdvisoryService = (*AnthropicService)(nil)

const (
	anthropicMessagesURL = "https://api.anthropic.com/v1/messages"
	anthropicVersion     = "2023-06-01"

	anthropicSystemPrompt = `You are a ZATCA (Saudi Arabia e-invoicing) compliance expert.
You receive the rejection details of a tax invoice and explain, for a billing operator
who is not a tax specialist, why it was rejected and how to fix it.
Return ONLY a valid JSON object (no markdown, no code fences) with this exact structure:
{
  "probable_cause": "<one sentence naming the most likely root cause>",
  "suggested_fix": "<concrete corrective action the operator should take>",
  "confidence_score": <decimal between 0.0 and 1.0>
}

Rules:
- probable_cause and suggested_fix: plain English, max 300 characters each.
- Never suggest changing the VAT rate away from the legal 15% standard rate.
- confidence_score: 0.9-1.0 = high certainty, 0.7-0.89 = likely, <0.7 = best guess.
- No text outside the JSON. Only the JSON object.`
)

// AnthropicService explains invoice rejections through the Anthropic REST
// Messages API. Plain net/http, no SDK.
type AnthropicService struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewAnthropicService builds the adapter.
// model is typically "claude-3-5-haiku-20241022".
// With an empty apiKey, calls return a descriptive error instead of panicking.
func NewAnthropicService(apiKey, model string) *AnthropicService {
	return &AnthropicService{
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			// Network timeout of 25 s; callers also bound the context.
			Timeout: 25 * time.Second,
		},
	}
}

// ── Anthropic Messages API wire types ─────────────────────────────────────────

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// jsonBlockRe captures the first JSON object in free text, in case the model
// wraps it in prose despite instructions.
var jsonBlockRe = regexp.MustCompile(`(?s)\{.*\}`)

// ── Port implementation ───────────────────────────────────────────────────────

// ExplainRejection asks the model why the invoice was rejected. Read-only:
// the invoice is only described in the prompt, never modified.
func (s *AnthropicService) ExplainRejection(ctx context.Context, inv *entity.Invoice, gatewayMessage string) (string, error) {
	if s.apiKey == "" {
		return "", fmt.Errorf("AI: ANTHROPIC_API_KEY not configured")
	}

	payload := anthropicRequest{
		Model:     s.model,
		MaxTokens: 1024,
		System:    anthropicSystemPrompt,
		Messages: []anthropicMessage{
			{Role: "user", Content: rejectionPrompt(inv, gatewayMessage)},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("AI: serialize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicMessagesURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("AI: build HTTP request: %w", err)
	}
	req.Header.Set("x-api-key", s.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("content-type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("AI: timeout or cancellation: %w", ctx.Err())
		}
		return "", fmt.Errorf("AI: HTTP call failed: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("AI: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp anthropicResponse
		if jsonErr := json.Unmarshal(rawBody, &errResp); jsonErr == nil && errResp.Error != nil {
			return "", fmt.Errorf("AI: Anthropic error (%s): %s", errResp.Error.Type, errResp.Error.Message)
		}
		return "", fmt.Errorf("AI: Anthropic HTTP %d: %s", resp.StatusCode, string(rawBody))
	}

	var anthResp anthropicResponse
	if err := json.Unmarshal(rawBody, &anthResp); err != nil {
		return "", fmt.Errorf("AI: deserialize Anthropic response: %w", err)
	}
	if len(anthResp.Content) == 0 {
		return "", fmt.Errorf("AI: model returned an empty response")
	}

	cleanJSON := extractJSON(anthResp.Content[0].Text)
	if cleanJSON == "" {
		return "", fmt.Errorf("AI: no JSON object found in model response (%s)", anthResp.Content[0].Text)
	}

	var explanation rejectionExplanation
	if err := json.Unmarshal([]byte(cleanJSON), &explanation); err != nil {
		return "", fmt.Errorf("AI: parse explanation JSON: %w (extracted: %s)", err, cleanJSON)
	}
	return explanation.String(), nil
}

// rejectionExplanation is the JSON shape both providers must return.
type rejectionExplanation struct {
	ProbableCause   string  `json:"probable_cause"`
	SuggestedFix    string  `json:"suggested_fix"`
	ConfidenceScore float64 `json:"confidence_score"`
}

func (e rejectionExplanation) String() string {
	confidence := e.ConfidenceScore
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}
	return fmt.Sprintf("%s Suggested fix: %s (confidence %.2f)", e.ProbableCause, e.SuggestedFix, confidence)
}

// rejectionPrompt describes the rejected invoice for the model without
// leaking the raw XML or any buyer details beyond what the error carries.
func rejectionPrompt(inv *entity.Invoice, gatewayMessage string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Invoice number: %s\n", inv.InvoiceNumber)
	fmt.Fprintf(&sb, "Submission tier: %s\n", inv.Mode)
	fmt.Fprintf(&sb, "Environment: %s\n", inv.Environment)
	fmt.Fprintf(&sb, "Recorded error: %s\n", inv.ErrorMessage)
	if gatewayMessage != "" && gatewayMessage != inv.ErrorMessage {
		fmt.Fprintf(&sb, "Gateway message: %s\n", gatewayMessage)
	}
	return sb.String()
}

// extractJSON pulls the first well-formed JSON object out of free text.
// Two passes: strip markdown code fences, then regex for the first { ... }.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.Index(text, "```"); idx != -1 {
		after := text[idx+3:]
		if nl := strings.Index(after, "\n"); nl != -1 {
			after = after[nl+1:]
		}
		if closing := strings.LastIndex(after, "```"); closing != -1 {
			after = after[:closing]
		}
		text = strings.TrimSpace(after)
	}

	if strings.HasPrefix(text, "{") {
		return text
	}

	match := jsonBlockRe.FindString(text)
	return strings.TrimSpace(match)
}
