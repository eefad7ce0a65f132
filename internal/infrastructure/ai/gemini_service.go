package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/invorya/clearance-api/internal/application/clearance"
	"github.com/invorya/clearance-api/internal/domain/entity"
)

// Compile-time check that GeminiService implements AdvisoryService.
var _ clearance.AdvisoryService = (*GeminiService)(nil)

const (
	geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s"

	// response_mime_type=application/json forces Gemini to return bare JSON,
	// so no markdown stripping is needed for this provider.
	geminiSystemPrompt = `You are a ZATCA (Saudi Arabia e-invoicing) compliance expert.
Given the rejection details of a tax invoice, return ONLY a JSON object (no extra text)
with this exact structure:
{
  "probable_cause": "<one sentence naming the most likely root cause>",
  "suggested_fix": "<concrete corrective action the operator should take>",
  "confidence_score": <decimal between 0.0 and 1.0>
}

Rules:
- probable_cause and suggested_fix: plain English, max 300 characters each.
- Never suggest changing the VAT rate away from the legal 15% standard rate.
- confidence_score: 0.9-1.0 = high certainty, 0.7-0.89 = likely, <0.7 = best guess.`
)

// GeminiService explains invoice rejections through the Google Gemini REST
// API. Plain net/http, no SDK.
type GeminiService struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewGeminiService builds the adapter. model is typically "gemini-1.5-flash".
func NewGeminiService(apiKey, model string) *GeminiService {
	return &GeminiService{
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			Timeout: 20 * time.Second, // network timeout; callers also bound the context
		},
	}
}

// ── Gemini wire types ─────────────────────────────────────────────────────────

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  genConfig       `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type genConfig struct {
	ResponseMIMEType string  `json:"responseMimeType"`
	Temperature      float32 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ── Port implementation ───────────────────────────────────────────────────────

// ExplainRejection asks Gemini why the invoice was rejected.
func (s *GeminiService) ExplainRejection(ctx context.Context, inv *entity.Invoice, gatewayMessage string) (string, error) {
	if s.apiKey == "" {
		return "", fmt.Errorf("AI: GEMINI_API_KEY not configured")
	}

	payload := geminiRequest{
		SystemInstruction: &geminiContent{
			Parts: []geminiPart{{Text: geminiSystemPrompt}},
		},
		Contents: []geminiContent{
			{
				Role:  "user",
				Parts: []geminiPart{{Text: rejectionPrompt(inv, gatewayMessage)}},
			},
		},
		GenerationConfig: genConfig{
			ResponseMIMEType: "application/json",
			Temperature:      0.2, // low temperature for stable answers
			MaxOutputTokens:  256,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("AI: serialize request: %w", err)
	}

	url := fmt.Sprintf(geminiBaseURL, s.model, s.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("AI: build HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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
		var errResp geminiResponse
		if jsonErr := json.Unmarshal(rawBody, &errResp); jsonErr == nil && errResp.Error != nil {
			return "", fmt.Errorf("AI: Gemini error %d: %s", errResp.Error.Code, errResp.Error.Message)
		}
		return "", fmt.Errorf("AI: Gemini HTTP %d", resp.StatusCode)
	}

	var gemResp geminiResponse
	if err := json.Unmarshal(rawBody, &gemResp); err != nil {
		return "", fmt.Errorf("AI: deserialize Gemini response: %w", err)
	}
	if len(gemResp.Candidates) == 0 || len(gemResp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("AI: model returned an empty response")
	}

	rawJSON := strings.TrimSpace(gemResp.Candidates[0].Content.Parts[0].Text)

	var explanation rejectionExplanation
	if err := json.Unmarshal([]byte(rawJSON), &explanation); err != nil {
		return "", fmt.Errorf("AI: model response is not valid JSON: %w (response: %s)", err, rawJSON)
	}
	return explanation.String(), nil
}
