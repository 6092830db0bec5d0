// Package extract turns scanned claim documents into structured fields
// using a remote vision model.
package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-benefits/claimflow/internal/model"
	"github.com/meridian-benefits/claimflow/pkg/anthropic"
)

const defaultModel = "claude-haiku-4-5-20251001"

const systemPrompt = `You are a claims intake analyst reading scanned insurance claim documents. Extract the requested fields exactly as they appear. Return valid JSON only. Use empty strings for fields not present on the document.`

const extractPrompt = `Read this scanned claim document and extract the following fields:

- event_date: the date of the claimed event or service, as printed
- claim_amount: the total claimed amount, as printed
- invoice_number: the invoice or reference number
- policy_number: the policy number, if printed
- member_id: the member or customer identifier, if printed

Also rate your overall confidence in the extraction from 0.0 to 1.0,
considering print quality, handwriting, and ambiguity.

Return a valid JSON object:
{"event_date": "...", "claim_amount": "...", "invoice_number": "...", "policy_number": "...", "member_id": "...", "confidence": <0.0-1.0>}`

// supportedMediaTypes lists the image formats the vision endpoint accepts.
var supportedMediaTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// Engine extracts claim fields from document images.
type Engine struct {
	client anthropic.Client
	model  string
	log    *zap.Logger
}

// Opt configures the engine.
type Opt func(*Engine)

// WithModel overrides the default extraction model.
func WithModel(m string) Opt {
	return func(e *Engine) {
		if m != "" {
			e.model = m
		}
	}
}

// NewEngine creates an extraction engine over client.
func NewEngine(client anthropic.Client, opts ...Opt) *Engine {
	e := &Engine{
		client: client,
		model:  defaultModel,
		log:    zap.L().With(zap.String("component", "extract")),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract runs the vision model over the document and returns the raw
// field strings plus the model's confidence. Structural failures (bad
// image, malformed response) return an error; field-level absence does
// not.
func (e *Engine) Extract(ctx context.Context, document []byte) (model.RawExtraction, float64, error) {
	var raw model.RawExtraction

	if len(document) == 0 {
		return raw, 0, eris.New("extract: empty document")
	}
	mediaType := sniffMediaType(document)
	if !supportedMediaTypes[mediaType] {
		return raw, 0, eris.Errorf("extract: unsupported document type %s", mediaType)
	}

	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: 1024,
		System:    anthropic.BuildCachedSystemBlocks(systemPrompt),
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: extractPrompt,
			Image:   &anthropic.ImageBlock{MediaType: mediaType, Data: document},
		}},
	})
	if err != nil {
		return raw, 0, eris.Wrap(err, "extract: create message")
	}
	resp.Usage.LogCost(e.model, "extract")

	text := responseText(resp)
	if text == "" {
		return raw, 0, eris.New("extract: empty model response")
	}

	var parsed struct {
		EventDate     string  `json:"event_date"`
		ClaimAmount   string  `json:"claim_amount"`
		InvoiceNumber string  `json:"invoice_number"`
		PolicyNumber  string  `json:"policy_number"`
		MemberID      string  `json:"member_id"`
		Confidence    float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(text)), &parsed); err != nil {
		e.log.Warn("extraction response not parseable", zap.Error(err))
		return raw, 0, eris.Wrap(err, "extract: parse response")
	}

	raw = model.RawExtraction{
		EventDate:     strings.TrimSpace(parsed.EventDate),
		ClaimAmount:   strings.TrimSpace(parsed.ClaimAmount),
		InvoiceNumber: strings.TrimSpace(parsed.InvoiceNumber),
		PolicyNumber:  strings.TrimSpace(parsed.PolicyNumber),
		MemberID:      strings.TrimSpace(parsed.MemberID),
	}
	return raw, parsed.Confidence, nil
}

func sniffMediaType(data []byte) string {
	mediaType := http.DetectContentType(data)
	if idx := strings.Index(mediaType, ";"); idx >= 0 {
		mediaType = mediaType[:idx]
	}
	return mediaType
}

func responseText(resp *anthropic.MessageResponse) string {
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// cleanJSON strips markdown fences and isolates the outermost JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
