// Package extract turns a stored document into candidate therapy facts using
// a single Claude message per document.
package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/therapy-intel/internal/config"
	"github.com/sells-group/therapy-intel/internal/model"
	"github.com/sells-group/therapy-intel/internal/ocr"
	"github.com/sells-group/therapy-intel/internal/resilience"
	"github.com/sells-group/therapy-intel/pkg/anthropic"
)

// Extractor produces a payload for one document materialized at path.
type Extractor interface {
	Extract(ctx context.Context, doc *model.Document, path string) (*Result, error)
}

// Result is an extraction plus its token accounting.
type Result struct {
	Payload model.ExtractedPayload
	Usage   anthropic.TokenUsage
	Model   string
}

// ErrNoText is returned when a document yields no extractable text.
var ErrNoText = eris.New("extract: document has no text")

const systemPrompt = `You extract structured facts about pharmaceutical therapies from documents such as earnings releases, annual reports, and regulatory notices.

Return one JSON object and nothing else, with these keys:
- "therapies": [{"name", "manufacturer", "mechanism", "price_per_unit_usd" (number or null), "sources"}]
- "revenues": [{"therapy_name", "period", "region", "revenue_millions_usd", "sources"}]
- "approvals": [{"therapy_name", "disease_name", "region", "approval_date" (YYYY-MM-DD when known), "approval_type", "sources"}]
- "confidence": {"therapies": 0-100, "revenues": 0-100, "approvals": 0-100}
- "source_quotes": [{"text", "page", "section"}]

Rules:
- Report revenue in millions of US dollars exactly as stated. Do not convert currencies or sum figures yourself.
- Copy the period as written (for example "Q3 2024", "FY2023", "2nd quarter 2024").
- Copy the region as written (for example "United States", "EU", "Worldwide"). Use "Global" when the figure is total sales.
- Only include facts the document states. Use empty arrays when a category has no facts.
- "sources" lists short citations such as the document name and page.`

// ClaudeExtractor extracts payloads with pdftotext/plain text followed by a
// Claude message.
type ClaudeExtractor struct {
	client   anthropic.Client
	ocr      ocr.Extractor
	model    string
	maxTok   int64
	maxChars int
	pricing  anthropic.Pricing
	log      *zap.Logger
}

// NewClaudeExtractor builds an extractor from config.
func NewClaudeExtractor(client anthropic.Client, textExtractor ocr.Extractor, cfg config.AnthropicConfig) *ClaudeExtractor {
	return &ClaudeExtractor{
		client:   client,
		ocr:      textExtractor,
		model:    cfg.Model,
		maxTok:   cfg.MaxTokens,
		maxChars: cfg.MaxDocumentChars,
		pricing: anthropic.PricingFor(cfg.Model, anthropic.Pricing{
			InputPerMTok:  cfg.InputPerMTok,
			OutputPerMTok: cfg.OutputPerMTok,
		}),
		log: zap.L().With(zap.String("component", "extract")),
	}
}

// Extract implements Extractor.
func (e *ClaudeExtractor) Extract(ctx context.Context, doc *model.Document, path string) (*Result, error) {
	text, err := e.ocr.ExtractText(ctx, path)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: read text from %s", doc.Filename)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, eris.Wrapf(ErrNoText, "extract: %s", doc.Filename)
	}

	var truncated bool
	text, truncated = truncate(text, e.maxChars)
	if truncated {
		e.log.Warn("document truncated",
			zap.String("document_id", doc.ID),
			zap.Int("max_chars", e.maxChars),
		)
	}

	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: e.maxTok,
		System:    anthropic.CachedSystem(systemPrompt, "5m"),
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: fmt.Sprintf("Document: %s\n\n%s", doc.Filename, text),
		}},
	})
	if err != nil {
		if code := anthropic.StatusCode(err); resilience.IsTransientHTTPStatus(code) {
			return nil, resilience.NewTransientError(eris.Wrap(err, "extract: create message"), code)
		}
		return nil, eris.Wrap(err, "extract: create message")
	}

	resp.Usage.LogCost(e.model, "extraction", e.pricing, zap.String("document_id", doc.ID))

	if resp.StopReason == "max_tokens" {
		return nil, eris.Errorf("extract: response truncated at %d tokens", e.maxTok)
	}

	payload, err := ValidatePayload([]byte(cleanJSON(resp.Text())))
	if err != nil {
		return nil, err
	}

	e.log.Info("document extracted",
		zap.String("document_id", doc.ID),
		zap.Int("therapies", len(payload.Therapies)),
		zap.Int("revenues", len(payload.Revenues)),
		zap.Int("approvals", len(payload.Approvals)),
	)

	return &Result{Payload: payload, Usage: resp.Usage, Model: e.model}, nil
}

// truncate cuts text to at most max bytes without splitting a rune.
// max <= 0 disables truncation.
func truncate(text string, max int) (string, bool) {
	if max <= 0 || len(text) <= max {
		return text, false
	}
	return strings.ToValidUTF8(text[:max], ""), true
}
