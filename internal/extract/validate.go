package extract

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"math"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sells-group/therapy-intel/internal/model"
)

//go:embed schema.json
var payloadSchemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func payloadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("payload.json", bytes.NewReader(payloadSchemaJSON)); err != nil {
			schemaErr = eris.Wrap(err, "extract: add schema")
			return
		}
		schema, schemaErr = compiler.Compile("payload.json")
		if schemaErr != nil {
			schemaErr = eris.Wrap(schemaErr, "extract: compile schema")
		}
	})
	return schema, schemaErr
}

// rawPayload accepts fractional confidence scores before clamping.
type rawPayload struct {
	model.ExtractedPayload
	Confidence map[string]float64 `json:"confidence"`
}

// ValidatePayload checks data against the payload schema and decodes it.
// Confidence scores are rounded and clamped to 0-100, and facts are trimmed.
func ValidatePayload(data []byte) (model.ExtractedPayload, error) {
	s, err := payloadSchema()
	if err != nil {
		return model.ExtractedPayload{}, err
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return model.ExtractedPayload{}, eris.Wrap(err, "extract: response is not JSON")
	}
	if err := s.Validate(doc); err != nil {
		return model.ExtractedPayload{}, eris.Wrap(err, "extract: payload does not match schema")
	}

	var raw rawPayload
	if err := json.Unmarshal(data, &raw); err != nil {
		return model.ExtractedPayload{}, eris.Wrap(err, "extract: decode payload")
	}

	p := raw.ExtractedPayload
	if len(raw.Confidence) > 0 {
		p.Confidence = make(map[string]int, len(raw.Confidence))
		for k, v := range raw.Confidence {
			p.Confidence[k] = clampConfidence(v)
		}
	}
	trimPayload(&p)
	return p, nil
}

func clampConfidence(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, v))))
}

func trimPayload(p *model.ExtractedPayload) {
	for i := range p.Therapies {
		t := &p.Therapies[i]
		t.Name = strings.TrimSpace(t.Name)
		t.Manufacturer = strings.TrimSpace(t.Manufacturer)
		t.Mechanism = strings.TrimSpace(t.Mechanism)
	}
	for i := range p.Revenues {
		r := &p.Revenues[i]
		r.TherapyID = strings.TrimSpace(r.TherapyID)
		r.TherapyName = strings.TrimSpace(r.TherapyName)
		r.Period = strings.TrimSpace(r.Period)
		r.Region = strings.TrimSpace(r.Region)
	}
	for i := range p.Approvals {
		a := &p.Approvals[i]
		a.TherapyID = strings.TrimSpace(a.TherapyID)
		a.TherapyName = strings.TrimSpace(a.TherapyName)
		a.DiseaseName = strings.TrimSpace(a.DiseaseName)
		a.Region = strings.TrimSpace(a.Region)
	}
}

// cleanJSON extracts a JSON object from text that may carry markdown code
// fences or surrounding prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
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
