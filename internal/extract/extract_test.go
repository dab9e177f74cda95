package extract

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/therapy-intel/internal/config"
	"github.com/sells-group/therapy-intel/internal/model"
	"github.com/sells-group/therapy-intel/internal/resilience"
	"github.com/sells-group/therapy-intel/pkg/anthropic"
)

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

type stubOCR struct {
	text string
	err  error
}

func (s stubOCR) ExtractText(context.Context, string) (string, error) {
	return s.text, s.err
}

const validReply = "Here is the data:\n```json\n" + `{
  "therapies": [{"name": " Keytruda ", "manufacturer": "Merck", "price_per_unit_usd": null}],
  "revenues": [{"therapy_name": "Keytruda", "period": "Q3 2024", "region": "United States", "revenue_millions_usd": 4210.5}],
  "approvals": [{"therapy_name": "Keytruda", "disease_name": "Melanoma", "region": "US", "approval_date": "2014-09-04"}],
  "confidence": {"therapies": 92.6, "revenues": 140, "approvals": -3},
  "source_quotes": [{"text": "Keytruda sales grew 17%", "page": 3}]
}` + "\n```"

func testConfig() config.AnthropicConfig {
	return config.AnthropicConfig{
		Model:            "claude-sonnet-4-5-20250929",
		MaxTokens:        4096,
		MaxDocumentChars: 1000,
	}
}

func testDoc() *model.Document {
	return &model.Document{ID: "doc-1", Filename: "merck-q3.pdf"}
}

func textResponse(text, stop string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		ID:         "msg_1",
		Content:    []anthropic.ContentBlock{{Type: "text", Text: text}},
		StopReason: stop,
		Usage:      anthropic.TokenUsage{InputTokens: 1500, OutputTokens: 400},
	}
}

func TestClaudeExtractor_Extract(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-sonnet-4-5-20250929" &&
			req.MaxTokens == 4096 &&
			len(req.System) == 1 && req.System[0].CacheControl != nil &&
			len(req.Messages) == 1 &&
			strings.HasPrefix(req.Messages[0].Content, "Document: merck-q3.pdf\n\n")
	})).Return(textResponse(validReply, "end_turn"), nil)

	ex := NewClaudeExtractor(client, stubOCR{text: "Keytruda sales grew 17% to $4.2B"}, testConfig())
	res, err := ex.Extract(context.Background(), testDoc(), "/tmp/merck-q3.pdf")
	require.NoError(t, err)

	p := res.Payload
	require.Len(t, p.Therapies, 1)
	assert.Equal(t, "Keytruda", p.Therapies[0].Name)
	assert.Nil(t, p.Therapies[0].PricePerUnitUSD)
	require.Len(t, p.Revenues, 1)
	assert.InDelta(t, 4210.5, p.Revenues[0].RevenueMillionsUSD, 0.001)
	require.Len(t, p.Approvals, 1)
	assert.Equal(t, "Melanoma", p.Approvals[0].DiseaseName)
	assert.Equal(t, map[string]int{"therapies": 93, "revenues": 100, "approvals": 0}, p.Confidence)
	require.Len(t, p.SourceQuotes, 1)
	assert.Equal(t, 3, p.SourceQuotes[0].Page)
	assert.Equal(t, int64(1500), res.Usage.InputTokens)
	client.AssertExpectations(t)
}

func TestClaudeExtractor_TruncatesLongDocuments(t *testing.T) {
	client := &mockAnthropicClient{}
	var sent string
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			sent = args.Get(1).(anthropic.MessageRequest).Messages[0].Content
		}).
		Return(textResponse(`{"therapies":[],"revenues":[],"approvals":[]}`, "end_turn"), nil)

	cfg := testConfig()
	cfg.MaxDocumentChars = 10
	ex := NewClaudeExtractor(client, stubOCR{text: strings.Repeat("x", 50)}, cfg)

	res, err := ex.Extract(context.Background(), testDoc(), "/tmp/a.pdf")
	require.NoError(t, err)
	assert.True(t, res.Payload.Empty())
	assert.Equal(t, "Document: merck-q3.pdf\n\n"+strings.Repeat("x", 10), sent)
}

func TestClaudeExtractor_EmptyText(t *testing.T) {
	client := &mockAnthropicClient{}
	ex := NewClaudeExtractor(client, stubOCR{text: "  \n "}, testConfig())

	_, err := ex.Extract(context.Background(), testDoc(), "/tmp/a.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoText)
	client.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestClaudeExtractor_OCRError(t *testing.T) {
	ex := NewClaudeExtractor(&mockAnthropicClient{}, stubOCR{err: errors.New("pdftotext failed")}, testConfig())

	_, err := ex.Extract(context.Background(), testDoc(), "/tmp/a.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read text from merck-q3.pdf")
	assert.False(t, resilience.IsTransient(err))
}

func TestClaudeExtractor_TransientAPIError(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, &sdk.Error{
			StatusCode: 529,
			Request:    httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil),
			Response:   &http.Response{StatusCode: 529},
		})

	ex := NewClaudeExtractor(client, stubOCR{text: "text"}, testConfig())
	_, err := ex.Extract(context.Background(), testDoc(), "/tmp/a.pdf")
	require.Error(t, err)

	var te *resilience.TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 529, te.StatusCode)
}

func TestClaudeExtractor_PermanentAPIError(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, errors.New("invalid request"))

	ex := NewClaudeExtractor(client, stubOCR{text: "text"}, testConfig())
	_, err := ex.Extract(context.Background(), testDoc(), "/tmp/a.pdf")
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

func TestClaudeExtractor_MaxTokens(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"therapies": [`, "max_tokens"), nil)

	ex := NewClaudeExtractor(client, stubOCR{text: "text"}, testConfig())
	_, err := ex.Extract(context.Background(), testDoc(), "/tmp/a.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "response truncated at 4096 tokens")
}

func TestValidatePayload_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"not json", `therapies: none`, "not JSON"},
		{"missing key", `{"therapies": [], "revenues": []}`, "does not match schema"},
		{"revenue not numeric", `{"therapies": [], "approvals": [], "revenues": [{"therapy_name": "A", "period": "2024", "region": "US", "revenue_millions_usd": "12"}]}`, "does not match schema"},
		{"empty therapy name", `{"therapies": [{"name": ""}], "revenues": [], "approvals": []}`, "does not match schema"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidatePayload([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCleanJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, cleanJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, cleanJSON("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":{"b":2}}`, cleanJSON(`Sure! {"a":{"b":2}} Hope that helps.`))
	assert.Equal(t, "no json", cleanJSON("  no json  "))
}

func TestTruncate(t *testing.T) {
	got, cut := truncate("héllo", 2)
	assert.True(t, cut)
	assert.Equal(t, "h", got)

	got, cut = truncate("short", 100)
	assert.False(t, cut)
	assert.Equal(t, "short", got)

	got, cut = truncate("anything", 0)
	assert.False(t, cut)
	assert.Equal(t, "anything", got)
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0, clampConfidence(-5))
	assert.Equal(t, 100, clampConfidence(101))
	assert.Equal(t, 50, clampConfidence(49.5))
}
