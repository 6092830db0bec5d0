package extract

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/meridian-benefits/claimflow/pkg/anthropic"
)

// pngHeader is enough of a PNG signature for content-type sniffing.
var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}
}

func TestEngine_ExtractParsesFields(t *testing.T) {
	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(
		`{"event_date":"03/14/2026","claim_amount":"$125.50","invoice_number":"INV-9001","policy_number":"","member_id":"M-42","confidence":0.93}`,
	), nil)

	e := NewEngine(mc)
	raw, conf, err := e.Extract(context.Background(), pngHeader)
	require.NoError(t, err)
	assert.Equal(t, "03/14/2026", raw.EventDate)
	assert.Equal(t, "$125.50", raw.ClaimAmount)
	assert.Equal(t, "INV-9001", raw.InvoiceNumber)
	assert.Empty(t, raw.PolicyNumber)
	assert.Equal(t, "M-42", raw.MemberID)
	assert.InDelta(t, 0.93, conf, 1e-9)
}

func TestEngine_ExtractStripsCodeFences(t *testing.T) {
	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(
		"```json\n{\"event_date\":\"2026-01-05\",\"claim_amount\":\"42.00\",\"invoice_number\":\"A1\",\"confidence\":0.8}\n```",
	), nil)

	e := NewEngine(mc)
	raw, conf, err := e.Extract(context.Background(), pngHeader)
	require.NoError(t, err)
	assert.Equal(t, "A1", raw.InvoiceNumber)
	assert.InDelta(t, 0.8, conf, 1e-9)
}

func TestEngine_ExtractRejectsNonImage(t *testing.T) {
	mc := new(mockAnthropicClient)
	e := NewEngine(mc)

	_, _, err := e.Extract(context.Background(), []byte("plain text, not a scan"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported document type")
	mc.AssertNotCalled(t, "CreateMessage")
}

func TestEngine_ExtractEmptyDocument(t *testing.T) {
	e := NewEngine(new(mockAnthropicClient))

	_, _, err := e.Extract(context.Background(), nil)
	require.Error(t, err)
}

func TestEngine_ExtractMalformedResponse(t *testing.T) {
	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("sorry, I cannot read this"), nil)

	e := NewEngine(mc)
	_, _, err := e.Extract(context.Background(), pngHeader)
	require.Error(t, err)
}

func TestEngine_ExtractClientError(t *testing.T) {
	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, eris.New("api unavailable"))

	e := NewEngine(mc)
	_, _, err := e.Extract(context.Background(), pngHeader)
	require.Error(t, err)
}

func TestEngine_WithModelOverride(t *testing.T) {
	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-sonnet-4-5-20250929"
	})).Return(textResponse(`{"confidence":0.5}`), nil)

	e := NewEngine(mc, WithModel("claude-sonnet-4-5-20250929"))
	_, _, err := e.Extract(context.Background(), pngHeader)
	require.NoError(t, err)
	mc.AssertExpectations(t)
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around object", `Here you go: {"a":1} hope that helps`, `{"a":1}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSON(tt.in))
		})
	}
}
