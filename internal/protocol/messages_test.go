package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeGenerateSummary(t *testing.T) {
	msg := NewGenerateSummaryMessage("abc123", "AIza...")

	data, err := EncodeMessage(msg)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"type":"generate_summary","weather_id":"abc123","api_key":"AIza..."}`,
		string(data))
}

func TestParseSummaryResult(t *testing.T) {
	msg, err := ParseServerMessage([]byte(`{"type":"summary_result","summary":"Sunny, 72°F"}`))
	require.NoError(t, err)

	result, ok := msg.(*SummaryResultMessage)
	require.True(t, ok, "expected *SummaryResultMessage, got %T", msg)
	assert.Equal(t, "Sunny, 72°F", result.Summary)
}

func TestParseSummaryError(t *testing.T) {
	msg, err := ParseServerMessage([]byte(`{"type":"summary_error","error":"Weather data not found"}`))
	require.NoError(t, err)

	result, ok := msg.(*SummaryErrorMessage)
	require.True(t, ok, "expected *SummaryErrorMessage, got %T", msg)
	assert.Equal(t, "Weather data not found", result.Error)
}

func TestParseUnknownType(t *testing.T) {
	_, err := ParseServerMessage([]byte(`{"type":"forecast_update"}`))

	var unknown *UnknownTypeError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, MessageType("forecast_update"), unknown.Type)
}

func TestParseInvalidJSON(t *testing.T) {
	_, err := ParseServerMessage([]byte("not json"))
	require.Error(t, err)

	var unknown *UnknownTypeError
	assert.False(t, errors.As(err, &unknown), "malformed payload must not look like an unknown type")
}
