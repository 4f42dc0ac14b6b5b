package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType represents the type of message
type MessageType string

const (
	// Client to Server
	MsgTypeGenerateSummary MessageType = "generate_summary"

	// Server to Client
	MsgTypeSummaryResult MessageType = "summary_result"
	MsgTypeSummaryError  MessageType = "summary_error"
)

// BaseMessage is the common structure for all messages
type BaseMessage struct {
	Type MessageType `json:"type"`
}

// GenerateSummaryMessage asks the backend to generate an AI summary for a
// stored weather record
type GenerateSummaryMessage struct {
	Type      MessageType `json:"type"`
	WeatherID string      `json:"weather_id"`
	APIKey    string      `json:"api_key"`
}

// SummaryResultMessage carries a generated summary back to the client
type SummaryResultMessage struct {
	Type      MessageType `json:"type"`
	Summary   string      `json:"summary"`
	WeatherID string      `json:"weather_id,omitempty"`
}

// SummaryErrorMessage carries a summary generation failure back to the client
type SummaryErrorMessage struct {
	Type  MessageType `json:"type"`
	Error string      `json:"error"`
}

// UnknownTypeError is returned by ParseServerMessage for message types this
// client does not understand. Callers are expected to drop such messages
// without failing the connection.
type UnknownTypeError struct {
	Type MessageType
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown message type: %s", e.Type)
}

// ParseServerMessage parses a JSON payload received from the summary service
// into the appropriate message type
func ParseServerMessage(data []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch base.Type {
	case MsgTypeSummaryResult:
		var msg SummaryResultMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid summary_result message: %w", err)
		}
		return &msg, nil

	case MsgTypeSummaryError:
		var msg SummaryErrorMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid summary_error message: %w", err)
		}
		return &msg, nil

	default:
		return nil, &UnknownTypeError{Type: base.Type}
	}
}

// EncodeMessage encodes a message to JSON
func EncodeMessage(msg interface{}) ([]byte, error) {
	return json.Marshal(msg)
}

// NewGenerateSummaryMessage creates a new summary request for a weather record
func NewGenerateSummaryMessage(weatherID, apiKey string) *GenerateSummaryMessage {
	return &GenerateSummaryMessage{
		Type:      MsgTypeGenerateSummary,
		WeatherID: weatherID,
		APIKey:    apiKey,
	}
}
