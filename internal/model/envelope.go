package model

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// PushMessage is the wire-format message carried inside a push envelope.
// Data is raw payload bytes; it is base64 in the JSON representation, matching
// the push-delivery HTTP format recovery services expect.
type PushMessage struct {
	Data        []byte            `json:"data"`
	MessageID   string            `json:"messageId"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	PublishTime *time.Time        `json:"publishTime,omitempty"`
}

// PushEnvelope wraps a PushMessage the way push subscriptions deliver it.
// The same envelope shape is POSTed back to recovery endpoints on replay.
type PushEnvelope struct {
	Message      PushMessage `json:"message"`
	Subscription string      `json:"subscription,omitempty"`
}

// attrOriginalTopicPath carries the source topic identifier on delivery.
const attrOriginalTopicPath = "originalTopicPath"

// FailureNotification is the decoded form of an inbound failure envelope:
// the identity, payload, and source of a message a consumer failed to process.
type FailureNotification struct {
	MessageID         string
	OriginalMessage   json.RawMessage
	OriginalTopicPath string
}

// DecodeFailureNotification parses a raw push envelope (JSON with a
// base64-encoded data field) into a FailureNotification.
func DecodeFailureNotification(raw []byte) (*FailureNotification, error) {
	var envelope PushEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode push envelope: %w", err)
	}
	if envelope.Message.MessageID == "" {
		return nil, fmt.Errorf("push envelope has no messageId")
	}
	// encoding/json already base64-decoded Data ([]byte). The payload must be
	// JSON; it is stored verbatim on the record.
	if !json.Valid(envelope.Message.Data) {
		return nil, fmt.Errorf("push envelope data is not valid JSON")
	}

	return &FailureNotification{
		MessageID:         envelope.Message.MessageID,
		OriginalMessage:   json.RawMessage(envelope.Message.Data),
		OriginalTopicPath: envelope.Message.Attributes[attrOriginalTopicPath],
	}, nil
}

// NewReplayEnvelope builds the envelope POSTed to a recovery endpoint.
// payload must already be canonical JSON bytes.
func NewReplayEnvelope(messageID, originalTopicPath string, payload []byte, publishTime time.Time) *PushEnvelope {
	return &PushEnvelope{
		Message: PushMessage{
			Data:      payload,
			MessageID: messageID,
			Attributes: map[string]string{
				attrOriginalTopicPath: originalTopicPath,
			},
			PublishTime: &publishTime,
		},
	}
}

// EncodeBase64 returns the standard base64 form of the message data, useful
// for logging without dumping raw payload bytes.
func (m *PushMessage) EncodeBase64() string {
	return base64.StdEncoding.EncodeToString(m.Data)
}
