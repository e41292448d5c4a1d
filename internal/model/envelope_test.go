package model

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFailureNotification(t *testing.T) {
	payload := `{"orderId":"o-1","qty":3}`
	encoded := base64.StdEncoding.EncodeToString([]byte(payload))
	raw := []byte(fmt.Sprintf(`{
		"message": {
			"data": %q,
			"messageId": "msg-42",
			"attributes": {"originalTopicPath": "projects/p/topics/orders"}
		},
		"subscription": "projects/p/subscriptions/orders-push"
	}`, encoded))

	notification, err := DecodeFailureNotification(raw)

	require.NoError(t, err)
	assert.Equal(t, "msg-42", notification.MessageID)
	assert.Equal(t, "projects/p/topics/orders", notification.OriginalTopicPath)
	assert.JSONEq(t, payload, string(notification.OriginalMessage))
}

func TestDecodeFailureNotification_MissingMessageID(t *testing.T) {
	raw := []byte(`{"message": {"data": "e30="}}`)

	notification, err := DecodeFailureNotification(raw)

	assert.Nil(t, notification)
	assert.ErrorContains(t, err, "no messageId")
}

func TestDecodeFailureNotification_InvalidJSONPayload(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("not json at all"))
	raw := []byte(fmt.Sprintf(`{"message": {"data": %q, "messageId": "msg-1"}}`, encoded))

	notification, err := DecodeFailureNotification(raw)

	assert.Nil(t, notification)
	assert.ErrorContains(t, err, "not valid JSON")
}

func TestDecodeFailureNotification_MalformedEnvelope(t *testing.T) {
	notification, err := DecodeFailureNotification([]byte(`{{{`))

	assert.Nil(t, notification)
	assert.ErrorContains(t, err, "failed to decode push envelope")
}

func TestNewReplayEnvelope_Roundtrip(t *testing.T) {
	publishTime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	payload := []byte(`{"orderId":"o-1"}`)

	envelope := NewReplayEnvelope("msg-42", "projects/p/topics/orders", payload, publishTime)
	raw, err := json.Marshal(envelope)
	require.NoError(t, err)

	// The wire form must carry the payload base64-encoded.
	var wire map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Equal(t, base64.StdEncoding.EncodeToString(payload), wire["message"]["data"])
	assert.Equal(t, "msg-42", wire["message"]["messageId"])

	var decoded PushEnvelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, payload, decoded.Message.Data)
	assert.Equal(t, "projects/p/topics/orders", decoded.Message.Attributes["originalTopicPath"])
	require.NotNil(t, decoded.Message.PublishTime)
	assert.True(t, publishTime.Equal(*decoded.Message.PublishTime))
}

func TestPushMessage_EncodeBase64(t *testing.T) {
	msg := PushMessage{Data: []byte(`{"a":1}`)}
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte(`{"a":1}`)), msg.EncodeBase64())
}
