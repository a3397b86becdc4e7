package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkReadMonotonic(t *testing.T) {
	msg := Message{ID: "m-1", Sender: SenderUser, IsReadByUser: true}

	assert.True(t, msg.MarkRead(SenderAdmin), "first application flips the flag")
	assert.True(t, msg.IsReadByAdmin)

	assert.False(t, msg.MarkRead(SenderAdmin), "second application is a no-op")
	assert.True(t, msg.IsReadByAdmin)

	// the author's own flag was already true
	assert.False(t, msg.MarkRead(SenderUser))
	assert.True(t, msg.IsReadByUser)
}

func TestReadBy(t *testing.T) {
	msg := Message{Sender: SenderAdmin, IsReadByAdmin: true}
	assert.True(t, msg.ReadBy(SenderAdmin))
	assert.False(t, msg.ReadBy(SenderUser))
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(EventSendMessage, SendPayload{
		SessionID:    "s-1",
		Sender:       SenderUser,
		Message:      "hello",
		IsReadByUser: true,
	})
	require.NoError(t, err)
	assert.Equal(t, EventSendMessage, env.Type)

	var p SendPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "s-1", p.SessionID)
	assert.Equal(t, "hello", p.Message)
	assert.True(t, p.IsReadByUser)
}
