package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePreviewStore struct {
	sessionID string
	last      string
	fromUser  bool
	calls     int
}

func (f *fakePreviewStore) UpdatePreview(sessionID, lastMessage string, fromUser bool) error {
	f.sessionID = sessionID
	f.last = lastMessage
	f.fromUser = fromUser
	f.calls++
	return nil
}

func TestChatEventHandlerProjectsMessages(t *testing.T) {
	store := &fakePreviewStore{}
	handler := NewChatEventHandler(store)

	event := ChatEvent{
		Type:      EventMessageSent,
		SessionID: "s-1",
		MessageID: "m-1",
		Sender:    "user",
		Body:      "hello",
		Timestamp: 1700000000,
	}
	value, err := json.Marshal(event)
	require.NoError(t, err)

	err = handler.Handle(context.Background(), &sarama.ConsumerMessage{Value: value})
	require.NoError(t, err)

	assert.Equal(t, 1, store.calls)
	assert.Equal(t, "s-1", store.sessionID)
	assert.Equal(t, "hello", store.last)
	assert.True(t, store.fromUser)
}

func TestChatEventHandlerIgnoresSessionEnd(t *testing.T) {
	store := &fakePreviewStore{}
	handler := NewChatEventHandler(store)

	value, err := json.Marshal(ChatEvent{Type: EventSessionEnded, SessionID: "s-1"})
	require.NoError(t, err)

	require.NoError(t, handler.Handle(context.Background(), &sarama.ConsumerMessage{Value: value}))
	assert.Equal(t, 0, store.calls)
}

func TestChatEventHandlerRejectsBadPayload(t *testing.T) {
	handler := NewChatEventHandler(&fakePreviewStore{})
	err := handler.Handle(context.Background(), &sarama.ConsumerMessage{Value: []byte("{not json")})
	assert.Error(t, err)
}
