package kafka

import (
	"context"
	"encoding/json"
	"log"

	"github.com/IBM/sarama"
)

const (
	EventMessageSent  = "message_sent"
	EventSessionEnded = "session_ended"
)

// ChatEvent 聊天事件流消息体
type ChatEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Body      string `json:"body,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// PreviewStore 会话摘要投影的写入端（由 services.SessionService 实现）
type PreviewStore interface {
	UpdatePreview(sessionID, lastMessage string, fromUser bool) error
}

type ChatEventHandler struct {
	store PreviewStore
}

func NewChatEventHandler(store PreviewStore) *ChatEventHandler {
	return &ChatEventHandler{store: store}
}

func (h *ChatEventHandler) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	var event ChatEvent

	if err := json.Unmarshal(message.Value, &event); err != nil {
		log.Printf("Failed to unmarshal chat event: %v", err)
		return err
	}

	switch event.Type {
	case EventMessageSent:
		// 投影：维护会话列表展示的最后消息与未读计数
		return h.store.UpdatePreview(event.SessionID, event.Body, event.Sender == "user")
	case EventSessionEnded:
		// 会话结束事件目前仅记录，保留给归档消费者
		log.Printf("Session ended: %s", event.SessionID)
	}

	return nil
}
