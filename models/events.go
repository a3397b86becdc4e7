package models

import "encoding/json"

// Channel event types, room = session id.
const (
	// client → server
	EventAttachSession     = "attachSession"
	EventDetachSession     = "detachSession"
	EventSendMessage       = "sendMessage"
	EventAdminReadsMessage = "adminReadsMessage"
	EventUserReadsMessage  = "userReadMessage"
	EventNewSessionCreated = "newSessionCreated"

	// server → client
	EventReceiveMessage    = "receiveMessage"
	EventAdminReadMessage  = "adminReadMessage"
	EventNewSessionStarted = "new-session-started"
)

// Envelope 通道消息信封
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func NewEnvelope(eventType string, payload interface{}) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: eventType, Payload: data}, nil
}

type AttachPayload struct {
	SessionID string `json:"sessionId"`
}

type SendPayload struct {
	SessionID     string `json:"sessionId"`
	Sender        string `json:"sender"`
	Message       string `json:"message"`
	IsReadByUser  bool   `json:"isReadByUser,omitempty"`
	IsReadByAdmin bool   `json:"isReadByAdmin,omitempty"`
}

type ReceiptPayload struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
}
