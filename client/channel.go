package client

import (
	"ShopDesk/models"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrChannelClosed is returned for emits attempted while the channel is
// disconnected. Such sends are dropped, not queued.
var ErrChannelClosed = errors.New("channel disconnected")

// Emitter is the outbound side of the realtime channel as used by the
// controllers. *Channel implements it; tests substitute a fake.
type Emitter interface {
	Attach(sessionID string) error
	Detach(sessionID string) error
	SendChat(p models.SendPayload) error
	SendReceipt(eventType string, p models.ReceiptPayload) error
	AnnounceSession(sessionID string) error
}

// Channel 每个进程持有一条到聊天后端的 WebSocket 连接
// Rooms (session ids) are tracked locally so a reconnect can restore
// every subscription before replaying anything else.
type Channel struct {
	url    string
	dialer *websocket.Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	attached map[string]bool
	closed   bool

	// Inbound dispatch. Set before Connect; called from the read loop.
	OnMessage        func(models.Message)
	OnAdminRead      func(models.ReceiptPayload)
	OnUserRead       func(models.ReceiptPayload)
	OnSessionStarted func(models.ChatSession)
	// OnReconnect fires after subscriptions are restored; clients use it
	// to refetch transcripts missed while disconnected.
	OnReconnect func()
}

func NewChannel(wsURL, token string) *Channel {
	return &Channel{
		url:      wsURL + "?token=" + token,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		attached: make(map[string]bool),
	}
}

// Connect dials the backend and starts the read loop. The loop
// reconnects with backoff until Close is called.
func (c *Channel) Connect() error {
	conn, _, err := c.dialer.Dial(c.url, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.conn = nil
			c.mu.Unlock()
			if closed {
				return
			}
			log.Printf("Channel read error, reconnecting: %v", err)
			c.reconnect()
			return
		}
		c.dispatch(env)
	}
}

func (c *Channel) reconnect() {
	backoff := time.Second
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		conn, _, err := c.dialer.Dial(c.url, nil)
		if err != nil {
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		rooms := make([]string, 0, len(c.attached))
		for id := range c.attached {
			rooms = append(rooms, id)
		}
		c.mu.Unlock()

		// 重连后先恢复订阅，再通知上层重新拉取错过的消息
		for _, id := range rooms {
			if err := c.emit(models.EventAttachSession, models.AttachPayload{SessionID: id}); err != nil {
				log.Printf("Failed to re-attach session %s: %v", id, err)
			}
		}
		if c.OnReconnect != nil {
			c.OnReconnect()
		}

		go c.readLoop(conn)
		return
	}
}

func (c *Channel) dispatch(env models.Envelope) {
	switch env.Type {
	case models.EventReceiveMessage:
		var msg models.Message
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return
		}
		if c.OnMessage != nil {
			c.OnMessage(msg)
		}
	case models.EventAdminReadMessage:
		var p models.ReceiptPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		if c.OnAdminRead != nil {
			c.OnAdminRead(p)
		}
	case models.EventUserReadsMessage:
		var p models.ReceiptPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		if c.OnUserRead != nil {
			c.OnUserRead(p)
		}
	case models.EventNewSessionStarted:
		var session models.ChatSession
		if err := json.Unmarshal(env.Payload, &session); err != nil {
			return
		}
		if c.OnSessionStarted != nil {
			c.OnSessionStarted(session)
		}
	}
}

// Attach subscribes to a session room. Idempotent; the room is
// remembered for re-attachment after reconnects.
func (c *Channel) Attach(sessionID string) error {
	c.mu.Lock()
	already := c.attached[sessionID]
	c.attached[sessionID] = true
	c.mu.Unlock()
	if already {
		return nil
	}
	return c.emit(models.EventAttachSession, models.AttachPayload{SessionID: sessionID})
}

func (c *Channel) Detach(sessionID string) error {
	c.mu.Lock()
	delete(c.attached, sessionID)
	c.mu.Unlock()
	return c.emit(models.EventDetachSession, models.AttachPayload{SessionID: sessionID})
}

func (c *Channel) SendChat(p models.SendPayload) error {
	return c.emit(models.EventSendMessage, p)
}

func (c *Channel) SendReceipt(eventType string, p models.ReceiptPayload) error {
	return c.emit(eventType, p)
}

func (c *Channel) AnnounceSession(sessionID string) error {
	return c.emit(models.EventNewSessionCreated, models.AttachPayload{SessionID: sessionID})
}

func (c *Channel) emit(eventType string, payload interface{}) error {
	env, err := models.NewEnvelope(eventType, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrChannelClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(env)
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
