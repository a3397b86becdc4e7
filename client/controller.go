package client

import (
	"ShopDesk/models"
	"context"
	"log"
	"strings"
	"sync"
)

// SessionController drives one customer's chat lifecycle, anchored to a
// product context. States: no session → session open → (end) → no
// session. Sessions are never reopened; ending and chatting again
// creates a fresh one.
type SessionController struct {
	backend Backend
	channel Emitter

	mu         sync.Mutex
	sessionID  string
	product    models.ProductRef
	transcript []models.Message
}

func NewSessionController(backend Backend, channel Emitter) *SessionController {
	return &SessionController{
		backend: backend,
		channel: channel,
	}
}

// Bind wires the channel's inbound events to this controller.
func (s *SessionController) Bind(ch *Channel) {
	ch.OnMessage = s.OnReceive
	ch.OnAdminRead = func(p models.ReceiptPayload) {
		s.OnAdminRead(p.SessionID, p.MessageID)
	}
	ch.OnReconnect = func() {
		// 断线期间的事件不会重放，重连后重新拉取整份会话
		if err := s.Resume(context.Background()); err != nil {
			log.Printf("Failed to resume session after reconnect: %v", err)
		}
	}
}

// Resume 恢复当前用户的活动会话（页面加载时调用）
// Loads the transcript and re-subscribes; stays in the no-session state
// when the backend has nothing active for this user.
func (s *SessionController) Resume(ctx context.Context) error {
	session, err := s.backend.FetchSession(ctx)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}

	s.mu.Lock()
	s.sessionID = session.ID
	s.product = session.Product
	s.transcript = append([]models.Message(nil), session.Messages...)
	s.mu.Unlock()

	if s.channel != nil {
		if err := s.channel.Attach(session.ID); err != nil {
			log.Printf("Failed to attach session room: %v", err)
		}
	}
	return nil
}

// StartSession 创建会话；已有活动会话时幂等返回现有ID
func (s *SessionController) StartSession(ctx context.Context, product models.ProductRef) (string, error) {
	s.mu.Lock()
	if s.sessionID != "" {
		id := s.sessionID
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	sessionID, created, err := s.backend.StartSession(ctx, product)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.sessionID = sessionID
	s.product = product
	s.mu.Unlock()

	if s.channel != nil {
		if err := s.channel.Attach(sessionID); err != nil {
			log.Printf("Failed to attach session room: %v", err)
		}
		if created {
			// 公告新会话，管理端控制台无需轮询即可发现
			if err := s.channel.AnnounceSession(sessionID); err != nil {
				log.Printf("Failed to announce session: %v", err)
			}
		}
	}
	return sessionID, nil
}

// SendMessage 发送消息；空白内容为空操作，无会话时先惰性创建
// The transcript is not updated here: the local echo arrives back as a
// server-confirmed receiveMessage event carrying the assigned id.
func (s *SessionController) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	sessionID, err := s.StartSession(ctx, s.currentProduct())
	if err != nil {
		return err
	}
	if s.channel == nil {
		return ErrChannelClosed
	}

	return s.channel.SendChat(models.SendPayload{
		SessionID:    sessionID,
		Sender:       models.SenderUser,
		Message:      text,
		IsReadByUser: true,
	})
}

// OnReceive 按到达顺序追加到会话记录
// Admin messages stay unread until the view acknowledges them via
// MarkRead (scrolling into view is the trigger).
func (s *SessionController) OnReceive(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.SessionID != s.sessionID || s.sessionID == "" {
		return
	}
	s.transcript = append(s.transcript, msg)
}

// MarkRead 将一条管理员消息标记为用户已读并回发回执
func (s *SessionController) MarkRead(messageID string) {
	s.mu.Lock()
	sessionID := s.sessionID
	var changed bool
	for i := range s.transcript {
		if s.transcript[i].ID == messageID && s.transcript[i].Sender == models.SenderAdmin {
			changed = s.transcript[i].MarkRead(models.SenderUser)
			break
		}
	}
	s.mu.Unlock()

	if changed && s.channel != nil {
		err := s.channel.SendReceipt(models.EventUserReadsMessage, models.ReceiptPayload{
			SessionID: sessionID,
			MessageID: messageID,
		})
		if err != nil {
			log.Printf("Failed to send read receipt: %v", err)
		}
	}
}

// OnAdminRead 管理员已读回执：按消息ID定点更新，单调不可回退
func (s *SessionController) OnAdminRead(sessionID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID != s.sessionID {
		return
	}
	for i := range s.transcript {
		if s.transcript[i].ID == messageID {
			s.transcript[i].MarkRead(models.SenderAdmin)
			return
		}
	}
}

// EndSession 结束会话并清空本地状态，回到无会话状态
func (s *SessionController) EndSession(ctx context.Context) error {
	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()
	if sessionID == "" {
		return nil
	}

	if err := s.backend.EndSession(ctx, sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	s.sessionID = ""
	s.product = models.ProductRef{}
	s.transcript = nil
	s.mu.Unlock()

	if s.channel != nil {
		if err := s.channel.Detach(sessionID); err != nil {
			log.Printf("Failed to detach session room: %v", err)
		}
	}
	return nil
}

// Open reports whether an active session is held.
func (s *SessionController) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID != ""
}

func (s *SessionController) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *SessionController) Product() models.ProductRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.product
}

// Transcript returns a copy of the current message list.
func (s *SessionController) Transcript() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.transcript...)
}

func (s *SessionController) currentProduct() models.ProductRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.product
}
