package client

import (
	"ShopDesk/models"
	"context"
	"log"
	"strings"
	"sync"
)

// SupportConsole gives one operator a live view over every session it
// is authorized to see: full transcript per session, one active at a
// time, kept current via channel events after a single bulk load.
type SupportConsole struct {
	backend Backend
	channel Emitter

	mu       sync.Mutex
	sessions map[string]*models.ChatSession
	order    []string        // insertion order, used for fallback selection
	attached map[string]bool // rooms currently subscribed
	activeID string
}

func NewSupportConsole(backend Backend, channel Emitter) *SupportConsole {
	return &SupportConsole{
		backend:  backend,
		channel:  channel,
		sessions: make(map[string]*models.ChatSession),
		attached: make(map[string]bool),
	}
}

// Bind wires the channel's inbound events to this console.
func (s *SupportConsole) Bind(ch *Channel) {
	ch.OnMessage = s.OnReceive
	ch.OnUserRead = func(p models.ReceiptPayload) {
		s.OnUserReadReceipt(p.SessionID, p.MessageID)
	}
	ch.OnSessionStarted = s.OnSessionStarted
	ch.OnReconnect = func() {
		// 断线期间错过的事件不会重放，整体重新加载
		if err := s.Load(context.Background(), ""); err != nil {
			log.Printf("Failed to reload sessions after reconnect: %v", err)
		}
	}
}

// Load 批量加载会话并按差集调整房间订阅
func (s *SupportConsole) Load(ctx context.Context, email string) error {
	sessions, err := s.backend.AllSessions(ctx, email)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.sessions = make(map[string]*models.ChatSession, len(sessions))
	s.order = s.order[:0]
	for i := range sessions {
		session := sessions[i]
		s.sessions[session.ID] = &session
		s.order = append(s.order, session.ID)
	}
	if _, ok := s.sessions[s.activeID]; !ok {
		s.activeID = ""
	}
	s.mu.Unlock()

	s.reconcileSubscriptions()
	return nil
}

// reconcileSubscriptions 订阅差集调整：只对新增/移除的会话房间
// 执行 attach/detach，避免对每个会话重复订阅
func (s *SupportConsole) reconcileSubscriptions() {
	if s.channel == nil {
		return
	}

	s.mu.Lock()
	var toAttach, toDetach []string
	for id := range s.sessions {
		if !s.attached[id] {
			toAttach = append(toAttach, id)
			s.attached[id] = true
		}
	}
	for id := range s.attached {
		if _, ok := s.sessions[id]; !ok {
			toDetach = append(toDetach, id)
			delete(s.attached, id)
		}
	}
	s.mu.Unlock()

	for _, id := range toAttach {
		if err := s.channel.Attach(id); err != nil {
			log.Printf("Failed to attach session room %s: %v", id, err)
		}
	}
	for _, id := range toDetach {
		if err := s.channel.Detach(id); err != nil {
			log.Printf("Failed to detach session room %s: %v", id, err)
		}
	}
}

// SelectSession 切换活动会话并将其中管理员未读的消息全部标记已读
// （本地立即生效，逐条回执 + 整体 seen 调用推送到对端）。
// 其他会话的消息绝不受影响；未知ID为空操作。
func (s *SupportConsole) SelectSession(ctx context.Context, sessionID string) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.activeID = sessionID

	var receipts []models.ReceiptPayload
	for i := range session.Messages {
		msg := &session.Messages[i]
		if msg.Sender != models.SenderUser || msg.ReadBy(models.SenderAdmin) {
			continue
		}
		msg.MarkRead(models.SenderAdmin)
		receipts = append(receipts, models.ReceiptPayload{
			SessionID: sessionID,
			MessageID: msg.ID,
		})
	}
	session.UnreadCount = 0
	s.mu.Unlock()

	if s.channel != nil {
		for _, receipt := range receipts {
			if err := s.channel.SendReceipt(models.EventAdminReadsMessage, receipt); err != nil {
				log.Printf("Failed to send read receipt: %v", err)
			}
		}
	}

	if err := s.backend.MarkSeen(ctx, sessionID); err != nil {
		log.Printf("Failed to mark session seen: %v", err)
	}
}

// OnReceive 按会话ID路由进来的消息
// 未知会话直接丢弃（会话通过 new-session-started 公告进入，而不是
// 从消息推断）。活动会话的消息立即标记管理员已读并回执。
func (s *SupportConsole) OnReceive(msg models.Message) {
	s.mu.Lock()
	session, ok := s.sessions[msg.SessionID]
	if !ok {
		s.mu.Unlock()
		return
	}

	active := s.activeID == msg.SessionID
	if active && msg.Sender == models.SenderUser {
		msg.MarkRead(models.SenderAdmin)
	}
	session.Messages = append(session.Messages, msg)
	session.LastMessage = msg.Body
	if !active && msg.Sender == models.SenderUser {
		session.UnreadCount++
	}
	s.mu.Unlock()

	if active && msg.Sender == models.SenderUser && s.channel != nil {
		err := s.channel.SendReceipt(models.EventAdminReadsMessage, models.ReceiptPayload{
			SessionID: msg.SessionID,
			MessageID: msg.ID,
		})
		if err != nil {
			log.Printf("Failed to send read receipt: %v", err)
		}
	}
}

// OnUserReadReceipt 用户已读回执：按消息ID定点更新
func (s *SupportConsole) OnUserReadReceipt(sessionID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	for i := range session.Messages {
		if session.Messages[i].ID == messageID {
			session.Messages[i].MarkRead(models.SenderUser)
			return
		}
	}
}

// OnSessionStarted 新会话公告：加入列表并订阅其房间
func (s *SupportConsole) OnSessionStarted(session models.ChatSession) {
	s.mu.Lock()
	if _, exists := s.sessions[session.ID]; exists {
		s.mu.Unlock()
		return
	}
	s.sessions[session.ID] = &session
	s.order = append(s.order, session.ID)
	s.attached[session.ID] = true
	s.mu.Unlock()

	if s.channel != nil {
		if err := s.channel.Attach(session.ID); err != nil {
			log.Printf("Failed to attach session room %s: %v", session.ID, err)
		}
	}
}

// SendMessage 向当前活动会话发送管理员消息；空白内容为空操作
func (s *SupportConsole) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	sessionID := s.activeID
	s.mu.Unlock()
	if sessionID == "" {
		return nil
	}
	if s.channel == nil {
		return ErrChannelClosed
	}

	return s.channel.SendChat(models.SendPayload{
		SessionID:     sessionID,
		Sender:        models.SenderAdmin,
		Message:       text,
		IsReadByAdmin: true,
	})
}

// EndSession 结束并移除会话；如果移除的是活动会话，回退选择
// 剩余的第一个会话（没有则回到无活动状态）
func (s *SupportConsole) EndSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	_, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	if err := s.backend.EndSession(ctx, sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.sessions, sessionID)
	for i, id := range s.order {
		if id == sessionID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	wasActive := s.activeID == sessionID
	if wasActive {
		s.activeID = ""
	}
	var next string
	if wasActive && len(s.order) > 0 {
		next = s.order[0]
	}
	s.mu.Unlock()

	s.reconcileSubscriptions()
	if next != "" {
		s.SelectSession(ctx, next)
	}
	return nil
}

func (s *SupportConsole) ActiveSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Session returns a copy of one session's state, or nil when unknown.
func (s *SupportConsole) Session(sessionID string) *models.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	copied := *session
	copied.Messages = append([]models.Message(nil), session.Messages...)
	return &copied
}

// SessionIDs returns the known session ids in insertion order.
func (s *SupportConsole) SessionIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}
