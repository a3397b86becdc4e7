package handlers

import (
	"ShopDesk/kafka"
	"ShopDesk/models"
	"ShopDesk/redis"
	"ShopDesk/services"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// 聊天客户端 代表一个 WebSocket 连接，一个连接可同时订阅多个会话房间
// （管理端需要对所有会话扇出订阅，用户端只订阅自己的一个）
type ChatClient struct {
	ID     string               // 客户端唯一标识（UUID）
	User   *models.User         // 已认证用户
	Conn   *websocket.Conn      // WebSocket连接
	Send   chan models.Envelope // 发送消息队列（缓冲256条）
	rooms  map[string]bool      // 已订阅的会话房间
	mu     sync.Mutex           // 保护 rooms
	ctx    context.Context      // 上下文管理
	cancel context.CancelFunc   // 取消函数
}

func (c *ChatClient) attach(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[sessionID] = true
}

func (c *ChatClient) detach(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, sessionID)
}

func (c *ChatClient) attachedRooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	return rooms
}

// ChatHub 管理所有连接和按会话房间的消息分发
type ChatHub struct {
	clients map[string]*ChatClient            // 所有在线客户端
	rooms   map[string]map[string]*ChatClient // 会话房间 → 订阅客户端
	mu      sync.RWMutex
}

func NewChatHub() *ChatHub {
	return &ChatHub{
		clients: make(map[string]*ChatClient),
		rooms:   make(map[string]map[string]*ChatClient),
	}
}

func (h *ChatHub) Register(client *ChatClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

// Unregister 移除客户端并取消其上下文。Send 通道永不关闭：
// Broadcast 在快照后、锁外发送，关闭会与这些发送产生竞争，
// 写协程统一通过 ctx 退出。
func (h *ChatHub) Unregister(client *ChatClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	for sessionID := range h.rooms {
		delete(h.rooms[sessionID], client.ID)
		if len(h.rooms[sessionID]) == 0 {
			delete(h.rooms, sessionID)
		}
	}
	client.cancel()
}

func (h *ChatHub) Attach(client *ChatClient, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[string]*ChatClient)
		h.rooms[sessionID] = room
	}
	room[client.ID] = client
	client.attach(sessionID)
}

func (h *ChatHub) Detach(client *ChatClient, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[sessionID]; ok {
		delete(room, client.ID)
		if len(room) == 0 {
			delete(h.rooms, sessionID)
		}
	}
	client.detach(sessionID)
}

// Broadcast 将事件分发给订阅了该会话房间的所有客户端
func (h *ChatHub) Broadcast(sessionID string, env models.Envelope, exceptIDs map[string]bool) {
	h.mu.RLock()
	clients := make([]*ChatClient, 0, len(h.rooms[sessionID]))
	for _, client := range h.rooms[sessionID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if exceptIDs != nil && exceptIDs[client.ID] {
			continue
		}

		select {
		case client.Send <- env:
		default:
			log.Printf("Client %s send buffer full, disconnecting", client.ID)
			h.Unregister(client)
		}
	}
}

// BroadcastToAdmins 推送给所有管理端连接（新会话公告，
// 此时管理端还未订阅新会话的房间）
func (h *ChatHub) BroadcastToAdmins(env models.Envelope) {
	h.mu.RLock()
	admins := make([]*ChatClient, 0)
	for _, client := range h.clients {
		if client.User.IsAdmin() {
			admins = append(admins, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range admins {
		select {
		case client.Send <- env:
		default:
			log.Printf("Admin client %s send buffer full, disconnecting", client.ID)
			h.Unregister(client)
		}
	}
}

// EventProducer 聊天事件流生产端（Kafka）
type EventProducer interface {
	SendMessage(topic string, key string, value interface{}) error
}

type receiptJob struct {
	sessionID string
	messageID string
	role      string
}

type ChatWebSocketHandler struct {
	sessions     *services.SessionService
	hub          *ChatHub
	redis        *redis.RedisClient
	producer     EventProducer
	topic        string
	receiptQueue chan receiptJob // 已读回执异步落库队列（缓冲1000条）
	workers      int             // 回执写入协程数（4个）
}

func NewChatWebSocketHandler(sessions *services.SessionService, rdb *redis.RedisClient, producer EventProducer, topic string) *ChatWebSocketHandler {
	h := &ChatWebSocketHandler{
		sessions:     sessions,
		hub:          NewChatHub(),
		redis:        rdb,
		producer:     producer,
		topic:        topic,
		receiptQueue: make(chan receiptJob, 1000),
		workers:      4,
	}

	for i := 0; i < h.workers; i++ {
		go h.receiptWorker()
	}

	return h
}

func (h *ChatWebSocketHandler) Hub() *ChatHub {
	return h.hub
}

// 回执写入是 fire-and-forget，重复应用由单调标记保证幂等
func (h *ChatWebSocketHandler) receiptWorker() {
	for job := range h.receiptQueue {
		if _, err := h.sessions.ApplyReadReceipt(job.sessionID, job.messageID, job.role); err != nil {
			log.Printf("Failed to persist read receipt: %v", err)
		}
	}
}

func (h *ChatWebSocketHandler) HandleWebSocket(c echo.Context) error {
	user := c.Get("user").(*models.User)

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &ChatClient{
		ID:     uuid.New().String(),
		User:   user,
		Conn:   ws,
		Send:   make(chan models.Envelope, 256),
		rooms:  make(map[string]bool),
		ctx:    ctx,
		cancel: cancel,
	}

	h.hub.Register(client)

	// 启动写入goroutine
	go h.writePump(client)

	// 当前goroutine处理读取
	h.readPump(client)

	return nil
}

// 读取客户端消息
func (h *ChatWebSocketHandler) readPump(client *ChatClient) {
	defer func() {
		client.cancel()
		// 清理在线列表
		for _, sessionID := range client.attachedRooms() {
			h.removePresence(client, sessionID)
		}
		h.hub.Unregister(client)
		client.Conn.Close()
	}()

	client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var env models.Envelope
		err := client.Conn.ReadJSON(&env)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		h.handleEvent(client, env)
	}
}

// 向客户端写入消息
func (h *ChatWebSocketHandler) writePump(client *ChatClient) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case <-client.ctx.Done():
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case env := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteJSON(env); err != nil {
				log.Printf("WriteJSON error: %v", err)
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// 事件类型分发
func (h *ChatWebSocketHandler) handleEvent(client *ChatClient, env models.Envelope) {
	switch env.Type {
	case models.EventAttachSession:
		var p models.AttachPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.SessionID == "" {
			return
		}
		h.hub.Attach(client, p.SessionID)
		h.addPresence(client, p.SessionID)

	case models.EventDetachSession:
		var p models.AttachPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.SessionID == "" {
			return
		}
		h.hub.Detach(client, p.SessionID)
		h.removePresence(client, p.SessionID)

	case models.EventSendMessage:
		var p models.SendPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		h.handleSendMessage(client, p)

	case models.EventAdminReadsMessage:
		var p models.ReceiptPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		h.handleReceipt(p, models.SenderAdmin)

	case models.EventUserReadsMessage:
		var p models.ReceiptPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		h.handleReceipt(p, models.SenderUser)

	case models.EventNewSessionCreated:
		var p models.AttachPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.SessionID == "" {
			return
		}
		h.handleSessionAnnounce(p.SessionID)
	}
}

// 持久化后立即广播；消息ID与时间戳由服务端分配
func (h *ChatWebSocketHandler) handleSendMessage(client *ChatClient, p models.SendPayload) {
	sender := models.SenderUser
	if client.User.IsAdmin() {
		sender = models.SenderAdmin
	}

	message, err := h.sessions.AppendMessage(p.SessionID, sender, p.Message)
	if err != nil {
		if !errors.Is(err, services.ErrEmptyMessage) {
			log.Printf("Failed to save message: %v", err)
		}
		return
	}

	env, err := models.NewEnvelope(models.EventReceiveMessage, message)
	if err != nil {
		log.Printf("Failed to encode message event: %v", err)
		return
	}
	h.hub.Broadcast(p.SessionID, env, nil)

	// 发布到事件流，供投影消费者维护会话摘要
	if h.producer != nil {
		event := kafka.ChatEvent{
			Type:      kafka.EventMessageSent,
			SessionID: message.SessionID,
			MessageID: message.ID,
			Sender:    message.Sender,
			Body:      message.Body,
			Timestamp: message.Timestamp.Unix(),
		}
		if err := h.producer.SendMessage(h.topic, message.SessionID, event); err != nil {
			log.Printf("Failed to publish chat event: %v", err)
		}
	}
}

// 回执：异步落库 + 广播到房间（重复应用为幂等空操作）
func (h *ChatWebSocketHandler) handleReceipt(p models.ReceiptPayload, role string) {
	if p.SessionID == "" || p.MessageID == "" {
		return
	}

	select {
	case h.receiptQueue <- receiptJob{sessionID: p.SessionID, messageID: p.MessageID, role: role}:
	default:
		log.Println("Receipt queue full, dropping receipt")
	}

	eventType := models.EventUserReadsMessage
	if role == models.SenderAdmin {
		eventType = models.EventAdminReadMessage
	}
	env, err := models.NewEnvelope(eventType, p)
	if err != nil {
		return
	}
	h.hub.Broadcast(p.SessionID, env, nil)
}

// 新会话公告：推送完整会话对象给管理端，供控制台自动发现
func (h *ChatWebSocketHandler) handleSessionAnnounce(sessionID string) {
	session, err := h.sessions.GetSession(sessionID)
	if err != nil {
		log.Printf("Announced session not found: %v", err)
		return
	}

	env, err := models.NewEnvelope(models.EventNewSessionStarted, session)
	if err != nil {
		return
	}
	h.hub.BroadcastToAdmins(env)
}

func (h *ChatWebSocketHandler) addPresence(client *ChatClient, sessionID string) {
	if h.redis == nil {
		return
	}
	role := models.SenderUser
	if client.User.IsAdmin() {
		role = models.SenderAdmin
	}
	p := redis.ParticipantInfo{
		UserID:   client.User.ID,
		Username: client.User.Username,
		Role:     role,
	}
	if err := h.redis.AddParticipant(context.Background(), sessionID, p); err != nil {
		log.Printf("Failed to add participant to Redis: %v", err)
	}
}

func (h *ChatWebSocketHandler) removePresence(client *ChatClient, sessionID string) {
	if h.redis == nil {
		return
	}
	if err := h.redis.RemoveParticipant(context.Background(), sessionID, client.User.ID); err != nil {
		log.Printf("Failed to remove participant from Redis: %v", err)
	}
}
