package handlers

import (
	"ShopDesk/kafka"
	"ShopDesk/models"
	"ShopDesk/redis"
	"ShopDesk/services"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type ChatHandler struct {
	sessions *services.SessionService
	redis    *redis.RedisClient
	producer EventProducer
	topic    string
}

func NewChatHandler(sessions *services.SessionService, rdb *redis.RedisClient, producer EventProducer, topic string) *ChatHandler {
	return &ChatHandler{
		sessions: sessions,
		redis:    rdb,
		producer: producer,
		topic:    topic,
	}
}

// 创建或复用客服会话
// 201 表示新建，200 表示复用已有活动会话（同一用户最多一个）
func (h *ChatHandler) StartSession(c echo.Context) error {
	user := c.Get("user").(*models.User)

	var req struct {
		Product models.ProductRef `json:"product"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request",
		})
	}

	session, created, err := h.sessions.StartSession(user, req.Product)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to start session",
		})
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, map[string]string{
		"sessionId": session.ID,
	})
}

// 获取当前用户的活动会话（含消息记录），没有则返回 null
func (h *ChatHandler) FetchSession(c echo.Context) error {
	user := c.Get("user").(*models.User)

	session, err := h.sessions.FetchActiveSession(user.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to fetch session",
		})
	}
	return c.JSON(http.StatusOK, session)
}

// 管理端批量加载会话列表，可按用户邮箱过滤
func (h *ChatHandler) AllSessions(c echo.Context) error {
	email := c.QueryParam("email")

	sessions, err := h.sessions.AllSessions(email)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to fetch sessions",
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// 将会话整体标记为管理员已读
func (h *ChatHandler) Seen(c echo.Context) error {
	sessionID := c.QueryParam("sessionId")
	if sessionID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "missing sessionId",
		})
	}

	if err := h.sessions.MarkSeen(sessionID); err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error": "session not found",
			})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to mark session seen",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// 结束会话：单向 active → ended
func (h *ChatHandler) EndSession(c echo.Context) error {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.Bind(&req); err != nil || req.SessionID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request",
		})
	}

	if err := h.sessions.EndSession(req.SessionID); err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error": "session not found",
			})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to end session",
		})
	}

	if h.producer != nil {
		event := kafka.ChatEvent{
			Type:      kafka.EventSessionEnded,
			SessionID: req.SessionID,
			Timestamp: time.Now().Unix(),
		}
		if err := h.producer.SendMessage(h.topic, req.SessionID, event); err != nil {
			log.Printf("Failed to publish session end event: %v", err)
		}
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status": "ended",
	})
}

// 获取会话房间当前在线成员
func (h *ChatHandler) OnlineParticipants(c echo.Context) error {
	sessionID := c.Param("sessionId")

	participants, err := h.redis.GetParticipants(c.Request().Context(), sessionID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to fetch participants",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id":   sessionID,
		"count":        len(participants),
		"participants": participants,
	})
}
