package services

import (
	"ShopDesk/models"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionEnded    = errors.New("session already ended")
	ErrEmptyMessage    = errors.New("empty message body")
)

type SessionService struct {
	db *gorm.DB
}

func NewSessionService(db *gorm.DB) *SessionService {
	return &SessionService{db: db}
}

// StartSession 创建或复用客服会话
// A user holds at most one active session; starting again returns the
// existing one instead of creating a duplicate.
func (s *SessionService) StartSession(user *models.User, product models.ProductRef) (*models.ChatSession, bool, error) {
	var session models.ChatSession
	err := s.db.Where("user_id = ? AND status = ?", user.ID, models.SessionActive).
		First(&session).Error
	if err == nil {
		return &session, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	now := time.Now()
	session = models.ChatSession{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Product:   product,
		Status:    models.SessionActive,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.Create(&session).Error; err != nil {
		return nil, false, err
	}
	return &session, true, nil
}

// FetchActiveSession 返回用户当前的活动会话（含消息记录），没有则返回 nil
func (s *SessionService) FetchActiveSession(userID uint) (*models.ChatSession, error) {
	var session models.ChatSession
	err := s.db.Where("user_id = ? AND status = ?", userID, models.SessionActive).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("messages.timestamp ASC")
		}).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// AllSessions 管理端批量加载会话，可按用户邮箱过滤
func (s *SessionService) AllSessions(email string) ([]models.ChatSession, error) {
	var sessions []models.ChatSession
	query := s.db.Where("status = ?", models.SessionActive).
		Preload("User").
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("messages.timestamp ASC")
		}).
		Order("updated_at DESC")
	if email != "" {
		query = query.Joins("JOIN users ON users.id = chat_sessions.user_id").
			Where("users.email = ?", email)
	}
	if err := query.Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *SessionService) GetSession(sessionID string) (*models.ChatSession, error) {
	var session models.ChatSession
	if err := s.db.First(&session, "id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

// AppendMessage 持久化一条新消息并分配服务端ID与时间戳
// The author's own read flag starts true, the counterpart's false.
func (s *SessionService) AppendMessage(sessionID, sender, body string) (*models.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyMessage
	}

	session, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionActive {
		return nil, ErrSessionEnded
	}

	message := models.Message{
		ID:            uuid.New().String(),
		SessionID:     sessionID,
		Sender:        sender,
		Body:          body,
		Timestamp:     time.Now(),
		IsReadByUser:  sender == models.SenderUser,
		IsReadByAdmin: sender == models.SenderAdmin,
	}
	if err := s.db.Create(&message).Error; err != nil {
		return nil, err
	}
	return &message, nil
}

// ApplyReadReceipt 针对单条消息设置已读标记，重复应用是幂等的
func (s *SessionService) ApplyReadReceipt(sessionID, messageID, role string) (bool, error) {
	column := "is_read_by_user"
	if role == models.SenderAdmin {
		column = "is_read_by_admin"
	}
	result := s.db.Model(&models.Message{}).
		Where("id = ? AND session_id = ? AND "+column+" = ?", messageID, sessionID, false).
		Update(column, true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkSeen 将会话中所有用户发送的未读消息标记为管理员已读
func (s *SessionService) MarkSeen(sessionID string) error {
	if _, err := s.GetSession(sessionID); err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.Message{}).
			Where("session_id = ? AND sender = ? AND is_read_by_admin = ?",
				sessionID, models.SenderUser, false).
			Update("is_read_by_admin", true).Error
		if err != nil {
			return err
		}
		return tx.Model(&models.ChatSession{}).
			Where("id = ?", sessionID).
			Update("unread_count", 0).Error
	})
}

// EndSession 单向状态转移 active → ended；已结束的会话保持幂等
func (s *SessionService) EndSession(sessionID string) error {
	session, err := s.GetSession(sessionID)
	if err != nil {
		return err
	}
	if session.Status == models.SessionEnded {
		return nil
	}
	return s.db.Model(session).Updates(map[string]interface{}{
		"status":     models.SessionEnded,
		"updated_at": time.Now(),
	}).Error
}

// UpdatePreview 由 Kafka 投影消费者调用，维护会话列表的摘要字段
func (s *SessionService) UpdatePreview(sessionID, lastMessage string, fromUser bool) error {
	updates := map[string]interface{}{
		"last_message": lastMessage,
		"updated_at":   time.Now(),
	}
	if err := s.db.Model(&models.ChatSession{}).
		Where("id = ?", sessionID).
		Updates(updates).Error; err != nil {
		return err
	}
	if fromUser {
		return s.db.Model(&models.ChatSession{}).
			Where("id = ?", sessionID).
			Update("unread_count", gorm.Expr("unread_count + 1")).Error
	}
	return nil
}
