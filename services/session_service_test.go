package services

import (
	"ShopDesk/models"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	// 每个测试独立的内存库
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrateAll(db))
	return db
}

func newTestUser(t *testing.T, db *gorm.DB, username string) *models.User {
	user := &models.User{
		Email:    username + "@example.com",
		Username: username,
		Type:     "client",
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func TestStartSessionResumesActiveSession(t *testing.T) {
	db := newTestDB(t)
	svc := NewSessionService(db)
	user := newTestUser(t, db, "buyer")

	first, created, err := svc.StartSession(user, models.ProductRef{ProductID: "p-1", Title: "Gadget"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, models.SessionActive, first.Status)

	// a second start from any page resumes the same session
	second, created, err := svc.StartSession(user, models.ProductRef{ProductID: "p-2"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	require.NoError(t, svc.EndSession(first.ID))

	third, created, err := svc.StartSession(user, models.ProductRef{ProductID: "p-1"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestAppendMessageAssignsServerFields(t *testing.T) {
	db := newTestDB(t)
	svc := NewSessionService(db)
	user := newTestUser(t, db, "buyer")
	session, _, err := svc.StartSession(user, models.ProductRef{ProductID: "p-1"})
	require.NoError(t, err)

	_, err = svc.AppendMessage(session.ID, models.SenderUser, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	msg, err := svc.AppendMessage(session.ID, models.SenderUser, "  hello  ")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.Timestamp.IsZero())
	assert.Equal(t, "hello", msg.Body)
	assert.True(t, msg.IsReadByUser)
	assert.False(t, msg.IsReadByAdmin)

	_, err = svc.AppendMessage("missing", models.SenderUser, "hello")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, svc.EndSession(session.ID))
	_, err = svc.AppendMessage(session.ID, models.SenderUser, "too late")
	assert.ErrorIs(t, err, ErrSessionEnded)
}

func TestApplyReadReceiptIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	svc := NewSessionService(db)
	user := newTestUser(t, db, "buyer")
	session, _, err := svc.StartSession(user, models.ProductRef{ProductID: "p-1"})
	require.NoError(t, err)
	msg, err := svc.AppendMessage(session.ID, models.SenderUser, "need help")
	require.NoError(t, err)

	applied, err := svc.ApplyReadReceipt(session.ID, msg.ID, models.SenderAdmin)
	require.NoError(t, err)
	assert.True(t, applied)

	// 重复回执是空操作
	applied, err = svc.ApplyReadReceipt(session.ID, msg.ID, models.SenderAdmin)
	require.NoError(t, err)
	assert.False(t, applied)

	var stored models.Message
	require.NoError(t, db.First(&stored, "id = ?", msg.ID).Error)
	assert.True(t, stored.IsReadByAdmin)
	assert.True(t, stored.IsReadByUser)

	// 错误的会话ID不命中任何消息
	applied, err = svc.ApplyReadReceipt("other-session", msg.ID, models.SenderUser)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestMarkSeenScopedToUserMessages(t *testing.T) {
	db := newTestDB(t)
	svc := NewSessionService(db)
	user := newTestUser(t, db, "buyer")
	session, _, err := svc.StartSession(user, models.ProductRef{ProductID: "p-1"})
	require.NoError(t, err)

	userMsg, err := svc.AppendMessage(session.ID, models.SenderUser, "need help")
	require.NoError(t, err)
	adminMsg, err := svc.AppendMessage(session.ID, models.SenderAdmin, "on it")
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.ChatSession{}).
		Where("id = ?", session.ID).Update("unread_count", 2).Error)

	require.NoError(t, svc.MarkSeen(session.ID))

	var stored models.Message
	require.NoError(t, db.First(&stored, "id = ?", userMsg.ID).Error)
	assert.True(t, stored.IsReadByAdmin)

	// 管理员自己的消息不受影响，用户侧标记只能由用户回执翻转
	require.NoError(t, db.First(&stored, "id = ?", adminMsg.ID).Error)
	assert.False(t, stored.IsReadByUser)

	var reloaded models.ChatSession
	require.NoError(t, db.First(&reloaded, "id = ?", session.ID).Error)
	assert.Zero(t, reloaded.UnreadCount)

	assert.ErrorIs(t, svc.MarkSeen("missing"), ErrSessionNotFound)
}

func TestEndSessionIsOneWayAndIdempotent(t *testing.T) {
	db := newTestDB(t)
	svc := NewSessionService(db)
	user := newTestUser(t, db, "buyer")
	session, _, err := svc.StartSession(user, models.ProductRef{ProductID: "p-1"})
	require.NoError(t, err)

	require.NoError(t, svc.EndSession(session.ID))
	require.NoError(t, svc.EndSession(session.ID))
	assert.ErrorIs(t, svc.EndSession("missing"), ErrSessionNotFound)

	active, err := svc.FetchActiveSession(user.ID)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestAllSessionsFiltersByEmailAndStatus(t *testing.T) {
	db := newTestDB(t)
	svc := NewSessionService(db)
	alice := newTestUser(t, db, "alice")
	bob := newTestUser(t, db, "bob")

	aliceSession, _, err := svc.StartSession(alice, models.ProductRef{ProductID: "p-1"})
	require.NoError(t, err)
	_, _, err = svc.StartSession(bob, models.ProductRef{ProductID: "p-2"})
	require.NoError(t, err)

	all, err := svc.AllSessions("")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filtered, err := svc.AllSessions(alice.Email)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, aliceSession.ID, filtered[0].ID)
	assert.Equal(t, alice.ID, filtered[0].User.ID)

	require.NoError(t, svc.EndSession(aliceSession.ID))
	all, err = svc.AllSessions("")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpdatePreviewCountsUserMessagesOnly(t *testing.T) {
	db := newTestDB(t)
	svc := NewSessionService(db)
	user := newTestUser(t, db, "buyer")
	session, _, err := svc.StartSession(user, models.ProductRef{ProductID: "p-1"})
	require.NoError(t, err)

	require.NoError(t, svc.UpdatePreview(session.ID, "hi", true))
	require.NoError(t, svc.UpdatePreview(session.ID, "hello back", false))

	var reloaded models.ChatSession
	require.NoError(t, db.First(&reloaded, "id = ?", session.ID).Error)
	assert.Equal(t, "hello back", reloaded.LastMessage)
	assert.Equal(t, 1, reloaded.UnreadCount)
}
