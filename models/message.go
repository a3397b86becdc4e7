package models

import "time"

const (
	SenderUser  = "user"
	SenderAdmin = "admin"
)

type Message struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	SessionID     string    `json:"session_id" gorm:"index"`
	Sender        string    `json:"sender"` // user, admin
	Body          string    `json:"body" gorm:"type:text"`
	Timestamp     time.Time `json:"timestamp"`
	IsReadByUser  bool      `json:"is_read_by_user"`
	IsReadByAdmin bool      `json:"is_read_by_admin"`
}

// ReadBy reports the read flag for the given role.
func (m *Message) ReadBy(role string) bool {
	if role == SenderAdmin {
		return m.IsReadByAdmin
	}
	return m.IsReadByUser
}

// MarkRead sets the read flag for the given role. Flags are monotonic:
// marking an already-read message is a no-op and flags are never cleared.
func (m *Message) MarkRead(role string) bool {
	if role == SenderAdmin {
		if m.IsReadByAdmin {
			return false
		}
		m.IsReadByAdmin = true
		return true
	}
	if m.IsReadByUser {
		return false
	}
	m.IsReadByUser = true
	return true
}
