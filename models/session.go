package models

import "time"

const (
	SessionActive = "active"
	SessionEnded  = "ended"
)

// ProductRef is the product context a support session is anchored to.
// It is denormalized into the session row; the product catalog itself
// lives in another service.
type ProductRef struct {
	ProductID string `json:"product_id"`
	Title     string `json:"title"`
	ImageURL  string `json:"image_url"`
	DetailURL string `json:"detail_url"`
}

type ChatSession struct {
	ID          string     `json:"id" gorm:"primaryKey"`
	UserID      uint       `json:"user_id" gorm:"index"`
	Product     ProductRef `json:"product" gorm:"embedded;embeddedPrefix:product_"`
	Status      string     `json:"status" gorm:"default:'active'"` // active, ended
	LastMessage string     `json:"last_message"`
	UnreadCount int        `json:"unread_count" gorm:"default:0"`
	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	// 关联
	User     User      `json:"user" gorm:"foreignKey:UserID"`
	Messages []Message `json:"messages" gorm:"foreignKey:SessionID"`
}
