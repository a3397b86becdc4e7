package client

import (
	"ShopDesk/models"
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeEmitter records every channel emission for assertions.
type fakeEmitter struct {
	mu        sync.Mutex
	attached  []string
	detached  []string
	chats     []models.SendPayload
	receipts  []receiptCall
	announced []string
}

type receiptCall struct {
	event   string
	payload models.ReceiptPayload
}

func (f *fakeEmitter) Attach(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached = append(f.attached, sessionID)
	return nil
}

func (f *fakeEmitter) Detach(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached = append(f.detached, sessionID)
	return nil
}

func (f *fakeEmitter) SendChat(p models.SendPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, p)
	return nil
}

func (f *fakeEmitter) SendReceipt(eventType string, p models.ReceiptPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts = append(f.receipts, receiptCall{event: eventType, payload: p})
	return nil
}

func (f *fakeEmitter) AnnounceSession(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.announced = append(f.announced, sessionID)
	return nil
}

func (f *fakeEmitter) receiptEvents() []receiptCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]receiptCall(nil), f.receipts...)
}

// fakeBackend is an in-memory stand-in for the chat HTTP API.
type fakeBackend struct {
	mu         sync.Mutex
	nextID     int
	active     *models.ChatSession
	sessions   []models.ChatSession
	starts     int
	seenCalls  []string
	endedCalls []string
	startErr   error
}

func (f *fakeBackend) StartSession(ctx context.Context, product models.ProductRef) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", false, f.startErr
	}
	f.starts++
	if f.active != nil {
		return f.active.ID, false, nil
	}
	f.nextID++
	session := models.ChatSession{
		ID:        fmt.Sprintf("session-%d", f.nextID),
		Product:   product,
		Status:    models.SessionActive,
		StartedAt: time.Now(),
	}
	f.active = &session
	return session.ID, true, nil
}

func (f *fakeBackend) FetchSession(ctx context.Context) (*models.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return nil, nil
	}
	copied := *f.active
	return &copied, nil
}

func (f *fakeBackend) AllSessions(ctx context.Context, email string) ([]models.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ChatSession(nil), f.sessions...), nil
}

func (f *fakeBackend) MarkSeen(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seenCalls = append(f.seenCalls, sessionID)
	return nil
}

func (f *fakeBackend) EndSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endedCalls = append(f.endedCalls, sessionID)
	if f.active != nil && f.active.ID == sessionID {
		f.active = nil
	}
	return nil
}
