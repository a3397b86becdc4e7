package client

import (
	"ShopDesk/models"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type channelTestServer struct {
	*httptest.Server
	mu       sync.Mutex
	received []models.Envelope
	conns    chan *websocket.Conn
}

func newChannelTestServer(t *testing.T) *channelTestServer {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := &channelTestServer{conns: make(chan *websocket.Conn, 4)}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.conns <- conn
		for {
			var env models.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			ts.mu.Lock()
			ts.received = append(ts.received, env)
			ts.mu.Unlock()
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *channelTestServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func (ts *channelTestServer) envelopes() []models.Envelope {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]models.Envelope(nil), ts.received...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestChannelEmitWhileDisconnected(t *testing.T) {
	ch := NewChannel("ws://localhost:0", "token")

	err := ch.SendChat(models.SendPayload{SessionID: "s", Message: "dropped"})
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestChannelAttachAndSend(t *testing.T) {
	ts := newChannelTestServer(t)
	ch := NewChannel(ts.wsURL(), "token")
	require.NoError(t, ch.Connect())
	defer ch.Close()

	require.NoError(t, ch.Attach("session-1"))
	// idempotent: no second attach frame for the same room
	require.NoError(t, ch.Attach("session-1"))
	require.NoError(t, ch.SendChat(models.SendPayload{
		SessionID: "session-1",
		Sender:    models.SenderUser,
		Message:   "hello",
	}))

	waitFor(t, func() bool { return len(ts.envelopes()) == 2 })
	envs := ts.envelopes()
	assert.Equal(t, models.EventAttachSession, envs[0].Type)
	assert.Equal(t, models.EventSendMessage, envs[1].Type)
}

func TestChannelDispatchesInboundEvents(t *testing.T) {
	ts := newChannelTestServer(t)
	ch := NewChannel(ts.wsURL(), "token")

	var mu sync.Mutex
	var messages []models.Message
	var adminReads []models.ReceiptPayload
	ch.OnMessage = func(m models.Message) {
		mu.Lock()
		defer mu.Unlock()
		messages = append(messages, m)
	}
	ch.OnAdminRead = func(p models.ReceiptPayload) {
		mu.Lock()
		defer mu.Unlock()
		adminReads = append(adminReads, p)
	}

	require.NoError(t, ch.Connect())
	defer ch.Close()

	conn := <-ts.conns
	env, err := models.NewEnvelope(models.EventReceiveMessage, models.Message{
		ID:        "m-1",
		SessionID: "session-1",
		Sender:    models.SenderAdmin,
		Body:      "hi",
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))

	receipt, err := models.NewEnvelope(models.EventAdminReadMessage, models.ReceiptPayload{
		SessionID: "session-1",
		MessageID: "m-1",
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(receipt))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(messages) == 1 && len(adminReads) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "m-1", messages[0].ID)
	assert.Equal(t, "m-1", adminReads[0].MessageID)
}

func TestChannelReconnectRestoresSubscriptions(t *testing.T) {
	ts := newChannelTestServer(t)
	ch := NewChannel(ts.wsURL(), "token")

	var mu sync.Mutex
	reconnects := 0
	ch.OnReconnect = func() {
		mu.Lock()
		defer mu.Unlock()
		reconnects++
	}

	require.NoError(t, ch.Connect())
	defer ch.Close()

	require.NoError(t, ch.Attach("session-1"))
	waitFor(t, func() bool { return len(ts.envelopes()) == 1 })

	// server drops the connection; channel reconnects and re-attaches
	conn := <-ts.conns
	conn.Close()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return reconnects == 1
	})
	waitFor(t, func() bool { return len(ts.envelopes()) >= 2 })

	envs := ts.envelopes()
	last := envs[len(envs)-1]
	assert.Equal(t, models.EventAttachSession, last.Type)
}
