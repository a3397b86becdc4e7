// Package client implements the storefront-side chat components: a
// realtime channel adapter, the customer session controller and the
// admin support console. Both controllers talk to the chat backend
// over HTTP for lifecycle calls and over the channel for messages.
package client

import (
	"ShopDesk/models"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Backend is the chat backend's HTTP surface as seen by the controllers.
type Backend interface {
	StartSession(ctx context.Context, product models.ProductRef) (sessionID string, created bool, err error)
	FetchSession(ctx context.Context) (*models.ChatSession, error)
	AllSessions(ctx context.Context, email string) ([]models.ChatSession, error)
	MarkSeen(ctx context.Context, sessionID string) error
	EndSession(ctx context.Context, sessionID string) error
}

type APIClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *APIClient) StartSession(ctx context.Context, product models.ProductRef) (string, bool, error) {
	body := map[string]interface{}{"product": product}
	var resp struct {
		SessionID string `json:"sessionId"`
	}
	status, err := a.do(ctx, http.MethodPost, "/api/chat/start-session", nil, body, &resp)
	if err != nil {
		return "", false, err
	}
	return resp.SessionID, status == http.StatusCreated, nil
}

func (a *APIClient) FetchSession(ctx context.Context) (*models.ChatSession, error) {
	var session *models.ChatSession
	if _, err := a.do(ctx, http.MethodGet, "/api/chat/fetch-session", nil, nil, &session); err != nil {
		return nil, err
	}
	return session, nil
}

func (a *APIClient) AllSessions(ctx context.Context, email string) ([]models.ChatSession, error) {
	query := url.Values{}
	if email != "" {
		query.Set("email", email)
	}
	var resp struct {
		Sessions []models.ChatSession `json:"sessions"`
	}
	if _, err := a.do(ctx, http.MethodGet, "/api/chat/all-sessions", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func (a *APIClient) MarkSeen(ctx context.Context, sessionID string) error {
	query := url.Values{}
	query.Set("sessionId", sessionID)
	_, err := a.do(ctx, http.MethodGet, "/api/chat/seen", query, nil, nil)
	return err
}

func (a *APIClient) EndSession(ctx context.Context, sessionID string) error {
	body := map[string]string{"sessionId": sessionID}
	_, err := a.do(ctx, http.MethodPost, "/api/chat/end", nil, body, nil)
	return err
}

func (a *APIClient) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) (int, error) {
	endpoint := a.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("chat api error: %s body=%s", resp.Status, respBody)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}
