package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/naveenspark/supportdesk/pkg/domain"
)

// Client is the chat-support API client. It speaks both the current
// /api/chat-support endpoints and the legacy /api/chat ones.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// New creates a new API client.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope is the {success, data, message} wrapper every chat endpoint uses.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// --- Rooms ---

// ListRooms returns every active support room from the chat-support API.
func (c *Client) ListRooms(ctx context.Context) ([]domain.Room, error) {
	params := url.Values{}
	params.Set("all", "true")
	params.Set("status", string(domain.RoomActive))

	var data struct {
		Rooms []domain.Room `json:"rooms"`
	}
	if err := c.get(ctx, "/api/chat-support/admin/rooms?"+params.Encode(), &data); err != nil {
		return nil, fmt.Errorf("client.ListRooms: %w", err)
	}
	return nonNil(data.Rooms), nil
}

// ListLegacyChats returns the sessions known to the legacy chat API, mapped to rooms.
func (c *Client) ListLegacyChats(ctx context.Context) ([]domain.Room, error) {
	var data struct {
		Sessions []domain.Room `json:"sessions"`
	}
	if err := c.get(ctx, "/api/chat/admin/all-chats", &data); err != nil {
		return nil, fmt.Errorf("client.ListLegacyChats: %w", err)
	}
	return nonNil(data.Sessions), nil
}

// --- History ---

// RoomHistory returns the messages of a room, oldest first.
func (c *Client) RoomHistory(ctx context.Context, roomID domain.ID) ([]domain.Message, error) {
	var data struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := c.get(ctx, "/api/chat-support/admin/rooms/"+url.PathEscape(roomID.String())+"/history", &data); err != nil {
		return nil, fmt.Errorf("client.RoomHistory: %w", err)
	}
	return nonNil(data.Messages), nil
}

// LegacySessionHistory returns the messages of a legacy chat session.
func (c *Client) LegacySessionHistory(ctx context.Context, sessionID domain.ID) ([]domain.Message, error) {
	var data struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := c.get(ctx, "/api/chat/admin/sessions/"+url.PathEscape(sessionID.String()), &data); err != nil {
		return nil, fmt.Errorf("client.LegacySessionHistory: %w", err)
	}
	return nonNil(data.Messages), nil
}

// --- Responses ---

type respondRequest struct {
	Message string `json:"message"`
}

// Respond posts a staff reply to a room. The returned message is nil when
// the API does not echo it back.
func (c *Client) Respond(ctx context.Context, roomID domain.ID, text string) (*domain.Message, error) {
	var data struct {
		Message *domain.Message `json:"message"`
	}
	if err := c.post(ctx, "/api/chat-support/admin/rooms/"+url.PathEscape(roomID.String())+"/respond", respondRequest{Message: text}, &data); err != nil {
		return nil, fmt.Errorf("client.Respond: %w", err)
	}
	return data.Message, nil
}

// LegacyRespond posts a staff reply through the legacy chat API.
func (c *Client) LegacyRespond(ctx context.Context, sessionID domain.ID, text string) (*domain.Message, error) {
	var data struct {
		Message *domain.Message `json:"message"`
	}
	if err := c.post(ctx, "/api/chat/admin/sessions/"+url.PathEscape(sessionID.String())+"/respond", respondRequest{Message: text}, &data); err != nil {
		return nil, fmt.Errorf("client.LegacyRespond: %w", err)
	}
	return data.Message, nil
}

// --- Presence ---

// UserStatus reports whether a customer currently has a live connection.
func (c *Client) UserStatus(ctx context.Context, userID domain.ID) (bool, error) {
	var data struct {
		IsOnline bool `json:"is_online"`
	}
	if err := c.get(ctx, "/api/chat-support/status/"+url.PathEscape(userID.String()), &data); err != nil {
		return false, fmt.Errorf("client.UserStatus: %w", err)
	}
	return data.IsOnline, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.doRequest(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	return c.doRequest(ctx, http.MethodPost, path, body, out)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode >= 400 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB max error body
		if readErr != nil {
			return &HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read body: %v", readErr)}
		}
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil {
			if apiErr.Error != "" {
				return &HTTPError{StatusCode: resp.StatusCode, Message: apiErr.Error}
			}
			if apiErr.Message != "" {
				return &HTTPError{StatusCode: resp.StatusCode, Message: apiErr.Message}
			}
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		if env.Message != "" {
			return fmt.Errorf("%w: %s", ErrUnsuccessful, env.Message)
		}
		return ErrUnsuccessful
	}
	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}
