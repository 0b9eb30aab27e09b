package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ============================================================================
// REST Client
// ============================================================================

// Client talks to the CRM chat HTTP API. It seeds state at startup and
// carries the write operations; everything live arrives on the socket.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a REST client for the given API base URL.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken swaps the bearer token used for subsequent requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Result is the API's response envelope.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*Result, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !result.OK {
		if result.Error != nil {
			return nil, result.Error
		}
		return nil, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return &result, nil
}

func decodeJSON[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode payload: %w", err)
	}
	return v, nil
}

// ============================================================================
// Rooms
// ============================================================================

// ListRooms fetches the rooms the authenticated user participates in.
func (c *Client) ListRooms(ctx context.Context) ([]Room, error) {
	result, err := c.doRequest(ctx, http.MethodGet, "/api/chat/rooms", nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[[]Room](result.Data)
}

// HistoryOptions page through a room's message history.
type HistoryOptions struct {
	// Limit caps the page size; the server default applies when zero.
	Limit int
	// Before fetches messages strictly older than the given message id.
	Before string
}

// RoomMessages fetches a page of message history for a room, newest page
// first. Results come back in ascending chronological order.
func (c *Client) RoomMessages(ctx context.Context, roomID string, opts *HistoryOptions) ([]Message, error) {
	path := "/api/chat/rooms/" + url.PathEscape(roomID) + "/messages"
	if opts != nil {
		q := url.Values{}
		if opts.Limit > 0 {
			q.Set("limit", strconv.Itoa(opts.Limit))
		}
		if opts.Before != "" {
			q.Set("before", opts.Before)
		}
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
	}
	result, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[[]Message](result.Data)
}

// ============================================================================
// Messages
// ============================================================================

// SendOptions carry the optional fields of an outgoing message.
type SendOptions struct {
	ReplyToMessageID string
	Attachments      []Attachment
	ForwardFrom      string
}

// SendMessage posts a message and returns the persisted copy with its
// server-assigned id.
func (c *Client) SendMessage(ctx context.Context, roomID, text string, opts *SendOptions) (*Message, error) {
	body := map[string]any{"text": text}
	if opts != nil {
		if opts.ReplyToMessageID != "" {
			body["replyToMessageId"] = opts.ReplyToMessageID
		}
		if len(opts.Attachments) > 0 {
			body["attachments"] = opts.Attachments
		}
		if opts.ForwardFrom != "" {
			body["forwardFrom"] = opts.ForwardFrom
		}
	}
	result, err := c.doRequest(ctx, http.MethodPost, "/api/chat/rooms/"+url.PathEscape(roomID)+"/messages", body)
	if err != nil {
		return nil, err
	}
	msg, err := decodeJSON[Message](result.Data)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// EditMessage replaces a message's text.
func (c *Client) EditMessage(ctx context.Context, roomID, messageID, text string) (*Message, error) {
	path := "/api/chat/rooms/" + url.PathEscape(roomID) + "/messages/" + url.PathEscape(messageID)
	result, err := c.doRequest(ctx, http.MethodPatch, path, map[string]any{"text": text})
	if err != nil {
		return nil, err
	}
	msg, err := decodeJSON[Message](result.Data)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeleteMessage soft-deletes a message. The tombstone arrives on the socket.
func (c *Client) DeleteMessage(ctx context.Context, roomID, messageID string) error {
	path := "/api/chat/rooms/" + url.PathEscape(roomID) + "/messages/" + url.PathEscape(messageID)
	_, err := c.doRequest(ctx, http.MethodDelete, path, nil)
	return err
}

// PinMessage pins a message in its room.
func (c *Client) PinMessage(ctx context.Context, roomID, messageID string) error {
	path := "/api/chat/rooms/" + url.PathEscape(roomID) + "/messages/" + url.PathEscape(messageID) + "/pin"
	_, err := c.doRequest(ctx, http.MethodPost, path, nil)
	return err
}

// UnpinMessage clears a room's pinned message.
func (c *Client) UnpinMessage(ctx context.Context, roomID, messageID string) error {
	path := "/api/chat/rooms/" + url.PathEscape(roomID) + "/messages/" + url.PathEscape(messageID) + "/pin"
	_, err := c.doRequest(ctx, http.MethodDelete, path, nil)
	return err
}

// MarkRead advances the caller's read cursor in a room. Receipt fan-out to
// other participants arrives on the socket.
func (c *Client) MarkRead(ctx context.Context, roomID, messageID string) error {
	path := "/api/chat/rooms/" + url.PathEscape(roomID) + "/read"
	_, err := c.doRequest(ctx, http.MethodPost, path, map[string]any{"messageId": messageID})
	return err
}
