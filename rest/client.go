// Package rest implements the stateless fallback transport: plain
// resource-oriented requests used when the realtime connection is not
// available, authenticated with a bearer credential header.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"chat-sync/domain"
	"chat-sync/errors"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Credentials is the payload of a successful login.
type Credentials struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

func (c *Client) Login(ctx context.Context, username, password string) (Credentials, error) {
	var creds Credentials
	payload := map[string]string{"username": username, "password": password}
	err := c.do(ctx, http.MethodPost, "/api/v1/login", "", payload, &creds)
	return creds, err
}

func (c *Client) ListChannels(ctx context.Context, token string) ([]domain.Channel, error) {
	var channels []domain.Channel
	err := c.do(ctx, http.MethodGet, "/api/v1/channels", token, nil, &channels)
	return channels, err
}

func (c *Client) ListMessages(ctx context.Context, token string) ([]domain.Message, error) {
	var messages []domain.Message
	err := c.do(ctx, http.MethodGet, "/api/v1/messages", token, nil, &messages)
	return messages, err
}

func (c *Client) CreateChannel(ctx context.Context, token, name string) (domain.Channel, error) {
	var channel domain.Channel
	payload := map[string]string{"name": name}
	err := c.do(ctx, http.MethodPost, "/api/v1/channels", token, payload, &channel)
	return channel, err
}

func (c *Client) RenameChannel(ctx context.Context, token string, id domain.ChannelID, name string) (domain.Channel, error) {
	var channel domain.Channel
	payload := map[string]string{"name": name}
	path := fmt.Sprintf("/api/v1/channels/%d", id)
	err := c.do(ctx, http.MethodPatch, path, token, payload, &channel)
	return channel, err
}

func (c *Client) DeleteChannel(ctx context.Context, token string, id domain.ChannelID) error {
	path := fmt.Sprintf("/api/v1/channels/%d", id)
	return c.do(ctx, http.MethodDelete, path, token, nil, nil)
}

func (c *Client) PostMessage(ctx context.Context, token string, m domain.Message) (domain.Message, error) {
	var created domain.Message
	payload := map[string]any{
		"channelId": m.ChannelID,
		"username":  m.Username,
		"body":      m.Body,
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/messages", token, payload, &created)
	return created, err
}

// do runs one request and maps the outcome onto the shared error
// taxonomy: network and 5xx failures are transport errors, 401 is an
// authentication error, any other 4xx is a server-side rejection.
func (c *Client) do(ctx context.Context, method, path, token string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", errors.ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return errors.ErrUnauthorized
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s %s: status %d", errors.ErrTransport, method, path, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: %s", errors.ErrRejected, serverMessage(resp.Body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s %s: %v", errors.ErrTransport, method, path, err)
	}
	return nil
}

// serverMessage extracts the human-readable rejection reason, falling
// back to the raw body when the shape is unexpected.
func serverMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return "request refused"
	}
	var shaped struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &shaped); err == nil && shaped.Message != "" {
		return shaped.Message
	}
	return string(raw)
}
