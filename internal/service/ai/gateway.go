package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/linqiu/chatdesk/backend/internal/config"
	"github.com/linqiu/chatdesk/backend/internal/model/chat"
)

// ErrGateway wraps every failure of the remote completion call. By the time
// it surfaces the user's message is already committed, so a failed call
// never loses input.
var ErrGateway = errors.New("completion request failed")

// Client talks to an OpenAI-compatible chat completion endpoint. With no
// endpoint configured it produces deterministic demo replies instead, which
// keeps the whole conversation flow usable without network access.
type Client struct {
	cfg        config.AIConfig
	httpClient *http.Client
}

// NewClient builds a gateway client from configuration.
func NewClient(cfg config.AIConfig) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
	}
}

// Enabled reports whether remote completion calls are configured.
func (c *Client) Enabled() bool {
	return c.cfg.Enabled()
}

type completionRequest struct {
	Model    string      `json:"model"`
	Messages []chat.Turn `json:"messages"`
	Stream   bool        `json:"stream"`
}

// GetReply sends the full conversation history, including the just-appended
// user turn, and returns the assistant's reply text.
func (c *Client) GetReply(ctx context.Context, history []chat.Turn) (string, error) {
	if !c.Enabled() {
		return demoReply(history), nil
	}

	body, err := json.Marshal(completionRequest{
		Model:    c.cfg.Model,
		Messages: history,
		Stream:   false,
	})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", ErrGateway, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGateway, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrGateway, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("%w: status=%d body=%s", ErrGateway, resp.StatusCode, raw)
	}

	content := gjson.GetBytes(raw, "choices.0.message.content")
	if !content.Exists() {
		// Keep the turn completable: hand the raw payload back as the reply
		// so the failure is visible in the conversation.
		return fmt.Sprintf("[raw model response]\n%s\n(extract failed: missing choices.0.message.content)", raw), nil
	}
	return content.String(), nil
}

// demoReply echoes the most recent user turn inside a fixed template.
func demoReply(history []chat.Turn) string {
	lastUser := ""
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == chat.RoleUser {
			lastUser = history[i].Content
			break
		}
	}
	return fmt.Sprintf("(demo reply) you said: %s", lastUser)
}
