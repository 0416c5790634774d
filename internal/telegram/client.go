// Package telegram provides the Bot API send client. It maps the platform's
// throttling and forbidden signals onto typed errors the dispatcher acts on:
// a RateLimitedError pauses the drain loop, ErrRecipientBlocked is terminal.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxMessageLen is Telegram's message length ceiling.
const maxMessageLen = 4096

// ErrRecipientBlocked signals the recipient rejected the sender (blocked the
// bot, deactivated their account, or the chat is gone). Never retried.
var ErrRecipientBlocked = errors.New("recipient blocked the sender")

// RateLimitedError carries the platform-specified cooldown from a 429.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("telegram rate limited, retry after %s", e.RetryAfter)
}

// Client is the Bot API HTTP client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates a send client for a bot token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		token:      token,
	}
}

// sendMessageRequest is the Bot API sendMessage payload.
type sendMessageRequest struct {
	ChatID              int64  `json:"chat_id"`
	Text                string `json:"text"`
	ParseMode           string `json:"parse_mode,omitempty"`
	DisableNotification bool   `json:"disable_notification,omitempty"`
}

// apiResponse is the Bot API response envelope.
type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

// SendMessage delivers one text message to a chat. Error mapping:
// 429 → *RateLimitedError, 403 → ErrRecipientBlocked, anything else is a
// transient failure the caller may retry.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	if len(text) > maxMessageLen {
		text = text[:maxMessageLen]
	}

	payload, err := json.Marshal(sendMessageRequest{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshal sendMessage: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sendMessage request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read sendMessage response: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return fmt.Errorf("decode sendMessage response (status %d): %w", resp.StatusCode, err)
	}
	if apiResp.OK {
		return nil
	}

	switch apiResp.ErrorCode {
	case http.StatusTooManyRequests:
		retryAfter := 5 * time.Second
		if apiResp.Parameters != nil && apiResp.Parameters.RetryAfter > 0 {
			retryAfter = time.Duration(apiResp.Parameters.RetryAfter) * time.Second
		}
		return &RateLimitedError{RetryAfter: retryAfter}
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrRecipientBlocked, apiResp.Description)
	default:
		return fmt.Errorf("sendMessage failed (%d): %s", apiResp.ErrorCode, apiResp.Description)
	}
}
