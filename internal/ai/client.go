package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/livechat-service/internal/config"
)

// Chat roles understood by the completion endpoint.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyCompletion is returned when the backend answers without content.
var ErrEmptyCompletion = errors.New("ai: empty completion")

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	cfg    config.AIConfig
	logger *zap.Logger
}

// NewClient builds a client from configuration.
func NewClient(cfg config.AIConfig, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, logger: logger}
}

// SystemPrompt returns the configured system prompt.
func (c *Client) SystemPrompt() string {
	return c.cfg.SystemPrompt
}

// Complete sends the conversation and returns the model's reply. Transport
// errors and 5xx/429 answers are retried with linear backoff.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	body := completionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * c.cfg.RetryBackoff
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		reply, retry, err := c.do(ctx, body)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !retry {
			break
		}
		c.logger.Warn("completion attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return "", lastErr
}

func (c *Client) do(ctx context.Context, body completionRequest) (string, bool, error) {
	timeout := c.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	agent := fiber.Post(strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions")
	agent.Set(fiber.HeaderAuthorization, "Bearer "+c.cfg.APIKey)
	agent.Timeout(timeout)
	agent.JSON(body)

	status, raw, errs := agent.Bytes()
	if len(errs) > 0 {
		return "", true, fmt.Errorf("ai: request: %w", errors.Join(errs...))
	}
	if status == fiber.StatusTooManyRequests || status >= fiber.StatusInternalServerError {
		return "", true, fmt.Errorf("ai: upstream status %d", status)
	}

	var resp completionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", false, fmt.Errorf("ai: decode response: %w", err)
	}
	if status >= fiber.StatusBadRequest {
		msg := ""
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return "", false, fmt.Errorf("ai: upstream status %d: %s", status, msg)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", false, ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, false, nil
}
