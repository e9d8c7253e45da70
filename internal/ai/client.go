package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"ai-gamer/server/internal/config"
	"ai-gamer/server/internal/interfaces"
)

const (
	maxRetries = 3
	retryDelay = 1 * time.Second
)

// TokenRecorder receives token accounting for every generation call.
type TokenRecorder interface {
	RecordTokenUsage(usageType string, inputTokens, outputTokens int, model string) error
}

// Client generates commentary through an OpenAI-compatible chat API.
type Client struct {
	client      *openai.Client
	cfg         config.GenerationConfig
	recorder    TokenRecorder
	initialized bool
}

// NewClient creates a generation client. A missing API key leaves the
// client uninitialized; calls then fail fast without a network attempt.
func NewClient(cfg config.GenerationConfig, recorder TokenRecorder) *Client {
	c := &Client{cfg: cfg, recorder: recorder}
	if cfg.APIKey == "" {
		log.Println("[AI] Warning: no generation API key configured, AI features unavailable")
		return c
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	c.client = openai.NewClientWithConfig(clientCfg)
	c.initialized = true
	log.Printf("[AI] Generation client initialized (model: %s)", cfg.Model)
	return c
}

// Initialized reports whether credentials are configured.
func (c *Client) Initialized() bool {
	return c.initialized
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// GenerateCommentary analyzes a base64 JPEG screenshot and returns
// commentary text.
func (c *Client) GenerateCommentary(ctx context.Context, imageBase64, systemPrompt, userPrompt string, opts interfaces.GenerateOptions) (string, error) {
	if !c.initialized {
		return "", interfaces.ErrNotConfigured
	}

	userMessage := openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:image/jpeg;base64," + imageBase64,
					Detail: openai.ImageURLDetailLow,
				},
			},
			{
				Type: openai.ChatMessagePartTypeText,
				Text: userPrompt,
			},
		},
	}

	text, err := c.chat(ctx, "commentary", systemPrompt, userMessage, opts)
	if err != nil {
		return "", &interfaces.GenerationError{Op: "commentary", Err: err}
	}
	return text, nil
}

// GenerateTextCommentary returns commentary for plain text input.
func (c *Client) GenerateTextCommentary(ctx context.Context, text, systemPrompt string, opts interfaces.GenerateOptions) (string, error) {
	if !c.initialized {
		return "", interfaces.ErrNotConfigured
	}

	userMessage := openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	}

	out, err := c.chat(ctx, "text_commentary", systemPrompt, userMessage, opts)
	if err != nil {
		return "", &interfaces.GenerationError{Op: "text_commentary", Err: err}
	}
	return out, nil
}

// ReplyToChat generates a short reply to a viewer message.
func (c *Client) ReplyToChat(ctx context.Context, chatMessage, username, systemPrompt, memoryContext string, opts interfaces.GenerateOptions) (string, error) {
	if !c.initialized {
		return "", interfaces.ErrNotConfigured
	}

	fullPrompt := systemPrompt
	if fullPrompt == "" {
		fullPrompt = "你是一位友好的游戏主播，正在与观众互动。请用简短有趣的方式回复观众的消息。"
	}
	if memoryContext != "" {
		fullPrompt += "\n\n当前记忆上下文：\n" + memoryContext
	}

	userMessage := openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: fmt.Sprintf("观众 %q 说: %q\n\n请用简短有趣的方式回复这条消息（控制在50字以内）：", username, chatMessage),
	}

	if opts.MaxTokens == 0 {
		opts.MaxTokens = 100
	}
	if opts.Temperature == 0 {
		opts.Temperature = 0.9
	}

	out, err := c.chat(ctx, "chat_reply", fullPrompt, userMessage, opts)
	if err != nil {
		return "", &interfaces.GenerationError{Op: "chat_reply", Err: err}
	}
	return out, nil
}

func (c *Client) chat(ctx context.Context, usageType, systemPrompt string, userMessage openai.ChatCompletionMessage, opts interfaces.GenerateOptions) (string, error) {
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.cfg.MaxTokens
	}
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = c.cfg.Temperature
	}

	req := openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			userMessage,
		},
		MaxTokens:   maxTokens,
		Temperature: float32(temperature),
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}

		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", errors.New("no choices returned from model")
			}
			c.recordUsage(usageType, resp)
			return strings.TrimSpace(resp.Choices[0].Message.Content), nil
		}

		lastErr = err
		if !isRetryableError(err) {
			return "", err
		}
	}

	return "", fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

func (c *Client) recordUsage(usageType string, resp openai.ChatCompletionResponse) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordTokenUsage(usageType, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, c.cfg.Model); err != nil {
		log.Printf("[AI] Failed to record token usage: %v", err)
	}
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return strings.Contains(err.Error(), "connection refused")
}
