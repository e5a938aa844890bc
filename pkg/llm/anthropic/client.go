// Package anthropic implements the quality inference tier against the
// Anthropic Messages API.
package anthropic

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"aide/pkg/llm"
)

// Client wraps the official Anthropic SDK.
type Client struct {
	client    anthropic.Client
	model     anthropic.Model
	ctxLength int
}

// New creates a raw Anthropic client (middleware is applied at a higher level).
func New(apiKey, model string, contextLength int) *Client {
	return &Client{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(model),
		ctxLength: contextLength,
	}
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, in llm.Request) (llm.Response, error) {
	messages, systemPrompt := convertMessages(in.Messages)

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(in.MaxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{
			Text: systemPrompt,
			Type: "text",
		}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.Response{}, llm.Classify(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.Response{}, llm.NewError(llm.ErrorTypeEmptyResponse, "received empty response from Anthropic API")
	}

	var text string
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}
	if text == "" {
		return llm.Response{}, llm.NewError(llm.ErrorTypeEmptyResponse, "response contained no text blocks")
	}

	return llm.Response{
		Content:          text,
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}, nil
}

// Stream implements llm.Client. The quality tier is consumed whole, so this
// delivers the full completion as a single chunk.
func (c *Client) Stream(ctx context.Context, in llm.Request) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 1)
	go func() {
		defer close(ch)
		resp, err := c.Complete(ctx, in)
		if err != nil {
			ch <- llm.StreamChunk{Error: err}
			return
		}
		ch <- llm.StreamChunk{Content: resp.Content, Done: true}
	}()
	return ch, nil
}

// ModelName implements llm.Client.
func (c *Client) ModelName() string { return string(c.model) }

// ContextLength implements llm.Client.
func (c *Client) ContextLength() int { return c.ctxLength }

// convertMessages maps conversation messages to Anthropic params. System
// messages are collected into the dedicated system prompt slot.
func convertMessages(messages []llm.Message) ([]anthropic.MessageParam, string) {
	var systemPrompt string
	result := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content
		case llm.RoleAssistant:
			result = append(result, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return result, systemPrompt
}
