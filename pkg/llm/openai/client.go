// Package openai implements the quality inference tier against the OpenAI
// Responses API.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"aide/pkg/llm"
)

// Client wraps the official OpenAI SDK.
type Client struct {
	client    openai.Client
	model     string
	ctxLength int
}

// New creates a raw OpenAI client (middleware is applied at a higher level).
func New(apiKey, model string, contextLength int) *Client {
	return &Client{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		ctxLength: contextLength,
	}
}

// Complete implements llm.Client.
func (o *Client) Complete(ctx context.Context, in llm.Request) (llm.Response, error) {
	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(int64(in.MaxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(flattenMessages(in.Messages))},
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return llm.Response{}, llm.Classify(err)
	}
	if resp == nil {
		return llm.Response{}, llm.NewError(llm.ErrorTypeEmptyResponse, "received nil response from OpenAI Responses API")
	}

	content := resp.OutputText()
	if content == "" {
		return llm.Response{}, llm.NewError(llm.ErrorTypeEmptyResponse, "response contained no output text")
	}

	return llm.Response{
		Content:          content,
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}, nil
}

// Stream implements llm.Client. The quality tier is consumed whole, so this
// delivers the full completion as a single chunk.
func (o *Client) Stream(ctx context.Context, in llm.Request) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 1)
	go func() {
		defer close(ch)
		resp, err := o.Complete(ctx, in)
		if err != nil {
			ch <- llm.StreamChunk{Error: err}
			return
		}
		ch <- llm.StreamChunk{Content: resp.Content, Done: true}
	}()
	return ch, nil
}

// ModelName implements llm.Client.
func (o *Client) ModelName() string { return o.model }

// ContextLength implements llm.Client.
func (o *Client) ContextLength() int { return o.ctxLength }

// flattenMessages renders the conversation as a single input string for the
// Responses API, prefixing non-user roles.
func flattenMessages(messages []llm.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			fmt.Fprintf(&b, "System: %s\n\n", msg.Content)
		case llm.RoleAssistant:
			fmt.Fprintf(&b, "Assistant: %s\n\n", msg.Content)
		default:
			b.WriteString(msg.Content)
		}
	}
	return b.String()
}
