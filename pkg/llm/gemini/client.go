// Package gemini implements the quality inference tier against the Google
// Gemini API.
package gemini

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"aide/pkg/llm"
)

// Client wraps the Google GenAI SDK. The underlying client is created on
// first use because genai.NewClient requires a context; the client is
// shared across sessions, so first-use init is double-check locked.
type Client struct {
	mu        sync.RWMutex
	client    *genai.Client
	apiKey    string
	model     string
	ctxLength int
}

// New creates a raw Gemini client (middleware is applied at a higher level).
func New(apiKey, model string, contextLength int) *Client {
	return &Client{
		apiKey:    apiKey,
		model:     model,
		ctxLength: contextLength,
	}
}

// api returns the underlying SDK client, creating it exactly once under
// concurrent first use.
func (g *Client) api(ctx context.Context) (*genai.Client, error) {
	g.mu.RLock()
	client := g.client
	g.mu.RUnlock()
	if client != nil {
		return client, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, llm.Classify(fmt.Errorf("failed to create Gemini client: %w", err))
		}
		g.client = client
	}
	return g.client, nil
}

// Complete implements llm.Client.
func (g *Client) Complete(ctx context.Context, in llm.Request) (llm.Response, error) {
	api, err := g.api(ctx)
	if err != nil {
		return llm.Response{}, err
	}

	contents, systemInstruction := convertMessages(in.Messages)

	temperature := in.Temperature
	//nolint:gosec // MaxTokens is validated by the QoS layer.
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(in.MaxTokens),
	}
	if systemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		}
	}

	result, err := api.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return llm.Response{}, llm.Classify(err)
	}
	if result == nil || result.Text() == "" {
		return llm.Response{}, llm.NewError(llm.ErrorTypeEmptyResponse, "received empty response from Gemini API")
	}

	resp := llm.Response{Content: result.Text()}
	if result.UsageMetadata != nil {
		resp.PromptTokens = int(result.UsageMetadata.PromptTokenCount)
		resp.CompletionTokens = int(result.UsageMetadata.CandidatesTokenCount)
	}
	return resp, nil
}

// Stream implements llm.Client. The quality tier is consumed whole, so this
// delivers the full completion as a single chunk.
func (g *Client) Stream(ctx context.Context, in llm.Request) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 1)
	go func() {
		defer close(ch)
		resp, err := g.Complete(ctx, in)
		if err != nil {
			ch <- llm.StreamChunk{Error: err}
			return
		}
		ch <- llm.StreamChunk{Content: resp.Content, Done: true}
	}()
	return ch, nil
}

// ModelName implements llm.Client.
func (g *Client) ModelName() string { return g.model }

// ContextLength implements llm.Client.
func (g *Client) ContextLength() int { return g.ctxLength }

// convertMessages maps conversation messages to Gemini contents. System
// messages become the system instruction; assistant turns use the "model"
// role per the Gemini API.
func convertMessages(messages []llm.Message) ([]*genai.Content, string) {
	var systemInstruction string
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			if systemInstruction != "" {
				systemInstruction += "\n\n"
			}
			systemInstruction += msg.Content
		case llm.RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}
	return contents, systemInstruction
}
