// Package ollama implements the fast inference tier against a local
// Ollama server.
package ollama

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"aide/pkg/llm"
)

const defaultHost = "http://localhost:11434"

// Client talks to an Ollama server over its native chat API.
type Client struct {
	client    *api.Client
	models    *llm.ModelCache
	model     string
	ctxLength int
}

// New creates a raw Ollama client (middleware is applied at a higher level).
// hostURL is the server URL, e.g. "http://localhost:11434".
func New(hostURL, model string, contextLength int) *Client {
	parsedURL, err := url.Parse(hostURL)
	if err != nil || parsedURL.Scheme == "" {
		// Fall back to the default if the URL is unusable.
		parsedURL, _ = url.Parse(defaultHost)
	}

	c := &Client{
		client:    api.NewClient(parsedURL, http.DefaultClient),
		model:     model,
		ctxLength: contextLength,
	}
	c.models = llm.NewModelCache(c.lookupModel)
	return c
}

// lookupModel canonicalizes the configured model name against the server's
// local tag list, so "llama3.2" addresses the same model as
// "llama3.2:latest". Names the server does not list pass through unchanged
// and fail at chat time with the server's own error.
func (o *Client) lookupModel(name string) (string, error) {
	list, err := o.client.List(context.Background())
	if err != nil {
		return "", err
	}
	for _, m := range list.Models {
		if m.Name == name || strings.TrimSuffix(m.Name, ":latest") == name {
			return m.Name, nil
		}
	}
	return name, nil
}

// Complete implements llm.Client.
func (o *Client) Complete(ctx context.Context, in llm.Request) (llm.Response, error) {
	model, err := o.models.Resolve(o.model)
	if err != nil {
		return llm.Response{}, llm.Classify(err)
	}

	stream := false
	req := &api.ChatRequest{
		Model:    model,
		Messages: convertMessages(in.Messages),
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}

	var response api.ChatResponse
	err = o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.Response{}, llm.Classify(err)
	}

	if response.Message.Content == "" {
		return llm.Response{}, llm.NewError(llm.ErrorTypeEmptyResponse, "ollama returned no content")
	}

	return llm.Response{
		Content:          response.Message.Content,
		PromptTokens:     response.PromptEvalCount,
		CompletionTokens: response.EvalCount,
	}, nil
}

// Stream implements llm.Client with true incremental delivery; the fast
// tier uses this to start speaking before the model finishes.
func (o *Client) Stream(ctx context.Context, in llm.Request) (<-chan llm.StreamChunk, error) {
	model, err := o.models.Resolve(o.model)
	if err != nil {
		return nil, llm.Classify(err)
	}

	stream := true
	req := &api.ChatRequest{
		Model:    model,
		Messages: convertMessages(in.Messages),
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}

	ch := make(chan llm.StreamChunk, 16)
	go func() {
		defer close(ch)
		err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			select {
			case ch <- llm.StreamChunk{Content: resp.Message.Content, Done: resp.Done}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			select {
			case ch <- llm.StreamChunk{Error: llm.Classify(err)}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

// ModelName implements llm.Client.
func (o *Client) ModelName() string { return o.model }

// ContextLength implements llm.Client.
func (o *Client) ContextLength() int { return o.ctxLength }

func convertMessages(messages []llm.Message) []api.Message {
	result := make([]api.Message, 0, len(messages))
	for _, msg := range messages {
		result = append(result, api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return result
}
