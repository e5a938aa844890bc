// Package llm defines the inference tier contract and the resilience
// middleware (retry, circuit breaker, quota tracking) shared by all
// provider clients.
//
// Provider implementations live in subpackages (ollama, anthropic, openai,
// gemini); everything above them programs against Client.
package llm

import (
	"context"
	"fmt"

	"aide/pkg/proto"
)

// Role identifies who authored a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation message.
type Message struct {
	Role    Role
	Content string
}

// Request describes one completion call. MaxTokens and the context deadline
// carry the tier's QoS parameters. SessionID is a telemetry label only and
// never reaches the provider.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float32
	SessionID   string
}

// Response is a provider-neutral completion result.
type Response struct {
	Content string
	// Token accounting for quota tracking; zero when a provider does not
	// report usage.
	PromptTokens     int
	CompletionTokens int
}

// StreamChunk is one piece of a streamed completion. Consumers must drain
// the channel or cancel the context to release the underlying connection.
type StreamChunk struct {
	Error   error
	Content string
	Done    bool
}

// Client is the inference tier contract.
type Client interface {
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, req Request) (Response, error)

	// Stream generates a completion as a stream of chunks.
	Stream(ctx context.Context, req Request) (<-chan StreamChunk, error)

	// ModelName reports the configured model identifier.
	ModelName() string

	// ContextLength reports the model context window used to size prompts.
	ContextLength() int
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// CompleteJSON runs a completion and extracts the single JSON object from
// the reply. The schemaHint is appended to the final user message so weaker
// models keep the shape in view.
func CompleteJSON(ctx context.Context, client Client, req Request, schemaHint string) (map[string]any, error) {
	if schemaHint != "" && len(req.Messages) > 0 {
		last := req.Messages[len(req.Messages)-1]
		if last.Role == RoleUser {
			messages := make([]Message, len(req.Messages))
			copy(messages, req.Messages)
			messages[len(messages)-1].Content = last.Content + "\n\nRespond with a single JSON object only. Shape:\n" + schemaHint
			req.Messages = messages
		}
	}

	resp, err := client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	obj, _, perr := proto.ExtractObject(resp.Content)
	if perr != nil {
		return nil, fmt.Errorf("completion did not contain a JSON object: %w", perr)
	}
	return obj, nil
}

// DrainStream consumes a stream to completion and concatenates its content.
// It returns early on the first chunk error or context cancellation, which
// also releases the stream.
func DrainStream(ctx context.Context, stream <-chan StreamChunk) (string, error) {
	var content string
	for {
		select {
		case <-ctx.Done():
			return content, ctx.Err()
		case chunk, ok := <-stream:
			if !ok {
				return content, nil
			}
			if chunk.Error != nil {
				return content, chunk.Error
			}
			content += chunk.Content
			if chunk.Done {
				return content, nil
			}
		}
	}
}
