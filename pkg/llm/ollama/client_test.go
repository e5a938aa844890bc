package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aide/pkg/llm"
)

func TestNewFallsBackOnBadHost(t *testing.T) {
	c := New("not a url", "qwen2.5:3b", 8192)
	assert.Equal(t, "qwen2.5:3b", c.ModelName())
	assert.Equal(t, 8192, c.ContextLength())
}

func TestConvertMessages(t *testing.T) {
	msgs := convertMessages([]llm.Message{
		llm.NewSystemMessage("be brief"),
		llm.NewUserMessage("hello"),
		{Role: llm.RoleAssistant, Content: "hi"},
	})

	assert.Len(t, msgs, 3)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "be brief", msgs[0].Content)
	assert.Equal(t, "user", msgs[1].Role)
	assert.Equal(t, "assistant", msgs[2].Role)
}

func TestCompleteResolvesModelAliasOnce(t *testing.T) {
	var mu sync.Mutex
	tagCalls := 0
	var chatModels []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			mu.Lock()
			tagCalls++
			mu.Unlock()
			fmt.Fprint(w, `{"models":[{"name":"llama3.2:latest"}]}`)
		case "/api/chat":
			var req api.ChatRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			mu.Lock()
			chatModels = append(chatModels, req.Model)
			mu.Unlock()
			fmt.Fprint(w, `{"model":"llama3.2:latest","created_at":"2024-01-01T00:00:00Z",`+
				`"message":{"role":"assistant","content":"pong"},"done":true,`+
				`"prompt_eval_count":3,"eval_count":2}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3.2", 8192)
	for range 2 {
		resp, err := c.Complete(context.Background(), llm.Request{
			Messages: []llm.Message{llm.NewUserMessage("ping")},
		})
		require.NoError(t, err)
		assert.Equal(t, "pong", resp.Content)
	}

	mu.Lock()
	defer mu.Unlock()
	// The tag list is consulted once; both chats address the canonical tag.
	assert.Equal(t, 1, tagCalls)
	assert.Equal(t, []string{"llama3.2:latest", "llama3.2:latest"}, chatModels)
}
