package gemini

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"aide/pkg/llm"
)

func TestConvertMessagesUsesModelRole(t *testing.T) {
	contents, system := convertMessages([]llm.Message{
		llm.NewSystemMessage("be brief"),
		llm.NewUserMessage("hello"),
		{Role: llm.RoleAssistant, Content: "hi"},
	})

	assert.Equal(t, "be brief", system)
	assert.Len(t, contents, 2)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	assert.Equal(t, "hi", contents[1].Parts[0].Text)
}

func TestConcurrentFirstUseSharesOneClient(t *testing.T) {
	c := New("test-key", "gemini-2.0-flash", 1_000_000)

	const callers = 8
	clients := make([]*genai.Client, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clients[i], errs[i] = c.api(context.Background())
		}()
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		require.NotNil(t, clients[i])
		assert.Same(t, clients[0], clients[i])
	}
}
