package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"aide/pkg/llm"
)

func TestConvertMessagesExtractsSystemPrompt(t *testing.T) {
	msgs, system := convertMessages([]llm.Message{
		llm.NewSystemMessage("you are an assistant"),
		llm.NewSystemMessage("answer in Turkish"),
		llm.NewUserMessage("merhaba"),
		{Role: llm.RoleAssistant, Content: "merhaba, nasıl yardımcı olabilirim?"},
	})

	assert.Equal(t, "you are an assistant\n\nanswer in Turkish", system)
	assert.Len(t, msgs, 2)
}

func TestModelName(t *testing.T) {
	c := New("test-key", "claude-sonnet-4-20250514", 200000)
	assert.Equal(t, "claude-sonnet-4-20250514", c.ModelName())
	assert.Equal(t, 200000, c.ContextLength())
}
