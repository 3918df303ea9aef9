package provider

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatStub struct {
	resp openai.ChatCompletionResponse
	err  error

	gotModel  string
	gotSystem string
	gotUser   string
}

func (c *chatStub) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	c.gotModel = req.Model
	if len(req.Messages) == 2 {
		c.gotSystem = req.Messages[0].Content
		c.gotUser = req.Messages[1].Content
	}
	return c.resp, c.err
}

func chatAnswer(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestOpenAILLM_Generate(t *testing.T) {
	stub := &chatStub{resp: chatAnswer("  answer text  ")}
	llm := NewOpenAILLMFromClient(stub, "gpt-4.1")

	got, err := llm.Generate(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "answer text", got, "answer is trimmed")
	assert.Equal(t, "gpt-4.1", stub.gotModel)
	assert.Equal(t, "system", stub.gotSystem)
	assert.Equal(t, "user", stub.gotUser)
	assert.Equal(t, "gpt-4.1", llm.Name())
}

func TestOpenAILLM_APIError(t *testing.T) {
	stub := &chatStub{err: errors.New("quota exceeded")}
	llm := NewOpenAILLMFromClient(stub, "gpt-4.1")

	_, err := llm.Generate(context.Background(), "s", "u")
	require.Error(t, err)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrorCodeServerError, pe.Code)
}

func TestOpenAILLM_EmptyAnswers(t *testing.T) {
	t.Run("no choices", func(t *testing.T) {
		llm := NewOpenAILLMFromClient(&chatStub{}, "gpt-4.1")
		_, err := llm.Generate(context.Background(), "s", "u")
		var pe *ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, ErrorCodeBadResponse, pe.Code)
	})

	t.Run("blank content", func(t *testing.T) {
		llm := NewOpenAILLMFromClient(&chatStub{resp: chatAnswer("   ")}, "gpt-4.1")
		_, err := llm.Generate(context.Background(), "s", "u")
		var pe *ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, ErrorCodeBadResponse, pe.Code)
	})
}
