package provider

import (
	"context"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const openaiLLMTimeout = 80 * time.Second

// openaiChatClient is the subset of the OpenAI SDK the provider needs,
// narrowed for testability.
type openaiChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAILLM generates text through the OpenAI chat completions API.
type OpenAILLM struct {
	client openaiChatClient
	model  string
}

// NewOpenAILLM creates an OpenAI LLM provider for a fixed model.
func NewOpenAILLM(apiKey, model string) *OpenAILLM {
	return &OpenAILLM{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// NewOpenAILLMFromClient wires a custom client (tests).
func NewOpenAILLMFromClient(client openaiChatClient, model string) *OpenAILLM {
	return &OpenAILLM{client: client, model: model}
}

// Name identifies the backend and model
func (p *OpenAILLM) Name() string { return p.model }

// Generate returns the raw model answer.
func (p *OpenAILLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, openaiLLMTimeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		MaxCompletionTokens: 2000,
	})
	if err != nil {
		return "", NewProviderError("openai", ErrorCodeServerError, err.Error(), err)
	}

	if len(resp.Choices) == 0 {
		return "", NewProviderError("openai", ErrorCodeBadResponse, "empty choices", nil)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", NewProviderError("openai", ErrorCodeBadResponse, "no content in first choice", nil)
	}

	return content, nil
}
