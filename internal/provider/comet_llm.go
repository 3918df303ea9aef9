package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

const cometLLMTimeout = 80 * time.Second

// CometLLM generates text through Comet's OpenAI-compatible chat endpoint.
type CometLLM struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewCometLLM creates a Comet LLM provider for a fixed model.
func NewCometLLM(apiKey, baseURL, model string) *CometLLM {
	if baseURL == "" {
		baseURL = cometDefaultBaseURL
	}
	return &CometLLM{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: cometLLMTimeout},
	}
}

// Name identifies the backend and model
func (p *CometLLM) Name() string { return p.model + "@comet" }

type cometChatRequest struct {
	Model    string            `json:"model"`
	Messages []cometChatMessage `json:"messages"`
}

type cometChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type cometChatResponse struct {
	Choices []struct {
		Message cometChatMessage `json:"message"`
	} `json:"choices"`
}

// Generate returns the raw model answer.
func (p *CometLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if p.apiKey == "" {
		return "", NewProviderError("comet", ErrorCodeMissingKey, "COMET_API_KEY not set", nil)
	}

	body, err := json.Marshal(cometChatRequest{
		Model: p.model,
		Messages: []cometChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, cometLLMTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", classifyTransportError("comet", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", httpStatusError("comet", resp.StatusCode, nil)
	}

	var chat cometChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return "", NewProviderError("comet", ErrorCodeBadResponse, "non-JSON chat response", err)
	}

	if len(chat.Choices) == 0 {
		return "", NewProviderError("comet", ErrorCodeBadResponse, "empty choices", nil)
	}
	content := strings.TrimSpace(chat.Choices[0].Message.Content)
	if content == "" {
		return "", NewProviderError("comet", ErrorCodeBadResponse, "no content in first choice", nil)
	}

	return content, nil
}
