package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	foxaiDefaultBaseURL = "https://api.foxaihub.com/api/v2/diffusion"
	foxaiPollInterval   = 10 * time.Second
	foxaiMaxPolls       = 36
	foxaiSubmitTimeout  = 60 * time.Second
	foxaiStatusTimeout  = 80 * time.Second
)

// FoxAIMusic talks to the FoxAIHub diffusion API (Suno v4 class backend).
type FoxAIMusic struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewFoxAIMusic creates a FoxAIHub music provider.
func NewFoxAIMusic(apiKey, baseURL string) *FoxAIMusic {
	if baseURL == "" {
		baseURL = foxaiDefaultBaseURL
	}
	return &FoxAIMusic{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: foxaiStatusTimeout},
	}
}

// Name returns the provider name
func (p *FoxAIMusic) Name() string { return "foxai" }

// PollInterval returns the delay between status polls
func (p *FoxAIMusic) PollInterval() time.Duration { return foxaiPollInterval }

// MaxPolls returns the poll budget for one job
func (p *FoxAIMusic) MaxPolls() int { return foxaiMaxPolls }

type foxaiCondition struct {
	Lyrics         string  `json:"lyrics,omitempty"`
	Prompt         string  `json:"prompt,omitempty"`
	Strength       float64 `json:"strength"`
	ConditionStart int     `json:"condition_start"`
	ConditionEnd   int     `json:"condition_end"`
}

type foxaiSubmitRequest struct {
	Title      string           `json:"title"`
	Conditions []foxaiCondition `json:"conditions"`
}

type foxaiSubmitResponse struct {
	Success bool   `json:"success"`
	TaskID  string `json:"task_id"`
}

type foxaiTaskItem struct {
	Status string          `json:"status"`
	State  string          `json:"state"`
	Data   json.RawMessage `json:"data"`
	Result json.RawMessage `json:"result"`
}

// Submit starts a generation job.
func (p *FoxAIMusic) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if p.apiKey == "" {
		return "", NewProviderError("foxai", ErrorCodeMissingKey, "FOXAIHUB_API_KEY not set", nil)
	}

	lyrics := req.Lyrics
	if lyrics == "" {
		lyrics = "[Instrumental]"
	}
	prompt := req.StylePrompt
	if prompt == "" {
		prompt = "emotional modern pop, cinematic vibe"
	}
	if req.NegativePrompt != "" {
		prompt = strings.TrimSpace(prompt) + " | avoid: " + strings.TrimSpace(req.NegativePrompt)
	}

	body := foxaiSubmitRequest{
		Title: req.Title,
		Conditions: []foxaiCondition{
			{Lyrics: lyrics, Strength: 0.5, ConditionStart: 0, ConditionEnd: 1},
			{Prompt: prompt, Strength: 0.5, ConditionStart: 0, ConditionEnd: 1},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, foxaiSubmitTimeout)
	defer cancel()

	raw, err := p.doJSON(ctx, http.MethodPost, "/task", body)
	if err != nil {
		return "", err
	}

	var resp foxaiSubmitResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", NewProviderError("foxai", ErrorCodeBadResponse, "non-JSON submit response", err)
	}
	if !resp.Success {
		return "", NewProviderError("foxai", ErrorCodeServerError, "generation submit rejected", nil)
	}
	if resp.TaskID == "" {
		return "", NewProviderError("foxai", ErrorCodeNoTaskID, "no task_id in response", nil)
	}

	log.Printf("foxai: task created %s", resp.TaskID)
	return resp.TaskID, nil
}

// CheckStatus polls a task.
func (p *FoxAIMusic) CheckStatus(ctx context.Context, taskID string) (*Status, error) {
	if p.apiKey == "" {
		return nil, NewProviderError("foxai", ErrorCodeMissingKey, "FOXAIHUB_API_KEY not set", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, foxaiStatusTimeout)
	defer cancel()

	raw, err := p.doJSON(ctx, http.MethodGet, "/task?ids="+taskID, nil)
	if err != nil {
		return nil, err
	}

	return parseFoxAIStatus(taskID, raw)
}

func parseFoxAIStatus(taskID string, raw []byte) (*Status, error) {
	item, err := foxaiRootItem(raw)
	if err != nil {
		return nil, err
	}

	state := strings.ToLower(strings.TrimSpace(firstNonEmpty(item.Status, item.State)))
	tracks := collectFoxAITracks(raw)

	switch {
	case len(tracks) > 0:
		// FoxAI sometimes publishes audio links before flipping the status.
		if !completeStates[state] {
			log.Printf("foxai: early links for task %s while status=%s", taskID, state)
		}
		return &Status{Kind: StatusReady, State: state, Tracks: tracks}, nil
	case pendingStates[state]:
		return &Status{Kind: StatusPending, State: state}, nil
	case completeStates[state]:
		// Completed with no audio links anywhere in the payload.
		log.Printf("foxai: completed but no audio urls for task %s", taskID)
		return &Status{Kind: StatusReady, State: state}, nil
	case hasFailureMarker(state):
		return &Status{Kind: StatusFailed, State: state}, nil
	default:
		log.Printf("foxai: unknown non-terminal status %q for task %s, treating as pending", state, taskID)
		if state == "" {
			state = "pending"
		}
		return &Status{Kind: StatusPending, State: state}, nil
	}
}

// foxaiRootItem unwraps the list-or-object response shapes of the task query.
func foxaiRootItem(raw []byte) (*foxaiTaskItem, error) {
	var list []foxaiTaskItem
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return nil, NewProviderError("foxai", ErrorCodeBadResponse, "empty task list", nil)
		}
		return &list[0], nil
	}

	var wrapped struct {
		Item *foxaiTaskItem  `json:"item"`
		Data json.RawMessage `json:"data"`
		foxaiTaskItem
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, NewProviderError("foxai", ErrorCodeBadResponse, "non-JSON status response", err)
	}
	if wrapped.Item != nil {
		return wrapped.Item, nil
	}
	if len(wrapped.Data) > 0 && wrapped.Data[0] == '{' {
		var inner foxaiTaskItem
		if err := json.Unmarshal(wrapped.Data, &inner); err == nil {
			if inner.Status != "" || inner.State != "" || len(inner.Data) > 0 {
				return &inner, nil
			}
		}
	}
	return &wrapped.foxaiTaskItem, nil
}

// collectFoxAITracks walks the whole response for anything that looks like an
// audio link. FoxAI has shipped several layouts; scanning generically keeps
// all of them working.
func collectFoxAITracks(raw []byte) []Track {
	var root any
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil
	}

	audioKeys := []string{"audio_url", "audio", "audioMp3", "audio_mp3", "mp3_url", "url", "download_url", "file", "file_url"}
	imageKeys := []string{"image_url", "cover_url", "image", "cover"}
	titleKeys := []string{"title", "name"}

	seen := make(map[string]bool)
	var tracks []Track

	stack := []any{root}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch node := cur.(type) {
		case map[string]any:
			audio := firstHTTPString(node, audioKeys)
			if audio != "" && !seen[audio] {
				seen[audio] = true
				title := "Track"
				for _, k := range titleKeys {
					if s, ok := node[k].(string); ok && strings.TrimSpace(s) != "" {
						title = strings.TrimSpace(s)
						break
					}
				}
				tracks = append(tracks, Track{
					Title:    title,
					AudioURL: audio,
					ImageURL: firstHTTPString(node, imageKeys),
				})
			}
			for _, v := range node {
				switch v.(type) {
				case map[string]any, []any:
					stack = append(stack, v)
				}
			}
		case []any:
			stack = append(stack, node...)
		}
	}

	return tracks
}

func firstHTTPString(node map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := node[k].(string); ok && strings.HasPrefix(s, "http") {
			return s
		}
	}
	return ""
}

func (p *FoxAIMusic) doJSON(ctx context.Context, method, endpoint string, reqBody any) ([]byte, error) {
	var reader io.Reader
	if reqBody != nil {
		body, err := json.Marshal(reqBody)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("api-key", p.apiKey)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, classifyTransportError("foxai", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewProviderError("foxai", ErrorCodeTimeout, err.Error(), err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, httpStatusError("foxai", resp.StatusCode, raw)
	}

	return raw, nil
}
