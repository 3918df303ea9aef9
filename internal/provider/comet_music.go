package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	cometDefaultBaseURL = "https://api.cometapi.com"
	cometPollInterval   = 10 * time.Second
	cometMaxPolls       = 36 // ~6 minutes at the poll interval
	cometSubmitTimeout  = 60 * time.Second
	cometStatusTimeout  = 80 * time.Second
	cometMaxTagsLen     = 450
	cometQualityMarker  = "high quality song"
)

// CometMusic submits Suno-style jobs through the Comet API.
type CometMusic struct {
	apiKey       string
	baseURL      string
	modelVersion string
	client       *http.Client
}

// NewCometMusic creates a Comet music provider. modelVersion is the default
// generation variant used when a request carries none.
func NewCometMusic(apiKey, baseURL, modelVersion string) *CometMusic {
	if baseURL == "" {
		baseURL = cometDefaultBaseURL
	}
	return &CometMusic{
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		modelVersion: modelVersion,
		client:       &http.Client{Timeout: cometStatusTimeout},
	}
}

// Name returns the provider name
func (p *CometMusic) Name() string { return "comet" }

// PollInterval returns the delay between status polls
func (p *CometMusic) PollInterval() time.Duration { return cometPollInterval }

// MaxPolls returns the poll budget for one job
func (p *CometMusic) MaxPolls() int { return cometMaxPolls }

type cometSubmitRequest struct {
	Prompt       string `json:"prompt"`
	ModelVersion string `json:"mv"`
	Title        string `json:"title"`
	Tags         string `json:"tags"`
	NegativeTags string `json:"negative_tags"`
}

// cometEnvelope is the common {code, data} wrapper; data's shape varies per
// endpoint, so it is parsed lazily.
type cometEnvelope struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

type cometClip struct {
	ID            string  `json:"id"`
	ClipID        string  `json:"clip_id"`
	Status        string  `json:"status"`
	State         string  `json:"state"`
	Title         string  `json:"title"`
	DisplayName   string  `json:"display_name"`
	AudioURL      string  `json:"audio_url"`
	AudioURLMP3   string  `json:"audio_url_mp3"`
	MP3URL        string  `json:"mp3_url"`
	URL           string  `json:"url"`
	ImageURL      string  `json:"image_url"`
	ImageLargeURL string  `json:"image_large_url"`
	Duration      float64 `json:"duration"`
	Metadata      struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
}

type cometFetchData struct {
	Status     string          `json:"status"`
	State      string          `json:"state"`
	TaskStatus string          `json:"task_status"`
	Data       json.RawMessage `json:"data"`
}

// cleanTags strips the mandatory quality tail the lyrics prompt appends and
// caps the tag string at Comet's limit.
func cleanTags(stylePrompt string) string {
	tags := stylePrompt
	if i := strings.Index(tags, cometQualityMarker); i >= 0 {
		tags = tags[:i]
	}
	tags = strings.TrimSpace(tags)
	if len(tags) > cometMaxTagsLen {
		log.Printf("comet: tags too long (%d), truncating to %d", len(tags), cometMaxTagsLen)
		tags = strings.TrimRight(tags[:cometMaxTagsLen], " ")
	}
	return tags
}

// Submit starts a generation job and returns the Comet task id.
func (p *CometMusic) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if p.apiKey == "" {
		return "", NewProviderError("comet", ErrorCodeMissingKey, "COMET_API_KEY not set", nil)
	}

	mv := req.ModelVersion
	if mv == "" {
		mv = p.modelVersion
	}

	body := cometSubmitRequest{
		Prompt:       req.Lyrics,
		ModelVersion: mv,
		Title:        req.Title,
		Tags:         cleanTags(req.StylePrompt),
		NegativeTags: req.NegativePrompt,
	}

	ctx, cancel := context.WithTimeout(ctx, cometSubmitTimeout)
	defer cancel()

	raw, err := p.doJSON(ctx, http.MethodPost, "/suno/submit/music", body)
	if err != nil {
		return "", err
	}

	taskID, err := parseCometTaskID(raw)
	if err != nil {
		return "", err
	}

	log.Printf("comet: task created %s (mv=%s)", taskID, mv)
	return taskID, nil
}

// parseCometTaskID handles the three submit response shapes Comet has been
// seen returning: a bare JSON string, {"data": "<id>"} and
// {"data": {"task_id": ...}} (or top-level task_id/id).
func parseCometTaskID(raw []byte) (string, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		id := strings.TrimSpace(strings.Trim(asString, `"`))
		if id == "" {
			return "", NewProviderError("comet", ErrorCodeNoTaskID, "empty string response", nil)
		}
		return id, nil
	}

	var obj struct {
		Data   json.RawMessage `json:"data"`
		TaskID string          `json:"task_id"`
		ID     string          `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", NewProviderError("comet", ErrorCodeBadResponse, "unexpected submit response shape", err)
	}

	if len(obj.Data) > 0 {
		var dataStr string
		if err := json.Unmarshal(obj.Data, &dataStr); err == nil && strings.TrimSpace(dataStr) != "" {
			return strings.TrimSpace(dataStr), nil
		}
		var dataObj struct {
			TaskID string `json:"task_id"`
			ID     string `json:"id"`
		}
		if err := json.Unmarshal(obj.Data, &dataObj); err == nil {
			if dataObj.TaskID != "" {
				return dataObj.TaskID, nil
			}
			if dataObj.ID != "" {
				return dataObj.ID, nil
			}
		}
	}

	if obj.TaskID != "" {
		return obj.TaskID, nil
	}
	if obj.ID != "" {
		return obj.ID, nil
	}

	return "", NewProviderError("comet", ErrorCodeNoTaskID, "no task_id in response", nil)
}

// CheckStatus polls a task.
func (p *CometMusic) CheckStatus(ctx context.Context, taskID string) (*Status, error) {
	if p.apiKey == "" {
		return nil, NewProviderError("comet", ErrorCodeMissingKey, "COMET_API_KEY not set", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, cometStatusTimeout)
	defer cancel()

	raw, err := p.doJSON(ctx, http.MethodGet, "/suno/fetch/"+taskID, nil)
	if err != nil {
		return nil, err
	}

	return parseCometStatus(taskID, raw)
}

func parseCometStatus(taskID string, raw []byte) (*Status, error) {
	root := raw
	var env cometEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 && env.Data[0] == '{' {
		root = env.Data
	}

	var data cometFetchData
	if err := json.Unmarshal(root, &data); err != nil {
		return nil, NewProviderError("comet", ErrorCodeBadResponse, "non-object status response", err)
	}

	state := strings.ToLower(strings.TrimSpace(firstNonEmpty(data.Status, data.State, data.TaskStatus)))

	var clips []cometClip
	if len(data.Data) > 0 {
		// Clip list may be nested under data or the root itself may be a list.
		_ = json.Unmarshal(data.Data, &clips)
	}
	if clips == nil {
		_ = json.Unmarshal(root, &clips)
	}

	tracks := make([]Track, 0, len(clips))
	anyComplete := false
	for _, c := range clips {
		clipState := strings.ToLower(strings.TrimSpace(firstNonEmpty(c.Status, c.State)))
		audio := firstNonEmpty(c.AudioURL, c.AudioURLMP3, c.MP3URL, c.URL)
		dur := c.Duration
		if dur == 0 {
			dur = c.Metadata.Duration
		}
		if audio != "" && (completeStates[clipState] || clipState == "") {
			anyComplete = true
		}
		tracks = append(tracks, Track{
			Title:    firstNonEmpty(c.Title, c.DisplayName, "Track"),
			AudioURL: audio,
			ImageURL: firstNonEmpty(c.ImageURL, c.ImageLargeURL),
			Duration: dur,
			ClipID:   firstNonEmpty(c.ClipID, c.ID),
		})
	}

	ready := false
	if completeStates[state] {
		for _, t := range tracks {
			if t.AudioURL != "" {
				ready = true
				break
			}
		}
	}
	if !ready && anyComplete {
		ready = true
	}

	switch {
	case ready && len(tracks) > 0:
		if state == "" {
			state = "success"
		}
		return &Status{Kind: StatusReady, State: state, Tracks: tracks}, nil
	case pendingStates[state] || (state == "" && len(tracks) == 0):
		if state == "" {
			state = "pending"
		}
		return &Status{Kind: StatusPending, State: state, Tracks: tracks}, nil
	case hasFailureMarker(state):
		return &Status{Kind: StatusFailed, State: state, Tracks: tracks}, nil
	default:
		// Unknown non-terminal status: keep polling rather than guess it failed.
		log.Printf("comet: unknown non-terminal status %q for task %s, treating as pending", state, taskID)
		return &Status{Kind: StatusPending, State: state, Tracks: tracks}, nil
	}
}

func (p *CometMusic) doJSON(ctx context.Context, method, endpoint string, reqBody any) ([]byte, error) {
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
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, classifyTransportError("comet", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewProviderError("comet", ErrorCodeTimeout, err.Error(), err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, httpStatusError("comet", resp.StatusCode, raw)
	}

	return raw, nil
}

// classifyTransportError maps transport-level failures onto the soft error
// codes the polling engine retries on.
func classifyTransportError(name string, err error) *ProviderError {
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		return NewProviderError(name, ErrorCodeTimeout, err.Error(), err)
	}
	return NewProviderError(name, ErrorCodeServerError, err.Error(), err)
}

func httpStatusError(name string, status int, body []byte) *ProviderError {
	msg := fmt.Sprintf("http %d: %s", status, truncate(string(body), 500))
	code := ErrorCodeUnknown
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = ErrorCodeAuthentication
	case status == http.StatusTooManyRequests:
		code = ErrorCodeRateLimit
	case status == http.StatusBadRequest:
		code = ErrorCodeInvalidRequest
	case status >= 500:
		code = ErrorCodeServerError
	}
	return NewProviderError(name, code, msg, nil)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
