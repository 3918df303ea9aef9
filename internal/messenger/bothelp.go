package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"time"
)

const (
	sendMaxAttempts = 3
	sendTimeout     = 60 * time.Second
	uploadTimeout   = 120 * time.Second
)

// BotHelp talks to the BotHelp messaging API. All sends retry up to three
// times with exponential backoff capped at 8 seconds; a 401/403 forces a
// token refresh before the next attempt.
type BotHelp struct {
	apiURL string
	tokens *tokenSource
	client *http.Client
}

// BotHelpConfig carries the credentials and endpoints for the platform.
type BotHelpConfig struct {
	APIURL       string
	OAuthURL     string
	ClientID     string
	ClientSecret string
}

func NewBotHelp(cfg BotHelpConfig) *BotHelp {
	client := &http.Client{}
	return &BotHelp{
		apiURL: cfg.APIURL,
		tokens: newTokenSource(cfg.OAuthURL, cfg.ClientID, cfg.ClientSecret, client),
		client: client,
	}
}

// Prefetch warms the token cache at boot so the first delivery does not pay
// the oauth round trip. Failure is logged, not fatal.
func (b *BotHelp) Prefetch(ctx context.Context) {
	if _, err := b.tokens.Token(ctx, false); err != nil {
		log.Printf("messenger: token prefetch failed: %v", err)
	}
}

func (b *BotHelp) SendText(ctx context.Context, userID, text string) error {
	payload := map[string]any{
		"cuid": userID,
		"text": text,
	}
	return b.sendMessage(ctx, payload)
}

func (b *BotHelp) SendAttachment(ctx context.Context, userID, attachmentID, caption string) error {
	payload := map[string]any{
		"cuid": userID,
		"text": caption,
		"attachments": []map[string]any{
			{"type": "audio", "id": attachmentID},
		},
	}
	return b.sendMessage(ctx, payload)
}

// sendMessage posts a message payload with retry. Retryable outcomes are
// transport errors, 5xx and 429; 401/403 also retry but with a forced token
// refresh first. Other 4xx fail immediately.
func (b *BotHelp) sendMessage(ctx context.Context, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	force := false
	var lastErr error
	for attempt := 1; attempt <= sendMaxAttempts; attempt++ {
		status, err := b.postMessage(ctx, body, force)
		if err == nil {
			return nil
		}
		lastErr = err
		force = status == http.StatusUnauthorized || status == http.StatusForbidden

		retryable := force || status == 0 || status == http.StatusTooManyRequests || status >= 500
		if !retryable || attempt == sendMaxAttempts {
			break
		}

		delay := backoff(attempt)
		log.Printf("messenger: send attempt %d failed (%v), retrying in %s", attempt, err, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("messenger send: %w", lastErr)
}

// postMessage does one attempt. status is 0 on transport failure.
func (b *BotHelp) postMessage(ctx context.Context, body []byte, forceToken bool) (int, error) {
	token, err := b.tokens.Token(ctx, forceToken)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, nil
	}
	return resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(respBody), 300))
}

// UploadAudio re-hosts audio via multipart upload and returns the attachment
// id the platform assigned. Uploads are retried like sends.
func (b *BotHelp) UploadAudio(ctx context.Context, data []byte, filename string) (string, error) {
	force := false
	var lastErr error
	for attempt := 1; attempt <= sendMaxAttempts; attempt++ {
		id, status, err := b.uploadOnce(ctx, data, filename, force)
		if err == nil {
			return id, nil
		}
		lastErr = err
		force = status == http.StatusUnauthorized || status == http.StatusForbidden

		retryable := force || status == 0 || status == http.StatusTooManyRequests || status >= 500
		if !retryable || attempt == sendMaxAttempts {
			break
		}

		delay := backoff(attempt)
		log.Printf("messenger: upload attempt %d failed (%v), retrying in %s", attempt, err, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("messenger upload: %w", lastErr)
}

func (b *BotHelp) uploadOnce(ctx context.Context, data []byte, filename string, forceToken bool) (string, int, error) {
	token, err := b.tokens.Token(ctx, forceToken)
	if err != nil {
		return "", 0, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", 0, err
	}
	if _, err := part.Write(data); err != nil {
		return "", 0, err
	}
	if err := mw.Close(); err != nil {
		return "", 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiURL+"/attachments", &buf)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := b.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 300))
	}

	var j struct {
		ID   string `json:"id"`
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &j); err != nil {
		return "", resp.StatusCode, fmt.Errorf("attachment response: %w", err)
	}
	id := j.ID
	if id == "" {
		id = j.Data.ID
	}
	if id == "" {
		return "", resp.StatusCode, fmt.Errorf("attachment response missing id: %s", truncate(string(body), 300))
	}
	return id, resp.StatusCode, nil
}

// backoff returns min(2^attempt, 8s).
func backoff(attempt int) time.Duration {
	d := time.Duration(1<<attempt) * time.Second
	if d > 8*time.Second {
		d = 8 * time.Second
	}
	return d
}
