package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/songbot-dev/songbot/internal/textutil"
)

const tokenEarlyRefresh = 30 * time.Second

// ErrNoToken is returned when a bearer token could not be obtained.
var ErrNoToken = errors.New("no valid platform token")

// tokenSource caches the OAuth client-credentials token for the platform.
// The token is refreshed proactively 30 seconds before expiry and reactively
// when a call comes back 401/403. Concurrent refreshes collapse into one
// request; a stale duplicate refresh is harmless.
type tokenSource struct {
	oauthURL     string
	clientID     string
	clientSecret string
	client       *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	group singleflight.Group
}

func newTokenSource(oauthURL, clientID, clientSecret string, client *http.Client) *tokenSource {
	return &tokenSource{
		oauthURL:     oauthURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		client:       client,
	}
}

// Token returns a bearer token, fetching a fresh one if the cached token is
// missing or within the early-refresh window. force drops the cache first.
func (ts *tokenSource) Token(ctx context.Context, force bool) (string, error) {
	ts.mu.Lock()
	if !force && ts.token != "" && time.Now().Before(ts.expiresAt.Add(-tokenEarlyRefresh)) {
		tok := ts.token
		ts.mu.Unlock()
		return tok, nil
	}
	ts.mu.Unlock()

	v, err, _ := ts.group.Do("token", func() (any, error) {
		// Another caller may have refreshed while we queued.
		ts.mu.Lock()
		if !force && ts.token != "" && time.Now().Before(ts.expiresAt.Add(-tokenEarlyRefresh)) {
			tok := ts.token
			ts.mu.Unlock()
			return tok, nil
		}
		ts.mu.Unlock()

		return ts.fetch(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (ts *tokenSource) fetch(ctx context.Context) (string, error) {
	if ts.clientID == "" || ts.clientSecret == "" {
		log.Printf("messenger: oauth client id/secret missing")
		return "", ErrNoToken
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {ts.clientID},
		"client_secret": {ts.clientSecret},
	}

	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.oauthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("oauth request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Printf("messenger: oauth status=%d body=%s", resp.StatusCode, truncate(string(body), 500))
		return "", ErrNoToken
	}

	var j struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &j); err != nil || j.AccessToken == "" {
		log.Printf("messenger: oauth bad response: %s", truncate(string(body), 300))
		return "", ErrNoToken
	}
	if j.ExpiresIn == 0 {
		j.ExpiresIn = 3600
	}

	ts.mu.Lock()
	ts.token = j.AccessToken
	ts.expiresAt = time.Now().Add(time.Duration(j.ExpiresIn) * time.Second)
	ts.mu.Unlock()

	log.Printf("messenger: got token %s expire_in=%ds", textutil.MaskKey(j.AccessToken, 6), j.ExpiresIn)
	return j.AccessToken, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
