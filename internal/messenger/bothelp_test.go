package messenger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func oauthServer(t *testing.T, hits *int32, token string, expiresIn int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": token,
			"expires_in":   expiresIn,
		})
	}))
}

func TestToken_Cached(t *testing.T) {
	var hits int32
	oauth := oauthServer(t, &hits, "tok-1", 3600)
	defer oauth.Close()

	ts := newTokenSource(oauth.URL, "id", "secret", oauth.Client())

	tok, err := ts.Token(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	_, err = ts.Token(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "second call served from cache")

	_, err = ts.Token(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "force drops the cache")
}

func TestToken_EarlyRefreshWindow(t *testing.T) {
	var hits int32
	// Expiry inside the early-refresh window, so every call refetches.
	oauth := oauthServer(t, &hits, "tok-1", 10)
	defer oauth.Close()

	ts := newTokenSource(oauth.URL, "id", "secret", oauth.Client())

	_, err := ts.Token(context.Background(), false)
	require.NoError(t, err)
	_, err = ts.Token(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestToken_MissingCredentials(t *testing.T) {
	ts := newTokenSource("http://127.0.0.1:1", "", "", &http.Client{})
	_, err := ts.Token(context.Background(), false)
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestToken_OAuthFailure(t *testing.T) {
	oauth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer oauth.Close()

	ts := newTokenSource(oauth.URL, "id", "secret", oauth.Client())
	_, err := ts.Token(context.Background(), false)
	assert.ErrorIs(t, err, ErrNoToken)
}

func newTestBotHelp(t *testing.T, api http.HandlerFunc) (*BotHelp, func()) {
	t.Helper()
	var hits int32
	oauth := oauthServer(t, &hits, "tok-1", 3600)
	apiSrv := httptest.NewServer(api)

	b := NewBotHelp(BotHelpConfig{
		APIURL:       apiSrv.URL,
		OAuthURL:     oauth.URL,
		ClientID:     "id",
		ClientSecret: "secret",
	})
	return b, func() {
		oauth.Close()
		apiSrv.Close()
	}
}

func TestSendText(t *testing.T) {
	var got map[string]any
	b, cleanup := newTestBotHelp(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})
	defer cleanup()

	require.NoError(t, b.SendText(context.Background(), "u1", "привет"))
	assert.Equal(t, "u1", got["cuid"])
	assert.Equal(t, "привет", got["text"])
}

func TestSendAttachment(t *testing.T) {
	var got map[string]any
	b, cleanup := newTestBotHelp(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})
	defer cleanup()

	require.NoError(t, b.SendAttachment(context.Background(), "u1", "att-9", "Вариант 1"))

	atts, ok := got["attachments"].([]any)
	require.True(t, ok)
	require.Len(t, atts, 1)
	first := atts[0].(map[string]any)
	assert.Equal(t, "audio", first["type"])
	assert.Equal(t, "att-9", first["id"])
}

func TestSendText_RetriesAfterUnauthorized(t *testing.T) {
	var apiHits int32
	b, cleanup := newTestBotHelp(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&apiHits, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	})
	defer cleanup()

	require.NoError(t, b.SendText(context.Background(), "u1", "x"))
	assert.Equal(t, int32(2), atomic.LoadInt32(&apiHits))
}

func TestSendText_ClientErrorFailsFast(t *testing.T) {
	var apiHits int32
	b, cleanup := newTestBotHelp(t, func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&apiHits, 1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	})
	defer cleanup()

	err := b.SendText(context.Background(), "u1", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), atomic.LoadInt32(&apiHits), "4xx is not retried")
}

func TestUploadAudio(t *testing.T) {
	b, cleanup := newTestBotHelp(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/attachments", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "song_variant_1.mp3", header.Filename)
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": "att-42"}})
	})
	defer cleanup()

	id, err := b.UploadAudio(context.Background(), []byte("mp3-bytes"), "song_variant_1.mp3")
	require.NoError(t, err)
	assert.Equal(t, "att-42", id)
}

func TestUploadAudio_TopLevelID(t *testing.T) {
	b, cleanup := newTestBotHelp(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": "att-7"})
	})
	defer cleanup()

	id, err := b.UploadAudio(context.Background(), []byte("x"), "a.mp3")
	require.NoError(t, err)
	assert.Equal(t, "att-7", id)
}

func TestUploadAudio_MissingID(t *testing.T) {
	b, cleanup := newTestBotHelp(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	})
	defer cleanup()

	_, err := b.UploadAudio(context.Background(), []byte("x"), "a.mp3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing id")
}

func TestBackoffCap(t *testing.T) {
	assert.Equal(t, 2*time.Second, backoff(1))
	assert.Equal(t, 4*time.Second, backoff(2))
	assert.Equal(t, 8*time.Second, backoff(3))
	assert.Equal(t, 8*time.Second, backoff(10))
}
