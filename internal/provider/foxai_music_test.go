package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonDecode(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func TestFoxAISubmit(t *testing.T) {
	var gotKey string
	var gotBody foxaiSubmitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/task", r.URL.Path)
		gotKey = r.Header.Get("api-key")
		require.NoError(t, jsonDecode(r, &gotBody))
		w.Write([]byte(`{"success":true,"task_id":"fox-7"}`))
	}))
	defer srv.Close()

	p := NewFoxAIMusic("fk", srv.URL)
	id, err := p.Submit(context.Background(), SubmitRequest{
		Lyrics:         "[verse]\nтекст",
		StylePrompt:    "dark trap",
		NegativePrompt: "robotic voice",
		Title:          "Вариант",
	})
	require.NoError(t, err)
	assert.Equal(t, "fox-7", id)
	assert.Equal(t, "fk", gotKey)

	require.Len(t, gotBody.Conditions, 2)
	assert.Equal(t, "[verse]\nтекст", gotBody.Conditions[0].Lyrics)
	assert.Contains(t, gotBody.Conditions[1].Prompt, "dark trap")
	assert.Contains(t, gotBody.Conditions[1].Prompt, "| avoid: robotic voice")
}

func TestFoxAISubmit_EmptyLyricsGoesInstrumental(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body foxaiSubmitRequest
		require.NoError(t, jsonDecode(r, &body))
		assert.Equal(t, "[Instrumental]", body.Conditions[0].Lyrics)
		w.Write([]byte(`{"success":true,"task_id":"x"}`))
	}))
	defer srv.Close()

	p := NewFoxAIMusic("fk", srv.URL)
	_, err := p.Submit(context.Background(), SubmitRequest{})
	require.NoError(t, err)
}

func TestFoxAISubmit_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false}`))
	}))
	defer srv.Close()

	p := NewFoxAIMusic("fk", srv.URL)
	_, err := p.Submit(context.Background(), SubmitRequest{Lyrics: "x"})
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrorCodeServerError, perr.Code)
}

func TestParseFoxAIStatus(t *testing.T) {
	t.Run("list response with nested audio", func(t *testing.T) {
		raw := `[{"status":"completed","data":{"songs":[
			{"title":"Song A","audio_url":"https://cdn/a.mp3","image_url":"https://cdn/a.jpg"},
			{"title":"Song B","mp3_url":"https://cdn/b.mp3"}
		]}}]`
		st, err := parseFoxAIStatus("t", []byte(raw))
		require.NoError(t, err)
		assert.Equal(t, StatusReady, st.Kind)
		require.Len(t, st.Tracks, 2)
	})

	t.Run("early links while pending count as ready", func(t *testing.T) {
		raw := `[{"status":"processing","data":[{"audio_url":"https://cdn/a.mp3"}]}]`
		st, err := parseFoxAIStatus("t", []byte(raw))
		require.NoError(t, err)
		assert.Equal(t, StatusReady, st.Kind)
		require.Len(t, st.Tracks, 1)
	})

	t.Run("pending", func(t *testing.T) {
		st, err := parseFoxAIStatus("t", []byte(`[{"status":"queued"}]`))
		require.NoError(t, err)
		assert.Equal(t, StatusPending, st.Kind)
	})

	t.Run("failed", func(t *testing.T) {
		st, err := parseFoxAIStatus("t", []byte(`[{"status":"failed"}]`))
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, st.Kind)
	})

	t.Run("completed without links is ready with no tracks", func(t *testing.T) {
		st, err := parseFoxAIStatus("t", []byte(`[{"status":"completed"}]`))
		require.NoError(t, err)
		assert.Equal(t, StatusReady, st.Kind)
		assert.Empty(t, st.Tracks)
	})

	t.Run("object response", func(t *testing.T) {
		st, err := parseFoxAIStatus("t", []byte(`{"status":"running"}`))
		require.NoError(t, err)
		assert.Equal(t, StatusPending, st.Kind)
	})

	t.Run("duplicate urls deduped", func(t *testing.T) {
		raw := `[{"status":"completed","data":{"a":{"audio_url":"https://cdn/a.mp3"},"b":{"audio_url":"https://cdn/a.mp3"}}}]`
		st, err := parseFoxAIStatus("t", []byte(raw))
		require.NoError(t, err)
		assert.Len(t, st.Tracks, 1)
	})
}
