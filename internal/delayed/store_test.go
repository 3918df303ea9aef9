package delayed

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songbot-dev/songbot/internal/provider"
)

func testEntry(userID string, sendAt int64) Entry {
	return Entry{
		UserID:   userID,
		Provider: "comet",
		Tracks:   []provider.Track{{Title: "Вариант 1", AudioURL: "https://cdn/a.mp3"}},
		SendAt:   sendAt,
	}
}

func TestFileStore_MissingFileStartsEmpty(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "delayed.json"))
	require.NoError(t, err)
	assert.Empty(t, s.LoadAll())
}

func TestFileStore_PutRemoveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delayed.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, s.Put("t1", testEntry("u1", 123)))

	// A fresh store sees the persisted entry (simulated restart).
	s2, err := NewFileStore(path)
	require.NoError(t, err)
	e, ok := s2.Get("t1")
	require.True(t, ok)
	assert.Equal(t, "u1", e.UserID)
	assert.Equal(t, int64(123), e.SendAt)
	require.Len(t, e.Tracks, 1)
	assert.Equal(t, "https://cdn/a.mp3", e.Tracks[0].AudioURL)

	removed, ok, err := s2.Remove("t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "u1", removed.UserID)

	_, ok, err = s2.Remove("t1")
	require.NoError(t, err)
	assert.False(t, ok, "second remove reports absence")

	s3, err := NewFileStore(path)
	require.NoError(t, err)
	assert.Empty(t, s3.LoadAll(), "removal was persisted")
}

func TestFileStore_CorruptRootResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delayed.json")
	require.NoError(t, os.WriteFile(path, []byte(`[1,2,3]`), 0o644))

	s, err := NewFileStore(path)
	require.NoError(t, err)
	assert.Empty(t, s.LoadAll())

	// The reset was persisted as a valid empty object.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}

func TestFileStore_MalformedEntryDropped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delayed.json")
	blob := `{
		"good": {"user_id":"u1","provider":"comet","tracks":[],"send_at":5},
		"bad": 42
	}`
	require.NoError(t, os.WriteFile(path, []byte(blob), 0o644))

	s, err := NewFileStore(path)
	require.NoError(t, err)

	all := s.LoadAll()
	require.Len(t, all, 1)
	assert.Contains(t, all, "good")

	// The correction was written back.
	s2, err := NewFileStore(path)
	require.NoError(t, err)
	assert.Len(t, s2.LoadAll(), 1)
}

func TestFileStore_LoadAllIsSnapshot(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "delayed.json"))
	require.NoError(t, err)
	require.NoError(t, s.Put("t1", testEntry("u1", 0)))

	all := s.LoadAll()
	delete(all, "t1")

	_, ok := s.Get("t1")
	assert.True(t, ok)
}

func TestEntryDue(t *testing.T) {
	now := time.Unix(1000, 0)
	assert.True(t, Entry{SendAt: 0}.Due(now))
	assert.True(t, Entry{SendAt: 999}.Due(now))
	assert.True(t, Entry{SendAt: 1000}.Due(now))
	assert.False(t, Entry{SendAt: 1001}.Due(now))
}
