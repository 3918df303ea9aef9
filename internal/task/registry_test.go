package task

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginGenerating_Guard(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.BeginGenerating("u1", false))
	assert.True(t, r.IsGenerating("u1"))

	assert.ErrorIs(t, r.BeginGenerating("u1", false), ErrAlreadyGenerating)

	r.EndGenerating("u1")
	assert.False(t, r.IsGenerating("u1"))
	require.NoError(t, r.BeginGenerating("u1", false))
}

func TestBeginGenerating_RejectsWhenTaskRegistered(t *testing.T) {
	r := NewRegistry()
	r.RegisterTask(&Task{ID: "t1", UserID: "u1", Provider: "comet"})

	assert.ErrorIs(t, r.BeginGenerating("u1", false), ErrAlreadyGenerating)
	assert.NoError(t, r.BeginGenerating("u1", true), "forced path bypasses the guard")
}

func TestBeginGenerating_ConcurrentSingleWinner(t *testing.T) {
	r := NewRegistry()

	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.BeginGenerating("u1", false) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	r.RegisterTask(&Task{ID: "t1", UserID: "u1", Provider: "foxai"})

	id, ok := r.LookupByUser("u1")
	require.True(t, ok)
	assert.Equal(t, "t1", id)

	got, ok := r.Get("t1")
	require.True(t, ok)
	assert.Equal(t, "foxai", got.Provider)

	// A new task for the same user supersedes the old one.
	r.RegisterTask(&Task{ID: "t2", UserID: "u1", Provider: "foxai", RestartCount: 1})
	_, ok = r.Get("t1")
	assert.False(t, ok)
	id, _ = r.LookupByUser("u1")
	assert.Equal(t, "t2", id)
}

func TestRemove(t *testing.T) {
	r := NewRegistry()
	r.RegisterTask(&Task{ID: "t1", UserID: "u1"})

	got, ok := r.Remove("t1")
	require.True(t, ok)
	assert.Equal(t, "u1", got.UserID)

	_, ok = r.LookupByUser("u1")
	assert.False(t, ok)

	_, ok = r.Remove("t1")
	assert.False(t, ok, "second remove is a no-op")
}

func TestIncrementPoll(t *testing.T) {
	r := NewRegistry()
	r.RegisterTask(&Task{ID: "t1", UserID: "u1"})

	n, ok := r.IncrementPoll("t1")
	require.True(t, ok)
	assert.Equal(t, 1, n)
	n, _ = r.IncrementPoll("t1")
	assert.Equal(t, 2, n)

	_, ok = r.IncrementPoll("gone")
	assert.False(t, ok)
}
