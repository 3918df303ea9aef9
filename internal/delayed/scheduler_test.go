package delayed

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deliverRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (d *deliverRecorder) fn(_ context.Context, taskID string, _ Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, taskID)
}

func (d *deliverRecorder) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestRecover_PastDueDeliversImmediately(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delayed.json")
	seed, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, seed.Put("t1", testEntry("u1", time.Now().Add(-time.Minute).Unix())))

	// Fresh store simulates the restart.
	store, err := NewFileStore(path)
	require.NoError(t, err)

	rec := &deliverRecorder{}
	sched := NewScheduler(store, rec.fn)
	sched.Recover(context.Background())

	waitFor(t, func() bool { return rec.count() == 1 })
	assert.Empty(t, store.LoadAll(), "delivered entry removed and persisted")
}

func TestRecover_FutureEntryFiresOnTime(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "delayed.json"))
	require.NoError(t, err)
	require.NoError(t, store.Put("t1", testEntry("u1", time.Now().Add(time.Second).Unix())))

	rec := &deliverRecorder{}
	sched := NewScheduler(store, rec.fn)
	sched.Recover(context.Background())

	waitFor(t, func() bool { return rec.count() == 1 })
	assert.Empty(t, store.LoadAll())
}

func TestRecover_RunsOnlyOnce(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "delayed.json"))
	require.NoError(t, err)
	require.NoError(t, store.Put("t1", testEntry("u1", time.Now().Add(-time.Minute).Unix())))

	rec := &deliverRecorder{}
	sched := NewScheduler(store, rec.fn)
	sched.Recover(context.Background())
	waitFor(t, func() bool { return rec.count() == 1 })

	// Second invocation is a no-op even though the first already delivered.
	sched.Recover(context.Background())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestSchedule_EntryGoneIsNoOp(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "delayed.json"))
	require.NoError(t, err)

	rec := &deliverRecorder{}
	sched := NewScheduler(store, rec.fn)

	require.NoError(t, sched.Schedule(context.Background(), "t1",
		testEntry("u1", time.Now().Add(time.Second).Unix())))

	// Cancel before the timer fires; the fire must find nothing.
	require.NoError(t, sched.Cancel("t1"))

	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
}

func TestSchedule_DeliversExactlyOnce(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "delayed.json"))
	require.NoError(t, err)

	rec := &deliverRecorder{}
	sched := NewScheduler(store, rec.fn)

	require.NoError(t, sched.Schedule(context.Background(), "t1", testEntry("u1", 0)))
	waitFor(t, func() bool { return rec.count() == 1 })

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
	assert.Empty(t, store.LoadAll())
}
