// Package task tracks in-flight generation jobs and enforces the one-job-
// per-user rule.
package task

import (
	"errors"
	"sync"
)

// ErrAlreadyGenerating is returned when a user already has a live job or
// holds the generating guard.
var ErrAlreadyGenerating = errors.New("generation already in progress for user")

// Task is one in-flight music-generation job.
type Task struct {
	ID           string
	UserID       string
	Provider     string
	PollCount    int
	RestartCount int
}

// Registry is the process-local concurrency guard. One coarse lock covers
// both the task map and the per-user generating flags; expected concurrency
// is low enough that per-user locks buy nothing.
type Registry struct {
	mu         sync.Mutex
	tasks      map[string]*Task // by task id
	byUser     map[string]string
	generating map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		tasks:      map[string]*Task{},
		byUser:     map[string]string{},
		generating: map[string]bool{},
	}
}

// BeginGenerating claims the guard for a user. It fails when the user is
// already generating or has a registered task, unless force is set; the
// forced path never claims or checks the guard so an admin restart can run
// while the superseded task is still registered.
func (r *Registry) BeginGenerating(userID string, force bool) error {
	if force {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generating[userID] {
		return ErrAlreadyGenerating
	}
	if _, ok := r.byUser[userID]; ok {
		return ErrAlreadyGenerating
	}
	r.generating[userID] = true
	return nil
}

// EndGenerating releases the guard. Safe to call when not held.
func (r *Registry) EndGenerating(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.generating, userID)
}

// IsGenerating reports whether the user holds the guard.
func (r *Registry) IsGenerating(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generating[userID]
}

// RegisterTask records a successfully submitted job. A previous task for the
// same user is superseded and dropped.
func (r *Registry) RegisterTask(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byUser[t.UserID]; ok && old != t.ID {
		delete(r.tasks, old)
	}
	r.tasks[t.ID] = t
	r.byUser[t.UserID] = t.ID
}

// Get returns a copy of the task for taskID.
func (r *Registry) Get(taskID string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// LookupByUser returns the live task id for a user, if any.
func (r *Registry) LookupByUser(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byUser[userID]
	return id, ok
}

// IncrementPoll bumps the poll counter and returns the new value. Returns
// false when the task is gone.
func (r *Registry) IncrementPoll(taskID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return 0, false
	}
	t.PollCount++
	return t.PollCount, true
}

// Remove drops a task. Every terminal outcome goes through here so nothing
// is left dangling. Returns the removed task.
func (r *Registry) Remove(taskID string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	delete(r.tasks, taskID)
	if r.byUser[t.UserID] == taskID {
		delete(r.byUser, t.UserID)
	}
	return *t, true
}

// List snapshots every live task, for the admin surface.
func (r *Registry) List() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, *t)
	}
	return out
}
