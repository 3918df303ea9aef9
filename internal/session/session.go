// Package session keeps per-user conversation state for the process
// lifetime. Sessions are never evicted; the expected audience is small.
package session

import (
	"strings"
	"sync"
	"time"
)

// Session is the per-user state the engine reads and writes between events.
type Session struct {
	UserID string

	// Story is the last accepted input text. It only changes on a
	// genuinely new story, never on edits or commands.
	Story string

	// Generation artifacts, always overwritten together.
	Lyrics         string
	StylePrompt    string
	NegativePrompt string
	UsedModel      string

	// Tier configuration, re-affirmed on every inbound event.
	Provider     string
	ModelVersion string
	LLMModel     string
	UseCometLLM  bool

	LastActivityAt time.Time

	ReminderDelay   time.Duration
	ReminderMessage string
}

// Manager owns the session map. Mutations copy-on-write whole sessions so a
// snapshot handed to a caller never changes under it.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	clock    func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		sessions: map[string]*Session{},
		clock:    time.Now,
	}
}

func (m *Manager) getOrCreateLocked(userID string) *Session {
	s, ok := m.sessions[userID]
	if !ok {
		s = &Session{UserID: userID}
		m.sessions[userID] = s
	}
	return s
}

// Touch records user activity and returns whether a session already existed.
func (m *Manager) Touch(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.sessions[userID]
	s := m.getOrCreateLocked(userID)
	s.LastActivityAt = m.clock()
	return existed
}

// IsNewStory reports whether story differs (after trimming) from the stored
// one, or no session exists yet.
func (m *Manager) IsNewStory(userID, story string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return true
	}
	return strings.TrimSpace(s.Story) != strings.TrimSpace(story)
}

// SetStory replaces the stored story text.
func (m *Manager) SetStory(userID, story string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreateLocked(userID).Story = story
}

// SetArtifacts replaces the generated lyrics pack in one step.
func (m *Manager) SetArtifacts(userID, lyrics, stylePrompt, negativePrompt, usedModel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getOrCreateLocked(userID)
	s.Lyrics = lyrics
	s.StylePrompt = stylePrompt
	s.NegativePrompt = negativePrompt
	s.UsedModel = usedModel
}

// Tier is the provider/model selection carried by every inbound event.
type Tier struct {
	Provider     string
	ModelVersion string
	LLMModel     string
	UseCometLLM  bool
}

// AffirmTier applies the tier of the current event. Runs on every event so
// a user moving between tiers takes effect without a fresh story.
func (m *Manager) AffirmTier(userID string, t Tier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getOrCreateLocked(userID)
	if t.Provider != "" {
		s.Provider = t.Provider
	}
	s.ModelVersion = t.ModelVersion
	if t.LLMModel != "" {
		s.LLMModel = t.LLMModel
	}
	s.UseCometLLM = t.UseCometLLM
}

// SetReminderDelay updates the nudge delay without touching the message.
func (m *Manager) SetReminderDelay(userID string, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreateLocked(userID).ReminderDelay = delay
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// SetReminder stores the nudge configuration for a user.
func (m *Manager) SetReminder(userID string, delay time.Duration, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getOrCreateLocked(userID)
	s.ReminderDelay = delay
	s.ReminderMessage = message
}

// Snapshot returns a copy of the session, and false when none exists.
func (m *Manager) Snapshot(userID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}
