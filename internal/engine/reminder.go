package engine

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"
)

// ParseReminderDelay converts the platform's Type field ("5m", "1h", "6h",
// "12h" plus Russian spellings) into a delay. Zero means reminders are off.
func ParseReminderDelay(value string) time.Duration {
	val := strings.ToLower(strings.TrimSpace(value))
	if val == "" {
		return 0
	}

	known := map[string]time.Duration{
		"5m":      5 * time.Minute,
		"5min":    5 * time.Minute,
		"5мин":    5 * time.Minute,
		"5 минут": 5 * time.Minute,
		"1h":      time.Hour,
		"1ч":      time.Hour,
		"1 час":   time.Hour,
		"6h":      6 * time.Hour,
		"6ч":      6 * time.Hour,
		"12h":     12 * time.Hour,
		"12ч":     12 * time.Hour,
	}
	if d, ok := known[val]; ok {
		return d
	}

	// "10m", "2h" and the like.
	if n, err := strconv.Atoi(strings.TrimSuffix(val, "m")); err == nil && strings.HasSuffix(val, "m") {
		return time.Duration(n) * time.Minute
	}
	if n, err := strconv.Atoi(strings.TrimSuffix(val, "h")); err == nil && strings.HasSuffix(val, "h") {
		return time.Duration(n) * time.Hour
	}
	return 0
}

// ScheduleReminder arms one soft nudge after the session's reminder delay.
// The nudge is dropped if the user wrote anything after it was scheduled.
func (e *Engine) ScheduleReminder(ctx context.Context, userID string) {
	s, ok := e.sessions.Snapshot(userID)
	if !ok || s.ReminderDelay <= 0 {
		return
	}

	scheduledAt := e.clock()
	delay := s.ReminderDelay

	e.after(delay, func() {
		s2, ok := e.sessions.Snapshot(userID)
		if !ok {
			return
		}
		if s2.LastActivityAt.After(scheduledAt) {
			log.Printf("engine: reminder for user=%s skipped, user active after schedule", userID)
			return
		}
		msg := s2.ReminderMessage
		if msg == "" {
			msg = defaultReminderMessage
		}
		log.Printf("engine: sending reminder to user=%s after %s", userID, delay)
		e.notify(context.Background(), userID, msg)
	})
}
