package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/songbot-dev/songbot/internal/delayed"
	"github.com/songbot-dev/songbot/internal/observability"
	"github.com/songbot-dev/songbot/internal/provider"
	"github.com/songbot-dev/songbot/internal/task"
)

// orchestrateDelivery decides between immediate and deferred delivery of a
// ready track list. With a configured delay D and last activity T, delivery
// happens at T+D unless that moment has already passed.
func (e *Engine) orchestrateDelivery(ctx context.Context, t task.Task, tracks []provider.Track) {
	s, _ := e.sessions.Snapshot(t.UserID)

	if s.ReminderDelay <= 0 {
		e.sendTracks(ctx, t.UserID, t.ID, tracks)
		observability.RecordDelivery("immediate", "ok")
		log.Printf("engine: task=%s sent %d track(s) to user=%s", t.ID, len(tracks), t.UserID)
		return
	}

	now := e.clock()
	sendAt := s.LastActivityAt.Add(s.ReminderDelay)
	if !sendAt.After(now) {
		e.sendTracks(ctx, t.UserID, t.ID, tracks)
		observability.RecordDelivery("immediate", "ok")
		log.Printf("engine: task=%s delay already passed, sent %d track(s) to user=%s", t.ID, len(tracks), t.UserID)
		return
	}

	entry := delayed.Entry{
		UserID:   t.UserID,
		Provider: t.Provider,
		Tracks:   tracks,
		SendAt:   sendAt.Unix(),
	}
	if err := e.sched.Schedule(ctx, t.ID, entry); err != nil {
		// Persisting failed; better to deliver now than to lose the tracks.
		log.Printf("engine: task=%s delayed persist failed (%v), delivering now", t.ID, err)
		e.sendTracks(ctx, t.UserID, t.ID, tracks)
		observability.RecordDelivery("immediate", "ok")
		return
	}
	observability.RecordDelivery("delayed", "ok")
	observability.SetDelayedPending(len(e.store.LoadAll()))
	log.Printf("engine: task=%s scheduled delayed send of %d track(s) to user=%s at %s",
		t.ID, len(tracks), t.UserID, sendAt.Format(time.RFC3339))
}

// DeliverEntry dispatches a recovered or timer-fired delayed entry. Wired as
// the scheduler's DeliverFunc.
func (e *Engine) DeliverEntry(ctx context.Context, taskID string, entry delayed.Entry) {
	e.sendTracks(ctx, entry.UserID, taskID, entry.Tracks)
	observability.SetDelayedPending(len(e.store.LoadAll()))
}

// sendTracks sends the ready notice and then each track in order. For every
// track it tries download and re-host first, falling back to the raw link
// when either step fails. Sends are paced to stay inside the platform's
// rate limits.
func (e *Engine) sendTracks(ctx context.Context, userID, taskID string, tracks []provider.Track) {
	e.notify(ctx, userID, msgTracksReady)

	variant := 0
	for _, track := range tracks {
		if track.AudioURL == "" {
			continue
		}
		variant++

		if err := e.pacer.Wait(ctx); err != nil {
			log.Printf("engine: task=%s delivery interrupted: %v", taskID, err)
			return
		}

		caption := fmt.Sprintf("🎧 Вариант %d", variant)
		filename := fmt.Sprintf("song_variant_%d.mp3", variant)

		attachmentID := ""
		if audio, err := e.fetchAudio(ctx, track.AudioURL); err != nil {
			log.Printf("engine: task=%s download failed for %q: %v", taskID, track.AudioURL, err)
		} else if id, err := e.msgr.UploadAudio(ctx, audio, filename); err != nil {
			observability.RecordMessengerSend("upload", "error")
			log.Printf("engine: task=%s upload failed: %v", taskID, err)
		} else {
			observability.RecordMessengerSend("upload", "ok")
			attachmentID = id
		}

		if attachmentID != "" {
			if err := e.msgr.SendAttachment(ctx, userID, attachmentID, caption); err != nil {
				observability.RecordMessengerSend("attachment", "error")
				log.Printf("engine: task=%s attachment send failed: %v", taskID, err)
				e.notify(ctx, userID, caption+"\n"+track.AudioURL)
				continue
			}
			observability.RecordMessengerSend("attachment", "ok")
			continue
		}

		// Raw link fallback.
		e.notify(ctx, userID, caption+"\n"+track.AudioURL)
	}
}

func (e *Engine) fetchAudio(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, audioFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
