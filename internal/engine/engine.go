// Package engine is the task lifecycle core: it turns inbound user events
// into lyrics drafts and music-generation jobs, polls jobs to completion and
// hands finished tracks to the delivery path.
package engine

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/songbot-dev/songbot/internal/delayed"
	"github.com/songbot-dev/songbot/internal/lyrics"
	"github.com/songbot-dev/songbot/internal/messenger"
	"github.com/songbot-dev/songbot/internal/observability"
	"github.com/songbot-dev/songbot/internal/provider"
	"github.com/songbot-dev/songbot/internal/session"
	"github.com/songbot-dev/songbot/internal/task"
)

const (
	maxRestarts       = 2
	submitMaxAttempts = 3
	submitRetryPause  = 3 * time.Second
	autoRetryDelay    = 30 * time.Second
	trackSendPace     = 2 * time.Second
	audioFetchTimeout = 180 * time.Second
)

// Outcome is the result of one inbound event, shaped for the webhook
// response body.
type Outcome struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	Note     string `json:"note,omitempty"`
	Stage    string `json:"stage,omitempty"`
	TaskID   string `json:"task_id,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// Config wires the engine's collaborators.
type Config struct {
	Sessions  *session.Manager
	Tasks     *task.Registry
	Providers *provider.Registry
	Messenger messenger.Messenger
	Store     delayed.Store
	Scheduler *delayed.Scheduler

	// LyricsFor builds the LLM fallback chain for a session's tier.
	LyricsFor func(s session.Session) *lyrics.Generator

	// DefaultProvider is used when a session carries no known backend.
	DefaultProvider string

	// HTTPClient fetches track audio for re-hosting. Defaults to a plain
	// client; the per-download timeout is applied per request.
	HTTPClient *http.Client

	// ShowTechPrompt echoes the style prompt and task id to the user after
	// submission. Debug aid for operators running their own chat.
	ShowTechPrompt bool
}

// Engine owns the per-user generation lifecycle.
type Engine struct {
	sessions  *session.Manager
	tasks     *task.Registry
	providers *provider.Registry
	msgr      messenger.Messenger
	store     delayed.Store
	sched     *delayed.Scheduler

	lyricsFor       func(s session.Session) *lyrics.Generator
	defaultProvider string
	httpClient      *http.Client
	showTechPrompt  bool

	// pacer spaces per-track sends.
	pacer *rate.Limiter

	clock func() time.Time
	after func(d time.Duration, f func()) *time.Timer
}

func New(cfg Config) *Engine {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Engine{
		sessions:        cfg.Sessions,
		tasks:           cfg.Tasks,
		providers:       cfg.Providers,
		msgr:            cfg.Messenger,
		store:           cfg.Store,
		sched:           cfg.Scheduler,
		lyricsFor:       cfg.LyricsFor,
		defaultProvider: cfg.DefaultProvider,
		httpClient:      client,
		showTechPrompt:  cfg.ShowTechPrompt,
		pacer:           rate.NewLimiter(rate.Every(trackSendPace), 1),
		clock:           time.Now,
		after:           time.AfterFunc,
	}
}

// OnNewStory drafts a fresh lyrics pack for a story the user has not sent
// before, stores it in the session and sends the draft back. No music is
// submitted yet.
func (e *Engine) OnNewStory(ctx context.Context, userID, story string) Outcome {
	ctx, span := observability.StartSpan(ctx, "engine.new_story")
	defer span.End()

	e.notify(ctx, userID, msgDraftWorking)

	s, _ := e.sessions.Snapshot(userID)
	gen := e.lyricsFor(s)

	start := e.clock()
	pack, err := gen.Generate(ctx, lyrics.Request{Story: story})
	if err != nil {
		observability.RecordLLMRequest(s.LLMModel, "error", time.Since(start))
		log.Printf("engine: new-story lyrics failed for user=%s: %v", userID, err)
		e.notify(ctx, userID, msgLLMFailedNew)
		return Outcome{Error: "model_failed"}
	}
	observability.RecordLLMRequest(pack.UsedModel, "ok", time.Since(start))

	e.sessions.SetStory(userID, story)
	e.sessions.SetArtifacts(userID, pack.Lyrics, pack.StylePrompt, pack.NegativePrompt, pack.UsedModel)

	e.sendDraft(ctx, userID, pack.Lyrics)
	e.ScheduleReminder(ctx, userID)
	return Outcome{OK: true, Stage: "draft_sent"}
}

// OnEditCommand regenerates the lyrics pack in place, feeding the LLM the
// original story, the previous draft and the user's edit instructions.
func (e *Engine) OnEditCommand(ctx context.Context, userID, editText string) Outcome {
	ctx, span := observability.StartSpan(ctx, "engine.edit")
	defer span.End()

	s, ok := e.sessions.Snapshot(userID)
	if !ok || s.Story == "" {
		e.notify(ctx, userID, msgNeedStoryFirst)
		return Outcome{Error: "no_state_for_edit"}
	}

	e.notify(ctx, userID, msgEditWorking)

	gen := e.lyricsFor(s)
	start := e.clock()
	pack, err := gen.Generate(ctx, lyrics.Request{
		Story:      s.Story,
		PrevLyrics: s.Lyrics,
		ClientEdit: editText,
	})
	if err != nil {
		observability.RecordLLMRequest(s.LLMModel, "error", time.Since(start))
		log.Printf("engine: edit lyrics failed for user=%s: %v", userID, err)
		e.notify(ctx, userID, msgLLMFailedEdit)
		return Outcome{Error: "model_failed"}
	}
	observability.RecordLLMRequest(pack.UsedModel, "ok", time.Since(start))

	e.sessions.SetArtifacts(userID, pack.Lyrics, pack.StylePrompt, pack.NegativePrompt, pack.UsedModel)

	e.sendDraft(ctx, userID, pack.Lyrics)
	e.ScheduleReminder(ctx, userID)
	return Outcome{OK: true, Stage: "draft_updated"}
}

// OnGenerateCommand submits the stored lyrics pack to the user's music
// backend, guarded against duplicate concurrent generations.
func (e *Engine) OnGenerateCommand(ctx context.Context, userID string) Outcome {
	return e.startGeneration(ctx, userID, false, 0)
}

// ForceRegenerate is the admin path: it bypasses the duplicate guard and
// starts a fresh submission with a fresh restart budget.
func (e *Engine) ForceRegenerate(ctx context.Context, userID string) Outcome {
	return e.startGeneration(ctx, userID, true, 0)
}

// startGeneration runs one submission attempt cycle. restarts carries the
// consumed restart budget across automatic resubmissions so a task can never
// restart more than maxRestarts times total.
func (e *Engine) startGeneration(ctx context.Context, userID string, force bool, restarts int) Outcome {
	ctx, span := observability.StartSpan(ctx, "engine.generate")
	defer span.End()

	s, ok := e.sessions.Snapshot(userID)
	if !ok {
		e.notify(ctx, userID, msgNothingToVoice)
		return Outcome{Error: "no_state"}
	}

	if err := e.tasks.BeginGenerating(userID, force); err != nil {
		if errors.Is(err, task.ErrAlreadyGenerating) {
			taskID, _ := e.tasks.LookupByUser(userID)
			log.Printf("engine: skip generation for user=%s, already generating (task=%s)", userID, taskID)
			e.notify(ctx, userID, msgAlreadyGenerating)
			return Outcome{Error: "already_generating", TaskID: taskID}
		}
		return Outcome{Error: err.Error()}
	}
	if !force {
		defer e.tasks.EndGenerating(userID)
	}

	if s.Lyrics == "" {
		e.notify(ctx, userID, msgNothingToVoice)
		return Outcome{Error: "no_lyrics"}
	}

	p, err := e.providers.Get(s.Provider)
	if err != nil {
		p, err = e.providers.Get(e.defaultProvider)
		if err != nil {
			log.Printf("engine: no music provider available for user=%s: %v", userID, err)
			e.notify(ctx, userID, msgHardError)
			return Outcome{Error: "no_provider"}
		}
	}

	req := provider.SubmitRequest{
		Lyrics:         s.Lyrics,
		StylePrompt:    s.StylePrompt,
		NegativePrompt: s.NegativePrompt,
		Title:          lyrics.FirstLineTitle(s.Lyrics),
		ModelVersion:   s.ModelVersion,
	}

	taskID, submitErr := e.submitWithRetry(ctx, p, req)
	if submitErr != nil {
		observability.RecordGeneration(p.Name(), "failed")
		log.Printf("engine: %s submission failed for user=%s: %v", p.Name(), userID, submitErr)
		e.notify(ctx, userID, submitFailedMessage(p.Name(), submitErr.Error()))

		log.Printf("engine: scheduling auto-retry for user=%s in %s", userID, autoRetryDelay)
		e.after(autoRetryDelay, func() {
			e.startGeneration(context.Background(), userID, false, restarts)
		})
		return Outcome{Error: submitErr.Error(), Provider: p.Name()}
	}

	observability.RecordGeneration(p.Name(), "submitted")
	e.notify(ctx, userID, msgGenerationStarted)
	if e.showTechPrompt {
		e.notify(ctx, userID, "PROMPT ДЛЯ МУЗЫКИ (style_prompt):\n"+s.StylePrompt+
			"\n\nNEGATIVE ДЛЯ МУЗЫКИ:\n"+s.NegativePrompt+
			"\n\ntask_id="+taskID+"\nlyrics_model="+s.UsedModel+"\nprovider="+p.Name())
	}

	e.tasks.RegisterTask(&task.Task{
		ID:           taskID,
		UserID:       userID,
		Provider:     p.Name(),
		RestartCount: restarts,
	})
	observability.SetActiveTasks(len(e.tasks.List()))

	log.Printf("engine: task=%s submitted (provider=%s, user=%s, restarts=%d), polling every %s",
		taskID, p.Name(), userID, restarts, p.PollInterval())
	e.after(p.PollInterval(), func() { e.pollTask(context.Background(), taskID) })

	return Outcome{OK: true, TaskID: taskID, Provider: p.Name()}
}

// submitWithRetry gives the backend submitMaxAttempts tries with a short
// pause between them.
func (e *Engine) submitWithRetry(ctx context.Context, p provider.MusicProvider, req provider.SubmitRequest) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= submitMaxAttempts; attempt++ {
		taskID, err := p.Submit(ctx, req)
		if err == nil {
			return taskID, nil
		}
		lastErr = err
		log.Printf("engine: %s submit attempt %d failed: %v", p.Name(), attempt, err)
		if attempt == submitMaxAttempts {
			break
		}
		select {
		case <-time.After(submitRetryPause):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

// ForceDeliverPending flushes every delayed entry for a user right now.
// Returns the number of deliveries dispatched.
func (e *Engine) ForceDeliverPending(ctx context.Context, userID string) int {
	sent := 0
	for taskID, entry := range e.store.LoadAll() {
		if entry.UserID != userID {
			continue
		}
		got, ok, err := e.store.Remove(taskID)
		if err != nil || !ok {
			continue
		}
		e.DeliverEntry(ctx, taskID, got)
		sent++
		log.Printf("engine: force-sent delayed task=%s for user=%s", taskID, userID)
	}
	observability.SetDelayedPending(len(e.store.LoadAll()))
	return sent
}

// sendDraft shows the user their lyrics with annotations collapsed to the
// bare section names.
func (e *Engine) sendDraft(ctx context.Context, userID, lyricsText string) {
	e.notify(ctx, userID, draftMessage(lyrics.CollapseAnnotations(lyricsText)))
}

// notify sends a short text and logs delivery failures. User notices are
// best-effort; failures never propagate into the lifecycle.
func (e *Engine) notify(ctx context.Context, userID, text string) {
	if err := e.msgr.SendText(ctx, userID, text); err != nil {
		observability.RecordMessengerSend("text", "error")
		log.Printf("engine: notify user=%s failed: %v", userID, err)
		return
	}
	observability.RecordMessengerSend("text", "ok")
}

// NudgeUnchanged is the fallback reply when an event carries neither a new
// story, a generate press, nor edits.
func (e *Engine) NudgeUnchanged(ctx context.Context, userID string) {
	e.notify(ctx, userID, msgNudge)
}

// GreetNoSession is the reply for a user who has not sent a story yet.
func (e *Engine) GreetNoSession(ctx context.Context, userID string) {
	e.notify(ctx, userID, msgGreeting)
}
