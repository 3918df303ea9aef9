package engine

import (
	"context"
	"log"

	"github.com/songbot-dev/songbot/internal/observability"
	"github.com/songbot-dev/songbot/internal/provider"
	"github.com/songbot-dev/songbot/internal/task"
)

// pollTask runs one poll tick for a task. Each tick either re-arms itself
// for the provider's interval or reaches a terminal outcome that removes the
// task from the registry. A tick whose task is gone is a no-op; that is how
// superseded tasks are cancelled.
func (e *Engine) pollTask(ctx context.Context, taskID string) {
	t, ok := e.tasks.Get(taskID)
	if !ok {
		return
	}

	ctx, span := observability.StartSpan(ctx, "engine.poll_tick")
	defer span.End()

	p, err := e.providers.Get(t.Provider)
	if err != nil {
		log.Printf("engine: task=%s references unknown provider %q, dropping", taskID, t.Provider)
		e.removeTask(taskID)
		return
	}

	if t.PollCount >= p.MaxPolls() {
		e.restartOrAbandon(ctx, t, "poll_exhausted", msgRestartSlow, msgAbandonSlow)
		return
	}

	status, err := p.CheckStatus(ctx, taskID)
	if err != nil {
		if provider.IsTransient(err) {
			observability.RecordPollTick(t.Provider, "transient")
			if n, live := e.tasks.IncrementPoll(taskID); live {
				log.Printf("engine: task=%s transient check error (%v), poll %d", taskID, err, n)
				e.rearm(p, taskID)
			}
			return
		}
		observability.RecordPollTick(t.Provider, "error")
		log.Printf("engine: task=%s hard check error: %v", taskID, err)
		e.notify(ctx, t.UserID, msgHardError)
		e.removeTask(taskID)
		return
	}

	switch status.Kind {
	case provider.StatusReady:
		observability.RecordPollTick(t.Provider, "ready")
		if len(status.Tracks) == 0 {
			// Completed on the provider side but no links came back.
			log.Printf("engine: task=%s completed without tracks", taskID)
			e.notify(ctx, t.UserID, msgNoLinks)
			e.removeTask(taskID)
			return
		}
		e.removeTask(taskID)
		e.orchestrateDelivery(ctx, t, status.Tracks)

	case provider.StatusPending:
		observability.RecordPollTick(t.Provider, "pending")
		if n, live := e.tasks.IncrementPoll(taskID); live {
			log.Printf("engine: task=%s still processing (%s), poll %d", taskID, status.State, n)
			e.rearm(p, taskID)
		}

	case provider.StatusFailed:
		observability.RecordPollTick(t.Provider, "failed")
		log.Printf("engine: task=%s failed on provider side (%s)", taskID, status.State)
		e.restartOrAbandon(ctx, t, "failure", msgRestartFailed, msgAbandonFailed)
	}
}

// restartOrAbandon applies the shared restart policy for explicit failures
// and poll exhaustion. The restart budget travels with the task, so the two
// failure modes share the same cap.
func (e *Engine) restartOrAbandon(ctx context.Context, t task.Task, reason, restartMsg, abandonMsg string) {
	e.removeTask(t.ID)

	if t.RestartCount < maxRestarts {
		observability.RecordTaskRestart(t.Provider, reason)
		log.Printf("engine: task=%s %s, auto-restart #%d", t.ID, reason, t.RestartCount+1)
		e.notify(ctx, t.UserID, restartMsg)
		e.startGeneration(ctx, t.UserID, true, t.RestartCount+1)
		return
	}

	log.Printf("engine: task=%s %s after %d restarts, giving up", t.ID, reason, t.RestartCount)
	e.notify(ctx, t.UserID, abandonMsg)
}

func (e *Engine) rearm(p provider.MusicProvider, taskID string) {
	e.after(p.PollInterval(), func() { e.pollTask(context.Background(), taskID) })
}

func (e *Engine) removeTask(taskID string) {
	e.tasks.Remove(taskID)
	observability.SetActiveTasks(len(e.tasks.List()))
}
