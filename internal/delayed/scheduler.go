package delayed

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DeliverFunc dispatches one recovered or fired entry. Errors are logged by
// the scheduler; the entry has already been removed from the store when the
// function runs.
type DeliverFunc func(ctx context.Context, taskID string, e Entry)

// Scheduler arms one-shot timers for pending entries. Cancellation is done
// by removing the backing store entry: a timer that fires and finds its
// entry gone does nothing. A cron sweep once a minute catches entries whose
// timer was lost (for example a second instance wrote to the shared redis
// store).
type Scheduler struct {
	store   Store
	deliver DeliverFunc
	clock   func() time.Time

	recoverOnce sync.Once
	cron        *cron.Cron

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewScheduler(store Store, deliver DeliverFunc) *Scheduler {
	return &Scheduler{
		store:   store,
		deliver: deliver,
		clock:   time.Now,
		timers:  map[string]*time.Timer{},
	}
}

// Schedule persists the entry and arms its timer. Entries already due fire
// on a zero-delay timer rather than inline, keeping the caller's lock out of
// the delivery path.
func (s *Scheduler) Schedule(ctx context.Context, taskID string, e Entry) error {
	if err := s.store.Put(taskID, e); err != nil {
		return err
	}
	s.arm(ctx, taskID, e)
	return nil
}

// Recover evaluates every persisted entry exactly once per process lifetime:
// past-due entries are delivered immediately, future entries get a timer for
// the remaining delay. A failure on one entry never aborts the rest.
func (s *Scheduler) Recover(ctx context.Context) {
	s.recoverOnce.Do(func() {
		entries := s.store.LoadAll()
		if len(entries) == 0 {
			log.Printf("delayed: nothing to recover")
			return
		}
		log.Printf("delayed: recovering %d pending deliveries", len(entries))

		now := s.clock()
		for taskID, e := range entries {
			if e.Due(now) {
				s.fire(ctx, taskID)
				continue
			}
			s.arm(ctx, taskID, e)
		}
	})
}

// StartSweep runs a once-a-minute pass that arms timers for any due entry
// that has none. It returns a stop function.
func (s *Scheduler) StartSweep(ctx context.Context) func() {
	s.cron = cron.New()
	_, err := s.cron.AddFunc("@every 1m", func() { s.sweep(ctx) })
	if err != nil {
		log.Printf("delayed: sweep setup failed: %v", err)
		return func() {}
	}
	s.cron.Start()
	return func() { <-s.cron.Stop().Done() }
}

func (s *Scheduler) sweep(ctx context.Context) {
	now := s.clock()
	for taskID, e := range s.store.LoadAll() {
		if !e.Due(now) {
			continue
		}
		s.mu.Lock()
		_, armed := s.timers[taskID]
		s.mu.Unlock()
		if armed {
			continue
		}
		log.Printf("delayed: sweep picked up due entry task=%s", taskID)
		s.fire(ctx, taskID)
	}
}

func (s *Scheduler) arm(ctx context.Context, taskID string, e Entry) {
	delay := time.Unix(e.SendAt, 0).Sub(s.clock())
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	if old, ok := s.timers[taskID]; ok {
		old.Stop()
	}
	s.timers[taskID] = time.AfterFunc(delay, func() { s.fire(ctx, taskID) })
	s.mu.Unlock()

	log.Printf("delayed: task=%s armed for %s", taskID, delay.Round(time.Second))
}

// fire re-reads the entry at fire time. An absent entry means it was
// force-delivered or cancelled in the meantime and the fire is a no-op.
func (s *Scheduler) fire(ctx context.Context, taskID string) {
	s.mu.Lock()
	delete(s.timers, taskID)
	s.mu.Unlock()

	e, ok, err := s.store.Remove(taskID)
	if err != nil {
		log.Printf("delayed: task=%s remove failed: %v", taskID, err)
		return
	}
	if !ok {
		log.Printf("delayed: task=%s already gone, skipping", taskID)
		return
	}
	s.deliver(ctx, taskID, e)
}

// Cancel drops the persisted entry; any armed timer becomes a no-op.
func (s *Scheduler) Cancel(taskID string) error {
	_, _, err := s.store.Remove(taskID)
	return err
}
