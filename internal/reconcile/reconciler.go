package reconcile

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"alarm-clock-backend/internal/engine"
)

// Engine is the slice of the state machine the reconciler drives.
type Engine interface {
	Handle(ctx context.Context, ev engine.Event) error
}

// Reconciler restores consistency between stored instance state and
// wall-clock time after any event that can desynchronize them: process
// start, a time or timezone change, or an app update. The heavy lifting
// is the engine's FixAlarmInstances; this component moves it off the
// triggering goroutine and keeps the process alive until it finishes.
type Reconciler struct {
	engine    Engine
	clock     clockwork.Clock
	interval  time.Duration
	tolerance time.Duration
	pending   sync.WaitGroup
}

// New creates a reconciler. interval is how often the drift watcher
// samples the clock; a jump beyond tolerance triggers a fix-up.
func New(eng Engine, clock clockwork.Clock, interval, tolerance time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if tolerance <= 0 {
		tolerance = 2 * time.Second
	}
	return &Reconciler{
		engine:    eng,
		clock:     clock,
		interval:  interval,
		tolerance: tolerance,
	}
}

// Hold is a scoped keep-alive token bracketing background
// reconciliation work. It is released exactly once on every exit path;
// holders must not outlive the work they bracket.
type Hold struct {
	id      uuid.UUID
	reason  string
	once    sync.Once
	release func()
}

// Release marks the background work complete. Safe to call repeatedly.
func (h *Hold) Release() {
	h.once.Do(func() {
		log.Printf("reconcile hold %s (%s) released", h.id, h.reason)
		h.release()
	})
}

func (r *Reconciler) acquire(reason string) *Hold {
	r.pending.Add(1)
	h := &Hold{
		id:      uuid.New(),
		reason:  reason,
		release: r.pending.Done,
	}
	log.Printf("reconcile hold %s (%s) acquired", h.id, reason)
	return h
}

// Trigger dispatches the event to the engine on a background goroutine,
// holding a keep-alive token for the duration so the triggering caller
// can return immediately without the process dropping the work.
func (r *Reconciler) Trigger(ctx context.Context, ev engine.Event) {
	hold := r.acquire(string(ev.Type))
	go func() {
		defer hold.Release()
		if err := r.engine.Handle(ctx, ev); err != nil {
			log.Printf("reconciliation for %s failed: %v", ev.Type, err)
		}
	}()
}

// Wait blocks until all in-flight reconciliation work has completed.
// Called during shutdown.
func (r *Reconciler) Wait() {
	r.pending.Wait()
}

// Run watches for wall-clock jumps: if a sampling sleep overshoots (or
// undershoots) by more than the tolerance, the system clock was
// changed while we slept and every armed wake-up may be stale.
func (r *Reconciler) Run(ctx context.Context) {
	log.Println("Starting clock drift watcher...")
	for {
		expected := r.clock.Now().Add(r.interval)
		select {
		case <-ctx.Done():
			log.Println("Clock drift watcher shutting down.")
			return
		case <-r.clock.After(r.interval):
			drift := r.clock.Now().Sub(expected)
			if drift < 0 {
				drift = -drift
			}
			if drift > r.tolerance {
				log.Printf("wall clock jumped by %s, reconciling", drift)
				r.Trigger(ctx, engine.Event{Type: engine.EventTimeChanged})
			}
		}
	}
}
