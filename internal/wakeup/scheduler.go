package wakeup

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"alarm-clock-backend/internal/model"
)

// Scheduler maintains a 1:1 mapping between an alarm instance and the
// single timed callback armed for its current state's deadline. Arming
// a new deadline for an instance replaces any previously armed
// callback, so an instance can never fire twice.
//
// The scheduler holds no durable state of its own; the instance store
// is authoritative and the reconciler re-arms everything after a
// restart.
type Scheduler struct {
	scheduler gocron.Scheduler
	clock     clockwork.Clock

	mu   sync.Mutex
	jobs map[int64]uuid.UUID
}

// NewScheduler creates a wake-up scheduler driven by the given clock.
func NewScheduler(clock clockwork.Clock) (*Scheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{
		scheduler: s,
		clock:     clock,
		jobs:      make(map[int64]uuid.UUID),
	}, nil
}

// Start begins dispatching armed callbacks.
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Stop shuts the scheduler down, dropping all armed callbacks.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}

// Arm schedules fn to run once at the given time, replacing any
// callback previously armed for the same instance. A deadline that is
// already due runs immediately.
func (s *Scheduler) Arm(instanceID int64, state model.InstanceState, at time.Time, fn func(instanceID int64, state model.InstanceState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(instanceID)

	startAt := gocron.OneTimeJobStartDateTime(at)
	if !at.After(s.clock.Now()) {
		startAt = gocron.OneTimeJobStartImmediately()
	}

	job, err := s.scheduler.NewJob(
		gocron.OneTimeJob(startAt),
		gocron.NewTask(func() { fn(instanceID, state) }),
		gocron.WithName(fmt.Sprintf("instance-%d-%s", instanceID, state)),
	)
	if err != nil {
		return fmt.Errorf("failed to arm wake-up for instance %d (%s): %w", instanceID, state, err)
	}

	s.jobs[instanceID] = job.ID()
	return nil
}

// Cancel drops the armed callback for an instance, if any. Cancelling
// an instance with nothing armed is not an error.
func (s *Scheduler) Cancel(instanceID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(instanceID)
}

// Armed reports whether a callback is currently armed for the instance.
func (s *Scheduler) Armed(instanceID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[instanceID]
	return ok
}

func (s *Scheduler) removeLocked(instanceID int64) {
	jobID, ok := s.jobs[instanceID]
	if !ok {
		return
	}
	if err := s.scheduler.RemoveJob(jobID); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
		log.Printf("failed to remove wake-up job for instance %d: %v", instanceID, err)
	}
	delete(s.jobs, instanceID)
}
