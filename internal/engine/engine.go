package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"

	"alarm-clock-backend/config"
	"alarm-clock-backend/internal/model"
	"alarm-clock-backend/internal/store"
)

// ErrTooEarlyToDismiss is returned when a pre-dismiss is attempted more
// than the configured cutoff before the instance's firing time.
var ErrTooEarlyToDismiss = errors.New("instance fires too far in the future to pre-dismiss")

// Wakeups arms and cancels the single timed callback per instance.
type Wakeups interface {
	Arm(instanceID int64, state model.InstanceState, at time.Time, fn func(instanceID int64, state model.InstanceState)) error
	Cancel(instanceID int64)
}

// Presenter receives fire-and-forget side-effect calls for the UI
// collaborator: notifications, ringing, transient messages. The engine
// never waits for acknowledgement.
type Presenter interface {
	ShowLowNotification(ctx context.Context, inst *model.AlarmInstance)
	ShowHighNotification(ctx context.Context, inst *model.AlarmInstance)
	StartRinging(ctx context.Context, inst *model.AlarmInstance)
	ShowMissed(ctx context.Context, inst *model.AlarmInstance)
	ShowSnoozeMessage(ctx context.Context, inst *model.AlarmInstance, until time.Time)
	CancelNotification(ctx context.Context, instanceID int64)
	WarnSchedulingFailure(ctx context.Context, inst *model.AlarmInstance, err error)
}

// Engine is the sole authority over alarm instance state. Every
// mutation of an instance row passes through here, serialized per
// instance id.
type Engine struct {
	store      store.Store
	wakeups    Wakeups
	presenter  Presenter
	clock      clockwork.Clock
	cfg        *config.AlarmConfig
	loc        atomic.Pointer[time.Location]
	locks      *keyedLocks
	alarmLocks *keyedLocks
}

// New creates the engine. The clock is injected so tests can drive
// time deterministically.
func New(st store.Store, wakeups Wakeups, presenter Presenter, clock clockwork.Clock, cfg *config.AlarmConfig) (*Engine, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		store:      st,
		wakeups:    wakeups,
		presenter:  presenter,
		clock:      clock,
		cfg:        cfg,
		locks:      newKeyedLocks(),
		alarmLocks: newKeyedLocks(),
	}
	e.loc.Store(loc)
	return e, nil
}

func (e *Engine) location() *time.Location {
	return e.loc.Load()
}

func (e *Engine) now() time.Time {
	return e.clock.Now().In(e.location())
}

// reloadLocation re-resolves the configured timezone after a
// timezone-change trigger.
func (e *Engine) reloadLocation() {
	loc, err := e.cfg.Location()
	if err != nil {
		log.Printf("failed to reload timezone: %v", err)
		return
	}
	e.loc.Store(loc)
}

// successor is the timeout transition out of each state. User actions
// (snooze, dismiss) take different edges and never go through here.
func successor(s model.InstanceState) model.InstanceState {
	switch s {
	case model.StateSilent:
		return model.StateLowNotification
	case model.StateLowNotification:
		return model.StateHighNotification
	case model.StateHighNotification:
		return model.StateFired
	case model.StateFired:
		return model.StateMissed
	case model.StateSnoozed:
		return model.StateFired
	case model.StateMissed:
		return model.StateDismissed
	}
	return s
}

// stateDeadline returns the absolute time at which the engine must be
// re-invoked for the instance's current state. ok is false when the
// state has no timeout (a fired alarm with auto-silence disabled rings
// until the user acts).
func (e *Engine) stateDeadline(inst *model.AlarmInstance) (deadline time.Time, ok bool) {
	t := inst.AlarmTime(e.location())
	switch inst.State {
	case model.StateSilent:
		return t.Add(-e.cfg.LowNotificationLead), true
	case model.StateLowNotification:
		return t.Add(-e.cfg.HighNotificationLead), true
	case model.StateHighNotification, model.StateSnoozed:
		return t, true
	case model.StateFired:
		if inst.AutoSilenceSeconds <= 0 {
			// Never, or ringing ends with the ringtone; either way the
			// transition comes from a user or presenter action, not a timeout.
			return time.Time{}, false
		}
		return t.Add(time.Duration(inst.AutoSilenceSeconds) * time.Second), true
	case model.StateMissed:
		if inst.MissedAt == nil {
			return time.Time{}, false
		}
		return inst.MissedAt.Add(e.cfg.MissedTimeToLive), true
	}
	return time.Time{}, false
}

// advanceLocked moves the instance through every transition that is
// already due, persists the result, emits the side effect for the final
// state only (intermediate notification states are collapsed silently)
// and re-arms the wake-up. A due terminal transition deletes the row;
// removed reports that, and the caller must run updateParent after
// releasing the instance lock. Caller must hold the instance lock.
func (e *Engine) advanceLocked(ctx context.Context, inst *model.AlarmInstance) (removed bool, err error) {
	now := e.now()
	orig := inst.State

	for {
		deadline, ok := e.stateDeadline(inst)
		if !ok || deadline.After(now) {
			break
		}
		next := successor(inst.State)
		if next == inst.State {
			break
		}
		if next == model.StateMissed {
			missedAt := deadline
			inst.MissedAt = &missedAt
		}
		if next.Terminal() {
			return true, e.removeInstanceLocked(ctx, inst, next)
		}
		inst.State = next
	}

	if inst.State != orig {
		if err := e.store.UpdateInstance(ctx, inst); err != nil {
			return false, fmt.Errorf("failed to persist transition of instance %d to %s: %w", inst.ID, inst.State, err)
		}
		log.Printf("instance %d advanced %s -> %s", inst.ID, orig, inst.State)
		e.present(ctx, inst)
	}
	e.armLocked(ctx, inst)
	return false, nil
}

// present emits the user-visible side effect associated with entering
// the instance's current state.
func (e *Engine) present(ctx context.Context, inst *model.AlarmInstance) {
	switch inst.State {
	case model.StateLowNotification:
		e.presenter.ShowLowNotification(ctx, inst)
	case model.StateHighNotification:
		e.presenter.ShowHighNotification(ctx, inst)
	case model.StateFired:
		e.presenter.StartRinging(ctx, inst)
	case model.StateMissed:
		e.presenter.ShowMissed(ctx, inst)
	}
}

// armLocked points the wake-up scheduler at the instance's current
// deadline, or cancels the wake-up when the state has none. A
// scheduling failure leaves the instance in its last known state and is
// surfaced to the user as a warning; the next reconciliation retries.
func (e *Engine) armLocked(ctx context.Context, inst *model.AlarmInstance) {
	deadline, ok := e.stateDeadline(inst)
	if !ok {
		e.wakeups.Cancel(inst.ID)
		return
	}
	if err := e.wakeups.Arm(inst.ID, inst.State, deadline, e.onWakeup); err != nil {
		log.Printf("failed to arm wake-up for instance %d: %v", inst.ID, err)
		e.presenter.WarnSchedulingFailure(ctx, inst, err)
	}
}

// onWakeup is the callback invoked by the wake-up scheduler.
func (e *Engine) onWakeup(instanceID int64, state model.InstanceState) {
	ev := Event{Type: EventCallbackFired, InstanceID: instanceID, State: state}
	if err := e.Handle(context.Background(), ev); err != nil {
		log.Printf("wake-up callback for instance %d failed: %v", instanceID, err)
	}
}

// callbackFired advances an instance whose state deadline has arrived.
// An instance that has vanished or moved on since the callback was
// armed is an expected race, not an error.
func (e *Engine) callbackFired(ctx context.Context, instanceID int64, state model.InstanceState) error {
	unlock := e.locks.Lock(instanceID)

	inst, err := e.store.GetInstance(ctx, instanceID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		unlock()
		log.Printf("wake-up for instance %d: instance already deleted, ignoring", instanceID)
		return nil
	}
	if err != nil {
		unlock()
		return fmt.Errorf("failed to load instance %d: %w", instanceID, err)
	}
	if inst.State != state {
		unlock()
		log.Printf("wake-up for instance %d: armed for %s but instance is now %s, ignoring stale callback",
			instanceID, state, inst.State)
		return nil
	}

	removed, err := e.advanceLocked(ctx, inst)
	unlock()
	if err != nil {
		return err
	}
	if removed {
		return e.updateParent(ctx, inst)
	}
	return nil
}

// RegisterInstance persists a new or updated instance and, if
// requested, arms the wake-up for its current state's deadline.
// Registering the same instance id, state and deadline again is a
// no-op beyond replacing an identical wake-up.
func (e *Engine) RegisterInstance(ctx context.Context, inst *model.AlarmInstance, updateWakeup bool) error {
	if inst.ID == 0 {
		if err := e.store.AddInstance(ctx, inst); err != nil {
			return err
		}
	} else {
		unlock := e.locks.Lock(inst.ID)
		err := e.store.UpdateInstance(ctx, inst)
		unlock()
		if err != nil {
			return err
		}
	}
	if updateWakeup {
		unlock := e.locks.Lock(inst.ID)
		defer unlock()
		e.armLocked(ctx, inst)
	}
	return nil
}

// SetSilentState force-transitions the instance to the silent state.
func (e *Engine) SetSilentState(ctx context.Context, inst *model.AlarmInstance) error {
	return e.setState(ctx, inst, model.StateSilent)
}

// SetLowNotificationState force-transitions the instance to the
// low-priority notification state.
func (e *Engine) SetLowNotificationState(ctx context.Context, inst *model.AlarmInstance) error {
	return e.setState(ctx, inst, model.StateLowNotification)
}

// SetHighNotificationState force-transitions the instance to the
// high-priority notification state.
func (e *Engine) SetHighNotificationState(ctx context.Context, inst *model.AlarmInstance) error {
	return e.setState(ctx, inst, model.StateHighNotification)
}

// SetFiredState force-transitions the instance to ringing.
func (e *Engine) SetFiredState(ctx context.Context, inst *model.AlarmInstance) error {
	return e.setState(ctx, inst, model.StateFired)
}

// SetMissedState force-transitions the instance to missed.
func (e *Engine) SetMissedState(ctx context.Context, inst *model.AlarmInstance) error {
	return e.setState(ctx, inst, model.StateMissed)
}

// setState persists a forced transition, emits its side effect and
// re-arms. If the instance no longer exists (deleted by a concurrent
// dismiss) the call logs and becomes a no-op.
func (e *Engine) setState(ctx context.Context, inst *model.AlarmInstance, state model.InstanceState) error {
	unlock := e.locks.Lock(inst.ID)
	defer unlock()

	cur, err := e.store.GetInstance(ctx, inst.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("set %s: instance %d no longer exists, ignoring", state, inst.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load instance %d: %w", inst.ID, err)
	}

	cur.State = state
	if state == model.StateMissed {
		now := e.now()
		cur.MissedAt = &now
	}
	if err := e.store.UpdateInstance(ctx, cur); err != nil {
		return fmt.Errorf("failed to persist instance %d in state %s: %w", cur.ID, state, err)
	}
	e.present(ctx, cur)
	e.armLocked(ctx, cur)
	*inst = *cur
	return nil
}

// SetSnoozeState suppresses ringing and rewrites the instance's firing
// time to now plus its snoozed duration. The instance returns to the
// fired state when the new time arrives.
func (e *Engine) SetSnoozeState(ctx context.Context, inst *model.AlarmInstance, showMessage bool) error {
	unlock := e.locks.Lock(inst.ID)
	defer unlock()

	cur, err := e.store.GetInstance(ctx, inst.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("snooze: instance %d no longer exists, ignoring", inst.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load instance %d: %w", inst.ID, err)
	}
	if cur.State != model.StateFired && cur.State != model.StateSnoozed {
		return fmt.Errorf("cannot snooze instance %d in state %s: it is not ringing", cur.ID, cur.State)
	}
	if cur.SnoozeMinutes <= 0 {
		return fmt.Errorf("snooze is disabled for instance %d", cur.ID)
	}

	target := e.now().Add(time.Duration(cur.SnoozeMinutes) * time.Minute)
	cur.SetAlarmTime(target)
	cur.State = model.StateSnoozed
	cur.MissedAt = nil
	if err := e.store.UpdateInstance(ctx, cur); err != nil {
		return fmt.Errorf("failed to persist snooze of instance %d: %w", cur.ID, err)
	}
	log.Printf("instance %d snoozed until %s", cur.ID, cur.AlarmTime(e.location()))

	if showMessage {
		e.presenter.ShowSnoozeMessage(ctx, cur, cur.AlarmTime(e.location()))
	}
	e.armLocked(ctx, cur)
	*inst = *cur
	return nil
}

// SetDismissState terminally dismisses an instance: the row is deleted
// and, for a repeating enabled parent, the next instance is synthesized
// and registered.
func (e *Engine) SetDismissState(ctx context.Context, inst *model.AlarmInstance) error {
	return e.dismiss(ctx, inst.ID, false)
}

// SetPreDismissState dismisses an instance before its notification
// window so it never rings. Rejected with ErrTooEarlyToDismiss when the
// firing time is more than the configured cutoff away.
func (e *Engine) SetPreDismissState(ctx context.Context, inst *model.AlarmInstance) error {
	return e.dismiss(ctx, inst.ID, true)
}

// DeleteInstanceAndUpdateParent dismisses a fired or snoozed instance.
// Any active ringing or notification is torn down by the presenter via
// CancelNotification.
func (e *Engine) DeleteInstanceAndUpdateParent(ctx context.Context, inst *model.AlarmInstance) error {
	return e.dismiss(ctx, inst.ID, false)
}

func (e *Engine) dismiss(ctx context.Context, instanceID int64, pre bool) error {
	unlock := e.locks.Lock(instanceID)

	inst, err := e.store.GetInstance(ctx, instanceID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		unlock()
		log.Printf("dismiss: instance %d no longer exists, ignoring", instanceID)
		return nil
	}
	if err != nil {
		unlock()
		return fmt.Errorf("failed to load instance %d: %w", instanceID, err)
	}

	terminal := model.StateDismissed
	if pre {
		if until := inst.AlarmTime(e.location()).Sub(e.now()); until > e.cfg.PredismissCutoff {
			unlock()
			return ErrTooEarlyToDismiss
		}
		terminal = model.StatePredismissed
	}
	err = e.removeInstanceLocked(ctx, inst, terminal)
	unlock()
	if err != nil {
		return err
	}
	return e.updateParent(ctx, inst)
}

// removeInstanceLocked deletes a terminally-transitioned instance and
// tears down its wake-up and notifications. Caller must hold the
// instance lock and, once it is released, run updateParent.
func (e *Engine) removeInstanceLocked(ctx context.Context, inst *model.AlarmInstance, terminal model.InstanceState) error {
	if err := e.store.DeleteInstance(ctx, inst.ID); err != nil {
		return fmt.Errorf("failed to delete instance %d: %w", inst.ID, err)
	}
	e.wakeups.Cancel(inst.ID)
	e.presenter.CancelNotification(ctx, inst.ID)
	log.Printf("instance %d %s", inst.ID, terminal)
	return nil
}

// updateParent applies a terminal transition's consequence to the
// parent alarm: repeating enabled alarms get their next instance,
// one-shot alarms are disabled or deleted per DeleteAfterUse. Must run
// without the removed instance's lock held: the replacement row can be
// handed the freed id, and CreateNextInstance locks it.
func (e *Engine) updateParent(ctx context.Context, inst *model.AlarmInstance) error {
	if !inst.HasParent() {
		return nil
	}

	alarm, err := e.store.GetAlarm(ctx, *inst.AlarmID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("parent alarm %d of instance %d already deleted", *inst.AlarmID, inst.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load parent alarm %d: %w", *inst.AlarmID, err)
	}

	if alarm.DaysOfWeek.IsRepeating() {
		if !alarm.Enabled {
			return nil
		}
		_, err := e.CreateNextInstance(ctx, alarm)
		return err
	}

	if alarm.DeleteAfterUse {
		_, err := e.store.DeleteAlarm(ctx, alarm.ID)
		if err != nil {
			return fmt.Errorf("failed to delete one-shot alarm %d: %w", alarm.ID, err)
		}
		return nil
	}
	alarm.Enabled = false
	if err := e.store.UpdateAlarm(ctx, alarm); err != nil {
		return fmt.Errorf("failed to disable one-shot alarm %d: %w", alarm.ID, err)
	}
	return nil
}

// CreateNextInstance synthesizes and registers the instance for the
// alarm's next strictly-future occurrence. If a non-terminal instance
// already exists for the alarm it is returned unchanged, preserving the
// one-instance-per-alarm invariant; the query and insert run under a
// per-alarm lock so concurrent triggers (a reconciliation pass racing
// an HTTP enable) cannot both insert.
func (e *Engine) CreateNextInstance(ctx context.Context, alarm *model.Alarm) (*model.AlarmInstance, error) {
	unlockAlarm := e.alarmLocks.Lock(alarm.ID)
	existing, err := e.store.GetNextUpcomingInstanceByAlarmID(ctx, alarm.ID)
	if err == nil {
		unlockAlarm()
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		unlockAlarm()
		return nil, fmt.Errorf("failed to query upcoming instance of alarm %d: %w", alarm.ID, err)
	}

	inst := model.NewInstanceFromAlarm(alarm, alarm.NextFiringTime(e.now()))
	if err := e.store.AddInstance(ctx, inst); err != nil {
		unlockAlarm()
		return nil, err
	}
	unlockAlarm()
	log.Printf("created instance %d for alarm %d at %s", inst.ID, alarm.ID, inst.AlarmTime(e.location()))

	unlock := e.locks.Lock(inst.ID)
	removed, err := e.advanceLocked(ctx, inst)
	unlock()
	if err != nil || !removed {
		return inst, err
	}
	// The next occurrence is strictly future, so an immediate terminal
	// transition cannot normally happen; handle it for completeness.
	return inst, e.updateParent(ctx, inst)
}

// DeleteAllInstances removes every instance of an alarm and cancels
// their pending wake-ups. Used when the alarm is deleted or disabled.
func (e *Engine) DeleteAllInstances(ctx context.Context, alarmID int64) error {
	ids, err := e.store.DeleteInstancesByAlarmID(ctx, alarmID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		e.wakeups.Cancel(id)
		e.presenter.CancelNotification(ctx, id)
	}
	return nil
}

// CancelWakeups cancels pending wake-ups and notifications for
// already-deleted instance rows.
func (e *Engine) CancelWakeups(ctx context.Context, instanceIDs []int64) {
	for _, id := range instanceIDs {
		e.wakeups.Cancel(id)
		e.presenter.CancelNotification(ctx, id)
	}
}

// FixAlarmInstances re-derives the correct state of every stored
// instance from the current wall-clock time and re-arms its wake-up.
// It also restores the invariant that every enabled repeating alarm has
// an upcoming instance. A failure on one instance never blocks the
// rest; failed writes are retried on the next reconciliation trigger.
//
// Running it twice with no intervening time change is a no-op.
func (e *Engine) FixAlarmInstances(ctx context.Context) error {
	instances, err := e.store.GetAllInstances(ctx)
	if err != nil {
		return fmt.Errorf("failed to load instances: %w", err)
	}

	var firstErr error
	for i := range instances {
		id := instances[i].ID
		unlock := e.locks.Lock(id)
		// Reload under the lock; a user action may have raced us.
		cur, err := e.store.GetInstance(ctx, id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			unlock()
			continue
		}
		var removed bool
		if err == nil {
			removed, err = e.advanceLocked(ctx, cur)
		}
		unlock()
		if err == nil && removed {
			err = e.updateParent(ctx, cur)
		}
		if err != nil {
			log.Printf("failed to fix instance %d: %v", id, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	alarms, err := e.store.GetAlarms(ctx)
	if err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("failed to load alarms: %w", err)
		}
		return firstErr
	}
	for i := range alarms {
		alarm := alarms[i]
		if !alarm.Enabled {
			continue
		}
		if _, err := e.CreateNextInstance(ctx, &alarm); err != nil {
			log.Printf("failed to create missing instance for alarm %d: %v", alarm.ID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
