package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"

	"alarm-clock-backend/internal/model"
)

// EventType identifies an external trigger delivered to the engine.
type EventType string

const (
	EventBootCompleted   EventType = "boot_completed"
	EventTimeChanged     EventType = "time_changed"
	EventTimezoneChanged EventType = "timezone_changed"
	EventPackageReplaced EventType = "package_replaced"
	EventCallbackFired   EventType = "callback_fired"
	EventUserAction      EventType = "user_action"
)

// UserAction is the action a user took on an alarm instance.
type UserAction string

const (
	ActionSnooze     UserAction = "snooze"
	ActionDismiss    UserAction = "dismiss"
	ActionPredismiss UserAction = "predismiss"
)

// Event is a trigger for the state machine. The delivery mechanism
// (HTTP handler, wake-up callback, process start) is decoupled from the
// engine entirely; any source can synthesize events.
type Event struct {
	Type       EventType
	InstanceID int64
	State      model.InstanceState
	Action     UserAction
}

// Handle dispatches an event to the matching engine entry point.
func (e *Engine) Handle(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventBootCompleted, EventTimeChanged, EventPackageReplaced:
		return e.FixAlarmInstances(ctx)
	case EventTimezoneChanged:
		e.reloadLocation()
		return e.FixAlarmInstances(ctx)
	case EventCallbackFired:
		return e.callbackFired(ctx, ev.InstanceID, ev.State)
	case EventUserAction:
		return e.userAction(ctx, ev.InstanceID, ev.Action)
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
}

func (e *Engine) userAction(ctx context.Context, instanceID int64, action UserAction) error {
	inst, err := e.store.GetInstance(ctx, instanceID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("user action %s: instance %d no longer exists, ignoring", action, instanceID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load instance %d: %w", instanceID, err)
	}

	switch action {
	case ActionSnooze:
		return e.SetSnoozeState(ctx, inst, true)
	case ActionDismiss:
		// Dismissing an instance that has not fired yet is a
		// pre-dismiss and subject to the pre-dismiss cutoff.
		switch inst.State {
		case model.StateSilent, model.StateLowNotification, model.StateHighNotification:
			return e.SetPreDismissState(ctx, inst)
		default:
			return e.DeleteInstanceAndUpdateParent(ctx, inst)
		}
	case ActionPredismiss:
		return e.SetPreDismissState(ctx, inst)
	default:
		return fmt.Errorf("unknown user action %q", action)
	}
}
