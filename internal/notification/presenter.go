package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"alarm-clock-backend/internal/model"
)

// Kind identifies the alarm event a push message describes.
type Kind string

const (
	KindLowNotification  Kind = "low_notification"
	KindHighNotification Kind = "high_notification"
	KindRinging          Kind = "ringing"
	KindMissed           Kind = "missed"
	KindSnoozed          Kind = "snoozed"
	KindCancel           Kind = "cancel"
	KindScheduleWarning  Kind = "schedule_warning"
)

// Message is the JSON payload delivered to every subscribed client.
type Message struct {
	Kind       Kind   `json:"kind"`
	InstanceID int64  `json:"instance_id"`
	Label      string `json:"label,omitempty"`
	AlarmTime  string `json:"alarm_time,omitempty"`
	Ringtone   string `json:"ringtone,omitempty"`
	Vibrate    bool   `json:"vibrate,omitempty"`
	Crescendo  int    `json:"crescendo_seconds,omitempty"`
	Body       string `json:"body,omitempty"`
}

// Sender defines the interface for sending a web push notification.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real implementation of Sender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool fans alarm events out to every registered push
// subscription. It implements the engine's Presenter interface; all
// calls are fire-and-forget and never block on delivery.
type WorkerPool struct {
	size    int
	jobs    chan Message
	db      *gorm.DB
	webpush *webpush.Options
	sender  Sender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Message, 64),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// SetSender replaces the push transport, for tests.
func (wp *WorkerPool) SetSender(s Sender) {
	wp.sender = s
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Notification worker %d started", id)
	for {
		select {
		case msg := <-wp.jobs:
			wp.broadcast(ctx, msg)
		case <-ctx.Done():
			log.Printf("Notification worker %d shutting down", id)
			return
		}
	}
}

// dispatch queues a message. A full queue drops the message rather than
// blocking the state machine; delivery here is best-effort by contract.
func (wp *WorkerPool) dispatch(msg Message) {
	select {
	case wp.jobs <- msg:
	default:
		log.Printf("notification queue full, dropping %s for instance %d", msg.Kind, msg.InstanceID)
	}
}

func instanceMessage(kind Kind, inst *model.AlarmInstance, body string) Message {
	return Message{
		Kind:       kind,
		InstanceID: inst.ID,
		Label:      inst.Label,
		AlarmTime:  fmt.Sprintf("%04d-%02d-%02dT%02d:%02d", inst.Year, inst.Month, inst.Day, inst.Hour, inst.Minute),
		Ringtone:   inst.Ringtone,
		Vibrate:    inst.Vibrate,
		Crescendo:  inst.CrescendoSeconds,
		Body:       body,
	}
}

// ShowLowNotification surfaces the early, low-priority reminder.
func (wp *WorkerPool) ShowLowNotification(ctx context.Context, inst *model.AlarmInstance) {
	wp.dispatch(instanceMessage(KindLowNotification, inst, "Upcoming alarm"))
}

// ShowHighNotification surfaces the imminent, high-priority reminder.
func (wp *WorkerPool) ShowHighNotification(ctx context.Context, inst *model.AlarmInstance) {
	wp.dispatch(instanceMessage(KindHighNotification, inst, "Alarm about to fire"))
}

// StartRinging tells clients to start ringing for the instance.
func (wp *WorkerPool) StartRinging(ctx context.Context, inst *model.AlarmInstance) {
	wp.dispatch(instanceMessage(KindRinging, inst, "Alarm ringing"))
}

// ShowMissed surfaces the missed-alarm notification.
func (wp *WorkerPool) ShowMissed(ctx context.Context, inst *model.AlarmInstance) {
	wp.dispatch(instanceMessage(KindMissed, inst, "Missed alarm"))
}

// ShowSnoozeMessage surfaces a transient snooze confirmation.
func (wp *WorkerPool) ShowSnoozeMessage(ctx context.Context, inst *model.AlarmInstance, until time.Time) {
	wp.dispatch(instanceMessage(KindSnoozed, inst, fmt.Sprintf("Snoozed until %s", until.Format("15:04"))))
}

// CancelNotification tells clients to tear down any notification or
// ringing for the instance.
func (wp *WorkerPool) CancelNotification(ctx context.Context, instanceID int64) {
	wp.dispatch(Message{Kind: KindCancel, InstanceID: instanceID})
}

// WarnSchedulingFailure surfaces a visible warning that a wake-up could
// not be armed, so the alarm never silently vanishes.
func (wp *WorkerPool) WarnSchedulingFailure(ctx context.Context, inst *model.AlarmInstance, err error) {
	wp.dispatch(instanceMessage(KindScheduleWarning, inst, fmt.Sprintf("Could not schedule alarm: %v", err)))
}

// broadcast sends a message to every registered subscription.
func (wp *WorkerPool) broadcast(ctx context.Context, msg Message) {
	var subscriptions []model.PushSubscription
	if err := wp.db.WithContext(ctx).Find(&subscriptions).Error; err != nil {
		log.Printf("Error fetching subscriptions: %v", err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Error marshalling notification payload: %v", err)
		return
	}

	log.Printf("Sending %s for instance %d to %d subscriptions", msg.Kind, msg.InstanceID, len(subscriptions))
	for _, sub := range subscriptions {
		wp.send(ctx, sub, payload)
	}
}

// send delivers a single web push notification.
func (wp *WorkerPool) send(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
