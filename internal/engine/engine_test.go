package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"alarm-clock-backend/config"
	"alarm-clock-backend/internal/db"
	"alarm-clock-backend/internal/model"
	"alarm-clock-backend/internal/store"
)

// mockWakeups records arm/cancel calls and lets tests fire the armed
// callback by hand.
type mockWakeups struct {
	mu        sync.Mutex
	armed     map[int64]armedWakeup
	cancelled []int64
	armErr    error
}

type armedWakeup struct {
	state model.InstanceState
	at    time.Time
	fn    func(instanceID int64, state model.InstanceState)
}

func newMockWakeups() *mockWakeups {
	return &mockWakeups{armed: make(map[int64]armedWakeup)}
}

func (m *mockWakeups) Arm(instanceID int64, state model.InstanceState, at time.Time, fn func(int64, model.InstanceState)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.armErr != nil {
		return m.armErr
	}
	m.armed[instanceID] = armedWakeup{state: state, at: at, fn: fn}
	return nil
}

func (m *mockWakeups) Cancel(instanceID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.armed, instanceID)
	m.cancelled = append(m.cancelled, instanceID)
}

func (m *mockWakeups) get(instanceID int64) (armedWakeup, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.armed[instanceID]
	return w, ok
}

// fire invokes the armed callback the way the scheduler would.
func (m *mockWakeups) fire(t *testing.T, instanceID int64) {
	t.Helper()
	w, ok := m.get(instanceID)
	require.True(t, ok, "no wake-up armed for instance %d", instanceID)
	w.fn(instanceID, w.state)
}

// mockPresenter records side-effect calls as "kind:instanceID" strings.
type mockPresenter struct {
	mu    sync.Mutex
	calls []string
}

func (m *mockPresenter) record(kind string, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf("%s:%d", kind, id))
}

func (m *mockPresenter) ShowLowNotification(ctx context.Context, inst *model.AlarmInstance) {
	m.record("low", inst.ID)
}
func (m *mockPresenter) ShowHighNotification(ctx context.Context, inst *model.AlarmInstance) {
	m.record("high", inst.ID)
}
func (m *mockPresenter) StartRinging(ctx context.Context, inst *model.AlarmInstance) {
	m.record("ringing", inst.ID)
}
func (m *mockPresenter) ShowMissed(ctx context.Context, inst *model.AlarmInstance) {
	m.record("missed", inst.ID)
}
func (m *mockPresenter) ShowSnoozeMessage(ctx context.Context, inst *model.AlarmInstance, until time.Time) {
	m.record("snooze", inst.ID)
}
func (m *mockPresenter) CancelNotification(ctx context.Context, instanceID int64) {
	m.record("cancel", instanceID)
}
func (m *mockPresenter) WarnSchedulingFailure(ctx context.Context, inst *model.AlarmInstance, err error) {
	m.record("warn", inst.ID)
}

func (m *mockPresenter) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockPresenter) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

type testEnv struct {
	eng       *Engine
	store     store.Store
	wakeups   *mockWakeups
	presenter *mockPresenter
	clock     *clockwork.FakeClock
}

func newTestEnv(t *testing.T, start time.Time) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gormDB))
	t.Cleanup(func() {
		sqlDB, _ := gormDB.DB()
		sqlDB.Close()
	})

	env := &testEnv{
		store:     store.NewGormStore(gormDB),
		wakeups:   newMockWakeups(),
		presenter: &mockPresenter{},
		clock:     clockwork.NewFakeClockAt(start),
	}
	cfg := &config.AlarmConfig{
		Timezone:             "UTC",
		LowNotificationLead:  2 * time.Hour,
		HighNotificationLead: 30 * time.Minute,
		PredismissCutoff:     24 * time.Hour,
		MissedTimeToLive:     12 * time.Hour,
	}
	env.eng, err = New(env.store, env.wakeups, env.presenter, env.clock, cfg)
	require.NoError(t, err)
	return env
}

func (env *testEnv) addAlarm(t *testing.T, alarm *model.Alarm) *model.Alarm {
	t.Helper()
	require.NoError(t, env.store.AddAlarm(context.Background(), alarm))
	return alarm
}

func oneShot(hour, minute int) *model.Alarm {
	return &model.Alarm{
		Hour: hour, Minute: minute,
		Enabled:            true,
		Label:              "wake up",
		SnoozeMinutes:      10,
		AutoSilenceSeconds: 600,
	}
}

// Scenario: alarm for 07:00 created at 06:00 the same day. It lands in
// the high-notification window immediately, fires exactly at 07:00.
func TestUpcomingAlarmReachesFiredAtAlarmTime(t *testing.T) {
	start := time.Date(2025, 6, 2, 5, 0, 0, 0, time.UTC) // Monday 05:00
	env := newTestEnv(t, start)
	ctx := context.Background()

	alarm := env.addAlarm(t, oneShot(7, 0))
	inst, err := env.eng.CreateNextInstance(ctx, alarm)
	require.NoError(t, err)

	// 05:00 is exactly the low-notification boundary (07:00 - 2h).
	assert.Equal(t, model.StateLowNotification, inst.State)
	assert.Equal(t, []string{fmt.Sprintf("low:%d", inst.ID)}, env.presenter.snapshot())

	w, ok := env.wakeups.get(inst.ID)
	require.True(t, ok)
	assert.Equal(t, model.StateLowNotification, w.state)
	assert.Equal(t, time.Date(2025, 6, 2, 6, 30, 0, 0, time.UTC), w.at)

	env.clock.Advance(90 * time.Minute) // 06:30
	env.wakeups.fire(t, inst.ID)
	cur, err := env.store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateHighNotification, cur.State)

	w, _ = env.wakeups.get(inst.ID)
	assert.Equal(t, time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC), w.at)

	env.clock.Advance(30 * time.Minute) // 07:00 exactly
	env.wakeups.fire(t, inst.ID)
	cur, err = env.store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateFired, cur.State)
	assert.Contains(t, env.presenter.snapshot(), fmt.Sprintf("ringing:%d", inst.ID))

	// Auto-silence timeout is armed as an ordinary wake-up.
	w, _ = env.wakeups.get(inst.ID)
	assert.Equal(t, model.StateFired, w.state)
	assert.Equal(t, time.Date(2025, 6, 2, 7, 10, 0, 0, time.UTC), w.at)
}

// Scenario: snoozing a ringing alarm for 10 minutes re-fires when the
// snooze target arrives.
func TestSnoozeReturnsToFired(t *testing.T) {
	start := time.Date(2025, 6, 2, 6, 55, 0, 0, time.UTC)
	env := newTestEnv(t, start)
	ctx := context.Background()

	alarm := env.addAlarm(t, oneShot(7, 0))
	inst, err := env.eng.CreateNextInstance(ctx, alarm)
	require.NoError(t, err)

	env.clock.Advance(5*time.Minute + 5*time.Second) // 07:00:05
	env.wakeups.fire(t, inst.ID)
	cur, err := env.store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	require.Equal(t, model.StateFired, cur.State)

	require.NoError(t, env.eng.SetSnoozeState(ctx, cur, true))
	assert.Equal(t, model.StateSnoozed, cur.State)
	// The firing time is rewritten to now + 10 minutes, at minute
	// granularity.
	assert.Equal(t, time.Date(2025, 6, 2, 7, 10, 0, 0, time.UTC), cur.AlarmTime(time.UTC))
	assert.Contains(t, env.presenter.snapshot(), fmt.Sprintf("snooze:%d", inst.ID))

	w, ok := env.wakeups.get(inst.ID)
	require.True(t, ok)
	assert.Equal(t, model.StateSnoozed, w.state)

	env.clock.Advance(10 * time.Minute)
	env.wakeups.fire(t, inst.ID)
	cur, err = env.store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateFired, cur.State)
}

// Scenario: the device is off from 06:55 through 07:20 for a 07:00
// alarm with a 10-minute auto-silence. Reconciliation moves the
// instance straight to missed without ever ringing.
func TestReconcileAdvancesToMissedWithoutRinging(t *testing.T) {
	start := time.Date(2025, 6, 2, 4, 0, 0, 0, time.UTC)
	env := newTestEnv(t, start)
	ctx := context.Background()

	alarm := env.addAlarm(t, oneShot(7, 0))
	inst, err := env.eng.CreateNextInstance(ctx, alarm)
	require.NoError(t, err)
	require.Equal(t, model.StateSilent, inst.State)

	// Power off until 07:20.
	env.clock.Advance(3*time.Hour + 20*time.Minute)
	env.presenter.reset()

	require.NoError(t, env.eng.Handle(ctx, Event{Type: EventBootCompleted}))

	cur, err := env.store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateMissed, cur.State)
	require.NotNil(t, cur.MissedAt)
	assert.Equal(t, time.Date(2025, 6, 2, 7, 10, 0, 0, time.UTC), cur.MissedAt.UTC())

	// Intermediate notification states are collapsed: only the missed
	// notification is user-visible.
	assert.Equal(t, []string{fmt.Sprintf("missed:%d", inst.ID)}, env.presenter.snapshot())
}

// Scenario: a Mon/Wed/Fri alarm dismissed after firing on Monday gets a
// fresh instance for Wednesday.
func TestRepeatingAlarmRollsToNextDayOnDismiss(t *testing.T) {
	start := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC) // Monday 08:00
	env := newTestEnv(t, start)
	ctx := context.Background()

	alarm := oneShot(8, 0)
	alarm.DaysOfWeek = model.Weekdays(0).With(time.Monday).With(time.Wednesday).With(time.Friday)
	env.addAlarm(t, alarm)

	monday := model.NewInstanceFromAlarm(alarm, start)
	monday.State = model.StateFired
	require.NoError(t, env.store.AddInstance(ctx, monday))

	require.NoError(t, env.eng.DeleteInstanceAndUpdateParent(ctx, monday))

	_, err := env.store.GetInstance(ctx, monday.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.Contains(t, env.presenter.snapshot(), fmt.Sprintf("cancel:%d", monday.ID))

	next, err := env.store.GetNextUpcomingInstanceByAlarmID(ctx, alarm.ID)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 4, 8, 0, 0, 0, time.UTC), next.AlarmTime(time.UTC))
	assert.Equal(t, model.StateSilent, next.State)

	// The parent stays enabled: repeating alarms roll forever.
	parent, err := env.store.GetAlarm(ctx, alarm.ID)
	require.NoError(t, err)
	assert.True(t, parent.Enabled)
}

// Scenario: dismissing an instance an hour before it fires pre-empts
// the firing entirely and disables the one-shot parent.
func TestPredismissWithinWindow(t *testing.T) {
	start := time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC)
	env := newTestEnv(t, start)
	ctx := context.Background()

	alarm := env.addAlarm(t, oneShot(7, 0))
	inst, err := env.eng.CreateNextInstance(ctx, alarm)
	require.NoError(t, err)

	require.NoError(t, env.eng.SetPreDismissState(ctx, inst))

	_, err = env.store.GetInstance(ctx, inst.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	_, armed := env.wakeups.get(inst.ID)
	assert.False(t, armed)

	parent, err := env.store.GetAlarm(ctx, alarm.ID)
	require.NoError(t, err)
	assert.False(t, parent.Enabled)
}

// Scenario: a pre-dismiss more than 24 hours ahead is rejected and
// nothing changes.
func TestPredismissTooEarlyIsRejected(t *testing.T) {
	start := time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC)
	env := newTestEnv(t, start)
	ctx := context.Background()

	alarm := oneShot(7, 0)
	alarm.DaysOfWeek = model.Weekdays(0).With(time.Thursday) // fires Thursday, >24h away
	env.addAlarm(t, alarm)
	inst, err := env.eng.CreateNextInstance(ctx, alarm)
	require.NoError(t, err)

	err = env.eng.SetPreDismissState(ctx, inst)
	assert.ErrorIs(t, err, ErrTooEarlyToDismiss)

	cur, err := env.store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateSilent, cur.State)
}

func TestOneShotDeleteAfterUse(t *testing.T) {
	start := time.Date(2025, 6, 2, 6, 59, 0, 0, time.UTC)
	env := newTestEnv(t, start)
	ctx := context.Background()

	alarm := oneShot(7, 0)
	alarm.DeleteAfterUse = true
	env.addAlarm(t, alarm)
	inst, err := env.eng.CreateNextInstance(ctx, alarm)
	require.NoError(t, err)

	require.NoError(t, env.eng.SetDismissState(ctx, inst))

	_, err = env.store.GetAlarm(ctx, alarm.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	all, err := env.store.GetAllInstances(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStaleAndOrphanCallbacksAreIgnored(t *testing.T) {
	start := time.Date(2025, 6, 2, 5, 0, 0, 0, time.UTC)
	env := newTestEnv(t, start)
	ctx := context.Background()

	// Callback for an instance that never existed.
	require.NoError(t, env.eng.Handle(ctx, Event{Type: EventCallbackFired, InstanceID: 4242, State: model.StateSilent}))

	alarm := env.addAlarm(t, oneShot(7, 0))
	inst, err := env.eng.CreateNextInstance(ctx, alarm)
	require.NoError(t, err)
	require.Equal(t, model.StateLowNotification, inst.State)

	// Callback armed for a state the instance has already left.
	require.NoError(t, env.eng.Handle(ctx, Event{Type: EventCallbackFired, InstanceID: inst.ID, State: model.StateSilent}))
	cur, err := env.store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateLowNotification, cur.State)
}

func TestFixAlarmInstancesIsIdempotent(t *testing.T) {
	start := time.Date(2025, 6, 2, 5, 0, 0, 0, time.UTC)
	env := newTestEnv(t, start)
	ctx := context.Background()

	repeating := oneShot(9, 0)
	repeating.DaysOfWeek = model.AllWeekdays
	env.addAlarm(t, repeating)
	env.addAlarm(t, oneShot(7, 0))

	require.NoError(t, env.eng.FixAlarmInstances(ctx))
	first, err := env.store.GetAllInstances(ctx)
	require.NoError(t, err)
	require.Len(t, first, 2)

	env.presenter.reset()
	require.NoError(t, env.eng.FixAlarmInstances(ctx))
	second, err := env.store.GetAllInstances(ctx)
	require.NoError(t, err)

	require.Len(t, second, 2)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].State, second[i].State)
		assert.Equal(t, first[i].AlarmTime(time.UTC), second[i].AlarmTime(time.UTC))
	}
	// No new side effects when nothing changed.
	assert.Empty(t, env.presenter.snapshot())
}

// Every enabled alarm keeps exactly one non-terminal instance, even if
// its instance row was lost.
func TestFixRestoresMissingInstances(t *testing.T) {
	start := time.Date(2025, 6, 2, 5, 0, 0, 0, time.UTC)
	env := newTestEnv(t, start)
	ctx := context.Background()

	alarm := oneShot(9, 0)
	alarm.DaysOfWeek = model.AllWeekdays
	env.addAlarm(t, alarm)

	require.NoError(t, env.eng.FixAlarmInstances(ctx))
	inst, err := env.store.GetNextUpcomingInstanceByAlarmID(ctx, alarm.ID)
	require.NoError(t, err)

	// A second create keeps the existing instance.
	again, err := env.eng.CreateNextInstance(ctx, &model.Alarm{ID: alarm.ID, Hour: 9, DaysOfWeek: alarm.DaysOfWeek, Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, inst.ID, again.ID)

	all, err := env.store.GetAllInstances(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// A missed instance that outlives its time-to-live is dismissed and the
// repeating parent rolls forward.
func TestMissedInstanceExpiresAfterTTL(t *testing.T) {
	start := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC) // Monday 08:00
	env := newTestEnv(t, start)
	ctx := context.Background()

	alarm := oneShot(8, 0)
	alarm.DaysOfWeek = model.Weekdays(0).With(time.Monday).With(time.Wednesday)
	env.addAlarm(t, alarm)

	inst := model.NewInstanceFromAlarm(alarm, start)
	inst.State = model.StateFired
	require.NoError(t, env.store.AddInstance(ctx, inst))

	// Ten minutes later the auto-silence deadline passes; twelve hours
	// after that the missed notification expires.
	env.clock.Advance(13 * time.Hour)
	require.NoError(t, env.eng.FixAlarmInstances(ctx))

	_, err := env.store.GetInstance(ctx, inst.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	next, err := env.store.GetNextUpcomingInstanceByAlarmID(ctx, alarm.ID)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 4, 8, 0, 0, 0, time.UTC), next.AlarmTime(time.UTC))
}

func TestFiredWithoutAutoSilenceHasNoTimeout(t *testing.T) {
	start := time.Date(2025, 6, 2, 6, 59, 0, 0, time.UTC)
	env := newTestEnv(t, start)
	ctx := context.Background()

	alarm := oneShot(7, 0)
	alarm.AutoSilenceSeconds = model.AutoSilenceNever
	env.addAlarm(t, alarm)
	inst, err := env.eng.CreateNextInstance(ctx, alarm)
	require.NoError(t, err)

	env.clock.Advance(2 * time.Hour)
	require.NoError(t, env.eng.FixAlarmInstances(ctx))

	cur, err := env.store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	// Still ringing: no auto-silence means no missed transition.
	assert.Equal(t, model.StateFired, cur.State)
	_, armed := env.wakeups.get(inst.ID)
	assert.False(t, armed)
}

func TestSchedulingFailureIsSurfaced(t *testing.T) {
	start := time.Date(2025, 6, 2, 5, 0, 0, 0, time.UTC)
	env := newTestEnv(t, start)
	ctx := context.Background()

	env.wakeups.armErr = fmt.Errorf("exact alarms not permitted")

	alarm := env.addAlarm(t, oneShot(7, 0))
	inst, err := env.eng.CreateNextInstance(ctx, alarm)
	require.NoError(t, err)

	// The instance keeps its state and the user sees a warning.
	cur, err := env.store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateLowNotification, cur.State)
	assert.Contains(t, env.presenter.snapshot(), fmt.Sprintf("warn:%d", inst.ID))
}

func TestSnoozeDisabledIsAnError(t *testing.T) {
	start := time.Date(2025, 6, 2, 6, 59, 0, 0, time.UTC)
	env := newTestEnv(t, start)
	ctx := context.Background()

	alarm := oneShot(7, 0)
	alarm.SnoozeMinutes = model.SnoozeDisabled
	env.addAlarm(t, alarm)
	inst, err := env.eng.CreateNextInstance(ctx, alarm)
	require.NoError(t, err)

	env.clock.Advance(time.Minute)
	env.wakeups.fire(t, inst.ID)
	cur, err := env.store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	require.Equal(t, model.StateFired, cur.State)

	assert.Error(t, env.eng.SetSnoozeState(ctx, cur, false))
}

// Snoozing only makes sense while the alarm is ringing. A snooze request
// against an instance that has not fired yet must be rejected without
// touching its firing time.
func TestSnoozeBeforeFiringIsRejected(t *testing.T) {
	start := time.Date(2025, 6, 2, 5, 0, 0, 0, time.UTC) // Monday 05:00
	env := newTestEnv(t, start)
	ctx := context.Background()

	alarm := oneShot(7, 0)
	alarm.DaysOfWeek = model.Weekdays(0).With(time.Thursday)
	env.addAlarm(t, alarm)
	inst, err := env.eng.CreateNextInstance(ctx, alarm)
	require.NoError(t, err)
	require.Equal(t, model.StateSilent, inst.State)

	assert.Error(t, env.eng.SetSnoozeState(ctx, inst, true))
	assert.Error(t, env.eng.Handle(ctx, Event{Type: EventUserAction, InstanceID: inst.ID, Action: ActionSnooze}))

	cur, err := env.store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateSilent, cur.State)
	assert.Equal(t, time.Date(2025, 6, 5, 7, 0, 0, 0, time.UTC), cur.AlarmTime(time.UTC))
	assert.NotContains(t, env.presenter.snapshot(), fmt.Sprintf("snooze:%d", inst.ID))
}

// A dismiss request for an instance that has not fired yet is a
// pre-dismiss: more than the cutoff ahead it is rejected, within the
// cutoff it removes the instance.
func TestDismissBeforeFiringHonorsCutoff(t *testing.T) {
	start := time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC) // Monday 06:00
	env := newTestEnv(t, start)
	ctx := context.Background()

	farAlarm := oneShot(7, 0)
	farAlarm.DaysOfWeek = model.Weekdays(0).With(time.Thursday)
	env.addAlarm(t, farAlarm)
	far, err := env.eng.CreateNextInstance(ctx, farAlarm)
	require.NoError(t, err)
	require.Equal(t, model.StateSilent, far.State)

	err = env.eng.Handle(ctx, Event{Type: EventUserAction, InstanceID: far.ID, Action: ActionDismiss})
	assert.ErrorIs(t, err, ErrTooEarlyToDismiss)
	cur, err := env.store.GetInstance(ctx, far.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateSilent, cur.State)

	nearAlarm := env.addAlarm(t, oneShot(7, 0))
	near, err := env.eng.CreateNextInstance(ctx, nearAlarm)
	require.NoError(t, err)
	require.Equal(t, model.StateLowNotification, near.State)

	require.NoError(t, env.eng.Handle(ctx, Event{Type: EventUserAction, InstanceID: near.ID, Action: ActionDismiss}))
	_, err = env.store.GetInstance(ctx, near.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	parent, err := env.store.GetAlarm(ctx, nearAlarm.ID)
	require.NoError(t, err)
	assert.False(t, parent.Enabled)
}

// Dismissing twice in a row exercises sqlite's rowid reuse: the second
// instance is handed the id the first one freed, so the rollover after
// the second dismiss must not trip over any bookkeeping left behind for
// that id.
func TestConsecutiveDismissalsRollThroughReusedIDs(t *testing.T) {
	start := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC) // Monday 08:00
	env := newTestEnv(t, start)
	ctx := context.Background()

	alarm := oneShot(8, 0)
	alarm.DaysOfWeek = model.Weekdays(0).With(time.Monday).With(time.Wednesday)
	env.addAlarm(t, alarm)

	monday := model.NewInstanceFromAlarm(alarm, start)
	monday.State = model.StateFired
	require.NoError(t, env.store.AddInstance(ctx, monday))

	require.NoError(t, env.eng.Handle(ctx, Event{Type: EventUserAction, InstanceID: monday.ID, Action: ActionDismiss}))

	wednesday, err := env.store.GetNextUpcomingInstanceByAlarmID(ctx, alarm.ID)
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 6, 4, 8, 0, 0, 0, time.UTC), wednesday.AlarmTime(time.UTC))

	// Ride the Wednesday instance up to ringing, then dismiss it too.
	env.clock.Advance(48 * time.Hour)
	require.NoError(t, env.eng.FixAlarmInstances(ctx))
	cur, err := env.store.GetInstance(ctx, wednesday.ID)
	require.NoError(t, err)
	require.Equal(t, model.StateFired, cur.State)

	require.NoError(t, env.eng.Handle(ctx, Event{Type: EventUserAction, InstanceID: wednesday.ID, Action: ActionDismiss}))

	all, err := env.store.GetAllInstances(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, time.Date(2025, 6, 9, 8, 0, 0, 0, time.UTC), all[0].AlarmTime(time.UTC))
	assert.Equal(t, model.StateSilent, all[0].State)
}

// Concurrent next-instance synthesis for the same alarm must never
// produce more than one non-terminal instance.
func TestConcurrentCreateNextInstanceYieldsSingleInstance(t *testing.T) {
	start := time.Date(2025, 6, 2, 5, 0, 0, 0, time.UTC) // Monday 05:00
	env := newTestEnv(t, start)
	ctx := context.Background()

	alarm := oneShot(9, 0)
	alarm.DaysOfWeek = model.AllWeekdays
	env.addAlarm(t, alarm)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.eng.CreateNextInstance(ctx, alarm)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := env.store.GetAllInstances(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC), all[0].AlarmTime(time.UTC))
}

func TestUserActionOnDeletedInstanceIsNoOp(t *testing.T) {
	start := time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC)
	env := newTestEnv(t, start)
	ctx := context.Background()

	assert.NoError(t, env.eng.Handle(ctx, Event{Type: EventUserAction, InstanceID: 777, Action: ActionDismiss}))
	assert.NoError(t, env.eng.Handle(ctx, Event{Type: EventUserAction, InstanceID: 777, Action: ActionSnooze}))
}

func TestStandaloneInstanceDismissLeavesNoParentBehind(t *testing.T) {
	start := time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC)
	env := newTestEnv(t, start)
	ctx := context.Background()

	inst := &model.AlarmInstance{State: model.StateFired, Label: "ad-hoc", SnoozeMinutes: 10, AutoSilenceSeconds: 600}
	inst.SetAlarmTime(start)
	require.NoError(t, env.eng.RegisterInstance(ctx, inst, false))

	require.NoError(t, env.eng.SetDismissState(ctx, inst))
	all, err := env.store.GetAllInstances(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
