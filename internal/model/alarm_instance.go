package model

import "time"

// InstanceState is the current position of an alarm instance in its
// lifecycle. Values are persisted; do not reorder.
type InstanceState int

const (
	StateSilent InstanceState = iota
	StateLowNotification
	StateHighNotification
	StateFired
	StateSnoozed
	StateMissed
	StatePredismissed
	StateDismissed
)

var stateNames = map[InstanceState]string{
	StateSilent:           "silent",
	StateLowNotification:  "low_notification",
	StateHighNotification: "high_notification",
	StateFired:            "fired",
	StateSnoozed:          "snoozed",
	StateMissed:           "missed",
	StatePredismissed:     "predismissed",
	StateDismissed:        "dismissed",
}

func (s InstanceState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the state ends the instance's lifecycle.
// Terminal instances are deleted from the store.
func (s InstanceState) Terminal() bool {
	return s == StatePredismissed || s == StateDismissed
}

// AlarmInstance is one concrete firing of an alarm. It carries its own
// copy of the ringing settings so that editing the parent alarm never
// retroactively changes an already-scheduled instance.
//
// The firing time is stored as absolute wall-clock fields rather than
// an epoch offset so the intended local time survives timezone and DST
// changes.
type AlarmInstance struct {
	ID                 int64  `gorm:"primaryKey;autoIncrement"`
	AlarmID            *int64 `gorm:"index"`
	Year               int    `gorm:"not null"`
	Month              int    `gorm:"not null"`
	Day                int    `gorm:"not null"`
	Hour               int    `gorm:"not null"`
	Minute             int    `gorm:"not null"`
	State              InstanceState `gorm:"not null;index"`
	Label              string        `gorm:"size:256"`
	Ringtone           string        `gorm:"size:512"`
	Vibrate            bool          `gorm:"not null"`
	SnoozeMinutes      int           `gorm:"not null"`
	AutoSilenceSeconds int           `gorm:"not null"`
	CrescendoSeconds   int           `gorm:"not null"`
	MissedAt           *time.Time
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

// NewInstanceFromAlarm snapshots an alarm's settings into a fresh
// instance firing at the given time.
func NewInstanceFromAlarm(a *Alarm, at time.Time) *AlarmInstance {
	alarmID := a.ID
	inst := &AlarmInstance{
		AlarmID:            &alarmID,
		State:              StateSilent,
		Label:              a.Label,
		Ringtone:           a.Ringtone,
		Vibrate:            a.Vibrate,
		SnoozeMinutes:      a.SnoozeMinutes,
		AutoSilenceSeconds: a.AutoSilenceSeconds,
		CrescendoSeconds:   a.CrescendoSeconds,
	}
	inst.SetAlarmTime(at)
	return inst
}

// AlarmTime reconstructs the firing time in the given location.
func (i *AlarmInstance) AlarmTime(loc *time.Location) time.Time {
	return time.Date(i.Year, time.Month(i.Month), i.Day, i.Hour, i.Minute, 0, 0, loc)
}

// SetAlarmTime stores the wall-clock fields of the given time.
func (i *AlarmInstance) SetAlarmTime(t time.Time) {
	i.Year = t.Year()
	i.Month = int(t.Month())
	i.Day = t.Day()
	i.Hour = t.Hour()
	i.Minute = t.Minute()
}

// HasParent reports whether the instance belongs to a stored alarm.
// Standalone instances (ad-hoc API alarms) have no parent and are
// deleted after firing.
func (i *AlarmInstance) HasParent() bool {
	return i.AlarmID != nil
}
