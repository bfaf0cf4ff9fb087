package model

import (
	"fmt"
	"time"
)

// InvalidID marks an alarm that has not been persisted yet.
const InvalidID int64 = -1

// RingtoneSilent is the ringtone sentinel for a silent alarm.
const RingtoneSilent = "silent"

const (
	// SnoozeDisabled disables the snooze action for an alarm.
	SnoozeDisabled = -1
	// AutoSilenceNever lets the alarm ring until the user acts.
	AutoSilenceNever = -1
	// AutoSilenceEndOfRingtone stops ringing when the ringtone finishes.
	AutoSilenceEndOfRingtone = 0
)

// Alarm is the user-facing template: time of day, repeat pattern and
// ringing settings. Concrete firings are AlarmInstance rows.
type Alarm struct {
	ID                 int64    `gorm:"primaryKey"`
	Hour               int      `gorm:"not null"`
	Minute             int      `gorm:"not null"`
	DaysOfWeek         Weekdays `gorm:"not null"`
	Enabled            bool     `gorm:"not null;index"`
	Label              string   `gorm:"size:256"`
	Ringtone           string   `gorm:"size:512"`
	Vibrate            bool     `gorm:"not null"`
	SnoozeMinutes      int      `gorm:"not null"`
	AutoSilenceSeconds int      `gorm:"not null"`
	CrescendoSeconds   int      `gorm:"not null"`
	DeleteAfterUse     bool     `gorm:"not null"`
	Volume             *int
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`

	// Associations
	Instances []AlarmInstance `gorm:"foreignKey:AlarmID;constraint:OnDelete:CASCADE"`
}

// Validate checks the field invariants that must hold before an alarm
// reaches the store.
func (a *Alarm) Validate() error {
	if a.Hour < 0 || a.Hour > 23 {
		return fmt.Errorf("hour %d out of range [0,23]", a.Hour)
	}
	if a.Minute < 0 || a.Minute > 59 {
		return fmt.Errorf("minute %d out of range [0,59]", a.Minute)
	}
	if a.SnoozeMinutes < SnoozeDisabled {
		return fmt.Errorf("invalid snooze duration %d", a.SnoozeMinutes)
	}
	if a.AutoSilenceSeconds < AutoSilenceNever {
		return fmt.Errorf("invalid auto-silence duration %d", a.AutoSilenceSeconds)
	}
	if a.CrescendoSeconds < 0 {
		return fmt.Errorf("invalid crescendo duration %d", a.CrescendoSeconds)
	}
	if a.Volume != nil && (*a.Volume < 0 || *a.Volume > 100) {
		return fmt.Errorf("volume %d out of range [0,100]", *a.Volume)
	}
	return nil
}

// NextFiringTime computes the next strictly-future occurrence of the
// alarm after the given time. A repeating alarm whose day bit matches
// today but whose time has already passed rolls to the next matching
// day, never the same day.
func (a *Alarm) NextFiringTime(after time.Time) time.Time {
	candidate := time.Date(after.Year(), after.Month(), after.Day(), a.Hour, a.Minute, 0, 0, after.Location())
	if !candidate.After(after) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	if !a.DaysOfWeek.IsRepeating() {
		return candidate
	}
	for i := 0; i < 7; i++ {
		if a.DaysOfWeek.Contains(candidate.Weekday()) {
			return candidate
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}
