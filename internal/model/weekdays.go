package model

import (
	"strings"
	"time"
)

// Weekdays is a bitset of repeat days, Monday through Sunday.
// The zero value means "no repeat days": the alarm fires once.
type Weekdays uint8

const AllWeekdays Weekdays = 0x7f

var weekdayNames = []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

// bit maps time.Weekday (Sunday=0) onto our Monday-first layout.
func bit(d time.Weekday) Weekdays {
	return 1 << ((uint(d) + 6) % 7)
}

// Contains reports whether the given weekday is set.
func (w Weekdays) Contains(d time.Weekday) bool {
	return w&bit(d) != 0
}

// With returns a copy with the given weekday set.
func (w Weekdays) With(d time.Weekday) Weekdays {
	return w | bit(d)
}

// Without returns a copy with the given weekday cleared.
func (w Weekdays) Without(d time.Weekday) Weekdays {
	return w &^ bit(d)
}

// IsRepeating reports whether any repeat day is set.
func (w Weekdays) IsRepeating() bool {
	return w != 0
}

func (w Weekdays) String() string {
	if w == 0 {
		return ""
	}
	var parts []string
	for i, name := range weekdayNames {
		if w&(1<<uint(i)) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, ",")
}
