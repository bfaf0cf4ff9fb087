package parse

import (
	"fmt"
	"strings"
	"time"

	"alarm-clock-backend/internal/model"
)

var dayAliases = map[string]time.Weekday{
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
	"sun": time.Sunday, "sunday": time.Sunday,
}

// DaysOfWeek parses a comma-separated day list such as "mon,wed,fri"
// into a repeat-day bitset. An empty string means "no repeat" (a
// one-shot alarm). Day names are case-insensitive; duplicates are
// harmless.
func DaysOfWeek(raw string) (model.Weekdays, error) {
	var days model.Weekdays
	s := strings.TrimSpace(raw)
	if s == "" {
		return days, nil
	}
	for _, part := range strings.Split(s, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		d, ok := dayAliases[name]
		if !ok {
			return 0, fmt.Errorf("unknown day of week: %q", part)
		}
		days = days.With(d)
	}
	return days, nil
}
