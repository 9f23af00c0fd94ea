package reminders

import "time"

// NextOccurrence computes the occurrence strictly after prev for the given
// spec. It is pure: same inputs, same output. The result is UTC with seconds
// and sub-seconds zeroed, and is always strictly later than prev.
//
// A KindOnce spec is treated as a weekly recurrence with interval 1 so the
// catch-up logic can reuse the same arithmetic; the store still deletes
// once-jobs instead of requeueing them.
func NextOccurrence(prev time.Time, spec Spec) time.Time {
	prev = prev.UTC()
	if spec.Kind == KindMonthly {
		return nextMonthly(prev, spec)
	}
	return nextWeekly(prev, spec)
}

func nextWeekly(prev time.Time, spec Spec) time.Time {
	interval := spec.Interval
	if interval < 1 {
		interval = 1
	}
	days := spec.Weekdays
	if len(days) == 0 {
		days = []time.Weekday{prev.Weekday()}
	}

	prevDay := int(prev.Weekday())
	prevMins := prev.Hour()*60 + prev.Minute()
	targetMins := spec.Hour*60 + spec.Minute

	// Earliest candidate weekday strictly after prev's position in the
	// current cycle, comparing weekday first and time-of-day second.
	for _, d := range days {
		if int(d) > prevDay || (int(d) == prevDay && targetMins > prevMins) {
			return atClock(prev, int(d)-prevDay, spec.Hour, spec.Minute)
		}
	}

	// Cycle exhausted: advance by interval weeks and take the smallest
	// candidate weekday.
	return atClock(prev, 7*interval-prevDay+int(days[0]), spec.Hour, spec.Minute)
}

func nextMonthly(prev time.Time, spec Spec) time.Time {
	y, m, _ := prev.Date()

	target := monthlyTarget(y, m, spec)
	if prev.Before(target) {
		return target
	}
	y2, m2, _ := time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC).Date()
	return monthlyTarget(y2, m2, spec)
}

// monthlyTarget places the spec's day-of-month in (year, month), clamping
// days that the month does not have (e.g. 31 in February) to its last day.
func monthlyTarget(year int, month time.Month, spec Spec) time.Time {
	day := spec.DayOfMonth
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, spec.Hour, spec.Minute, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// atClock returns prev's date shifted by days, at hour:minute, seconds zeroed.
func atClock(prev time.Time, days, hour, minute int) time.Time {
	y, m, d := prev.Date()
	return time.Date(y, m, d+days, hour, minute, 0, 0, time.UTC)
}
