package reminders

import (
	"fmt"
	"strings"
	"time"
)

// Format renders a stored job for listings and confirmations, with times
// shown in loc (nil means UTC). Pure: no side effects, stable output.
func Format(j StoredJob, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	next := j.Next.In(loc)

	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s — %s (next: %s)",
		j.ID, formatSpec(j, loc), j.Info.Message, next.Format("Mon 2006-01-02 15:04 MST"))
	return b.String()
}

func formatSpec(j StoredJob, loc *time.Location) string {
	// Display the rule through the next occurrence so weekday names and the
	// clock match the viewer's timezone, undoing the UTC shift applied at
	// parse time.
	local := j.Next.In(loc)
	toLocal := dayDelta(j.Next.UTC(), local) // UTC -> local calendar-day shift
	clock := local.Format("15:04")

	switch j.Spec.Kind {
	case KindOnce:
		return fmt.Sprintf("once on %s at %s", local.Weekday(), clock)
	case KindWeekly:
		days := make([]string, 0, len(j.Spec.Weekdays))
		for _, d := range shiftWeekdays(j.Spec.Weekdays, toLocal) {
			days = append(days, d.String())
		}
		if j.Spec.Interval > 1 {
			return fmt.Sprintf("every %s %s at %s", ordinal(j.Spec.Interval), strings.Join(days, ", "), clock)
		}
		return fmt.Sprintf("every %s at %s", strings.Join(days, ", "), clock)
	case KindMonthly:
		return fmt.Sprintf("every %s of the month at %s", ordinal(j.Spec.DayOfMonth), clock)
	}
	return string(j.Spec.Kind)
}

// RenderMessage builds the text actually delivered when a job fires.
func RenderMessage(j StoredJob) string {
	msg := strings.TrimSpace(j.Info.Message)
	switch j.Info.Audience {
	case AudienceMe:
		if j.Info.Username != "" {
			return fmt.Sprintf("@%s reminder: %s", j.Info.Username, msg)
		}
		return "reminder: " + msg
	default:
		return "reminder for everyone: " + msg
	}
}

func ordinal(n int) string {
	suffix := "th"
	switch {
	case n%100 >= 11 && n%100 <= 13:
	case n%10 == 1:
		suffix = "st"
	case n%10 == 2:
		suffix = "nd"
	case n%10 == 3:
		suffix = "rd"
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
