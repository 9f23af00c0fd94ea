package reminders

import (
	"errors"
	"time"
)

// Kind discriminates the recurrence union.
type Kind string

const (
	// KindOnce fires a single time and is then deleted.
	KindOnce Kind = "once"
	// KindWeekly recurs every Interval weeks on Weekdays.
	KindWeekly Kind = "weekly"
	// KindMonthly recurs on DayOfMonth every month.
	KindMonthly Kind = "monthly"
)

// Spec describes when a reminder fires. Hour/Minute are UTC; Weekdays are
// the UTC weekdays (already shifted if the user's local clause crossed a
// calendar day during conversion).
type Spec struct {
	Kind Kind `json:"kind"`

	// Weekdays is sorted ascending (Sunday=0). Used by KindOnce and KindWeekly.
	Weekdays []time.Weekday `json:"weekdays,omitempty"`

	// Interval is the week stride for KindWeekly (>= 1).
	Interval int `json:"interval,omitempty"`

	// DayOfMonth is 1..31 for KindMonthly. Days past the end of a month
	// clamp to the month's last day.
	DayOfMonth int `json:"day_of_month,omitempty"`

	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// Recurring reports whether jobs with this spec are requeued after firing.
func (s Spec) Recurring() bool { return s.Kind != KindOnce }

// Audience controls who a reminder addresses when it fires.
type Audience string

const (
	AudienceMe   Audience = "me"   // mention the requesting user
	AudienceRoom Audience = "room" // address the whole chat
)

// MessageInfo is the immutable delivery envelope of a job.
type MessageInfo struct {
	UserID   int64    `json:"user_id"`
	Username string   `json:"username,omitempty"`
	ChatID   int64    `json:"chat_id"`
	ThreadID int      `json:"thread_id,omitempty"`
	Audience Audience `json:"audience"`
	Message  string   `json:"message"`
}

// Job is a reminder that has not been stored yet.
type Job struct {
	Info MessageInfo `json:"info"`
	Spec Spec        `json:"spec"`

	// Next is the next occurrence, UTC, seconds zeroed.
	Next time.Time `json:"next"`
}

// StoredJob is a Job that owns an id for its entire lifetime. Ids are
// allocated monotonically and never reused while the process lives.
type StoredJob struct {
	ID int64 `json:"id"`
	Job
}

var (
	// ErrNoSchedule means no recognizable schedule clause was found.
	ErrNoSchedule = errors.New("no schedule found in text")
	// ErrNoMessage means a schedule clause was found but the reminder body
	// is missing or malformed.
	ErrNoMessage = errors.New("schedule found but no reminder message")
	// ErrNotFound means no stored job owns the requested id.
	ErrNotFound = errors.New("reminder not found")
)
