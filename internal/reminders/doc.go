// Package reminders implements the natural-language reminder scheduler:
// parsing free-text schedule clauses, computing recurring occurrences,
// keeping a persisted time-ordered job queue, and waking exactly when the
// next job is due.
//
// All persisted times (Spec hour/minute and Job.Next) are UTC. User
// timezones are applied once at parse time and again at format time;
// recurrence arithmetic never sees a non-UTC wall clock.
package reminders
