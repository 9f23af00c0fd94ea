package reminders

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseResult is the outcome of parsing a free-text reminder request.
type ParseResult struct {
	Spec     Spec
	Next     time.Time // UTC, seconds zeroed
	Audience Audience
	Message  string
}

// Parse turns a free-text instruction like
//
//	"remind me every 2nd Tuesday at 16:33 to ship the release"
//	"every weekday at 9 remind team to check the queue"
//
// into a recurrence spec, the first occurrence, and the residual message.
// Wall-clock arithmetic happens in loc (nil means time.Local); the returned
// spec and occurrence are UTC.
//
// Errors are ErrNoSchedule (no recognizable schedule clause anywhere in the
// text) or ErrNoMessage (a clause parsed but the remainder does not match
// "remind (me|team|here|room) [to] <message>").
func Parse(text string, loc *time.Location, now time.Time) (ParseResult, error) {
	if loc == nil {
		loc = time.Local
	}
	words := strings.Fields(text)
	low := make([]string, len(words))
	for i, w := range words {
		low[i] = strings.ToLower(w)
	}

	clauseSeen := false
	for j := range low {
		switch low[j] {
		case "in", "on", "next", "every":
		default:
			continue
		}
		c, end, ok := parseClause(low, j)
		if !ok {
			continue
		}
		clauseSeen = true

		rest := make([]string, 0, len(words)-(end-j))
		rest = append(rest, words[:j]...)
		rest = append(rest, words[end:]...)
		aud, msg, ok := matchBody(rest)
		if !ok {
			continue
		}

		spec, next, err := materialize(c, loc, now)
		if err != nil {
			return ParseResult{}, err
		}
		return ParseResult{Spec: spec, Next: next, Audience: aud, Message: msg}, nil
	}

	if clauseSeen {
		return ParseResult{}, ErrNoMessage
	}
	return ParseResult{}, ErrNoSchedule
}

// ParseClause parses a bare schedule clause ("every 2nd Friday at 09:00")
// with no reminder body around it. Used when updating the spec of an
// existing job. The whole input must be consumed.
func ParseClause(text string, loc *time.Location, now time.Time) (Spec, time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	low := strings.Fields(strings.ToLower(text))
	if len(low) == 0 {
		return Spec{}, time.Time{}, ErrNoSchedule
	}
	c, end, ok := parseClause(low, 0)
	if !ok || end != len(low) {
		return Spec{}, time.Time{}, fmt.Errorf("%w: %q", ErrNoSchedule, text)
	}
	return materialize(c, loc, now)
}

// matchBody matches the stripped remainder against
// "remind (me|team|here|room) [to] <message>".
func matchBody(words []string) (Audience, string, bool) {
	if len(words) < 2 || !strings.EqualFold(words[0], "remind") {
		return "", "", false
	}
	var aud Audience
	switch strings.ToLower(words[1]) {
	case "me":
		aud = AudienceMe
	case "team", "here", "room":
		aud = AudienceRoom
	default:
		return "", "", false
	}
	rest := words[2:]
	if len(rest) > 0 && strings.EqualFold(rest[0], "to") {
		rest = rest[1:]
	}
	if len(rest) == 0 {
		return "", "", false
	}
	return aud, strings.Join(rest, " "), true
}

// clause is the raw parse of a schedule clause, before timezone math.
type clause struct {
	mode string // "in", "on", "next", "every"

	// in-mode offsets; minutes/hours vs days/weeks are kept apart so day
	// offsets use calendar arithmetic.
	offset     time.Duration
	offsetDays int

	weekdays   []time.Weekday
	interval   int
	dayOfMonth int

	hour, minute int
	hasTime      bool
}

// parseClause consumes a schedule clause starting at low[start]. It returns
// the first index past the clause; tokens after that belong to the message.
func parseClause(low []string, start int) (clause, int, bool) {
	c := clause{mode: low[start], interval: 1}
	i := start + 1

	switch c.mode {
	case "in":
		n, ok := takeNumber(low, &i)
		if !ok {
			return c, 0, false
		}
		if i >= len(low) {
			return c, 0, false
		}
		switch trimTok(low[i]) {
		case "minute", "minutes":
			c.offset = time.Duration(n) * time.Minute
		case "hour", "hours":
			c.offset = time.Duration(n) * time.Hour
		case "day", "days":
			c.offsetDays = n
		case "week", "weeks":
			c.offsetDays = 7 * n
		default:
			return c, 0, false
		}
		i++
		// A day-of-week composes additively with the offset.
		if i < len(low) && trimTok(low[i]) == "on" && i+1 < len(low) && isWeekdayToken(trimTok(low[i+1])) {
			i++
		}
		c.weekdays = takeWeekdays(low, &i)

	case "on", "next":
		c.weekdays = takeWeekdays(low, &i)
		if len(c.weekdays) == 0 {
			return c, 0, false
		}

	case "every":
		if i >= len(low) {
			return c, 0, false
		}
		tok := trimTok(low[i])
		if iv, ok := intervalWord(tok); ok {
			c.interval = iv
			i++
			c.weekdays = takeWeekdays(low, &i)
			if len(c.weekdays) == 0 {
				return c, 0, false
			}
		} else if n, ok := ordinalOrNumber(tok); ok {
			if i+1 < len(low) && isWeekdayToken(trimTok(low[i+1])) {
				c.interval = n
				i++
				c.weekdays = takeWeekdays(low, &i)
			} else {
				// Bare "every 5th" keys on the day of the month.
				if n < 1 || n > 31 {
					return c, 0, false
				}
				c.dayOfMonth = n
				i++
			}
		} else if tok == "weekday" || tok == "weekdays" {
			c.weekdays = []time.Weekday{
				time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
			}
			i++
		} else if isWeekdayToken(tok) {
			c.weekdays = takeWeekdays(low, &i)
		} else {
			return c, 0, false
		}

	default:
		return c, 0, false
	}

	var ok bool
	if i, ok = parseAt(low, i, &c); !ok {
		return c, 0, false
	}
	return c, i, true
}

// parseAt consumes an optional "at <time>" tail. An "at" with no valid time
// after it fails the whole clause.
func parseAt(low []string, i int, c *clause) (int, bool) {
	if i >= len(low) || trimTok(low[i]) != "at" {
		return i, true
	}
	i++
	if i >= len(low) {
		return 0, false
	}
	h, m, ok, meridiem := parseTimeToken(trimTok(low[i]))
	if !ok {
		return 0, false
	}
	i++
	if !meridiem && i < len(low) {
		switch trimTok(low[i]) {
		case "am":
			i++
		case "pm":
			if h < 12 {
				h += 12
			}
			i++
		}
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	c.hour, c.minute, c.hasTime = h, m, true
	return i, true
}

// parseTimeToken accepts "H", "H:MM", "HhMM", each with an optional attached
// am/pm suffix. Twelve-hour arithmetic: pm adds 12 unless the hour is
// already >= 12.
func parseTimeToken(tok string) (hour, minute int, ok, meridiem bool) {
	pm := false
	switch {
	case strings.HasSuffix(tok, "am"):
		tok, meridiem = tok[:len(tok)-2], true
	case strings.HasSuffix(tok, "pm"):
		tok, meridiem, pm = tok[:len(tok)-2], true, true
	}

	var hs, ms string
	switch {
	case strings.Contains(tok, ":"):
		parts := strings.SplitN(tok, ":", 2)
		hs, ms = parts[0], parts[1]
	case strings.Contains(tok, "h"):
		parts := strings.SplitN(tok, "h", 2)
		hs, ms = parts[0], parts[1]
	default:
		hs, ms = tok, "0"
	}
	h, err := strconv.Atoi(hs)
	if err != nil || hs == "" {
		return 0, 0, false, false
	}
	m, err := strconv.Atoi(ms)
	if err != nil {
		return 0, 0, false, false
	}
	if pm && h < 12 {
		h += 12
	}
	return h, m, true, meridiem
}

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

func takeNumber(low []string, i *int) (int, bool) {
	if *i >= len(low) {
		return 0, false
	}
	tok := trimTok(low[*i])
	if n, ok := numberWords[tok]; ok {
		*i++
		return n, true
	}
	if n, err := strconv.Atoi(tok); err == nil && n > 0 {
		*i++
		return n, true
	}
	return 0, false
}

func intervalWord(tok string) (int, bool) {
	switch tok {
	case "other", "second":
		return 2, true
	case "third":
		return 3, true
	case "fourth":
		return 4, true
	case "fifth":
		return 5, true
	}
	return 0, false
}

// ordinalOrNumber accepts "5", "5th", "1st", "2nd", "3rd", or a spelled-out
// number word.
func ordinalOrNumber(tok string) (int, bool) {
	if n, ok := numberWords[tok]; ok {
		return n, true
	}
	for _, suf := range []string{"st", "nd", "rd", "th"} {
		if strings.HasSuffix(tok, suf) {
			tok = strings.TrimSuffix(tok, suf)
			break
		}
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

var dayNames = []string{
	"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday",
}

// isWeekdayToken reports whether tok reads as a weekday: any prefix of a day
// name ("M", "Tu", "thurs", "friday") or a day name pluralized ("tuesdays").
func isWeekdayToken(tok string) bool {
	if tok == "" || !isAlpha(tok) {
		return false
	}
	for _, name := range dayNames {
		if strings.HasPrefix(name, tok) || tok == name+"s" {
			return true
		}
	}
	return false
}

// resolveWeekday maps an abbreviation to a weekday. Unambiguous prefixes
// resolve normally (M=Monday, Tu=Tuesday, Th=Thursday, ...). Ambiguous ones
// ("t", "s") fall back to Sunday; this mirrors the historical behavior of
// the grammar and is kept deliberately rather than turned into an error.
func resolveWeekday(tok string) time.Weekday {
	match := -1
	count := 0
	for i, name := range dayNames {
		if strings.HasPrefix(name, tok) || tok == name+"s" {
			match = i
			count++
		}
	}
	if count == 1 {
		return time.Weekday(match)
	}
	return time.Sunday
}

// takeWeekdays consumes a run of weekday tokens, allowing "and"/"or"
// separators, and returns them sorted without duplicates.
func takeWeekdays(low []string, i *int) []time.Weekday {
	var out []time.Weekday
	for *i < len(low) {
		tok := trimTok(low[*i])
		if (tok == "and" || tok == "or") && len(out) > 0 &&
			*i+1 < len(low) && isWeekdayToken(trimTok(low[*i+1])) {
			*i++
			continue
		}
		if !isWeekdayToken(tok) {
			break
		}
		out = append(out, resolveWeekday(tok))
		*i++
	}
	return sortWeekdays(out)
}

func sortWeekdays(in []time.Weekday) []time.Weekday {
	seen := [7]bool{}
	for _, w := range in {
		seen[w%7] = true
	}
	out := make([]time.Weekday, 0, len(in))
	for d := time.Sunday; d <= time.Saturday; d++ {
		if seen[d] {
			out = append(out, d)
		}
	}
	return out
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

// trimTok strips separator punctuation a token may carry ("Tuesday,").
func trimTok(tok string) string {
	return strings.Trim(tok, ",.;")
}

// materialize converts a parsed clause into a UTC spec and its first
// occurrence. All wall-clock math runs in loc; the result is converted to
// UTC, and if the conversion crosses a calendar day the stored weekdays are
// shifted by the same delta so they still denote the user's local weekdays.
func materialize(c clause, loc *time.Location, now time.Time) (Spec, time.Time, error) {
	local := now.In(loc)

	switch {
	case c.mode == "in":
		t := local.Add(c.offset).AddDate(0, 0, c.offsetDays)
		if c.hasTime {
			y, m, d := t.Date()
			t = time.Date(y, m, d, c.hour, c.minute, 0, 0, loc)
		}
		if len(c.weekdays) > 0 {
			t = t.AddDate(0, 0, daysUntil(t.Weekday(), c.weekdays))
		}
		y, m, d := t.Date()
		t = time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc)
		next := t.UTC()
		if !next.After(now.UTC()) {
			return Spec{}, time.Time{}, fmt.Errorf("%w: computed time is not in the future", ErrNoSchedule)
		}
		spec := Spec{
			Kind:     KindOnce,
			Weekdays: []time.Weekday{next.Weekday()},
			Interval: 1,
			Hour:     next.Hour(),
			Minute:   next.Minute(),
		}
		return spec, next, nil

	case c.mode == "on" || c.mode == "next":
		t := nextLocalWeekday(local, c.weekdays, c.hour, c.minute, loc)
		next := t.UTC()
		spec := Spec{
			Kind:     KindOnce,
			Weekdays: shiftWeekdays(c.weekdays, dayDelta(t, next)),
			Interval: 1,
			Hour:     next.Hour(),
			Minute:   next.Minute(),
		}
		return spec, next, nil

	case c.dayOfMonth > 0:
		rep := nextLocalMonthDay(local, c.dayOfMonth, c.hour, c.minute, loc)
		repUTC := rep.UTC()
		spec := Spec{
			Kind:       KindMonthly,
			DayOfMonth: c.dayOfMonth,
			Hour:       repUTC.Hour(),
			Minute:     repUTC.Minute(),
		}
		return spec, NextOccurrence(now.UTC(), spec), nil

	default: // weekly
		rep := nextLocalWeekday(local, c.weekdays, c.hour, c.minute, loc)
		repUTC := rep.UTC()
		spec := Spec{
			Kind:     KindWeekly,
			Weekdays: shiftWeekdays(c.weekdays, dayDelta(rep, repUTC)),
			Interval: c.interval,
			Hour:     repUTC.Hour(),
			Minute:   repUTC.Minute(),
		}
		return spec, NextOccurrence(now.UTC(), spec), nil
	}
}

// nextLocalWeekday finds the earliest local occurrence of any of the given
// weekdays at hour:minute, counting today when the time of day has not
// passed yet.
func nextLocalWeekday(local time.Time, days []time.Weekday, hour, minute int, loc *time.Location) time.Time {
	if len(days) == 0 {
		days = []time.Weekday{local.Weekday()}
	}
	var best time.Time
	for _, wd := range days {
		delta := (int(wd) - int(local.Weekday()) + 7) % 7
		y, m, d := local.Date()
		cand := time.Date(y, m, d+delta, hour, minute, 0, 0, loc)
		if !cand.After(local) {
			cand = cand.AddDate(0, 0, 7)
		}
		if best.IsZero() || cand.Before(best) {
			best = cand
		}
	}
	return best
}

// nextLocalMonthDay finds the earliest local occurrence of the given day of
// month at hour:minute, clamping months that are too short.
func nextLocalMonthDay(local time.Time, dom, hour, minute int, loc *time.Location) time.Time {
	y, m, _ := local.Date()
	for range 3 {
		day := dom
		if last := daysIn(y, m); day > last {
			day = last
		}
		cand := time.Date(y, m, day, hour, minute, 0, 0, loc)
		if cand.After(local) {
			return cand
		}
		y, m, _ = time.Date(y, m+1, 1, 0, 0, 0, 0, loc).Date()
	}
	return time.Date(y, m, dom, hour, minute, 0, 0, loc)
}

// daysUntil is the smallest non-negative day offset from wd to any weekday
// in days.
func daysUntil(wd time.Weekday, days []time.Weekday) int {
	best := 7
	for _, d := range days {
		delta := (int(d) - int(wd) + 7) % 7
		if delta < best {
			best = delta
		}
	}
	if best == 7 {
		return 0
	}
	return best
}

// dayDelta is the calendar-day difference introduced by converting local to
// UTC (-1, 0, or +1).
func dayDelta(local, utc time.Time) int {
	ly, lm, ld := local.Date()
	uy, um, ud := utc.Date()
	l := time.Date(ly, lm, ld, 0, 0, 0, 0, time.UTC)
	u := time.Date(uy, um, ud, 0, 0, 0, 0, time.UTC)
	return int(u.Sub(l) / (24 * time.Hour))
}

func shiftWeekdays(in []time.Weekday, delta int) []time.Weekday {
	if delta == 0 {
		return sortWeekdays(append([]time.Weekday(nil), in...))
	}
	out := make([]time.Weekday, 0, len(in))
	for _, d := range in {
		out = append(out, time.Weekday((int(d)+delta+7)%7))
	}
	return sortWeekdays(out)
}
