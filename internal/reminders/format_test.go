package reminders

import (
	"strings"
	"testing"
	"time"
)

func TestFormatWeekly(t *testing.T) {
	t.Parallel()
	j := StoredJob{
		ID: 3,
		Job: Job{
			Info: MessageInfo{Message: "ship the release"},
			Spec: Spec{
				Kind:     KindWeekly,
				Weekdays: []time.Weekday{time.Tuesday},
				Interval: 2,
				Hour:     16, Minute: 33,
			},
			Next: time.Date(2024, time.January, 2, 16, 33, 0, 0, time.UTC),
		},
	}

	got := Format(j, time.UTC)
	want := "#3 every 2nd Tuesday at 16:33 — ship the release (next: Tue 2024-01-02 16:33 UTC)"
	if got != want {
		t.Fatalf("Format = %q, want %q", got, want)
	}

	// Pure: repeated calls agree.
	if again := Format(j, time.UTC); again != got {
		t.Fatalf("Format not stable: %q vs %q", again, got)
	}
}

func TestFormatShowsViewerTimezone(t *testing.T) {
	t.Parallel()
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}

	// Stored as Tuesday 01:00 UTC; a New York viewer sees Monday 20:00 and
	// the rule's weekday must follow the clock back across midnight.
	j := StoredJob{
		ID: 1,
		Job: Job{
			Info: MessageInfo{Message: "wrap up"},
			Spec: Spec{
				Kind:     KindWeekly,
				Weekdays: []time.Weekday{time.Tuesday},
				Interval: 1,
				Hour:     1,
			},
			Next: time.Date(2024, time.January, 2, 1, 0, 0, 0, time.UTC),
		},
	}

	got := Format(j, ny)
	if !strings.Contains(got, "every Monday at 20:00") {
		t.Fatalf("Format = %q, want the rule shown as Monday 20:00 local", got)
	}
	if !strings.Contains(got, "Mon 2024-01-01 20:00") {
		t.Fatalf("Format = %q, want local next occurrence", got)
	}
}

func TestFormatMonthlyAndOnce(t *testing.T) {
	t.Parallel()
	monthly := StoredJob{
		ID: 9,
		Job: Job{
			Info: MessageInfo{Message: "pay rent"},
			Spec: Spec{Kind: KindMonthly, DayOfMonth: 31, Hour: 12},
			Next: time.Date(2024, time.February, 29, 12, 0, 0, 0, time.UTC),
		},
	}
	if got := Format(monthly, time.UTC); !strings.Contains(got, "every 31st of the month at 12:00") {
		t.Fatalf("Format = %q", got)
	}

	once := StoredJob{
		ID: 2,
		Job: Job{
			Info: MessageInfo{Message: "stretch"},
			Spec: Spec{Kind: KindOnce, Weekdays: []time.Weekday{time.Monday}, Interval: 1, Hour: 11},
			Next: time.Date(2024, time.January, 1, 11, 0, 0, 0, time.UTC),
		},
	}
	if got := Format(once, time.UTC); !strings.Contains(got, "once on Monday at 11:00") {
		t.Fatalf("Format = %q", got)
	}
}

func TestRenderMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		info MessageInfo
		want string
	}{
		{
			name: "personal with username",
			info: MessageInfo{Username: "ana", Audience: AudienceMe, Message: "stretch"},
			want: "@ana reminder: stretch",
		},
		{
			name: "personal without username",
			info: MessageInfo{Audience: AudienceMe, Message: "stretch"},
			want: "reminder: stretch",
		},
		{
			name: "room",
			info: MessageInfo{Username: "ana", Audience: AudienceRoom, Message: "send the report"},
			want: "reminder for everyone: send the report",
		},
	}
	for _, tt := range tests {
		if got := RenderMessage(StoredJob{Job: Job{Info: tt.info}}); got != tt.want {
			t.Fatalf("%s: RenderMessage = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestOrdinal(t *testing.T) {
	t.Parallel()
	tests := map[int]string{
		1: "1st", 2: "2nd", 3: "3rd", 4: "4th",
		11: "11th", 12: "12th", 13: "13th", 21: "21st", 31: "31st",
	}
	for n, want := range tests {
		if got := ordinal(n); got != want {
			t.Fatalf("ordinal(%d) = %q, want %q", n, got, want)
		}
	}
}
