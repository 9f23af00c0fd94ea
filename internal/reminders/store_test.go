package reminders

import (
	"context"
	"errors"
	"testing"
	"time"

	"remindbot/internal/brain"
	logx "remindbot/pkg/logx"
)

func testJob(chatID int64, msg string, next time.Time) Job {
	return Job{
		Info: MessageInfo{UserID: 7, ChatID: chatID, Audience: AudienceMe, Message: msg},
		Spec: Spec{
			Kind:     KindWeekly,
			Weekdays: []time.Weekday{next.Weekday()},
			Interval: 1,
			Hour:     next.Hour(),
			Minute:   next.Minute(),
		},
		Next: next,
	}
}

func TestStoreQueueOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore(brain.NewMemory(), "", logx.Nop())

	base := time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)
	late, _, err := s.Add(ctx, testJob(1, "late", base.Add(48*time.Hour)))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	early, front, err := s.Add(ctx, testJob(1, "early", base))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !front {
		t.Fatal("earlier job should become the queue front")
	}
	// Same timestamp as "early": insertion order must hold for the tie.
	tie, front, err := s.Add(ctx, testJob(2, "tie", base))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if front {
		t.Fatal("tied job must sort after the existing front")
	}

	jobs := s.JobsForChats()
	if len(jobs) != 3 {
		t.Fatalf("len = %d, want 3", len(jobs))
	}
	if jobs[0].ID != early.ID || jobs[1].ID != tie.ID || jobs[2].ID != late.ID {
		t.Fatalf("order = %d,%d,%d want %d,%d,%d",
			jobs[0].ID, jobs[1].ID, jobs[2].ID, early.ID, tie.ID, late.ID)
	}

	byChat := s.JobsForChats(2)
	if len(byChat) != 1 || byChat[0].ID != tie.ID {
		t.Fatalf("JobsForChats(2) = %v", byChat)
	}
}

func TestStoreLoadRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := brain.NewMemory()

	s1 := NewStore(mem, "", logx.Nop())
	base := time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)
	added, _, err := s1.Add(ctx, testJob(1, "persisted", base))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, _, err := s1.Remove(ctx, added.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, _, err := s1.Add(ctx, testJob(1, "second", base)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	s2 := NewStore(mem, "", logx.Nop())
	if err := s2.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	jobs := s2.JobsForChats()
	if len(jobs) != 1 || jobs[0].Info.Message != "second" {
		t.Fatalf("reloaded jobs = %v", jobs)
	}
	// Ids stay monotonic across restarts even after removals.
	if jobs[0].ID != added.ID+1 {
		t.Fatalf("id = %d, want %d", jobs[0].ID, added.ID+1)
	}
	next, _, err := s2.Add(ctx, testJob(1, "third", base))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if next.ID <= jobs[0].ID {
		t.Fatalf("id %d not monotonic after reload", next.ID)
	}
}

func TestStoreRemoveNotFound(t *testing.T) {
	t.Parallel()
	s := NewStore(brain.NewMemory(), "", logx.Nop())
	if _, _, err := s.Remove(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestStoreCollectDueCollapsesBacklog(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore(brain.NewMemory(), "", logx.Nop())

	// A weekly Monday 09:00 job whose last computed occurrence is three
	// weeks stale. A single drain must fire it once and land strictly in
	// the future, not replay the missed weeks.
	old := time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)
	added, _, err := s.Add(ctx, testJob(1, "standup", old))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	now := old.AddDate(0, 0, 21).Add(2 * time.Hour)
	fired, err := s.CollectDue(ctx, now)
	if err != nil {
		t.Fatalf("CollectDue: %v", err)
	}
	if len(fired) != 1 || fired[0].ID != added.ID {
		t.Fatalf("fired = %v, want the one stale job", fired)
	}

	got, ok := s.Get(added.ID)
	if !ok {
		t.Fatal("recurring job must survive the drain")
	}
	if !got.Next.After(now) {
		t.Fatalf("Next = %v, not after now %v", got.Next, now)
	}
	want := time.Date(2024, time.January, 29, 9, 0, 0, 0, time.UTC)
	if !got.Next.Equal(want) {
		t.Fatalf("Next = %v, want %v", got.Next, want)
	}

	// Nothing else is due.
	fired, err = s.CollectDue(ctx, now)
	if err != nil {
		t.Fatalf("CollectDue: %v", err)
	}
	if len(fired) != 0 {
		t.Fatalf("second drain fired %v", fired)
	}
}

func TestStoreCollectDueDeletesOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore(brain.NewMemory(), "", logx.Nop())

	next := time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)
	job := testJob(1, "one shot", next)
	job.Spec.Kind = KindOnce
	added, _, err := s.Add(ctx, job)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	fired, err := s.CollectDue(ctx, next.Add(time.Minute))
	if err != nil {
		t.Fatalf("CollectDue: %v", err)
	}
	if len(fired) != 1 {
		t.Fatalf("fired = %v, want 1", fired)
	}
	if _, ok := s.Get(added.ID); ok {
		t.Fatal("once job must be deleted after firing")
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d, want 0", s.Len())
	}
}

// failingBrain rejects saves after the first n successes.
type failingBrain struct {
	brain.Store
	allow int
}

func (f *failingBrain) Save(ctx context.Context, key string, value []byte) error {
	if f.allow > 0 {
		f.allow--
		return f.Store.Save(ctx, key, value)
	}
	return errors.New("disk full")
}

func TestStoreAddRollsBackOnPersistFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fb := &failingBrain{Store: brain.NewMemory(), allow: 1}
	s := NewStore(fb, "", logx.Nop())

	base := time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)
	first, _, err := s.Add(ctx, testJob(1, "kept", base))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, _, err := s.Add(ctx, testJob(1, "lost", base)); err == nil {
		t.Fatal("expected persist failure")
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1 after rollback", s.Len())
	}

	// The failed id must be reusable: no gaps from rejected adds.
	fb.allow = 1
	again, _, err := s.Add(ctx, testJob(1, "retry", base))
	if err != nil {
		t.Fatalf("Add after rollback: %v", err)
	}
	if again.ID != first.ID+1 {
		t.Fatalf("id = %d, want %d", again.ID, first.ID+1)
	}
}

func TestStoreUpdateSpecRestoresOnFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fb := &failingBrain{Store: brain.NewMemory(), allow: 1}
	s := NewStore(fb, "", logx.Nop())

	base := time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)
	added, _, err := s.Add(ctx, testJob(1, "stable", base))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	newSpec := Spec{Kind: KindMonthly, DayOfMonth: 15, Hour: 8}
	newNext := time.Date(2024, time.January, 15, 8, 0, 0, 0, time.UTC)
	if _, _, err := s.UpdateSpec(ctx, added.ID, newSpec, newNext); err == nil {
		t.Fatal("expected persist failure")
	}

	got, ok := s.Get(added.ID)
	if !ok {
		t.Fatal("job lost by failed update")
	}
	if got.Spec.Kind != KindWeekly || !got.Next.Equal(base) {
		t.Fatalf("job mutated by failed update: %+v", got)
	}
}
