package reminders

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"remindbot/internal/brain"
	logx "remindbot/pkg/logx"
)

// DefaultBrainKey is the logical key the job snapshot is saved under.
const DefaultBrainKey = "jobs"

// Store owns the authoritative job collection: an id-indexed map and a queue
// sorted ascending by Next with stable insertion order for ties. Every
// mutation snapshots the full list into the brain before reporting success.
//
// All methods are safe for concurrent use; the internal mutex is the
// serialization boundary between command handlers and the scheduler loop.
type Store struct {
	log   logx.Logger
	brain brain.Store
	key   string

	mu     sync.Mutex
	byID   map[int64]*StoredJob
	queue  []*StoredJob
	nextID int64
}

// snapshot is the persisted shape. NextID rides along so ids stay monotonic
// across restarts even after the newest job was removed.
type snapshot struct {
	NextID int64       `json:"next_id"`
	Jobs   []StoredJob `json:"jobs"`
}

func NewStore(b brain.Store, key string, log logx.Logger) *Store {
	if key == "" {
		key = DefaultBrainKey
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{
		log:    log,
		brain:  b,
		key:    key,
		byID:   map[int64]*StoredJob{},
		nextID: 1,
	}
}

// Load rebuilds the in-memory queue from the brain. Call once at startup,
// before the loop runs its reconciliation pass.
func (s *Store) Load(ctx context.Context) error {
	raw, ok, err := s.brain.Load(ctx, s.key)
	if err != nil {
		return fmt.Errorf("brain load: %w", err)
	}
	if !ok {
		return nil
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("decode job snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[int64]*StoredJob, len(snap.Jobs))
	s.queue = s.queue[:0]
	for i := range snap.Jobs {
		j := snap.Jobs[i]
		j.Next = j.Next.UTC()
		cp := j
		s.byID[cp.ID] = &cp
		s.queue = append(s.queue, &cp)
		if cp.ID >= s.nextID {
			s.nextID = cp.ID + 1
		}
	}
	if snap.NextID > s.nextID {
		s.nextID = snap.NextID
	}
	// Snapshots are written in queue order; a stable re-sort keeps ties in
	// their original insertion order even if the file was edited by hand.
	sort.SliceStable(s.queue, func(a, b int) bool {
		return s.queue[a].Next.Before(s.queue[b].Next)
	})
	return nil
}

// Add stores job, assigning a fresh id, and reports whether it became the
// earliest pending job (the caller then kicks the loop).
func (s *Store) Add(ctx context.Context, job Job) (StoredJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := &StoredJob{ID: s.nextID, Job: job}
	j.Next = j.Next.UTC()
	s.nextID++
	s.byID[j.ID] = j
	s.insertLocked(j)

	if err := s.persistLocked(ctx); err != nil {
		s.removeLocked(j.ID)
		s.nextID-- // the id was never observed outside
		return StoredJob{}, false, err
	}
	return *j, s.queue[0] == j, nil
}

// Remove deletes the job with the given id. frontChanged reports whether it
// was the earliest pending job. Returns ErrNotFound for unknown ids.
func (s *Store) Remove(ctx context.Context, id int64) (StoredJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.byID[id]
	if !ok {
		return StoredJob{}, false, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	wasFront := len(s.queue) > 0 && s.queue[0] == j
	s.removeLocked(id)

	if err := s.persistLocked(ctx); err != nil {
		s.byID[id] = j
		s.insertLocked(j)
		return StoredJob{}, false, err
	}
	return *j, wasFront, nil
}

// UpdateMessage replaces the message text of an existing job.
func (s *Store) UpdateMessage(ctx context.Context, id int64, text string) (StoredJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.byID[id]
	if !ok {
		return StoredJob{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	prev := j.Info.Message
	j.Info.Message = text
	if err := s.persistLocked(ctx); err != nil {
		j.Info.Message = prev
		return StoredJob{}, err
	}
	return *j, nil
}

// UpdateSpec replaces the recurrence of an existing job with an already
// validated spec and occurrence. If persisting fails the original job is
// restored unchanged; a failed update is never allowed to lose a job.
func (s *Store) UpdateSpec(ctx context.Context, id int64, spec Spec, next time.Time) (StoredJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.byID[id]
	if !ok {
		return StoredJob{}, false, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	prevSpec, prevNext := j.Spec, j.Next
	wasFront := len(s.queue) > 0 && s.queue[0] == j

	s.removeFromQueueLocked(j)
	j.Spec = spec
	j.Next = next.UTC()
	s.insertLocked(j)

	if err := s.persistLocked(ctx); err != nil {
		s.removeFromQueueLocked(j)
		j.Spec, j.Next = prevSpec, prevNext
		s.insertLocked(j)
		return StoredJob{}, false, err
	}
	frontChanged := wasFront || s.queue[0] == j
	return *j, frontChanged, nil
}

// JobsForChats returns jobs for the given chats, ascending by Next. No
// arguments means every job.
func (s *Store) JobsForChats(chatIDs ...int64) []StoredJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := func(int64) bool { return true }
	if len(chatIDs) > 0 {
		set := make(map[int64]struct{}, len(chatIDs))
		for _, id := range chatIDs {
			set[id] = struct{}{}
		}
		want = func(id int64) bool { _, ok := set[id]; return ok }
	}

	out := make([]StoredJob, 0, len(s.queue))
	for _, j := range s.queue {
		if want(j.Info.ChatID) {
			out = append(out, *j)
		}
	}
	return out
}

// Get returns a copy of the job with the given id.
func (s *Store) Get(id int64) (StoredJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.byID[id]
	if !ok {
		return StoredJob{}, false
	}
	return *j, true
}

// Len reports the number of pending jobs.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// NextWake returns the earliest pending occurrence, if any.
func (s *Store) NextWake() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return time.Time{}, false
	}
	return s.queue[0].Next, true
}

// CollectDue removes every job whose Next is at or before now, advances
// recurring ones past now (collapsing any backlog of missed firings into a
// single upcoming occurrence), reinserts them, and persists — all before the
// caller dispatches anything. A crash after CollectDue can lose at most one
// round of dispatches; it can never double a recurrence.
func (s *Store) CollectDue(ctx context.Context, now time.Time) ([]StoredJob, error) {
	now = now.UTC()

	s.mu.Lock()
	var fired []StoredJob
	for len(s.queue) > 0 && !s.queue[0].Next.After(now) {
		j := s.queue[0]
		s.queue = s.queue[1:]
		fired = append(fired, *j)

		if j.Spec.Recurring() {
			next := j.Next
			for !next.After(now) {
				next = NextOccurrence(next, j.Spec)
			}
			j.Next = next
			s.insertLocked(j)
		} else {
			delete(s.byID, j.ID)
		}
	}
	if len(fired) == 0 {
		s.mu.Unlock()
		return nil, nil
	}
	err := s.persistLocked(ctx)
	s.mu.Unlock()

	if err != nil {
		// The queue already advanced in memory, so the loop will rearm for
		// the future; skipping this round's dispatches keeps restarts from
		// replaying recurrences off a stale snapshot.
		return nil, err
	}
	return fired, nil
}

// insertLocked keeps the queue sorted ascending by Next; equal timestamps
// keep insertion order (new entries go after existing equals).
func (s *Store) insertLocked(j *StoredJob) {
	idx := sort.Search(len(s.queue), func(i int) bool {
		return s.queue[i].Next.After(j.Next)
	})
	s.queue = append(s.queue, nil)
	copy(s.queue[idx+1:], s.queue[idx:])
	s.queue[idx] = j
}

func (s *Store) removeLocked(id int64) {
	j, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)
	s.removeFromQueueLocked(j)
}

func (s *Store) removeFromQueueLocked(j *StoredJob) {
	for i, q := range s.queue {
		if q == j {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

func (s *Store) persistLocked(ctx context.Context) error {
	snap := snapshot{NextID: s.nextID, Jobs: make([]StoredJob, 0, len(s.queue))}
	for _, j := range s.queue {
		snap.Jobs = append(snap.Jobs, *j)
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode job snapshot: %w", err)
	}
	if err := s.brain.Save(ctx, s.key, raw); err != nil {
		return fmt.Errorf("brain save: %w", err)
	}
	return nil
}
