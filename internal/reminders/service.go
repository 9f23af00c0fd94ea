package reminders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/brain"
	logx "remindbot/pkg/logx"
)

// Config tunes the scheduler service.
type Config struct {
	// Timezone is the IANA zone user text is interpreted in when the caller
	// does not supply one. Empty means the process-local zone.
	Timezone string
	// BrainKey overrides the snapshot key (default "jobs").
	BrainKey string
}

// Service is the command-facing API over the store and the loop. All
// mutations are serialized by the store's mutex and signal the loop when
// they may have changed the earliest pending job.
type Service struct {
	log   logx.Logger
	cfg   Config
	clock Clock
	loc   *time.Location

	store *Store
	loop  *Loop
}

// Option configures New.
type Option func(*Service)

// WithClock injects a clock; tests use a fake one.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

func New(cfg Config, b brain.Store, disp Dispatcher, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:   log,
		cfg:   cfg,
		clock: RealClock{},
		loc:   loadLocation(cfg.Timezone, log),
	}
	for _, o := range opts {
		o(s)
	}
	s.store = NewStore(b, cfg.BrainKey, log)
	s.loop = NewLoop(s.store, disp, s.clock, log)
	return s
}

// Load restores persisted jobs. Call before Run.
func (s *Service) Load(ctx context.Context) error {
	if err := s.store.Load(ctx); err != nil {
		return err
	}
	s.log.Info("reminders loaded", logx.Int("jobs", s.store.Len()))
	return nil
}

// Run drives the scheduler loop until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error { return s.loop.Run(ctx) }

// State exposes the loop phase for health reporting.
func (s *Service) State() State { return s.loop.State() }

// AddFromText parses text ("remind me every Friday at 17:00 to send the
// report") and stores the resulting job. The envelope's Message and
// Audience fields are filled from the parse; the rest identifies the
// requester and the chat.
func (s *Service) AddFromText(ctx context.Context, text string, env MessageInfo, timezone string) (StoredJob, error) {
	res, err := Parse(text, s.location(timezone), s.clock.Now())
	if err != nil {
		return StoredJob{}, err
	}
	env.Message = res.Message
	env.Audience = res.Audience

	job := Job{Info: env, Spec: res.Spec, Next: res.Next}
	stored, front, err := s.store.Add(ctx, job)
	if err != nil {
		return StoredJob{}, fmt.Errorf("add reminder: %w", err)
	}
	if front {
		s.loop.Kick()
	}
	s.log.Info("reminder added",
		logx.Int64("id", stored.ID),
		logx.String("kind", string(stored.Spec.Kind)),
		logx.Time("next", stored.Next))
	return stored, nil
}

// Remove cancels a job by id.
func (s *Service) Remove(ctx context.Context, id int64) (StoredJob, error) {
	j, front, err := s.store.Remove(ctx, id)
	if err != nil {
		return StoredJob{}, err
	}
	if front {
		s.loop.Kick()
	}
	s.log.Info("reminder removed", logx.Int64("id", id))
	return j, nil
}

// UpdateMessage replaces a job's message text.
func (s *Service) UpdateMessage(ctx context.Context, id int64, text string) (StoredJob, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return StoredJob{}, fmt.Errorf("%w: empty message", ErrNoMessage)
	}
	return s.store.UpdateMessage(ctx, id, text)
}

// UpdateSpec re-parses specText ("every other Tuesday at 9") and replaces
// the job's recurrence. A spec that fails to parse leaves the job exactly
// as it was and returns the parse error.
func (s *Service) UpdateSpec(ctx context.Context, id int64, specText, timezone string) (StoredJob, error) {
	if _, ok := s.store.Get(id); !ok {
		return StoredJob{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	spec, next, err := ParseClause(specText, s.location(timezone), s.clock.Now())
	if err != nil {
		return StoredJob{}, err
	}
	j, front, err := s.store.UpdateSpec(ctx, id, spec, next)
	if err != nil {
		return StoredJob{}, err
	}
	if front {
		s.loop.Kick()
	}
	s.log.Info("reminder rescheduled", logx.Int64("id", id), logx.Time("next", j.Next))
	return j, nil
}

// JobsForChats lists jobs ascending by next occurrence; no ids means all.
func (s *Service) JobsForChats(chatIDs ...int64) []StoredJob {
	return s.store.JobsForChats(chatIDs...)
}

// FormatJob renders a job in the given timezone (empty means the service
// default).
func (s *Service) FormatJob(j StoredJob, timezone string) string {
	return Format(j, s.location(timezone))
}

func (s *Service) location(timezone string) *time.Location {
	if strings.TrimSpace(timezone) == "" {
		return s.loc
	}
	return loadLocation(timezone, s.log)
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone, falling back to local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
