package reminders

import (
	"context"
	"sync/atomic"
	"time"

	logx "remindbot/pkg/logx"
)

// State is the loop's externally visible phase.
type State int32

const (
	// StateIdle means the queue is empty and no timer is armed.
	StateIdle State = iota
	// StateArmed means one timer is set for the earliest pending job.
	StateArmed
	// StateDraining means due jobs are being executed right now.
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateDraining:
		return "draining"
	}
	return "unknown"
}

// Dispatcher receives due jobs. Dispatch must not block: the loop fires jobs
// and immediately rearms; delivery retries and pacing live behind this
// interface.
type Dispatcher interface {
	Dispatch(job StoredJob)
}

// Loop is the single pending-timer scheduler. At most one timer exists at
// any moment; every queue mutation that can change the earliest job calls
// Kick, which cancels the timer and re-evaluates.
type Loop struct {
	log   logx.Logger
	clock Clock
	store *Store
	disp  Dispatcher

	kick  chan struct{}
	state atomic.Int32
}

func NewLoop(store *Store, disp Dispatcher, clock Clock, log logx.Logger) *Loop {
	if clock == nil {
		clock = RealClock{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{
		log:   log,
		clock: clock,
		store: store,
		disp:  disp,
		kick:  make(chan struct{}, 1),
	}
}

// Kick asks the loop to re-evaluate the queue front. Non-blocking; multiple
// kicks coalesce.
func (l *Loop) Kick() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

func (l *Loop) State() State { return State(l.state.Load()) }

// Run drives the Idle/Armed/Draining machine until ctx is cancelled. An
// immediate drain pass on entry catches up anything that became due while
// the process was down.
func (l *Loop) Run(ctx context.Context) error {
	l.drain(ctx)

	for {
		var (
			timer Timer
			wake  <-chan time.Time
		)
		if next, ok := l.store.NextWake(); ok {
			d := next.Sub(l.clock.Now())
			if d < 0 {
				d = 0
			}
			timer = l.clock.NewTimer(d)
			wake = timer.C()
			l.state.Store(int32(StateArmed))
		} else {
			l.state.Store(int32(StateIdle))
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			l.state.Store(int32(StateIdle))
			return ctx.Err()
		case <-l.kick:
			if timer != nil {
				timer.Stop()
			}
		case <-wake:
			l.drain(ctx)
		}
	}
}

// drain claims and executes every currently due job in one pass. The store
// persists the advanced queue before any dispatch happens; per-job dispatch
// problems are the dispatcher's to log and never reach the rearm step.
func (l *Loop) drain(ctx context.Context) {
	l.state.Store(int32(StateDraining))

	fired, err := l.store.CollectDue(ctx, l.clock.Now())
	if err != nil {
		l.log.Error("drain pass failed; skipping dispatch", logx.Err(err))
		return
	}
	for _, j := range fired {
		l.disp.Dispatch(j)
	}
	if len(fired) > 0 {
		l.log.Info("reminders fired", logx.Int("count", len(fired)))
	}
}
