// Package digest sends a once-a-day agenda message listing the reminders
// scheduled for the next 24 hours.
package digest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/dispatch"
	"remindbot/internal/eventbus"
	"remindbot/internal/reminders"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type Config struct {
	Enabled bool
	// At is local wall-clock time, "HH:MM".
	At       string
	Timezone string
	ChatIDs  []int64
}

// Service runs the daily agenda on a cron schedule.
type Service struct {
	mu sync.Mutex

	log  logx.Logger
	rem  *reminders.Service
	disp *dispatch.Service
	bus  eventbus.Bus

	cfg  Config
	cron *cron.Cron
}

func New(cfg Config, rem *reminders.Service, disp *dispatch.Service, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, rem: rem, disp: disp, bus: bus, cfg: cfg}
}

func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.cron != nil {
		return nil
	}

	loc := time.UTC
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("digest timezone: %w", err)
		}
		loc = l
	}

	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s.cfg.At), "%d:%d", &h, &m); err != nil {
		return fmt.Errorf("digest time %q: %w", s.cfg.At, err)
	}

	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(fmt.Sprintf("%d %d * * *", m, h), s.send); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.log.Info("daily digest scheduled",
		logx.String("at", s.cfg.At), logx.String("tz", loc.String()), logx.Int("chats", len(s.cfg.ChatIDs)))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Apply restarts the cron entry with new settings.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	s.Stop(ctx)
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return s.Start()
}

func (s *Service) send() {
	s.mu.Lock()
	chats := append([]int64(nil), s.cfg.ChatIDs...)
	s.mu.Unlock()
	if len(chats) == 0 {
		return
	}

	for _, chatID := range chats {
		text := s.render(chatID)
		if text == "" {
			continue
		}
		if err := s.disp.Enqueue(dispatch.Envelope{Target: kit.ChatTarget{ChatID: chatID}, Text: text}); err != nil {
			s.log.Warn("digest enqueue failed", logx.Int64("chat_id", chatID), logx.Err(err))
			continue
		}
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeDigestSent, Data: chatID})
		}
	}
}

func (s *Service) render(chatID int64) string {
	jobs := s.rem.JobsForChats(chatID)
	cutoff := time.Now().UTC().Add(24 * time.Hour)

	var b strings.Builder
	n := 0
	for _, j := range jobs {
		if j.Next.After(cutoff) {
			continue
		}
		if n == 0 {
			b.WriteString("today's reminders:\n")
		}
		b.WriteString(s.rem.FormatJob(j, ""))
		b.WriteString("\n")
		n++
	}
	if n == 0 {
		return ""
	}
	return strings.TrimRight(b.String(), "\n")
}
