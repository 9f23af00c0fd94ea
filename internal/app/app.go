package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/brain"
	"remindbot/internal/config"
	"remindbot/internal/digest"
	"remindbot/internal/dispatch"
	"remindbot/internal/eventbus"
	"remindbot/internal/reminders"
	"remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	logx "remindbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   brain.Store
	adapter kit.Adapter

	rem    *reminders.Service
	disp   *dispatch.Service
	digest *digest.Service
	router *Router

	updates chan kit.Message
}

// delivery adapts the async pipeline to the scheduler's dispatcher port.
// Enqueue never blocks, which is what the scheduler loop requires.
type delivery struct {
	disp *dispatch.Service
	bus  eventbus.Bus
}

func (d *delivery) Dispatch(job reminders.StoredJob) {
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeReminderFired, Data: job.ID})
	}
	_ = d.disp.Enqueue(dispatch.Envelope{
		JobID:  job.ID,
		Target: kit.ChatTarget{ChatID: job.Info.ChatID, ThreadID: job.Info.ThreadID},
		Text:   reminders.RenderMessage(job),
	})
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// logx.New applies its config immediately. If chat logging is enabled
	// before the target is set, Apply would warn; bootstrap with it off,
	// set the target, then apply the real config.
	baseLogCfg := mapLogConfig(cfg)
	baseLogCfg.Telegram.Enabled = false
	logSvc, log := logx.New(baseLogCfg, ad)
	log = log.With(logx.String("comp", "app"))

	if gl := strings.TrimSpace(cfg.Telegram.GroupLog); gl != "" {
		if chatID, err := strconv.ParseInt(gl, 10, 64); err == nil {
			logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
		}
	}
	logSvc.Apply(mapLogConfig(cfg))

	bus := eventbus.New()

	bc, err := mapBrainConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := brain.Open(bc, log.With(logx.String("comp", "brain")))
	if err != nil {
		return nil, err
	}

	dcfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	dispSvc := dispatch.New(dcfg, ad, log.With(logx.String("comp", "dispatch")), bus)

	remSvc := reminders.New(reminders.Config{
		Timezone: cfg.Reminders.Timezone,
		BrainKey: cfg.Reminders.BrainKey,
	}, store, &delivery{disp: dispSvc, bus: bus}, log.With(logx.String("comp", "reminders")))

	digSvc := digest.New(mapDigestConfig(cfg), remSvc, dispSvc, bus, log.With(logx.String("comp", "digest")))

	router := NewRouter(remSvc, ad, log.With(logx.String("comp", "router")))
	router.SetOwners(cfg.Telegram.OwnerUserIDs)
	router.SetTimezone(cfg.Reminders.Timezone)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		rem:     remSvc,
		disp:    dispSvc,
		digest:  digSvc,
		router:  router,
		updates: make(chan kit.Message, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error
// or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if tz := strings.TrimSpace(cfg.Reminders.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("reminders.timezone: invalid %q: %w", tz, err)
			}
		}
		if _, err := mapDispatchConfig(cfg); err != nil {
			return err
		}
		if _, err := mapBrainConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.disp.Start(a.sup.Context())

	// Restore persisted jobs before the loop arms its first timer; overdue
	// jobs fire in the loop's startup drain.
	if err := a.rem.Load(a.sup.Context()); err != nil {
		return fmt.Errorf("load reminders: %w", err)
	}
	a.sup.Go("reminders.loop", func(c context.Context) error {
		return a.rem.Run(c)
	})

	if err := a.digest.Start(); err != nil {
		a.log.Warn("digest not started", logx.Err(err))
	}

	a.sup.Go("router", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	// Debug-level event trail; components publish, this just logs.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		switch s {
		case "brain":
			a.log.Warn("brain config changed; restart required for changes to take effect")
		case "telegram":
			if strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token) {
				a.log.Warn("telegram token changed; restart required for changes to take effect")
			}
		}
	}

	// Update log target first so Apply() doesn't warn when chat logging is on.
	if gl := strings.TrimSpace(newCfg.Telegram.GroupLog); gl != "" {
		if chatID, err := strconv.ParseInt(gl, 10, 64); err == nil {
			a.logs.SetTelegramTarget(chatID, newCfg.Logging.Telegram.ThreadID)
		}
	} else {
		a.logs.SetTelegramTarget(0, 0)
	}
	a.logs.Apply(mapLogConfig(newCfg))

	a.router.SetOwners(newCfg.Telegram.OwnerUserIDs)
	a.router.SetTimezone(newCfg.Reminders.Timezone)

	if dcfg, err := mapDispatchConfig(newCfg); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		a.disp.Apply(dcfg)
	}

	// Timezone changes affect how NEW text is read; existing jobs keep their
	// computed times.
	if strings.TrimSpace(oldCfg.Reminders.Timezone) != strings.TrimSpace(newCfg.Reminders.Timezone) {
		a.log.Info("reminder timezone changed; applies to new reminders",
			logx.String("tz", newCfg.Reminders.Timezone))
	}

	if err := a.digest.Apply(ctx, mapDigestConfig(newCfg)); err != nil {
		a.log.Warn("invalid digest config; digest stopped", logx.Err(err))
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: sections})
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// step bounds each shutdown phase so one component can't stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("digest", 1*time.Second, func(c context.Context) error { a.digest.Stop(c); return nil })
	step("dispatch", 3*time.Second, func(c context.Context) error { a.disp.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("brain", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (scheduler loop, router,
	// config watch, etc.).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapBrainConfig(cfg *config.Config) (brain.Config, error) {
	if cfg.Brain == nil {
		return brain.Config{Driver: "file", Path: "./remindbot_brain"}, nil
	}
	busy, err := config.ParseDurationField("brain.busy_timeout", cfg.Brain.BusyTimeout)
	if err != nil {
		return brain.Config{}, err
	}
	return brain.Config{
		Driver:      cfg.Brain.Driver,
		Path:        cfg.Brain.Path,
		BusyTimeout: busy,
	}, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	d := cfg.Reminders.Dispatch
	if d == nil {
		return dispatch.Config{}, nil
	}
	base, err := config.ParseDurationField("reminders.dispatch.retry_base", d.RetryBase)
	if err != nil {
		return dispatch.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("reminders.dispatch.retry_max_delay", d.RetryMaxDelay)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		Workers:       d.Workers,
		QueueSize:     d.QueueSize,
		RatePerSec:    d.RatePerSec,
		RetryMax:      d.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
	}, nil
}

func mapDigestConfig(cfg *config.Config) digest.Config {
	if cfg.Digest == nil {
		return digest.Config{}
	}
	tz := cfg.Digest.Timezone
	if strings.TrimSpace(tz) == "" {
		tz = cfg.Reminders.Timezone
	}
	return digest.Config{
		Enabled:  cfg.Digest.Enabled,
		At:       cfg.Digest.At,
		Timezone: tz,
		ChatIDs:  cfg.Digest.ChatIDs,
	}
}
