package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"remindbot/internal/reminders"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

const helpText = `I turn plain text into reminders.

Just talk to me:
  remind me tomorrow at 9 to stretch
  remind me every 2nd Tuesday at 16:33 to ship the release
  remind team on friday at 17:00 to send the weekly report

Commands:
  /list — reminders in this chat
  /forget <id> — delete a reminder
  /retime <id> <schedule> — change when it fires
  /reword <id> <text> — change what it says
  /help — this message`

// Router reads inbound chat messages and turns them into reminder
// operations. Free text goes to the parser; slash commands manage
// existing jobs.
type Router struct {
	log     logx.Logger
	rem     *reminders.Service
	adapter kit.Adapter

	mu       sync.RWMutex
	owners   []int64
	timezone string
}

func NewRouter(rem *reminders.Service, adapter kit.Adapter, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{log: log, rem: rem, adapter: adapter}
}

func (r *Router) SetOwners(ids []int64) {
	r.mu.Lock()
	r.owners = append([]int64(nil), ids...)
	r.mu.Unlock()
}

func (r *Router) SetTimezone(tz string) {
	r.mu.Lock()
	r.timezone = tz
	r.mu.Unlock()
}

func (r *Router) tz() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.timezone
}

// Run consumes messages until ctx is done or the channel closes.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-updates:
			if !ok {
				return nil
			}
			r.handle(ctx, msg)
		}
	}
}

func (r *Router) handle(ctx context.Context, msg kit.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("message handler panicked",
				logx.Int64("chat_id", msg.ChatID), logx.Any("panic", p))
		}
	}()

	if strings.HasPrefix(text, "/") {
		r.handleCommand(ctx, msg, text)
		return
	}

	// Free text. Only react when it looks like a reminder request so the
	// bot stays quiet in group chatter.
	if !strings.Contains(strings.ToLower(text), "remind") {
		return
	}

	env := reminders.MessageInfo{
		UserID:   msg.FromID,
		Username: msg.FromUsername,
		ChatID:   msg.ChatID,
		ThreadID: msg.ThreadID,
	}
	job, err := r.rem.AddFromText(ctx, text, env, r.tz())
	switch {
	case errors.Is(err, reminders.ErrNoSchedule):
		r.reply(ctx, msg, "I couldn't find a schedule in that. Try: remind me tomorrow at 9 to stretch")
	case errors.Is(err, reminders.ErrNoMessage):
		r.reply(ctx, msg, "I got the schedule but not what to remind you about. End with: ... to <do the thing>")
	case err != nil:
		r.log.Warn("add reminder failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
		r.reply(ctx, msg, "something went wrong saving that reminder, try again")
	default:
		r.reply(ctx, msg, "ok! "+r.rem.FormatJob(job, r.tz()))
	}
}

func (r *Router) handleCommand(ctx context.Context, msg kit.Message, text string) {
	fields := strings.Fields(text)
	cmd := strings.ToLower(fields[0])
	// Strip the @botname suffix Telegram appends in groups.
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	switch cmd {
	case "/help", "/start":
		r.reply(ctx, msg, helpText)

	case "/list":
		jobs := r.rem.JobsForChats(msg.ChatID)
		if len(jobs) == 0 {
			r.reply(ctx, msg, "no reminders in this chat")
			return
		}
		var b strings.Builder
		for _, j := range jobs {
			b.WriteString(r.rem.FormatJob(j, r.tz()))
			b.WriteString("\n")
		}
		r.reply(ctx, msg, strings.TrimRight(b.String(), "\n"))

	case "/forget":
		id, ok := r.argID(ctx, msg, args, "/forget <id>")
		if !ok {
			return
		}
		if !r.mayManage(ctx, msg, id) {
			return
		}
		job, err := r.rem.Remove(ctx, id)
		if err != nil {
			r.replyErr(ctx, msg, id, err)
			return
		}
		r.reply(ctx, msg, fmt.Sprintf("forgot #%d (%s)", job.ID, job.Info.Message))

	case "/retime":
		id, ok := r.argID(ctx, msg, args, "/retime <id> <schedule>")
		if !ok {
			return
		}
		if len(args) < 2 {
			r.reply(ctx, msg, "usage: /retime <id> <schedule>, e.g. /retime 3 every friday at 17:00")
			return
		}
		if !r.mayManage(ctx, msg, id) {
			return
		}
		job, err := r.rem.UpdateSpec(ctx, id, strings.Join(args[1:], " "), r.tz())
		if err != nil {
			if errors.Is(err, reminders.ErrNoSchedule) {
				r.reply(ctx, msg, "I couldn't read that schedule; the reminder is unchanged")
				return
			}
			r.replyErr(ctx, msg, id, err)
			return
		}
		r.reply(ctx, msg, "rescheduled: "+r.rem.FormatJob(job, r.tz()))

	case "/reword":
		id, ok := r.argID(ctx, msg, args, "/reword <id> <text>")
		if !ok {
			return
		}
		if len(args) < 2 {
			r.reply(ctx, msg, "usage: /reword <id> <text>")
			return
		}
		if !r.mayManage(ctx, msg, id) {
			return
		}
		job, err := r.rem.UpdateMessage(ctx, id, strings.Join(args[1:], " "))
		if err != nil {
			r.replyErr(ctx, msg, id, err)
			return
		}
		r.reply(ctx, msg, "reworded: "+r.rem.FormatJob(job, r.tz()))

	default:
		// Unknown commands are ignored; other bots may share the chat.
	}
}

// argID parses the first argument as a job id.
func (r *Router) argID(ctx context.Context, msg kit.Message, args []string, usage string) (int64, bool) {
	if len(args) == 0 {
		r.reply(ctx, msg, "usage: "+usage)
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		r.reply(ctx, msg, "usage: "+usage)
		return 0, false
	}
	return id, true
}

// mayManage checks that the job lives in this chat and that the sender is
// its creator or a configured owner.
func (r *Router) mayManage(ctx context.Context, msg kit.Message, id int64) bool {
	var found *reminders.StoredJob
	for _, j := range r.rem.JobsForChats(msg.ChatID) {
		if j.ID == id {
			jj := j
			found = &jj
			break
		}
	}
	if found == nil {
		r.reply(ctx, msg, fmt.Sprintf("no reminder #%d in this chat", id))
		return false
	}
	if found.Info.UserID == msg.FromID {
		return true
	}
	r.mu.RLock()
	owners := r.owners
	r.mu.RUnlock()
	for _, o := range owners {
		if o == msg.FromID {
			return true
		}
	}
	r.reply(ctx, msg, fmt.Sprintf("reminder #%d belongs to someone else", id))
	return false
}

func (r *Router) replyErr(ctx context.Context, msg kit.Message, id int64, err error) {
	if errors.Is(err, reminders.ErrNotFound) {
		r.reply(ctx, msg, fmt.Sprintf("no reminder #%d in this chat", id))
		return
	}
	r.log.Warn("command failed", logx.Int64("chat_id", msg.ChatID), logx.Int64("job_id", id), logx.Err(err))
	r.reply(ctx, msg, "something went wrong, try again")
}

func (r *Router) reply(ctx context.Context, msg kit.Message, text string) {
	to := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if _, err := r.adapter.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
	}
}
