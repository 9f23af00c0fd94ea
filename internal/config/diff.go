package config

import (
	"reflect"
	"sort"
	"strings"

	logx "remindbot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus safe
// structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	// Telegram (never log token)
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		strings.TrimSpace(oldCfg.Telegram.GroupLog) != strings.TrimSpace(newCfg.Telegram.GroupLog) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
		)
	}

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// Brain (persistence). Nil means defaults.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldCfg.Brain != nil {
		oDriver = strings.TrimSpace(oldCfg.Brain.Driver)
		oBusy = strings.TrimSpace(oldCfg.Brain.BusyTimeout)
		oPathSet = strings.TrimSpace(oldCfg.Brain.Path) != ""
	}
	if newCfg.Brain != nil {
		nDriver = strings.TrimSpace(newCfg.Brain.Driver)
		nBusy = strings.TrimSpace(newCfg.Brain.BusyTimeout)
		nPathSet = strings.TrimSpace(newCfg.Brain.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "brain")
		attrs = append(attrs,
			logx.String("brain.driver", nDriver),
			logx.Bool("brain.path_set", nPathSet),
			logx.String("brain.busy_timeout", nBusy),
		)
	}

	// Reminders (timezone + dispatch tuning). Nil dispatch means defaults.
	oD := derefDispatch(oldCfg.Reminders.Dispatch)
	nD := derefDispatch(newCfg.Reminders.Dispatch)
	if strings.TrimSpace(oldCfg.Reminders.Timezone) != strings.TrimSpace(newCfg.Reminders.Timezone) ||
		strings.TrimSpace(oldCfg.Reminders.BrainKey) != strings.TrimSpace(newCfg.Reminders.BrainKey) ||
		!reflect.DeepEqual(oD, nD) {
		changed = append(changed, "reminders")
		attrs = append(attrs,
			logx.String("reminders.timezone", strings.TrimSpace(newCfg.Reminders.Timezone)),
			logx.Int("reminders.dispatch.workers", nD.Workers),
			logx.Int("reminders.dispatch.queue_size", nD.QueueSize),
			logx.Int("reminders.dispatch.rate_per_sec", nD.RatePerSec),
			logx.Int("reminders.dispatch.retry_max", nD.RetryMax),
		)
	}

	// Digest
	oDG := derefDigest(oldCfg.Digest)
	nDG := derefDigest(newCfg.Digest)
	if !reflect.DeepEqual(oDG, nDG) {
		changed = append(changed, "digest")
		attrs = append(attrs,
			logx.Bool("digest.enabled", nDG.Enabled),
			logx.String("digest.at", strings.TrimSpace(nDG.At)),
			logx.Int("digest.chat_count", len(nDG.ChatIDs)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefDispatch(d *DispatchConfig) DispatchConfig {
	if d == nil {
		return DispatchConfig{}
	}
	return *d
}

func derefDigest(d *DigestConfig) DigestConfig {
	if d == nil {
		return DigestConfig{}
	}
	return *d
}
