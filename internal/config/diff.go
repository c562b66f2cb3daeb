package config

import (
	"strings"

	"mangadexbot/pkg/logx"
)

// SummarizeChange returns the changed sections and safe attrs for logging.
// Chat targets are reported as set/unset only.
func SummarizeChange(oldCfg, newCfg *Runtime) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Runtime{}
	}
	if newCfg == nil {
		newCfg = &Runtime{}
	}

	changed := make([]string, 0, 2)
	attrs := make([]logx.Field, 0, 8)

	ol, nl := derefLogging(oldCfg.Logging), derefLogging(newCfg.Logging)
	if (oldCfg.Logging == nil) != (newCfg.Logging == nil) ||
		!strings.EqualFold(ol.Level, nl.Level) ||
		ol.Console != nl.Console ||
		ol.File.Enabled != nl.File.Enabled ||
		strings.TrimSpace(ol.File.Path) != strings.TrimSpace(nl.File.Path) ||
		ol.OpsChat.Enabled != nl.OpsChat.Enabled ||
		ol.OpsChat.Target != nl.OpsChat.Target ||
		ol.OpsChat.MinLevel != nl.OpsChat.MinLevel ||
		ol.OpsChat.RatePerSec != nl.OpsChat.RatePerSec {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", nl.Level),
			logx.Bool("logx.console", nl.Console),
			logx.Bool("logx.file_enabled", nl.File.Enabled),
			logx.Bool("logx.ops_chat_enabled", nl.OpsChat.Enabled),
			logx.Bool("logx.ops_chat_set", strings.TrimSpace(nl.OpsChat.Target) != ""),
		)
	}

	on, nn := derefNotifier(oldCfg.Notifier), derefNotifier(newCfg.Notifier)
	if on != nn {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.send_rate", nn.SendRate),
			logx.String("notifier.send_timeout", strings.TrimSpace(nn.SendTimeout)),
			logx.Int("notifier.history_size", nn.HistorySize),
		)
	}
	return changed, attrs
}

func derefLogging(c *logx.Config) logx.Config {
	if c == nil {
		return logx.Config{}
	}
	return *c
}

func derefNotifier(n *NotifierRuntime) NotifierRuntime {
	if n == nil {
		return NotifierRuntime{}
	}
	return *n
}
