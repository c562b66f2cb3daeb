package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"mangadexbot/internal/notifier"
	"mangadexbot/pkg/logx"
)

// Runtime is the hot-reloadable part of the configuration.
// Omitted sections keep the values from the command line.
type Runtime struct {
	Logging  *logx.Config     `json:"logging,omitempty"`
	Notifier *NotifierRuntime `json:"notifier,omitempty"`
}

// NotifierRuntime tunes delivery without a restart.
//
// SendTimeout is a Go duration string (e.g. "10s"); "" or "0s" keeps the default.
type NotifierRuntime struct {
	SendRate    int    `json:"send_rate,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
}

// Validate rejects values that would otherwise be silently replaced by defaults.
func (r *Runtime) Validate() error {
	if r == nil {
		return fmt.Errorf("runtime config is nil")
	}
	if r.Logging != nil {
		switch strings.ToLower(strings.TrimSpace(r.Logging.Level)) {
		case "", "debug", "trace", "info", "warn", "warning", "error":
		default:
			return fmt.Errorf("logging.level: unknown level %q", r.Logging.Level)
		}
		if r.Logging.OpsChat.Enabled && strings.TrimSpace(r.Logging.OpsChat.Target) == "" {
			return fmt.Errorf("logging.ops_chat.target: required when enabled")
		}
	}
	if n := r.Notifier; n != nil {
		if n.SendRate < 0 {
			return fmt.Errorf("notifier.send_rate must be >= 0")
		}
		if n.HistorySize < 0 {
			return fmt.Errorf("notifier.history_size must be >= 0")
		}
		if _, err := ParseDurationField("notifier.send_timeout", n.SendTimeout); err != nil {
			return err
		}
	}
	return nil
}

// ApplyNotifier overlays the runtime notifier section on base.
func (r *Runtime) ApplyNotifier(base notifier.Config) (notifier.Config, error) {
	if r == nil || r.Notifier == nil {
		return base, nil
	}
	n := r.Notifier
	if n.SendRate > 0 {
		base.RatePerSec = n.SendRate
	}
	if n.HistorySize > 0 {
		base.HistorySize = n.HistorySize
	}
	d, err := ParseDurationOrDefault("notifier.send_timeout", n.SendTimeout, base.SendTimeout)
	if err != nil {
		return base, err
	}
	base.SendTimeout = d
	return base, nil
}

func hashRuntime(r *Runtime) uint64 {
	if r == nil {
		return 0
	}
	b, err := json.Marshal(r)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

// FNV-1a.
func hashBytes(b []byte) uint64 {
	const (
		offset = 14695981039346656037
		prime  = 1099511628211
	)
	h := uint64(offset)
	for _, c := range bytes.TrimSpace(b) {
		h ^= uint64(c)
		h *= prime
	}
	return h
}
