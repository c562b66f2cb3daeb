package logx

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"mangadexbot/internal/transport"
)

type captureSender struct {
	mu   sync.Mutex
	sent []string
	to   []transport.ChatTarget
}

func (c *captureSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	c.to = append(c.to, to)
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func TestFormatOpsLine(t *testing.T) {
	got := formatOpsLine([]byte(`{"level":"warn","time":"x","message":"scan failed","manga":"abc","comp":"scan"}`))
	want := "[WARN] scan failed\n- comp=scan\n- manga=abc"
	if got != want {
		t.Fatalf("formatOpsLine=%q want %q", got, want)
	}
}

func TestOpsChatSinkForwardsWarnings(t *testing.T) {
	snd := &captureSender{}
	svc, log := New(Config{
		Level: "debug",
		OpsChat: OpsChatConfig{
			Enabled:    true,
			Target:     "-100:3",
			MinLevel:   "warn",
			RatePerSec: 10,
		},
	}, snd)
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("quiet")
	log.Warn("loud", String("k", "v"))

	deadline := time.Now().Add(2 * time.Second)
	for snd.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	snd.mu.Lock()
	defer snd.mu.Unlock()
	if len(snd.sent) != 1 {
		t.Fatalf("sent %d lines, want 1: %q", len(snd.sent), snd.sent)
	}
	if !strings.HasPrefix(snd.sent[0], "[WARN] loud") {
		t.Fatalf("unexpected line %q", snd.sent[0])
	}
	if snd.to[0] != (transport.ChatTarget{ChatID: -100, ThreadID: 3}) {
		t.Fatalf("unexpected target %+v", snd.to[0])
	}
}

func TestWriterLoggerAppliesFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").Component("track")
	log.Debug("hidden")
	log.Info("shown", Int("n", 2))
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line leaked: %s", out)
	}
	if !strings.Contains(out, `"comp":"track"`) || !strings.Contains(out, `"n":2`) {
		t.Fatalf("missing fields: %s", out)
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Error("nothing happens")
}
