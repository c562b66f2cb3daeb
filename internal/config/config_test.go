package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mangadexbot/internal/notifier"
	"mangadexbot/pkg/logx"
)

func TestParseDefaults(t *testing.T) {
	o, err := Parse([]string{"--token", "abc"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if o.ScanPeriod != 21600 || o.ScanPacing != 250*time.Millisecond || o.QueueSize != 256 {
		t.Fatalf("unexpected scan defaults %+v", o)
	}
	if got := o.Scan().Period; got != 6*time.Hour {
		t.Fatalf("scan period=%v want 6h", got)
	}
	if st := o.Storage(); st.Driver != "sqlite" || st.Collection != "manga" {
		t.Fatalf("unexpected storage %+v", st)
	}
	if lg := o.Logging(); !lg.Console || lg.File.Enabled || lg.OpsChat.Enabled {
		t.Fatalf("unexpected logging %+v", lg)
	}
}

func TestParseEnv(t *testing.T) {
	t.Setenv("MANGADEX_BOT_TELEGRAM_TOKEN", "from-env")
	t.Setenv("MANGADEX_BOT_SCAN_PERIOD", "60")
	t.Setenv("MANGADEX_BOT_STORAGE_DRIVER", "mongo")
	t.Setenv("MANGADEX_BOT_CONNECTION_STRING", "mongodb://localhost:27017")
	t.Setenv("MANGADEX_BOT_OPS_CHAT", "-100:7")

	o, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if o.Token != "from-env" || o.Scan().Period != time.Minute {
		t.Fatalf("env not applied: %+v", o)
	}
	if st := o.Storage(); st.Driver != "mongo" || st.URL != "mongodb://localhost:27017" || st.Database != "mangadex-bot" {
		t.Fatalf("unexpected storage %+v", st)
	}
	if lg := o.Logging(); !lg.OpsChat.Enabled || lg.OpsChat.Target != "-100:7" {
		t.Fatalf("unexpected ops chat %+v", lg.OpsChat)
	}
}

func TestParseRejects(t *testing.T) {
	cases := []struct {
		name string
		args []string
	}{
		{"missing token", nil},
		{"zero period", []string{"--token", "t", "--scan-period", "0"}},
		{"bad cron", []string{"--token", "t", "--scan-cron", "not a cron"}},
		{"mongo without url", []string{"--token", "t", "--storage-driver", "mongo"}},
		{"unknown driver", []string{"--token", "t", "--storage-driver", "redis"}},
		{"zero queue", []string{"--token", "t", "--queue-size", "0"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(tc.args); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestParseHelp(t *testing.T) {
	_, err := Parse([]string{"--help"})
	if !IsHelp(err) {
		t.Fatalf("err=%v want help", err)
	}
}

func TestCronOverridesPeriod(t *testing.T) {
	o, err := Parse([]string{"--token", "t", "--scan-period", "0", "--scan-cron", "0 */6 * * *"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if o.Scan().Cron != "0 */6 * * *" {
		t.Fatalf("cron not carried: %+v", o.Scan())
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestRuntimeParseFormats(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		file string
		body string
	}{
		{"rt.json", `{"logging":{"level":"debug","console":true},"notifier":{"send_rate":5,"send_timeout":"3s"}}`},
		{"rt.yaml", "logging:\n  level: debug\n  console: true\nnotifier:\n  send_rate: 5\n  send_timeout: 3s\n"},
	}
	for _, tc := range cases {
		t.Run(tc.file, func(t *testing.T) {
			path := filepath.Join(dir, tc.file)
			writeFile(t, path, tc.body)
			rt, err := NewManager(path, logx.Nop()).Parse()
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if rt.Logging == nil || rt.Logging.Level != "debug" || !rt.Logging.Console {
				t.Fatalf("unexpected logging %+v", rt.Logging)
			}
			nc, err := rt.ApplyNotifier(notifier.Config{RatePerSec: 20, SendTimeout: 10 * time.Second, SiteRoot: "s"})
			if err != nil {
				t.Fatalf("ApplyNotifier: %v", err)
			}
			if nc.RatePerSec != 5 || nc.SendTimeout != 3*time.Second || nc.SiteRoot != "s" {
				t.Fatalf("unexpected notifier %+v", nc)
			}
		})
	}
}

func TestRuntimeParseRejects(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"unknown.json":  `{"logging":{"level":"info"},"pprof":{}}`,
		"trailing.json": `{} {}`,
		"level.json":    `{"logging":{"level":"loud"}}`,
		"timeout.yaml":  "notifier:\n  send_timeout: soon\n",
		"ops.json":      `{"logging":{"ops_chat":{"enabled":true}}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			writeFile(t, path, body)
			if _, err := NewManager(path, logx.Nop()).Parse(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestSummarizeChange(t *testing.T) {
	old := &Runtime{Notifier: &NotifierRuntime{SendRate: 5}}
	changed, _ := SummarizeChange(old, &Runtime{Notifier: &NotifierRuntime{SendRate: 5}})
	if len(changed) != 0 {
		t.Fatalf("unexpected change %v", changed)
	}
	changed, _ = SummarizeChange(old, &Runtime{Notifier: &NotifierRuntime{SendRate: 6}})
	if strings.Join(changed, ",") != "notifier" {
		t.Fatalf("changed=%v want notifier", changed)
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rt.json")
	writeFile(t, path, `{"logging":{"level":"info"}}`)

	m := NewManager(path, logx.Nop())
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Rewrite until the watcher has registered the directory and picks it up.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		writeFile(t, path, `{"logging":{"level":"debug"}}`)
		select {
		case rt := <-ch:
			if rt.Logging == nil || rt.Logging.Level != "debug" {
				t.Fatalf("unexpected publish %+v", rt.Logging)
			}
			if got := m.Get(); got != rt {
				t.Fatalf("Get did not return the published config")
			}
			return
		case <-tick.C:
		case <-deadline:
			t.Fatalf("no reload published")
		}
	}
}
