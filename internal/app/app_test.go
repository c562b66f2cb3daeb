package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"mangadexbot/internal/config"
	"mangadexbot/internal/mangadex"
	"mangadexbot/internal/scan"
	kit "mangadexbot/internal/transport"
	"mangadexbot/pkg/logx"
)

const berserkID = "801513ba-a712-498c-8f57-cae55b38cc92"

type chatAdapter struct {
	mu   sync.Mutex
	out  chan<- kit.Update
	sent []string
	menu []kit.BotCommand
}

func (c *chatAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, to.Key()+" "+text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(c.sent)}, nil
}

func (c *chatAdapter) Start(_ context.Context, out chan<- kit.Update) error {
	c.mu.Lock()
	c.out = out
	c.mu.Unlock()
	return nil
}

func (c *chatAdapter) Stop(context.Context) error { return nil }

func (c *chatAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	c.mu.Lock()
	c.menu = cmds
	c.mu.Unlock()
	return nil
}

func (c *chatAdapter) say(chat int64, text string) {
	c.mu.Lock()
	out := c.out
	c.mu.Unlock()
	out <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chat, FromID: 1, Text: text}}
}

func (c *chatAdapter) waitSent(t *testing.T, substr string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		for _, s := range c.sent {
			if strings.Contains(s, substr) {
				c.mu.Unlock()
				return
			}
		}
		c.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t.Fatalf("no message containing %q in %q", substr, c.sent)
}

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/manga/"+berserkID:
			_, _ = w.Write([]byte(`{"result":"ok","data":{"id":"` + berserkID + `","attributes":{"title":{"en":"Berserk"}}}}`))
		case r.URL.Path == "/chapter":
			_, _ = w.Write([]byte(`{"result":"ok","data":[{"id":"c-1","attributes":{"chapter":"1"}}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testOptions(apiRoot string) *config.Options {
	return &config.Options{
		Token:          "test",
		Workers:        2,
		StorageDriver:  "memory",
		ScanPeriod:     3600,
		QueueSize:      4,
		APIRoot:        apiRoot,
		SiteRoot:       "https://mangadex.org",
		RequestTimeout: 2 * time.Second,
		UpstreamRate:   100,
		SendRate:       100,
		SendTimeout:    time.Second,
		DrainTimeout:   2 * time.Second,
		LogLevel:       "error",
	}
}

func TestTrackCommandEndToEnd(t *testing.T) {
	srv := newUpstream(t)
	ad := &chatAdapter{}
	a, err := build(context.Background(), testOptions(srv.URL), nil, logx.Nop(), ad)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ad.say(-100, "/track https://mangadex.org/title/"+berserkID+"/berserk")
	ad.waitSent(t, "-100 Now tracking Berserk.")
	ad.say(-100, "/track "+berserkID)
	ad.waitSent(t, "-100 This manga is already tracked by this channel.")
	ad.say(-100, "/track nonsense")
	ad.waitSent(t, "-100 Please specify a valid manga id or url.")

	m, found, err := a.store.Get(context.Background(), berserkID)
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if m.LatestChapterID != "c-1" || !m.HasSubscriber("-100") {
		t.Fatalf("unexpected record %+v", m)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	ad.mu.Lock()
	defer ad.mu.Unlock()
	if len(ad.menu) != 2 {
		t.Fatalf("menu=%+v", ad.menu)
	}
}

func TestStopDrainsQueuedUpdates(t *testing.T) {
	srv := newUpstream(t)
	ad := &chatAdapter{}
	a, err := build(context.Background(), testOptions(srv.URL), nil, logx.Nop(), ad)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	a.queue <- scan.UpdateEvent{
		MangaID:     berserkID,
		Title:       "Berserk",
		Chapter:     mangadex.Chapter{ID: "c-2", Number: "2"},
		Subscribers: []string{"5", "-100:3"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopSIGTERM); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	ad.waitSent(t, "5 New chapter!\nBerserk ch. 2")
	ad.waitSent(t, "-100:3 New chapter!")

	select {
	case <-a.Done():
	default:
		t.Fatalf("Done not closed after Stop")
	}
}
