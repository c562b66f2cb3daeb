package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "mangadexbot/internal/transport"
	"mangadexbot/pkg/logx"
)

func TestSplitTelegramText(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		limit int
		want  int
	}{
		{"short", "hello", 10, 1},
		{"exact", strings.Repeat("a", 10), 10, 1},
		{"hard cut", strings.Repeat("a", 25), 10, 3},
		{"newline", strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6), 10, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := splitTelegramText(tc.in, tc.limit)
			if len(got) != tc.want {
				t.Fatalf("chunks=%d want %d: %q", len(got), tc.want, got)
			}
			for _, c := range got {
				if len([]rune(c)) > tc.limit {
					t.Fatalf("chunk over limit: %q", c)
				}
			}
			if tc.name == "newline" && (got[0] != "aaaaaa" || got[1] != "bbbbbb") {
				t.Fatalf("unexpected split %q", got)
			}
		})
	}
}

func TestSplitTreatsMarkupAsText(t *testing.T) {
	in := strings.Repeat("x", 8) + "<b>bold</b>"
	got := splitTelegramText(in, 10)
	if len(got) != 2 || got[0] != "xxxxxxxx<b" || strings.Join(got, "") != in {
		t.Fatalf("unexpected split %q", got)
	}
}

func TestMessageUpdate(t *testing.T) {
	up, ok := messageUpdate(&tele.Message{
		ID:       5,
		Chat:     &tele.Chat{ID: -100},
		ThreadID: 3,
		Sender:   &tele.User{ID: 9, Username: "reader"},
		Text:     "/track abc",
	})
	if !ok || up.Kind != kit.UpdateMessage {
		t.Fatalf("unexpected update %+v ok=%v", up, ok)
	}
	if m := up.Message; m.ChatID != -100 || m.ThreadID != 3 || m.FromID != 9 || m.Text != "/track abc" {
		t.Fatalf("unexpected message %+v", m)
	}
	if up.Message.Target().Key() != "-100:3" {
		t.Fatalf("target=%q", up.Message.Target().Key())
	}

	if _, ok := messageUpdate(&tele.Message{ID: 1, Chat: &tele.Chat{ID: 1}, Text: "post"}); !ok {
		t.Fatalf("channel post without sender should be forwarded")
	}
	if _, ok := messageUpdate(nil); ok {
		t.Fatalf("nil message forwarded")
	}
}

func TestUpdateMenuCommandsScopedAndCached(t *testing.T) {
	var (
		calls   int32
		payload struct {
			Commands []struct {
				Command string `json:"command"`
			} `json:"commands"`
			Scope *struct {
				Type   string `json:"type"`
				ChatID int64  `json:"chat_id"`
			} `json:"scope"`
		}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/bottok/setMyCommands") {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt32(&calls, 1)
		_ = json.NewDecoder(r.Body).Decode(&payload)
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	}))
	defer srv.Close()

	a, err := New(Config{Token: "tok", APIURL: srv.URL, CommandChat: 42, Offline: true}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cmds := []kit.BotCommand{{Command: "track", Description: "Track a manga"}, {Command: "help"}}
	for i := 0; i < 2; i++ {
		if err := a.UpdateMenuCommands(context.Background(), cmds); err != nil {
			t.Fatalf("UpdateMenuCommands: %v", err)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("calls=%d want 1", n)
	}
	if len(payload.Commands) != 2 || payload.Commands[0].Command != "track" {
		t.Fatalf("unexpected commands %+v", payload.Commands)
	}
	if payload.Scope == nil || payload.Scope.Type != "chat" || payload.Scope.ChatID != 42 {
		t.Fatalf("unexpected scope %+v", payload.Scope)
	}
}

func TestUpdateMenuCommandsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	a, err := New(Config{Token: "tok", APIURL: srv.URL, CommandChat: 1, Offline: true}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = a.UpdateMenuCommands(context.Background(), []kit.BotCommand{{Command: "track"}})
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("err=%v", err)
	}
}
