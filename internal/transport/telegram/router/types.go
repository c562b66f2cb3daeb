package router

import (
	"context"
	"time"

	kit "mangadexbot/internal/transport"
	"mangadexbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	// Name is the command word without the slash, e.g. "track".
	Name        string
	Aliases     []string
	Description string
	Usage       string

	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string

	Sender kit.Sender
	Logger logx.Logger
}

// Reply sends text back to the chat (and topic) the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// SelfNamer is implemented by adapters that know the bot's username, so
// commands addressed to other bots (/cmd@other) can be ignored.
type SelfNamer interface {
	Username() string
}
