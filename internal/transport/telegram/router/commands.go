package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "mangadexbot/internal/runtime/supervisor"
	kit "mangadexbot/internal/transport"
	"mangadexbot/pkg/logx"
)

type Options struct {
	// Workers bounds concurrently running handlers. 0 means 4.
	Workers int
	// QueueSize bounds accepted-but-not-started commands. 0 means 64.
	QueueSize int
	// Timeout applies to commands without their own. 0 means 30s.
	Timeout time.Duration
}

// CommandManager turns incoming messages into command handler runs on a
// bounded worker pool.
type CommandManager struct {
	mu    sync.RWMutex
	cmds  map[string]Command
	alias map[string]Command

	log     logx.Logger
	adapter kit.Adapter
	opts    Options

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, opts Options) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &CommandManager{
		cmds:    map[string]Command{},
		alias:   map[string]Command{},
		log:     log,
		adapter: adapter,
		opts:    opts,
		jobs:    make(chan func(), opts.QueueSize),
	}
}

// tryEnqueue reports false when the queue is full or already closed.
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetRegistry installs cmds plus the built-in /help and returns the menu
// entries to publish.
func (m *CommandManager) SetRegistry(cmds []Command) []kit.BotCommand {
	helper := Command{
		Name:        "help",
		Aliases:     []string{"start"},
		Description: "Show available commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args))
		},
	}
	cmds = append(cmds, helper)

	byName := make(map[string]Command, len(cmds))
	alias := map[string]Command{}
	menu := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		byName[name] = c
		menu = append(menu, c)
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a != "" && a != name {
				alias[a] = c
			}
		}
	}

	m.mu.Lock()
	m.cmds = byName
	m.alias = alias
	m.mu.Unlock()

	return buildTelegramMenuCommands(menu)
}

// PublishMenu pushes the command menu to adapters that support it.
func (m *CommandManager) PublishMenu(ctx context.Context, menu []kit.BotCommand) error {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(cctx, menu)
}

func (m *CommandManager) lookup(name string) (Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.cmds[name]; ok {
		return c, true
	}
	c, ok := m.alias[name]
	return c, ok
}

// DispatchLoop routes updates until ctx is done or updates is closed, then
// waits briefly for running handlers. It must be called at most once.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(m.log),
		rtsup.WithCancelOnError(false),
	)
	m.log.Info("command dispatcher started", logx.Int("workers", m.opts.Workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < m.opts.Workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					m.runJob(idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}

	defer func() {
		close(m.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *CommandManager) runJob(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (m *CommandManager) routeUpdate(root context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message

	self := ""
	if sn, ok := m.adapter.(SelfNamer); ok {
		self = sn.Username()
	}
	name, args, ok := parseCommand(msg.Text, self)
	if !ok {
		return
	}
	to := msg.Target()

	cmd, found := m.lookup(name)
	if !found {
		// Groups are shared with other bots; only answer unknown commands in private chats.
		if msg.ChatID > 0 {
			_, _ = m.adapter.SendText(root, to, "Unknown command. Type /help to see the list.", nil)
		}
		return
	}

	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    to,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    args,
		ReqID:   rid,
		Sender:  m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.String("chat", to.Key()),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = m.opts.Timeout
	}
	final := Chain(
		cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(timeout),
	)

	if !m.tryEnqueue(func() { _ = final(root, req) }) {
		_, _ = m.adapter.SendText(root, to, "Busy, try again in a moment.", nil)
	}
}
