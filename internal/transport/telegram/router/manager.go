package router

import (
	"context"
	"errors"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "badgewatch/internal/runtime/supervisor"
	"badgewatch/internal/transport"
	logx "badgewatch/pkg/logx"
)

const (
	replyUnknown      = "Unknown command. Try /help"
	replyBusy         = "Busy, try again in a moment."
	replyForbidden    = "You are not allowed to use this bot."
	replyPrivateOnly  = "This command only works in a private chat with the bot."
	replyInternalFail = "Something went wrong. Try again later."
)

// UserError is an error whose message is safe to show to the user.
type UserError interface {
	error
	UserMessage() string
}

// CommandManager routes incoming messages to commands on a bounded worker
// pool.
type CommandManager struct {
	mu       sync.RWMutex
	byName   map[string]*Command
	ordered  []Command
	allowed  []int64
	defaultT time.Duration

	log     logx.Logger
	adapter transport.Adapter
	opts    Options

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter transport.Adapter, opts Options) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	opts = opts.normalized()
	return &CommandManager{
		byName:   map[string]*Command{},
		allowed:  append([]int64(nil), opts.AllowedUserIDs...),
		defaultT: opts.DefaultTimeout,
		log:      log,
		adapter:  adapter,
		opts:     opts,
		jobs:     make(chan func(), opts.QueueSize),
	}
}

// Supervisor returns the worker supervisor (nil if not running).
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// Apply swaps the allow list and default timeout. Safe during hot-reload.
func (m *CommandManager) Apply(allowed []int64, defaultTimeout time.Duration) {
	m.mu.Lock()
	m.allowed = append([]int64(nil), allowed...)
	if defaultTimeout > 0 {
		m.defaultT = defaultTimeout
	}
	m.mu.Unlock()
}

// SetRegistry replaces the command set. /help is always injected.
func (m *CommandManager) SetRegistry(cmds []Command) {
	helper := Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "show available commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args))
		},
	}
	cmds = append(slices.Clone(cmds), helper)

	byName := map[string]*Command{}
	ordered := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		byName[name] = &cc
		ordered = append(ordered, cc)
	}
	// Aliases never shadow a real command name.
	for i := range ordered {
		for _, a := range ordered[i].Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" {
				continue
			}
			if _, exists := byName[a]; !exists {
				byName[a] = byName[ordered[i].Name]
			}
		}
	}

	m.mu.Lock()
	m.byName = byName
	m.ordered = ordered
	m.mu.Unlock()
}

// Commands returns the registered commands in registration order.
func (m *CommandManager) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.ordered)
}

func (m *CommandManager) lookup(name string) (Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byName[name]
	if !ok {
		return Command{}, false
	}
	return *c, true
}

func (m *CommandManager) isAllowed(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.allowed) == 0 || slices.Contains(m.allowed, id)
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
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

// DispatchLoop consumes updates until ctx is cancelled or updates is closed.
// It can run once per CommandManager.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	workers := m.opts.Workers
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	if up, ok := m.adapter.(transport.CommandMenuUpdater); ok {
		menu := buildMenu(m.Commands())
		sup.Go0("telegram.menu.update", func(c context.Context) {
			cctx, cancel := context.WithTimeout(c, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(cctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		})
	}

	for i := 0; i < workers; i++ {
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
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		m.setSupervisor(sup, false)
		close(m.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		m.setSupervisor(nil, false)
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
			if up.Kind == transport.UpdateMessage && up.Message != nil {
				m.routeMessage(ctx, up)
			}
		}
	}
}

func (m *CommandManager) routeMessage(root context.Context, up transport.Update) {
	msg := up.Message
	name, args, ok := splitCommand(msg.Text)
	if !ok {
		return
	}
	chat := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	if !m.isAllowed(msg.FromID) {
		m.log.Warn("rejected user", logx.Int64("from_id", msg.FromID), logx.String("cmd", name))
		m.reply(root, chat, replyForbidden)
		return
	}
	cmd, ok := m.lookup(name)
	if !ok {
		m.reply(root, chat, replyUnknown)
		return
	}
	if cmd.PrivateOnly && !msg.IsPrivate {
		m.reply(root, chat, replyPrivateOnly)
		return
	}

	rid := newReqID()
	req := &Request{
		Update:  up,
		Message: msg,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    args,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		m.mu.RLock()
		timeout = m.defaultT
		m.mu.RUnlock()
	}
	final := wrap(cmd.Handle, recoverPanics, logRequests, withTimeout(timeout))

	if !m.tryEnqueue(func() {
		if err := final(root, req); err != nil {
			m.replyError(root, chat, err)
		}
	}) {
		m.reply(root, chat, replyBusy)
	}
}

func (m *CommandManager) replyError(ctx context.Context, chat transport.ChatTarget, err error) {
	var ue UserError
	if errors.As(err, &ue) {
		m.reply(ctx, chat, ue.UserMessage())
		return
	}
	m.reply(ctx, chat, replyInternalFail)
}

func (m *CommandManager) reply(ctx context.Context, chat transport.ChatTarget, text string) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := m.adapter.SendText(cctx, chat, text, nil); err != nil {
		m.log.Debug("reply failed", logx.Int64("chat_id", chat.ChatID), logx.Err(err))
	}
}
