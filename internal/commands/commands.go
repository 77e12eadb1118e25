// Package commands implements the bot's chat commands on top of the watch
// service.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"badgewatch/internal/snapshot"
	"badgewatch/internal/storage"
	"badgewatch/internal/subscriber"
	"badgewatch/internal/transport/telegram/router"
	"badgewatch/internal/watch"
	logx "badgewatch/pkg/logx"
)

const usageSet = "/set <login> <password>"

// Watcher is the subset of watch.Service used by commands.
type Watcher interface {
	Configure(ctx context.Context, id subscriber.ID, creds subscriber.Credentials) error
	Reset(ctx context.Context, id subscriber.ID) bool
	CheckNow(id subscriber.ID) error
	Status(id subscriber.ID) (watch.Status, bool)
}

type Handler struct {
	watch Watcher
	store storage.Store // nil disables auditing
	log   logx.Logger
	now   func() time.Time
}

func New(w Watcher, store storage.Store, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{watch: w, store: store, log: log, now: time.Now}
}

// Commands returns the router registry. /help is added by the router.
func (h *Handler) Commands() []router.Command {
	return []router.Command{
		{
			Name:        "start",
			Description: "show your chat id and how to begin",
			Handle:      h.start,
		},
		{
			Name:        "set",
			Description: "save portal credentials and start checking",
			Usage:       usageSet,
			PrivateOnly: true,
			Handle:      h.set,
		},
		{
			Name:        "reset",
			Aliases:     []string{"stop"},
			Description: "stop checking and forget credentials",
			Usage:       "/reset",
			Handle:      h.reset,
		},
		{
			Name:        "status",
			Description: "show the last check result",
			Usage:       "/status",
			Handle:      h.status,
		},
		{
			Name:        "check",
			Description: "check for new messages right now",
			Usage:       "/check",
			Handle:      h.check,
		},
	}
}

func subscriberID(req *router.Request) subscriber.ID { return subscriber.ID(req.Chat.ChatID) }

func (h *Handler) start(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, fmt.Sprintf("Your chat id: %d\nTo start checking, send:\n%s", req.Chat.ChatID, usageSet))
}

func (h *Handler) set(ctx context.Context, req *router.Request) error {
	// The password is in the chat history; remove it whatever happens next.
	defer h.deleteSecret(ctx, req)

	if len(req.Args) != 2 {
		return &ConfigurationError{Command: "set", Usage: usageSet, Reason: fmt.Sprintf("want 2 arguments, got %d", len(req.Args))}
	}
	id := subscriberID(req)
	creds := subscriber.Credentials{Login: req.Args[0], Password: req.Args[1]}

	start := h.now()
	err := h.watch.Configure(ctx, id, creds)
	h.audit(ctx, req, storage.ActionConfigure, creds.Login, start, err)
	switch {
	case errors.Is(err, watch.ErrInvalidCredentials):
		return &ConfigurationError{Command: "set", Usage: usageSet, Reason: err.Error()}
	case errors.Is(err, watch.ErrTooManySubscribers):
		return &replyError{msg: "The bot is at capacity. Try again later.", err: err}
	case err != nil:
		return err
	}

	text := "Saved. Checking for new messages"
	if st, ok := h.watch.Status(id); ok && st.Interval > 0 {
		text += " every " + humanDuration(st.Interval)
	}
	return req.Reply(ctx, text+".")
}

func (h *Handler) deleteSecret(ctx context.Context, req *router.Request) {
	if req.Message == nil || len(req.Args) == 0 {
		return
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := req.Adapter.DeleteMessage(dctx, req.MessageRef()); err != nil {
		req.Logger.Debug("delete credentials message failed", logx.Err(err))
	}
}

func (h *Handler) reset(ctx context.Context, req *router.Request) error {
	id := subscriberID(req)
	start := h.now()
	known := h.watch.Reset(ctx, id)
	if !known {
		return req.Reply(ctx, "Nothing to reset. Use "+usageSet+" to start.")
	}
	h.audit(ctx, req, storage.ActionReset, "", start, nil)
	return req.Reply(ctx, "Stopped. Your credentials were forgotten.")
}

func (h *Handler) status(ctx context.Context, req *router.Request) error {
	st, ok := h.watch.Status(subscriberID(req))
	if !ok {
		return req.Reply(ctx, "Not configured. Use "+usageSet+" to start.")
	}
	return req.Reply(ctx, FormatStatus(st, h.now()))
}

func (h *Handler) check(ctx context.Context, req *router.Request) error {
	id := subscriberID(req)
	start := h.now()
	err := h.watch.CheckNow(id)
	h.audit(ctx, req, storage.ActionCheck, "", start, err)
	switch {
	case errors.Is(err, watch.ErrNotConfigured):
		return req.Reply(ctx, "Not configured. Use "+usageSet+" to start.")
	case errors.Is(err, watch.ErrCheckInProgress):
		return req.Reply(ctx, "A check is already running. Try again in a moment.")
	case err != nil:
		return err
	}

	st, ok := h.watch.Status(id)
	if !ok {
		// Reset while the check ran.
		return req.Reply(ctx, "Stopped.")
	}
	if st.LastError != "" {
		return req.Reply(ctx, "Check failed. You will be notified when it works again.")
	}
	return req.Reply(ctx, fmt.Sprintf("Check done. Unread total: %d", st.Snapshot.Total()))
}

func (h *Handler) audit(ctx context.Context, req *router.Request, action, login string, start time.Time, err error) {
	if h.store == nil {
		return
	}
	e := storage.AuditEntry{
		At:           start,
		SubscriberID: req.Chat.ChatID,
		Action:       action,
		Login:        login,
		OK:           err == nil,
		TookMS:       h.now().Sub(start).Milliseconds(),
	}
	if req.Message != nil {
		e.ActorUsername = req.Message.FromUsername
	}
	if err != nil {
		e.Error = err.Error()
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	actx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if aerr := h.store.AppendAudit(actx, e); aerr != nil {
		h.log.Warn("audit append failed", logx.String("action", action), logx.Err(aerr))
	}
}

// FormatStatus renders a subscriber status for chat.
func FormatStatus(st watch.Status, now time.Time) string {
	lines := []string{
		"State: " + st.State.String(),
		"Login: " + st.Login,
	}
	if st.LastCheck.IsZero() {
		lines = append(lines, "Last check: never")
	} else {
		lines = append(lines, "Last check: "+humanDuration(now.Sub(st.LastCheck))+" ago")
	}
	if st.Scheduled && !st.NextCheck.IsZero() {
		if d := st.NextCheck.Sub(now); d > 0 {
			lines = append(lines, "Next check: in "+humanDuration(d))
		} else {
			lines = append(lines, "Next check: now")
		}
	}
	if st.HasSnapshot {
		lines = append(lines, fmt.Sprintf("Unread total: %d", st.Snapshot.Total()))
		if keys := st.Snapshot.Keys(); len(keys) > 1 || (len(keys) == 1 && keys[0] != snapshot.TotalKey) {
			for _, k := range keys {
				if n := st.Snapshot[k]; n > 0 {
					lines = append(lines, fmt.Sprintf("• %s: %d", k, n))
				}
			}
		}
	}
	if st.LastError != "" {
		lines = append(lines, "Last error: "+st.LastError)
	}
	return strings.Join(lines, "\n")
}

func humanDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return "0s"
	case d < time.Hour:
		return d.Truncate(time.Second).String()
	default:
		return d.Truncate(time.Minute).String()
	}
}
