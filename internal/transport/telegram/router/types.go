package router

import (
	"context"
	"time"

	"badgewatch/internal/transport"
	logx "badgewatch/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

// Command is a single-token bot command such as /set.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string

	// PrivateOnly commands are refused outside private chats.
	PrivateOnly bool
	// Hidden commands are left out of /help and the menu.
	Hidden bool

	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

type Request struct {
	Update  transport.Update
	Message *transport.Message
	Chat    transport.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string

	Adapter transport.Adapter
	Logger  logx.Logger
}

// Reply sends text to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &transport.SendOptions{DisablePreview: true})
	return err
}

// MessageRef points at the incoming message.
func (r *Request) MessageRef() transport.MessageRef {
	return transport.MessageRef{ChatID: r.Chat.ChatID, ThreadID: r.Chat.ThreadID, MessageID: r.Message.ID}
}

// Options tunes the dispatcher.
type Options struct {
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
	// AllowedUserIDs restricts who may use the bot. Empty allows everyone.
	AllowedUserIDs []int64
}

func (o Options) normalized() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 30 * time.Second
	}
	return o
}
