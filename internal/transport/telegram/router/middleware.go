package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "badgewatch/pkg/logx"
)

// slowRequest promotes the request log line from DEBUG to INFO.
const slowRequest = 750 * time.Millisecond

type middleware func(next HandlerFunc) HandlerFunc

// wrap applies mws so that mws[0] is the outermost layer.
func wrap(h HandlerFunc, mws ...middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func withTimeout(d time.Duration) middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// recoverPanics turns a handler panic into an error so the user still gets
// a reply.
func recoverPanics(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			req.Logger.Error("command panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("command %s panicked: %v", req.Command, r)
		}()
		return next(ctx, req)
	}
}

// logRequests records outcome and latency. Arguments may hold credentials
// and are never logged; only their count is.
func logRequests(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		start := time.Now()
		err := next(ctx, req)
		took := time.Since(start)

		fields := []logx.Field{logx.Int("argc", len(req.Args)), logx.Duration("took", took)}
		switch {
		case err != nil:
			req.Logger.Warn("command failed", append(fields, logx.Err(err))...)
		case took >= slowRequest:
			req.Logger.Info("command done", fields...)
		default:
			req.Logger.Debug("command done", fields...)
		}
		return err
	}
}
