package portal

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrFetch matches every *FetchError via errors.Is.
var ErrFetch = errors.New("portal: fetch failed")

type Kind string

const (
	KindAuth      Kind = "auth"      // credentials rejected
	KindStructure Kind = "structure" // page did not look as expected
	KindTransport Kind = "transport" // network or HTTP status failure
	KindTimeout   Kind = "timeout"
)

// FetchError describes why unread counts could not be read.
type FetchError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("portal %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// KindOf returns the kind of a fetch error, or "" for other errors.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

func fetchErr(kind Kind, op string, err error) error {
	return &FetchError{Kind: kind, Op: op, Err: err}
}

// transportErr classifies a client.Do failure.
func transportErr(op string, err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fetchErr(KindTimeout, op, err)
	}
	return fetchErr(KindTransport, op, err)
}
