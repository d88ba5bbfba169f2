package snapshot

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies snapshot failures.
type Kind string

const (
	KindNetwork Kind = "network"
	KindAuth    Kind = "auth"
	KindTimeout Kind = "timeout"
)

// Error is returned by sessions when a page cannot be captured.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("snapshot %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("snapshot %s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Page is the visible text of the page captured after login.
type Page struct {
	URL   string
	Title string
	Text  string
}

// Provider opens a fresh authenticated session for one check attempt.
type Provider interface {
	Open(ctx context.Context) (Session, error)
}

// Session is scoped to a single attempt and must be closed by the caller.
type Session interface {
	Fetch(ctx context.Context) (Page, error)
	Close() error
}

// Capture opens a session, fetches the page and always closes the session.
func Capture(ctx context.Context, p Provider) (page Page, err error) {
	sess, err := p.Open(ctx)
	if err != nil {
		return Page{}, err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil && err == nil {
			err = &Error{Kind: KindNetwork, Op: "close session", Err: cerr}
		}
	}()
	return sess.Fetch(ctx)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Kind: classify(err), Op: op, Err: err}
}

func authError(op string, err error) error {
	return &Error{Kind: KindAuth, Op: op, Err: err}
}

func classify(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}

// IsKind reports whether err is a snapshot error of the given kind.
func IsKind(err error, kind Kind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == kind
}
