package completion

import (
	"context"
	"errors"
	"fmt"
	"net"
)

type Request struct {
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Completer is a text completion service: prompt in, text out.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

type CompleterFunc func(ctx context.Context, req Request) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

type Kind string

const (
	KindTimeout  Kind = "timeout"
	KindQuota    Kind = "quota"
	KindNetwork  Kind = "network"
	KindProvider Kind = "provider"
)

type Error struct {
	Kind     Kind
	Provider string
	Err      error
}

func (e *Error) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("completion %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("completion %s (%s): %v", e.Kind, e.Provider, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the failure kind of err. Unclassified errors are provider errors.
func KindOf(err error) Kind {
	var completionErr *Error
	if errors.As(err, &completionErr) {
		return completionErr.Kind
	}
	return classifyGeneric(err)
}

// Wrap classifies err as a completion failure unless it already is one.
// Providers pass a non-empty kind when they recognised the failure themselves.
func Wrap(provider string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var completionErr *Error
	if errors.As(err, &completionErr) {
		return err
	}
	if kind == "" {
		kind = classifyGeneric(err)
	}
	return &Error{Kind: kind, Provider: provider, Err: err}
}

func classifyGeneric(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	return KindProvider
}
