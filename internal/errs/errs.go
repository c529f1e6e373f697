// Package errs defines the closed set of failure kinds shared by the resolver,
// the state store, the provider adapters and the orchestrator.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindResolve
	KindConfig
	KindUpdate
	KindStore
)

func (k Kind) String() string {
	switch k {
	case KindResolve:
		return "resolve"
	case KindConfig:
		return "config"
	case KindUpdate:
		return "update"
	case KindStore:
		return "store"
	default:
		return "unknown"
	}
}

// Error is the concrete error carried across component boundaries. Provider,
// Status and Body are only set for update failures.
type Error struct {
	Kind     Kind
	Op       string
	Provider string
	Status   int
	Body     string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Provider != "" {
		b.WriteString(" ")
		b.WriteString(e.Provider)
	}
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, ", status=%d", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ", body=%q", e.Body)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

func Config(provider, format string, args ...any) error {
	return &Error{Kind: KindConfig, Provider: provider, Err: fmt.Errorf(format, args...)}
}

func Store(op string, err error) error {
	return &Error{Kind: KindStore, Op: op, Err: err}
}

func Resolve(err error) error {
	return &Error{Kind: KindResolve, Op: "resolve ip", Err: err}
}
