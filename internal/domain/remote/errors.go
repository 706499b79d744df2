package remote

import (
	"context"
	"errors"
	"net"

	crerr "github.com/cockroachdb/errors"
)

// Kind classifies a backend failure. The failure policy keys off it.
type Kind string

const (
	KindNone         Kind = ""
	KindUnauthorized Kind = "unauthorized"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindValidation   Kind = "validation"
	KindNetwork      Kind = "network"
	KindUnknown      Kind = "unknown"
)

var (
	ErrUnauthorized = crerr.New("remote: unauthorized")
	ErrNotFound     = crerr.New("remote: not found")
	ErrConflict     = crerr.New("remote: conflict")
	ErrValidation   = crerr.New("remote: validation failed")
	ErrNetwork      = crerr.New("remote: network unavailable")
	ErrUnknown      = crerr.New("remote: unknown failure")
)

var kindSentinels = []struct {
	kind Kind
	err  error
}{
	{KindUnauthorized, ErrUnauthorized},
	{KindNotFound, ErrNotFound},
	{KindConflict, ErrConflict},
	{KindValidation, ErrValidation},
	{KindNetwork, ErrNetwork},
	{KindUnknown, ErrUnknown},
}

func sentinelFor(kind Kind) error {
	for _, s := range kindSentinels {
		if s.kind == kind {
			return s.err
		}
	}
	return ErrUnknown
}

// Mark tags err with kind while keeping its message and chain.
func Mark(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return crerr.Mark(err, sentinelFor(kind))
}

// Errorf builds a new error already tagged with kind.
func Errorf(kind Kind, format string, args ...any) error {
	return crerr.Mark(crerr.Newf(format, args...), sentinelFor(kind))
}

// KindOf classifies err. Untagged timeouts and transport errors count as
// network failures; anything else unrecognised is unknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, s := range kindSentinels {
		if crerr.Is(err, s.err) {
			return s.kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	return KindUnknown
}
