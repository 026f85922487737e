package escrow

import (
	"errors"
	"fmt"
)

// ErrorKind separates failures the next cron pass may retry from failures
// that will never succeed, so retry policy is driven by type rather than by
// catching everything uniformly.
type ErrorKind int

const (
	// Transient covers network failures, gateway 5xx responses, and
	// timeouts. The job stays in its current status and is retried.
	Transient ErrorKind = iota
	// Permanent covers gateway 4xx responses: contract reverts,
	// insufficient balance, malformed parameters. The job is failed.
	Permanent
)

func (k ErrorKind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// Error is a classified escrow action failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsPermanent reports whether err is an escrow error that will never
// succeed on retry.
func IsPermanent(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == Permanent
}
