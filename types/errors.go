package types

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrConfig     = errors.New("config error")
	ErrConnection = errors.New("connection error")
	ErrExtraction = errors.New("extraction error")
	ErrSchema     = errors.New("schema error")
	ErrRowEmbed   = errors.New("row embed error")
	ErrCommit     = errors.New("commit error")
)

// Error carries the kind of failure plus the table and row it concerns.
type Error struct {
	Kind  error
	Op    string
	Table string
	Row   string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Table != "" {
		msg += fmt.Sprintf(" (table %q", e.Table)
		if e.Row != "" {
			msg += fmt.Sprintf(", row %s", e.Row)
		}
		msg += ")"
	} else if e.Row != "" {
		msg += fmt.Sprintf(" (row %s)", e.Row)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func NewError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func ConfigErrorf(op, format string, args ...any) *Error {
	return &Error{Kind: ErrConfig, Op: op, Err: fmt.Errorf(format, args...)}
}

func SchemaErrorf(op, table, format string, args ...any) *Error {
	return &Error{Kind: ErrSchema, Op: op, Table: table, Err: fmt.Errorf(format, args...)}
}

// IsFatal reports whether err must abort the current phase. Only row-level
// embedding failures are recoverable.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrRowEmbed)
}
