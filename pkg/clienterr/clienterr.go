package clienterr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure of the connect/encode/send sequence
type Kind int

const (
	Unknown Kind = iota
	ResolutionFailure
	ConnectFailure
	SchemaLoadFailure
	SchemaParseFailure
	EncodeFailure
	TransportFailure
)

func (k Kind) Error() string {
	switch k {
	case ResolutionFailure:
		return "address resolution failed"
	case ConnectFailure:
		return "connection failed"
	case SchemaLoadFailure:
		return "schema load failed"
	case SchemaParseFailure:
		return "schema parse failed"
	case EncodeFailure:
		return "request encoding failed"
	case TransportFailure:
		return "transport write failed"
	default:
		return fmt.Sprintf("unknown client error: %d", int(k))
	}
}

// Error wraps an underlying error with its kind and the operation that failed
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind.Error(), e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind.Error(), e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind.Error())
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match an *Error against a bare Kind
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// New creates a new Error of the given kind
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or Unknown
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
