package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can tell "skip and continue" from
// "abort the turn" without inspecting messages.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindIngestionRecord
	KindIndexUnavailable
	KindRetrieval
	KindGeneration
	KindValidation
	KindStorage
)

func (k ErrorKind) String() string {
	switch k {
	case KindIngestionRecord:
		return "ingestion_record"
	case KindIndexUnavailable:
		return "index_unavailable"
	case KindRetrieval:
		return "retrieval"
	case KindGeneration:
		return "generation"
	case KindValidation:
		return "validation"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Fatal reports whether an error of this kind aborts a chat turn.
func (k ErrorKind) Fatal() bool {
	switch k {
	case KindGeneration, KindStorage, KindUnknown:
		return true
	default:
		return false
	}
}

// Error carries a kind and the operation that failed.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind. A nil err yields nil.
func NewError(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
