package rt

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Error kinds
// ---------------------------------------------------------------------------

// Sentinel errors for the runtime core. Callers match them with errors.Is;
// the runtime wraps them with operation context via fmt.Errorf and %w.
var (
	// ErrInvalidHandle is returned when dereferencing a null handle or a
	// handle whose record has been reclaimed by the collector.
	ErrInvalidHandle = errors.New("invalid handle")

	// ErrNoSuchSelector is returned by Resolve when the selector is not
	// declared anywhere in the access type's parent chain.
	ErrNoSuchSelector = errors.New("no such selector")

	// ErrIncompleteType is returned by Allocate when the type still has an
	// abstract slot with no concrete body anywhere in its chain.
	ErrIncompleteType = errors.New("incomplete type")

	// ErrImmutableField is returned when writing a write-once field after
	// the record has been published.
	ErrImmutableField = errors.New("immutable field violation")

	// ErrWriteOnceUnset is returned by Publish when a write-once field was
	// never initialized during the construction phase.
	ErrWriteOnceUnset = errors.New("write-once field not initialized")

	// ErrOutOfMemory is returned by Allocate once the heap is full and a
	// forced collection failed to free a slot.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrUnknownField is returned for field access with a name the record's
	// type does not declare.
	ErrUnknownField = errors.New("unknown field")
)

// ---------------------------------------------------------------------------
// Aggregate raise failure
// ---------------------------------------------------------------------------

// HandlerError records a single failed handler within a raise.
type HandlerError struct {
	Index    int    // position in the invocation snapshot
	Selector string // selector name of the handler
	Err      error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %d (%s): %v", e.Index, e.Selector, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// RaiseError aggregates all handler failures from a single Raise. Delivery
// continues past a failing handler; the aggregate is reported once the full
// snapshot has run.
type RaiseError struct {
	Handlers []*HandlerError
}

func (e *RaiseError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d handler(s) failed during raise", len(e.Handlers))
	for _, h := range e.Handlers {
		b.WriteString("; ")
		b.WriteString(h.Error())
	}
	return b.String()
}

// Unwrap exposes the individual handler errors to errors.Is/As.
func (e *RaiseError) Unwrap() []error {
	errs := make([]error, len(e.Handlers))
	for i, h := range e.Handlers {
		errs[i] = h
	}
	return errs
}
