// Package dbsession implements the protocol-neutral request pipeline: the
// per-session FIFO of outstanding requests, the active-request slot,
// pipelining, and the current transaction. It is parameterized over a
// ProtocolOps capability set (see protocolops.go) rather than an abstract
// base session, per the redesign in spec.md §9.
package dbsession

import "github.com/asyncsql/asyncsql/dbtype"

// OpKind closes the sum type of request variants (spec.md §9: "Request
// variants become a closed sum type").
type OpKind int

const (
	OpQuery OpKind = iota
	OpUpdate
	OpBegin
	OpCommit
	OpRollback
	OpClose
)

func (k OpKind) String() string {
	switch k {
	case OpQuery:
		return "QUERY"
	case OpUpdate:
		return "UPDATE"
	case OpBegin:
		return "BEGIN"
	case OpCommit:
		return "COMMIT"
	case OpRollback:
		return "ROLLBACK"
	case OpClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// EventHandler drives row-by-row accumulation as protocol messages arrive,
// for a Request[T] whose accumulator type is T (spec.md §4.2 "Streaming
// results"). Every callback is optional; nil callbacks are skipped.
type EventHandler[T any] struct {
	StartFields  func(acc *T)
	Field        func(acc *T, f dbtype.Field)
	EndFields    func(acc *T)
	StartResults func(acc *T)
	StartRow     func(acc *T)
	Value        func(acc *T, v dbtype.Value)
	EndRow       func(acc *T)
	EndResults   func(acc *T)
	Exception    func(acc *T, err error)
}

// Handle is the non-generic view of a Request[T] that the session core and
// protocol handlers operate on. Request[T] implements it by closing over
// its own accumulator type, so neither the session queue nor the protocol
// decoders need to know T.
type Handle interface {
	Kind() OpKind
	Pipelinable() bool
	Removable() bool

	// Executed/MarkExecuted guard against the I/O loop and a concurrent
	// user-thread Cancel racing to run/skip the same thunk. Guarded by the
	// request's own monitor, independent of the session lock (spec.md §5).
	Executed() bool
	MarkExecuted() bool

	// RunThunk invokes the request's frame-writing side effect exactly
	// once. Safe to call more than once; subsequent calls are no-ops.
	RunThunk() error

	IsDone() bool
	IsCancelled() bool
	SettleError(err error)
	// Complete settles the future with v, type-asserted to the request's
	// own T. Used for non-streaming completions (update/begin/commit/
	// rollback/close).
	Complete(v any) error

	Transaction() *Transaction
	SetTransaction(*Transaction)

	// Payload lets a protocol handler stash per-request state (e.g. field
	// descriptors) between messages without a back-reference into the
	// transport (spec.md §9 "replace ambient context on the transport
	// session").
	Payload() any
	SetPayload(any)

	DeliverStartFields()
	DeliverField(f dbtype.Field)
	DeliverEndFields()
	DeliverStartResults()
	DeliverStartRow()
	DeliverValue(v dbtype.Value)
	DeliverEndRow()
	DeliverEndResults()
	DeliverException(err error)
}
