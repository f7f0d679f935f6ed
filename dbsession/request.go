package dbsession

import (
	"fmt"
	"sync"

	"github.com/asyncsql/asyncsql/dbfuture"
	"github.com/asyncsql/asyncsql/dbtype"
)

// Request is one outstanding unit of work on a session: a query, an
// update, or one of the transaction-bracket/close control operations. T is
// the type the caller's future ultimately resolves to (a streamed result
// set, an update count, or struct{} for control operations).
type Request[T any] struct {
	kind         OpKind
	pipelinable  bool
	removable    bool
	runIfDone    bool // commit's thunk still runs (to send ROLLBACK) even after cancellation
	cancelPolicy func(mayInterrupt bool) bool

	future *dbfuture.SessionFuture[T]

	handler     *EventHandler[T]
	accumulator T
	accMu       sync.Mutex

	execMu   sync.Mutex
	executed bool

	payloadMu sync.Mutex
	payload   any

	txnMu sync.Mutex
	txn   *Transaction

	thunk func() error
}

// RequestOptions configures a new Request; the zero value is a
// non-pipelinable, non-removable request whose cancel policy always
// accepts. Queries and updates set Pipelinable and Removable explicitly.
type RequestOptions struct {
	Pipelinable  bool
	Removable    bool
	RunIfDone    bool
	CancelPolicy func(mayInterrupt bool) bool
}

// NewRequest builds a Request[T] without a future; the owning session
// attaches one afterwards via bindFuture, with cancellation routed through
// Session.newDoCancel. thunk is invoked exactly once, at most, to write the
// request's frame(s) to the wire.
func NewRequest[T any](kind OpKind, initial T, handler *EventHandler[T], opts RequestOptions, thunk func() error) *Request[T] {
	if opts.CancelPolicy == nil {
		opts.CancelPolicy = func(bool) bool { return true }
	}
	r := &Request[T]{
		kind:         kind,
		pipelinable:  opts.Pipelinable,
		removable:    opts.Removable,
		runIfDone:    opts.RunIfDone,
		cancelPolicy: opts.CancelPolicy,
		handler:      handler,
		accumulator:  initial,
		thunk:        thunk,
	}
	return r
}

// bindFuture attaches the future once the owning session can supply a
// doCancel closure bound to this request's own identity.
func (r *Request[T]) bindFuture(f *dbfuture.SessionFuture[T]) { r.future = f }

func (r *Request[T]) Future() *dbfuture.SessionFuture[T] { return r.future }

func (r *Request[T]) Kind() OpKind        { return r.kind }
func (r *Request[T]) Pipelinable() bool   { return r.pipelinable }
func (r *Request[T]) Removable() bool     { return r.removable }
func (r *Request[T]) IsDone() bool        { return r.future.IsDone() }
func (r *Request[T]) IsCancelled() bool   { return r.future.IsCancelled() }
func (r *Request[T]) Transaction() *Transaction {
	r.txnMu.Lock()
	defer r.txnMu.Unlock()
	return r.txn
}
func (r *Request[T]) SetTransaction(t *Transaction) {
	r.txnMu.Lock()
	r.txn = t
	r.txnMu.Unlock()
}

func (r *Request[T]) Payload() any {
	r.payloadMu.Lock()
	defer r.payloadMu.Unlock()
	return r.payload
}

func (r *Request[T]) SetPayload(v any) {
	r.payloadMu.Lock()
	r.payload = v
	r.payloadMu.Unlock()
}

// Executed/MarkExecuted form the request-local CAS guarding double
// execution between the I/O loop and a racing Cancel (spec.md §5: "Per-
// request flags (executed, cancelled) are guarded by the request's own
// monitor").
func (r *Request[T]) Executed() bool {
	r.execMu.Lock()
	defer r.execMu.Unlock()
	return r.executed
}

func (r *Request[T]) MarkExecuted() bool {
	r.execMu.Lock()
	defer r.execMu.Unlock()
	if r.executed {
		return false
	}
	r.executed = true
	return true
}

// RunThunk executes the frame-writing side effect exactly once. A request
// that was cancelled before being popped normally never reaches here
// (removable requests are unlinked from the queue on cancel); runIfDone
// requests (COMMIT) run anyway so the degrade-to-ROLLBACK logic in their
// thunk still fires.
func (r *Request[T]) RunThunk() error {
	if !r.MarkExecuted() {
		return nil
	}
	if r.future.IsDone() && !r.runIfDone {
		return nil
	}
	if r.thunk == nil {
		return nil
	}
	return r.thunk()
}

func (r *Request[T]) SettleError(err error) {
	_ = r.future.SetException(err)
	if r.handler != nil && r.handler.Exception != nil {
		r.accMu.Lock()
		r.handler.Exception(&r.accumulator, err)
		r.accMu.Unlock()
	}
}

// Complete settles the future with v, type-asserted to T. A control
// request (T = struct{}) carries no payload of its own, so any terminal
// value a protocol decoder hands it — a MySQL OK packet, a PostgreSQL
// command tag — settles it successfully without inspection.
func (r *Request[T]) Complete(v any) error {
	var zero T
	if _, isUnit := any(zero).(struct{}); isUnit {
		return r.future.SetResult(zero)
	}
	tv, ok := v.(T)
	if !ok {
		return fmt.Errorf("%w: got %T", ErrCompletionMismatch, v)
	}
	return r.future.SetResult(tv)
}

func (r *Request[T]) DeliverStartFields() {
	r.accMu.Lock()
	defer r.accMu.Unlock()
	if r.handler != nil && r.handler.StartFields != nil {
		r.handler.StartFields(&r.accumulator)
	}
}

func (r *Request[T]) DeliverField(f dbtype.Field) {
	r.accMu.Lock()
	defer r.accMu.Unlock()
	if r.handler != nil && r.handler.Field != nil {
		r.handler.Field(&r.accumulator, f)
	}
}

func (r *Request[T]) DeliverEndFields() {
	r.accMu.Lock()
	defer r.accMu.Unlock()
	if r.handler != nil && r.handler.EndFields != nil {
		r.handler.EndFields(&r.accumulator)
	}
}

func (r *Request[T]) DeliverStartResults() {
	r.accMu.Lock()
	defer r.accMu.Unlock()
	if r.handler != nil && r.handler.StartResults != nil {
		r.handler.StartResults(&r.accumulator)
	}
}

func (r *Request[T]) DeliverStartRow() {
	r.accMu.Lock()
	defer r.accMu.Unlock()
	if r.handler != nil && r.handler.StartRow != nil {
		r.handler.StartRow(&r.accumulator)
	}
}

func (r *Request[T]) DeliverValue(v dbtype.Value) {
	r.accMu.Lock()
	defer r.accMu.Unlock()
	if r.handler != nil && r.handler.Value != nil {
		r.handler.Value(&r.accumulator, v)
	}
}

func (r *Request[T]) DeliverEndRow() {
	r.accMu.Lock()
	defer r.accMu.Unlock()
	if r.handler != nil && r.handler.EndRow != nil {
		r.handler.EndRow(&r.accumulator)
	}
}

func (r *Request[T]) DeliverEndResults() {
	r.accMu.Lock()
	if r.handler != nil && r.handler.EndResults != nil {
		r.handler.EndResults(&r.accumulator)
	}
	final := r.accumulator
	r.accMu.Unlock()
	_ = r.future.SetResult(final)
}

func (r *Request[T]) DeliverException(err error) {
	r.SettleError(err)
}

var _ Handle = (*Request[int])(nil)
