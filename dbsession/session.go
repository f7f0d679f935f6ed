package dbsession

import (
	"container/list"
	"context"
	"sync"

	"github.com/asyncsql/asyncsql/dbfuture"
)

// Session is the protocol-neutral request pipeline: one FIFO queue, one
// active request, an optional current transaction, and a pipelining mode
// flag. A single mutex covers all four (spec.md §9 open question: the
// whole walk, including queue mutations, is serialized under one lock —
// see DESIGN.md for the tradeoff). Per-request executed/cancelled state is
// guarded independently by each Request's own monitor, so a Cancel never
// needs the session lock just to decide whether it is too late.
type Session struct {
	mu sync.Mutex

	id  string
	ops ProtocolOps

	queue             *list.List
	active            Handle
	txn               *Transaction
	pipeliningEnabled bool
	pipelining        bool
	closeRequest      Handle
	closed            bool
}

// New creates a session bound to ops, the protocol-specific BEGIN/COMMIT/
// ROLLBACK/terminate capability set.
func New(id string, ops ProtocolOps) *Session {
	return &Session{
		id:                id,
		ops:               ops,
		queue:             list.New(),
		pipeliningEnabled: true,
	}
}

func (s *Session) ID() string { return s.id }

// SetPipelining turns request pipelining on or off for future arrivals;
// it does not affect requests already in flight.
func (s *Session) SetPipelining(enabled bool) {
	s.mu.Lock()
	s.pipeliningEnabled = enabled
	if !enabled {
		s.pipelining = false
	}
	s.mu.Unlock()
}

func (s *Session) IsInTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txn != nil
}

func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// newDoCancel builds the doCancel closure bound to h, implementing the
// request-cancellation algorithm from spec.md §5: reject if already
// executed or if the kind-specific policy refuses; otherwise, if
// removable, unlink it from the queue and promote if it was active.
func (s *Session) newDoCancel(h Handle) func(mayInterrupt bool) bool {
	return func(mayInterrupt bool) bool {
		if h.Executed() {
			return false
		}
		if !handleCancelPolicyOK(h, mayInterrupt) {
			return false
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		if h.Removable() {
			s.unlinkLocked(h)
		}
		if s.active == h {
			s.active = nil
			s.promoteLocked()
		}
		return true
	}
}

// cancelPolicyOK is implemented per-Handle via a private accessor so
// newDoCancel does not need to know about Request[T]'s type parameter.
type cancelPolicyHaver interface {
	cancelPolicyOK(mayInterrupt bool) bool
}

func (r *Request[T]) cancelPolicyOK(mayInterrupt bool) bool {
	return r.cancelPolicy(mayInterrupt)
}

func handleCancelPolicyOK(h Handle, mayInterrupt bool) bool {
	if cp, ok := h.(cancelPolicyHaver); ok {
		return cp.cancelPolicyOK(mayInterrupt)
	}
	return true
}

func (s *Session) unlinkLocked(h Handle) {
	for e := s.queue.Front(); e != nil; e = e.Next() {
		if e.Value.(Handle) == h {
			s.queue.Remove(e)
			return
		}
	}
}

// enqueue runs the core enqueue/promotion algorithm described in spec.md
// §4.2: fast-path pipelined execution on arrival, otherwise append and
// promote if the session is idle.
func (s *Session) enqueue(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pipeliningEnabled && s.pipelining && h.Pipelinable() {
		s.queue.PushBack(h)
		if err := h.RunThunk(); err != nil {
			h.SettleError(err)
		}
		return
	}

	if !h.Pipelinable() {
		s.pipelining = false
	}
	s.queue.PushBack(h)

	if s.active == nil {
		s.promoteLocked()
	}
}

// promoteLocked pops the next queued request (if any), makes it active,
// runs its thunk (a no-op if already pre-executed by the pipelining fast
// path), and recurses immediately if it settles synchronously. After
// promoting, it pre-executes every pipelinable successor in the queue
// until a non-pipelinable request or the end, at which point pipelining
// mode turns on for future arrivals. Must be called with s.mu held.
func (s *Session) promoteLocked() {
	front := s.queue.Front()
	if front == nil {
		s.active = nil
		return
	}
	h := front.Value.(Handle)
	s.active = h

	if err := h.RunThunk(); err != nil {
		h.SettleError(err)
	}

	if h.IsDone() {
		s.queue.Remove(front)
		s.active = nil
		s.promoteLocked()
		return
	}

	if s.pipeliningEnabled && h.Pipelinable() {
		reachedEnd := true
		for e := front.Next(); e != nil; e = e.Next() {
			next := e.Value.(Handle)
			if !next.Pipelinable() {
				reachedEnd = false
				break
			}
			if err := next.RunThunk(); err != nil {
				next.SettleError(err)
			}
		}
		if reachedEnd {
			s.pipelining = true
		}
	}
}

// CompleteActive is called by a protocol handler when a response for the
// current active request finishes arriving (success or failure already
// applied to its future via Deliver*/SettleError). It advances the queue.
func (s *Session) CompleteActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return
	}
	for e := s.queue.Front(); e != nil; e = e.Next() {
		if e.Value.(Handle) == s.active {
			s.queue.Remove(e)
			break
		}
	}
	s.active = nil
	s.promoteLocked()
}

// Active returns the current head-of-line request awaiting a response, or
// nil if the session is idle.
func (s *Session) Active() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// attachTransactional folds a new member request into the current
// transaction, if any: it rejects outright if the transaction already
// failed, schedules a deferred BEGIN on first use, and records membership
// so a later failure can cancel remaining siblings (spec.md §5
// "Transaction-member cancellation is transitive").
func (s *Session) attachTransactional(h Handle) error {
	s.mu.Lock()
	txn := s.txn
	s.mu.Unlock()
	if txn == nil {
		return nil
	}
	if txn.Canceled() {
		return ErrTransactionFailed
	}
	h.SetTransaction(txn)
	if txn.tryScheduleBegin() {
		begin := s.buildBeginHandle(txn)
		s.enqueue(begin)
	}
	txn.addMember(h)
	return nil
}

// txnFailed poisons txn and cancels every member request still pending,
// per the transitive-cancellation law (spec.md §5).
func (s *Session) txnFailed(txn *Transaction) {
	pending := txn.markCanceledAndDrain()
	for _, h := range pending {
		h.SettleError(ErrTransactionFailed)
	}
}

func (s *Session) buildBeginHandle(txn *Transaction) Handle {
	r := NewRequest[struct{}](OpBegin, struct{}{}, nil, RequestOptions{
		Pipelinable: false,
		Removable:   false,
	}, func() error {
		txn.markStarted()
		return s.ops.SendBegin(context.Background())
	})
	f := dbfuture.New[struct{}](s.newDoCancel(r))
	r.bindFuture(dbfuture.NewSession[struct{}](f, s.id))
	return r
}

// BeginTransaction opens a new transaction bracket on this session. The
// actual BEGIN frame is deferred until the first member request is
// enqueued (spec.md §4.2 "deferred BEGIN").
func (s *Session) BeginTransaction() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txn != nil {
		return ErrAlreadyInTxn
	}
	s.txn = &Transaction{}
	return nil
}

// Commit enqueues a COMMIT request whose thunk sends COMMIT unless the
// transaction has already failed or this request's own future was
// cancelled, in which case it sends ROLLBACK instead — the safe
// degradation described in spec.md §4.2.
func (s *Session) Commit() *dbfuture.SessionFuture[struct{}] {
	s.mu.Lock()
	txn := s.txn
	s.txn = nil
	s.mu.Unlock()

	if txn == nil {
		f := dbfuture.New[struct{}](nil)
		sf := dbfuture.NewSession[struct{}](f, s.id)
		_ = sf.SetException(ErrNoActiveTxn)
		return sf
	}

	if !txn.beginWasScheduled() {
		f := dbfuture.New[struct{}](nil)
		sf := dbfuture.NewSession[struct{}](f, s.id)
		_ = sf.SetResult(struct{}{})
		return sf
	}

	var r *Request[struct{}]
	r = NewRequest[struct{}](OpCommit, struct{}{}, nil, RequestOptions{
		Pipelinable: false,
		Removable:   false,
		RunIfDone:   true,
	}, func() error {
		if txn.Canceled() || r.IsCancelled() {
			return s.ops.SendRollback(context.Background())
		}
		return s.ops.SendCommit(context.Background())
	})
	f := dbfuture.New[struct{}](s.newDoCancel(r))
	r.bindFuture(dbfuture.NewSession[struct{}](f, s.id))

	s.enqueue(r)
	return r.future
}

// Rollback enqueues a ROLLBACK request. ROLLBACK refuses cancellation
// outright (spec.md §5 invariant) and, on execution, cancels every
// still-pending member of the transaction.
func (s *Session) Rollback() *dbfuture.SessionFuture[struct{}] {
	s.mu.Lock()
	txn := s.txn
	s.txn = nil
	s.mu.Unlock()

	if txn == nil {
		f := dbfuture.New[struct{}](nil)
		sf := dbfuture.NewSession[struct{}](f, s.id)
		_ = sf.SetException(ErrNoActiveTxn)
		return sf
	}

	if !txn.beginWasScheduled() {
		f := dbfuture.New[struct{}](nil)
		sf := dbfuture.NewSession[struct{}](f, s.id)
		_ = sf.SetResult(struct{}{})
		return sf
	}

	r := NewRequest[struct{}](OpRollback, struct{}{}, nil, RequestOptions{
		Pipelinable:  false,
		Removable:    false,
		RunIfDone:    true,
		CancelPolicy: func(bool) bool { return false },
	}, func() error {
		s.txnFailed(txn)
		return s.ops.SendRollback(context.Background())
	})
	f := dbfuture.New[struct{}](s.newDoCancel(r))
	r.bindFuture(dbfuture.NewSession[struct{}](f, s.id))

	s.enqueue(r)
	return r.future
}

// Close enqueues a terminate request. When immediate is true the session
// rejects (does not wait for) any still-pending requests, settling them
// with ErrSessionClosed; when false it drains: the close is appended
// normally and only executes once every earlier request has settled
// (spec.md §9.1 resolves the Open Question this way — see DESIGN.md).
func (s *Session) Close(immediate bool) *dbfuture.SessionFuture[struct{}] {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		f := dbfuture.New[struct{}](nil)
		sf := dbfuture.NewSession[struct{}](f, s.id)
		_ = sf.SetResult(struct{}{})
		return sf
	}
	s.closed = true

	var pending []Handle
	if immediate {
		for e := s.queue.Front(); e != nil; e = e.Next() {
			pending = append(pending, e.Value.(Handle))
		}
		s.queue.Init()
		s.active = nil
	}
	s.mu.Unlock()

	for _, h := range pending {
		h.SettleError(ErrSessionClosed)
	}

	r := NewRequest[struct{}](OpClose, struct{}{}, nil, RequestOptions{
		Pipelinable: false,
		Removable:   true,
		CancelPolicy: func(bool) bool {
			s.unclose()
			return true
		},
	}, func() error {
		return s.ops.SendTerminate(context.Background())
	})
	f := dbfuture.New[struct{}](s.newDoCancel(r))
	r.bindFuture(dbfuture.NewSession[struct{}](f, s.id))

	s.mu.Lock()
	s.closeRequest = r
	s.mu.Unlock()

	s.enqueue(r)
	return r.future
}

// unclose clears a pending close request without forcing the queue to
// re-advance; the next natural promotion event re-evaluates it normally
// (spec.md §9.1 resolves the "unclose" Open Question this way).
func (s *Session) unclose() {
	s.mu.Lock()
	s.closed = false
	s.closeRequest = nil
	s.mu.Unlock()
}

// ExecuteQuery enqueues a streaming query. send performs the actual
// protocol-specific frame write (e.g. COM_QUERY, or Parse/Bind/Describe/
// Execute/Sync) against r; it is invoked at most once, when the request's
// thunk runs. If the session is inside a transaction, the request is
// folded in as a member per spec.md §4.2's transactional enqueue path.
func ExecuteQuery[T any](s *Session, initial T, handler *EventHandler[T], pipelinable bool, send func(r *Request[T]) error) *dbfuture.SessionFuture[T] {
	var r *Request[T]
	r = NewRequest[T](OpQuery, initial, handler, RequestOptions{
		Pipelinable: pipelinable,
		Removable:   true,
	}, func() error { return send(r) })
	f := dbfuture.New[T](s.newDoCancel(r))
	r.bindFuture(dbfuture.NewSession[T](f, s.id))

	if err := s.attachTransactional(r); err != nil {
		_ = r.future.SetException(err)
		return r.future
	}
	s.enqueue(r)

	if txn := r.Transaction(); txn != nil {
		r.future.AddListener(func(_ T, err error) {
			if err != nil && !r.IsCancelled() {
				s.txnFailed(txn)
			}
		})
	}
	return r.future
}

// ExecuteUpdate enqueues a non-streaming update/DDL request.
func ExecuteUpdate[T any](s *Session, initial T, pipelinable bool, send func(r *Request[T]) error) *dbfuture.SessionFuture[T] {
	return ExecuteQuery[T](s, initial, nil, pipelinable, send)
}
