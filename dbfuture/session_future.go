package dbfuture

// SessionKey identifies the session that produced a SessionFuture. Concrete
// session types (dbsession.Session) satisfy this with a pointer-identity or
// id-based implementation; dbfuture stays protocol- and session-agnostic.
type SessionKey interface{}

// SessionFuture adds session affinity to Future, so callers can tell which
// session produced a given pending operation (used by connection managers
// tracking per-session in-flight work, and by tests asserting ordering).
type SessionFuture[T any] struct {
	*Future[T]
	session SessionKey
}

// NewSession wraps a Future with the session that owns it.
func NewSession[T any](f *Future[T], session SessionKey) *SessionFuture[T] {
	return &SessionFuture[T]{Future: f, session: session}
}

// Session returns the session that produced this future.
func (sf *SessionFuture[T]) Session() SessionKey {
	return sf.session
}
