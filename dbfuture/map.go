package dbfuture

// Map derives a new SessionFuture[U] that settles when orig does, applying
// convert to a successful value. Cancelling the derived future cancels
// orig; errors and cancellation propagate through unchanged.
func Map[T, U any](orig *SessionFuture[T], convert func(T) U) *SessionFuture[U] {
	nf := New[U](func(mayInterrupt bool) bool { return orig.Cancel(mayInterrupt) })
	sf := NewSession[U](nf, orig.Session())
	orig.AddListener(func(v T, err error) {
		if err != nil {
			_ = sf.SetException(err)
			return
		}
		_ = sf.SetResult(convert(v))
	})
	return sf
}
