package dbsession

import "sync"

// Transaction tracks the state spanning a beginTransaction()..commit()/
// rollback() bracket: whether BEGIN has actually been scheduled on the
// wire (it is deferred until the first member request), whether it has
// started, and whether a member failure has poisoned it (spec.md §5
// "Transaction-member cancellation is transitive").
type Transaction struct {
	mu             sync.Mutex
	beginScheduled bool
	started        bool
	canceled       bool
	members        []Handle
}

func (t *Transaction) tryScheduleBegin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.beginScheduled {
		return false
	}
	t.beginScheduled = true
	return true
}

// beginWasScheduled reports whether BEGIN was ever put on the wire (or
// queued to be). A commit()/rollback() with no intervening member request
// observes this false and must settle without a round-trip.
func (t *Transaction) beginWasScheduled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.beginScheduled
}

func (t *Transaction) markStarted() {
	t.mu.Lock()
	t.started = true
	t.mu.Unlock()
}

// Canceled reports whether a prior member request failed, poisoning any
// future commit() into a rollback.
func (t *Transaction) Canceled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canceled
}

// markCanceledAndDrain flags the transaction as failed and returns a
// snapshot of still-pending members to cancel, per the law "a failed
// request inside a transaction forces any subsequent commit to produce a
// ROLLBACK on the wire" and "rollback cancels all still-pending member
// requests".
func (t *Transaction) markCanceledAndDrain() []Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.canceled = true
	pending := make([]Handle, 0, len(t.members))
	for _, m := range t.members {
		if !m.IsDone() {
			pending = append(pending, m)
		}
	}
	return pending
}

func (t *Transaction) addMember(h Handle) {
	t.mu.Lock()
	t.members = append(t.members, h)
	t.mu.Unlock()
}
