package dbsession

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/asyncsql/asyncsql/dbfuture"
)

type fakeOps struct {
	mu                                     sync.Mutex
	begins, commits, rollbacks, terminates int
}

func (f *fakeOps) SendBegin(ctx context.Context) error {
	f.mu.Lock()
	f.begins++
	f.mu.Unlock()
	return nil
}

func (f *fakeOps) SendCommit(ctx context.Context) error {
	f.mu.Lock()
	f.commits++
	f.mu.Unlock()
	return nil
}

func (f *fakeOps) SendRollback(ctx context.Context) error {
	f.mu.Lock()
	f.rollbacks++
	f.mu.Unlock()
	return nil
}

func (f *fakeOps) SendTerminate(ctx context.Context) error {
	f.mu.Lock()
	f.terminates++
	f.mu.Unlock()
	return nil
}

func (f *fakeOps) counts() (begins, commits, rollbacks, terminates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.begins, f.commits, f.rollbacks, f.terminates
}

func TestSequentialExecutionWaitsForCompletion(t *testing.T) {
	s := New("s1", &fakeOps{})
	s.SetPipelining(false)

	var executed []string
	var reqs []*Request[string]

	ExecuteQuery[string](s, "", nil, false, func(r *Request[string]) error {
		executed = append(executed, "q1")
		reqs = append(reqs, r)
		return nil
	})
	if len(executed) != 1 {
		t.Fatalf("executed = %v; want [q1]", executed)
	}

	ExecuteQuery[string](s, "", nil, false, func(r *Request[string]) error {
		executed = append(executed, "q2")
		reqs = append(reqs, r)
		return nil
	})
	if len(executed) != 1 {
		t.Fatalf("second query ran before the first settled: executed = %v", executed)
	}

	_ = reqs[0].future.SetResult("r1")
	s.CompleteActive()

	if len(executed) != 2 || executed[1] != "q2" {
		t.Fatalf("executed = %v; want [q1 q2] after first completes", executed)
	}

	_ = reqs[1].future.SetResult("r2")
	s.CompleteActive()

	if s.Active() != nil {
		t.Fatal("session should be idle after both requests settle")
	}
}

func TestPipeliningFastPathRunsOnArrival(t *testing.T) {
	s := New("s1", &fakeOps{})

	var executed []string
	var reqs []*Request[string]
	send := func(name string) func(r *Request[string]) error {
		return func(r *Request[string]) error {
			executed = append(executed, name)
			reqs = append(reqs, r)
			return nil
		}
	}

	ExecuteQuery[string](s, "", nil, true, send("q1"))
	ExecuteQuery[string](s, "", nil, true, send("q2"))

	// q1 promoted and executed; the forward walk pre-executes q2 since it
	// is also pipelinable, reaching the queue end and turning pipelining on.
	if len(executed) != 2 {
		t.Fatalf("executed = %v; want both pre-executed by the forward walk", executed)
	}

	ExecuteQuery[string](s, "", nil, true, send("q3"))
	if len(executed) != 3 {
		t.Fatalf("executed = %v; want q3 to run immediately via the pipelining fast path", executed)
	}

	for _, r := range reqs {
		_ = r.future.SetResult("ok")
		s.CompleteActive()
	}
}

func TestNonPipelinableRequestClearsPipeliningFlag(t *testing.T) {
	s := New("s1", &fakeOps{})

	var executed []string
	var reqs []*Request[string]

	ExecuteQuery[string](s, "", nil, true, func(r *Request[string]) error {
		executed = append(executed, "q1")
		reqs = append(reqs, r)
		return nil
	})
	if !s.pipelining {
		t.Fatal("expected pipelining mode true after a lone pipelinable request reaches queue end")
	}

	ExecuteQuery[string](s, "", nil, false, func(r *Request[string]) error {
		executed = append(executed, "q2")
		reqs = append(reqs, r)
		return nil
	})
	if s.pipelining {
		t.Fatal("a non-pipelinable arrival must clear pipelining mode")
	}
	if len(executed) != 1 {
		t.Fatalf("q2 must not run before q1 settles: executed = %v", executed)
	}

	_ = reqs[0].future.SetResult("ok")
	s.CompleteActive()
	if len(executed) != 2 {
		t.Fatalf("q2 should run once promoted: executed = %v", executed)
	}
}

func TestCancelQueuedRequestRemovesItAndPromotesNothingExtra(t *testing.T) {
	s := New("s1", &fakeOps{})
	s.SetPipelining(false)

	var executed []string
	var head *Request[string]

	ExecuteQuery[string](s, "", nil, false, func(r *Request[string]) error {
		executed = append(executed, "q1")
		head = r
		return nil
	})

	var tail *dbfuture.SessionFuture[string]
	tail = ExecuteQuery[string](s, "", nil, false, func(r *Request[string]) error {
		executed = append(executed, "q2")
		return nil
	})

	if !tail.Cancel(false) {
		t.Fatal("expected queued (not-yet-active) request to be cancellable")
	}
	if _, err := tail.Get(context.Background()); !errors.Is(err, dbfuture.ErrCancelled) {
		t.Fatalf("cancelled request's future err = %v; want ErrCancelled", err)
	}

	_ = head.future.SetResult("r1")
	s.CompleteActive()

	if len(executed) != 1 {
		t.Fatalf("cancelled q2 must never run: executed = %v", executed)
	}
	if s.Active() != nil {
		t.Fatal("session should be idle: the only remaining queued request was cancelled")
	}
}

func TestCancelActiveRequestIsRejected(t *testing.T) {
	s := New("s1", &fakeOps{})
	s.SetPipelining(false)

	var executed []string
	var head *dbfuture.SessionFuture[string]

	head = ExecuteQuery[string](s, "", nil, false, func(r *Request[string]) error {
		executed = append(executed, "q1")
		return nil
	})
	ExecuteQuery[string](s, "", nil, false, func(r *Request[string]) error {
		executed = append(executed, "q2")
		return nil
	})

	if head.Cancel(true) {
		t.Fatal("expected the active (already executed) request to refuse cancellation")
	}
	if len(executed) != 1 {
		t.Fatalf("a refused cancel must not promote q2: executed = %v", executed)
	}
}

func TestTransactionDeferredBeginAndMemberFailureCancelsSiblings(t *testing.T) {
	ops := &fakeOps{}
	s := New("s1", ops)
	s.SetPipelining(false)

	if err := s.BeginTransaction(); err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if b, _, _, _ := ops.counts(); b != 0 {
		t.Fatal("BEGIN must not be sent until the first member request is enqueued")
	}

	var reqs []*Request[string]
	ExecuteQuery[string](s, "", nil, false, func(r *Request[string]) error {
		reqs = append(reqs, r)
		return nil
	})
	if b, _, _, _ := ops.counts(); b != 1 {
		t.Fatalf("BEGIN count = %d; want 1 after first member arrives", b)
	}
	if len(reqs) != 0 {
		t.Fatal("the first member must stay queued behind the deferred BEGIN, not run yet")
	}

	// Settle BEGIN (the current active request) so the first member promotes.
	begin := s.Active()
	_ = begin.Complete(struct{}{})
	s.CompleteActive()
	if len(reqs) != 1 {
		t.Fatalf("first member should have run its thunk once promoted, reqs = %v", reqs)
	}

	second := ExecuteQuery[string](s, "", nil, false, func(r *Request[string]) error {
		reqs = append(reqs, r)
		return nil
	})
	if len(reqs) != 1 {
		t.Fatal("second member must stay queued behind the still-active first member")
	}

	_ = reqs[0].future.SetException(errors.New("member boom"))
	s.CompleteActive()

	if _, err := second.Get(context.Background()); !errors.Is(err, ErrTransactionFailed) {
		t.Fatalf("second member's future err = %v; want ErrTransactionFailed (cancelled by sibling failure)", err)
	}
	if len(reqs) != 1 {
		t.Fatal("the cancelled second member's thunk must never run")
	}
}

func TestCommitDegradesToRollbackAfterMemberFailure(t *testing.T) {
	ops := &fakeOps{}
	s := New("s1", ops)
	s.SetPipelining(false)

	_ = s.BeginTransaction()

	var member *Request[string]
	ExecuteQuery[string](s, "", nil, false, func(r *Request[string]) error {
		member = r
		return nil
	})

	// BEGIN is active first; the member request only runs once promoted.
	beginReq := s.Active()
	_ = beginReq.Complete(struct{}{})
	s.CompleteActive()
	if member == nil {
		t.Fatal("member thunk should have run once promoted behind BEGIN")
	}

	_ = member.future.SetException(errors.New("boom"))
	s.CompleteActive()

	commit := s.Commit()
	commitReq := s.Active()
	if commitReq == nil {
		t.Fatal("commit should become active immediately (session idle)")
	}
	_ = commitReq.Complete(struct{}{})
	s.CompleteActive()

	if _, err := commit.Get(context.Background()); err != nil {
		t.Fatalf("commit future err = %v; want nil (degraded rollback still completes successfully)", err)
	}
	if _, c, r, _ := ops.counts(); c != 0 || r != 1 {
		t.Fatalf("commits=%d rollbacks=%d; want commits=0 rollbacks=1 after a failed member", c, r)
	}
}

func TestRollbackRefusesCancellation(t *testing.T) {
	ops := &fakeOps{}
	s := New("s1", ops)
	_ = s.BeginTransaction()

	f := s.Rollback()
	if f.Cancel(true) {
		t.Fatal("ROLLBACK must refuse cancellation")
	}
}

func TestRollbackWithNoMemberRequestSettlesWithoutWireTraffic(t *testing.T) {
	ops := &fakeOps{}
	s := New("s1", ops)
	_ = s.BeginTransaction()

	f := s.Rollback()
	if _, err := f.Get(context.Background()); err != nil {
		t.Fatalf("rollback future err = %v; want nil (no BEGIN was ever scheduled)", err)
	}
	if b, _, r, _ := ops.counts(); b != 0 || r != 0 {
		t.Fatalf("begins=%d rollbacks=%d; want 0,0 since no member request ever scheduled BEGIN", b, r)
	}
}

func TestCommitWithNoMemberRequestSettlesWithoutWireTraffic(t *testing.T) {
	ops := &fakeOps{}
	s := New("s1", ops)
	_ = s.BeginTransaction()

	f := s.Commit()
	if _, err := f.Get(context.Background()); err != nil {
		t.Fatalf("commit future err = %v; want nil (no BEGIN was ever scheduled)", err)
	}
	if b, c, _, _ := ops.counts(); b != 0 || c != 0 {
		t.Fatalf("begins=%d commits=%d; want 0,0 since no member request ever scheduled BEGIN", b, c)
	}
}

func TestCloseImmediateRejectsPending(t *testing.T) {
	ops := &fakeOps{}
	s := New("s1", ops)
	s.SetPipelining(false)

	pending := ExecuteQuery[string](s, "", nil, false, func(r *Request[string]) error { return nil })
	blocker := ExecuteQuery[string](s, "", nil, false, func(r *Request[string]) error { return nil })

	closeFuture := s.Close(true)
	if _, err := pending.Get(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("active request err = %v; want ErrSessionClosed", err)
	}
	if _, err := blocker.Get(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("queued request err = %v; want ErrSessionClosed", err)
	}

	active := s.Active()
	if active == nil || active.Kind() != OpClose {
		t.Fatal("CLOSE should become active immediately once pending work is rejected")
	}
	_ = active.Complete(struct{}{})
	if _, err := closeFuture.Get(context.Background()); err != nil {
		t.Fatalf("close future err = %v; want nil", err)
	}
	if _, _, _, term := ops.counts(); term != 1 {
		t.Fatalf("terminates = %d; want 1", term)
	}
}

func TestCloseDrainWaitsForPendingThenTerminates(t *testing.T) {
	ops := &fakeOps{}
	s := New("s1", ops)
	s.SetPipelining(false)

	var head *Request[string]
	ExecuteQuery[string](s, "", nil, false, func(r *Request[string]) error {
		head = r
		return nil
	})

	closeFuture := s.Close(false)
	if closeFuture.IsDone() {
		t.Fatal("draining close must not settle before the pending request finishes")
	}
	if _, _, _, term := ops.counts(); term != 0 {
		t.Fatal("terminate must not be sent before the queue drains")
	}

	_ = head.future.SetResult("ok")
	s.CompleteActive()

	active := s.Active()
	if active == nil || active.Kind() != OpClose {
		t.Fatal("CLOSE should be promoted once the queue drains")
	}
	_ = active.Complete(struct{}{})
	if _, _, _, term := ops.counts(); term != 1 {
		t.Fatalf("terminates = %d; want 1 after drain", term)
	}
}
