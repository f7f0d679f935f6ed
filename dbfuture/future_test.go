package dbfuture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSetResultThenGet(t *testing.T) {
	f := New[int](nil)
	if err := f.SetResult(42); err != nil {
		t.Fatalf("SetResult: %v", err)
	}
	v, err := f.Get(context.Background())
	if err != nil || v != 42 {
		t.Fatalf("Get() = %d, %v; want 42, nil", v, err)
	}
	if !f.IsDone() {
		t.Fatal("expected IsDone true")
	}
}

func TestDoubleSettleFails(t *testing.T) {
	f := New[int](nil)
	if err := f.SetResult(1); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	if err := f.SetResult(2); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("second settle err = %v; want ErrAlreadySettled", err)
	}
	if err := f.SetException(errors.New("boom")); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("SetException after settle = %v; want ErrAlreadySettled", err)
	}
}

func TestListenerBeforeAndAfterSettle(t *testing.T) {
	f := New[string](nil)

	var before, after int
	var mu sync.Mutex

	f.AddListener(func(v string, err error) {
		mu.Lock()
		before++
		mu.Unlock()
	})

	if err := f.SetResult("ok"); err != nil {
		t.Fatalf("SetResult: %v", err)
	}

	f.AddListener(func(v string, err error) {
		mu.Lock()
		after++
		mu.Unlock()
	})

	mu.Lock()
	defer mu.Unlock()
	if before != 1 {
		t.Fatalf("before-listener invoked %d times; want 1", before)
	}
	if after != 1 {
		t.Fatalf("after-listener invoked %d times; want 1", after)
	}
}

func TestGetTimeout(t *testing.T) {
	f := New[int](nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Get(ctx)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Get() err = %v; want ErrTimeout", err)
	}
}

func TestCancelAcceptedAndRejected(t *testing.T) {
	accept := New[int](func(mayInterrupt bool) bool { return true })
	if !accept.Cancel(false) {
		t.Fatal("expected cancel to be accepted")
	}
	if !accept.IsCancelled() {
		t.Fatal("expected IsCancelled true")
	}
	_, err := accept.Get(context.Background())
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Get() err = %v; want ErrCancelled", err)
	}

	reject := New[int](func(mayInterrupt bool) bool { return false })
	if reject.Cancel(false) {
		t.Fatal("expected cancel to be rejected")
	}
	if reject.IsDone() {
		t.Fatal("rejected cancel must leave future pending")
	}
}

func TestCancelAfterSettleIsNoop(t *testing.T) {
	f := New[int](func(mayInterrupt bool) bool { return true })
	if err := f.SetResult(7); err != nil {
		t.Fatalf("SetResult: %v", err)
	}
	if f.Cancel(false) {
		t.Fatal("cancel after settle must return false")
	}
	v, err := f.Get(context.Background())
	if err != nil || v != 7 {
		t.Fatalf("Get() = %d, %v; want 7, nil", v, err)
	}
}

func TestSessionFutureCarriesSession(t *testing.T) {
	type sessionID string
	f := New[int](nil)
	sf := NewSession[int](f, sessionID("s1"))
	if sf.Session() != sessionID("s1") {
		t.Fatalf("Session() = %v; want s1", sf.Session())
	}
	if err := sf.SetResult(5); err != nil {
		t.Fatalf("SetResult: %v", err)
	}
	v, _ := sf.Get(context.Background())
	if v != 5 {
		t.Fatalf("Get() = %d; want 5", v)
	}
}

func TestPanickingListenerDoesNotPoisonSettle(t *testing.T) {
	f := New[int](nil)
	var called bool
	f.AddListener(func(v int, err error) {
		panic("listener boom")
	})
	f.AddListener(func(v int, err error) {
		called = true
	})
	if err := f.SetResult(1); err != nil {
		t.Fatalf("SetResult: %v", err)
	}
	if !called {
		t.Fatal("second listener should still run after the first panics")
	}
}
