package httpengine

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tternquist/httpengine/internal/diagnostics"
)

// fakeConnection is a Pool Connection with a no-op stream, for tests that
// only exercise pool bookkeeping and never touch the wire.
func fakeConnection() *Connection {
	return &Connection{Stream: &fakeStream{}}
}

// fakeStream satisfies DuplexStream without any real I/O.
type fakeStream struct {
	closed int32
}

func (s *fakeStream) Open(time.Time) error { return nil }
func (s *fakeStream) Done(time.Time) error { return s.Close() }

func (s *fakeStream) Close() error {
	atomic.AddInt32(&s.closed, 1)
	return nil
}

func (s *fakeStream) Read([]byte) (int, error)  { return 0, errors.New("fakeStream: not implemented") }
func (s *fakeStream) Write(p []byte) (int, error) { return len(p), nil }

func (s *fakeStream) LocalAddr() net.Addr                { return fakeAddr{} }
func (s *fakeStream) RemoteAddr() net.Addr               { return fakeAddr{} }
func (s *fakeStream) SetDeadline(time.Time) error      { return nil }
func (s *fakeStream) SetReadDeadline(time.Time) error  { return nil }
func (s *fakeStream) SetWriteDeadline(time.Time) error { return nil }

type fakeAddr struct{}

func (fakeAddr) Network() string { return "fake" }
func (fakeAddr) String() string  { return "fake" }

func TestPoolEagerlyConstructsLowConnections(t *testing.T) {
	var built int32
	factory := func() (*Connection, error) {
		atomic.AddInt32(&built, 1)
		return fakeConnection(), nil
	}
	pool, err := NewPool(3, 5, factory, diagnostics.New(0))
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	if built != 3 {
		t.Fatalf("built = %d, want 3", built)
	}
	stats := pool.Snapshot()
	if stats.Available != 3 || stats.Borrowed != 0 {
		t.Fatalf("stats = %+v, want Available=3 Borrowed=0", stats)
	}
}

func TestPoolRejectsInvalidRange(t *testing.T) {
	_, err := NewPool(5, 2, func() (*Connection, error) { return fakeConnection(), nil }, diagnostics.New(0))
	if err == nil {
		t.Fatal("expected error for low > high")
	}
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindPoolInit {
		t.Fatalf("err = %v, want KindPoolInit", err)
	}
}

func TestPoolRollsBackOnFactoryFailureDuringInit(t *testing.T) {
	var built int32
	factory := func() (*Connection, error) {
		n := atomic.AddInt32(&built, 1)
		if n == 2 {
			return nil, errors.New("dial failed")
		}
		return fakeConnection(), nil
	}
	_, err := NewPool(3, 5, factory, diagnostics.New(0))
	if err == nil {
		t.Fatal("expected error from factory")
	}
}

// TestPoolReusesLIFO verifies the most recently returned connection is the
// next one borrowed.
func TestPoolReusesLIFO(t *testing.T) {
	var conns []*Connection
	factory := func() (*Connection, error) {
		c := fakeConnection()
		conns = append(conns, c)
		return c, nil
	}
	pool, err := NewPool(2, 2, factory, diagnostics.New(0))
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	first := conns[0]
	second := conns[1]

	pool.Return(first)
	pool.Return(second)

	got, err := pool.Borrow(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	if got != second {
		t.Fatal("expected LIFO reuse: the most recently returned connection should be borrowed first")
	}
}

// TestPoolGrowsLazilyUpToHigh verifies the pool constructs additional
// connections beyond low, but never exceeds high.
func TestPoolGrowsLazilyUpToHigh(t *testing.T) {
	var built int32
	factory := func() (*Connection, error) {
		atomic.AddInt32(&built, 1)
		return fakeConnection(), nil
	}
	pool, err := NewPool(0, 2, factory, diagnostics.New(0))
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	c1, err := pool.Borrow(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Borrow 1: %v", err)
	}
	c2, err := pool.Borrow(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Borrow 2: %v", err)
	}
	if built != 2 {
		t.Fatalf("built = %d, want 2", built)
	}

	_, err = pool.Borrow(time.Now().Add(50 * time.Millisecond))
	if err == nil {
		t.Fatal("expected timeout: pool is already at high water mark")
	}
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindTimeout {
		t.Fatalf("err = %v, want KindTimeout", err)
	}

	pool.Return(c1)
	pool.Return(c2)
}

// TestPoolBorrowTimesOutPromptlyWhenDeadlineAlreadyPassed covers the
// already-expired-deadline path distinct from the timer-based path.
func TestPoolBorrowTimesOutPromptlyWhenDeadlineAlreadyPassed(t *testing.T) {
	pool, err := NewPool(0, 1, func() (*Connection, error) { return fakeConnection(), nil }, diagnostics.New(0))
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	conn, err := pool.Borrow(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	defer pool.Return(conn)

	start := time.Now()
	_, err = pool.Borrow(time.Now().Add(-time.Second))
	if err == nil {
		t.Fatal("expected immediate timeout")
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("borrow with an already-past deadline took %s, want near-instant", elapsed)
	}
}

// TestPoolDisposeLowersOccupancyWithoutReturning verifies Dispose lowers
// occupancy without returning the connection to availability; a subsequent
// Borrow succeeds via the grow branch, not by receiving the disposed
// connection.
func TestPoolDisposeLowersOccupancyWithoutReturning(t *testing.T) {
	var built int32
	pool, err := NewPool(0, 1, func() (*Connection, error) {
		atomic.AddInt32(&built, 1)
		return fakeConnection(), nil
	}, diagnostics.New(4))
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	conn, err := pool.Borrow(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	pool.Dispose(conn, "error")

	stats := pool.Snapshot()
	if stats.Borrowed != 0 || stats.Available != 0 {
		t.Fatalf("stats after dispose = %+v, want Borrowed=0 Available=0", stats)
	}

	conn2, err := pool.Borrow(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Borrow after dispose: %v", err)
	}
	if built != 2 {
		t.Fatalf("built = %d, want 2 (one fresh connection after dispose)", built)
	}
	pool.Return(conn2)
}

// TestPoolWaiterUnblocksOnReturn verifies a borrower blocked at high water
// mark is woken once another borrower returns its connection.
func TestPoolWaiterUnblocksOnReturn(t *testing.T) {
	pool, err := NewPool(0, 1, func() (*Connection, error) { return fakeConnection(), nil }, diagnostics.New(0))
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	held, err := pool.Borrow(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}

	done := make(chan struct{})
	var waiterErr error
	go func() {
		defer close(done)
		_, waiterErr = pool.Borrow(time.Now().Add(5 * time.Second))
	}()

	time.Sleep(50 * time.Millisecond) // give the waiter time to park
	if stats := pool.Snapshot(); stats.Waiting != 1 {
		t.Fatalf("waiting = %d, want 1", stats.Waiting)
	}

	pool.Return(held)

	select {
	case <-done:
		if waiterErr != nil {
			t.Fatalf("waiter error: %v", waiterErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by Return")
	}
}

// TestPoolConcurrentBorrowReturn exercises many goroutines racing Borrow
// and Return; the race detector (run separately) is the real assertion,
// but occupancy invariants are checked too.
func TestPoolConcurrentBorrowReturn(t *testing.T) {
	pool, err := NewPool(2, 5, func() (*Connection, error) { return fakeConnection(), nil }, diagnostics.New(0))
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				conn, err := pool.Borrow(time.Now().Add(2 * time.Second))
				if err != nil {
					t.Errorf("Borrow: %v", err)
					return
				}
				pool.Return(conn)
			}
		}()
	}
	wg.Wait()

	stats := pool.Snapshot()
	if stats.Borrowed != 0 || stats.Waiting != 0 {
		t.Fatalf("final stats = %+v, want Borrowed=0 Waiting=0", stats)
	}
}
