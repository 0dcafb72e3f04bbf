package httpengine

import (
	"sync"
	"time"

	"github.com/tternquist/httpengine/internal/diagnostics"
	"github.com/tternquist/httpengine/internal/metrics"
)

// Factory fallibly constructs a new Connection. The pool never holds its
// lock while calling it.
type Factory func() (*Connection, error)

// Pool is a bounded, concurrent set of Connections to a single origin:
// lazy growth up to High, blocking acquisition with a deadline, a wait
// count for blocked borrowers, and failure-aware recycling.
//
// Waking a blocked borrower uses an unbuffered chan struct{} with a
// non-blocking send from Return: a one-slot rendezvous that wakes at
// most one waiter per signal, and never blocks a returning caller even
// when nobody is currently parked in Borrow.
type Pool struct {
	mu sync.Mutex

	low, high int
	available []*Connection
	borrowed  int
	waiting   int

	factory Factory
	wake    chan struct{}

	diagnostics *diagnostics.RingBuffer
}

// NewPool validates the [low, high] range and eagerly constructs low
// Connections via factory. Any factory failure aborts construction;
// already-constructed Connections are closed before the error returns.
func NewPool(low, high int, factory Factory, diag *diagnostics.RingBuffer) (*Pool, error) {
	if low < 0 || high < low {
		return nil, newErr(KindPoolInit, "new_pool", errInvalidRange(low, high))
	}
	p := &Pool{
		low:         low,
		high:        high,
		factory:     factory,
		wake:        make(chan struct{}),
		diagnostics: diag,
	}
	for i := 0; i < low; i++ {
		conn, err := factory()
		if err != nil {
			for _, c := range p.available {
				_ = c.Close()
			}
			return nil, newErr(KindPoolInit, "new_pool", err)
		}
		metrics.PoolFactoryTotal.Inc()
		p.available = append(p.available, conn)
	}
	p.reportGauges()
	return p, nil
}

func errInvalidRange(low, high int) error {
	return &rangeError{low: low, high: high}
}

type rangeError struct{ low, high int }

func (e *rangeError) Error() string {
	return "pool size requires 0 <= low <= high"
}

// Borrow acquires one Connection, blocking until one is available, the
// pool can grow, or deadline passes.
func (p *Pool) Borrow(deadline time.Time) (*Connection, error) {
	start := time.Now()
	waitCount := 0
	defer func() {
		metrics.BorrowDuration.Observe(time.Since(start).Seconds())
	}()
	for {
		p.mu.Lock()
		if n := len(p.available); n > 0 {
			conn := p.available[n-1]
			p.available = p.available[:n-1]
			p.borrowed++
			p.waiting -= waitCount
			p.reportGaugesLocked()
			p.mu.Unlock()
			return conn, nil
		}
		if p.borrowed+len(p.available) < p.high {
			// Reserve the slot before unlocking so concurrent borrowers
			// cannot grow the pool past high while factory runs.
			p.borrowed++
			p.mu.Unlock()
			conn, err := p.factory()
			p.mu.Lock()
			if err != nil {
				p.borrowed--
				p.waiting -= waitCount
				p.reportGaugesLocked()
				p.mu.Unlock()
				p.record(diagnostics.OpFactory, err)
				return nil, newErr(KindTransport, "borrow", err)
			}
			metrics.PoolFactoryTotal.Inc()
			p.waiting -= waitCount
			p.reportGaugesLocked()
			p.mu.Unlock()
			return conn, nil
		}
		waitCount++
		p.waiting++
		p.reportGaugesLocked()
		waitChan := p.wake
		p.mu.Unlock()

		if time.Now().After(deadline) {
			p.mu.Lock()
			p.waiting -= waitCount
			p.reportGaugesLocked()
			p.mu.Unlock()
			err := newErr(KindTimeout, "borrow", errDeadlineExceeded)
			p.record(diagnostics.OpBorrow, err)
			return nil, err
		}
		timer := time.NewTimer(time.Until(deadline))
		select {
		case <-waitChan:
			timer.Stop()
			// Loop around: re-check availability, as any waker may race
			// with a fresh caller entering Borrow.
		case <-timer.C:
			p.mu.Lock()
			p.waiting -= waitCount
			p.reportGaugesLocked()
			p.mu.Unlock()
			err := newErr(KindTimeout, "borrow", errDeadlineExceeded)
			p.record(diagnostics.OpBorrow, err)
			return nil, err
		}
	}
}

var errDeadlineExceeded = deadlineExceededError{}

type deadlineExceededError struct{}

func (deadlineExceededError) Error() string { return "deadline exceeded" }

// Return gives a borrowed Connection back to the pool for reuse (LIFO:
// the next Borrow pops it first) and wakes at most one waiter.
func (p *Pool) Return(conn *Connection) {
	p.mu.Lock()
	p.available = append(p.available, conn)
	p.borrowed--
	shouldWake := p.waiting > 0
	p.reportGaugesLocked()
	p.mu.Unlock()

	if shouldWake {
		// Non-blocking signal: dropped if no waiter is parked right now,
		// which is safe because Return already pushed onto available
		// before signaling, so a waiter that loses the race still finds
		// the Connection on its next loop iteration.
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
}

// Dispose drops a borrowed Connection (closing its stream) without
// returning it to the pool or waking waiters: a disposed Connection
// lowers occupancy, so the next Borrow succeeds via its grow branch.
func (p *Pool) Dispose(conn *Connection, reason string) {
	p.mu.Lock()
	p.borrowed--
	p.reportGaugesLocked()
	p.mu.Unlock()
	metrics.RecordDispose(reason)
	_ = conn.Close()
}

// Stats is a point-in-time snapshot of pool occupancy, useful for tests
// and for cmd/httpengine-bench's reporting.
type Stats struct {
	Borrowed  int
	Available int
	Waiting   int
}

// Snapshot returns the current occupancy counts.
func (p *Pool) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Borrowed: p.borrowed, Available: len(p.available), Waiting: p.waiting}
}

// Close disposes every idle Connection. Borrowed Connections are left to
// their callers; a Pool is normally closed only after its owning Client
// has stopped issuing requests.
func (p *Pool) Close() {
	p.mu.Lock()
	idle := p.available
	p.available = nil
	p.mu.Unlock()
	for _, c := range idle {
		_ = c.Close()
	}
}

func (p *Pool) reportGaugesLocked() {
	metrics.SetPoolGauges(p.borrowed, len(p.available), p.waiting)
}

func (p *Pool) reportGauges() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reportGaugesLocked()
}

func (p *Pool) record(op diagnostics.Op, err error) {
	p.diagnostics.Add(op, err)
}
