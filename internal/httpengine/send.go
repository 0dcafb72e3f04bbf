package httpengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tternquist/httpengine/internal/accesslog"
	"github.com/tternquist/httpengine/internal/diagnostics"
	"github.com/tternquist/httpengine/internal/metrics"
)

// requestBinder lets the send loop associate the in-flight Request with
// the Parser, which http.ReadResponse needs to know whether a body is
// expected (e.g. a HEAD response carries no body regardless of
// Content-Length).
type requestBinder interface {
	bindRequest(req *Request)
}

// Send runs the borrow → serialize → parse → return-or-dispose loop. Any
// I/O failure on a borrowed Connection disposes it and retries from
// borrow; the loop has no retry cap beyond borrowTimeout. ctx's deadline
// additionally bounds every phase deadline, composing with the
// configured per-phase durations, and a cancelled or expired ctx ends
// the loop before its next attempt.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	retried := false
	var poolWait time.Duration

	if c.limiter != nil {
		if err := c.limiter.WaitN(ctx, 1); err != nil {
			return nil, newErr(KindTimeout, "send", err)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			sendErr := newErr(KindTimeout, "send", err)
			c.logAccess(req, 0, start, retried, poolWait, sendErr)
			metrics.SendDuration.Observe(time.Since(start).Seconds())
			return nil, sendErr
		}

		borrowStart := time.Now()
		conn, err := c.pool.Borrow(phaseDeadline(ctx, c.cfg.BorrowTimeout.Duration))
		poolWait += time.Since(borrowStart)
		if err != nil {
			c.logAccess(req, 0, start, retried, poolWait, err)
			metrics.SendDuration.Observe(time.Since(start).Seconds())
			return nil, err
		}

		req.setHost(fmt.Sprintf("%s:%d", c.host, c.port))
		req.setUserAgent(userAgent)

		if rb, ok := conn.Parser.(requestBinder); ok {
			rb.bindRequest(req)
		}

		resp, err := c.roundTrip(ctx, conn, req)
		if err != nil {
			c.pool.Dispose(conn, "error")
			c.diagnostics.Add(opForPhase(err), err)
			retried = true
			continue
		}

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		c.logAccess(req, status, start, retried, poolWait, nil)
		metrics.SendDuration.Observe(time.Since(start).Seconds())
		return resp, nil
	}
}

// roundTrip performs one serialize → parse → (optional upgrade) sequence
// on an already-borrowed Connection, returning or disposing it according
// to outcome. ctx bounds the serialize, parse and post-upgrade close
// deadlines, the same way it bounds Borrow's in Send.
func (c *Client) roundTrip(ctx context.Context, conn *Connection, req *Request) (*Response, error) {
	if err := conn.Serializer.Serialize(req, phaseDeadline(ctx, c.cfg.SerializeTimeout.Duration)); err != nil {
		return nil, err
	}
	resp, err := conn.Parser.Parse(phaseDeadline(ctx, c.cfg.ParseTimeout.Duration))
	if err != nil {
		return nil, err
	}

	if req.UpgradeConnection != nil {
		if err := req.UpgradeConnection(resp, conn.Stream); err != nil {
			return nil, newErr(KindUpgrade, "upgrade", err)
		}
		if err := conn.Stream.Done(phaseDeadline(ctx, c.cfg.CloseConnectionTimeout.Duration)); err != nil {
			return nil, newErr(KindTransport, "done", err)
		}
		c.pool.Dispose(conn, "upgrade")
		return resp, nil
	}

	c.pool.Return(conn)
	return resp, nil
}

// phaseDeadline computes now+duration, clamped to ctx's deadline when it
// is sooner, so a caller-supplied context composes with the configured
// per-phase timeout instead of needing the core to understand context.
func phaseDeadline(ctx context.Context, d time.Duration) time.Time {
	deadline := time.Now().Add(d)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		return ctxDeadline
	}
	return deadline
}

func opForPhase(err error) diagnostics.Op {
	var e *Error
	if errors.As(err, &e) {
		switch e.Op {
		case "parse":
			return diagnostics.OpParse
		case "upgrade":
			return diagnostics.OpUpgrade
		case "done":
			return diagnostics.OpDone
		}
	}
	return diagnostics.OpSerialize
}

func (c *Client) logAccess(req *Request, status int, start time.Time, retried bool, poolWait time.Duration, err error) {
	if c.accessLog == nil {
		return
	}
	entry := accesslog.Entry{
		Timestamp:  accesslog.FormatTimestamp(start),
		Method:     req.Method,
		Path:       req.URL.Path,
		Status:     status,
		DurationMS: float64(time.Since(start).Microseconds()) / 1000,
		PoolWaitMS: float64(poolWait.Microseconds()) / 1000,
		Retried:    retried,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	c.accessLog.Write(entry)
}
