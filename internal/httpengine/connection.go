package httpengine

import (
	"net"
	"time"
)

// DuplexStream is the opaque duplex byte transport a Connection is built
// on: plain TCP or TLS in the default implementations, but swappable by
// any net.Conn-like type that also supports a graceful close with a
// deadline (needed for the post-upgrade handoff in Client.Send).
type DuplexStream interface {
	net.Conn
	// Open establishes the underlying transport (dial, handshake) by the
	// given deadline.
	Open(deadline time.Time) error
	// Done performs a graceful close by the given deadline, used only
	// after a protocol upgrade hands the stream to the caller.
	Done(deadline time.Time) error
}

// Serializer writes one Request to a DuplexStream under a deadline.
type Serializer interface {
	Serialize(req *Request, deadline time.Time) error
}

// Parser reads exactly one Response from a DuplexStream under a deadline.
type Parser interface {
	Parse(deadline time.Time) (*Response, error)
}

// Connection is an owned triple: a duplex stream and a serializer/parser
// pair bound to it. It is usable for one request/response at a time and
// must not be used concurrently from more than one goroutine.
type Connection struct {
	Stream     DuplexStream
	Serializer Serializer
	Parser     Parser
}

// Close drops the Connection's stream. Called by the pool on dispose and
// on eager-init failure; never called while the Connection is borrowed
// and in active use.
func (c *Connection) Close() error {
	if c == nil || c.Stream == nil {
		return nil
	}
	return c.Stream.Close()
}
