package httpengine

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// tcpStream is the default plain-TCP DuplexStream.
type tcpStream struct {
	net.Conn
	addr               string
	resolutionDeadline time.Time
}

func newTCPStream(addr string, resolutionDeadline time.Time) *tcpStream {
	return &tcpStream{addr: addr, resolutionDeadline: resolutionDeadline}
}

// Open dials the TCP connection. Go's resolver does not expose a
// DNS-only deadline distinct from the dial itself, so the effective
// deadline is the earlier of the resolution deadline recorded at
// construction and the connect deadline passed here (see DESIGN.md's
// note on address-resolution timeout).
func (s *tcpStream) Open(deadline time.Time) error {
	effective := deadline
	if !s.resolutionDeadline.IsZero() && s.resolutionDeadline.Before(effective) {
		effective = s.resolutionDeadline
	}
	ctx, cancel := context.WithDeadline(context.Background(), effective)
	defer cancel()
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return newErr(KindTransport, "dial", err)
	}
	s.Conn = conn
	return nil
}

// Done performs a graceful close by the deadline; plain TCP has no
// close-notify handshake, so this is equivalent to Close but still
// honors the deadline for any final flush the OS performs.
func (s *tcpStream) Done(deadline time.Time) error {
	if s.Conn == nil {
		return nil
	}
	_ = s.Conn.SetDeadline(deadline)
	return s.Conn.Close()
}

// tlsStream is the default TLS DuplexStream.
type tlsStream struct {
	net.Conn
	addr               string
	serverName         string
	skipVerify         bool
	resolutionDeadline time.Time
}

func newTLSStream(addr, serverName string, skipVerify bool, resolutionDeadline time.Time) *tlsStream {
	return &tlsStream{addr: addr, serverName: serverName, skipVerify: skipVerify, resolutionDeadline: resolutionDeadline}
}

func (s *tlsStream) Open(deadline time.Time) error {
	effective := deadline
	if !s.resolutionDeadline.IsZero() && s.resolutionDeadline.Before(effective) {
		effective = s.resolutionDeadline
	}
	ctx, cancel := context.WithDeadline(context.Background(), effective)
	defer cancel()
	dialer := tls.Dialer{
		Config: &tls.Config{
			ServerName:         s.serverName,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: s.skipVerify,
		},
	}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return newErr(KindTransport, "dial_tls", err)
	}
	s.Conn = conn
	return nil
}

func (s *tlsStream) Done(deadline time.Time) error {
	if s.Conn == nil {
		return nil
	}
	_ = s.Conn.SetDeadline(deadline)
	return s.Conn.Close()
}
