// Package httpengine is a client-side HTTP/1.x engine that issues
// requests to a single origin over a bounded pool of persistent TCP or
// TLS connections, and supports protocol upgrades (e.g. WebSocket) that
// hand the raw stream back to the caller after a successful handshake.
package httpengine

import (
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/tternquist/httpengine/internal/accesslog"
	"github.com/tternquist/httpengine/internal/diagnostics"
)

const userAgent = "httpengine/1.0"

// Client owns the Pool for one origin and runs the borrow, serialize,
// parse, then return-or-dispose send loop. A Client is immutable after
// construction and safe for concurrent use.
type Client struct {
	host   string
	port   int
	secure bool

	cfg    Configuration
	logger *slog.Logger
	pool   *Pool

	limiter     *rate.Limiter
	diagnostics *diagnostics.RingBuffer
	accessLog   accesslog.Writer
	closeAccess func() error
}

// New validates originURL (scheme must be http or https, host required),
// applies defaults to an omitted Configuration, eagerly builds the pool,
// and returns a ready-to-use Client.
func New(originURL string, logger *slog.Logger, cfg *Configuration) (*Client, error) {
	u, err := url.Parse(originURL)
	if err != nil {
		return nil, newErr(KindInvalidURL, "new", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, newErr(KindInvalidScheme, "new", fmt.Errorf("scheme %q is not http or https", u.Scheme))
	}
	if u.Hostname() == "" {
		return nil, newErr(KindHostRequired, "new", fmt.Errorf("url %q has no host", originURL))
	}

	secure := u.Scheme == "https"
	host := u.Hostname()
	port := defaultPort(secure)
	if p := u.Port(); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil {
			return nil, newErr(KindInvalidURL, "new", fmt.Errorf("invalid port %q: %w", p, err))
		}
		port = parsed
	}

	var resolved Configuration
	if cfg != nil {
		resolved = *cfg
	}
	applyDefaults(&resolved)
	if err := validate(&resolved); err != nil {
		return nil, newErr(KindPoolInit, "new", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	diag := diagnostics.New(resolved.DiagnosticsBufferSize)

	c := &Client{
		host:        host,
		port:        port,
		secure:      secure,
		cfg:         resolved,
		logger:      logger,
		diagnostics: diag,
	}

	pool, err := NewPool(resolved.PoolSize.Low, resolved.PoolSize.High, c.newConnection, diag)
	if err != nil {
		return nil, err
	}
	c.pool = pool

	if resolved.MaxRequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(resolved.MaxRequestsPerSecond), resolved.RequestBurst)
	}

	writer, closer, err := resolved.accessLogWriter()
	if err != nil {
		pool.Close()
		return nil, newErr(KindPoolInit, "new", err)
	}
	c.accessLog = writer
	c.closeAccess = closer

	return c, nil
}

func defaultPort(secure bool) int {
	if secure {
		return 443
	}
	return 80
}

// Close releases idle pooled connections and any open access-log file.
// It does not wait for in-flight Send calls.
func (c *Client) Close() error {
	c.pool.Close()
	if c.closeAccess != nil {
		return c.closeAccess()
	}
	return nil
}

// PoolStats returns the current pool occupancy, for monitoring.
func (c *Client) PoolStats() Stats {
	return c.pool.Snapshot()
}

// RecentErrors returns the bounded set of recent transport/protocol
// failures observed by the pool. Purely observational: it never affects
// what Send returns.
func (c *Client) RecentErrors() []diagnostics.Entry {
	return c.diagnostics.Entries()
}

// BaseURL builds the origin's URL with path appended, for callers that
// need to address the Client's origin directly (e.g. a protocol-upgrade
// helper constructing its own request).
func (c *Client) BaseURL(scheme, path string) *url.URL {
	host := c.host
	if (c.secure && c.port != 443) || (!c.secure && c.port != 80) {
		host = fmt.Sprintf("%s:%d", c.host, c.port)
	}
	return &url.URL{Scheme: scheme, Host: host, Path: path}
}

// Secure reports whether the origin was constructed with an https URL.
func (c *Client) Secure() bool {
	return c.secure
}

// Hijack borrows a Connection and hands back its raw DuplexStream along
// with a release func, for callers that need to take over the wire
// themselves instead of going through Send's HTTP serialize/parse step
// (e.g. a WebSocket client library that performs its own handshake). The
// Connection is always disposed on release, never returned to the pool,
// since its protocol state no longer matches what the pool's Serializer
// and Parser expect.
func (c *Client) Hijack(deadline time.Time) (DuplexStream, func(), error) {
	conn, err := c.pool.Borrow(deadline)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		c.pool.Dispose(conn, "hijacked")
	}
	return conn.Stream, release, nil
}

// newConnection is the Pool's Factory: dial (TCP or TLS per the origin's
// scheme), open, and bind a serializer/parser pair.
func (c *Client) newConnection() (*Connection, error) {
	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	resolutionDeadline := time.Now().Add(c.cfg.AddressResolutionTimeout.Duration)

	var stream DuplexStream
	if c.secure {
		serverName := c.cfg.TLSServerName
		if serverName == "" {
			serverName = c.host
		}
		stream = newTLSStream(addr, serverName, c.cfg.TLSSkipVerify, resolutionDeadline)
	} else {
		stream = newTCPStream(addr, resolutionDeadline)
	}

	if err := stream.Open(time.Now().Add(c.cfg.ConnectionTimeout.Duration)); err != nil {
		return nil, err
	}

	conn := &Connection{
		Stream:     stream,
		Serializer: newHTTPSerializer(stream, c.cfg.SerializerBufferSize),
		Parser:     newHTTPParser(stream, c.cfg.ParserBufferSize),
	}
	return conn, nil
}
