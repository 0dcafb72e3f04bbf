package httpengine

import (
	"io"
	"net/http"
)

// Response is the parsed response returned by Client.Send. The core
// treats it as opaque; it is a plain *http.Response so callers can use
// the standard library's body-reading helpers.
type Response = http.Response

// UpgradeFunc is invoked after a successful response whose Request set
// UpgradeConnection, handing the now-non-HTTP stream to the caller. Once
// it returns, the Client closes the stream gracefully and disposes the
// Connection; the stream is never returned to the pool.
type UpgradeFunc func(resp *Response, stream DuplexStream) error

// Request wraps an *http.Request with the two fields the send loop
// mutates before serialization (Host and the User-Agent header) and an
// optional protocol-upgrade callback.
type Request struct {
	*http.Request

	// UpgradeConnection, when set, is called after a response is parsed
	// instead of returning the Connection to the pool.
	UpgradeConnection UpgradeFunc
}

// NewRequest builds a Request the way http.NewRequest does, for callers
// that don't already have an *http.Request in hand.
func NewRequest(method, url string, body io.Reader) (*Request, error) {
	r, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	return &Request{Request: r}, nil
}

func (r *Request) setHost(hostPort string) {
	r.Host = hostPort
}

func (r *Request) setUserAgent(ua string) {
	r.Header.Set("User-Agent", ua)
}
