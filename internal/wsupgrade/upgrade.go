// Package wsupgrade demonstrates handing a httpengine Connection's stream
// off to gorilla/websocket once a protocol upgrade is underway.
//
// gorilla/websocket's only exported client constructor, NewClient, writes
// the handshake request and reads the 101 response itself; it has no
// entry point for wrapping a connection whose handshake has already
// happened on the wire. So Dial does not go through Client.Send's own
// Serializer/Parser at all for the handshake exchange: it hijacks a raw
// stream from the pool with Client.Hijack and gives gorilla/websocket the
// whole handshake, the same way it would a net.Dial'd connection. The
// pool still does its job here (Borrow, and Dispose once the stream
// stops being plain HTTP); only the wire exchange is gorilla's.
package wsupgrade

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tternquist/httpengine/internal/httpengine"
)

const (
	defaultReadBufferSize  = 4096
	defaultWriteBufferSize = 4096
)

// Dial hijacks a Connection from client's pool, performs a client-side
// WebSocket handshake over its raw stream via gorilla/websocket, and
// returns the resulting *websocket.Conn. The underlying Connection is
// always disposed, win or lose: once gorilla/websocket has touched the
// stream the pool's HTTP Serializer and Parser no longer apply to it.
func Dial(client *httpengine.Client, path string, header http.Header, deadline time.Time) (*websocket.Conn, *http.Response, error) {
	stream, release, err := client.Hijack(deadline)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	scheme := "ws"
	if client.Secure() {
		scheme = "wss"
	}
	u := client.BaseURL(scheme, path)
	if err := stream.SetDeadline(deadline); err != nil {
		return nil, nil, err
	}
	conn, resp, err := websocket.NewClient(stream, u, header, defaultReadBufferSize, defaultWriteBufferSize)
	if err != nil {
		return nil, resp, err
	}
	// Clear the deadline gorilla/websocket's handshake needed; ongoing
	// framing deadlines are the caller's responsibility from here on.
	_ = stream.SetDeadline(time.Time{})
	return conn, resp, nil
}
