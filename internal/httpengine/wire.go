package httpengine

import (
	"bufio"
	"net/http"
	"time"
)

// httpSerializer writes a Request's wire form with (*http.Request).Write,
// the standard library's own HTTP/1.1 request serializer, through a
// bufio.Writer sized by SerializerBufferSize. Message serialization is
// treated as an external collaborator here, not something to hand-roll.
type httpSerializer struct {
	stream DuplexStream
	writer *bufio.Writer
}

func newHTTPSerializer(stream DuplexStream, bufferSize int) Serializer {
	return &httpSerializer{stream: stream, writer: bufio.NewWriterSize(stream, bufferSize)}
}

func (s *httpSerializer) Serialize(req *Request, deadline time.Time) error {
	if err := s.stream.SetWriteDeadline(deadline); err != nil {
		return newErr(KindTransport, "serialize", err)
	}
	if err := req.Request.Write(s.writer); err != nil {
		return newErr(KindTransport, "serialize", err)
	}
	if err := s.writer.Flush(); err != nil {
		return newErr(KindTransport, "serialize", err)
	}
	return nil
}

// httpParser reads one response with http.ReadResponse, the standard
// library's matching HTTP/1.1 response parser.
type httpParser struct {
	stream DuplexStream
	reader *bufio.Reader
	req    *Request
}

func newHTTPParser(stream DuplexStream, bufferSize int) Parser {
	return &httpParser{stream: stream, reader: bufio.NewReaderSize(stream, bufferSize)}
}

// bindRequest associates the request whose response is about to be
// parsed; http.ReadResponse needs it to know whether a body is expected
// (e.g. HEAD responses carry no body regardless of Content-Length).
func (p *httpParser) bindRequest(req *Request) {
	p.req = req
}

func (p *httpParser) Parse(deadline time.Time) (*Response, error) {
	if err := p.stream.SetReadDeadline(deadline); err != nil {
		return nil, newErr(KindTransport, "parse", err)
	}
	var forRequest *http.Request
	if p.req != nil {
		forRequest = p.req.Request
	}
	resp, err := http.ReadResponse(p.reader, forRequest)
	if err != nil {
		return nil, newErr(KindProtocol, "parse", err)
	}
	return resp, nil
}
