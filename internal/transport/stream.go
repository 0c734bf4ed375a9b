package transport

import (
	"encoding/json"
	"io"
	"net"
	"sync"

	"github.com/aservis/maestro/internal/logger"
	"github.com/aservis/maestro/pkg/protocol"
)

var log = logger.ForComponent("transport")

// serverStream is the inbound-facing jsonrpc2.ObjectStream. Unlike a plain
// codec stream it never tears the connection down over a bad frame: an
// unparseable or unclassifiable frame is answered in place with a -32700
// or -32600 response and reading continues.
type serverStream struct {
	f       framer
	writeMu sync.Mutex
	name    string
}

func newServerStream(f framer, name string) *serverStream {
	return &serverStream{f: f, name: name}
}

func (s *serverStream) ReadObject(v interface{}) error {
	for {
		raw, err := s.f.ReadFrame()
		if err != nil {
			return err
		}

		c := protocol.Classify(raw)
		switch c.Kind {
		case protocol.KindRequest, protocol.KindNotification, protocol.KindResponse:
			return json.Unmarshal(raw, v)
		case protocol.KindMalformedRequest:
			log.Warn("rejecting malformed request", "transport", s.name)
			s.reject(protocol.NewErrorResponse(nil, protocol.CodeInvalidRequest, "Invalid Request"))
		default:
			log.Warn("rejecting unparseable frame", "transport", s.name, "bytes", len(raw))
			s.reject(protocol.NewErrorResponse(c.ID, protocol.CodeParseError, "Parse error"))
		}
	}
}

func (s *serverStream) WriteObject(obj interface{}) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.f.WriteFrame(data)
}

func (s *serverStream) reject(resp *protocol.Response) {
	if err := s.WriteObject(resp); err != nil {
		log.Warn("failed to send error response", "transport", s.name, "error", err)
	}
}

func (s *serverStream) Close() error { return s.f.Close() }

// NewStdioStream frames messages over an stdin/stdout pair with
// Content-Length headers.
func NewStdioStream(rwc io.ReadWriteCloser, maxFrame int) *serverStream {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	return newServerStream(newHeaderFramer(rwc, maxFrame), "stdio")
}

// NewTCPStream frames messages over a TCP connection with 4-byte
// big-endian length prefixes.
func NewTCPStream(conn net.Conn, maxFrame int) *serverStream {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	return newServerStream(newPrefixFramer(conn, maxFrame), "tcp")
}

// stdioPipe glues stdin and stdout into the single ReadWriteCloser the
// framing layer wants.
type stdioPipe struct {
	in  io.ReadCloser
	out io.WriteCloser
}

func (p stdioPipe) Read(b []byte) (int, error)  { return p.in.Read(b) }
func (p stdioPipe) Write(b []byte) (int, error) { return p.out.Write(b) }

func (p stdioPipe) Close() error {
	p.in.Close()
	return p.out.Close()
}

func NewStdioPipe(in io.ReadCloser, out io.WriteCloser) io.ReadWriteCloser {
	return stdioPipe{in: in, out: out}
}
