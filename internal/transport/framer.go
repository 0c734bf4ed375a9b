package transport

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// framer reads and writes raw frames; stream.go layers message
// classification on top.
type framer interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	io.Closer
}

// headerFramer speaks the LSP-style "Content-Length: <n>\r\n\r\n<body>"
// framing used on stdio.
type headerFramer struct {
	r   *bufio.Reader
	w   io.Writer
	c   io.Closer
	max int
}

func newHeaderFramer(rwc io.ReadWriteCloser, max int) *headerFramer {
	return &headerFramer{r: bufio.NewReader(rwc), w: rwc, c: rwc, max: max}
}

func (f *headerFramer) ReadFrame() ([]byte, error) {
	length := -1
	for {
		line, err := f.r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		name, value, found := strings.Cut(line, ":")
		if !found {
			return nil, fmt.Errorf("transport: malformed header %q", line)
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("transport: bad Content-Length: %w", err)
			}
			length = n
		}
	}

	if length < 0 {
		return nil, fmt.Errorf("transport: missing Content-Length header")
	}
	if length > f.max {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(f.r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (f *headerFramer) WriteFrame(data []byte) error {
	if _, err := fmt.Fprintf(f.w, "Content-Length: %d\r\n\r\n", len(data)); err != nil {
		return err
	}
	_, err := f.w.Write(data)
	return err
}

func (f *headerFramer) Close() error { return f.c.Close() }

// prefixFramer speaks the TCP framing: 4-byte big-endian length, then the
// payload. A payload whose first byte is not '{' is an alternate-encoding
// frame; it is handed to the classifier unchanged, which answers with a
// parse error since JSON is the canonical encoding.
type prefixFramer struct {
	r   *bufio.Reader
	w   io.Writer
	c   io.Closer
	max int
}

func newPrefixFramer(rwc io.ReadWriteCloser, max int) *prefixFramer {
	return &prefixFramer{r: bufio.NewReader(rwc), w: rwc, c: rwc, max: max}
}

func (f *prefixFramer) ReadFrame() ([]byte, error) {
	return readPrefixedFrame(f.r, f.max)
}

func (f *prefixFramer) WriteFrame(data []byte) error {
	return writePrefixedFrame(f.w, data)
}

func (f *prefixFramer) Close() error { return f.c.Close() }
