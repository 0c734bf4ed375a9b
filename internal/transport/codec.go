// Package transport frames JSON-RPC messages over stdio, TCP and
// WebSocket connections. Every stream implements jsonrpc2.ObjectStream so
// all transports plug into the same connection engine.
package transport

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const DefaultMaxFrameSize = 16 * 1024 * 1024

var (
	ErrClosed        = errors.New("transport: closed")
	ErrFrameTooLarge = errors.New("transport: frame too large")
)

// LengthPrefixCodec is a jsonrpc2.ObjectCodec carrying one JSON message
// per frame behind a 4-byte big-endian length prefix. It is the codec
// spoken by the backend services; clients build streams with
// jsonrpc2.NewBufferedStream(conn, LengthPrefixCodec{}).
type LengthPrefixCodec struct {
	// MaxFrameSize caps inbound frames; 0 means DefaultMaxFrameSize.
	MaxFrameSize int
}

func (c LengthPrefixCodec) WriteObject(stream io.Writer, obj interface{}) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := stream.Write(header[:]); err != nil {
		return err
	}
	_, err = stream.Write(data)
	return err
}

func (c LengthPrefixCodec) ReadObject(stream *bufio.Reader, v interface{}) error {
	data, err := readPrefixedFrame(stream, c.max())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (c LengthPrefixCodec) max() int {
	if c.MaxFrameSize > 0 {
		return c.MaxFrameSize
	}
	return DefaultMaxFrameSize
}

func readPrefixedFrame(r *bufio.Reader, max int) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(header[:])
	if int(n) > max {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func writePrefixedFrame(w io.Writer, data []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}
