package transport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/aservis/maestro/pkg/protocol"
)

type bufferCloser struct {
	bytes.Buffer
}

func (b *bufferCloser) Close() error { return nil }

func TestLengthPrefixCodecRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	codec := LengthPrefixCodec{}

	sent := map[string]any{"jsonrpc": "2.0", "id": "1", "method": "ping"}
	if err := codec.WriteObject(&buf, sent); err != nil {
		t.Fatalf("WriteObject failed: %v", err)
	}

	// 4-byte header then payload
	raw := buf.Bytes()
	if len(raw) < 5 {
		t.Fatalf("frame too short: %d bytes", len(raw))
	}
	if raw[4] != '{' {
		t.Errorf("payload should start with '{', got %q", raw[4])
	}

	var got map[string]any
	if err := codec.ReadObject(bufio.NewReader(&buf), &got); err != nil {
		t.Fatalf("ReadObject failed: %v", err)
	}
	if got["method"] != "ping" || got["id"] != "1" {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestLengthPrefixCodecFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})

	codec := LengthPrefixCodec{MaxFrameSize: 1024}
	var v any
	err := codec.ReadObject(bufio.NewReader(&buf), &v)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestHeaderFramerRoundTrip(t *testing.T) {
	rwc := &bufferCloser{}
	f := newHeaderFramer(rwc, DefaultMaxFrameSize)

	payload := []byte(`{"jsonrpc":"2.0","method":"initialized"}`)
	if err := f.WriteFrame(payload); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	if !bytes.Contains(rwc.Bytes(), []byte("Content-Length: 40\r\n\r\n")) {
		t.Errorf("missing Content-Length header in %q", rwc.String())
	}

	got, err := f.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload mismatch: got %s", got)
	}
}

func TestHeaderFramerMissingLength(t *testing.T) {
	rwc := &bufferCloser{}
	rwc.WriteString("X-Other: 1\r\n\r\n")

	f := newHeaderFramer(rwc, DefaultMaxFrameSize)
	if _, err := f.ReadFrame(); err == nil {
		t.Error("expected error for missing Content-Length")
	}
}

func TestServerStreamAnswersBadFramesInPlace(t *testing.T) {
	serverEnd, clientEnd := net.Pipe()
	defer clientEnd.Close()

	stream := NewTCPStream(serverEnd, 0)
	defer stream.Close()

	type result struct {
		msg map[string]any
		err error
	}
	done := make(chan result, 1)
	go func() {
		var v map[string]any
		err := stream.ReadObject(&v)
		done <- result{v, err}
	}()

	client := newPrefixFramer(clientEnd, DefaultMaxFrameSize)

	// Garbage first: the stream must reply -32700 and keep reading.
	if err := client.WriteFrame([]byte(`{"jsonrpc":`)); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	clientEnd.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := client.ReadFrame()
	if err != nil {
		t.Fatalf("read error reply: %v", err)
	}
	var resp protocol.Response
	if err := json.Unmarshal(reply, &resp); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != protocol.CodeParseError {
		t.Errorf("expected -32700 reply, got %+v", resp)
	}
	if resp.ID != nil {
		t.Errorf("parse error id should be null, got %v", resp.ID)
	}

	// A valid request afterwards still comes through.
	if err := client.WriteFrame([]byte(`{"jsonrpc":"2.0","id":"7","method":"ping"}`)); err != nil {
		t.Fatalf("write request: %v", err)
	}

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("ReadObject failed: %v", r.err)
		}
		if r.msg["method"] != "ping" {
			t.Errorf("expected ping request, got %+v", r.msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadObject never returned the valid frame")
	}
}

func TestServerStreamRejectsBadIDType(t *testing.T) {
	serverEnd, clientEnd := net.Pipe()
	defer clientEnd.Close()

	stream := NewTCPStream(serverEnd, 0)
	defer stream.Close()

	go func() {
		var v map[string]any
		stream.ReadObject(&v)
	}()

	client := newPrefixFramer(clientEnd, DefaultMaxFrameSize)
	if err := client.WriteFrame([]byte(`{"jsonrpc":"2.0","id":true,"method":"x"}`)); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	clientEnd.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := client.ReadFrame()
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	var resp protocol.Response
	if err := json.Unmarshal(reply, &resp); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != protocol.CodeInvalidRequest {
		t.Errorf("expected -32600 reply, got %+v", resp)
	}
}
