// Package rpc wraps jsonrpc2 connections with the request discipline the
// orchestrator expects: UUID request ids, bounded timeouts, idempotent
// retries and per-client stats.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/aservis/maestro/internal/logger"
	"github.com/aservis/maestro/internal/transport"
)

var log = logger.ForComponent("rpc")

var (
	ErrAlreadyClosed = errors.New("rpc client already closed")
	ErrTimeout       = errors.New("request timed out")
)

type State string

const (
	StateReady  State = "ready"
	StateClosed State = "closed"
)

type ClientConfig struct {
	RequestTimeout time.Duration
	DialTimeout    time.Duration
	RetryBase      time.Duration
	RetryAttempts  int
	MaxFrameSize   int
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		RequestTimeout: 30 * time.Second,
		DialTimeout:    5 * time.Second,
		RetryBase:      100 * time.Millisecond,
		RetryAttempts:  3,
		MaxFrameSize:   transport.DefaultMaxFrameSize,
	}
}

// NotificationHandler receives server-initiated notifications (progress,
// log messages). It runs on the connection's read goroutine and must not
// block.
type NotificationHandler func(method string, params json.RawMessage)

type Client struct {
	conn         *jsonrpc2.Conn
	config       ClientConfig
	addr         string
	state        atomic.Value
	requestCount int64
	errorCount   int64
	lastRequest  time.Time
	mu           sync.RWMutex
	closedCh     chan struct{}
	onNotify     NotificationHandler
}

// Dial connects to a backend service speaking length-prefixed JSON-RPC
// over TCP.
func Dial(ctx context.Context, addr string, config ClientConfig, onNotify NotificationHandler) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, config.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	stream := jsonrpc2.NewBufferedStream(conn, transport.LengthPrefixCodec{MaxFrameSize: config.MaxFrameSize})
	return newClient(ctx, stream, addr, config, onNotify), nil
}

// NewStdioClient speaks Content-Length framed JSON-RPC over an arbitrary
// pipe pair, matching the server's stdio transport.
func NewStdioClient(ctx context.Context, rwc io.ReadWriteCloser, config ClientConfig, onNotify NotificationHandler) *Client {
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	return newClient(ctx, stream, "stdio", config, onNotify)
}

func newClient(ctx context.Context, stream jsonrpc2.ObjectStream, addr string, config ClientConfig, onNotify NotificationHandler) *Client {
	c := &Client{
		config:   config,
		addr:     addr,
		closedCh: make(chan struct{}),
		onNotify: onNotify,
	}
	c.state.Store(StateReady)
	c.conn = jsonrpc2.NewConn(ctx, stream, &clientHandler{client: c})

	go func() {
		<-c.conn.DisconnectNotify()
		c.state.Store(StateClosed)
	}()

	return c
}

// clientHandler fields inbound traffic from the peer. Requests are not
// part of the client contract and are refused; notifications are handed
// to the registered handler.
type clientHandler struct {
	client *Client
}

func (h *clientHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req.Notif {
		if h.client.onNotify != nil {
			var params json.RawMessage
			if req.Params != nil {
				params = *req.Params
			}
			h.client.onNotify(req.Method, params)
		}
		return
	}

	if err := conn.ReplyWithError(ctx, req.ID, &jsonrpc2.Error{
		Code:    jsonrpc2.CodeMethodNotFound,
		Message: fmt.Sprintf("Method not found: %s", req.Method),
	}); err != nil {
		log.Debug("failed to refuse peer request", "addr", h.client.addr, "error", err)
	}
}

// Call issues a request with a fresh UUID id and waits for the matching
// response, the configured timeout, or ctx cancellation.
func (c *Client) Call(ctx context.Context, method string, params, result interface{}) error {
	if c.IsClosed() {
		return ErrAlreadyClosed
	}
	c.recordRequest()

	timeoutCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	id := jsonrpc2.ID{Str: uuid.NewString(), IsString: true}
	err := c.conn.Call(timeoutCtx, method, params, result, jsonrpc2.PickID(id))
	if err != nil {
		c.recordError()
		return c.mapError(err)
	}
	return nil
}

// CallIdempotent retries reads with capped exponential backoff. Only
// safe for operations with no side effects: tools/list, resources/read,
// ping. tools/call must go through Call.
func (c *Client) CallIdempotent(ctx context.Context, method string, params, result interface{}) error {
	var lastErr error
	for attempt := 0; attempt < c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.config.RetryBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			log.Debug("retrying request", "addr", c.addr, "method", method, "attempt", attempt+1)
		}

		lastErr = c.Call(ctx, method, params, result)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// retryable reports whether an error came from the transport rather than
// the peer. A JSON-RPC error response is a definitive answer and is never
// retried; a dead connection cannot be retried on the same client.
func retryable(err error) bool {
	var respErr *jsonrpc2.Error
	if errors.As(err, &respErr) {
		return false
	}
	if errors.Is(err, ErrAlreadyClosed) || errors.Is(err, jsonrpc2.ErrClosed) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

func (c *Client) Notify(ctx context.Context, method string, params interface{}) error {
	if c.IsClosed() {
		return ErrAlreadyClosed
	}
	return c.conn.Notify(ctx, method, params)
}

func (c *Client) mapError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w after %s", ErrTimeout, c.config.RequestTimeout)
	case errors.Is(err, jsonrpc2.ErrClosed):
		return fmt.Errorf("%w: %v", ErrAlreadyClosed, err)
	default:
		return err
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	select {
	case <-c.closedCh:
		c.mu.Unlock()
		return ErrAlreadyClosed
	default:
		close(c.closedCh)
	}
	c.mu.Unlock()

	c.state.Store(StateClosed)
	return c.conn.Close()
}

func (c *Client) IsClosed() bool {
	return c.state.Load().(State) == StateClosed
}

// Done is closed when the underlying connection disconnects; pending
// calls fail at that point.
func (c *Client) Done() <-chan struct{} {
	return c.conn.DisconnectNotify()
}

func (c *Client) Addr() string { return c.addr }

type ClientStats struct {
	Addr         string    `json:"addr"`
	State        State     `json:"state"`
	RequestCount int64     `json:"request_count"`
	ErrorCount   int64     `json:"error_count"`
	LastRequest  time.Time `json:"last_request,omitempty"`
}

func (c *Client) Stats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ClientStats{
		Addr:         c.addr,
		State:        c.state.Load().(State),
		RequestCount: atomic.LoadInt64(&c.requestCount),
		ErrorCount:   atomic.LoadInt64(&c.errorCount),
		LastRequest:  c.lastRequest,
	}
}

func (c *Client) recordRequest() {
	atomic.AddInt64(&c.requestCount, 1)
	c.mu.Lock()
	c.lastRequest = time.Now()
	c.mu.Unlock()
}

func (c *Client) recordError() {
	atomic.AddInt64(&c.errorCount, 1)
}
