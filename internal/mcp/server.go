// Package mcp implements the daemon's protocol face: JSON-RPC 2.0
// dispatch over any object stream, the MCP built-in method set, and
// notification fan-out for logs and download progress.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"golang.org/x/sync/semaphore"

	"github.com/aservis/maestro/internal/config"
	"github.com/aservis/maestro/internal/jobs"
	"github.com/aservis/maestro/internal/logger"
	"github.com/aservis/maestro/internal/prompts"
	"github.com/aservis/maestro/internal/resources"
	"github.com/aservis/maestro/internal/tools"
	"github.com/aservis/maestro/pkg/protocol"
)

var log = logger.ForComponent("mcp")

// ServerName and ServerVersion identify this implementation in the
// initialize handshake and the --version flag.
const (
	ServerName    = "maestro"
	ServerVersion = "0.1.0"
)

// Server answers MCP traffic for any number of concurrent connections.
// In-flight request handlers are capped by a shared semaphore; once the
// cap is reached a connection's read loop blocks until a slot frees,
// which is the back-pressure a flooding client observes.
type Server struct {
	cfg       config.ServerConfig
	tools     *tools.Registry
	resources *resources.Registry
	prompts   *prompts.Registry

	sem  *semaphore.Weighted
	sink *LogSink

	onShutdown   func()
	shutdownOnce sync.Once

	mu     sync.Mutex
	conns  map[*jsonrpc2.Conn]*connState
	closed bool

	stats serverStats
}

type connState struct {
	mu          sync.Mutex
	initialized bool
	clientInfo  protocol.ClientInfo
}

func (cs *connState) client() protocol.ClientInfo {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.clientInfo
}

type Option func(*Server)

// WithShutdownHook installs the callback run after a shutdown request
// has been answered. The hook runs at most once, on its own goroutine.
func WithShutdownHook(fn func()) Option {
	return func(s *Server) { s.onShutdown = fn }
}

func NewServer(cfg config.ServerConfig, reg *tools.Registry, res *resources.Registry, pr *prompts.Registry, opts ...Option) *Server {
	maxInFlight := cfg.MaxConcurrentRequests
	if maxInFlight <= 0 {
		maxInFlight = 1
	}

	s := &Server{
		cfg:       cfg,
		tools:     reg,
		resources: res,
		prompts:   pr,
		sem:       semaphore.NewWeighted(int64(maxInFlight)),
		sink:      newLogSink(),
		conns:     make(map[*jsonrpc2.Conn]*connState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sink is the slog handler that mirrors records to subscribed
// connections. The daemon installs it via logger.SetMirror.
func (s *Server) Sink() *LogSink { return s.sink }

// ServeStream runs the protocol over one established stream and returns
// the live connection. The stream is closed when the peer disconnects
// or the server shuts down.
func (s *Server) ServeStream(ctx context.Context, stream jsonrpc2.ObjectStream) *jsonrpc2.Conn {
	state := &connState{}
	conn := jsonrpc2.NewConn(ctx, stream, &connHandler{server: s, state: state}, jsonrpc2.SetLogger(rpcLog{}))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return conn
	}
	s.conns[conn] = state
	active := len(s.conns)
	s.mu.Unlock()

	log.Debug("connection opened", "active", active)

	go func() {
		<-conn.DisconnectNotify()
		s.sink.Unsubscribe(conn)

		s.mu.Lock()
		delete(s.conns, conn)
		active := len(s.conns)
		s.mu.Unlock()

		if client := state.client(); client.Name != "" {
			log.Info("client disconnected", "client", client.Name, "active", active)
		} else {
			log.Debug("connection closed", "active", active)
		}
	}()

	return conn
}

// ServeListener accepts connections until the listener closes. wrap
// turns each net.Conn into the framed stream for that transport.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener, wrap func(net.Conn) jsonrpc2.ObjectStream) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.ServeStream(ctx, wrap(conn))
	}
}

// Close drops every live connection and refuses new streams.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*jsonrpc2.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) requestShutdown() {
	s.shutdownOnce.Do(func() {
		log.Info("shutdown requested")
		if s.onShutdown != nil {
			go s.onShutdown()
		}
	})
}

// progressNotifier binds job progress to one connection. Sends use the
// background context so a long download keeps reporting after its
// submitting request has been answered.
func (s *Server) progressNotifier(conn *jsonrpc2.Conn) jobs.ProgressNotifier {
	return func(sessionID uint32, bytes, total int64) {
		params := protocol.ProgressParams{SessionID: sessionID, Bytes: bytes, Total: total}
		if err := conn.Notify(context.Background(), "progress", params); err != nil && !errors.Is(err, jsonrpc2.ErrClosed) {
			log.Debug("progress notify failed", "job", sessionID, "error", err)
		}
	}
}

type serverStats struct {
	requestsReceived      int64
	requestsProcessed     int64
	requestsFailed        int64
	notificationsReceived int64
	totalResponseNanos    int64
}

// Stats is the traffic snapshot served by server_stats and
// maestro://stats.
type Stats struct {
	RequestsReceived      int64   `json:"requestsReceived"`
	RequestsProcessed     int64   `json:"requestsProcessed"`
	RequestsFailed        int64   `json:"requestsFailed"`
	NotificationsReceived int64   `json:"notificationsReceived"`
	AvgResponseTimeMs     float64 `json:"avgResponseTime"`
	ActiveConnections     int     `json:"activeConnections"`
	Tools                 int     `json:"tools"`
}

func (s *Server) Stats() Stats {
	processed := atomic.LoadInt64(&s.stats.requestsProcessed)
	failed := atomic.LoadInt64(&s.stats.requestsFailed)

	var avg float64
	if answered := processed + failed; answered > 0 {
		avg = float64(atomic.LoadInt64(&s.stats.totalResponseNanos)) / float64(answered) / float64(time.Millisecond)
	}

	return Stats{
		RequestsReceived:      atomic.LoadInt64(&s.stats.requestsReceived),
		RequestsProcessed:     processed,
		RequestsFailed:        failed,
		NotificationsReceived: atomic.LoadInt64(&s.stats.notificationsReceived),
		AvgResponseTimeMs:     avg,
		ActiveConnections:     s.ActiveConnections(),
		Tools:                 s.tools.Len(),
	}
}

// rpcLog routes jsonrpc2's own complaints (unanswerable frames, write
// failures) into the process log.
type rpcLog struct{}

func (rpcLog) Printf(format string, v ...interface{}) {
	log.Debug(fmt.Sprintf(format, v...))
}
