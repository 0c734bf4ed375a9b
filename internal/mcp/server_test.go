package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/aservis/maestro/internal/config"
	"github.com/aservis/maestro/internal/logger"
	"github.com/aservis/maestro/internal/prompts"
	"github.com/aservis/maestro/internal/resources"
	"github.com/aservis/maestro/internal/tools"
	"github.com/aservis/maestro/internal/transport"
	"github.com/aservis/maestro/pkg/protocol"
)

type fakeTool struct {
	name        string
	schema      string
	title       string
	annotations map[string]bool
	fn          func(ctx context.Context, input json.RawMessage) (interface{}, error)
}

func (t *fakeTool) Name() string        { return t.name }
func (t *fakeTool) Description() string { return "test tool " + t.name }
func (t *fakeTool) Schema() json.RawMessage {
	if t.schema == "" {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return json.RawMessage(t.schema)
}
func (t *fakeTool) Title() string                { return t.title }
func (t *fakeTool) Annotations() map[string]bool { return t.annotations }
func (t *fakeTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	return t.fn(ctx, input)
}

func echoTool() *fakeTool {
	return &fakeTool{
		name:   "echo",
		schema: `{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`,
		title:  "Echo",
		annotations: map[string]bool{
			"readOnlyHint": true,
		},
		fn: func(_ context.Context, input json.RawMessage) (interface{}, error) {
			var args struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return nil, err
			}
			return args.Text, nil
		},
	}
}

// recorder collects server-initiated notifications on the client side.
type recorder struct {
	mu     sync.Mutex
	seen   map[string][]json.RawMessage
	signal chan string
}

func newRecorder() *recorder {
	return &recorder{seen: make(map[string][]json.RawMessage), signal: make(chan string, 64)}
}

func (r *recorder) Handle(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if !req.Notif {
		return
	}
	r.mu.Lock()
	var raw json.RawMessage
	if req.Params != nil {
		raw = append(raw, (*req.Params)...)
	}
	r.seen[req.Method] = append(r.seen[req.Method], raw)
	r.mu.Unlock()
	select {
	case r.signal <- req.Method:
	default:
	}
}

func (r *recorder) count(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen[method])
}

func (r *recorder) last(method string) json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.seen[method]
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func (r *recorder) waitFor(t *testing.T, method string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if r.count(method) > 0 {
			return
		}
		select {
		case <-r.signal:
		case <-deadline:
			t.Fatalf("timed out waiting for %s notification", method)
		}
	}
}

func newTestServer(t *testing.T, cfg config.ServerConfig, reg *tools.Registry, opts ...Option) (*jsonrpc2.Conn, *Server, *recorder) {
	t.Helper()

	res := resources.NewRegistry()
	res.Register(resources.Resource{
		URI:      "maestro://stats",
		Name:     "stats",
		MimeType: "application/json",
		Provider: func(context.Context) (string, error) { return `{"ok":true}`, nil },
	})
	pr := prompts.NewRegistry()
	pr.Register(prompts.CommandHelp(
		[]string{"play_music"},
		map[string][]string{"play_music": {"play <genre:word> music"}},
	))

	srv := NewServer(cfg, reg, res, pr, opts...)

	serverSide, clientSide := net.Pipe()
	srv.ServeStream(context.Background(), transport.NewTCPStream(serverSide, 0))

	rec := newRecorder()
	stream := jsonrpc2.NewBufferedStream(clientSide, transport.LengthPrefixCodec{})
	client := jsonrpc2.NewConn(context.Background(), stream, rec)

	t.Cleanup(func() {
		client.Close()
		srv.Close()
	})
	return client, srv, rec
}

func call(t *testing.T, client *jsonrpc2.Conn, method string, params, result interface{}) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Call(ctx, method, params, result)
}

func rpcErrorCode(t *testing.T, err error) int64 {
	t.Helper()
	var rpcErr *jsonrpc2.Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *jsonrpc2.Error, got %T: %v", err, err)
	}
	return rpcErr.Code
}

func TestInitializeHandshake(t *testing.T) {
	reg := tools.NewRegistry()
	client, _, _ := newTestServer(t, config.Load().Server, reg)

	var result protocol.InitializeResult
	err := call(t, client, "initialize", protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		ClientInfo:      protocol.ClientInfo{Name: "test-client", Version: "1.0"},
	}, &result)
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if result.ProtocolVersion != protocol.ProtocolVersion {
		t.Errorf("protocol version: got %s", result.ProtocolVersion)
	}
	if result.ServerInfo.Name != "maestro" {
		t.Errorf("server name: got %s", result.ServerInfo.Name)
	}

	if err := client.Notify(context.Background(), "notifications/initialized", nil); err != nil {
		t.Fatalf("initialized notification failed: %v", err)
	}

	var pong map[string]interface{}
	if err := call(t, client, "ping", nil, &pong); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestInitializeUnknownVersionAnsweredWithOurs(t *testing.T) {
	client, _, _ := newTestServer(t, config.Load().Server, tools.NewRegistry())

	var result protocol.InitializeResult
	err := call(t, client, "initialize", protocol.InitializeParams{ProtocolVersion: "99.0"}, &result)
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if result.ProtocolVersion != protocol.ProtocolVersion {
		t.Errorf("expected %s, got %s", protocol.ProtocolVersion, result.ProtocolVersion)
	}
}

func TestListToolsIncludesAnnotations(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(echoTool())
	client, _, _ := newTestServer(t, config.Load().Server, reg)

	var result protocol.ListToolsResult
	if err := call(t, client, "tools/list", nil, &result); err != nil {
		t.Fatalf("tools/list failed: %v", err)
	}
	if len(result.Tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(result.Tools))
	}
	desc := result.Tools[0]
	if desc.Name != "echo" || desc.Title != "Echo" {
		t.Errorf("unexpected descriptor: %+v", desc)
	}
	if !desc.Annotations["readOnlyHint"] {
		t.Errorf("expected readOnlyHint annotation: %v", desc.Annotations)
	}
	if len(desc.InputSchema) == 0 {
		t.Error("expected input schema")
	}
}

func TestCallToolReturnsContent(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(echoTool())
	client, _, _ := newTestServer(t, config.Load().Server, reg)

	var result protocol.CallToolResult
	err := call(t, client, "tools/call", protocol.CallToolParams{
		Name:      "echo",
		Arguments: json.RawMessage(`{"text":"hello"}`),
	}, &result)
	if err != nil {
		t.Fatalf("tools/call failed: %v", err)
	}
	if result.IsError {
		t.Fatal("unexpected isError")
	}
	if len(result.Content) != 1 || result.Content[0].Text != "hello" {
		t.Errorf("unexpected content: %+v", result.Content)
	}
}

func TestCallToolValidation(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(echoTool())
	client, _, _ := newTestServer(t, config.Load().Server, reg)

	t.Run("unknown tool", func(t *testing.T) {
		var result protocol.CallToolResult
		err := call(t, client, "tools/call", protocol.CallToolParams{Name: "nope"}, &result)
		if code := rpcErrorCode(t, err); code != -32601 {
			t.Errorf("expected -32601, got %d", code)
		}
	})

	t.Run("missing required argument", func(t *testing.T) {
		var result protocol.CallToolResult
		err := call(t, client, "tools/call", protocol.CallToolParams{
			Name:      "echo",
			Arguments: json.RawMessage(`{}`),
		}, &result)
		if code := rpcErrorCode(t, err); code != -32602 {
			t.Errorf("expected -32602, got %d", code)
		}
	})

	t.Run("missing name", func(t *testing.T) {
		var result protocol.CallToolResult
		err := call(t, client, "tools/call", map[string]interface{}{}, &result)
		if code := rpcErrorCode(t, err); code != -32602 {
			t.Errorf("expected -32602, got %d", code)
		}
	})
}

func TestCallToolFailureStaysInResult(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&fakeTool{
		name: "flaky",
		fn: func(context.Context, json.RawMessage) (interface{}, error) {
			return nil, fmt.Errorf("backend exploded")
		},
	})
	client, _, _ := newTestServer(t, config.Load().Server, reg)

	var result protocol.CallToolResult
	if err := call(t, client, "tools/call", protocol.CallToolParams{Name: "flaky"}, &result); err != nil {
		t.Fatalf("expected in-band error, got protocol error: %v", err)
	}
	if !result.IsError {
		t.Error("expected isError")
	}
	if len(result.Content) == 0 || result.Content[0].Text != "backend exploded" {
		t.Errorf("unexpected content: %+v", result.Content)
	}

	// The connection survives a failing tool.
	var pong map[string]interface{}
	if err := call(t, client, "ping", nil, &pong); err != nil {
		t.Fatalf("ping after failure: %v", err)
	}
}

func TestPanicInToolRecovered(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&fakeTool{
		name: "bomb",
		fn: func(context.Context, json.RawMessage) (interface{}, error) {
			panic("kaboom")
		},
	})
	client, _, _ := newTestServer(t, config.Load().Server, reg)

	var result protocol.CallToolResult
	err := call(t, client, "tools/call", protocol.CallToolParams{Name: "bomb"}, &result)
	if code := rpcErrorCode(t, err); code != -32603 {
		t.Errorf("expected -32603, got %d", code)
	}

	var pong map[string]interface{}
	if err := call(t, client, "ping", nil, &pong); err != nil {
		t.Fatalf("ping after panic: %v", err)
	}
}

func TestUnknownMethod(t *testing.T) {
	client, _, _ := newTestServer(t, config.Load().Server, tools.NewRegistry())

	var result map[string]interface{}
	err := call(t, client, "definitely/not/a/method", nil, &result)
	var rpcErr *jsonrpc2.Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if rpcErr.Code != -32601 {
		t.Errorf("expected -32601, got %d", rpcErr.Code)
	}
	if rpcErr.Message != "Method not found: definitely/not/a/method" {
		t.Errorf("unexpected message: %s", rpcErr.Message)
	}
}

func TestReadResource(t *testing.T) {
	client, _, _ := newTestServer(t, config.Load().Server, tools.NewRegistry())

	var result protocol.ReadResourceResult
	err := call(t, client, "resources/read", protocol.ReadResourceParams{URI: "maestro://stats"}, &result)
	if err != nil {
		t.Fatalf("resources/read failed: %v", err)
	}
	if len(result.Contents) != 1 || result.Contents[0].Text != `{"ok":true}` {
		t.Errorf("unexpected contents: %+v", result.Contents)
	}

	err = call(t, client, "resources/read", protocol.ReadResourceParams{URI: "maestro://nope"}, &result)
	if code := rpcErrorCode(t, err); code != protocol.CodeResourceNotFound {
		t.Errorf("expected %d, got %d", protocol.CodeResourceNotFound, code)
	}
}

func TestListAndGetPrompts(t *testing.T) {
	client, _, _ := newTestServer(t, config.Load().Server, tools.NewRegistry())

	var list protocol.ListPromptsResult
	if err := call(t, client, "prompts/list", nil, &list); err != nil {
		t.Fatalf("prompts/list failed: %v", err)
	}
	if len(list.Prompts) != 1 || list.Prompts[0].Name != "command_help" {
		t.Fatalf("unexpected prompts: %+v", list.Prompts)
	}

	var got protocol.GetPromptResult
	if err := call(t, client, "prompts/get", protocol.GetPromptParams{Name: "command_help"}, &got); err != nil {
		t.Fatalf("prompts/get failed: %v", err)
	}
	if len(got.Messages) == 0 {
		t.Error("expected prompt messages")
	}

	err := call(t, client, "prompts/get", protocol.GetPromptParams{Name: "nope"}, &got)
	if code := rpcErrorCode(t, err); code != -32602 {
		t.Errorf("unknown prompt: expected -32602, got %d", code)
	}

	err = call(t, client, "prompts/get", protocol.GetPromptParams{
		Name:      "command_help",
		Arguments: map[string]string{"intent": "make_coffee"},
	}, &got)
	if code := rpcErrorCode(t, err); code != protocol.CodePromptRejected {
		t.Errorf("rejected prompt: expected %d, got %d", protocol.CodePromptRejected, code)
	}
}

func TestShutdownRepliesThenFiresHook(t *testing.T) {
	fired := make(chan struct{})
	client, _, _ := newTestServer(t, config.Load().Server, tools.NewRegistry(),
		WithShutdownHook(func() { close(fired) }))

	var result map[string]interface{}
	if err := call(t, client, "shutdown", nil, &result); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown hook never fired")
	}
}

func TestBackPressureBoundsInFlightHandlers(t *testing.T) {
	cfg := config.Load().Server
	cfg.MaxConcurrentRequests = 1

	gate := make(chan struct{})
	var inFlight, maxSeen int32
	reg := tools.NewRegistry()
	reg.Register(&fakeTool{
		name: "slow",
		fn: func(context.Context, json.RawMessage) (interface{}, error) {
			cur := atomic.AddInt32(&inFlight, 1)
			for {
				prev := atomic.LoadInt32(&maxSeen)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxSeen, prev, cur) {
					break
				}
			}
			<-gate
			atomic.AddInt32(&inFlight, -1)
			return "ok", nil
		},
	})
	client, _, _ := newTestServer(t, cfg, reg)

	const calls = 4
	var wg sync.WaitGroup
	errs := make([]error, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var result protocol.CallToolResult
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			errs[i] = client.Call(ctx, "tools/call", protocol.CallToolParams{Name: "slow"}, &result)
		}(i)
	}

	time.Sleep(200 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("call %d failed: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&maxSeen); got != 1 {
		t.Errorf("expected at most 1 in-flight handler, saw %d", got)
	}
}

func TestSetLevelForwardsLogsToSubscriber(t *testing.T) {
	logger.Init(logger.Config{Level: slog.LevelInfo, Format: "text", Output: io.Discard})

	client, srv, rec := newTestServer(t, config.Load().Server, tools.NewRegistry())
	logger.SetMirror(srv.Sink())
	t.Cleanup(func() { logger.SetMirror(nil) })

	var result map[string]interface{}
	if err := call(t, client, "logging/setLevel", protocol.SetLevelParams{Level: "warning"}, &result); err != nil {
		t.Fatalf("logging/setLevel failed: %v", err)
	}

	logger.Info("below the subscribed level")
	logger.Warn("disk nearly full", "free", "1GB")
	rec.waitFor(t, "notifications/message")

	if got := rec.count("notifications/message"); got != 1 {
		t.Errorf("expected 1 forwarded record, got %d", got)
	}
	var params protocol.LogMessageParams
	if err := json.Unmarshal(rec.last("notifications/message"), &params); err != nil {
		t.Fatalf("bad notification params: %v", err)
	}
	if params.Level != "warning" {
		t.Errorf("unexpected level: %s", params.Level)
	}
	var data map[string]interface{}
	json.Unmarshal(params.Data, &data)
	if data["message"] != "disk nearly full" {
		t.Errorf("unexpected data: %v", data)
	}

	err := call(t, client, "logging/setLevel", protocol.SetLevelParams{Level: "loud"}, &result)
	if code := rpcErrorCode(t, err); code != -32602 {
		t.Errorf("bogus level: expected -32602, got %d", code)
	}
}
