package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/aservis/maestro/internal/jobs"
	"github.com/aservis/maestro/internal/logger"
	"github.com/aservis/maestro/internal/prompts"
	"github.com/aservis/maestro/internal/resources"
	"github.com/aservis/maestro/internal/tools"
	"github.com/aservis/maestro/pkg/protocol"
)

type connHandler struct {
	server *Server
	state  *connState
}

// Handle runs on the connection's read goroutine. Notifications are
// absorbed inline; requests take a semaphore slot before dispatching on
// their own goroutine. When every slot is busy the Acquire blocks, the
// read loop stalls, and the peer stops getting its frames consumed.
func (h *connHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	s := h.server

	if req.Notif {
		atomic.AddInt64(&s.stats.notificationsReceived, 1)
		h.handleNotification(req)
		return
	}

	atomic.AddInt64(&s.stats.requestsReceived, 1)
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return
	}
	go func() {
		defer s.sem.Release(1)
		h.dispatch(ctx, conn, req)
	}()
}

func (h *connHandler) handleNotification(req *jsonrpc2.Request) {
	switch req.Method {
	case "initialized", "notifications/initialized":
		h.state.mu.Lock()
		h.state.initialized = true
		h.state.mu.Unlock()
	case "notifications/cancelled":
		log.Debug("peer cancelled a request")
	default:
		log.Debug("ignoring notification", "method", req.Method)
	}
}

func (h *connHandler) dispatch(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	s := h.server
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	result, rpcErr := h.callMethod(ctx, conn, req)
	atomic.AddInt64(&s.stats.totalResponseNanos, time.Since(start).Nanoseconds())

	if rpcErr != nil {
		atomic.AddInt64(&s.stats.requestsFailed, 1)
		if err := conn.ReplyWithError(ctx, req.ID, rpcErr); err != nil && !errors.Is(err, jsonrpc2.ErrClosed) {
			log.Debug("error reply failed", "method", req.Method, "error", err)
		}
		return
	}

	atomic.AddInt64(&s.stats.requestsProcessed, 1)
	if err := conn.Reply(ctx, req.ID, result); err != nil && !errors.Is(err, jsonrpc2.ErrClosed) {
		log.Debug("reply failed", "method", req.Method, "error", err)
	}

	// The shutdown reply is on the wire at this point, so tearing the
	// process down can no longer swallow it.
	if req.Method == "shutdown" {
		s.requestShutdown()
	}
}

func (h *connHandler) callMethod(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (result interface{}, rpcErr *jsonrpc2.Error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panic recovered",
				"method", req.Method,
				"panic", r,
				"stack", string(debug.Stack()))
			result = nil
			rpcErr = internalError(fmt.Sprintf("handler panicked: %v", r))
		}
	}()

	switch req.Method {
	case "initialize":
		return h.handleInitialize(req)
	case "ping":
		return map[string]interface{}{}, nil
	case "tools/list":
		return h.server.listTools(), nil
	case "tools/call":
		return h.handleCallTool(ctx, conn, req)
	case "resources/list":
		return h.server.listResources(), nil
	case "resources/read":
		return h.handleReadResource(ctx, req)
	case "prompts/list":
		return h.server.listPrompts(), nil
	case "prompts/get":
		return h.handleGetPrompt(req)
	case "logging/setLevel":
		return h.handleSetLevel(conn, req)
	case "shutdown":
		return map[string]interface{}{}, nil
	default:
		return nil, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeMethodNotFound,
			Message: fmt.Sprintf("Method not found: %s", req.Method),
		}
	}
}

func (h *connHandler) handleInitialize(req *jsonrpc2.Request) (interface{}, *jsonrpc2.Error) {
	var params protocol.InitializeParams
	if req.Params != nil {
		if err := json.Unmarshal(*req.Params, &params); err != nil {
			return nil, invalidParams(fmt.Sprintf("malformed initialize params: %v", err))
		}
	}

	h.state.mu.Lock()
	h.state.clientInfo = params.ClientInfo
	h.state.mu.Unlock()

	// Unknown protocol revisions are answered with ours; the client
	// decides whether to continue.
	negotiated := params.ProtocolVersion
	if negotiated != protocol.ProtocolVersion {
		negotiated = protocol.ProtocolVersion
	}

	log.Info("client connected",
		"client", params.ClientInfo.Name,
		"clientVersion", params.ClientInfo.Version)

	return protocol.InitializeResult{
		ProtocolVersion: negotiated,
		ServerInfo:      protocol.ServerInfo{Name: ServerName, Version: ServerVersion},
		Capabilities:    protocol.DefaultServerCapabilities(),
	}, nil
}

func (s *Server) listTools() protocol.ListToolsResult {
	list := s.tools.List()
	out := make([]protocol.ToolDescriptor, 0, len(list))
	for _, t := range list {
		desc := protocol.ToolDescriptor{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Schema(),
		}
		if annotated, ok := t.(tools.AnnotatedTool); ok {
			desc.Title = annotated.Title()
			desc.Annotations = annotated.Annotations()
		}
		out = append(out, desc)
	}
	return protocol.ListToolsResult{Tools: out}
}

func (h *connHandler) handleCallTool(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, *jsonrpc2.Error) {
	var params protocol.CallToolParams
	if req.Params == nil {
		return nil, invalidParams("tool name is required")
	}
	if err := json.Unmarshal(*req.Params, &params); err != nil {
		return nil, invalidParams(fmt.Sprintf("malformed tools/call params: %v", err))
	}
	if params.Name == "" {
		return nil, invalidParams("tool name is required")
	}

	// Long-running submissions report progress back to this connection.
	ctx = jobs.WithNotifier(ctx, h.server.progressNotifier(conn))

	log.Debug("tool call", "tool", params.Name)
	result, err := h.server.tools.Execute(ctx, params.Name, params.Arguments)
	if err != nil {
		var terr *tools.ToolError
		if errors.As(err, &terr) && terr.Code != tools.CodeToolExecution {
			return nil, &jsonrpc2.Error{Code: int64(terr.Code), Message: terr.Message}
		}
		// Execution failures stay inside the result so the connection
		// survives a misbehaving tool or backend.
		return protocol.CallToolResult{
			Content: protocol.TextContent(err.Error()),
			IsError: true,
		}, nil
	}

	return protocol.CallToolResult{Content: contentFor(result)}, nil
}

// contentFor renders a tool's result as MCP content. Strings pass
// through as-is; everything else is serialized.
func contentFor(result interface{}) []protocol.ContentBlock {
	switch v := result.(type) {
	case nil:
		return protocol.TextContent("done")
	case string:
		return protocol.TextContent(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return protocol.TextContent(fmt.Sprintf("%v", v))
		}
		return protocol.TextContent(string(raw))
	}
}

func (s *Server) listResources() protocol.ListResourcesResult {
	list := s.resources.List()
	out := make([]protocol.ResourceDescriptor, 0, len(list))
	for _, r := range list {
		out = append(out, protocol.ResourceDescriptor{
			URI:         r.URI,
			Name:        r.Name,
			Description: r.Description,
			MimeType:    r.MimeType,
		})
	}
	return protocol.ListResourcesResult{Resources: out}
}

func (h *connHandler) handleReadResource(ctx context.Context, req *jsonrpc2.Request) (interface{}, *jsonrpc2.Error) {
	var params protocol.ReadResourceParams
	if req.Params == nil || json.Unmarshal(*req.Params, &params) != nil || params.URI == "" {
		return nil, invalidParams("resource uri is required")
	}

	res, text, err := h.server.resources.Read(ctx, params.URI)
	switch {
	case errors.Is(err, resources.ErrNotFound):
		return nil, &jsonrpc2.Error{Code: protocol.CodeResourceNotFound, Message: err.Error()}
	case errors.Is(err, resources.ErrDenied):
		return nil, &jsonrpc2.Error{Code: protocol.CodeResourceDenied, Message: err.Error()}
	case err != nil:
		return nil, internalError(fmt.Sprintf("read %s: %v", params.URI, err))
	}

	return protocol.ReadResourceResult{
		Contents: []protocol.ResourceContent{
			{URI: params.URI, MimeType: res.MimeType, Text: text},
		},
	}, nil
}

func (s *Server) listPrompts() protocol.ListPromptsResult {
	list := s.prompts.List()
	out := make([]protocol.PromptDescriptor, 0, len(list))
	for _, p := range list {
		out = append(out, protocol.PromptDescriptor{
			Name:        p.Name,
			Description: p.Description,
			Arguments:   p.Arguments,
		})
	}
	return protocol.ListPromptsResult{Prompts: out}
}

func (h *connHandler) handleGetPrompt(req *jsonrpc2.Request) (interface{}, *jsonrpc2.Error) {
	var params protocol.GetPromptParams
	if req.Params == nil || json.Unmarshal(*req.Params, &params) != nil || params.Name == "" {
		return nil, invalidParams("prompt name is required")
	}

	result, err := h.server.prompts.Get(params.Name, params.Arguments)
	switch {
	case errors.Is(err, prompts.ErrNotFound):
		return nil, invalidParams(err.Error())
	case errors.Is(err, prompts.ErrRejected):
		return nil, &jsonrpc2.Error{Code: protocol.CodePromptRejected, Message: err.Error()}
	case err != nil:
		return nil, internalError(err.Error())
	}
	return result, nil
}

func (h *connHandler) handleSetLevel(conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, *jsonrpc2.Error) {
	var params protocol.SetLevelParams
	if req.Params == nil || json.Unmarshal(*req.Params, &params) != nil || params.Level == "" {
		return nil, invalidParams("level is required")
	}

	level, err := logger.ParseLevel(params.Level)
	if err != nil {
		return nil, invalidParams(err.Error())
	}

	logger.SetLevel(params.Level)
	h.server.sink.Subscribe(conn, level)

	log.Info("log level changed", "level", params.Level)
	return map[string]interface{}{}, nil
}

func invalidParams(msg string) *jsonrpc2.Error {
	return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: msg}
}

func internalError(msg string) *jsonrpc2.Error {
	e := &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: "internal error"}
	e.SetError(map[string]string{"error": msg})
	return e
}
