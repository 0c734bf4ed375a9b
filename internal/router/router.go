// Package router turns a classified intent into a tools/call on a
// backend service: capability lookup in the service registry, a pooled
// JSON-RPC client to the service, and user-facing text for every failure
// mode.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/aservis/maestro/internal/logger"
	"github.com/aservis/maestro/internal/rpc"
	"github.com/aservis/maestro/internal/services"
	"github.com/aservis/maestro/pkg/protocol"
)

var log = logger.ForComponent("router")

// Outcome is what a routing attempt produced. Response is always a
// human-readable string; Service names the target when one was selected;
// OK reports whether the remote call succeeded.
type Outcome struct {
	Response string
	Service  string
	OK       bool
}

// Router resolves intents against the service registry and dispatches
// them over pooled protocol clients. Clients are keyed by service name;
// eviction from the pool closes the client, and a dead pooled client is
// redialed on next use.
type Router struct {
	registry     *services.Registry
	clients      *lru.Cache[string, *rpc.Client]
	clientConfig rpc.ClientConfig
}

func New(registry *services.Registry, poolSize int, clientConfig rpc.ClientConfig) (*Router, error) {
	if poolSize <= 0 {
		poolSize = 8
	}
	clients, err := lru.NewWithEvict(poolSize, func(name string, client *rpc.Client) {
		client.Close()
		log.Debug("pooled client evicted", "service", name)
	})
	if err != nil {
		return nil, err
	}
	return &Router{
		registry:     registry,
		clients:      clients,
		clientConfig: clientConfig,
	}, nil
}

// Route dispatches an intent with its extracted parameters. All failure
// modes come back as user-facing text in the Outcome; only a programming
// error (unroutable intent) returns a non-nil error.
func (r *Router) Route(ctx context.Context, intent string, params map[string]string) (Outcome, error) {
	capability, ok := CapabilityFor(intent)
	if !ok {
		return Outcome{}, fmt.Errorf("intent %q has no capability mapping", intent)
	}
	tool, ok := RemoteToolFor(intent)
	if !ok {
		return Outcome{}, fmt.Errorf("intent %q is not remotely routable", intent)
	}

	svc, found := r.registry.Lookup(capability)
	if !found {
		log.Warn("no service for intent", "intent", intent, "capability", capability)
		return Outcome{Response: fmt.Sprintf("no service available for %s", intent)}, nil
	}

	client, err := r.client(ctx, svc)
	if err != nil {
		r.registry.RecordFailure(svc.Name)
		log.Warn("service dial failed", "service", svc.Name, "addr", svc.Addr(), "error", err)
		return Outcome{
			Response: fmt.Sprintf("service %s unavailable", svc.Name),
			Service:  svc.Name,
		}, nil
	}

	args, err := json.Marshal(Arguments(params))
	if err != nil {
		return Outcome{}, fmt.Errorf("marshal arguments: %w", err)
	}

	var result protocol.CallToolResult
	callParams := protocol.CallToolParams{Name: tool, Arguments: args}
	if err := client.Call(ctx, "tools/call", callParams, &result); err != nil {
		return r.failureOutcome(svc.Name, err), nil
	}

	// Any response at all proves the service reachable.
	r.registry.RecordSuccess(svc.Name)

	text := contentText(result.Content)
	if result.IsError {
		if text == "" {
			text = "tool error"
		}
		log.Warn("service reported tool error", "service", svc.Name, "tool", tool, "error", text)
		return Outcome{
			Response: fmt.Sprintf("service %s failed: %s", svc.Name, text),
			Service:  svc.Name,
		}, nil
	}
	if text == "" {
		text = "done"
	}

	log.Debug("routed", "intent", intent, "service", svc.Name, "tool", tool)
	return Outcome{Response: text, Service: svc.Name, OK: true}, nil
}

// failureOutcome maps a call error onto the user-facing taxonomy and
// records reachability failures against the service's health.
func (r *Router) failureOutcome(name string, err error) Outcome {
	var respErr *jsonrpc2.Error
	if errors.As(err, &respErr) {
		// The service answered; it is reachable, just unhappy.
		r.registry.RecordSuccess(name)
		log.Warn("service returned error", "service", name, "code", respErr.Code, "message", respErr.Message)
		return Outcome{
			Response: fmt.Sprintf("service %s failed: %d", name, respErr.Code),
			Service:  name,
		}
	}

	r.registry.RecordFailure(name)
	r.Forget(name)

	if errors.Is(err, rpc.ErrTimeout) {
		log.Warn("service call timed out", "service", name)
		return Outcome{Response: "request timed out", Service: name}
	}

	log.Warn("service call failed", "service", name, "error", err)
	return Outcome{
		Response: fmt.Sprintf("service %s unavailable", name),
		Service:  name,
	}
}

// client returns a pooled connection to the service, dialing a fresh one
// when the pool has none or the pooled client has died.
func (r *Router) client(ctx context.Context, svc services.ServiceInfo) (*rpc.Client, error) {
	if client, ok := r.clients.Get(svc.Name); ok {
		if !client.IsClosed() && client.Addr() == svc.Addr() {
			return client, nil
		}
		r.clients.Remove(svc.Name)
	}

	client, err := rpc.Dial(ctx, svc.Addr(), r.clientConfig, nil)
	if err != nil {
		return nil, err
	}
	r.clients.Add(svc.Name, client)
	return client, nil
}

// Forget drops the pooled client for a service, closing it. Callers use
// it when a service unregisters or moves.
func (r *Router) Forget(name string) {
	r.clients.Remove(name)
}

// Close releases every pooled client.
func (r *Router) Close() {
	r.clients.Purge()
}

// Arguments converts extracted string parameters into the typed argument
// object the remote tool expects: canonically numeric fields (level, pin,
// value) become JSON numbers, everything else stays a string.
func Arguments(params map[string]string) map[string]any {
	args := make(map[string]any, len(params))
	for k, v := range params {
		if isNumericParam(k) {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				args[k] = n
				continue
			}
		}
		args[k] = v
	}
	return args
}

func isNumericParam(name string) bool {
	switch name {
	case "level", "pin", "value":
		return true
	}
	return false
}

func contentText(blocks []protocol.ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}
