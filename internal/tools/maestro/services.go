package maestro

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aservis/maestro/internal/services"
	"github.com/aservis/maestro/internal/tools"
)

type RegisterServiceTool struct {
	registry *services.Registry
}

func NewRegisterServiceTool(registry *services.Registry) *RegisterServiceTool {
	return &RegisterServiceTool{registry: registry}
}

func (t *RegisterServiceTool) Name() string {
	return "register_service"
}

func (t *RegisterServiceTool) Description() string {
	return `Register a backend service with the router.

Capabilities decide which intents the service receives: "audio" gets
play_music/control_volume/switch_audio, "system" gets system commands,
"gpio" hardware control, "home" home automation, "download" is handled
locally. Re-registering a known name updates it in place.`
}

func (t *RegisterServiceTool) Title() string {
	return "Register Service"
}

func (t *RegisterServiceTool) Annotations() map[string]bool {
	return tools.SafeWriteAnnotations()
}

func (t *RegisterServiceTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {
				"type": "string",
				"description": "Unique service name"
			},
			"host": {
				"type": "string",
				"description": "Host or IP the service listens on"
			},
			"port": {
				"type": "integer",
				"description": "TCP port of the service's MCP endpoint"
			},
			"capabilities": {
				"type": "array",
				"items": {"type": "string"},
				"description": "Capability tags, e.g. [\"audio\"]"
			}
		},
		"required": ["name", "host", "port"]
	}`)
}

func (t *RegisterServiceTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var req struct {
		Name         string   `json:"name"`
		Host         string   `json:"host"`
		Port         int      `json:"port"`
		Capabilities []string `json:"capabilities"`
	}
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, err
	}

	info := services.ServiceInfo{
		Name:         req.Name,
		Host:         req.Host,
		Port:         req.Port,
		Capabilities: req.Capabilities,
	}
	if err := t.registry.Register(info, services.SourceAPI); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"registered":   true,
		"name":         info.Name,
		"address":      info.Addr(),
		"capabilities": info.Capabilities,
	}, nil
}

type UnregisterServiceTool struct {
	registry *services.Registry
	clients  ClientDropper
}

func NewUnregisterServiceTool(registry *services.Registry, clients ClientDropper) *UnregisterServiceTool {
	return &UnregisterServiceTool{registry: registry, clients: clients}
}

func (t *UnregisterServiceTool) Name() string {
	return "unregister_service"
}

func (t *UnregisterServiceTool) Description() string {
	return "Remove a service from the router. Pooled connections to it are dropped."
}

func (t *UnregisterServiceTool) Title() string {
	return "Unregister Service"
}

func (t *UnregisterServiceTool) Annotations() map[string]bool {
	return tools.DestructiveAnnotations()
}

func (t *UnregisterServiceTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {
				"type": "string",
				"description": "Service name to remove"
			}
		},
		"required": ["name"]
	}`)
}

func (t *UnregisterServiceTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, fmt.Errorf("service name is required")
	}

	if !t.registry.Unregister(req.Name) {
		return nil, fmt.Errorf("service %s not known", req.Name)
	}
	if t.clients != nil {
		t.clients.Forget(req.Name)
	}

	return map[string]interface{}{
		"removed": true,
		"name":    req.Name,
	}, nil
}

type ListServicesTool struct {
	registry *services.Registry
}

func NewListServicesTool(registry *services.Registry) *ListServicesTool {
	return &ListServicesTool{registry: registry}
}

func (t *ListServicesTool) Name() string {
	return "list_services"
}

func (t *ListServicesTool) Description() string {
	return "List registered services with their capabilities and health"
}

func (t *ListServicesTool) Title() string {
	return "List Services"
}

func (t *ListServicesTool) Annotations() map[string]bool {
	return tools.ReadOnlyAnnotations()
}

func (t *ListServicesTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {}
	}`)
}

func (t *ListServicesTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	list := t.registry.List()
	return map[string]interface{}{
		"services": list,
		"count":    len(list),
	}, nil
}
