package maestro

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aservis/maestro/internal/ctxstore"
	"github.com/aservis/maestro/internal/tools"
)

type CreateSessionTool struct {
	store *ctxstore.Store
}

func NewCreateSessionTool(store *ctxstore.Store) *CreateSessionTool {
	return &CreateSessionTool{store: store}
}

func (t *CreateSessionTool) Name() string {
	return "create_session"
}

func (t *CreateSessionTool) Description() string {
	return "Create a new conversation session. Each call mints a fresh session id."
}

func (t *CreateSessionTool) Title() string {
	return "Create Session"
}

func (t *CreateSessionTool) Annotations() map[string]bool {
	return tools.NonIdempotentWriteAnnotations()
}

func (t *CreateSessionTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"userId": {
				"type": "string",
				"description": "User the session belongs to (optional, default local)"
			},
			"interface": {
				"type": "string",
				"enum": ["voice", "text", "web", "mobile"],
				"description": "Interface tag (optional, default text)"
			}
		}
	}`)
}

func (t *CreateSessionTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var req struct {
		UserID    string `json:"userId"`
		Interface string `json:"interface"`
	}
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		req.UserID = "local"
	}
	if req.Interface == "" {
		req.Interface = "text"
	}

	sess, err := t.store.CreateSession(req.UserID, req.Interface)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

type GetSessionTool struct {
	store *ctxstore.Store
}

func NewGetSessionTool(store *ctxstore.Store) *GetSessionTool {
	return &GetSessionTool{store: store}
}

func (t *GetSessionTool) Name() string {
	return "get_session"
}

func (t *GetSessionTool) Description() string {
	return "Read a session's state: histories, variables and the last routed intent"
}

func (t *GetSessionTool) Title() string {
	return "Get Session"
}

func (t *GetSessionTool) Annotations() map[string]bool {
	return tools.ReadOnlyAnnotations()
}

func (t *GetSessionTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"sessionId": {
				"type": "string",
				"description": "Session id to look up"
			}
		},
		"required": ["sessionId"]
	}`)
}

func (t *GetSessionTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, err
	}

	sess, err := t.store.GetSession(req.SessionID)
	if err != nil {
		if errors.Is(err, ctxstore.ErrNotFound) {
			return nil, fmt.Errorf("session %s not found", req.SessionID)
		}
		return nil, err
	}
	return sess, nil
}

type SetSessionVariableTool struct {
	store *ctxstore.Store
}

func NewSetSessionVariableTool(store *ctxstore.Store) *SetSessionVariableTool {
	return &SetSessionVariableTool{store: store}
}

func (t *SetSessionVariableTool) Name() string {
	return "set_session_variable"
}

func (t *SetSessionVariableTool) Description() string {
	return "Set a key/value variable on a session. Variables persist with the session and are visible to later commands."
}

func (t *SetSessionVariableTool) Title() string {
	return "Set Session Variable"
}

func (t *SetSessionVariableTool) Annotations() map[string]bool {
	return tools.SafeWriteAnnotations()
}

func (t *SetSessionVariableTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"sessionId": {
				"type": "string",
				"description": "Session to update"
			},
			"key": {
				"type": "string",
				"description": "Variable name"
			},
			"value": {
				"type": "string",
				"description": "Variable value"
			}
		},
		"required": ["sessionId", "key", "value"]
	}`)
}

func (t *SetSessionVariableTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var req struct {
		SessionID string `json:"sessionId"`
		Key       string `json:"key"`
		Value     string `json:"value"`
	}
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, err
	}
	if req.Key == "" {
		return nil, fmt.Errorf("variable key is required")
	}

	if err := t.store.SetSessionVariable(req.SessionID, req.Key, req.Value); err != nil {
		if errors.Is(err, ctxstore.ErrNotFound) {
			return nil, fmt.Errorf("session %s not found", req.SessionID)
		}
		return nil, err
	}

	return map[string]interface{}{
		"sessionId": req.SessionID,
		"key":       req.Key,
		"updated":   true,
	}, nil
}
