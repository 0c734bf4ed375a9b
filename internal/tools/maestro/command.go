package maestro

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aservis/maestro/internal/tools"
)

type ProcessCommandTool struct {
	gateway Gateway
}

func NewProcessCommandTool(gateway Gateway) *ProcessCommandTool {
	return &ProcessCommandTool{gateway: gateway}
}

func (t *ProcessCommandTool) Name() string {
	return "process_command"
}

func (t *ProcessCommandTool) Description() string {
	return `Run a natural-language command through the orchestrator.

The text is classified into an intent ("play some jazz", "set volume
to 40", "download <url>") and routed to whichever backend service
advertises the matching capability. Conversation state lives in the
session: pass the returned sessionId back in to keep context like
"louder" or "play it again" working.`
}

func (t *ProcessCommandTool) Title() string {
	return "Process Command"
}

func (t *ProcessCommandTool) Annotations() map[string]bool {
	return tools.OpenWorldAnnotations()
}

func (t *ProcessCommandTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"text": {
				"type": "string",
				"description": "The command to execute"
			},
			"sessionId": {
				"type": "string",
				"description": "Session to continue (optional, a new one is created when absent or unknown)"
			},
			"userId": {
				"type": "string",
				"description": "User the session belongs to (optional)"
			},
			"interface": {
				"type": "string",
				"enum": ["voice", "text", "web", "mobile"],
				"description": "Interface a new session is tagged with (optional, default text)"
			}
		},
		"required": ["text"]
	}`)
}

func (t *ProcessCommandTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var req struct {
		Text      string `json:"text"`
		SessionID string `json:"sessionId"`
		UserID    string `json:"userId"`
		Interface string `json:"interface"`
	}
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, err
	}
	if req.Text == "" {
		return nil, fmt.Errorf("command text is required")
	}

	response, sessionID, err := t.gateway.HandleCommand(ctx, req.Text, req.SessionID, req.UserID, req.Interface)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"response":  response,
		"sessionId": sessionID,
	}, nil
}
