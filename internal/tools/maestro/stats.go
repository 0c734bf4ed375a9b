package maestro

import (
	"context"
	"encoding/json"

	"github.com/aservis/maestro/internal/jobs"
	"github.com/aservis/maestro/internal/tools"
)

type ServerStatsTool struct {
	engine *jobs.Engine
	stats  func() any
}

func NewServerStatsTool(engine *jobs.Engine, stats func() any) *ServerStatsTool {
	return &ServerStatsTool{engine: engine, stats: stats}
}

func (t *ServerStatsTool) Name() string {
	return "server_stats"
}

func (t *ServerStatsTool) Description() string {
	return "Read request counters, average response time and job engine statistics"
}

func (t *ServerStatsTool) Title() string {
	return "Server Stats"
}

func (t *ServerStatsTool) Annotations() map[string]bool {
	return tools.ReadOnlyAnnotations()
}

func (t *ServerStatsTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {}
	}`)
}

func (t *ServerStatsTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	result := map[string]interface{}{
		"jobs": t.engine.Stats(),
	}
	if t.stats != nil {
		result["server"] = t.stats()
	}
	return result, nil
}
