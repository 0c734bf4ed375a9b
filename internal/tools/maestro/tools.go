// Package maestro exposes the orchestrator's own operations as MCP tools:
// running commands through the pipeline, managing downloads, the service
// registry and sessions, and reading server statistics.
package maestro

import (
	"context"

	"github.com/aservis/maestro/internal/ctxstore"
	"github.com/aservis/maestro/internal/jobs"
	"github.com/aservis/maestro/internal/logger"
	"github.com/aservis/maestro/internal/services"
	"github.com/aservis/maestro/internal/tools"
)

var log = logger.ForComponent("tools")

// Gateway runs one natural-language command through the full pipeline.
// It returns the response text and the session id actually used.
type Gateway interface {
	HandleCommand(ctx context.Context, text, sessionID, userID, iface string) (string, string, error)
}

// ClientDropper invalidates pooled connections to a service, typically
// after it is unregistered.
type ClientDropper interface {
	Forget(name string)
}

// Deps carries everything the tool set needs. Downloads may be nil when
// durable download bookkeeping is disabled; Stats may be nil in tests.
type Deps struct {
	Gateway    Gateway
	Engine     *jobs.Engine
	Downloads  *jobs.Store
	WorkingDir string
	Registry   *services.Registry
	Router     ClientDropper
	Store      *ctxstore.Store
	Stats      func() any
}

// GetTools returns the orchestrator tool set in presentation order.
func GetTools(deps Deps) []tools.Tool {
	return []tools.Tool{
		NewProcessCommandTool(deps.Gateway),
		NewDownloadFileTool(deps.Engine, deps.Downloads, deps.WorkingDir),
		NewJobStatusTool(deps.Engine),
		NewAbortJobTool(deps.Engine),
		NewListJobsTool(deps.Engine, deps.Downloads),
		NewRegisterServiceTool(deps.Registry),
		NewUnregisterServiceTool(deps.Registry, deps.Router),
		NewListServicesTool(deps.Registry),
		NewCreateSessionTool(deps.Store),
		NewGetSessionTool(deps.Store),
		NewSetSessionVariableTool(deps.Store),
		NewServerStatsTool(deps.Engine, deps.Stats),
	}
}
