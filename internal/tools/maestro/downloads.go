package maestro

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aservis/maestro/internal/jobs"
	"github.com/aservis/maestro/internal/tools"
)

type DownloadFileTool struct {
	engine     *jobs.Engine
	store      *jobs.Store
	workingDir string
}

func NewDownloadFileTool(engine *jobs.Engine, store *jobs.Store, workingDir string) *DownloadFileTool {
	return &DownloadFileTool{engine: engine, store: store, workingDir: workingDir}
}

func (t *DownloadFileTool) Name() string {
	return "download_file"
}

func (t *DownloadFileTool) Description() string {
	return "Download a file into the working directory as a background job. Progress arrives as notifications on the submitting connection."
}

func (t *DownloadFileTool) Title() string {
	return "Download File"
}

func (t *DownloadFileTool) Annotations() map[string]bool {
	return tools.OpenWorldAnnotations()
}

func (t *DownloadFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {
				"type": "string",
				"description": "HTTP or HTTPS URL to fetch"
			},
			"priority": {
				"type": "string",
				"enum": ["high", "normal", "low"],
				"description": "Queue priority (optional, default normal)"
			}
		},
		"required": ["url"]
	}`)
}

func (t *DownloadFileTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var req struct {
		URL      string `json:"url"`
		Priority string `json:"priority"`
	}
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, err
	}
	if req.URL == "" {
		return nil, fmt.Errorf("url is required")
	}

	job, err := jobs.NewDownloadJob(req.URL, t.workingDir, nil, t.store)
	if err != nil {
		return nil, err
	}

	id, err := t.engine.Submit(job, jobs.ParsePriority(req.Priority), jobs.NotifierFromContext(ctx))
	if err != nil {
		if errors.Is(err, jobs.ErrQueueFull) {
			return nil, fmt.Errorf("job queue is full, try again later")
		}
		return nil, err
	}

	return map[string]interface{}{
		"sessionId": id,
		"url":       req.URL,
	}, nil
}

type JobStatusTool struct {
	engine *jobs.Engine
}

func NewJobStatusTool(engine *jobs.Engine) *JobStatusTool {
	return &JobStatusTool{engine: engine}
}

func (t *JobStatusTool) Name() string {
	return "job_status"
}

func (t *JobStatusTool) Description() string {
	return "Get the current status of a background job"
}

func (t *JobStatusTool) Title() string {
	return "Job Status"
}

func (t *JobStatusTool) Annotations() map[string]bool {
	return tools.ReadOnlyAnnotations()
}

func (t *JobStatusTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"sessionId": {
				"type": "integer",
				"description": "Job session id returned when the job was submitted"
			}
		},
		"required": ["sessionId"]
	}`)
}

func (t *JobStatusTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var req struct {
		SessionID uint32 `json:"sessionId"`
	}
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, err
	}

	info, err := t.engine.Status(req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("job %d not found", req.SessionID)
	}
	return info, nil
}

type AbortJobTool struct {
	engine *jobs.Engine
}

func NewAbortJobTool(engine *jobs.Engine) *AbortJobTool {
	return &AbortJobTool{engine: engine}
}

func (t *AbortJobTool) Name() string {
	return "abort_job"
}

func (t *AbortJobTool) Description() string {
	return "Abort a queued or running background job. Partial download files are removed."
}

func (t *AbortJobTool) Title() string {
	return "Abort Job"
}

func (t *AbortJobTool) Annotations() map[string]bool {
	return tools.DestructiveAnnotations()
}

func (t *AbortJobTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"sessionId": {
				"type": "integer",
				"description": "Job session id to abort"
			}
		},
		"required": ["sessionId"]
	}`)
}

func (t *AbortJobTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var req struct {
		SessionID uint32 `json:"sessionId"`
	}
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, err
	}

	switch err := t.engine.Abort(req.SessionID); {
	case err == nil:
		return map[string]interface{}{
			"sessionId": req.SessionID,
			"aborted":   true,
		}, nil
	case errors.Is(err, jobs.ErrNotFound):
		return nil, fmt.Errorf("job %d not found", req.SessionID)
	case errors.Is(err, jobs.ErrTerminal):
		return nil, fmt.Errorf("job %d already finished", req.SessionID)
	default:
		return nil, err
	}
}

type ListJobsTool struct {
	engine *jobs.Engine
	store  *jobs.Store
}

func NewListJobsTool(engine *jobs.Engine, store *jobs.Store) *ListJobsTool {
	return &ListJobsTool{engine: engine, store: store}
}

func (t *ListJobsTool) Name() string {
	return "list_jobs"
}

func (t *ListJobsTool) Description() string {
	return "List background jobs known to this process, plus the durable download history when available"
}

func (t *ListJobsTool) Title() string {
	return "List Jobs"
}

func (t *ListJobsTool) Annotations() map[string]bool {
	return tools.ReadOnlyAnnotations()
}

func (t *ListJobsTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {}
	}`)
}

func (t *ListJobsTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	list := t.engine.List()
	result := map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	}

	if t.store != nil {
		history, err := t.store.List()
		if err != nil {
			log.Warn("download history unavailable", "error", err)
		} else {
			result["history"] = history
		}
	}
	return result, nil
}
