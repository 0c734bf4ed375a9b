// Package jobs runs background work for the orchestrator on a bounded
// worker pool with priority queues. Jobs carry monotone uint32 session
// ids, move through a strict status lifecycle and support cooperative
// abort. The one concrete job today is the HTTP download.
package jobs

import (
	"context"
	"errors"
	"strings"
)

type Status string

const (
	StatusQueued    Status = "Queued"
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
	StatusAborted   Status = "Aborted"
)

// Terminal reports whether a status can never change again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAborted:
		return true
	}
	return false
}

// canTransition encodes the lifecycle: Queued→Running→Completed|Failed,
// with Aborted reachable from Queued and Running. Terminal states are
// sticky.
func canTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusRunning || to == StatusAborted
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed || to == StatusAborted
	}
	return false
}

type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// ParsePriority accepts high/normal/low, defaulting to normal.
func ParsePriority(s string) Priority {
	switch strings.ToLower(s) {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

type JobInfo struct {
	SessionID    uint32 `json:"sessionId"`
	Type         string `json:"type"`
	Argument     string `json:"argument"`
	Status       Status `json:"status"`
	Priority     string `json:"priority"`
	FilePath     string `json:"filePath,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Bytes        int64  `json:"bytes,omitempty"`
	Total        int64  `json:"total,omitempty"`
	CreatedAt    int64  `json:"createdAt"`
	StartedAt    int64  `json:"startedAt,omitempty"`
	CompletedAt  int64  `json:"completedAt,omitempty"`
}

// ProgressFunc receives byte counts as a job advances; total is -1 when
// unknown.
type ProgressFunc func(bytes, total int64)

// ProgressNotifier fans a job's progress out to whoever submitted it,
// typically as a "progress" notification on the originating connection.
type ProgressNotifier func(sessionID uint32, bytes, total int64)

// Env is what the engine hands a running job: its assigned session id and
// a progress sink that is always non-nil.
type Env struct {
	SessionID uint32
	Progress  ProgressFunc
}

// Job is one unit of background work. Execute must watch ctx and return
// promptly once it is cancelled; the returned path is recorded as the
// job's file product, if any.
type Job interface {
	Type() string
	Argument() string
	Execute(ctx context.Context, env Env) (filePath string, err error)
}

var (
	ErrQueueFull = errors.New("jobs: queue full")
	ErrNotFound  = errors.New("jobs: job not found")
	ErrTerminal  = errors.New("jobs: job already finished")
)
