package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aservis/maestro/internal/config"
	"github.com/aservis/maestro/internal/logger"
)

var log = logger.ForComponent("jobs")

type record struct {
	info   JobInfo
	job    Job
	notify ProgressNotifier
	cancel context.CancelFunc
}

type EngineStats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Aborted   int64 `json:"aborted"`
	Queued    int64 `json:"queued"`
	Running   int64 `json:"running"`
	Workers   int   `json:"workers"`
}

// Engine owns the job table and the worker pool. Workers drain the high
// queue before normal, normal before low.
type Engine struct {
	config config.JobsConfig

	mu   sync.RWMutex
	jobs map[uint32]*record

	nextID uint32

	highQueue   chan uint32
	normalQueue chan uint32
	lowQueue    chan uint32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	submitted int64
	completed int64
	failed    int64
	aborted   int64
	inQueue   int64
	running   int64
}

// NewEngine builds an engine whose session ids continue after seed, so a
// durable job store can keep ids unique across restarts.
func NewEngine(cfg config.JobsConfig, seed uint32) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		config:      cfg,
		jobs:        make(map[uint32]*record),
		nextID:      seed,
		highQueue:   make(chan uint32, cfg.QueueSize),
		normalQueue: make(chan uint32, cfg.QueueSize),
		lowQueue:    make(chan uint32, cfg.QueueSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (e *Engine) Start() {
	log.Info("job engine started", "workers", e.config.Workers)
	for i := 0; i < e.config.Workers; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}
}

func (e *Engine) Stop() {
	log.Info("job engine stopping")
	e.cancel()
	e.wg.Wait()
	log.Info("job engine stopped")
}

// Submit registers the job as Queued and enqueues it. notify may be nil.
func (e *Engine) Submit(job Job, priority Priority, notify ProgressNotifier) (uint32, error) {
	id := atomic.AddUint32(&e.nextID, 1)

	rec := &record{
		info: JobInfo{
			SessionID: id,
			Type:      job.Type(),
			Argument:  job.Argument(),
			Status:    StatusQueued,
			Priority:  priority.String(),
			Total:     -1,
			CreatedAt: time.Now().Unix(),
		},
		job:    job,
		notify: notify,
	}

	e.mu.Lock()
	e.jobs[id] = rec
	e.mu.Unlock()

	var queue chan uint32
	switch priority {
	case PriorityHigh:
		queue = e.highQueue
	case PriorityLow:
		queue = e.lowQueue
	default:
		queue = e.normalQueue
	}

	select {
	case queue <- id:
		atomic.AddInt64(&e.submitted, 1)
		atomic.AddInt64(&e.inQueue, 1)
		log.Debug("job submitted", "job", id, "type", job.Type(), "priority", priority.String())
		return id, nil
	default:
		e.mu.Lock()
		delete(e.jobs, id)
		e.mu.Unlock()
		log.Warn("job rejected, queue full", "type", job.Type(), "priority", priority.String())
		return 0, ErrQueueFull
	}
}

// Status returns a copy of the job's current info.
func (e *Engine) Status(id uint32) (JobInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.jobs[id]
	if !ok {
		return JobInfo{}, ErrNotFound
	}
	return rec.info, nil
}

// List returns all jobs ordered by session id.
func (e *Engine) List() []JobInfo {
	e.mu.RLock()
	out := make([]JobInfo, 0, len(e.jobs))
	for _, rec := range e.jobs {
		out = append(out, rec.info)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Abort cancels a job. A Queued job goes terminal immediately; a Running
// job has its context cancelled and goes terminal when Execute returns.
func (e *Engine) Abort(id uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.jobs[id]
	if !ok {
		return ErrNotFound
	}

	switch rec.info.Status {
	case StatusQueued:
		rec.info.Status = StatusAborted
		rec.info.CompletedAt = time.Now().Unix()
		atomic.AddInt64(&e.aborted, 1)
		log.Info("queued job aborted", "job", id)
		return nil
	case StatusRunning:
		if rec.cancel != nil {
			rec.cancel()
		}
		log.Info("running job abort requested", "job", id)
		return nil
	default:
		return ErrTerminal
	}
}

// Prune drops terminal jobs from the table, returning how many went.
func (e *Engine) Prune() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	pruned := 0
	for id, rec := range e.jobs {
		if rec.info.Status.Terminal() {
			delete(e.jobs, id)
			pruned++
		}
	}
	return pruned
}

func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Submitted: atomic.LoadInt64(&e.submitted),
		Completed: atomic.LoadInt64(&e.completed),
		Failed:    atomic.LoadInt64(&e.failed),
		Aborted:   atomic.LoadInt64(&e.aborted),
		Queued:    atomic.LoadInt64(&e.inQueue),
		Running:   atomic.LoadInt64(&e.running),
		Workers:   e.config.Workers,
	}
}

func (e *Engine) worker(id int) {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		default:
		}

		var jobID uint32
		var ok bool

		select {
		case jobID, ok = <-e.highQueue:
		default:
			select {
			case jobID, ok = <-e.normalQueue:
			default:
				select {
				case jobID, ok = <-e.lowQueue:
				default:
					select {
					case <-e.ctx.Done():
						return
					case <-time.After(10 * time.Millisecond):
					}
					continue
				}
			}
		}

		if !ok {
			continue
		}

		atomic.AddInt64(&e.inQueue, -1)
		e.run(id, jobID)
	}
}

func (e *Engine) run(workerID int, jobID uint32) {
	e.mu.Lock()
	rec, ok := e.jobs[jobID]
	if !ok || rec.info.Status != StatusQueued {
		// Aborted while queued, or pruned.
		e.mu.Unlock()
		return
	}

	jobCtx, cancel := context.WithCancel(e.ctx)
	rec.cancel = cancel
	rec.info.Status = StatusRunning
	rec.info.StartedAt = time.Now().Unix()
	job := rec.job
	e.mu.Unlock()

	atomic.AddInt64(&e.running, 1)
	log.Debug("worker picked job", "worker", workerID, "job", jobID, "type", job.Type())

	env := Env{
		SessionID: jobID,
		Progress: func(bytes, total int64) {
			e.reportProgress(jobID, bytes, total)
		},
	}

	filePath, err := job.Execute(jobCtx, env)
	cancel()
	atomic.AddInt64(&e.running, -1)

	e.mu.Lock()
	defer e.mu.Unlock()

	rec.cancel = nil
	now := time.Now().Unix()

	switch {
	case err != nil && (errors.Is(err, context.Canceled) || jobCtx.Err() != nil):
		if canTransition(rec.info.Status, StatusAborted) {
			rec.info.Status = StatusAborted
			rec.info.CompletedAt = now
			atomic.AddInt64(&e.aborted, 1)
			log.Info("job aborted", "job", jobID)
		}
	case err != nil:
		if canTransition(rec.info.Status, StatusFailed) {
			rec.info.Status = StatusFailed
			rec.info.ErrorMessage = err.Error()
			rec.info.CompletedAt = now
			atomic.AddInt64(&e.failed, 1)
			log.Warn("job failed", "job", jobID, "error", err)
		}
	default:
		if canTransition(rec.info.Status, StatusCompleted) {
			rec.info.Status = StatusCompleted
			rec.info.FilePath = filePath
			rec.info.CompletedAt = now
			atomic.AddInt64(&e.completed, 1)
			log.Info("job completed", "job", jobID, "file", filePath)
		}
	}
}

func (e *Engine) reportProgress(jobID uint32, bytes, total int64) {
	e.mu.Lock()
	rec, ok := e.jobs[jobID]
	if !ok {
		e.mu.Unlock()
		return
	}
	rec.info.Bytes = bytes
	rec.info.Total = total
	notify := rec.notify
	e.mu.Unlock()

	if notify != nil {
		notify(jobID, bytes, total)
	}
}
