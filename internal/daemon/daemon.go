// Package daemon assembles the maestro process: state stores, the job
// engine, the service registry with its prober and manifest watcher, the
// orchestrator, the MCP server with its tool/resource/prompt surfaces,
// and the enabled UI adapters. One Daemon owns one working directory.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"golang.org/x/sync/errgroup"

	"github.com/aservis/maestro/internal/config"
	"github.com/aservis/maestro/internal/ctxstore"
	"github.com/aservis/maestro/internal/jobs"
	"github.com/aservis/maestro/internal/logger"
	"github.com/aservis/maestro/internal/mcp"
	"github.com/aservis/maestro/internal/nlp"
	"github.com/aservis/maestro/internal/orchestrator"
	"github.com/aservis/maestro/internal/prompts"
	"github.com/aservis/maestro/internal/resources"
	"github.com/aservis/maestro/internal/router"
	"github.com/aservis/maestro/internal/rpc"
	"github.com/aservis/maestro/internal/services"
	"github.com/aservis/maestro/internal/tools"
	"github.com/aservis/maestro/internal/tools/maestro"
	"github.com/aservis/maestro/internal/transport"
	"github.com/aservis/maestro/internal/ui"
)

var log = logger.ForComponent("daemon")

type Daemon struct {
	cfg *config.Config

	lock *LockFile
	pid  *PIDFile

	store     *ctxstore.Store
	registry  *services.Registry
	prober    *services.Prober
	manifest  *services.ManifestWatcher
	downloads *jobs.Store
	engine    *jobs.Engine
	router    *router.Router
	orch      *orchestrator.Orchestrator
	server    *mcp.Server
	adapters  []ui.Adapter

	ln        net.Listener
	startedAt time.Time

	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

// New wires the daemon from configuration. Nothing is started and no
// files are locked until Start.
func New(cfg *config.Config) (*Daemon, error) {
	cfg.ResolvePaths()
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("prepare working dir: %w", err)
	}

	d := &Daemon{
		cfg:  cfg,
		lock: NewLockFile(cfg.LockPath),
		pid:  NewPIDFile(cfg.PIDPath),
		done: make(chan struct{}),
	}

	store, err := ctxstore.NewStore(cfg.WorkingDir, cfg.Context)
	if err != nil {
		return nil, fmt.Errorf("context store: %w", err)
	}
	d.store = store

	downloads, err := jobs.NewStore(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("download store: %w", err)
	}
	d.downloads = downloads

	// Seed the job counter past anything persisted so restarted daemons
	// never reuse a session id that is still in the database.
	seed, err := downloads.MaxSessionID()
	if err != nil {
		log.Warn("job id seed unavailable, starting from zero", "error", err)
	}
	d.engine = jobs.NewEngine(cfg.Jobs, seed)

	breaker := services.DefaultBreakerConfig()
	if cfg.Services.FailureThreshold > 0 {
		breaker.FailureThreshold = cfg.Services.FailureThreshold
	}
	d.registry = services.NewRegistry(breaker)
	d.prober = services.NewProber(d.registry, cfg.Services)

	manifest, err := services.NewManifestWatcher(cfg.ManifestPath, d.registry, cfg.Watcher)
	if err != nil {
		downloads.Close()
		return nil, fmt.Errorf("manifest watcher: %w", err)
	}
	d.manifest = manifest

	clientCfg := rpc.DefaultClientConfig()
	clientCfg.RequestTimeout = cfg.Server.RequestTimeout
	rt, err := router.New(d.registry, cfg.Router.ClientPoolSize, clientCfg)
	if err != nil {
		downloads.Close()
		return nil, fmt.Errorf("router: %w", err)
	}
	d.router = rt

	d.orch = orchestrator.New(orchestrator.Deps{
		Store:        store,
		Classifier:   nlp.NewClassifier(),
		Router:       rt,
		Engine:       d.engine,
		Downloads:    downloads,
		WorkingDir:   cfg.WorkingDir,
		VoiceEnabled: cfg.Adapters.Voice,
	})

	toolReg := tools.NewRegistry()
	for _, tool := range maestro.GetTools(maestro.Deps{
		Gateway:    d.orch,
		Engine:     d.engine,
		Downloads:  downloads,
		WorkingDir: cfg.WorkingDir,
		Registry:   d.registry,
		Router:     rt,
		Store:      store,
		Stats:      func() any { return d.server.Stats() },
	}) {
		if err := toolReg.Register(tool); err != nil {
			downloads.Close()
			rt.Close()
			return nil, fmt.Errorf("register tools: %w", err)
		}
	}

	d.server = mcp.NewServer(cfg.Server, toolReg, d.resources(), d.prompts(),
		mcp.WithShutdownHook(func() { d.Stop() }))

	d.adapters = d.buildAdapters()
	return d, nil
}

// resources exposes live daemon state as MCP resources. Each provider
// snapshots at read time.
func (d *Daemon) resources() *resources.Registry {
	reg := resources.NewRegistry()

	reg.Register(resources.Resource{
		URI:         "maestro://services",
		Name:        "Registered services",
		Description: "Backend services with capabilities and health",
		MimeType:    "application/json",
		Provider: func(context.Context) (string, error) {
			return marshalJSON(d.registry.List())
		},
	})
	reg.Register(resources.Resource{
		URI:         "maestro://sessions",
		Name:        "Sessions",
		Description: "Conversation sessions with activity state",
		MimeType:    "application/json",
		Provider: func(context.Context) (string, error) {
			now := time.Now()
			type view struct {
				SessionID     string `json:"sessionId"`
				UserID        string `json:"userId"`
				InterfaceType string `json:"interfaceType"`
				LastAccessed  int64  `json:"lastAccessed"`
				Active        bool   `json:"active"`
			}
			sessions := d.store.Sessions()
			views := make([]view, 0, len(sessions))
			for _, s := range sessions {
				views = append(views, view{
					SessionID:     s.SessionID,
					UserID:        s.UserID,
					InterfaceType: s.InterfaceType,
					LastAccessed:  s.LastAccessed,
					Active:        s.Active(now, d.cfg.Context.SessionTTL),
				})
			}
			return marshalJSON(views)
		},
	})
	reg.Register(resources.Resource{
		URI:         "maestro://stats",
		Name:        "Server statistics",
		Description: "Request counters and job engine statistics",
		MimeType:    "application/json",
		Provider: func(context.Context) (string, error) {
			return marshalJSON(map[string]any{
				"server":  d.server.Stats(),
				"jobs":    d.engine.Stats(),
				"uptime":  time.Since(d.startedAt).Round(time.Second).String(),
				"started": d.startedAt.UTC().Format(time.RFC3339),
			})
		},
	})
	reg.Register(resources.Resource{
		URI:         "maestro://intents",
		Name:        "Intents",
		Description: "Known intents, their phrases and capability routing",
		MimeType:    "application/json",
		Provider: func(context.Context) (string, error) {
			return marshalJSON(map[string]any{
				"intents":      nlp.Intents(),
				"phrases":      nlp.PatternsByIntent(),
				"capabilities": router.Capabilities(),
			})
		},
	})

	return reg
}

func (d *Daemon) prompts() *prompts.Registry {
	reg := prompts.NewRegistry()
	reg.Register(prompts.CommandHelp(nlp.Intents(), nlp.PatternsByIntent()))
	return reg
}

func (d *Daemon) buildAdapters() []ui.Adapter {
	var adapters []ui.Adapter

	if d.cfg.Adapters.Text {
		if d.cfg.Server.Stdio {
			log.Warn("text adapter disabled: --stdio claims the terminal")
		} else {
			adapters = append(adapters, ui.NewTextAdapter(d.orch, os.Stdin, os.Stdout))
		}
	}
	if d.cfg.Adapters.Web {
		adapters = append(adapters, ui.NewWebAdapter(d.orch, d.store, d.server, ui.WebConfig{
			Port:         d.cfg.Server.WebPort,
			MaxFrameSize: d.cfg.Server.MaxFrameSize,
			SessionTTL:   d.cfg.Context.SessionTTL,
		}))
	}
	if d.cfg.Adapters.Mobile {
		adapters = append(adapters, ui.NewMobileAdapter(d.orch, d.cfg.Server.MobilePort))
	}
	if d.cfg.Adapters.Voice {
		adapters = append(adapters, ui.NewVoiceAdapter())
	}
	return adapters
}

// Start acquires the working directory, starts every subsystem and begins
// accepting connections. On failure everything already started is torn
// down before returning.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.lock.Acquire(); err != nil {
		return fmt.Errorf("working dir %s: %w", d.cfg.WorkingDir, err)
	}
	if err := d.pid.Write(); err != nil {
		d.lock.Release()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.startedAt = time.Now()

	// Forward log records to connections subscribed via logging/setLevel.
	logger.SetMirror(d.server.Sink())

	d.store.Start(runCtx)
	d.engine.Start()
	jobs.ResumeOrphans(d.engine, d.downloads, d.cfg.WorkingDir, nil)

	if err := d.manifest.Start(runCtx); err != nil {
		log.Warn("manifest watching disabled", "path", d.cfg.ManifestPath, "error", err)
	}
	d.prober.Start(runCtx)

	var g errgroup.Group
	for _, adapter := range d.adapters {
		adapter := adapter
		g.Go(func() error {
			if err := adapter.Start(runCtx); err != nil {
				return fmt.Errorf("%s adapter: %w", adapter.Name(), err)
			}
			log.Info("adapter started", "adapter", adapter.Name())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		d.Stop()
		return err
	}

	if d.cfg.Server.Stdio {
		stream := transport.NewStdioStream(transport.NewStdioPipe(os.Stdin, os.Stdout), d.cfg.Server.MaxFrameSize)
		conn := d.server.ServeStream(runCtx, stream)
		go func() {
			<-conn.DisconnectNotify()
			d.Stop()
		}()
		log.Info("serving MCP on stdio")
	} else {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", d.cfg.Server.Port))
		if err != nil {
			d.Stop()
			return fmt.Errorf("listen: %w", err)
		}
		d.ln = ln
		go d.server.ServeListener(runCtx, ln, func(c net.Conn) jsonrpc2.ObjectStream {
			return transport.NewTCPStream(c, d.cfg.Server.MaxFrameSize)
		})
		log.Info("serving MCP on tcp", "addr", ln.Addr().String())
	}

	log.Info("daemon started",
		"workingDir", d.cfg.WorkingDir,
		"adapters", len(d.adapters),
		"pid", os.Getpid())
	return nil
}

// Stop shuts everything down in reverse dependency order: stop accepting,
// close connections, stop background workers, flush state, release the
// working directory. Safe to call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		log.Info("daemon stopping")

		if d.ln != nil {
			d.ln.Close()
		}
		for i := len(d.adapters) - 1; i >= 0; i-- {
			d.adapters[i].Stop()
		}
		d.server.Close()

		// cancel is only set once Start has launched the background
		// subsystems; their Stop methods wait on goroutines that would
		// otherwise never exist.
		if d.cancel != nil {
			d.cancel()
			d.prober.Stop()
			d.manifest.Stop()
			d.engine.Stop()
			d.store.Stop()
		}
		d.router.Close()

		d.teardown()
		log.Info("daemon stopped", "uptime", time.Since(d.startedAt).Round(time.Second))
		close(d.done)
	})
}

// teardown releases process-level resources and must tolerate partial
// initialization.
func (d *Daemon) teardown() {
	logger.SetMirror(nil)
	if d.downloads != nil {
		d.downloads.Close()
	}
	d.pid.Remove()
	d.lock.Release()
}

// Done is closed once Stop completes.
func (d *Daemon) Done() <-chan struct{} { return d.done }

// Addr returns the TCP listen address, empty when serving stdio only.
func (d *Daemon) Addr() string {
	if d.ln == nil {
		return ""
	}
	return d.ln.Addr().String()
}

// Uptime reports how long the daemon has been running.
func (d *Daemon) Uptime() time.Duration {
	return time.Since(d.startedAt)
}

func marshalJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
