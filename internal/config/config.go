package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/aservis/maestro/internal/watcher"
)

type ServerConfig struct {
	Port                  int
	WebPort               int
	MobilePort            int
	Stdio                 bool
	MaxConcurrentRequests int
	RequestTimeout        time.Duration
	MaxFrameSize          int
}

type AdapterConfig struct {
	Voice  bool
	Text   bool
	Web    bool
	Mobile bool
}

type JobsConfig struct {
	Workers   int
	QueueSize int
}

type ContextConfig struct {
	SweepInterval time.Duration
	SessionTTL    time.Duration
	HistoryLimit  int
}

type ServicesConfig struct {
	ProbeInterval    time.Duration
	ProbeTimeout     time.Duration
	FailureThreshold int
}

type RouterConfig struct {
	ClientPoolSize int
}

type Config struct {
	WorkingDir   string
	ManifestPath string
	DatabasePath string
	LockPath     string
	PIDPath      string
	LogLevel     string
	LogFormat    string

	Server   ServerConfig
	Adapters AdapterConfig
	Jobs     JobsConfig
	Context  ContextConfig
	Services ServicesConfig
	Router   RouterConfig
	Watcher  watcher.WatcherConfig
}

func Load() *Config {
	homeDir, _ := os.UserHomeDir()
	workingDir := filepath.Join(homeDir, ".maestro")

	cfg := &Config{
		WorkingDir: workingDir,
		LogLevel:   "info",
		LogFormat:  "text",
		Server: ServerConfig{
			Port:                  8795,
			WebPort:               8796,
			MobilePort:            8797,
			MaxConcurrentRequests: 64,
			RequestTimeout:        30 * time.Second,
			MaxFrameSize:          16 * 1024 * 1024,
		},
		Adapters: AdapterConfig{},
		Jobs: JobsConfig{
			Workers:   4,
			QueueSize: 256,
		},
		Context: ContextConfig{
			SweepInterval: time.Minute,
			SessionTTL:    30 * time.Minute,
			HistoryLimit:  50,
		},
		Services: ServicesConfig{
			ProbeInterval:    30 * time.Second,
			ProbeTimeout:     2 * time.Second,
			FailureThreshold: 3,
		},
		Router: RouterConfig{
			ClientPoolSize: 8,
		},
		Watcher: watcher.DefaultWatcherConfig(),
	}
	cfg.ResolvePaths()
	return cfg
}

// ResolvePaths rebinds the derived file locations after WorkingDir changes
// (the --working-dir flag).
func (c *Config) ResolvePaths() {
	c.ManifestPath = filepath.Join(c.WorkingDir, "services.json")
	c.DatabasePath = filepath.Join(c.WorkingDir, "maestro.db")
	c.LockPath = filepath.Join(c.WorkingDir, "maestro.lock")
	c.PIDPath = filepath.Join(c.WorkingDir, "maestro.pid")
}

func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{
		c.WorkingDir,
		filepath.Join(c.WorkingDir, "users"),
		filepath.Join(c.WorkingDir, "sessions"),
		filepath.Join(c.WorkingDir, "devices"),
	} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return nil
}
