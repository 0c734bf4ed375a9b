// maestro turns natural-language commands into tool calls on backend
// services, speaking MCP over TCP or stdio. One instance owns one working
// directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aservis/maestro/internal/config"
	"github.com/aservis/maestro/internal/daemon"
	"github.com/aservis/maestro/internal/logger"
	"github.com/aservis/maestro/internal/mcp"
)

func main() {
	cfg := config.Load()

	var enableAll bool
	var showVersion bool

	flag.StringVar(&cfg.WorkingDir, "working-dir", cfg.WorkingDir, "state directory (lock, pid, database, manifest)")
	flag.IntVar(&cfg.Server.Port, "port", cfg.Server.Port, "MCP TCP port")
	flag.IntVar(&cfg.Server.WebPort, "web-port", cfg.Server.WebPort, "web adapter HTTP port")
	flag.IntVar(&cfg.Server.MobilePort, "mobile-port", cfg.Server.MobilePort, "mobile adapter HTTP port")
	flag.BoolVar(&cfg.Server.Stdio, "stdio", cfg.Server.Stdio, "serve MCP on stdin/stdout instead of TCP")
	flag.BoolVar(&cfg.Adapters.Voice, "enable-voice", cfg.Adapters.Voice, "accept voice-interface sessions")
	flag.BoolVar(&cfg.Adapters.Text, "enable-text", cfg.Adapters.Text, "run the interactive text shell")
	flag.BoolVar(&cfg.Adapters.Web, "enable-web", cfg.Adapters.Web, "run the web adapter")
	flag.BoolVar(&cfg.Adapters.Mobile, "enable-mobile", cfg.Adapters.Mobile, "run the mobile adapter")
	flag.BoolVar(&enableAll, "enable-all", false, "enable every interface adapter")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text or json")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s %s\n", mcp.ServerName, mcp.ServerVersion)
		return
	}

	if enableAll {
		cfg.Adapters.Voice = true
		cfg.Adapters.Text = true
		cfg.Adapters.Web = true
		cfg.Adapters.Mobile = true
	}
	cfg.ResolvePaths()

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "maestro: %v\n", err)
		os.Exit(2)
	}
	logCfg := logger.DefaultConfig()
	logCfg.Level = level
	logCfg.Format = cfg.LogFormat
	// Stdout carries the protocol when serving stdio; DefaultConfig already
	// writes to stderr, which keeps both modes clean.
	logger.Init(logCfg)

	d, err := daemon.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "maestro: %v\n", err)
		os.Exit(1)
	}
	if err := d.Start(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "maestro: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// The daemon can also stop on its own: the shutdown request or a
	// closed stdio stream.
	select {
	case sig := <-sigCh:
		fmt.Fprintf(os.Stderr, "maestro: received %s, shutting down\n", sig)
		d.Stop()
	case <-d.Done():
	}
	<-d.Done()
}
