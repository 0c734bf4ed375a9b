package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/aservis/maestro/internal/watcher"
)

// LoadManifest reads the services.json declaration file: a JSON array of
// {name, host, port, capabilities}. A missing file is an empty manifest.
func LoadManifest(path string) ([]ServiceInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var entries []ServiceInfo
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return entries, nil
}

// SyncManifest reconciles the registry with the manifest: every declared
// service is (re-)registered, and manifest-sourced services that vanished
// from the file are unregistered. Services registered over the protocol
// are left alone.
func SyncManifest(registry *Registry, entries []ServiceInfo) error {
	declared := make(map[string]bool, len(entries))
	var firstErr error

	for _, info := range entries {
		declared[info.Name] = true
		if err := registry.Register(info, SourceManifest); err != nil {
			log.Warn("manifest entry rejected", "service", info.Name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	for _, svc := range registry.List() {
		if svc.Source == SourceManifest && !declared[svc.Name] {
			registry.Unregister(svc.Name)
		}
	}
	return firstErr
}

// ManifestWatcher reloads and re-syncs the manifest whenever the file
// changes on disk.
type ManifestWatcher struct {
	path     string
	registry *Registry
	watcher  *watcher.Watcher
}

func NewManifestWatcher(path string, registry *Registry, cfg watcher.WatcherConfig) (*ManifestWatcher, error) {
	mw := &ManifestWatcher{path: path, registry: registry}

	w, err := watcher.New(cfg, func(events []watcher.FileEvent) {
		mw.reload()
	})
	if err != nil {
		return nil, err
	}
	mw.watcher = w

	if err := w.Watch(path); err != nil {
		return nil, err
	}
	return mw, nil
}

func (mw *ManifestWatcher) Start(ctx context.Context) error {
	// Initial load before watching so startup state matches the file.
	mw.reload()
	return mw.watcher.Start(ctx)
}

func (mw *ManifestWatcher) Stop() {
	mw.watcher.Stop()
}

func (mw *ManifestWatcher) reload() {
	entries, err := LoadManifest(mw.path)
	if err != nil {
		log.Error("manifest reload failed", "path", mw.path, "error", err)
		return
	}
	if err := SyncManifest(mw.registry, entries); err != nil {
		log.Warn("manifest sync completed with errors", "path", mw.path, "error", err)
	}
	log.Debug("manifest synced", "path", mw.path, "services", len(entries))
}
