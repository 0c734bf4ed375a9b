package ctxstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var ErrNotFound = errors.New("ctxstore: not found")

const (
	kindUsers    = "users"
	kindSessions = "sessions"
	kindDevices  = "devices"
)

// fileStore persists one entity per JSON file under <root>/<kind>/<id>.json.
type fileStore struct {
	root string
}

func newFileStore(root string) (*fileStore, error) {
	for _, kind := range []string{kindUsers, kindSessions, kindDevices} {
		if err := os.MkdirAll(filepath.Join(root, kind), 0o700); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", kind, err)
		}
	}
	return &fileStore{root: root}, nil
}

func (f *fileStore) path(kind, id string) string {
	return filepath.Join(f.root, kind, id+".json")
}

// save writes atomically: a tempfile in the target directory, then rename,
// so readers never observe a torn file.
func (f *fileStore) save(kind, id string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", kind, id, err)
	}

	dir := filepath.Join(f.root, kind)
	tmp, err := os.CreateTemp(dir, id+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, f.path(kind, id))
}

func (f *fileStore) load(kind, id string, v any) error {
	data, err := os.ReadFile(f.path(kind, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s/%s: %w", kind, id, err)
	}
	return nil
}

func (f *fileStore) delete(kind, id string) error {
	err := os.Remove(f.path(kind, id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// list returns the ids present on disk for a kind.
func (f *fileStore) list(kind string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(f.root, kind))
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}
