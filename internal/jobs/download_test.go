package jobs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aservis/maestro/internal/config"
)

func newDownloadStore(t *testing.T, dir string) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(dir, "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func mustGet(t *testing.T, store *Store, id uint32) *DownloadRecord {
	t.Helper()
	rec, err := store.Get(id)
	if err != nil {
		t.Fatalf("Get(%d): %v", id, err)
	}
	return rec
}

func noProgress(int64, int64) {}

func TestDownloadWritesFinalFile(t *testing.T) {
	payload := bytes.Repeat([]byte("maestro"), 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	store := newDownloadStore(t, dir)

	job, err := NewDownloadJob(srv.URL+"/music/track.mp3", dir, srv.Client(), store)
	if err != nil {
		t.Fatalf("NewDownloadJob: %v", err)
	}

	final, err := job.Execute(context.Background(), Env{SessionID: 1, Progress: noProgress})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if filepath.Base(final) != "track.mp3" {
		t.Errorf("final name: %s", final)
	}

	got, err := os.ReadFile(final)
	if err != nil {
		t.Fatalf("read final file: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("content mismatch: %d bytes vs %d sent", len(got), len(payload))
	}
	if _, err := os.Stat(filepath.Join(dir, "download_1")); !os.IsNotExist(err) {
		t.Error("partial file should be gone after completion")
	}

	sum := sha256.Sum256(payload)
	rec := mustGet(t, store, 1)
	if rec.Status != "completed" {
		t.Errorf("record status: %s", rec.Status)
	}
	if rec.ContentHash != hex.EncodeToString(sum[:]) {
		t.Errorf("content hash: %s", rec.ContentHash)
	}
	if rec.BytesDownloaded != int64(len(payload)) {
		t.Errorf("bytes recorded: %d, want %d", rec.BytesDownloaded, len(payload))
	}
}

func TestDownloadAbortRemovesPartialFile(t *testing.T) {
	sent := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("x"), 64*1024))
		w.(http.Flusher).Flush()
		close(sent)
		<-r.Context().Done()
	}))
	defer srv.Close()

	dir := t.TempDir()
	store := newDownloadStore(t, dir)

	job, err := NewDownloadJob(srv.URL+"/big.bin", dir, srv.Client(), store)
	if err != nil {
		t.Fatalf("NewDownloadJob: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		_, err := job.Execute(ctx, Env{SessionID: 2, Progress: noProgress})
		errCh <- err
	}()

	<-sent
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return after cancel")
	}

	if _, err := os.Stat(filepath.Join(dir, "download_2")); !os.IsNotExist(err) {
		t.Error("partial file should be removed on abort")
	}
	if _, err := os.Stat(filepath.Join(dir, "big.bin")); !os.IsNotExist(err) {
		t.Error("aborted download must not produce a final file")
	}
	if rec := mustGet(t, store, 2); rec.Status != "aborted" {
		t.Errorf("record status: %s", rec.Status)
	}
}

func TestDownloadResumesFromPartial(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 4096)
	var gotRange atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange.Store(r.Header.Get("Range"))
		http.ServeContent(w, r, "archive.bin", time.Now(), bytes.NewReader(payload))
	}))
	defer srv.Close()

	dir := t.TempDir()
	partial := filepath.Join(dir, "download_7")
	if err := os.WriteFile(partial, payload[:20_000], 0o600); err != nil {
		t.Fatalf("seed partial: %v", err)
	}

	job, err := NewDownloadJob(srv.URL+"/archive.bin", dir, srv.Client(), nil)
	if err != nil {
		t.Fatalf("NewDownloadJob: %v", err)
	}

	final, err := job.Execute(context.Background(), Env{SessionID: 7, Progress: noProgress})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if r, _ := gotRange.Load().(string); r != "bytes=20000-" {
		t.Errorf("range header: %q", r)
	}
	got, err := os.ReadFile(final)
	if err != nil {
		t.Fatalf("read final file: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("resumed content differs from the source")
	}
}

func TestDownloadFailureKeepsPartial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	dir := t.TempDir()
	store := newDownloadStore(t, dir)
	partial := filepath.Join(dir, "download_3")
	if err := os.WriteFile(partial, []byte("partial data"), 0o600); err != nil {
		t.Fatalf("seed partial: %v", err)
	}

	job, err := NewDownloadJob(srv.URL+"/file.bin", dir, srv.Client(), store)
	if err != nil {
		t.Fatalf("NewDownloadJob: %v", err)
	}
	if _, err := job.Execute(context.Background(), Env{SessionID: 3, Progress: noProgress}); err == nil {
		t.Fatal("expected an error for a 503 response")
	}

	if _, err := os.Stat(partial); err != nil {
		t.Error("partial should survive a retryable failure")
	}
	rec := mustGet(t, store, 3)
	if rec.Status != "failed" || rec.Error == "" {
		t.Errorf("record: status %s, error %q", rec.Status, rec.Error)
	}
}

func TestNewDownloadJobRejectsBadScheme(t *testing.T) {
	for _, raw := range []string{"ftp://example.com/f.bin", "file:///etc/passwd", "not a url", ""} {
		if _, err := NewDownloadJob(raw, t.TempDir(), nil, nil); err == nil {
			t.Errorf("NewDownloadJob(%q) should fail", raw)
		}
	}
}

func TestResumeOrphansRequeuesRunning(t *testing.T) {
	payload := bytes.Repeat([]byte("resume"), 10_000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "song.mp3", time.Now(), bytes.NewReader(payload))
	}))
	defer srv.Close()

	dir := t.TempDir()
	store := newDownloadStore(t, dir)

	// A previous process died mid-transfer: a running row and its partial.
	orphan := filepath.Join(dir, "download_9")
	if err := os.WriteFile(orphan, payload[:10_000], 0o600); err != nil {
		t.Fatalf("seed partial: %v", err)
	}
	if err := store.Begin(9, srv.URL+"/song.mp3", orphan); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	seed, err := store.MaxSessionID()
	if err != nil {
		t.Fatalf("MaxSessionID: %v", err)
	}
	engine := NewEngine(config.JobsConfig{Workers: 1, QueueSize: 8}, seed)
	engine.Start()
	t.Cleanup(engine.Stop)

	if n := ResumeOrphans(engine, store, dir, nil); n != 1 {
		t.Fatalf("resumed %d jobs, want 1", n)
	}

	info, err := engine.WaitTerminal(seed+1, 5*time.Second)
	if err != nil {
		t.Fatalf("wait for resumed job: %v", err)
	}
	if info.Status != StatusCompleted {
		t.Fatalf("resumed job %s: %s", info.Status, info.ErrorMessage)
	}

	got, err := os.ReadFile(info.FilePath)
	if err != nil {
		t.Fatalf("read final file: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("resumed download content differs from the source")
	}

	if rec := mustGet(t, store, 9); rec.Status != "aborted" {
		t.Errorf("orphaned row should be closed out, got %s", rec.Status)
	}
	if rec := mustGet(t, store, seed+1); rec.Status != "completed" {
		t.Errorf("resumed row status: %s", rec.Status)
	}
}
