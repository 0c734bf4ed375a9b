package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
)

const progressEvery = 256 * 1024

// DownloadJob fetches a URL into the working directory. The transfer
// streams into download_<sessionId> and is moved to its final name only
// on success, so a crash or abort never leaves a half file under the
// final name. An existing partial resumes with a Range request.
type DownloadJob struct {
	url        string
	workingDir string
	client     *http.Client
	store      *Store

	// resumeFrom points at a partial file left by an earlier process.
	// The job adopts it under its own session id before transferring.
	resumeFrom string
}

// NewDownloadJob builds a download. client may be nil for a default with
// no overall timeout (downloads are bounded by abort, not wall clock);
// store may be nil to skip durable bookkeeping.
func NewDownloadJob(rawURL, workingDir string, client *http.Client, store *Store) (*DownloadJob, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("unsupported download url: %s", rawURL)
	}
	if client == nil {
		client = &http.Client{}
	}
	return &DownloadJob{
		url:        rawURL,
		workingDir: workingDir,
		client:     client,
		store:      store,
	}, nil
}

func (d *DownloadJob) Type() string     { return "download" }
func (d *DownloadJob) Argument() string { return d.url }

func (d *DownloadJob) Execute(ctx context.Context, env Env) (string, error) {
	partial := filepath.Join(d.workingDir, fmt.Sprintf("download_%d", env.SessionID))

	if d.resumeFrom != "" && d.resumeFrom != partial {
		if _, err := os.Stat(partial); os.IsNotExist(err) {
			if err := os.Rename(d.resumeFrom, partial); err == nil {
				log.Debug("adopted orphaned partial", "job", env.SessionID, "from", d.resumeFrom)
			}
		}
	}

	if d.store != nil {
		if err := d.store.Begin(env.SessionID, d.url, partial); err != nil {
			log.Warn("download bookkeeping failed", "job", env.SessionID, "error", err)
		}
	}

	written, err := d.transfer(ctx, env, partial)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			os.Remove(partial)
			if d.store != nil {
				d.store.MarkAborted(env.SessionID)
			}
			return "", context.Canceled
		}
		// Other failures keep the partial file so a retry can resume.
		if d.store != nil {
			d.store.Fail(env.SessionID, err.Error())
		}
		return "", err
	}

	hash, err := hashFile(partial)
	if err != nil {
		if d.store != nil {
			d.store.Fail(env.SessionID, err.Error())
		}
		return "", fmt.Errorf("hash downloaded file: %w", err)
	}

	final := filepath.Join(d.workingDir, d.finalName())
	if err := os.Rename(partial, final); err != nil {
		if d.store != nil {
			d.store.Fail(env.SessionID, err.Error())
		}
		return "", fmt.Errorf("move download into place: %w", err)
	}

	if d.store != nil {
		d.store.Complete(env.SessionID, final, hash, written)
	}
	log.Info("download completed",
		"job", env.SessionID, "url", d.url, "file", final,
		"size", humanize.Bytes(uint64(written)), "sha256", hash)

	return final, nil
}

// transfer streams the body into the partial file, resuming from its
// current size when the server honors Range. Returns the byte count of
// the completed file.
func (d *DownloadJob) transfer(ctx context.Context, env Env, partial string) (int64, error) {
	var offset int64
	if info, err := os.Stat(partial); err == nil {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return 0, err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		log.Debug("resuming download", "job", env.SessionID, "offset", humanize.Bytes(uint64(offset)))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var file *os.File
	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		file, err = os.OpenFile(partial, os.O_WRONLY|os.O_APPEND, 0o600)
	case resp.StatusCode == http.StatusOK:
		// Full body: any previous partial restarts from zero.
		offset = 0
		file, err = os.Create(partial)
	default:
		return 0, fmt.Errorf("download %s: unexpected status %s", d.url, resp.Status)
	}
	if err != nil {
		return 0, err
	}
	defer file.Close()

	total := int64(-1)
	if resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	}

	written := offset
	lastReport := int64(0)
	buf := make([]byte, 32*1024)

	report := func() {
		env.Progress(written, total)
		if d.store != nil {
			d.store.UpdateProgress(env.SessionID, written, total)
		}
		lastReport = written
	}

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := file.Write(buf[:n]); writeErr != nil {
				return written, writeErr
			}
			written += int64(n)
			if written-lastReport >= progressEvery {
				report()
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return written, readErr
		}
	}

	if err := file.Sync(); err != nil {
		return written, err
	}
	report()
	return written, nil
}

// finalName derives the destination file name from the URL path.
func (d *DownloadJob) finalName() string {
	parsed, err := url.Parse(d.url)
	if err != nil {
		return "download"
	}
	base := path.Base(parsed.Path)
	if base == "" || base == "." || base == "/" {
		return "download"
	}
	return base
}

func hashFile(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ResumeOrphans re-queues downloads a previous process left running. The
// partial files are still on disk, so the jobs pick up where they were.
func ResumeOrphans(engine *Engine, store *Store, workingDir string, notify ProgressNotifier) int {
	if store == nil {
		return 0
	}
	records, err := store.List()
	if err != nil {
		log.Warn("listing download sessions failed", "error", err)
		return 0
	}

	resumed := 0
	for _, rec := range records {
		if rec.Status != "running" {
			continue
		}
		job, err := NewDownloadJob(rec.URL, workingDir, nil, store)
		if err != nil {
			store.Fail(rec.SessionID, err.Error())
			continue
		}
		job.resumeFrom = rec.FilePath
		if _, err := engine.Submit(job, PriorityNormal, notify); err != nil {
			log.Warn("orphan download not re-queued", "url", rec.URL, "error", err)
			continue
		}
		// The work continues under the new session id; close out the old
		// row so the next restart does not re-queue it again.
		store.MarkAborted(rec.SessionID)
		resumed++
	}
	if resumed > 0 {
		log.Info("re-queued interrupted downloads", "count", resumed)
	}
	return resumed
}

// WaitTerminal polls until the job reaches a terminal state or the
// timeout passes; a convenience for tests and the text adapter.
func (e *Engine) WaitTerminal(id uint32, timeout time.Duration) (JobInfo, error) {
	deadline := time.Now().Add(timeout)
	for {
		info, err := e.Status(id)
		if err != nil {
			return JobInfo{}, err
		}
		if info.Status.Terminal() {
			return info, nil
		}
		if time.Now().After(deadline) {
			return info, fmt.Errorf("job %d still %s after %s", id, info.Status, timeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
