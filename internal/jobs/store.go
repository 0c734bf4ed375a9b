package jobs

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DownloadRecord is the durable row behind one download job, kept so
// partial files can resume after a restart and list_jobs can show history
// beyond the process lifetime.
type DownloadRecord struct {
	SessionID       uint32    `json:"sessionId"`
	URL             string    `json:"url"`
	FilePath        string    `json:"filePath"`
	BytesDownloaded int64     `json:"bytesDownloaded"`
	TotalBytes      int64     `json:"totalBytes"`
	Status          string    `json:"status"`
	ContentHash     string    `json:"contentHash,omitempty"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Store persists download sessions in SQLite under the working directory.
type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, err
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS download_sessions (
		session_id INTEGER PRIMARY KEY,
		url TEXT NOT NULL,
		file_path TEXT DEFAULT '',
		bytes_downloaded INTEGER DEFAULT 0,
		total_bytes INTEGER DEFAULT -1,
		status TEXT NOT NULL,
		content_hash TEXT DEFAULT '',
		error TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_download_sessions_status ON download_sessions(status);
	`

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Begin records a download starting (or restarting after a crash).
func (s *Store) Begin(sessionID uint32, url, filePath string) error {
	_, err := s.db.Exec(`
		INSERT INTO download_sessions (session_id, url, file_path, status)
		VALUES (?, ?, ?, 'running')
		ON CONFLICT(session_id) DO UPDATE SET
			url = excluded.url,
			file_path = excluded.file_path,
			status = 'running',
			error = '',
			updated_at = CURRENT_TIMESTAMP`,
		sessionID, url, filePath)
	return err
}

func (s *Store) UpdateProgress(sessionID uint32, bytes, total int64) error {
	_, err := s.db.Exec(`
		UPDATE download_sessions
		SET bytes_downloaded = ?, total_bytes = ?, updated_at = CURRENT_TIMESTAMP
		WHERE session_id = ?`,
		bytes, total, sessionID)
	return err
}

func (s *Store) Complete(sessionID uint32, filePath, contentHash string, bytes int64) error {
	_, err := s.db.Exec(`
		UPDATE download_sessions
		SET status = 'completed', file_path = ?, content_hash = ?,
		    bytes_downloaded = ?, updated_at = CURRENT_TIMESTAMP
		WHERE session_id = ?`,
		filePath, contentHash, bytes, sessionID)
	return err
}

func (s *Store) Fail(sessionID uint32, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE download_sessions
		SET status = 'failed', error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE session_id = ?`,
		errMsg, sessionID)
	return err
}

func (s *Store) MarkAborted(sessionID uint32) error {
	_, err := s.db.Exec(`
		UPDATE download_sessions
		SET status = 'aborted', updated_at = CURRENT_TIMESTAMP
		WHERE session_id = ?`,
		sessionID)
	return err
}

func (s *Store) Get(sessionID uint32) (*DownloadRecord, error) {
	row := s.db.QueryRow(`
		SELECT session_id, url, file_path, bytes_downloaded, total_bytes,
		       status, content_hash, error, created_at, updated_at
		FROM download_sessions WHERE session_id = ?`, sessionID)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("download session %d not found", sessionID)
	}
	return rec, err
}

func (s *Store) List() ([]DownloadRecord, error) {
	rows, err := s.db.Query(`
		SELECT session_id, url, file_path, bytes_downloaded, total_bytes,
		       status, content_hash, error, created_at, updated_at
		FROM download_sessions ORDER BY session_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DownloadRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// MaxSessionID seeds the engine's id counter so ids stay unique across
// restarts.
func (s *Store) MaxSessionID() (uint32, error) {
	var maxID sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(session_id) FROM download_sessions`).Scan(&maxID); err != nil {
		return 0, err
	}
	if !maxID.Valid {
		return 0, nil
	}
	return uint32(maxID.Int64), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*DownloadRecord, error) {
	var rec DownloadRecord
	err := row.Scan(
		&rec.SessionID, &rec.URL, &rec.FilePath,
		&rec.BytesDownloaded, &rec.TotalBytes,
		&rec.Status, &rec.ContentHash, &rec.Error,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
