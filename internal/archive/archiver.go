package archive

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cleverdesk/printing-agent/internal/spool"
)

const schema = `
CREATE TABLE IF NOT EXISTS job_history (
	job_id        TEXT PRIMARY KEY,
	server_job_id TEXT,
	status        TEXT NOT NULL,
	priority      TEXT NOT NULL,
	retry_count   INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	printer_name  TEXT,
	copies        INTEGER NOT NULL DEFAULT 1,
	created_at    DATETIME NOT NULL,
	archived_at   DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_job_history_archived_at ON job_history(archived_at);
`

type Record struct {
	JobID        string    `json:"jobId"`
	ServerJobID  string    `json:"serverJobId,omitempty"`
	Status       string    `json:"status"`
	Priority     string    `json:"priority"`
	RetryCount   int       `json:"retryCount"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	PrinterName  string    `json:"printerName,omitempty"`
	Copies       int       `json:"copies"`
	CreatedAt    time.Time `json:"createdAt"`
	ArchivedAt   time.Time `json:"archivedAt"`
}

// Archiver appends terminal-state jobs to a SQLite audit log. The log is
// write-only at runtime: jobs are never read back into the queue.
type Archiver struct {
	db *sql.DB
	mu sync.Mutex
	wg sync.WaitGroup
}

func Open(path string) (*Archiver, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply archive schema: %w", err)
	}

	return &Archiver{db: db}, nil
}

// Watch consumes spooler events until the channel closes, archiving every
// job that reaches a terminal state.
func (a *Archiver) Watch(events <-chan spool.Event) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for ev := range events {
			if !ev.Job.Status.Terminal() {
				continue
			}
			if err := a.Record(ev.Job); err != nil {
				log.Printf("[archive] failed to record job %s: %v", ev.Job.ID, err)
			}
		}
	}()
}

func (a *Archiver) Record(job spool.Job) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := a.db.Exec(`
		INSERT OR REPLACE INTO job_history
		(job_id, server_job_id, status, priority, retry_count, error_message, printer_name, copies, created_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.ServerJobID, string(job.Status), string(job.Priority), job.RetryCount,
		job.LastError, job.Options.PrinterName, job.Options.Copies, job.CreatedAt, time.Now())
	if err != nil {
		return fmt.Errorf("insert job history: %w", err)
	}
	return nil
}

func (a *Archiver) List(limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	rows, err := a.db.Query(`
		SELECT job_id, server_job_id, status, priority, retry_count, error_message, printer_name, copies, created_at, archived_at
		FROM job_history
		ORDER BY archived_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query job history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var serverJobID, errMsg, printerName sql.NullString
		if err := rows.Scan(&r.JobID, &serverJobID, &r.Status, &r.Priority, &r.RetryCount,
			&errMsg, &printerName, &r.Copies, &r.CreatedAt, &r.ArchivedAt); err != nil {
			return nil, fmt.Errorf("scan job history: %w", err)
		}
		r.ServerJobID = serverJobID.String
		r.ErrorMessage = errMsg.String
		r.PrinterName = printerName.String
		records = append(records, r)
	}
	return records, rows.Err()
}

func (a *Archiver) Close() error {
	a.wg.Wait()
	return a.db.Close()
}
