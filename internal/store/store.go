package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Sentinel errors
var (
	ErrNotFound = errors.New("not found")
)

// Computer statuses as persisted.
const (
	StatusOff       = "off"
	StatusRunning   = "running"
	StatusRebooting = "rebooting"
	StatusCrashed   = "crashed"
)

// isBusyLock reports whether err indicates SQLite database lock (SQLITE_BUSY).
// Handles wrapped errors from database/sql.
func isBusyLock(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") || strings.Contains(s, "SQLITE_BUSY")
}

// retryOnBusy runs fn and retries on SQLITE_BUSY with exponential backoff.
func retryOnBusy(fn func() error) error {
	const maxAttempts = 4
	backoff := 25 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isBusyLock(lastErr) {
			return lastErr
		}
		if attempt < maxAttempts-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}

// Computer is the persisted record of one computer id.
type Computer struct {
	ID        int       `json:"id"`
	Label     string    `json:"label,omitempty"`
	Status    string    `json:"status"`
	BootCount int       `json:"boot_count"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Store struct {
	db *sql.DB
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS computers (
	id          INTEGER PRIMARY KEY,
	label       TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'off',
	boot_count  INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_computers_status ON computers(status);
`

// DefaultMaxOpenConns is the default connection pool size for concurrent reads.
// WAL mode allows multiple readers + 1 writer.
const DefaultMaxOpenConns = 4

// dsnWithPragmas returns a connection string with WAL, busy_timeout, and perf
// pragmas applied to every new connection.
func dsnWithPragmas(dbPath string) string {
	// busy_timeout: 15s wait on lock (runner goroutines + API + reaper overlap)
	// journal_mode=WAL: concurrent reads during writes
	// synchronous=NORMAL: safe in WAL
	return dbPath + "?_pragma=busy_timeout(15000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=temp_store(MEMORY)"
}

// New opens the store. maxOpenConns controls the connection pool size (0 = default 4).
func New(dbPath string, maxOpenConns int) (*Store, error) {
	dsn := dsnWithPragmas(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if maxOpenConns <= 0 {
		maxOpenConns = DefaultMaxOpenConns
	}
	if dbPath == ":memory:" {
		// every connection would get its own empty database
		maxOpenConns = 1
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureComputer creates the record for id if it does not exist yet.
func (s *Store) EnsureComputer(id int) error {
	now := time.Now().UTC()
	err := retryOnBusy(func() error {
		_, e := s.db.Exec(
			`INSERT INTO computers (id, status, created_at, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			id, StatusOff, now, now,
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("inserting computer: %w", err)
	}
	return nil
}

func (s *Store) GetComputer(id int) (*Computer, error) {
	row := s.db.QueryRow(
		`SELECT id, label, status, boot_count, last_error, created_at, updated_at
		 FROM computers WHERE id = ?`, id,
	)
	return scanComputer(row)
}

func (s *Store) ListComputers() ([]*Computer, error) {
	rows, err := s.db.Query(
		`SELECT id, label, status, boot_count, last_error, created_at, updated_at
		 FROM computers ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing computers: %w", err)
	}
	defer rows.Close()
	return scanComputers(rows)
}

// ListByStatus returns the records in one status.
func (s *Store) ListByStatus(status string) ([]*Computer, error) {
	rows, err := s.db.Query(
		`SELECT id, label, status, boot_count, last_error, created_at, updated_at
		 FROM computers WHERE status = ? ORDER BY id`, status,
	)
	if err != nil {
		return nil, fmt.Errorf("listing %s computers: %w", status, err)
	}
	defer rows.Close()
	return scanComputers(rows)
}

func (s *Store) UpdateStatus(id int, status string) error {
	return s.exec("updating computer status", id,
		`UPDATE computers SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
}

// RecordBoot marks a computer running and counts the boot.
func (s *Store) RecordBoot(id int) error {
	return s.exec("recording boot", id,
		`UPDATE computers SET status = ?, boot_count = boot_count + 1, updated_at = ? WHERE id = ?`,
		StatusRunning, time.Now().UTC(), id)
}

// RecordError stores the last uncaught guest error.
func (s *Store) RecordError(id int, msg string) error {
	return s.exec("recording error", id,
		`UPDATE computers SET last_error = ?, updated_at = ? WHERE id = ?`,
		msg, time.Now().UTC(), id)
}

func (s *Store) SetLabel(id int, label string) error {
	return s.exec("updating label", id,
		`UPDATE computers SET label = ?, updated_at = ? WHERE id = ?`,
		label, time.Now().UTC(), id)
}

func (s *Store) DeleteComputer(id int) error {
	return s.exec("deleting computer", id, `DELETE FROM computers WHERE id = ?`, id)
}

func (s *Store) exec(what string, id int, query string, args ...any) error {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(query, args...)
		return e
	})
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return checkRowAffected(result, id)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanComputer(row scannable) (*Computer, error) {
	var c Computer
	err := row.Scan(&c.ID, &c.Label, &c.Status, &c.BootCount, &c.LastError, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning computer: %w", err)
	}
	return &c, nil
}

func scanComputers(rows *sql.Rows) ([]*Computer, error) {
	var computers []*Computer
	for rows.Next() {
		c, err := scanComputer(rows)
		if err != nil {
			return nil, err
		}
		computers = append(computers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating computers: %w", err)
	}
	return computers, nil
}

func checkRowAffected(result sql.Result, id int) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("computer %d: %w", id, ErrNotFound)
	}
	return nil
}
