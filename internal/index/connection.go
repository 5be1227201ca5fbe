package index

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver

	"github.com/starford/ansuz/internal/apperr"
)

// ConnManager owns the two SQLite handles for one index file: a lazily
// opened read-write handle capped at a single connection so writes are
// serialized, and a separate read-only handle for concurrent queries.
//
// Refresh drops both handles so the next use reopens against the current
// file; callers must refresh after a full rebuild or the old WAL snapshot
// keeps serving stale reads.
type ConnManager struct {
	path string

	mu sync.Mutex
	rw *sql.DB
	ro *sql.DB
}

func newConnManager(path string) *ConnManager {
	return &ConnManager{path: path}
}

// Writer returns the serialized read-write handle, opening it and applying
// the schema on first use.
func (m *ConnManager) Writer() (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writerLocked()
}

func (m *ConnManager) writerLocked() (*sql.DB, error) {
	if m.rw != nil {
		return m.rw, nil
	}
	dsn := "file:" + m.path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("index: open writer: %w: %w", apperr.ErrStorageUnavailable, err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping writer: %w: %w", apperr.ErrStorageUnavailable, err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply fts schema: %w", err)
	}
	m.rw = conn
	return conn, nil
}

// Reader returns the read-only handle. The writer is opened first when
// needed so the schema exists before the first read.
func (m *ConnManager) Reader() (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ro != nil {
		return m.ro, nil
	}
	if _, err := m.writerLocked(); err != nil {
		return nil, err
	}
	dsn := "file:" + m.path + "?mode=ro&_busy_timeout=5000"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("index: open reader: %w: %w", apperr.ErrStorageUnavailable, err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping reader: %w: %w", apperr.ErrStorageUnavailable, err)
	}
	m.ro = conn
	return conn, nil
}

// Refresh closes both handles; the next Writer/Reader call reopens them.
func (m *ConnManager) Refresh() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	if m.rw != nil {
		if err := m.rw.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		m.rw = nil
	}
	if m.ro != nil {
		if err := m.ro.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		m.ro = nil
	}
	return firstErr
}

// Close releases both handles.
func (m *ConnManager) Close() error {
	return m.Refresh()
}
