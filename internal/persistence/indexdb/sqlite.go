package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrUserExists = errors.New("indexdb: user exists")
	ErrNoUser     = errors.New("indexdb: no such user")
)

// SQLiteIndex holds user credential records and a session history table.
// Credentials are read and written synchronously; session events go through a
// buffered writer goroutine and are dropped when it falls behind.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan SessionEvent
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

// SessionEvent is one row of the session history.
type SessionEvent struct {
	SessionID string
	Username  string
	Event     string // "open", "auth_ok", "auth_failed", "close"
	Remote    string
	Detail    string
	At        time.Time
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	DropTotal     uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan SessionEvent, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			salt BLOB NOT NULL,
			verifier BLOB NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			username TEXT NOT NULL,
			event TEXT NOT NULL,
			remote TEXT,
			detail TEXT,
			at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_at ON sessions(username, at);`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// CreateUser inserts a credential record. It fails with ErrUserExists when
// the username is taken.
func (s *SQLiteIndex) CreateUser(ctx context.Context, username string, salt, verifier []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE username=?`, username).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return ErrUserExists
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `INSERT INTO users(username,salt,verifier,created_at) VALUES(?,?,?,?)`,
		username, salt, verifier, now); err != nil {
		return fmt.Errorf("insert user %q: %w", username, err)
	}
	return tx.Commit()
}

// LookupUser returns the stored salt and verifier, or ErrNoUser.
func (s *SQLiteIndex) LookupUser(ctx context.Context, username string) (salt, verifier []byte, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT salt, verifier FROM users WHERE username=?`, username)
	if err := row.Scan(&salt, &verifier); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNoUser
		}
		return nil, nil, err
	}
	return salt, verifier, nil
}

// RecordSession queues a session history row. It never blocks.
func (s *SQLiteIndex) RecordSession(ev SessionEvent) {
	if s == nil || s.closed.Load() {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropTotal:     s.dropped.Load(),
	}
}

// SessionEvents returns the recorded events of a user, oldest first.
func (s *SQLiteIndex) SessionEvents(ctx context.Context, username string) ([]SessionEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, username, event, COALESCE(remote,''), COALESCE(detail,''), at FROM sessions WHERE username=? ORDER BY id`,
		username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionEvent
	for rows.Next() {
		var ev SessionEvent
		var at string
		if err := rows.Scan(&ev.SessionID, &ev.Username, &ev.Event, &ev.Remote, &ev.Detail, &at); err != nil {
			return nil, err
		}
		ev.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertSession, _ := s.db.Prepare(`INSERT INTO sessions(session_id,username,event,remote,detail,at) VALUES(?,?,?,?,?,?)`)
	defer func() {
		if insertSession != nil {
			_ = insertSession.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for ev := range s.ch {
		begin()
		if tx == nil || insertSession == nil {
			continue
		}
		if _, err := tx.Stmt(insertSession).Exec(
			ev.SessionID,
			ev.Username,
			ev.Event,
			ev.Remote,
			ev.Detail,
			ev.At.UTC().Format(time.RFC3339Nano),
		); err != nil {
			rollback()
			continue
		}
		opCount++
		// Session events are sparse; commit whenever the queue drains.
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}

	commit()
}
