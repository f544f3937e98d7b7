//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"chatcurator/internal/curation"
	"chatcurator/internal/store"
	logx "chatcurator/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const (
	snapMessages = "messages"
	snapLedger   = "ledger"
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SaveMessages(ctx context.Context, snap store.Snapshot) error {
	return s.saveDoc(ctx, snapMessages, snap)
}

func (s *sqliteStore) LoadMessages(ctx context.Context) (store.Snapshot, bool, error) {
	var snap store.Snapshot
	ok, err := s.loadDoc(ctx, snapMessages, &snap)
	return snap, ok, err
}

func (s *sqliteStore) SaveLedger(ctx context.Context, snap curation.LedgerSnapshot) error {
	return s.saveDoc(ctx, snapLedger, snap)
}

func (s *sqliteStore) LoadLedger(ctx context.Context) (curation.LedgerSnapshot, bool, error) {
	var snap curation.LedgerSnapshot
	ok, err := s.loadDoc(ctx, snapLedger, &snap)
	return snap, ok, err
}

func (s *sqliteStore) saveDoc(ctx context.Context, name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots(name, updated_at, doc) VALUES(?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET updated_at = excluded.updated_at, doc = excluded.doc`,
		name, time.Now().UnixMilli(), string(b),
	)
	return err
}

func (s *sqliteStore) loadDoc(ctx context.Context, name string, out any) (bool, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM snapshots WHERE name = ?`, name).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return false, fmt.Errorf("decode %s snapshot: %w", name, err)
	}
	return true, nil
}
