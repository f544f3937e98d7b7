package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"chatcurator/internal/curation"
	"chatcurator/internal/store"
	logx "chatcurator/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.messages.json (per-source store snapshot)
//   - <prefix>.ledger.json   (relevance ledger snapshot)
//
// Every save rewrites the whole document via tmp file + rename, so a crash
// mid-write never leaves a torn snapshot behind.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	messagesPath string
	ledgerPath   string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	return &fileStore{
		log:          log,
		messagesPath: prefix + ".messages.json",
		ledgerPath:   prefix + ".ledger.json",
	}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) SaveMessages(ctx context.Context, snap store.Snapshot) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.messagesPath, snap)
}

func (s *fileStore) LoadMessages(ctx context.Context) (store.Snapshot, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var snap store.Snapshot
	ok, err := readJSON(s.messagesPath, &snap)
	return snap, ok, err
}

func (s *fileStore) SaveLedger(ctx context.Context, snap curation.LedgerSnapshot) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.ledgerPath, snap)
}

func (s *fileStore) LoadLedger(ctx context.Context) (curation.LedgerSnapshot, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var snap curation.LedgerSnapshot
	ok, err := readJSON(s.ledgerPath, &snap)
	return snap, ok, err
}

// writeAtomic overwrites path with the JSON encoding of v via tmp + rename.
func writeAtomic(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(v); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// readJSON decodes path into out. A missing file is (false, nil): fresh start.
func readJSON(path string, out any) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(out); err != nil {
		return false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}
