package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "chatcurator/pkg/logx"
)

type Manager struct {
	path string

	mu  sync.RWMutex
	cfg *Config

	// subsMu guards the subscriber list and ensures we never send on a channel
	// that is concurrently being closed in Unsubscribe().
	subsMu sync.Mutex
	subs   []chan *Config

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error

	// lastHash tracks the last successfully committed config content.
	// It avoids redundant publishes when the editor causes multiple write events
	// without content changes.
	lastHash uint64
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator installs a validation hook used by Watch() before committing/publishing.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

func (m *Manager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	jb, _, err := coerceToJSONBytes(m.path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

func (m *Manager) Commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			// swap-remove (order doesn't matter)
			last := len(m.subs) - 1
			m.subs[i] = m.subs[last]
			m.subs[last] = nil
			m.subs = m.subs[:last]
			close(ch)
			return
		}
	}
}

func (m *Manager) publish(cfg *Config) {
	// Hold subsMu while sending to avoid send-on-closed panics.
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		if ch == nil {
			continue
		}
		// Always try to deliver the latest config.
		// If the subscriber is slow and the buffer is full, drop ONE oldest item
		// then push the newest.
		select {
		case ch <- cfg:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- cfg:
			default:
				if !m.log.IsZero() {
					m.log.Debug("config update dropped (subscriber slow)",
						logx.Int("queue_len", len(ch)),
						logx.Int("queue_cap", cap(ch)),
					)
				}
			}
		}
	}
}

// Watch reloads the config on file changes until ctx is cancelled.
// Reloads are debounced (editors emit several events per save), content-hash
// deduplicated, and validated before commit/publish.
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			m.reload(ctx)
		})
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		w, err := fsnotify.NewWatcher()
		if err == nil {
			err = w.Add(dir)
			if err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			if !m.log.IsZero() {
				m.log.Warn("config watch init failed", logx.Err(err), logx.String("dir", dir))
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
				continue
			}
		}

		if !m.log.IsZero() {
			m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))
		}

		// Inner loop runs until the watcher breaks, then the outer loop recreates it.
		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				// Compare by basename (robust across absolute/relative paths).
				if strings.EqualFold(filepath.Base(ev.Name), file) {
					if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
						debounce()
					}
				}
			case werr, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if !m.log.IsZero() {
					m.log.Warn("config watch error", logx.Err(werr))
				}
			}
		}
		_ = w.Close()
	}
}

func (m *Manager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		if !m.log.IsZero() {
			m.log.Warn("config parse failed", logx.String("path", m.path), logx.Err(err))
		}
		return
	}

	// Skip redundant reloads when content is unchanged.
	h := hashConfig(cfg)
	m.mu.RLock()
	unchanged := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if unchanged {
		return
	}

	// Validate before commit/publish (transactional).
	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			if !m.log.IsZero() {
				m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
			}
			return
		}
	}

	m.Commit(cfg)
	m.publish(cfg)
	if !m.log.IsZero() {
		m.log.Info("config reloaded", logx.String("path", m.path))
	}
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
