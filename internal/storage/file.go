package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"chtbtr/internal/domain"
	logx "chtbtr/pkg/logx"
)

const (
	mappingFile  = "mapping.json"
	settingsFile = "settings.yaml"
	auditFile    = "audit.jsonl"
	lockFile     = ".chtbtr.lock"
)

// fileStore keeps one directory per user under the data directory.
//
// Files:
//   - <root>/<username>/mapping.json   (resolution record)
//   - <root>/<username>/settings.yaml  (hand-editable settings)
//   - <root>/audit.jsonl               (append-only delivery audit)
//   - <root>/.chtbtr.lock              (exclusive process lock)
//
// Documents are replaced via temp file + rename so readers never observe a
// partial write.
type fileStore struct {
	log  logx.Logger
	root string
	lock *flock.Flock

	mu        sync.Mutex
	auditFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	root := strings.TrimSpace(cfg.Path)
	if root == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}

	lk := flock.New(filepath.Join(root, lockFile))
	ok, err := lk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock data dir %s: %w", root, err)
	}
	if !ok {
		return nil, fmt.Errorf("data dir %s is in use by another process", root)
	}

	af, err := os.OpenFile(filepath.Join(root, auditFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = lk.Unlock()
		return nil, err
	}

	return &fileStore{log: log, root: root, lock: lk, auditFile: af}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.auditFile != nil {
		err1 = s.auditFile.Close()
		s.auditFile = nil
	}
	if s.lock != nil {
		err2 = s.lock.Unlock()
		s.lock = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) userPath(u domain.Username, name string) string {
	return filepath.Join(s.root, string(u), name)
}

func (s *fileStore) LoadAllMappings(ctx context.Context) (map[domain.Username]domain.ResolutionState, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list users", Err: err}
	}

	out := make(map[domain.Username]domain.ResolutionState, len(entries))
	for _, e := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		u := domain.Username(e.Name())
		raw, err := os.ReadFile(s.userPath(u, mappingFile))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			s.log.Warn("skipping unreadable mapping record", logx.String("username", string(u)), logx.Err(err))
			continue
		}
		collectMapping(s.log, out, u, raw)
	}
	return out, nil
}

func (s *fileStore) SaveMapping(ctx context.Context, u domain.Username, st domain.ResolutionState) error {
	_ = ctx
	if err := checkUsername("save mapping", u); err != nil {
		return err
	}
	b, err := encodeMapping(u, st)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.userPath(u, mappingFile), b, 0o644); err != nil {
		return &domain.PersistenceError{Op: "save mapping", Username: u, Err: err}
	}
	return nil
}

func (s *fileStore) LoadSettings(ctx context.Context, u domain.Username) (domain.Settings, error) {
	_ = ctx
	if err := checkUsername("load settings", u); err != nil {
		return domain.Settings{}, err
	}
	path := s.userPath(u, settingsFile)
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := writeFileAtomic(path, domain.DefaultSettingsDocument(), 0o644); err != nil {
			return domain.Settings{}, &domain.PersistenceError{Op: "create settings", Username: u, Err: err}
		}
		s.log.Info("created default settings", logx.String("username", string(u)), logx.String("path", path))
		return domain.DefaultSettings(), nil
	}
	if err != nil {
		return domain.Settings{}, &domain.PersistenceError{Op: "read settings", Username: u, Err: err}
	}
	return parseSettings(u, raw)
}

func (s *fileStore) AppendAudit(ctx context.Context, rec DeliveryRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.auditFile).Encode(rec)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmp, perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
