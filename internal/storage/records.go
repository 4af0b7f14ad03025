package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"chtbtr/internal/domain"
	logx "chtbtr/pkg/logx"
)

func checkUsername(op string, u domain.Username) error {
	s := string(u)
	// A leading dot would hide the user's directory from the file driver.
	if strings.TrimSpace(s) == "" || strings.HasPrefix(s, ".") || strings.ContainsAny(s, `/\`+"\x00") {
		return &domain.PersistenceError{Op: op, Username: u, Err: ErrInvalidUsername}
	}
	return nil
}

func encodeMapping(u domain.Username, st domain.ResolutionState) ([]byte, error) {
	b, err := json.Marshal(st)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "encode mapping", Username: u, Err: err}
	}
	return b, nil
}

// collectMapping decodes one stored record into out, logging and skipping
// records that don't parse.
func collectMapping(log logx.Logger, out map[domain.Username]domain.ResolutionState, u domain.Username, raw []byte) {
	var st domain.ResolutionState
	if err := json.Unmarshal(raw, &st); err != nil {
		log.Warn("skipping unreadable mapping record", logx.String("username", string(u)), logx.Err(err))
		return
	}
	out[u] = st
}

func parseSettings(u domain.Username, raw []byte) (domain.Settings, error) {
	s, err := domain.ParseSettings(raw)
	if err != nil {
		return domain.Settings{}, &domain.PersistenceError{Op: "parse settings", Username: u, Err: err}
	}
	return s, nil
}

// applyMigrations runs every *.sql file under dir in lexical order.
func applyMigrations(ctx context.Context, fsys fs.FS, dir string, exec func(ctx context.Context, stmt string) error) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		b, err := fs.ReadFile(fsys, dir+"/"+entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if err := exec(ctx, string(b)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
