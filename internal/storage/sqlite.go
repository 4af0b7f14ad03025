package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"chtbtr/internal/domain"
	"chtbtr/internal/storage/migrations"
	logx "chtbtr/pkg/logx"
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
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
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	bt := cfg.BusyTimeout
	if bt <= 0 {
		bt = 5 * time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", bt.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	err = applyMigrations(ctx, migrations.Files, "sqlite", func(ctx context.Context, stmt string) error {
		_, err := db.ExecContext(ctx, stmt)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadAllMappings(ctx context.Context) (map[domain.Username]domain.ResolutionState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username, record FROM mappings`)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list mappings", Err: err}
	}
	defer rows.Close()

	out := make(map[domain.Username]domain.ResolutionState)
	for rows.Next() {
		var (
			u   string
			raw string
		)
		if err := rows.Scan(&u, &raw); err != nil {
			return nil, &domain.PersistenceError{Op: "list mappings", Err: err}
		}
		collectMapping(s.log, out, domain.Username(u), []byte(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "list mappings", Err: err}
	}
	return out, nil
}

func (s *sqliteStore) SaveMapping(ctx context.Context, u domain.Username, st domain.ResolutionState) error {
	if err := checkUsername("save mapping", u); err != nil {
		return err
	}
	b, err := encodeMapping(u, st)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO mappings(username, record, updated_at) VALUES(?,?,?)
		 ON CONFLICT(username) DO UPDATE SET record=excluded.record, updated_at=excluded.updated_at`,
		string(u), string(b), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return &domain.PersistenceError{Op: "save mapping", Username: u, Err: err}
	}
	return nil
}

func (s *sqliteStore) LoadSettings(ctx context.Context, u domain.Username) (domain.Settings, error) {
	if err := checkUsername("load settings", u); err != nil {
		return domain.Settings{}, err
	}

	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM settings WHERE username = ?`, string(u)).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO settings(username, document, created_at) VALUES(?,?,?)
			 ON CONFLICT(username) DO NOTHING`,
			string(u), string(domain.DefaultSettingsDocument()), time.Now().UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return domain.Settings{}, &domain.PersistenceError{Op: "create settings", Username: u, Err: err}
		}
		s.log.Info("created default settings", logx.String("username", string(u)))
		return domain.DefaultSettings(), nil
	}
	if err != nil {
		return domain.Settings{}, &domain.PersistenceError{Op: "read settings", Username: u, Err: err}
	}
	return parseSettings(u, []byte(doc))
}

func (s *sqliteStore) AppendAudit(ctx context.Context, r DeliveryRecord) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, trigger_kind, username, profile_id, outcome, attempts, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.At.UTC().Format(time.RFC3339Nano), r.Trigger, string(r.Username), int64(r.ProfileID),
		r.Outcome, r.Attempts, nullStr(r.Error), r.TookMS,
	)
	return err
}
