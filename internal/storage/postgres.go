package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chtbtr/internal/domain"
	"chtbtr/internal/storage/migrations"
	logx "chtbtr/pkg/logx"
)

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	err = applyMigrations(ctx, migrations.Files, "postgres", func(ctx context.Context, stmt string) error {
		_, err := pool.Exec(ctx, stmt)
		return err
	})
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *postgresStore) LoadAllMappings(ctx context.Context) (map[domain.Username]domain.ResolutionState, error) {
	rows, err := s.pool.Query(ctx, `SELECT username, record::text FROM mappings`)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list mappings", Err: err}
	}
	defer rows.Close()

	out := make(map[domain.Username]domain.ResolutionState)
	for rows.Next() {
		var u, raw string
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

func (s *postgresStore) SaveMapping(ctx context.Context, u domain.Username, st domain.ResolutionState) error {
	if err := checkUsername("save mapping", u); err != nil {
		return err
	}
	b, err := encodeMapping(u, st)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO mappings (username, record, updated_at)
		VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (username) DO UPDATE
		SET record = EXCLUDED.record,
		    updated_at = NOW()
	`, string(u), string(b))
	if err != nil {
		return &domain.PersistenceError{Op: "save mapping", Username: u, Err: err}
	}
	return nil
}

func (s *postgresStore) LoadSettings(ctx context.Context, u domain.Username) (domain.Settings, error) {
	if err := checkUsername("load settings", u); err != nil {
		return domain.Settings{}, err
	}

	var (
		doc     string
		created bool
	)
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT document FROM settings WHERE username = $1`, string(u)).Scan(&doc)
		if err == nil {
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		doc = string(domain.DefaultSettingsDocument())
		tag, err := tx.Exec(ctx, `
			INSERT INTO settings (username, document)
			VALUES ($1, $2)
			ON CONFLICT (username) DO NOTHING
		`, string(u), doc)
		if err != nil {
			return err
		}
		created = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return domain.Settings{}, &domain.PersistenceError{Op: "load settings", Username: u, Err: err}
	}
	if created {
		s.log.Info("created default settings", logx.String("username", string(u)))
	}
	return parseSettings(u, []byte(doc))
}

func (s *postgresStore) AppendAudit(ctx context.Context, r DeliveryRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit (at, trigger_kind, username, profile_id, outcome, attempts, err, took_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.At.UTC(), r.Trigger, string(r.Username), int64(r.ProfileID), r.Outcome, r.Attempts, nullStr(r.Error), r.TookMS)
	return err
}

func (s *postgresStore) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
