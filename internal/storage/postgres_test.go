package storage

import (
	"context"
	"net/url"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"chtbtr/internal/domain"
	logx "chtbtr/pkg/logx"
)

const postgresDSNEnv = "CHTBTR_POSTGRES_DSN"

// openPostgresForTest opens the postgres driver inside a fresh schema that is
// dropped when the test ends. It skips unless CHTBTR_POSTGRES_DSN is set.
func openPostgresForTest(t *testing.T) Store {
	t.Helper()
	dsn := os.Getenv(postgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", postgresDSNEnv)
	}
	ctx := context.Background()

	admin, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(admin.Close)

	schema := "chtbtr_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	st, err := Open(ctx, Config{Driver: "postgres", DSN: withSearchPath(dsn, schema), MaxConns: 4}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(postgres): %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
	})
	return st
}

func withSearchPath(dsn, schema string) string {
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
		q := u.Query()
		q.Set("search_path", schema)
		u.RawQuery = q.Encode()
		return u.String()
	}
	return dsn + " search_path=" + schema
}

func TestWithSearchPath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		dsn  string
		want string
	}{
		{"postgres://u:p@db:5432/chtbtr", "postgres://u:p@db:5432/chtbtr?search_path=s1"},
		{"postgres://db/chtbtr?sslmode=disable", "postgres://db/chtbtr?search_path=s1&sslmode=disable"},
		{"host=db dbname=chtbtr", "host=db dbname=chtbtr search_path=s1"},
	}
	for _, tt := range tests {
		if got := withSearchPath(tt.dsn, "s1"); got != tt.want {
			t.Fatalf("withSearchPath(%q) = %q, want %q", tt.dsn, got, tt.want)
		}
	}
}

func TestPostgresConcurrentDefaultSettings(t *testing.T) {
	t.Parallel()
	st := openPostgresForTest(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := st.LoadSettings(ctx, "carol")
			if err == nil && !reflect.DeepEqual(s, domain.DefaultSettings()) {
				t.Errorf("settings = %+v, want defaults", s)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("LoadSettings: %v", err)
		}
	}

	var n int
	pg := st.(*postgresStore)
	if err := pg.pool.QueryRow(ctx, `SELECT COUNT(*) FROM settings WHERE username = $1`, "carol").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("settings rows = %d, want 1", n)
	}
}

func TestPostgresKeepsEditedSettings(t *testing.T) {
	t.Parallel()
	st := openPostgresForTest(t)
	ctx := context.Background()
	pg := st.(*postgresStore)

	doc := "version: v1\nas_reviewer:\n  subscribe: false\nas_owner:\n  subscribe_comment: true\n"
	if _, err := pg.pool.Exec(ctx, `INSERT INTO settings (username, document) VALUES ($1, $2)`, "dave", doc); err != nil {
		t.Fatal(err)
	}
	s, err := st.LoadSettings(ctx, "dave")
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if !s.Owner().SubscribeComment || s.Reviewer().Subscribe {
		t.Fatalf("settings = %+v, want the stored document", s)
	}
}

func TestPostgresAppendAudit(t *testing.T) {
	t.Parallel()
	st := openPostgresForTest(t)
	ctx := context.Background()

	recs := []DeliveryRecord{
		{Trigger: "CommentAdded", Username: "alice", ProfileID: 7, Outcome: "sent", Attempts: 1},
		{Trigger: "ReviewerAdded", Username: "bob", ProfileID: 9, Outcome: "failed", Attempts: 3, Error: "timeout"},
	}
	for _, r := range recs {
		if err := st.AppendAudit(ctx, r); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}
	var n int
	if err := st.(*postgresStore).pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit WHERE err IS NOT NULL`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("audit rows with errors = %d, want 1", n)
	}
}
