package postgres

import (
	"reflect"
	"testing"
	"testing/fstest"
	"time"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

func TestBuildList(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		opts      domain.ListOpts
		stateCol  string
		wantQuery string
		wantArgs  []any
	}{
		{
			name:      "no filters",
			wantQuery: "SELECT x FROM t ORDER BY ts DESC",
		},
		{
			name:      "since state and paging",
			opts:      domain.ListOpts{Since: &since, State: domain.JobStateCommitted, Limit: 10, Offset: 20},
			stateCol:  "state",
			wantQuery: "SELECT x FROM t WHERE ts >= $1 AND state = $2 ORDER BY ts DESC LIMIT $3 OFFSET $4",
			wantArgs:  []any{since, "committed", 10, 20},
		},
		{
			name:      "state ignored without column",
			opts:      domain.ListOpts{State: domain.JobStateFailed, Limit: 5},
			wantQuery: "SELECT x FROM t ORDER BY ts DESC LIMIT $1",
			wantArgs:  []any{5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, args := buildList("SELECT x FROM t", "ts", tt.stateCol, tt.opts)
			if q != tt.wantQuery {
				t.Errorf("query = %q, want %q", q, tt.wantQuery)
			}
			if len(args) != len(tt.wantArgs) || (len(args) > 0 && !reflect.DeepEqual(args, tt.wantArgs)) {
				t.Errorf("args = %v, want %v", args, tt.wantArgs)
			}
		})
	}
}

func TestMigrationNamesSorted(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_b.sql": {Data: []byte("b")},
		"migrations/001_a.sql": {Data: []byte("a")},
		"migrations/README.md": {Data: []byte("x")},
		"migrations/010_c.sql": {Data: []byte("c")},
	}
	got, err := migrationNames(fsys)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"001_a.sql", "002_b.sql", "010_c.sql"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	names, err := migrationNames(migrationsFS)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) == 0 || names[0] != "001_init.sql" {
		t.Fatalf("names = %v", names)
	}
}

func TestDSN(t *testing.T) {
	if got := DSN(ClientConfig{DSN: "postgres://x"}); got != "postgres://x" {
		t.Fatalf("explicit dsn = %q", got)
	}
	got := DSN(ClientConfig{Host: "db", Database: "kalki", User: "u", Password: "p"})
	if got != "postgres://u:p@db:5432/kalki?sslmode=disable" {
		t.Fatalf("built dsn = %q", got)
	}
	got = DSN(ClientConfig{Host: "db", Port: 6432, Database: "kalki", User: "u", Password: "p@ss", SSLMode: "require"})
	if got != "postgres://u:p%40ss@db:6432/kalki?sslmode=require" {
		t.Fatalf("escaped dsn = %q", got)
	}
}
