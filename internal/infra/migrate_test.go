package infra

import (
	"io/fs"
	"testing"
)

func TestMigrateURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@db:5432/custody?sslmode=disable": "pgx5://u:p@db:5432/custody?sslmode=disable",
		"postgresql://db/custody":                        "pgx5://db/custody",
		"pgx5://db/custody":                              "pgx5://db/custody",
	}
	for in, want := range cases {
		if got := migrateURL(in); got != want {
			t.Fatalf("%s: expected %s, got %s", in, want, got)
		}
	}
}

func TestMigrationsArePaired(t *testing.T) {
	ups, _ := fs.Glob(migrationFiles, "migrations/*.up.sql")
	downs, _ := fs.Glob(migrationFiles, "migrations/*.down.sql")
	if len(ups) == 0 || len(ups) != len(downs) {
		t.Fatalf("expected paired migrations, got %d up / %d down", len(ups), len(downs))
	}
}
