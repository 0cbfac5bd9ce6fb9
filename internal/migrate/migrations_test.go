package migrate

import (
	"context"
	"testing"

	"propline/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()

	if v, err := Current(ctx, conn); err != nil || v != 0 {
		t.Fatalf("fresh db: version %d err %v", v, err)
	}
	if err := Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	latest, err := Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if v, err := Current(ctx, conn); err != nil || v != latest {
		t.Fatalf("expected version %d, got %d (%v)", latest, v, err)
	}
	var n int
	if err := conn.QueryRow(`SELECT count(*) FROM schema_version`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("schema_version rows %d err %v", n, err)
	}
}
