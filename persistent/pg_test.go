package persistent

import (
	"context"
	"testing"

	"github.com/uptrace/bun"
)

// pgOpenTest connects to the database started by testenv. Tests using it are
// skipped in short mode or when no database is available.
func pgOpenTest(t *testing.T) *bun.DB {
	if testing.Short() || TestEnvDsn() == "" {
		t.SkipNow()
		return nil
	}
	ctx := context.Background()
	db, err := PgOpen(ctx, TestEnvDsn())
	if err != nil {
		t.Fatalf("pg open: %v", err)
	}
	if err := CreateSchema(ctx, db); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}
