// Package dbtest provides migrated in-memory stores for tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"JobMailer/internal/db"
)

// NewSQLite returns a private, migrated in-memory database closed at test end.
func NewSQLite(t testing.TB) *db.SQLiteStore {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	s, err := db.OpenSQLite(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := db.MigrateSQLite(context.Background(), s, zaptest.NewLogger(t)); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return s
}
