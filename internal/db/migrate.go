package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"io/fs"
	"path"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations
var migrations embed.FS

var (
	ErrLoadMigrations  = errors.New("failed to load migrations")
	ErrApplyMigrations = errors.New("failed to apply migrations")
)

// MigratePostgres bridges the pool to database/sql for goose. The bridge
// shares the pool's connections, so it is not closed here.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger) error {
	return migrate(ctx, stdlib.OpenDBFromPool(pool), goose.DialectPostgres, "postgres", log)
}

func MigrateSQLite(ctx context.Context, s *SQLiteStore, log *zap.Logger) error {
	return migrate(ctx, s.db, goose.DialectSQLite3, "sqlite", log)
}

func migrate(ctx context.Context, conn *sql.DB, dialect goose.Dialect, dir string, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	fsys, err := fs.Sub(migrations, path.Join("migrations", dir))
	if err != nil {
		return errors.Join(ErrLoadMigrations, err)
	}

	provider, err := goose.NewProvider(dialect, conn, fsys)
	if err != nil {
		return errors.Join(ErrLoadMigrations, err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return errors.Join(ErrApplyMigrations, err)
	}
	for _, r := range results {
		log.Info("migration applied",
			zap.Int64("version", r.Source.Version),
			zap.String("file", r.Source.Path),
			zap.Duration("took", r.Duration),
		)
	}
	return nil
}
