// Package db is the sqlite backend of the transaction record store.
package db

import (
	"context"
	"embed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	migrate "github.com/rubenv/sql-migrate"

	"github.com/stellar/go-stellar-sdk/support/db"
)

//go:embed sqlmigrations/*.sql
var sqlMigrations embed.FS

// inMemoryDSN names a private in-memory database. It only lives as long as
// its single connection.
const inMemoryDSN = "file::memory:?_foreign_keys=on"

// OpenInMemory opens an in-memory sqlite database with the schema applied.
func OpenInMemory(ctx context.Context) (*db.Session, error) {
	session, err := db.Open("sqlite3", inMemoryDSN)
	if err != nil {
		return nil, errors.Wrap(err, "open failed")
	}
	// every connection would get its own empty database
	session.DB.SetMaxOpenConns(1)
	session.DB.SetMaxIdleConns(1)
	session.DB.SetConnMaxLifetime(0)

	if err := runMigrations(ctx, session); err != nil {
		_ = session.Close()
		return nil, err
	}
	return session, nil
}

func runMigrations(ctx context.Context, session *db.Session) error {
	source := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: sqlMigrations,
		Root:       "sqlmigrations",
	}
	if _, err := migrate.ExecContext(ctx, session.DB.DB, "sqlite3", source, migrate.Up); err != nil {
		return errors.Wrap(err, "could not apply migrations")
	}
	return nil
}
