package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"xpsocial/pkg/database/migrations"
	"xpsocial/pkg/logging"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

var ErrNoDatabaseURL = errors.New("DATABASE_URL is not set")

// Connect opens the Postgres pool and checks it with a ping.
func Connect(ctx context.Context, url string) (*sql.DB, error) {
	if url == "" {
		return nil, ErrNoDatabaseURL
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	// Serverless PG: keep pool small, connections short-lived
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetConnMaxIdleTime(30 * time.Second)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logging.For("database").Info("postgres connection established")
	return db, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

type gooseLogger struct{}

func (gooseLogger) Printf(format string, v ...any) {
	logging.For("migrations").Infof(format, v...)
}

func (gooseLogger) Fatalf(format string, v ...any) {
	logging.For("migrations").Fatalf(format, v...)
}
