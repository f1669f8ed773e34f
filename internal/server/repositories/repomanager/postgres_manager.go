package repomanager

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/dbx"
	"github.com/dmitrijs2005/vitaltags/internal/server/migrations"
	"github.com/dmitrijs2005/vitaltags/internal/server/repositories/auditlogs"
	"github.com/dmitrijs2005/vitaltags/internal/server/repositories/consumedtokens"
	"github.com/dmitrijs2005/vitaltags/internal/server/repositories/owners"
	"github.com/dmitrijs2005/vitaltags/internal/server/repositories/profiles"
	"github.com/dmitrijs2005/vitaltags/internal/server/repositories/terms"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends Postgres-backed repositories bound either
// to the pool or to an open transaction.
type PostgresRepositoryManager struct {
	db *sql.DB
	q  dbx.DBTX
}

// OpenPostgres opens a pgx pool for dsn and checks connectivity.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// NewPostgresRepositoryManager wraps an open pool.
func NewPostgresRepositoryManager(db *sql.DB) *PostgresRepositoryManager {
	return &PostgresRepositoryManager{db: db, q: db}
}

func (m *PostgresRepositoryManager) Profiles() profiles.Repository {
	return profiles.NewPostgresRepository(m.q)
}

func (m *PostgresRepositoryManager) Terms() terms.Repository {
	return terms.NewPostgresRepository(m.q)
}

func (m *PostgresRepositoryManager) AuditLogs() auditlogs.Repository {
	return auditlogs.NewPostgresRepository(m.q)
}

func (m *PostgresRepositoryManager) Owners() owners.Repository {
	return owners.NewPostgresRepository(m.q)
}

func (m *PostgresRepositoryManager) ConsumedTokens() consumedtokens.Repository {
	return consumedtokens.NewPostgresRepository(m.q)
}

// DB exposes the pool for components that share it, such as the Postgres
// rate limiter.
func (m *PostgresRepositoryManager) DB() *sql.DB {
	return m.db
}

func (m *PostgresRepositoryManager) InTx(ctx context.Context, fn func(ctx context.Context, m RepositoryManager) error) error {
	return m.withTx(ctx, nil, fn)
}

func (m *PostgresRepositoryManager) Snapshot(ctx context.Context, fn func(ctx context.Context, m RepositoryManager) error) error {
	return m.withTx(ctx, dbx.SnapshotOptions, fn)
}

func (m *PostgresRepositoryManager) withTx(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context, m RepositoryManager) error) error {
	if m.q != m.db {
		// Already inside a transaction.
		return fn(ctx, m)
	}
	return dbx.WithTx(ctx, m.db, opts, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, &PostgresRepositoryManager{db: m.db, q: tx})
	})
}

func (m *PostgresRepositoryManager) Close() error {
	return m.db.Close()
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}
