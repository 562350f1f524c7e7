package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/step-groups/internal/config"
)

const uniqueViolation = "23505"

// Constraint names checked when mapping unique violations.
const (
	constraintJoinCode   = "groups_join_code_key"
	constraintMembership = "group_memberships_group_user_key"
	constraintOneOwner   = "idx_group_memberships_one_owner"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks that the database is reachable
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations. daily_steps and profiles belong
// to other services and are only created here for local development.
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS groups (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(50) NOT NULL,
			description VARCHAR(500),
			created_by_id VARCHAR(64) NOT NULL,
			is_public BOOLEAN NOT NULL DEFAULT FALSE,
			join_code VARCHAR(8),
			period_type VARCHAR(16) NOT NULL,
			member_count INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT groups_join_code_key UNIQUE (join_code),
			CONSTRAINT groups_join_code_visibility CHECK (is_public = (join_code IS NULL))
		)`,
		`CREATE TABLE IF NOT EXISTS group_memberships (
			id VARCHAR(64) PRIMARY KEY,
			group_id VARCHAR(64) NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
			user_id VARCHAR(64) NOT NULL,
			role VARCHAR(16) NOT NULL,
			joined_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT group_memberships_group_user_key UNIQUE (group_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS group_join_requests (
			id VARCHAR(64) PRIMARY KEY,
			group_id VARCHAR(64) NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
			user_id VARCHAR(64) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT group_join_requests_group_user_key UNIQUE (group_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS daily_steps (
			user_id VARCHAR(64) NOT NULL,
			step_date DATE NOT NULL,
			steps BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, step_date)
		)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			user_id VARCHAR(64) PRIMARY KEY,
			display_name VARCHAR(100) NOT NULL,
			avatar_url TEXT
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_group_memberships_one_owner ON group_memberships(group_id) WHERE role = 'owner'`,
		`CREATE INDEX IF NOT EXISTS idx_group_memberships_user ON group_memberships(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_groups_public_name ON groups(is_public, name)`,
		`CREATE INDEX IF NOT EXISTS idx_daily_steps_date ON daily_steps(step_date, user_id)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// inTx runs fn in a transaction, committing when it returns nil.
func (r *Repository) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, r.pool, fn)
}

// isUniqueViolation reports whether err is a unique violation, optionally of
// a specific constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds an ILIKE pattern matching s as a literal substring.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
