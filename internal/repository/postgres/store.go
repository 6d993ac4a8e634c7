package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"registration-service/internal/repository"
	"registration-service/internal/util"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements repository.Store on PostgreSQL. Reads issued through a
// transaction take row locks with FOR UPDATE.
type Store struct {
	pool *pgxpool.Pool
	conn
}

type conn struct {
	q    querier
	lock bool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, conn: conn{q: pool}}
}

// ApplySchema creates the tables if they do not exist.
func (s *Store) ApplySchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	util.Info("Postgres schema applied")
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(ctx, conn{q: tx, lock: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		util.Error("Failed to commit transaction", zap.Error(err))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
	util.Info("Postgres pool closed")
}

func (c conn) Users() repository.UserRepository { return userRepo(c) }

func (c conn) Sessions() repository.SessionRepository { return sessionRepo(c) }

func (c conn) OTPChallenges() repository.OTPChallengeRepository { return challengeRepo(c) }

func (c conn) EmailVerifications() repository.EmailVerificationRepository {
	return emailChallengeRepo(c)
}

func (c conn) forUpdate() string {
	if c.lock {
		return " FOR UPDATE"
	}
	return ""
}

// translate maps driver errors onto repository sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", repository.ErrConflict, pgErr.ConstraintName)
	}
	return err
}
