package token

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// Registers the pgx stdlib driver for sql.Open("pgx", dsn).
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/tidewell/authflux/token/migrations"
)

// PostgresStore persists refresh-token rows in an append-mostly table. State
// transitions only ever set rotated_at, successor_id, and revoked_at; rows
// are not deleted, preserving the rotation chain for forensics.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a pgx-backed connection for the given DSN.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing connection, mainly for tests.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// RunMigrations applies the embedded schema migrations.
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.UpContext(ctx, s.db, "."); err != nil {
		return err
	}

	return nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Create(ctx context.Context, row *RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens
			(id, secret_hash, subject, issued_at, expires_at, client_ip, client_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := s.db.ExecContext(ctx, query,
		row.ID, row.SecretHash[:], row.Subject,
		row.IssuedAt, row.ExpiresAt, row.ClientIP, row.ClientAgent,
	); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*RefreshToken, error) {
	return scanToken(s.db.QueryRowContext(ctx, selectTokenQuery, id), id)
}

const selectTokenQuery = `
	SELECT secret_hash, subject, issued_at, expires_at,
	       revoked_at, rotated_at, successor_id, client_ip, client_agent
	FROM refresh_tokens
	WHERE id = $1
`

func (s *PostgresStore) Rotate(ctx context.Context, id string, providedHash [32]byte, successor Successor) (*RefreshToken, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row, err := scanToken(tx.QueryRowContext(ctx, selectTokenQuery, id), id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	switch {
	case subtle.ConstantTimeCompare(row.SecretHash[:], providedHash[:]) != 1:
		return nil, ErrHashMismatch
	case row.Revoked():
		return nil, ErrRevoked
	case !now.Before(row.ExpiresAt):
		return nil, ErrExpired
	case row.Rotated():
		return nil, ErrRotated
	}

	insert := `
		INSERT INTO refresh_tokens
			(id, secret_hash, subject, issued_at, expires_at, client_ip, client_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := tx.ExecContext(ctx, insert,
		successor.ID, successor.SecretHash[:], row.Subject,
		successor.IssuedAt, successor.ExpiresAt, successor.ClientIP, successor.ClientAgent,
	); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	// The conditional update is the only serialization point: the winner
	// flips rotated_at, every concurrent loser sees zero affected rows.
	update := `
		UPDATE refresh_tokens
		SET rotated_at = $1, successor_id = $2
		WHERE id = $3 AND rotated_at IS NULL AND revoked_at IS NULL
	`
	res, err := tx.ExecContext(ctx, update, now, successor.ID, id)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return nil, ErrRotated
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	row.RotatedAt = &now
	row.SuccessorID = successor.ID
	return row, nil
}

func (s *PostgresStore) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = $1
		WHERE id = $2 AND revoked_at IS NULL
	`
	res, err := s.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) RevokeChain(ctx context.Context, id string, at time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	revoked := 0
	current := id
	for i := 0; current != "" && i < 10_000; i++ {
		res, err := tx.ExecContext(ctx, `
			UPDATE refresh_tokens
			SET revoked_at = $1
			WHERE id = $2 AND revoked_at IS NULL
		`, at, current)
		if err != nil {
			return 0, fmt.Errorf("db error: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("db error: %w", err)
		}
		if affected > 0 {
			revoked++
		}

		var successor sql.NullString
		err = tx.QueryRowContext(ctx, `
			SELECT successor_id FROM refresh_tokens WHERE id = $1
		`, current).Scan(&successor)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("db error: %w", err)
		}
		if !successor.Valid {
			break
		}
		current = successor.String
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return revoked, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(r rowScanner, id string) (*RefreshToken, error) {
	var (
		hash      []byte
		revokedAt sql.NullTime
		rotatedAt sql.NullTime
		successor sql.NullString
	)

	row := &RefreshToken{ID: id}
	err := r.Scan(
		&hash, &row.Subject, &row.IssuedAt, &row.ExpiresAt,
		&revokedAt, &rotatedAt, &successor, &row.ClientIP, &row.ClientAgent,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	if len(hash) != len(row.SecretHash) {
		return nil, fmt.Errorf("corrupt refresh token row %s: bad hash length %d", id, len(hash))
	}
	copy(row.SecretHash[:], hash)

	if revokedAt.Valid {
		at := revokedAt.Time.UTC()
		row.RevokedAt = &at
	}
	if rotatedAt.Valid {
		at := rotatedAt.Time.UTC()
		row.RotatedAt = &at
	}
	if successor.Valid {
		row.SuccessorID = successor.String
	}

	return row, nil
}
