package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"go.uber.org/zap"

	"github.com/Faultbox/scenetag/internal/errs"
	"github.com/Faultbox/scenetag/internal/logger"
)

const schema = `
create table if not exists annotations (
	mesh       text primary key,
	payload    jsonb not null,
	updated_at timestamptz not null default now()
)`

// PostgresStore keeps one row per mesh.
type PostgresStore struct {
	DB  *sql.DB
	log *zap.Logger
}

// NewPostgresStore wraps an open database. The table must exist; see
// Migrate.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{DB: db, log: logger.Named("storage")}
}

// OpenPostgres connects with dsn, checks the connection and creates the
// table if needed.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s := NewPostgresStore(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the annotations table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating annotations table: %w", err)
	}
	return nil
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, mesh string, payload []byte) error {
	const q = `
insert into annotations(mesh, payload)
values ($1, $2)
on conflict (mesh)
do update set payload=excluded.payload, updated_at=now()`
	if _, err := s.DB.ExecContext(ctx, q, mesh, payload); err != nil {
		return fmt.Errorf("saving annotations for %s: %w", mesh, err)
	}
	s.log.Info("annotations saved", zap.String("mesh", mesh), zap.Int("bytes", len(payload)))
	return nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, mesh string) ([]byte, error) {
	const q = `select payload from annotations where mesh=$1`
	var payload []byte
	if err := s.DB.QueryRowContext(ctx, q, mesh).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: annotations for %s", errs.ErrResourceNotFound, mesh)
		}
		return nil, fmt.Errorf("loading annotations for %s: %w", mesh, err)
	}
	return payload, nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	return s.DB.Close()
}
