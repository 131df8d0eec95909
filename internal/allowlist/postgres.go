package allowlist

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	schemaSQL = `CREATE TABLE IF NOT EXISTS allow_from (
	channel    TEXT        NOT NULL,
	sender_id  TEXT        NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (channel, sender_id)
)`
	selectSQL = `SELECT sender_id FROM allow_from WHERE channel = $1 ORDER BY created_at, sender_id`
	insertSQL = `INSERT INTO allow_from (channel, sender_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	deleteSQL = `DELETE FROM allow_from WHERE channel = $1 AND sender_id = $2`
)

// DBTX is the subset of *pgxpool.Pool used by PostgresStore.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore keeps the allow list in the allow_from table.
type PostgresStore struct {
	db     DBTX
	logger *slog.Logger
}

// NewPostgresStore creates the store and its table when missing.
func NewPostgresStore(ctx context.Context, log *slog.Logger, db DBTX) (*PostgresStore, error) {
	if log == nil {
		log = slog.Default()
	}
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("create allow_from table: %w", err)
	}
	return &PostgresStore{db: db, logger: log.With(slog.String("component", "allowlist"))}, nil
}

func (s *PostgresStore) ReadAllowFrom(ctx context.Context, channel string) ([]string, error) {
	rows, err := s.db.Query(ctx, selectSQL, channel)
	if err != nil {
		return nil, fmt.Errorf("query allow list: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan allow list: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) Add(ctx context.Context, channel, senderID string) error {
	channel, senderID, err := normalize(channel, senderID)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, insertSQL, channel, senderID)
	if err != nil {
		return fmt.Errorf("insert allow list entry: %w", err)
	}
	if tag.RowsAffected() > 0 {
		s.logger.Info("allow list entry added", slog.String("channel", channel), slog.String("sender_id", senderID))
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, channel, senderID string) error {
	channel, senderID, err := normalize(channel, senderID)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, deleteSQL, channel, senderID)
	if err != nil {
		return fmt.Errorf("delete allow list entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.logger.Info("allow list entry removed", slog.String("channel", channel), slog.String("sender_id", senderID))
	return nil
}
