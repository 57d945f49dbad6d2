package segment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/segexport/internal/tabular"
)

// postgresSchema creates the tables PostgresStore needs. Segments cascade
// with their operation so Cleanup is a single DELETE.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS export_operations (
	id         uuid PRIMARY KEY,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS export_segments (
	operation_id uuid    NOT NULL REFERENCES export_operations(id) ON DELETE CASCADE,
	seq          integer NOT NULL,
	row_count    integer NOT NULL,
	payload      bytea   NOT NULL,
	PRIMARY KEY (operation_id, seq)
);

CREATE INDEX IF NOT EXISTS export_operations_updated_at_idx ON export_operations (updated_at);
`

var (
	_ Store[uuid.UUID] = (*PostgresStore)(nil)
	_ Sweeper          = (*PostgresStore)(nil)
)

// PostgresStore persists segments in PostgreSQL. Appends to one operation
// are serialized with a row lock on the operation, so concurrent appends from
// several service instances still keep arrival order.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a store backed by pool. Call EnsureSchema once
// before use.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the store's tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return unavailable("ensure schema", err)
	}
	return nil
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// NewOperation implements Store.
func (s *PostgresStore) NewOperation(ctx context.Context) (uuid.UUID, error) {
	id := uuid.New()
	if _, err := s.pool.Exec(ctx, `INSERT INTO export_operations (id) VALUES ($1)`, pgUUID(id)); err != nil {
		return uuid.Nil, unavailable("new operation", err)
	}
	return id, nil
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, id uuid.UUID, data *tabular.Table) error {
	if err := checkAppend(data); err != nil {
		return err
	}

	payload, err := tabular.Encode(data)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable("append: begin", err)
	}
	defer tx.Rollback(ctx)

	// Lock the operation row; concurrent appends queue here.
	var locked pgtype.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM export_operations WHERE id = $1 FOR UPDATE`, pgUUID(id),
	).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrUnknownOperation, id)
	}
	if err != nil {
		return unavailable("append: lock operation", err)
	}

	var seq int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq) + 1, 0) FROM export_segments WHERE operation_id = $1`, pgUUID(id),
	).Scan(&seq); err != nil {
		return unavailable("append: next sequence", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO export_segments (operation_id, seq, row_count, payload) VALUES ($1, $2, $3, $4)`,
		pgUUID(id), seq, data.Len(), payload,
	); err != nil {
		return unavailable("append: insert segment", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE export_operations SET updated_at = now() WHERE id = $1`, pgUUID(id),
	); err != nil {
		return unavailable("append: touch operation", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return unavailable("append: commit", err)
	}
	return nil
}

// SegmentCount implements Store.
func (s *PostgresStore) SegmentCount(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM export_segments s WHERE s.operation_id = o.id)
		FROM export_operations o
		WHERE o.id = $1`, pgUUID(id),
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownOperation, id)
	}
	if err != nil {
		return 0, unavailable("segment count", err)
	}
	return count, nil
}

// Assemble implements Store.
func (s *PostgresStore) Assemble(ctx context.Context, id uuid.UUID, skip, take int) (*tabular.Table, error) {
	if _, _, err := window(0, skip, take); err != nil {
		return nil, err
	}

	// Verifies the id and gives a consistent error for unknown operations.
	if _, err := s.SegmentCount(ctx, id); err != nil {
		return nil, err
	}

	// LIMIT NULL is LIMIT ALL.
	var limit *int
	if take > 0 {
		limit = &take
	}

	rows, err := s.pool.Query(ctx, `
		SELECT payload FROM export_segments
		WHERE operation_id = $1
		ORDER BY seq
		OFFSET $2 LIMIT $3`, pgUUID(id), skip, limit)
	if err != nil {
		return nil, unavailable("assemble: query", err)
	}

	payloads, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, unavailable("assemble: read", err)
	}

	segments := make([]*tabular.Table, len(payloads))
	for i, p := range payloads {
		t, err := tabular.Decode(p)
		if err != nil {
			return nil, fmt.Errorf("assemble %s: segment %d: %w", id, skip+i, err)
		}
		segments[i] = t
	}

	out, err := tabular.Concat(segments...)
	if err != nil {
		return nil, fmt.Errorf("assemble %s: %w", id, err)
	}
	return out, nil
}

// Cleanup implements Store.
func (s *PostgresStore) Cleanup(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM export_operations WHERE id = $1`, pgUUID(id)); err != nil {
		return unavailable("cleanup", err)
	}
	return nil
}

// Sweep implements Sweeper.
func (s *PostgresStore) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM export_operations WHERE updated_at < $1`, olderThan)
	if err != nil {
		return 0, unavailable("sweep", err)
	}
	return int(tag.RowsAffected()), nil
}
