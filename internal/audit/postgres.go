package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool is the subset of pgxpool.Pool the Postgres sink uses, so tests can mock it.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const createAuditTable = `
CREATE TABLE IF NOT EXISTS audit_log (
    id          BIGSERIAL PRIMARY KEY,
    recorded_at TIMESTAMPTZ NOT NULL,
    kind        TEXT NOT NULL,
    request_id  TEXT,
    data        JSONB NOT NULL
);`

const insertAuditEntry = `
INSERT INTO audit_log (recorded_at, kind, request_id, data)
VALUES ($1, $2, $3, $4);`

// PostgresSink appends entries to the audit_log table.
type PostgresSink struct {
	pool   DBPool
	logger *zap.Logger
	close  func()
}

// NewPostgresSink verifies the connection and ensures the table exists. closeFn, when
// non-nil, releases the pool on Close.
func NewPostgresSink(ctx context.Context, pool DBPool, closeFn func(), logger *zap.Logger) (*PostgresSink, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping audit database: %w", err)
	}
	if _, err := pool.Exec(ctx, createAuditTable); err != nil {
		return nil, fmt.Errorf("failed to create audit table: %w", err)
	}
	return &PostgresSink{pool: pool, logger: logger.Named("audit.postgres"), close: closeFn}, nil
}

func (s *PostgresSink) Append(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("audit: encode %s entry: %w", e.Kind, err)
	}
	var requestID any
	if e.RequestID != "" {
		requestID = e.RequestID
	}
	if _, err := s.pool.Exec(ctx, insertAuditEntry, e.Timestamp.UTC(), string(e.Kind), requestID, data); err != nil {
		s.logger.Error("Failed to insert audit entry", zap.String("kind", string(e.Kind)), zap.Error(err))
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}

func (s *PostgresSink) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}
