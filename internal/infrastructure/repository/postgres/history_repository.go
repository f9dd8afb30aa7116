package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/mditd/internal/core/domain"
	"github.com/kirillkom/mditd/internal/infrastructure/resilience"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 200

	schemaLockKey   = int64(2026101501)
	recordOperation = "postgres.record_batch"
)

// HistoryRepository is an append-only ledger of finished batches.
type HistoryRepository struct {
	db       *sql.DB
	executor *resilience.Executor
}

func NewHistoryRepository(db *sql.DB, executor *resilience.Executor) *HistoryRepository {
	return &HistoryRepository{db: db, executor: executor}
}

func (r *HistoryRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across replicas starting together.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS conversion_batches (
	batch_id TEXT PRIMARY KEY,
	output_dir TEXT NOT NULL,
	total_files INTEGER NOT NULL,
	successful INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	filenames JSONB NOT NULL DEFAULT '[]'::jsonb,
	duration_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
	completed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversion_batches_completed_at ON conversion_batches(completed_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *HistoryRepository) RecordBatch(ctx context.Context, record domain.BatchRecord) error {
	filenames := record.Filenames
	if filenames == nil {
		filenames = []string{}
	}
	namesJSON, err := json.Marshal(filenames)
	if err != nil {
		return fmt.Errorf("marshal filenames: %w", err)
	}

	call := func(callCtx context.Context) error {
		_, err := r.db.ExecContext(callCtx, `
INSERT INTO conversion_batches (
	batch_id, output_dir, total_files, successful, failed, filenames, duration_ms, completed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (batch_id) DO NOTHING
`,
			record.BatchID, record.OutputDir, record.TotalFiles, record.Successful, record.Failed,
			namesJSON, record.DurationMS, record.CompletedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
		return nil
	}

	if r.executor != nil {
		err = r.executor.Execute(ctx, recordOperation, call, classifyPostgresError)
	} else {
		err = call(ctx)
	}
	if err != nil && classifyPostgresError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, "record batch", err)
	}
	return err
}

// ListRecent returns the newest batches first. Out-of-range limits are clamped.
func (r *HistoryRepository) ListRecent(ctx context.Context, limit int) ([]domain.BatchRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT batch_id, output_dir, total_files, successful, failed, filenames, duration_ms, completed_at
FROM conversion_batches
ORDER BY completed_at DESC, batch_id
LIMIT $1
`, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	records := make([]domain.BatchRecord, 0)
	for rows.Next() {
		var rec domain.BatchRecord
		var namesRaw []byte
		if err := rows.Scan(
			&rec.BatchID, &rec.OutputDir, &rec.TotalFiles, &rec.Successful, &rec.Failed,
			&namesRaw, &rec.DurationMS, &rec.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		if err := json.Unmarshal(namesRaw, &rec.Filenames); err != nil {
			return nil, fmt.Errorf("unmarshal filenames: %w", err)
		}
		rec.CompletedAt = rec.CompletedAt.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return records, nil
}

func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}

func classifyPostgresError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case resilience.IsCancellation(err):
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	case resilience.IsCircuitOpen(err),
		errors.Is(err, driver.ErrBadConn),
		pgconn.Timeout(err),
		pgconn.SafeToRetry(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exception; everything else is a statement problem.
		retryable := len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08"
		return resilience.ErrorClassification{Retryable: retryable, RecordFailure: retryable}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
