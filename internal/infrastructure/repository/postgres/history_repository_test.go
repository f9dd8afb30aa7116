package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/mditd/internal/core/domain"
	"github.com/kirillkom/mditd/internal/infrastructure/resilience"
)

func newRepoWithMock(t *testing.T, executor *resilience.Executor) (*HistoryRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewHistoryRepository(db, executor), mock
}

func sampleRecord() domain.BatchRecord {
	return domain.BatchRecord{
		BatchID:     "b-1",
		OutputDir:   "/srv/out",
		TotalFiles:  2,
		Successful:  1,
		Failed:      1,
		Filenames:   []string{"report.txt", "bad.xyz"},
		DurationMS:  12.5,
		CompletedAt: time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC),
	}
}

func TestEnsureSchemaTakesAdvisoryLock(t *testing.T) {
	repo, mock := newRepoWithMock(t, nil)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(schemaLockKey).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS conversion_batches").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordBatchInsertsRow(t *testing.T) {
	repo, mock := newRepoWithMock(t, nil)
	rec := sampleRecord()

	mock.ExpectExec("INSERT INTO conversion_batches").
		WithArgs(rec.BatchID, rec.OutputDir, 2, 1, 1, []byte(`["report.txt","bad.xyz"]`), 12.5, rec.CompletedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.RecordBatch(context.Background(), rec); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordBatchRetriesConnectionException(t *testing.T) {
	exec := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
	}, nil)
	repo, mock := newRepoWithMock(t, exec)

	mock.ExpectExec("INSERT INTO conversion_batches").WillReturnError(&pgconn.PgError{Code: "08006"})
	mock.ExpectExec("INSERT INTO conversion_batches").WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.RecordBatch(context.Background(), sampleRecord()); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordBatchReportsConstraintErrorsAsPermanent(t *testing.T) {
	repo, mock := newRepoWithMock(t, nil)

	mock.ExpectExec("INSERT INTO conversion_batches").WillReturnError(&pgconn.PgError{Code: "23502"})

	err := repo.RecordBatch(context.Background(), sampleRecord())
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestListRecentDecodesRows(t *testing.T) {
	repo, mock := newRepoWithMock(t, nil)
	completed := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"batch_id", "output_dir", "total_files", "successful", "failed", "filenames", "duration_ms", "completed_at",
	}).
		AddRow("b-2", "/srv/out", 1, 1, 0, []byte(`["a.pdf"]`), 4.0, completed.Add(time.Minute)).
		AddRow("b-1", "/srv/out", 2, 1, 1, []byte(`["report.txt","bad.xyz"]`), 12.5, completed)
	mock.ExpectQuery("SELECT batch_id, output_dir").WithArgs(DefaultHistoryLimit).WillReturnRows(rows)

	records, err := repo.ListRecent(context.Background(), 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 || records[0].BatchID != "b-2" || records[1].Filenames[1] != "bad.xyz" {
		t.Fatalf("unexpected records %+v", records)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListRecentWrapsQueryError(t *testing.T) {
	repo, mock := newRepoWithMock(t, nil)
	mock.ExpectQuery("SELECT batch_id").WithArgs(MaxHistoryLimit).WillReturnError(errors.New("relation missing"))

	if _, err := repo.ListRecent(context.Background(), 10_000); err == nil {
		t.Fatalf("expected error")
	}
}

func TestClampLimit(t *testing.T) {
	cases := map[int]int{-1: DefaultHistoryLimit, 0: DefaultHistoryLimit, 5: 5, MaxHistoryLimit + 1: MaxHistoryLimit}
	for in, want := range cases {
		if got := ClampLimit(in); got != want {
			t.Fatalf("ClampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestClassifyPostgresError(t *testing.T) {
	if c := classifyPostgresError(context.Canceled); c.Retryable || c.RecordFailure {
		t.Fatalf("cancellation must be neutral, got %+v", c)
	}
	if c := classifyPostgresError(&pgconn.PgError{Code: "08006"}); !c.Retryable {
		t.Fatalf("connection failure should retry, got %+v", c)
	}
	if c := classifyPostgresError(&pgconn.PgError{Code: "42P01"}); c.Retryable {
		t.Fatalf("undefined table should not retry, got %+v", c)
	}
}
