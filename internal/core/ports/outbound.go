package ports

import (
	"context"
	"time"

	"github.com/kirillkom/mditd/internal/core/domain"
)

// DocumentConverter turns a file on disk into Markdown text.
type DocumentConverter interface {
	Supports(filename string) bool
	SupportedExtensions() []string
	Convert(ctx context.Context, path string) (string, error)
}

// OutputResolver validates client-requested output directories.
type OutputResolver interface {
	ResolveOutputDir(requested string) (domain.OutputTarget, error)
	LookupOutputDir(requested string) (domain.OutputTarget, error)
}

// FileStore owns the uploads staging area and writes into output directories.
type FileStore interface {
	// OutputName is the file name Persist starts from before collision suffixes.
	OutputName(originalFilename string) string
	// StagedName is the sanitized name Stage starts from; its extension picks the converter.
	StagedName(originalFilename string) string
	Stage(ctx context.Context, item domain.UploadItem) (domain.StagedFile, error)
	Persist(ctx context.Context, content, originalFilename string, target domain.OutputTarget) (string, error)
	Discard(staged domain.StagedFile)
	ListOutputs(target domain.OutputTarget) ([]domain.OutputFile, error)
}

// EventPublisher announces completed batches.
type EventPublisher interface {
	PublishBatchCompleted(ctx context.Context, event domain.BatchCompletedEvent) error
}

// HistoryStore appends and reads completed batches.
type HistoryStore interface {
	RecordBatch(ctx context.Context, record domain.BatchRecord) error
	ListRecent(ctx context.Context, limit int) ([]domain.BatchRecord, error)
}

// ConversionObserver receives per-file and per-batch measurements.
type ConversionObserver interface {
	StartConversion()
	FinishConversion(format string, duration time.Duration, err error)
	ObservePoolWait(wait time.Duration)
	ObserveBatch(summary *domain.BatchSummary)
}
