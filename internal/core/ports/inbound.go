package ports

import (
	"context"

	"github.com/kirillkom/mditd/internal/core/domain"
)

// BatchConverter is the inbound contract for multi-file upload conversion.
type BatchConverter interface {
	Process(ctx context.Context, items []domain.UploadItem, outputDir string) (*domain.BatchSummary, error)
}

// OutputBrowser lists converted documents in an output directory.
type OutputBrowser interface {
	ListOutputs(ctx context.Context, outputDir string) (domain.OutputTarget, []domain.OutputFile, error)
}

// HistoryReader is the read model for completed batches.
type HistoryReader interface {
	ListRecent(ctx context.Context, limit int) ([]domain.BatchRecord, error)
}
