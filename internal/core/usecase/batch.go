package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kirillkom/mditd/internal/core/domain"
	"github.com/kirillkom/mditd/internal/core/ports"
)

const defaultSideEffectTimeout = 5 * time.Second

// BatchOptions holds the limits of one upload. Workers bounds concurrent
// conversions across all requests.
type BatchOptions struct {
	MaxFiles          int
	MaxTotalSize      int64
	Workers           int
	Frontmatter       bool
	SideEffectTimeout time.Duration
}

type BatchConversionUseCase struct {
	store     ports.FileStore
	resolver  ports.OutputResolver
	converter ports.DocumentConverter
	events    ports.EventPublisher
	history   ports.HistoryStore
	observer  ports.ConversionObserver
	logger    *slog.Logger

	opts BatchOptions
	pool *semaphore.Weighted
	now  func() time.Time
}

// NewBatchConversionUseCase wires the orchestrator. events, history and observer may be nil.
func NewBatchConversionUseCase(
	store ports.FileStore,
	resolver ports.OutputResolver,
	converter ports.DocumentConverter,
	events ports.EventPublisher,
	history ports.HistoryStore,
	observer ports.ConversionObserver,
	logger *slog.Logger,
	opts BatchOptions,
) *BatchConversionUseCase {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.SideEffectTimeout <= 0 {
		opts.SideEffectTimeout = defaultSideEffectTimeout
	}
	if observer == nil {
		observer = noopObserver{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &BatchConversionUseCase{
		store:     store,
		resolver:  resolver,
		converter: converter,
		events:    events,
		history:   history,
		observer:  observer,
		logger:    logger,
		opts:      opts,
		pool:      semaphore.NewWeighted(int64(opts.Workers)),
		now:       time.Now,
	}
}

func (uc *BatchConversionUseCase) Workers() int {
	return uc.opts.Workers
}

// Process converts every item independently. Only batch-level problems are returned
// as errors; per-file problems become failed results in submission order.
func (uc *BatchConversionUseCase) Process(ctx context.Context, items []domain.UploadItem, outputDir string) (*domain.BatchSummary, error) {
	started := uc.now()
	batchID := uuid.NewString()

	if err := uc.validateBatch(items); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return domain.NewBatchSummary(batchID, "", nil, 0), nil
	}

	target, err := uc.resolver.ResolveOutputDir(outputDir)
	if err != nil {
		return nil, err
	}

	results := make([]domain.ConversionResult, len(items))
	var wg sync.WaitGroup
	for i, turn := range uc.turns(items) {
		wg.Add(1)
		go func(i int, turn unitTurn) {
			defer wg.Done()
			results[i] = uc.runUnit(ctx, batchID, items[i], target, turn)
		}(i, turn)
	}
	wg.Wait()

	summary := domain.NewBatchSummary(batchID, target.Path, results, uc.now().Sub(started))
	uc.logger.Info("batch_completed",
		"batch_id", summary.BatchID,
		"output_dir", summary.OutputDir,
		"total_files", summary.TotalFiles,
		"successful", summary.Successful,
		"failed", summary.Failed,
		"duration_ms", summary.DurationMS,
		"avg_ms_per_file", summary.DurationMS/float64(summary.TotalFiles),
		"workers", uc.opts.Workers,
	)
	uc.observer.ObserveBatch(summary)
	uc.afterBatch(ctx, summary)

	return summary, nil
}

func (uc *BatchConversionUseCase) validateBatch(items []domain.UploadItem) error {
	if uc.opts.MaxFiles > 0 && len(items) > uc.opts.MaxFiles {
		return domain.NewError(domain.ErrValidation, "validate batch",
			fmt.Sprintf("Too many files. Maximum %d files allowed", uc.opts.MaxFiles), nil)
	}
	if uc.opts.MaxTotalSize <= 0 {
		return nil
	}
	var total int64
	for _, item := range items {
		total += item.Size
	}
	if total > uc.opts.MaxTotalSize {
		return domain.NewError(domain.ErrValidation, "validate batch",
			fmt.Sprintf("Total upload size exceeds limit of %d MB", uc.opts.MaxTotalSize/(1024*1024)), nil)
	}
	return nil
}

// unitTurn orders units that would write the same output name: a unit persists
// only after the previous unit with that name has finished.
type unitTurn struct {
	prev <-chan struct{}
	done chan struct{}
}

func (uc *BatchConversionUseCase) turns(items []domain.UploadItem) []unitTurn {
	last := make(map[string]chan struct{}, len(items))
	turns := make([]unitTurn, len(items))
	for i, item := range items {
		name := uc.store.OutputName(item.Filename)
		done := make(chan struct{})
		turns[i] = unitTurn{prev: last[name], done: done}
		last[name] = done
	}
	return turns
}

func (uc *BatchConversionUseCase) runUnit(
	ctx context.Context,
	batchID string,
	item domain.UploadItem,
	target domain.OutputTarget,
	turn unitTurn,
) (result domain.ConversionResult) {
	defer close(turn.done)
	defer func() {
		if rec := recover(); rec != nil {
			uc.logger.Error("unit_panic",
				"batch_id", batchID,
				"filename", item.Filename,
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()),
			)
			result = domain.Failed(item.Filename, domain.InternalErrorMessage)
		}
	}()

	if err := ctx.Err(); err != nil {
		return uc.failure(batchID, item, "start", err)
	}

	stagedName := uc.store.StagedName(item.Filename)
	ext := strings.ToLower(filepath.Ext(stagedName))
	if !uc.converter.Supports(stagedName) {
		return uc.failure(batchID, item, "check format",
			domain.NewError(domain.ErrUnsupportedFormat, "check format", "Unsupported file format: "+ext, nil))
	}

	staged, err := uc.store.Stage(ctx, item)
	if err != nil {
		return uc.failure(batchID, item, "stage", err)
	}
	defer uc.store.Discard(staged)
	uc.logger.Debug("file_staged", "batch_id", batchID, "filename", item.Filename, "staged_as", staged.Filename, "size", staged.Size)

	content, err := uc.convert(ctx, staged, ext)
	if err != nil {
		return uc.failure(batchID, item, "convert", err)
	}

	// Conversion finished; the rest runs even if the request went away.
	persistCtx := context.WithoutCancel(ctx)
	if turn.prev != nil {
		<-turn.prev
	}

	if uc.opts.Frontmatter {
		content, err = withFrontmatter(content, frontmatter{
			Source:      item.Filename,
			Format:      strings.TrimPrefix(ext, "."),
			BatchID:     batchID,
			ConvertedAt: uc.now().UTC(),
		})
		if err != nil {
			return uc.failure(batchID, item, "frontmatter", err)
		}
	}

	outputPath, err := uc.store.Persist(persistCtx, content, item.Filename, target)
	if err != nil {
		return uc.failure(batchID, item, "persist", err)
	}
	uc.logger.Info("file_converted",
		"batch_id", batchID,
		"filename", item.Filename,
		"output_path", outputPath,
		"input_bytes", staged.Size,
		"output_bytes", len(content),
	)
	return domain.Succeeded(item.Filename, content, outputPath)
}

// convert holds a pool slot only for the conversion call itself.
func (uc *BatchConversionUseCase) convert(ctx context.Context, staged domain.StagedFile, ext string) (content string, err error) {
	waitStarted := time.Now()
	if err := uc.pool.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer uc.pool.Release(1)
	uc.observer.ObservePoolWait(time.Since(waitStarted))

	uc.observer.StartConversion()
	started := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			content = ""
			err = domain.NewError(domain.ErrConversion, "convert", "",
				fmt.Errorf("converter panic: %v\n%s", rec, debug.Stack()))
		}
		uc.observer.FinishConversion(strings.TrimPrefix(ext, "."), time.Since(started), err)
	}()

	return uc.converter.Convert(ctx, staged.Path)
}

func (uc *BatchConversionUseCase) failure(batchID string, item domain.UploadItem, step string, err error) domain.ConversionResult {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		uc.logger.Warn("file_skipped", "batch_id", batchID, "filename", item.Filename, "step", step, "error", err)
		return domain.Failed(item.Filename, "Request cancelled before the file was processed")
	}

	var classified *domain.Error
	if errors.As(err, &classified) && classified.Public != "" {
		uc.logger.Warn("file_failed", "batch_id", batchID, "filename", item.Filename, "step", step, "error", err)
		return domain.Failed(item.Filename, classified.Public)
	}

	uc.logger.Error("file_failed_unexpected", "batch_id", batchID, "filename", item.Filename, "step", step, "error", err)
	return domain.Failed(item.Filename, domain.InternalErrorMessage)
}

// afterBatch publishes and records the summary. Both are best effort.
func (uc *BatchConversionUseCase) afterBatch(ctx context.Context, summary *domain.BatchSummary) {
	if uc.events == nil && uc.history == nil {
		return
	}
	sideCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.opts.SideEffectTimeout)
	defer cancel()

	completedAt := uc.now().UTC()
	if uc.events != nil {
		if err := uc.events.PublishBatchCompleted(sideCtx, summary.Event(completedAt)); err != nil {
			uc.logger.Warn("batch_event_failed", "batch_id", summary.BatchID, "error", err)
		}
	}
	if uc.history != nil {
		if err := uc.history.RecordBatch(sideCtx, summary.Record(completedAt)); err != nil {
			uc.logger.Warn("batch_history_failed", "batch_id", summary.BatchID, "error", err)
		}
	}
}

type noopObserver struct{}

func (noopObserver) StartConversion()                              {}
func (noopObserver) FinishConversion(string, time.Duration, error) {}
func (noopObserver) ObservePoolWait(time.Duration)                 {}
func (noopObserver) ObserveBatch(*domain.BatchSummary)             {}
